package parser

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

const (
	fieldKeyDescription = "description"
	fieldKeyScene       = "scene"
	fieldKeyDialogue    = "dialogue"
	fieldKeyText        = "text"
	fieldKeyCharacters  = "characters"
)

// MarkdownParser は Markdown 形式のパネル計画を解析する構造体です。
//
//	# タイトル
//	## Panel 1
//	- description: 港に朝日が差し込む
//	- dialogue: おはよう
//	- characters: Captain Aurora, Rex
type MarkdownParser struct{}

// NewMarkdownParser は MarkdownParser を初期化するのだ。
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

// Parse は Markdown テキストを Plan に変換します。番号の無い "## Panel" は出現順に採番します。
func (p *MarkdownParser) Parse(input string) (*Plan, error) {
	plan := &Plan{}
	var current *domain.Panel

	flush := func() {
		if current != nil && hasContent(current) {
			plan.Panels = append(plan.Panels, *current)
		}
	}

	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := PanelRegex.FindStringSubmatch(trimmed); m != nil {
			flush()
			number := len(plan.Panels) + 1
			if m[1] != "" {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					return nil, fmt.Errorf("%w: パネル番号が不正です: %q", domain.ErrMalformedInput, trimmed)
				}
				number = n
			}
			current = &domain.Panel{Number: number}
			continue
		}

		if m := TitleRegex.FindStringSubmatch(trimmed); m != nil {
			plan.Title = strings.TrimSpace(m[1])
			continue
		}

		if current == nil {
			continue
		}
		m := FieldRegex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		key, val := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		switch key {
		case fieldKeyDescription, fieldKeyScene:
			current.Description = val
		case fieldKeyDialogue, fieldKeyText:
			current.Dialogue = val
		case fieldKeyCharacters:
			current.Characters = splitCharacters(val)
		default:
			slog.Debug("Markdown内に未知のフィールドキーが見つかりました", "key", key)
		}
	}
	flush()

	if len(plan.Panels) == 0 {
		return nil, fmt.Errorf("%w: 有効なパネル情報が見つかりませんでした", domain.ErrMalformedInput)
	}
	return plan, nil
}

func splitCharacters(val string) []string {
	var out []string
	for _, c := range strings.Split(val, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// hasContent はパネルに有効な情報が含まれているか判定します。
func hasContent(p *domain.Panel) bool {
	return p.Description != "" || p.Dialogue != "" || len(p.Characters) > 0
}
