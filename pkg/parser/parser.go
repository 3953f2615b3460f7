// Package parser はプランナーが出力したパネル計画と、生成結果のパネル対応表を読み込みます。
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Plan はプランナーが出力したパネル計画です。
type Plan struct {
	Title  string        `yaml:"title,omitempty" json:"title,omitempty"`
	Panels domain.Panels `yaml:"panels" json:"panels"`
}

// Format は計画ファイルの書式です。
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// FormatFromPath は拡張子から書式を推定します。不明な場合は YAML として扱います。
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatYAML
	}
}

// LoadPlan はファイルからパネル計画を読み込みます。
func LoadPlan(ctx context.Context, path string) (*Plan, error) {
	slog.InfoContext(ctx, "パネル計画を読み込んでいます", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("パネル計画のオープンに失敗しました (%s): %w", path, err)
	}
	defer f.Close()

	return DecodePlan(f, FormatFromPath(path))
}

// DecodePlan は r からパネル計画を解析します。
// JSON と YAML はパネルのリストそのもの、または {title, panels} の形を受け付けます。
func DecodePlan(r io.Reader, format Format) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("パネル計画の読み込みに失敗しました: %w", err)
	}

	if format == FormatMarkdown {
		return NewMarkdownParser().Parse(string(data))
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: パネル計画が空です", domain.ErrMalformedInput)
	}

	plan := &Plan{}
	unmarshal := yaml.Unmarshal
	if format == FormatJSON {
		unmarshal = json.Unmarshal
	}

	// 先頭が '[' ならリスト形式なのだ
	if trimmed[0] == '[' || (format == FormatYAML && trimmed[0] == '-') {
		err = unmarshal(trimmed, &plan.Panels)
	} else {
		err = unmarshal(trimmed, plan)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: パネル計画のパースに失敗しました: %v", domain.ErrMalformedInput, err)
	}
	if len(plan.Panels) == 0 {
		return nil, fmt.Errorf("%w: 有効なパネル情報が見つかりませんでした", domain.ErrMalformedInput)
	}
	return plan, nil
}
