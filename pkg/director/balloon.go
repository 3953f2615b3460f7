// Package director は組み立てた文書の吹き出しの配置とスタイルを決めます。
// 描画そのものは下流のレンダラーの仕事です。
package director

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// 吹き出しの種類です。
const (
	KindNormal  = "normal"
	KindShout   = "shout"
	KindThought = "thought"
	// KindNarration は話者のいないナレーションです。
	KindNarration = "narration"
)

// DefaultMargin はパネル端からの既定の余白です。
const DefaultMargin = "10%"

var metaTagRegex = regexp.MustCompile(`\[(shout|thought)\]\s*`)

// Balloon は 1 コマ分の吹き出し情報です。
type Balloon struct {
	SpeakerID string            `json:"speaker_id"`
	Kind      string            `json:"kind"`
	Text      string            `json:"text"`
	Position  map[string]string `json:"position"`
}

// Director は吹き出しの配置ルールを持ちます。
type Director struct {
	margin string
}

// New は Director を初期化します。margin が空の場合は DefaultMargin を使います。
func New(margin string) *Director {
	if margin == "" {
		margin = DefaultMargin
	}
	return &Director{margin: margin}
}

// Balloon はパネルのセリフから吹き出しを作ります。セリフが無い場合は nil です。
func (d *Director) Balloon(p domain.Panel) *Balloon {
	if strings.TrimSpace(p.Dialogue) == "" {
		return nil
	}
	speaker := ""
	if len(p.Characters) > 0 {
		speaker = p.Characters[0]
	}
	kind := DialogueKind(p.Dialogue)
	if speaker == "" && kind == KindNormal {
		kind = KindNarration
	}
	return &Balloon{
		SpeakerID: SpeakerID(speaker),
		Kind:      kind,
		Text:      strings.TrimSpace(metaTagRegex.ReplaceAllString(p.Dialogue, "")),
		Position:  d.Position(p.Number),
	}
}

// Position はコマ番号から、右から左へ流れるように交互の配置属性を返します。
func (d *Director) Position(panelNumber int) map[string]string {
	// 1 始まりなので奇数コマが右上からの対角配置なのだ
	if panelNumber%2 == 1 {
		return map[string]string{"tail": "top", "bottom": d.margin, "left": d.margin}
	}
	return map[string]string{"tail": "bottom", "top": d.margin, "right": d.margin}
}

// SpeakerID は話者名から CSS 安全なハッシュ ID を生成します。
// 表記ゆれのある名前は同じ ID になります。
func SpeakerID(name string) string {
	key := domain.NormalizeCharacterName(name)
	if key == "" {
		return "speaker-narration"
	}
	sum := sha256.Sum256([]byte(key))
	return "speaker-" + hex.EncodeToString(sum[:])[:10]
}

// DialogueKind はセリフに含まれるメタタグから吹き出しの種類を判定します。
func DialogueKind(text string) string {
	switch {
	case strings.Contains(text, "[shout]"):
		return KindShout
	case strings.Contains(text, "[thought]"):
		return KindThought
	default:
		return KindNormal
	}
}
