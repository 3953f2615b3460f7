// Package assembly は全パネルが検証済みのときに限り、パネル計画と画像を順序付きの文書にまとめます。
package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/director"
	"github.com/shouni/go-comic-kit/pkg/domain"
)

// RegistryReader は Gate が使う読み取り専用のレジストリ操作です。
type RegistryReader interface {
	GetStatus(ctx context.Context, panelID int) (domain.PanelRecord, error)
	ListUnverified(ctx context.Context, expected int) ([]int, error)
}

// BlockedError は未検証パネルがあるため組み立てを拒否したことを表します。
type BlockedError struct {
	Panels []int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%v: panels %v are not verified", domain.ErrAssemblyBlocked, e.Panels)
}

func (e *BlockedError) Unwrap() error {
	return domain.ErrAssemblyBlocked
}

// Entry は文書内の 1 コマです。
type Entry struct {
	PanelNumber int      `json:"panel_number"`
	Description string   `json:"description"`
	Dialogue    string   `json:"dialogue"`
	Characters  []string `json:"characters,omitempty"`
	ImagePath   string   `json:"image_path"`

	// Balloon はセリフがある場合の吹き出し情報です。
	Balloon *director.Balloon `json:"balloon,omitempty"`
}

// Document は下流のレンダラーに渡す順序付きの構造です。
type Document struct {
	Title   string  `json:"title,omitempty"`
	Entries []Entry `json:"entries"`
}

// Gate は組み立てゲートです。
type Gate struct {
	registry RegistryReader
	// imageRoot は ImagePath の基点となるシンクのルートです。空の場合はファイル名のみを使います。
	imageRoot string
	director  *director.Director
}

// NewGate は Gate を初期化します。imageRoot には通常フロントエンドのシンクを渡します。
func NewGate(reg RegistryReader, imageRoot string) (*Gate, error) {
	if reg == nil {
		return nil, fmt.Errorf("RegistryReader は必須です")
	}
	return &Gate{registry: reg, imageRoot: imageRoot, director: director.New("")}, nil
}

// Assemble は fail-closed で文書を組み立てます。
// 計画に欠番・範囲外・重複があれば PanelOutOfRange、未検証パネルがあれば BlockedError を返します。
func (g *Gate) Assemble(ctx context.Context, title string, panels domain.Panels, expected int) (*Document, error) {
	if err := panels.Validate(expected); err != nil {
		return nil, err
	}

	unverified, err := g.registry.ListUnverified(ctx, expected)
	if err != nil {
		return nil, err
	}
	if len(unverified) > 0 {
		slog.WarnContext(ctx, "未検証のパネルがあるため組み立てを中止します", "blocking", unverified)
		return nil, &BlockedError{Panels: unverified}
	}

	byNumber := panels.ByNumber()
	doc := &Document{Title: title, Entries: make([]Entry, 0, expected)}
	for _, id := range domain.PanelIDs(expected) {
		rec, err := g.registry.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		// ListUnverified と GetStatus の間に降格された場合も閉じる側に倒すのだ
		if !rec.Verified || !rec.HasFilename() {
			return nil, &BlockedError{Panels: []int{id}}
		}
		p := byNumber[id]
		doc.Entries = append(doc.Entries, Entry{
			PanelNumber: id,
			Description: p.Description,
			Dialogue:    p.Dialogue,
			Characters:  p.Characters,
			ImagePath:   g.imagePath(rec.Filename),
			Balloon:     g.director.Balloon(p),
		})
	}

	slog.InfoContext(ctx, "コミックを組み立てました", "panels", len(doc.Entries))
	return doc, nil
}

func (g *Gate) imagePath(filename string) string {
	if g.imageRoot == "" {
		return filename
	}
	return filepath.Join(asset.Dir(g.imageRoot, asset.KindPanel), filepath.Base(filename))
}
