// Package registry はパネルごとの同期状態を永続化するレジストリです。
// 生成・検証・リトライ判定はすべてこのレジストリを唯一の正として協調します。
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// Store はレジストリの永続化層です。同一キーの Modify は原子的に実行されなければなりません。
type Store interface {
	// Load は全レコードを読み込みます。
	Load(ctx context.Context) (map[string]domain.PanelRecord, error)
	// Get は 1 件を読み込みます。存在しない場合は ok=false です。
	Get(ctx context.Context, key string) (rec domain.PanelRecord, ok bool, err error)
	// Modify は読み取り・変更・書き込みを原子的に行います。fn が write=false を返した場合は書き込みません。
	Modify(ctx context.Context, key string, fn ModifyFunc) (domain.PanelRecord, error)
	// Reset は全レコードを削除し、空の状態を即座に永続化します。
	Reset(ctx context.Context) error
	Close() error
}

// ModifyFunc は現在値から次の値を計算します。
type ModifyFunc func(cur domain.PanelRecord, exists bool) (next domain.PanelRecord, write bool)

// Entry はスナップショット内の 1 パネル分です。
type Entry struct {
	PanelID int
	Record  domain.PanelRecord
	Present bool
}

// Registry は Store の上に verified の整合性と降格ポリシーを載せたサービスです。
type Registry struct {
	store Store
}

// New は Store を使う Registry を返します。
func New(store Store) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("Store は必須です")
	}
	return &Registry{store: store}, nil
}

// Clear は全レコードを削除します。ジョブ開始時に 1 回だけ呼びます。
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.store.Reset(ctx); err != nil {
		return fmt.Errorf("レジストリのクリアに失敗しました: %w", err)
	}
	slog.InfoContext(ctx, "パネルレジストリをクリアしました")
	return nil
}

// GetStatus はパネルのレコードを返します。未登録のパネルはゼロ値 (未同期・未検証) です。
func (r *Registry) GetStatus(ctx context.Context, panelID int) (domain.PanelRecord, error) {
	rec, _, err := r.store.Get(ctx, domain.PanelKey(panelID))
	if err != nil {
		return domain.PanelRecord{}, fmt.Errorf("panel %d の状態取得に失敗しました: %w", panelID, err)
	}
	return rec, nil
}

// Update は部分更新を原子的に適用し、適用後のレコードを返します。
// 同期フラグが指定されると verified は両フラグから再計算されます。
// 検証済みのレコードを未検証にする更新は Force が指定されない限り破棄されます。
func (r *Registry) Update(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error) {
	if panelID < 1 {
		return domain.PanelRecord{}, fmt.Errorf("%w: panel %d", domain.ErrPanelOutOfRange, panelID)
	}

	retained := false
	rec, err := r.store.Modify(ctx, domain.PanelKey(panelID), func(cur domain.PanelRecord, _ bool) (domain.PanelRecord, bool) {
		next := u.Apply(cur)
		if cur.Verified && !next.Verified && !u.Force {
			retained = true
			return cur, false
		}
		return next, true
	})
	if err != nil {
		return domain.PanelRecord{}, fmt.Errorf("panel %d の更新に失敗しました: %w", panelID, err)
	}

	if retained {
		slog.DebugContext(ctx, "検証済みパネルの降格を無視しました", "panel", panelID, "filename", rec.Filename)
	}
	return rec, nil
}

// ListUnverified は 1..expected のうち未登録または未検証のパネル番号を昇順で返します。
func (r *Registry) ListUnverified(ctx context.Context, expected int) ([]int, error) {
	records, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("レジストリの読み込みに失敗しました: %w", err)
	}

	var ids []int
	for _, id := range domain.PanelIDs(expected) {
		if rec, ok := records[domain.PanelKey(id)]; !ok || !rec.Verified {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Snapshot は 1..expected の全パネルを欠かさず列挙します。読み取り専用です。
func (r *Registry) Snapshot(ctx context.Context, expected int) ([]Entry, error) {
	records, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("レジストリの読み込みに失敗しました: %w", err)
	}

	entries := make([]Entry, 0, expected)
	for _, id := range domain.PanelIDs(expected) {
		rec, ok := records[domain.PanelKey(id)]
		entries = append(entries, Entry{PanelID: id, Record: rec, Present: ok})
	}
	return entries, nil
}

// Close は Store を閉じます。
func (r *Registry) Close() error {
	return r.store.Close()
}
