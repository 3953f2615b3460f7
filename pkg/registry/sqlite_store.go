package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shouni/go-comic-kit/pkg/domain"

	_ "modernc.org/sqlite" // Enable sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS panel_records (
	panel_key       TEXT PRIMARY KEY,
	filename        TEXT    NOT NULL DEFAULT '',
	backend_synced  INTEGER NOT NULL DEFAULT 0,
	frontend_synced INTEGER NOT NULL DEFAULT 0,
	verified        INTEGER NOT NULL DEFAULT 0,
	updated_at      TEXT    NOT NULL DEFAULT ''
)`

type recordRow struct {
	Key string `db:"panel_key"`
	domain.PanelRecord
}

// SQLiteStore は SQLite の 1 テーブルにレコードを保存する Store です。
// 別プロセスから同時に更新されても、IMMEDIATE トランザクションで read-modify-write が直列化されます。
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore は path のデータベースを開き、スキーマを用意します。
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("レジストリDBの接続に失敗しました: %w", err)
	}

	// 書き込みは 1 接続に絞るのだ
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("レジストリDBのスキーマ作成に失敗しました: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]domain.PanelRecord, error) {
	var rows []recordRow
	stmt := `SELECT panel_key, filename, backend_synced, frontend_synced, verified FROM panel_records`
	if err := s.db.SelectContext(ctx, &rows, stmt); err != nil {
		return nil, fmt.Errorf("レコードの読み込みに失敗しました: %w", err)
	}

	records := make(map[string]domain.PanelRecord, len(rows))
	for _, r := range rows {
		records[r.Key] = r.PanelRecord
	}
	return records, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (domain.PanelRecord, bool, error) {
	var row recordRow
	stmt := `SELECT panel_key, filename, backend_synced, frontend_synced, verified FROM panel_records WHERE panel_key = ?`
	if err := s.db.GetContext(ctx, &row, stmt, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PanelRecord{}, false, nil
		}
		return domain.PanelRecord{}, false, fmt.Errorf("レコード %s の読み込みに失敗しました: %w", key, err)
	}
	return row.PanelRecord, true, nil
}

func (s *SQLiteStore) Modify(ctx context.Context, key string, fn ModifyFunc) (rec domain.PanelRecord, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.PanelRecord{}, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row recordRow
	exists := true
	stmt := `SELECT panel_key, filename, backend_synced, frontend_synced, verified FROM panel_records WHERE panel_key = ?`
	if err = tx.GetContext(ctx, &row, stmt, key); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.PanelRecord{}, fmt.Errorf("レコード %s の読み込みに失敗しました: %w", key, err)
		}
		exists = false
		err = nil
	}

	next, write := fn(row.PanelRecord, exists)
	if !write {
		if err = tx.Commit(); err != nil {
			return domain.PanelRecord{}, fmt.Errorf("コミットに失敗しました: %w", err)
		}
		return row.PanelRecord, nil
	}

	upsert := `
INSERT INTO panel_records (panel_key, filename, backend_synced, frontend_synced, verified, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(panel_key) DO UPDATE SET
	filename = excluded.filename,
	backend_synced = excluded.backend_synced,
	frontend_synced = excluded.frontend_synced,
	verified = excluded.verified,
	updated_at = excluded.updated_at`
	if _, err = tx.ExecContext(ctx, upsert,
		key, next.Filename, next.BackendSynced, next.FrontendSynced, next.Verified,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return domain.PanelRecord{}, fmt.Errorf("レコード %s の書き込みに失敗しました: %w", key, err)
	}
	if err = tx.Commit(); err != nil {
		return domain.PanelRecord{}, fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM panel_records`); err != nil {
		return fmt.Errorf("レコードの削除に失敗しました: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
