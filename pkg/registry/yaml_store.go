package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// lockRetryDelay はファイルロックの取得を再試行する間隔です。
const lockRetryDelay = 10 * time.Millisecond

// YAMLStore は panel_registry.yaml のような単一の YAML 文書に全レコードを保存します。
// 書き込みは一時ファイルと rename で行うため、読み手が書きかけの文書を見ることはありません。
// Modify と Reset は同一プロセス内ではミューテックス、プロセス間では <path>.lock の
// ファイルロックで直列化されます。
type YAMLStore struct {
	path string
	mu   sync.RWMutex
	lock *flock.Flock
}

// NewYAMLStore は path のファイルを使う Store を返します。ファイルがなければ空の文書を作成します。
func NewYAMLStore(path string) (*YAMLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("レジストリディレクトリの作成に失敗しました: %w", err)
	}
	s := &YAMLStore{path: path, lock: flock.New(path + ".lock")}

	unlock, err := s.acquire(context.Background())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string]domain.PanelRecord{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("レジストリファイルを確認できませんでした: %w", err)
	}
	return s, nil
}

// acquire はプロセス間のファイルロックを取ります。呼び出し側は s.mu を保持していなければなりません。
func (s *YAMLStore) acquire(ctx context.Context) (func(), error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("レジストリのロック取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("レジストリのロックを取得できませんでした: %s", s.lock.Path())
	}
	return func() { _ = s.lock.Unlock() }, nil
}

// Path はレジストリファイルのパスを返します。
func (s *YAMLStore) Path() string {
	return s.path
}

func (s *YAMLStore) Load(_ context.Context) (map[string]domain.PanelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

func (s *YAMLStore) Get(_ context.Context, key string) (domain.PanelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, err := s.read()
	if err != nil {
		return domain.PanelRecord{}, false, err
	}
	rec, ok := records[key]
	return rec, ok, nil
}

func (s *YAMLStore) Modify(ctx context.Context, key string, fn ModifyFunc) (domain.PanelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.acquire(ctx)
	if err != nil {
		return domain.PanelRecord{}, err
	}
	defer unlock()

	records, err := s.read()
	if err != nil {
		return domain.PanelRecord{}, err
	}
	cur, ok := records[key]
	next, write := fn(cur, ok)
	if !write {
		return cur, nil
	}
	records[key] = next
	if err := s.write(records); err != nil {
		return domain.PanelRecord{}, err
	}
	return next, nil
}

func (s *YAMLStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(map[string]domain.PanelRecord{})
}

func (s *YAMLStore) Close() error {
	return s.lock.Close()
}

// read はファイルが消えていた場合も空のレジストリとして扱います。
func (s *YAMLStore) read() (map[string]domain.PanelRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.PanelRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レジストリファイルの読み込みに失敗しました: %w", err)
	}

	records := map[string]domain.PanelRecord{}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("レジストリファイルのデコードに失敗しました (%s): %w", s.path, err)
	}
	if records == nil {
		records = map[string]domain.PanelRecord{}
	}
	return records, nil
}

func (s *YAMLStore) write(records map[string]domain.PanelRecord) error {
	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("レジストリのエンコードに失敗しました: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("レジストリディレクトリの作成に失敗しました: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("レジストリの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("レジストリの fsync に失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("レジストリの置き換えに失敗しました: %w", err)
	}
	return nil
}
