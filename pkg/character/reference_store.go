package character

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ReferenceStore は正規化済みキャラクター名 → リファレンス画像の対応を保持します。
// path が空の場合はメモリ上だけで保持します。
type ReferenceStore struct {
	path string
	mu   sync.RWMutex
	refs map[string]domain.CharacterReference
}

// NewReferenceStore は path の YAML を読み込んでストアを返します。
func NewReferenceStore(path string) (*ReferenceStore, error) {
	s := &ReferenceStore{path: path, refs: make(map[string]domain.CharacterReference)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャラクターキャッシュの読み込みに失敗しました: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.refs); err != nil {
		return nil, fmt.Errorf("キャラクターキャッシュのデコードに失敗しました (%s): %w", path, err)
	}
	if s.refs == nil {
		s.refs = make(map[string]domain.CharacterReference)
	}
	return s, nil
}

// Get は正規化済みキーでリファレンスを引きます。
func (s *ReferenceStore) Get(key string) (domain.CharacterReference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[key]
	return ref, ok
}

// Put はリファレンスを保存します。同じキーの既存の対応は上書きされます。
func (s *ReferenceStore) Put(ref domain.CharacterReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref.Key] = ref
	return s.flush()
}

// All は全リファレンスのコピーを返します。
func (s *ReferenceStore) All() map[string]domain.CharacterReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.CharacterReference, len(s.refs))
	for k, v := range s.refs {
		out[k] = v
	}
	return out
}

func (s *ReferenceStore) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.refs)
	if err != nil {
		return fmt.Errorf("キャラクターキャッシュのエンコードに失敗しました: %w", err)
	}
	if err := asset.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("キャラクターキャッシュの書き込みに失敗しました: %w", err)
	}
	return nil
}
