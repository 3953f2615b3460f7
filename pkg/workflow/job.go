package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ErrNoJob はジョブが開始されていないことを表します。
var ErrNoJob = errors.New("no active job; run start first")

// Job は 1 回のコミック生成のメタデータです。
type Job struct {
	ID             string        `yaml:"id"`
	Topic          string        `yaml:"topic"`
	Title          string        `yaml:"title,omitempty"`
	ExpectedPanels int           `yaml:"expected_panels"`
	Panels         domain.Panels `yaml:"panels"`
	// Attempt は実行済みのリトライパスの数です。最初の生成は 0 として数えます。
	Attempt   int        `yaml:"attempt"`
	CreatedAt time.Time  `yaml:"created_at"`
	UpdatedAt time.Time  `yaml:"updated_at"`
	Log       []LogEntry `yaml:"log,omitempty"`
}

// requirePlan は生成と組み立ての前に、計画が期待パネル数ぶん揃っていることを確認します。
func (j *Job) requirePlan() error {
	if len(j.Panels) == 0 {
		return fmt.Errorf("%w: job %s has no panel plan", domain.ErrPanelOutOfRange, j.ID)
	}
	if err := j.Panels.Validate(j.ExpectedPanels); err != nil {
		return fmt.Errorf("パネル計画が不完全です: %w", err)
	}
	return nil
}

// LogEntry は生成ログの 1 行です。
type LogEntry struct {
	Attempt   int       `yaml:"attempt"`
	PanelID   int       `yaml:"panel_id"`
	Outcome   string    `yaml:"outcome"`
	Filename  string    `yaml:"filename,omitempty"`
	ErrorKind string    `yaml:"error_kind,omitempty"`
	Error     string    `yaml:"error,omitempty"`
	At        time.Time `yaml:"at"`
}

// JobStore はジョブのメタデータを YAML ファイルに保存します。
type JobStore struct {
	path string
	mu   sync.Mutex
}

// NewJobStore は path に保存する JobStore を返します。
func NewJobStore(path string) (*JobStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ジョブファイルのパスは必須です")
	}
	return &JobStore{path: path}, nil
}

// Load は現在のジョブを読み込みます。ファイルが無い場合は ErrNoJob です。
func (s *JobStore) Load() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブファイルの読み込みに失敗しました: %w", err)
	}
	job := &Job{}
	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("ジョブファイルのデコードに失敗しました (%s): %w", s.path, err)
	}
	if job.ID == "" {
		return nil, ErrNoJob
	}
	return job, nil
}

// Save はジョブを一時ファイル経由で保存します。
func (s *JobStore) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(job)
	if err != nil {
		return fmt.Errorf("ジョブのエンコードに失敗しました: %w", err)
	}
	if err := asset.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("ジョブファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}
