// Package workflow はコミック生成ジョブの各操作 (開始・生成・状態・検証・リトライ・組み立て) を束ねます。
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shouni/go-comic-kit/pkg/assembly"
	"github.com/shouni/go-comic-kit/pkg/config"
	"github.com/shouni/go-comic-kit/pkg/controller"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/publisher"
	"github.com/shouni/go-comic-kit/pkg/validator"
)

// ManagerArgs は Manager の依存関係です。
type ManagerArgs struct {
	Config       config.Config
	Registry     Registry
	Generator    generator.ImageGenerator
	Materializer PanelMaterializer
	Characters   CharacterRenderer
	Validator    PanelValidator
	Publisher    DocumentPublisher
	Jobs         *JobStore
}

// StartOptions はジョブ開始時の入力です。
type StartOptions struct {
	Topic          string
	Title          string
	ExpectedPanels int
	Panels         domain.Panels
}

// Manager はジョブ単位の操作を提供します。
type Manager struct {
	cfg        config.Config
	registry   Registry
	gen        generator.ImageGenerator
	mat        PanelMaterializer
	characters CharacterRenderer
	validator  PanelValidator
	publisher  DocumentPublisher
	jobs       *JobStore
	gate       *assembly.Gate

	// jobMu は同一プロセス内でのジョブファイルの読み書きを直列化します。
	jobMu sync.Mutex
	now   func() time.Time
}

// New は ManagerArgs を検証して Manager を初期化します。
func New(args ManagerArgs) (*Manager, error) {
	if args.Registry == nil {
		return nil, fmt.Errorf("Registry は必須です")
	}
	if args.Generator == nil {
		return nil, fmt.Errorf("ImageGenerator は必須です")
	}
	if args.Materializer == nil {
		return nil, fmt.Errorf("Materializer は必須です")
	}
	if args.Characters == nil {
		return nil, fmt.Errorf("CharacterRenderer は必須です")
	}
	if args.Validator == nil {
		return nil, fmt.Errorf("Validator は必須です")
	}
	if args.Jobs == nil {
		return nil, fmt.Errorf("JobStore は必須です")
	}
	if args.Publisher == nil {
		args.Publisher = publisher.NewComicPublisher(nil)
	}
	if args.Config.Concurrency < 1 {
		args.Config.Concurrency = config.DefaultConcurrency
	}

	gate, err := assembly.NewGate(args.Registry, args.Config.FrontendDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:        args.Config,
		registry:   args.Registry,
		gen:        args.Generator,
		mat:        args.Materializer,
		characters: args.Characters,
		validator:  args.Validator,
		publisher:  args.Publisher,
		jobs:       args.Jobs,
		gate:       gate,
		now:        time.Now,
	}, nil
}

// StartJob はレジストリをクリアし、新しいジョブのメタデータを保存します。
// 計画が空のジョブも開始できますが、Generate と Assemble は完全な計画が揃うまで失敗します。
func (m *Manager) StartJob(ctx context.Context, opts StartOptions) (*Job, error) {
	expected := opts.ExpectedPanels
	if expected == 0 {
		expected = m.cfg.PanelCount
	}
	if expected < 1 {
		return nil, fmt.Errorf("%w: expected panel count %d", domain.ErrMalformedInput, expected)
	}
	if len(opts.Panels) > 0 {
		if err := opts.Panels.Validate(expected); err != nil {
			return nil, fmt.Errorf("パネル計画が不正です: %w", err)
		}
	}

	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	if err := m.registry.Clear(ctx); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	job := &Job{
		ID:             uuid.NewString(),
		Topic:          opts.Topic,
		Title:          opts.Title,
		ExpectedPanels: expected,
		Panels:         opts.Panels,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.jobs.Save(job); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "ジョブを開始しました", "job_id", job.ID, "topic", job.Topic, "panels", expected)
	return job, nil
}

// Job は現在のジョブを返します。
func (m *Manager) Job() (*Job, error) {
	return m.jobs.Load()
}

// GetStatus はレジストリを読むだけの状態スナップショットを返します。
func (m *Manager) GetStatus(ctx context.Context) (controller.Status, error) {
	ctrl, _, err := m.controller()
	if err != nil {
		return controller.Status{}, err
	}
	return ctrl.Status(ctx)
}

// Validate はパネル対応表を検証します。panelMap が nil の場合はレジストリに記録されたファイル名で検証します。
func (m *Manager) Validate(ctx context.Context, panelMap domain.PanelMap) (*validator.Report, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return nil, err
	}
	if panelMap == nil {
		panelMap, err = m.RegistryPanelMap(ctx, job.ExpectedPanels)
		if err != nil {
			return nil, err
		}
	}
	return m.validator.Validate(ctx, panelMap, job.ExpectedPanels)
}

// RegistryPanelMap はレジストリに記録済みのファイル名から対応表を作ります。
func (m *Manager) RegistryPanelMap(ctx context.Context, expected int) (domain.PanelMap, error) {
	entries, err := m.registry.Snapshot(ctx, expected)
	if err != nil {
		return nil, err
	}
	out := make(domain.PanelMap, len(entries))
	for _, e := range entries {
		if e.Record.HasFilename() {
			out[domain.PanelKey(e.PanelID)] = domain.One(e.Record.Filename)
		}
	}
	return out, nil
}

// RetryFailed はレジストリを考慮してリトライを判定し、RETRY の場合は対象パネルだけを再生成します。
// failed が nil の場合はレジストリ上の未検証パネルを対象にします。
// リトライ上限に達した場合は RetryBudgetExhausted を返します。
func (m *Manager) RetryFailed(ctx context.Context, failed []int) (*RetryResult, error) {
	ctrl, job, err := m.controller()
	if err != nil {
		return nil, err
	}

	ev, err := ctrl.Evaluate(ctx, failed, job.Attempt)
	res := &RetryResult{Evaluation: ev}
	if err != nil {
		slog.ErrorContext(ctx, "リトライ上限に達しました。手動での対応が必要です", "failed", ev.Failed, "attempt", ev.Attempt)
		return res, err
	}
	if ev.Decision != controller.DecisionRetry {
		return res, nil
	}

	if err := m.updateJob(func(j *Job) { j.Attempt++ }); err != nil {
		return res, err
	}
	gen, err := m.Generate(ctx, ev.Failed)
	res.Generation = gen
	return res, err
}

// Assemble は全パネルが検証済みの場合に限り文書を組み立てて書き出します。
func (m *Manager) Assemble(ctx context.Context) (*AssembleResult, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return nil, err
	}
	if err := job.requirePlan(); err != nil {
		return nil, err
	}
	doc, err := m.gate.Assemble(ctx, job.Title, job.Panels, job.ExpectedPanels)
	if err != nil {
		return nil, err
	}
	published, err := m.publisher.Publish(ctx, doc, publisher.Options{OutputDir: m.cfg.OutputDir, FileName: m.cfg.OutputFile})
	if err != nil {
		return nil, err
	}
	return &AssembleResult{Document: doc, Published: published}, nil
}

// Run は生成・検証・リトライ・組み立てを COMPLETE か STOP まで自動で進めます。
func (m *Manager) Run(ctx context.Context) (*RunResult, error) {
	rr := &RunResult{}

	initial, err := m.Generate(ctx, nil)
	rr.Initial = initial
	if err != nil {
		return rr, err
	}

	for {
		report, err := m.Validate(ctx, nil)
		if err != nil {
			return rr, err
		}
		rr.Reports = append(rr.Reports, report)
		if report.Passed() {
			break
		}

		retry, err := m.RetryFailed(ctx, report.Failed())
		rr.Retries = append(rr.Retries, retry)
		if err != nil {
			return rr, err
		}
		if retry.Evaluation.Decision == controller.DecisionComplete {
			break
		}
	}

	asm, err := m.Assemble(ctx)
	rr.Assembly = asm
	return rr, err
}

// CreateReference はキャラクターのリファレンス画像を作成します。
func (m *Manager) CreateReference(ctx context.Context, name, description, existingImage string) (string, error) {
	return m.characters.CreateReference(ctx, name, description, existingImage)
}

// GetReference はキャラクターのリファレンス画像を探します。
func (m *Manager) GetReference(name string) (string, bool) {
	return m.characters.GetReference(name)
}

// GenerateScene は単一キャラクターのシーンを 1 枚生成します。
func (m *Manager) GenerateScene(ctx context.Context, name, scene string, panelID int) (string, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return "", err
	}
	if err := domain.CheckRange(panelID, job.ExpectedPanels); err != nil {
		return "", err
	}
	return m.characters.GenerateScene(ctx, name, scene, panelID)
}

// RefinePanel は既存のパネル画像を指示どおりに手直しし、そのパネルの画像として配置し直します。
func (m *Manager) RefinePanel(ctx context.Context, panelID int, baseImage, instruction string) (string, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return "", err
	}
	if err := domain.CheckRange(panelID, job.ExpectedPanels); err != nil {
		return "", err
	}
	return m.characters.RefinePanel(ctx, panelID, baseImage, instruction)
}

func (m *Manager) controller() (*controller.Controller, *Job, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := controller.New(m.registry, job.ExpectedPanels, m.cfg.MaxRetries)
	if err != nil {
		return nil, nil, err
	}
	return ctrl, job, nil
}

func (m *Manager) updateJob(fn func(*Job)) error {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	job, err := m.jobs.Load()
	if err != nil {
		return err
	}
	fn(job)
	job.UpdatedAt = m.now().UTC()
	return m.jobs.Save(job)
}
