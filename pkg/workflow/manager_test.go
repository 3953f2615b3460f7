package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shouni/go-comic-kit/pkg/assembly"
	"github.com/shouni/go-comic-kit/pkg/character"
	"github.com/shouni/go-comic-kit/pkg/config"
	"github.com/shouni/go-comic-kit/pkg/controller"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/registry"
	"github.com/shouni/go-comic-kit/pkg/retry"
	"github.com/shouni/go-comic-kit/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator は fail が true を返したリクエストを失敗させ、それ以外は画像を書き出すのだ。
type scriptedGenerator struct {
	mu    sync.Mutex
	dir   string
	calls int
	fail  func(req generator.Request, call int) error
}

func (g *scriptedGenerator) Generate(_ context.Context, req generator.Request) (generator.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail != nil {
		if err := g.fail(req, g.calls); err != nil {
			return generator.Result{}, err
		}
	}
	name := fmt.Sprintf("server_generated_%03d.png", g.calls)
	if err := os.WriteFile(filepath.Join(g.dir, name), []byte("png"), 0o644); err != nil {
		return generator.Result{}, err
	}
	return generator.Result{Status: generator.StatusSuccess, ImagePath: name}, nil
}

type harness struct {
	cfg      config.Config
	gen      *scriptedGenerator
	registry *registry.Registry
	manager  *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SourceDir = filepath.Join(root, "generated")
	cfg.BackendDir = filepath.Join(root, "backend")
	cfg.FrontendDir = filepath.Join(root, "frontend")
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.JobPath = filepath.Join(root, "job.yaml")
	require.NoError(t, os.MkdirAll(cfg.SourceDir, 0o755))
	require.NoError(t, cfg.EnsureSinks())

	reg, err := registry.New(registry.NewMemoryStore())
	require.NoError(t, err)
	mat, err := materializer.New(materializer.Options{SourceDir: cfg.SourceDir, Sinks: cfg.Sinks(), Poll: retry.Constant(1, 0)}, reg)
	require.NoError(t, err)
	gen := &scriptedGenerator{dir: cfg.SourceDir}
	refs, err := character.NewReferenceStore("")
	require.NoError(t, err)
	chars, err := character.New(character.Options{}, gen, mat, refs, reg)
	require.NoError(t, err)
	val, err := validator.New(validator.Options{Sinks: cfg.Sinks()}, reg)
	require.NoError(t, err)
	jobs, err := NewJobStore(cfg.JobPath)
	require.NoError(t, err)

	m, err := New(ManagerArgs{
		Config:       cfg,
		Registry:     reg,
		Generator:    gen,
		Materializer: mat,
		Characters:   chars,
		Validator:    val,
		Jobs:         jobs,
	})
	require.NoError(t, err)
	return &harness{cfg: cfg, gen: gen, registry: reg, manager: m}
}

func threePanelPlan() domain.Panels {
	return domain.Panels{
		{Number: 1, Description: "a quiet harbor at dawn", Dialogue: "Morning."},
		{Number: 2, Description: "the captain checks the sky", Characters: []string{"Captain Aurora"}},
		{Number: 3, Description: "captain and robot argue", Dialogue: "We go now!", Characters: []string{"Captain Aurora", "Rex"}},
	}
}

func (h *harness) start(t *testing.T) *Job {
	t.Helper()
	job, err := h.manager.StartJob(context.Background(), StartOptions{Topic: "voyage", Title: "Voyage", ExpectedPanels: 3, Panels: threePanelPlan()})
	require.NoError(t, err)
	return job
}

func TestStartJob(t *testing.T) {
	ctx := context.Background()

	t.Run("レジストリをクリアしてジョブを保存すること", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.registry.Update(ctx, 1, domain.SyncUpdate("old.png", true, true))
		require.NoError(t, err)

		job := h.start(t)
		assert.NotEmpty(t, job.ID)

		rec, err := h.registry.GetStatus(ctx, 1)
		require.NoError(t, err)
		assert.False(t, rec.Verified)

		loaded, err := h.manager.Job()
		require.NoError(t, err)
		assert.Equal(t, job.ID, loaded.ID)
		assert.Len(t, loaded.Panels, 3)
	})

	t.Run("計画に欠番があればPanelOutOfRangeになること", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.StartJob(ctx, StartOptions{ExpectedPanels: 3, Panels: domain.Panels{{Number: 1}, {Number: 2}}})
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
	})

	t.Run("空の計画でも開始でき、生成と組み立ては拒否されること", func(t *testing.T) {
		h := newHarness(t)
		job, err := h.manager.StartJob(ctx, StartOptions{Topic: "draft", ExpectedPanels: 3})
		require.NoError(t, err)
		assert.Empty(t, job.Panels)

		_, err = h.manager.Generate(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
		_, err = h.manager.Assemble(ctx)
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
		assert.Zero(t, h.gen.calls)
	})

	t.Run("ジョブ開始前の操作はErrNoJobになること", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.Generate(ctx, nil)
		assert.ErrorIs(t, err, ErrNoJob)
		_, err = h.manager.GetStatus(ctx)
		assert.ErrorIs(t, err, ErrNoJob)
	})
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("キャラクター数に応じた経路で全パネルを生成すること", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)

		res, err := h.manager.Generate(ctx, nil)
		require.NoError(t, err)
		require.Len(t, res.Panels, 3)
		assert.Empty(t, res.Failed())
		assert.True(t, strings.HasPrefix(res.Panels[0].Filename, "server_generated_"))
		assert.Equal(t, "consistent_panel_002_captain_aurora.png", res.Panels[1].Filename)
		assert.True(t, strings.HasPrefix(res.Panels[2].Filename, "multi_char_panel_003_captain_aurora_rex_"))

		unverified, err := h.registry.ListUnverified(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, unverified)

		job, err := h.manager.Job()
		require.NoError(t, err)
		assert.Len(t, job.Log, 3)
	})

	t.Run("パネル単位の失敗はジョブを止めずに記録されること", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		h.gen.fail = func(req generator.Request, _ int) error {
			if strings.HasPrefix(req.Prompt, "Comic panel 1:") {
				return fmt.Errorf("%w: upstream 503", domain.ErrServer)
			}
			return nil
		}

		res, err := h.manager.Generate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, res.Failed())
		assert.Equal(t, "ServerError", res.Panels[0].ErrorKind)
		assert.Equal(t, domain.One("FAILED: ServerError"), res.PanelMap()["panel_1"])
	})

	t.Run("範囲外のパネル指定はPanelOutOfRangeになること", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		_, err := h.manager.Generate(ctx, []int{4})
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
	})
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("検証済みを除いたパネルだけを再生成すること", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		_, err := h.registry.Update(ctx, 1, domain.SyncUpdate("x.png", true, true))
		require.NoError(t, err)

		res, err := h.manager.RetryFailed(ctx, []int{1, 2})
		require.NoError(t, err)
		assert.Equal(t, controller.DecisionRetry, res.Evaluation.Decision)
		assert.Equal(t, []int{1}, res.Evaluation.AlreadyVerified)
		require.NotNil(t, res.Generation)
		require.Len(t, res.Generation.Panels, 1)
		assert.Equal(t, 2, res.Generation.Panels[0].PanelID)

		job, err := h.manager.Job()
		require.NoError(t, err)
		assert.Equal(t, 1, job.Attempt)
	})

	t.Run("全て検証済みならCOMPLETEで生成しないこと", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		for _, id := range []int{1, 2, 3} {
			_, err := h.registry.Update(ctx, id, domain.SyncUpdate("x.png", true, true))
			require.NoError(t, err)
		}
		res, err := h.manager.RetryFailed(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, controller.DecisionComplete, res.Evaluation.Decision)
		assert.Nil(t, res.Generation)
		assert.Equal(t, 0, h.gen.calls)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("一時的な失敗はリトライで回復して組み立てまで進むこと", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		failedOnce := false
		h.gen.fail = func(req generator.Request, _ int) error {
			if strings.HasPrefix(req.Prompt, "Comic panel 1:") && !failedOnce {
				failedOnce = true
				return fmt.Errorf("%w: deadline", domain.ErrTimeout)
			}
			return nil
		}

		rr, err := h.manager.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, rr.Initial.Failed())
		require.Len(t, rr.Retries, 1)
		require.Len(t, rr.Reports, 2)
		assert.False(t, rr.Reports[0].Passed())
		assert.True(t, rr.Reports[1].Passed())

		require.NotNil(t, rr.Assembly)
		assert.Len(t, rr.Assembly.Document.Entries, 3)
		assert.FileExists(t, filepath.Join(h.cfg.OutputDir, config.DefaultOutputFile))
		assert.Equal(t, "We go now!", rr.Assembly.Document.Entries[2].Dialogue)
	})

	t.Run("失敗し続けるとリトライ上限で停止し組み立ては拒否されること", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)
		h.gen.fail = func(req generator.Request, _ int) error {
			if strings.HasPrefix(req.Prompt, "Comic panel 1:") {
				return fmt.Errorf("%w: refused", domain.ErrConnection)
			}
			return nil
		}

		rr, err := h.manager.Run(ctx)
		require.ErrorIs(t, err, domain.ErrRetryBudgetExhausted)
		assert.Nil(t, rr.Assembly)
		assert.Len(t, rr.Retries, h.cfg.MaxRetries+1)
		last := rr.Retries[len(rr.Retries)-1]
		assert.Equal(t, controller.DecisionStop, last.Evaluation.Decision)
		assert.Equal(t, []int{1}, last.Evaluation.Failed)

		_, err = h.manager.Assemble(ctx)
		var be *assembly.BlockedError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, []int{1}, be.Panels)
	})
}

func TestGetStatus_ReadOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)

	st, err := h.manager.GetStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Panels, 3)
	assert.Equal(t, []int{1, 2, 3}, st.Unverified)
	assert.Equal(t, 0, h.gen.calls, "状態取得で生成が走らないこと")
}

func TestValidate_FromRegistry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)
	_, err := h.manager.Generate(ctx, nil)
	require.NoError(t, err)

	// フロントエンドからパネル2を消すとBACKEND ONLYになる
	st, err := h.manager.GetStatus(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(h.cfg.FrontendDir, "comic_panels", st.Panels[1].Record.Filename)))

	rep, err := h.manager.Validate(ctx, nil)
	require.NoError(t, err)
	// 既定のmonotonicでは検証済みが維持されるのだ
	assert.True(t, rep.Passed())
	assert.True(t, rep.Panels[1].Retained)
}

func TestRefinePanel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)
	_, err := h.manager.Generate(ctx, nil)
	require.NoError(t, err)

	before, err := h.registry.GetStatus(ctx, 1)
	require.NoError(t, err)
	require.True(t, before.Verified)

	t.Run("既存パネルを手直しして差し替えること", func(t *testing.T) {
		path, err := h.manager.RefinePanel(ctx, 1, before.Filename, "brighter sky")
		require.NoError(t, err)

		rec, err := h.registry.GetStatus(ctx, 1)
		require.NoError(t, err)
		assert.True(t, rec.Verified)
		assert.Equal(t, filepath.Base(path), rec.Filename)
		assert.NotEqual(t, before.Filename, rec.Filename)
	})

	t.Run("範囲外のパネルはPanelOutOfRangeになること", func(t *testing.T) {
		_, err := h.manager.RefinePanel(ctx, 4, before.Filename, "brighter sky")
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
	})
}

func TestJobStore_Save(t *testing.T) {
	t.Run("並行保存しても読み込めるファイルが残ること", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "job.yaml")
		a, err := NewJobStore(path)
		require.NoError(t, err)
		b, err := NewJobStore(path)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, store := range []*JobStore{a, b, a, b} {
			wg.Add(1)
			go func(i int, store *JobStore) {
				defer wg.Done()
				assert.NoError(t, store.Save(&Job{ID: fmt.Sprintf("job-%d", i), ExpectedPanels: 3}))
			}(i, store)
		}
		wg.Wait()

		job, err := a.Load()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(job.ID, "job-"))

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}
