package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/prompt"
	"golang.org/x/sync/errgroup"
)

// Generate は指定したパネルを並列に生成します。panelIDs が空の場合は全パネルが対象です。
// パネル単位の失敗は結果に記録するだけで、ジョブ全体は中断しません。
func (m *Manager) Generate(ctx context.Context, panelIDs []int) (*GenerateResult, error) {
	job, err := m.jobs.Load()
	if err != nil {
		return nil, err
	}
	if err := job.requirePlan(); err != nil {
		return nil, err
	}
	if len(panelIDs) == 0 {
		panelIDs = domain.PanelIDs(job.ExpectedPanels)
	}
	for _, id := range panelIDs {
		if err := domain.CheckRange(id, job.ExpectedPanels); err != nil {
			return nil, err
		}
	}

	byNumber := job.Panels.ByNumber()
	targets := make(domain.Panels, 0, len(panelIDs))
	for _, id := range panelIDs {
		targets = append(targets, byNumber[id])
	}

	// キャラクターのリファレンスを先に揃えておくのだ
	m.prepareReferences(ctx, targets)

	outcomes := make([]PanelOutcome, len(targets))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.cfg.Concurrency)

	for i, panel := range targets {
		eg.Go(func() error {
			logger := slog.With("panel", panel.Number, "characters", len(panel.Characters), "attempt", job.Attempt)
			logger.InfoContext(egCtx, "パネルの生成を開始します")
			start := time.Now()

			outcomes[i] = m.generatePanel(egCtx, panel)
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			logger.InfoContext(egCtx, "パネルの生成が終了しました",
				"outcome", outcomes[i].Outcome,
				"error_kind", outcomes[i].ErrorKind,
				"duration", time.Since(start).Round(time.Millisecond),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("パネル生成が中断されました: %w", err)
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].PanelID < outcomes[j].PanelID })
	res := &GenerateResult{Attempt: job.Attempt, Panels: outcomes}

	at := m.now().UTC()
	if err := m.updateJob(func(j *Job) {
		for _, o := range outcomes {
			entry := LogEntry{Attempt: res.Attempt, PanelID: o.PanelID, Outcome: o.Outcome, Filename: o.Filename, ErrorKind: o.ErrorKind, At: at}
			if o.Err != nil {
				entry.Error = o.Err.Error()
			}
			j.Log = append(j.Log, entry)
		}
	}); err != nil {
		return res, err
	}
	return res, nil
}

// prepareReferences はパネルに登場する全キャラクターのうち、リファレンスが無いものを並列に作成します。
// 作成に失敗したキャラクターのパネルは NoReferenceFound として個別に失敗します。
func (m *Manager) prepareReferences(ctx context.Context, panels domain.Panels) {
	var eg errgroup.Group
	eg.SetLimit(m.cfg.Concurrency)

	for _, name := range panels.UniqueCharacters() {
		if _, ok := m.characters.GetReference(name); ok {
			continue
		}
		eg.Go(func() error {
			if _, err := m.characters.CreateReference(ctx, name, name, ""); err != nil {
				slog.WarnContext(ctx, "リファレンスの作成に失敗しました", "character", name, "error", err)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// generatePanel は登場キャラクターの数に応じて生成経路を選びます。
func (m *Manager) generatePanel(ctx context.Context, panel domain.Panel) PanelOutcome {
	var (
		path string
		err  error
	)
	switch len(panel.Characters) {
	case 0:
		path, err = m.generatePlain(ctx, panel)
	case 1:
		path, err = m.characters.GenerateScene(ctx, panel.Characters[0], panel.Description, panel.Number)
	default:
		path, err = m.characters.GenerateMultiScene(ctx, panel.Characters, panel.Description, panel.Number)
	}

	out := PanelOutcome{PanelID: panel.Number, Path: path, Outcome: OutcomeSuccess}
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Err = err
		out.ErrorKind = domain.ErrorKind(err)
		return out
	}
	out.Filename = filepath.Base(path)

	rec, err := m.registry.GetStatus(ctx, panel.Number)
	if err != nil || !rec.Verified {
		out.Outcome = OutcomePartial
	}
	return out
}

// generatePlain はキャラクターのいないパネルをテキストだけで生成します。
func (m *Manager) generatePlain(ctx context.Context, panel domain.Panel) (string, error) {
	out, err := m.gen.Generate(ctx, generator.Request{
		Prompt:  prompt.Panel(panel),
		Timeout: m.cfg.RequestTimeout,
	})
	if err != nil {
		m.recordMissing(ctx, panel.Number)
		return "", domain.NewPanelError(panel.Number, err)
	}

	res, err := m.mat.Materialize(ctx, materializer.Request{
		PanelID: panel.Number,
		Kind:    asset.KindPanel,
		Source:  out.ImagePath,
	})
	if err != nil {
		return "", err
	}
	if res.BackendSynced {
		return res.BackendPath, nil
	}
	return res.FrontendPath, nil
}

func (m *Manager) recordMissing(ctx context.Context, panelID int) {
	if _, err := m.registry.Update(ctx, panelID, domain.MissingUpdate()); err != nil {
		slog.ErrorContext(ctx, "レジストリの更新に失敗しました", "panel", panelID, "error", err)
	}
}
