// Package pipeline は CLI の各ユースケースを 1 関数ずつ実行するのだ。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shouni/go-comic-kit/internal/builder"
	"github.com/shouni/go-comic-kit/internal/config"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/parser"
	"github.com/shouni/go-comic-kit/pkg/workflow"
)

// ErrValidationFailed は検証結果が FAIL だったことを終了コードに伝えるためのものなのだ。
var ErrValidationFailed = errors.New("validation failed")

// Runner は CLI の 1 回の実行で共有する設定と出力先なのだ。
type Runner struct {
	cfg  *config.Config
	out  io.Writer
	opts []builder.Option
}

// New は Runner を初期化するのだ。
func New(cfg *config.Config, out io.Writer, opts ...builder.Option) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{cfg: cfg, out: out, opts: opts}
}

// withApp は AppContext を構築して fn を実行し、必ず後片付けするのだ。
func (r *Runner) withApp(ctx context.Context, fn func(*builder.AppContext) error) error {
	appCtx, err := builder.BuildAppContext(ctx, r.cfg, r.opts...)
	if err != nil {
		return err
	}
	defer func() { _ = appCtx.Close() }()
	return fn(appCtx)
}

// Start はプランファイルを読み込んでジョブを開始するのだ。
func (r *Runner) Start(ctx context.Context) error {
	opts := r.cfg.Options
	start := workflow.StartOptions{Topic: opts.Topic, Title: opts.Title, ExpectedPanels: opts.Panels}

	if opts.PlanFile != "" {
		plan, err := parser.LoadPlan(ctx, opts.PlanFile)
		if err != nil {
			return err
		}
		start.Panels = plan.Panels
		if start.Title == "" {
			start.Title = plan.Title
		}
		if start.ExpectedPanels == 0 && len(plan.Panels) > 0 {
			start.ExpectedPanels = len(plan.Panels)
		}
	}
	if start.Title == "" {
		start.Title = start.Topic
	}

	return r.withApp(ctx, func(app *builder.AppContext) error {
		job, err := app.Manager.StartJob(ctx, start)
		if err != nil {
			return err
		}
		return r.render(job, fmt.Sprintf("job %s started: %d panels (%s)", job.ID, job.ExpectedPanels, job.Topic))
	})
}

// Generate は指定パネル (未指定なら全パネル) を生成するのだ。
func (r *Runner) Generate(ctx context.Context) error {
	return r.withApp(ctx, func(app *builder.AppContext) error {
		res, err := app.Manager.Generate(ctx, r.cfg.Options.PanelIDs)
		if err != nil {
			return err
		}
		return r.render(res, formatGeneration(res))
	})
}

// Status はレジストリの状態を表示するだけなのだ。
func (r *Runner) Status(ctx context.Context) error {
	return r.withApp(ctx, func(app *builder.AppContext) error {
		st, err := app.Manager.GetStatus(ctx)
		if err != nil {
			return err
		}
		return r.render(st, st.String())
	})
}

// Validate はパネル対応表 (またはレジストリ) を検証するのだ。
func (r *Runner) Validate(ctx context.Context) error {
	panelMap, err := r.loadPanelMap()
	if err != nil {
		return err
	}
	return r.withApp(ctx, func(app *builder.AppContext) error {
		report, err := app.Manager.Validate(ctx, panelMap)
		if err != nil {
			return err
		}
		if err := r.render(report, report.String()); err != nil {
			return err
		}
		if !report.Passed() {
			return fmt.Errorf("%w: %v", ErrValidationFailed, report.Failed())
		}
		return nil
	})
}

// Retry はリトライ判定を行い、RETRY なら対象パネルを再生成するのだ。
func (r *Runner) Retry(ctx context.Context) error {
	return r.withApp(ctx, func(app *builder.AppContext) error {
		res, retryErr := app.Manager.RetryFailed(ctx, r.cfg.Options.PanelIDs)
		if res != nil {
			text := res.Evaluation.String()
			if res.Generation != nil {
				text += "\n" + formatGeneration(res.Generation)
			}
			if err := r.render(res, text); err != nil {
				return err
			}
		}
		return retryErr
	})
}

// Assemble は全パネルが検証済みの場合だけ文書を書き出すのだ。
func (r *Runner) Assemble(ctx context.Context) error {
	return r.withApp(ctx, func(app *builder.AppContext) error {
		res, err := app.Manager.Assemble(ctx)
		if err != nil {
			return err
		}
		return r.render(res, fmt.Sprintf("assembled %d panels: %s", len(res.Document.Entries), res.Published.DocumentPath))
	})
}

// Run は生成から組み立てまでを自動で進めるのだ。
func (r *Runner) Run(ctx context.Context) error {
	return r.withApp(ctx, func(app *builder.AppContext) error {
		res, runErr := app.Manager.Run(ctx)
		if res != nil {
			var b strings.Builder
			if res.Initial != nil {
				b.WriteString(formatGeneration(res.Initial))
			}
			for _, rep := range res.Reports {
				b.WriteString("\n")
				b.WriteString(rep.String())
			}
			if res.Assembly != nil {
				fmt.Fprintf(&b, "\nassembled: %s", res.Assembly.Published.DocumentPath)
			}
			if err := r.render(res, b.String()); err != nil {
				return err
			}
		}
		return runErr
	})
}

// CreateReference はキャラクターのリファレンス画像を作成するのだ。
func (r *Runner) CreateReference(ctx context.Context) error {
	opts := r.cfg.Options
	return r.withApp(ctx, func(app *builder.AppContext) error {
		path, err := app.Manager.CreateReference(ctx, opts.Character, opts.Description, opts.ExistingImage)
		if err != nil {
			return err
		}
		return r.render(map[string]string{"name": opts.Character, "path": path}, path)
	})
}

// GetReference はキャラクターのリファレンス画像を探すのだ。
func (r *Runner) GetReference(ctx context.Context) error {
	name := r.cfg.Options.Character
	return r.withApp(ctx, func(app *builder.AppContext) error {
		path, ok := app.Manager.GetReference(name)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNoReferenceFound, name)
		}
		return r.render(map[string]string{"name": name, "path": path}, path)
	})
}

// Scene は単一キャラクターのシーンを生成するのだ。
func (r *Runner) Scene(ctx context.Context) error {
	opts := r.cfg.Options
	return r.withApp(ctx, func(app *builder.AppContext) error {
		path, err := app.Manager.GenerateScene(ctx, opts.Character, opts.Scene, opts.PanelID)
		if err != nil {
			return err
		}
		return r.render(map[string]any{"panel_id": opts.PanelID, "path": path}, path)
	})
}

// Refine は既存のパネル画像を手直しするのだ。
func (r *Runner) Refine(ctx context.Context) error {
	opts := r.cfg.Options
	return r.withApp(ctx, func(app *builder.AppContext) error {
		path, err := app.Manager.RefinePanel(ctx, opts.PanelID, opts.ExistingImage, opts.Instruction)
		if err != nil {
			return err
		}
		return r.render(map[string]any{"panel_id": opts.PanelID, "path": path}, path)
	})
}

// loadPanelMap は拡張子で対応表ファイルか生成レポートかを切り替えるのだ。
func (r *Runner) loadPanelMap() (domain.PanelMap, error) {
	path := r.cfg.Options.PanelMapFile
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("対応表ファイル '%s' の読み込みに失敗しました: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return parser.ParsePanelMap(data)
	default:
		m := parser.ExtractPanelMap(string(data))
		slog.Info("生成レポートから対応表を抽出しました", "path", path, "panels", len(m))
		return m, nil
	}
}

func (r *Runner) render(v any, text string) error {
	if r.cfg.Options.JSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(r.out, text)
	return err
}

func formatGeneration(res *workflow.GenerateResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GENERATION (attempt %d):", res.Attempt)
	for _, p := range res.Panels {
		switch p.Outcome {
		case workflow.OutcomeFailed:
			fmt.Fprintf(&b, "\n- Panel %d: FAILED (%s)", p.PanelID, p.ErrorKind)
		default:
			fmt.Fprintf(&b, "\n- Panel %d: %s %s", p.PanelID, strings.ToUpper(p.Outcome), p.Filename)
		}
	}
	return b.String()
}
