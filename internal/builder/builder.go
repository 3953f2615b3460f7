package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/go-comic-kit/internal/config"
	"github.com/shouni/go-comic-kit/pkg/character"
	comicconfig "github.com/shouni/go-comic-kit/pkg/config"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/prompt"
	"github.com/shouni/go-comic-kit/pkg/publisher"
	"github.com/shouni/go-comic-kit/pkg/registry"
	"github.com/shouni/go-comic-kit/pkg/retry"
	"github.com/shouni/go-comic-kit/pkg/validator"
	"github.com/shouni/go-comic-kit/pkg/workflow"
)

// Option は BuildAppContext の挙動を差し替えるためのものなのだ。
type Option func(*buildOptions)

type buildOptions struct {
	imageClient  generator.PanelImageClient
	systemPrompt string
	generator    generator.ImageGenerator
}

// WithImageClient は設定に関わらず、渡された gemini-image-kit のクライアントを使うのだ。
func WithImageClient(client generator.PanelImageClient, systemPrompt string) Option {
	return func(o *buildOptions) {
		o.imageClient = client
		o.systemPrompt = systemPrompt
	}
}

// WithGenerator は構築済みのジェネレーターをそのまま使うのだ。テストで使うのだ。
func WithGenerator(gen generator.ImageGenerator) Option {
	return func(o *buildOptions) { o.generator = gen }
}

// BuildAppContext は設定を検証し、レジストリからワークフローまでを組み立てるのだ。
func BuildAppContext(ctx context.Context, cfg *config.Config, opts ...Option) (*AppContext, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	c := cfg.Comic
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	if err := c.EnsureSinks(); err != nil {
		return nil, fmt.Errorf("シンクディレクトリの作成に失敗しました: %w", err)
	}

	reg, err := BuildRegistry(ctx, c)
	if err != nil {
		return nil, err
	}

	if bo.generator == nil {
		bo.imageClient, err = imageClientFor(ctx, c, bo.imageClient)
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	manager, err := buildManager(c, reg, bo)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	return &AppContext{Config: cfg, Manager: manager, Registry: reg}, nil
}

func buildManager(c comicconfig.Config, reg *registry.Registry, bo buildOptions) (*workflow.Manager, error) {
	gen := bo.generator
	if gen == nil {
		var err error
		gen, err = BuildImageGenerator(c, bo.imageClient, bo.systemPrompt)
		if err != nil {
			return nil, err
		}
	}

	mat, err := materializer.New(materializer.Options{
		SourceDir: c.SourceDir,
		Sinks:     c.Sinks(),
		Poll:      retry.Constant(c.PollAttempts, c.PollInterval),
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("Materializer の初期化に失敗しました: %w", err)
	}

	refs, err := character.NewReferenceStore(c.CharacterCachePath)
	if err != nil {
		return nil, fmt.Errorf("リファレンス一覧の読み込みに失敗しました: %w", err)
	}
	chars, err := character.New(character.Options{
		SearchDirs:        c.CharacterSearchDirs,
		PanelCacheSize:    c.PanelCacheSize,
		ReferenceTimeout:  c.ReferenceTimeout,
		SceneTimeout:      c.RequestTimeout,
		MultiSceneTimeout: c.MultiSceneTimeout,
	}, gen, mat, refs, reg)
	if err != nil {
		return nil, fmt.Errorf("キャラクターキャッシュの初期化に失敗しました: %w", err)
	}

	policy, err := validator.ParsePolicy(c.ValidationPolicy)
	if err != nil {
		return nil, err
	}
	val, err := validator.New(validator.Options{
		Sinks:  c.Sinks(),
		Policy: policy,
		Poll:   retry.Constant(c.ValidationAttempts, c.ValidationPollDelay),
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("Validator の初期化に失敗しました: %w", err)
	}

	jobs, err := workflow.NewJobStore(c.JobPath)
	if err != nil {
		return nil, err
	}

	return workflow.New(workflow.ManagerArgs{
		Config:       c,
		Registry:     reg,
		Generator:    gen,
		Materializer: mat,
		Characters:   chars,
		Validator:    val,
		Publisher:    publisher.NewComicPublisher(nil),
		Jobs:         jobs,
	})
}

// BuildRegistry は設定された方式のストアでレジストリを開くのだ。
func BuildRegistry(ctx context.Context, c comicconfig.Config) (*registry.Registry, error) {
	var (
		store registry.Store
		err   error
	)
	switch c.RegistryBackend {
	case comicconfig.RegistryBackendSQLite:
		store, err = registry.NewSQLiteStore(ctx, c.RegistryPath)
	case comicconfig.RegistryBackendMemory:
		store = registry.NewMemoryStore()
	default:
		store, err = registry.NewYAMLStore(c.RegistryPath)
	}
	if err != nil {
		return nil, fmt.Errorf("レジストリの初期化に失敗しました: %w", err)
	}
	slog.Debug("レジストリを開きました", "backend", c.RegistryBackend, "path", c.RegistryPath)
	return registry.New(store)
}

// BuildImageGenerator は画像ジェネレーターを初期化し、レート制限で包むのだ。
// client があれば Gemini、無ければ IMAGE_GENERATOR_URL の HTTP ジェネレーターを使います。
func BuildImageGenerator(c comicconfig.Config, client generator.PanelImageClient, systemPrompt string) (generator.ImageGenerator, error) {
	var (
		gen generator.ImageGenerator
		err error
	)
	if client != nil {
		if systemPrompt == "" {
			systemPrompt = prompt.RenderingStyle
		}
		gen, err = generator.NewGeminiGenerator(client, c.SourceDir, c.RequestTimeout, systemPrompt)
	} else {
		if c.GeneratorURL == "" {
			return nil, fmt.Errorf("IMAGE_GENERATOR_URL が設定されていません")
		}
		gen, err = generator.NewHTTPGenerator(c.GeneratorURL, httpkit.New(c.RequestTimeout), c.RequestTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("画像ジェネレーターの初期化に失敗したのだ: %w", err)
	}
	return generator.NewRateLimited(gen, c.RateInterval, generator.DefaultRateBurst), nil
}
