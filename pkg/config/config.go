// Package config はコミック生成パイプラインの設定と起動時の検証を扱います。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
)

// デフォルト値の定義
const (
	DefaultPanelCount          = 6
	DefaultMaxRetries          = 3
	DefaultPollAttempts        = 3
	DefaultPollInterval        = 1 * time.Second
	DefaultRequestTimeout      = 45 * time.Second
	DefaultReferenceTimeout    = 60 * time.Second
	DefaultMultiSceneTimeout   = 120 * time.Second
	DefaultPanelCacheSize      = 10
	DefaultRateInterval        = 2 * time.Second
	DefaultConcurrency         = 3
	DefaultRegistryBackend     = RegistryBackendYAML
	DefaultRegistryPath        = "panel_registry.yaml"
	DefaultJobPath             = "job.yaml"
	DefaultCharacterCachePath  = "character_cache.yaml"
	DefaultOutputFile          = "comic.json"
	DefaultValidationPolicy    = "monotonic"
	DefaultValidationAttempts  = 1
	DefaultValidationPollDelay = 1 * time.Second
	DefaultGeneratorBackend    = GeneratorBackendHTTP
	DefaultImageModel          = "gemini-3-pro-image-preview"
)

// 画像ジェネレーターの種類です。
const (
	GeneratorBackendHTTP   = "http"
	GeneratorBackendGemini = "gemini"
)

// レジストリの永続化方式です。
const (
	RegistryBackendYAML   = "yaml"
	RegistryBackendSQLite = "sqlite"
	RegistryBackendMemory = "memory"
)

// Config は Go Comic Kit の各コンポーネントを動作させるための基本設定です。
type Config struct {
	// --- Directories ---
	// SourceDir はジェネレーターが画像を書き出すディレクトリです。
	SourceDir   string
	BackendDir  string
	FrontendDir string
	// CharacterSearchDirs はリファレンス画像のあいまい検索で追加で探すディレクトリです。
	CharacterSearchDirs []string

	// --- Persistence ---
	RegistryBackend    string
	RegistryPath       string
	JobPath            string
	CharacterCachePath string
	OutputDir          string
	OutputFile         string

	// --- Generator ---
	// GeneratorBackend は "http"（IMAGE_GENERATOR_URL）か "gemini"（gemini-image-kit）です。
	GeneratorBackend  string
	GeneratorURL      string
	GeminiAPIKey      string
	ImageModel        string
	RequestTimeout    time.Duration
	ReferenceTimeout  time.Duration
	MultiSceneTimeout time.Duration
	RateInterval      time.Duration
	Concurrency       int

	// --- Job ---
	PanelCount     int
	MaxRetries     int
	PanelCacheSize int

	// --- Materializer poll ---
	PollAttempts int
	PollInterval time.Duration

	// --- Validator ---
	ValidationPolicy    string
	ValidationAttempts  int
	ValidationPollDelay time.Duration
}

// DefaultConfig は推奨されるデフォルト設定を返すヘルパー関数です。
func DefaultConfig() Config {
	return Config{
		RegistryBackend:     DefaultRegistryBackend,
		RegistryPath:        DefaultRegistryPath,
		JobPath:             DefaultJobPath,
		CharacterCachePath:  DefaultCharacterCachePath,
		OutputFile:          DefaultOutputFile,
		GeneratorBackend:    DefaultGeneratorBackend,
		ImageModel:          DefaultImageModel,
		RequestTimeout:      DefaultRequestTimeout,
		ReferenceTimeout:    DefaultReferenceTimeout,
		MultiSceneTimeout:   DefaultMultiSceneTimeout,
		RateInterval:        DefaultRateInterval,
		Concurrency:         DefaultConcurrency,
		PanelCount:          DefaultPanelCount,
		MaxRetries:          DefaultMaxRetries,
		PanelCacheSize:      DefaultPanelCacheSize,
		PollAttempts:        DefaultPollAttempts,
		PollInterval:        DefaultPollInterval,
		ValidationPolicy:    DefaultValidationPolicy,
		ValidationAttempts:  DefaultValidationAttempts,
		ValidationPollDelay: DefaultValidationPollDelay,
	}
}

// Sinks はバックエンド・フロントエンドのシンクを返します。
func (c Config) Sinks() asset.Sinks {
	return asset.Sinks{Backend: c.BackendDir, Frontend: c.FrontendDir}
}

// Validate は起動時に設定を検証します。
// ディレクトリが存在しない状態で黙って動き始めないよう、ここで失敗させます。
func (c Config) Validate() error {
	var errs []error

	dirs := []struct {
		name, path string
	}{
		{"source", c.SourceDir},
		{"backend", c.BackendDir},
		{"frontend", c.FrontendDir},
	}
	for _, d := range dirs {
		if d.path == "" {
			errs = append(errs, fmt.Errorf("%s ディレクトリが設定されていません", d.name))
			continue
		}
		info, err := os.Stat(d.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s ディレクトリを確認できません (%s): %w", d.name, d.path, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("%s はディレクトリではありません: %s", d.name, d.path))
		}
	}

	switch c.RegistryBackend {
	case RegistryBackendYAML, RegistryBackendSQLite, RegistryBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("不明なレジストリ方式です: %q", c.RegistryBackend))
	}
	switch c.GeneratorBackend {
	case GeneratorBackendHTTP:
	case GeneratorBackendGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, fmt.Errorf("gemini ジェネレーターには GEMINI_API_KEY が必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("不明なジェネレーター方式です: %q", c.GeneratorBackend))
	}
	switch c.ValidationPolicy {
	case "monotonic", "recheck":
	default:
		errs = append(errs, fmt.Errorf("不明な検証ポリシーです: %q", c.ValidationPolicy))
	}

	if c.PanelCount < 1 {
		errs = append(errs, fmt.Errorf("パネル数は 1 以上である必要があります: %d", c.PanelCount))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("リトライ上限は 0 以上である必要があります: %d", c.MaxRetries))
	}
	if c.PollAttempts < 1 || c.ValidationAttempts < 1 {
		errs = append(errs, fmt.Errorf("ポーリング回数は 1 以上である必要があります"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("リクエストタイムアウトは正の値である必要があります: %s", c.RequestTimeout))
	}

	return errors.Join(errs...)
}

// EnsureSinks は両シンク配下のパネル用・リファレンス用ディレクトリを作成します。
func (c Config) EnsureSinks() error {
	return c.Sinks().Ensure()
}
