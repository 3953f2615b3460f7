package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shouni/go-utils/envutil"

	comicconfig "github.com/shouni/go-comic-kit/pkg/config"
)

// デフォルト値の定義なのだ
const (
	DefaultEnvFile    = ".env"
	DefaultSourceDir  = "output/source"
	DefaultBackendDir = "output/backend"
	// フロントエンドは静的配信される側のツリーなのだ
	DefaultFrontendDir = "output/frontend"
	DefaultOutputDir   = "output"
)

// Config はアプリケーション全体の環境設定を保持する構造体なのだ。
type Config struct {
	Comic   comicconfig.Config
	Options Options
}

// Options は CLI フラグから渡される実行時のパラメータなのだ。
type Options struct {
	Verbose bool

	// ジョブ開始
	PlanFile string // --plan
	Topic    string // --topic
	Title    string // --title
	Panels   int    // --panels

	// 検証・リトライ
	PanelMapFile string // --panel-map (JSON / YAML もしくは生成レポート)
	Recheck      bool   // --recheck
	PanelIDs     []int  // --panel

	// キャラクター
	Character     string // --name
	Description   string // --description
	ExistingImage string // --image
	Scene         string // --scene
	PanelID       int    // --panel-id
	Instruction   string // --instruction

	JSON bool // --json
}

// LoadConfig は .env と環境変数から設定を読み込むのだ！
// .env が無いのは普通のことなので無視するのだ。
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env の読み込みに失敗しました: %w", err)
	}

	c := comicconfig.DefaultConfig()
	c.SourceDir = envutil.GetEnv("COMIC_SOURCE_DIR", DefaultSourceDir)
	c.BackendDir = envutil.GetEnv("COMIC_BACKEND_DIR", DefaultBackendDir)
	c.FrontendDir = envutil.GetEnv("COMIC_FRONTEND_DIR", DefaultFrontendDir)
	c.CharacterSearchDirs = splitList(envutil.GetEnv("COMIC_CHARACTER_DIRS", ""))
	c.RegistryBackend = envutil.GetEnv("COMIC_REGISTRY_BACKEND", c.RegistryBackend)
	c.RegistryPath = envutil.GetEnv("COMIC_REGISTRY_PATH", c.RegistryPath)
	c.JobPath = envutil.GetEnv("COMIC_JOB_PATH", c.JobPath)
	c.CharacterCachePath = envutil.GetEnv("COMIC_CHARACTER_CACHE", c.CharacterCachePath)
	c.OutputDir = envutil.GetEnv("COMIC_OUTPUT_DIR", DefaultOutputDir)
	c.OutputFile = envutil.GetEnv("COMIC_OUTPUT_FILE", c.OutputFile)
	c.GeneratorBackend = envutil.GetEnv("COMIC_GENERATOR", c.GeneratorBackend)
	c.GeneratorURL = envutil.GetEnv("IMAGE_GENERATOR_URL", "")
	c.GeminiAPIKey = envutil.GetEnv("GEMINI_API_KEY", "")
	c.ImageModel = envutil.GetEnv("IMAGE_GEMINI_MODEL", c.ImageModel)

	var errs []error
	c.PanelCount = intEnv("COMIC_PANEL_COUNT", c.PanelCount, &errs)
	c.MaxRetries = intEnv("COMIC_MAX_RETRIES", c.MaxRetries, &errs)
	c.Concurrency = intEnv("COMIC_CONCURRENCY", c.Concurrency, &errs)
	c.RequestTimeout = durationEnv("COMIC_REQUEST_TIMEOUT", c.RequestTimeout, &errs)
	c.RateInterval = durationEnv("COMIC_RATE_INTERVAL", c.RateInterval, &errs)
	if boolEnv("COMIC_RECHECK_VERIFIED", false, &errs) {
		c.ValidationPolicy = "recheck"
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Config{Comic: c}, nil
}

// ApplyOptions は CLI フラグの値を環境変数より優先して反映するのだ。
func (c *Config) ApplyOptions(opts Options) {
	c.Options = opts
	if opts.Panels > 0 {
		c.Comic.PanelCount = opts.Panels
	}
	if opts.Recheck {
		c.Comic.ValidationPolicy = "recheck"
	}
}

func intEnv(key string, def int, errs *[]error) int {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s は整数である必要があります: %q", key, raw))
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		// 秒数だけ書かれている場合も受け付けるのだ
		if sec, convErr := strconv.Atoi(raw); convErr == nil {
			return time.Duration(sec) * time.Second
		}
		*errs = append(*errs, fmt.Errorf("%s は期間である必要があります: %q", key, raw))
		return def
	}
	return v
}

func boolEnv(key string, def bool, errs *[]error) bool {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s は真偽値である必要があります: %q", key, raw))
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		slog.Debug("追加のキャラクター検索ディレクトリ", "dirs", out)
	}
	return out
}
