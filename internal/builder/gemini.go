package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	imagekit "github.com/shouni/gemini-image-kit/pkg/generator"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"google.golang.org/genai"

	comicconfig "github.com/shouni/go-comic-kit/pkg/config"
	"github.com/shouni/go-comic-kit/pkg/generator"
)

const (
	defaultGeminiTemperature = float32(0.2)

	// 参照画像の読み込み結果を保持するキャッシュ
	defaultCacheExpiration = 5 * time.Minute
	cacheCleanupInterval   = 15 * time.Minute
	defaultTTL             = 5 * time.Minute
)

// newGeminiClient は差し替え可能にしてあるのだ。テストで API を呼ばないためなのだ。
var newGeminiClient = buildGeminiClient

// imageClientFor は設定が gemini のときだけ kit のクライアントを組み立てるのだ。
// 明示的に渡されたクライアントがあればそれを優先します。
func imageClientFor(ctx context.Context, c comicconfig.Config, given generator.PanelImageClient) (generator.PanelImageClient, error) {
	if given != nil || c.GeneratorBackend != comicconfig.GeneratorBackendGemini {
		return given, nil
	}
	client, err := newGeminiClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("Gemini 画像クライアントの初期化に失敗したのだ: %w", err)
	}
	return client, nil
}

// buildGeminiClient は AI クライアント、画像処理コア、生成器の順に組み立てます。
func buildGeminiClient(ctx context.Context, c comicconfig.Config) (generator.PanelImageClient, error) {
	aiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      c.GeminiAPIKey,
		Temperature: genai.Ptr(defaultGeminiTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}

	imgCache := cache.New(defaultCacheExpiration, cacheCleanupInterval)
	core, err := imagekit.NewGeminiImageCore(
		aiClient,
		localReader{},
		httpkit.New(c.RequestTimeout),
		imgCache,
		defaultTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("GeminiImageCore の初期化に失敗しました: %w", err)
	}

	imgGen, err := imagekit.NewGeminiGenerator(c.ImageModel, core)
	if err != nil {
		return nil, fmt.Errorf("GeminiGenerator の初期化に失敗しました: %w", err)
	}
	return imgGen, nil
}

// localReader はリファレンス画像をローカルのシンクから読むためのリーダーなのだ。
type localReader struct{}

func (localReader) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}
