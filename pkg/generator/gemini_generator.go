package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
)

// PanelImageClient は gemini-image-kit の画像生成器のうち、このパッケージが使う部分を表します。
// リファレンスが 1 枚以下なら GenerateMangaPanel、複数なら GenerateMangaPage を使うのだ。
type PanelImageClient interface {
	GenerateMangaPanel(ctx context.Context, req imagedom.ImageGenerationRequest) (*imagedom.ImageResponse, error)
	GenerateMangaPage(ctx context.Context, req imagedom.ImagePageRequest) (*imagedom.ImageResponse, error)
}

// GeminiGenerator は gemini-image-kit の生成結果（バイト列）をソースディレクトリへ書き出し、
// 他のジェネレーターと同じく「ソースの場所」を返すアダプターなのだ。
type GeminiGenerator struct {
	client       PanelImageClient
	outputDir    string
	timeout      time.Duration
	systemPrompt string
}

// NewGeminiGenerator は GeminiGenerator を初期化します。
func NewGeminiGenerator(client PanelImageClient, outputDir string, timeout time.Duration, systemPrompt string) (*GeminiGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("画像生成クライアントは必須です")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("出力ディレクトリは必須です")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &GeminiGenerator{client: client, outputDir: outputDir, timeout: timeout, systemPrompt: systemPrompt}, nil
}

// Generate は画像を生成し、outputDir からの相対パスを返します。
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	timeout := g.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.call(reqCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", domain.ErrServer, err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return Result{}, fmt.Errorf("%w: 画像データが空です", domain.ErrMalformedResponse)
	}

	name := outputName(req.Prompt, resp.MimeType, time.Now())
	if err := asset.WriteFileAtomic(filepath.Join(g.outputDir, name), resp.Data, 0o644); err != nil {
		return Result{}, fmt.Errorf("生成画像の保存に失敗しました: %w", err)
	}
	return Result{Status: StatusSuccess, ImagePath: name}, nil
}

// call はリファレンスの枚数に応じて kit の呼び出しを選びます。
// 2 枚以上のリファレンスはページ要求の ReferenceURLs にすべて渡すのだ。
func (g *GeminiGenerator) call(ctx context.Context, req Request) (*imagedom.ImageResponse, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = PanelAspectRatio
	}

	if len(req.BaseImagePaths) > 1 {
		return g.client.GenerateMangaPage(ctx, imagedom.ImagePageRequest{
			Prompt:        req.Prompt,
			SystemPrompt:  g.systemPrompt,
			AspectRatio:   aspect,
			ReferenceURLs: append([]string(nil), req.BaseImagePaths...),
			Seed:          req.Seed,
		})
	}

	imgReq := imagedom.ImageGenerationRequest{
		Prompt:       req.Prompt,
		SystemPrompt: g.systemPrompt,
		AspectRatio:  aspect,
		Seed:         req.Seed,
	}
	if len(req.BaseImagePaths) == 1 {
		imgReq.ReferenceURL = req.BaseImagePaths[0]
	}
	return g.client.GenerateMangaPanel(ctx, imgReq)
}

func outputName(prompt, mimeType string, at time.Time) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("gemini_%d_%s%s", at.UnixNano(), hex.EncodeToString(sum[:])[:8], extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
