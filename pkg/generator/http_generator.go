package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// DefaultRequestTimeout は 1 回の生成要求の既定タイムアウトです。
const DefaultRequestTimeout = 45 * time.Second

// maxErrorBody はエラー時にログへ残すレスポンス本文の上限です。
const maxErrorBody = 512

// Doer は HTTP 要求を実行するクライアントです。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPGenerator は {prompt, base_image_paths} を POST し、
// {status, image_path} を受け取る JSON API のクライアントです。
type HTTPGenerator struct {
	endpoint string
	client   Doer
	timeout  time.Duration
}

// NewHTTPGenerator は HTTPGenerator を初期化します。timeout が 0 の場合は既定値を使います。
func NewHTTPGenerator(endpoint string, client Doer, timeout time.Duration) (*HTTPGenerator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ジェネレーターのエンドポイントは必須です")
	}
	if client == nil {
		return nil, fmt.Errorf("httpClient は必須です")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPGenerator{endpoint: endpoint, client: client, timeout: timeout}, nil
}

type responsePayload struct {
	Status    string `json:"status"`
	ImagePath string `json:"image_path"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// Generate は要求ごとのタイムアウト付きで画像生成を依頼します。
// タイムアウトした要求は放棄され、domain.ErrTimeout を返します。
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	timeout := g.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("要求のエンコードに失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransportError(reqCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classifyTransportError(reqCtx, err)
	}

	slog.DebugContext(ctx, "画像生成APIが応答しました",
		"status_code", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		var p responsePayload
		_ = json.Unmarshal(data, &p)
		return Result{}, fmt.Errorf("%w: HTTP %d: %s", domain.ErrServer, resp.StatusCode, firstNonEmpty(p.Error, p.Message, truncate(string(data), maxErrorBody)))
	}

	var out responsePayload
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v: %s", domain.ErrMalformedResponse, err, truncate(string(data), maxErrorBody))
	}
	if out.Status != StatusSuccess {
		if out.Status == "" {
			return Result{}, fmt.Errorf("%w: status がありません", domain.ErrMalformedResponse)
		}
		return Result{}, fmt.Errorf("%w: status=%s: %s", domain.ErrServer, out.Status, firstNonEmpty(out.Error, out.Message))
	}
	if out.ImagePath == "" {
		return Result{}, fmt.Errorf("%w: image_path がありません", domain.ErrMalformedResponse)
	}
	return Result{Status: out.Status, ImagePath: out.ImagePath}, nil
}

// classifyTransportError は通信エラーをタイムアウトと接続エラーに分類します。
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnection, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
