package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// DefaultRateBurst はレート制限のバースト数です。
const DefaultRateBurst = 2

// RateLimited は外部ジェネレーターへの要求間隔を制限するラッパーです。
type RateLimited struct {
	next    ImageGenerator
	limiter *rate.Limiter
}

// NewRateLimited は interval ごとに 1 要求（最大 burst）まで通すラッパーを返します。
// interval が 0 以下の場合は制限しません。
func NewRateLimited(next ImageGenerator, interval time.Duration, burst int) *RateLimited {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = DefaultRateBurst
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Generate(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		// 期限内に順番が回ってこない場合も Wait は即座に失敗するので、キャンセル以外はタイムアウト扱いなのだ
		_, hasDeadline := ctx.Deadline()
		if !errors.Is(ctx.Err(), context.Canceled) && (hasDeadline || errors.Is(err, context.DeadlineExceeded)) {
			return Result{}, fmt.Errorf("%w: レート制限の待機に失敗しました: %v", domain.ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}
	return r.next.Generate(ctx, req)
}
