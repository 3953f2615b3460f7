// Package retry は Materializer のポーリング、Validator の同期確認、
// Workflow の再生成パスで共通に使うリトライ処理を提供します。
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy はリトライ回数と待機間隔の設定です。
type Policy struct {
	// Attempts は初回を含む最大試行回数です。1 以下ならリトライしません。
	Attempts int
	// Interval は初回リトライまでの待機時間です。
	Interval time.Duration
	// Multiplier が 1 より大きい場合は指数バックオフになります。
	Multiplier float64
	// MaxInterval は指数バックオフ時の待機上限です。
	MaxInterval time.Duration
}

// Constant は固定間隔のポリシーを返します。
func Constant(attempts int, interval time.Duration) Policy {
	return Policy{Attempts: attempts, Interval: interval, Multiplier: 1}
}

// Exponential は指数バックオフのポリシーを返します。
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{Attempts: attempts, Interval: initial, Multiplier: 2, MaxInterval: max}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier <= 1 {
		b = backoff.NewConstantBackOff(p.Interval)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.Reset()
		b = eb
	}

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do は op が nil を返すか、試行回数を使い切るまで op を繰り返します。
// 最後に op が返したエラーをそのまま返します。Permanent で包んだエラーは即座に返します。
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			return op(ctx)
		},
		p.backOff(ctx),
		func(err error, wait time.Duration) {
			slog.DebugContext(ctx, "リトライします",
				"attempt", attempt,
				"max_attempts", p.Attempts,
				"wait", wait,
				"error", err,
			)
		},
	)
}

// Permanent はリトライ不要なエラーとして err を包みます。
func Permanent(err error) error {
	return backoff.Permanent(err)
}
