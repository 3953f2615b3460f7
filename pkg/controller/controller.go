// Package controller はレジストリを読んでリトライの要否を判定し、状態スナップショットを作ります。
// このパッケージは生成を一切起動しません。
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/registry"
)

// DefaultMaxRetries は 1 ジョブあたりの既定のリトライ上限です。
const DefaultMaxRetries = 3

// Decision はリトライ判定の結果です。
type Decision string

const (
	DecisionComplete Decision = "COMPLETE"
	DecisionRetry    Decision = "RETRY"
	DecisionStop     Decision = "STOP"
)

// RegistryReader はコントローラーが使う読み取り専用のレジストリ操作です。
type RegistryReader interface {
	GetStatus(ctx context.Context, panelID int) (domain.PanelRecord, error)
	ListUnverified(ctx context.Context, expected int) ([]int, error)
	Snapshot(ctx context.Context, expected int) ([]registry.Entry, error)
}

// FilterResult はレジストリを考慮したフィルタの結果です。
type FilterResult struct {
	NeedsRetry      []int `json:"needs_retry"`
	AlreadyVerified []int `json:"already_verified"`
}

// Evaluation はリトライ判定とその根拠です。
type Evaluation struct {
	Decision          Decision `json:"decision"`
	Attempt           int      `json:"attempt"`
	MaxRetries        int      `json:"max_retries"`
	RemainingAttempts int      `json:"remaining_attempts"`
	Expected          int      `json:"expected"`
	Failed            []int    `json:"failed"`
	AlreadyVerified   []int    `json:"already_verified"`
	// SuccessRate は期待パネル数に対する検証済みの割合 (0..100) です。
	SuccessRate float64 `json:"success_rate"`
	NextStep    string  `json:"next_step"`
}

// Controller はリトライ/ステータスのコントローラーです。
type Controller struct {
	registry   RegistryReader
	expected   int
	maxRetries int
}

// New は Controller を初期化します。
func New(reg RegistryReader, expected, maxRetries int) (*Controller, error) {
	if reg == nil {
		return nil, fmt.Errorf("RegistryReader は必須です")
	}
	if expected < 1 {
		return nil, fmt.Errorf("%w: expected panel count %d", domain.ErrMalformedInput, expected)
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Controller{registry: reg, expected: expected, maxRetries: maxRetries}, nil
}

// Decide は残りの失敗パネル・現在の試行回数・上限からリトライ方針を決めます。
func Decide(remaining []int, attempt, maxRetries int) Decision {
	switch {
	case len(remaining) == 0:
		return DecisionComplete
	case attempt >= maxRetries:
		return DecisionStop
	default:
		return DecisionRetry
	}
}

// FilterFailed は失敗と思われているパネルのうち、既に検証済みのものを取り除きます。
// 別プロセスが並行して完了させた場合の無駄な再生成を防ぎます。
func (c *Controller) FilterFailed(ctx context.Context, failed []int) (FilterResult, error) {
	var res FilterResult
	seen := make(map[int]bool, len(failed))
	for _, id := range sortedCopy(failed) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := domain.CheckRange(id, c.expected); err != nil {
			return FilterResult{}, err
		}
		rec, err := c.registry.GetStatus(ctx, id)
		if err != nil {
			return FilterResult{}, err
		}
		if rec.Verified {
			res.AlreadyVerified = append(res.AlreadyVerified, id)
			continue
		}
		res.NeedsRetry = append(res.NeedsRetry, id)
	}
	if len(res.AlreadyVerified) > 0 {
		slog.InfoContext(ctx, "検証済みのパネルをリトライ対象から除外しました", "panels", res.AlreadyVerified)
	}
	return res, nil
}

// Evaluate は失敗パネルをフィルタしてリトライ方針を判定します。
// failed が nil の場合はレジストリの未検証パネルを使います。
// STOP の場合は評価結果とともに RetryBudgetExhausted を返します。
func (c *Controller) Evaluate(ctx context.Context, failed []int, attempt int) (Evaluation, error) {
	if failed == nil {
		ids, err := c.registry.ListUnverified(ctx, c.expected)
		if err != nil {
			return Evaluation{}, err
		}
		failed = ids
	}
	filtered, err := c.FilterFailed(ctx, failed)
	if err != nil {
		return Evaluation{}, err
	}
	unverified, err := c.registry.ListUnverified(ctx, c.expected)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		Decision:          Decide(filtered.NeedsRetry, attempt, c.maxRetries),
		Attempt:           attempt,
		MaxRetries:        c.maxRetries,
		RemainingAttempts: max(c.maxRetries-attempt, 0),
		Expected:          c.expected,
		Failed:            filtered.NeedsRetry,
		AlreadyVerified:   filtered.AlreadyVerified,
		SuccessRate:       float64(c.expected-len(unverified)) / float64(c.expected) * 100,
	}
	ev.NextStep = nextStep(ev)

	slog.InfoContext(ctx, "リトライ判定を行いました",
		"decision", ev.Decision,
		"attempt", attempt,
		"max_retries", c.maxRetries,
		"failed", ev.Failed,
	)
	if ev.Decision == DecisionStop {
		return ev, fmt.Errorf("%w: panels %v still unverified after %d attempts", domain.ErrRetryBudgetExhausted, ev.Failed, attempt)
	}
	return ev, nil
}

func nextStep(ev Evaluation) string {
	switch ev.Decision {
	case DecisionComplete:
		return "All requested panels are verified. Proceed to assembly."
	case DecisionStop:
		return fmt.Sprintf("Retry budget exhausted. Manual intervention required for panels %v.", ev.Failed)
	default:
		return fmt.Sprintf("Regenerate only panels %v (attempt %d of %d).", ev.Failed, ev.Attempt+1, ev.MaxRetries)
	}
}

// String は判定結果を人が読める形で返します。
func (ev Evaluation) String() string {
	return fmt.Sprintf("RETRY DECISION: %s\nAttempt: %d/%d (remaining %d)\nFailed panels: %v\nAlready verified: %v\nSuccess rate: %.1f%%\nNext step: %s\n",
		ev.Decision, ev.Attempt, ev.MaxRetries, ev.RemainingAttempts, ev.Failed, ev.AlreadyVerified, ev.SuccessRate, ev.NextStep)
}

func sortedCopy(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}
