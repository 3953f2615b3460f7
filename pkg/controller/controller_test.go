package controller

import (
	"context"
	"testing"

	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, expected, maxRetries int) (*Controller, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(registry.NewMemoryStore())
	require.NoError(t, err)
	c, err := New(reg, expected, maxRetries)
	require.NoError(t, err)
	return c, reg
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		remaining []int
		attempt   int
		max       int
		want      Decision
	}{
		{"残りが無ければCOMPLETE", nil, 5, 3, DecisionComplete},
		{"上限に達していればSTOP", []int{2}, 3, 3, DecisionStop},
		{"上限未満ならRETRY", []int{2}, 1, 3, DecisionRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.remaining, tt.attempt, tt.max))
		})
	}
}

func TestFilterFailed(t *testing.T) {
	ctx := context.Background()
	c, reg := newController(t, 5, 3)
	_, err := reg.Update(ctx, 1, domain.SyncUpdate("a1.png", true, true))
	require.NoError(t, err)

	t.Run("検証済みのパネルは除外されること", func(t *testing.T) {
		res, err := c.FilterFailed(ctx, []int{1, 2, 3, 4, 5})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 4, 5}, res.NeedsRetry)
		assert.Equal(t, []int{1}, res.AlreadyVerified)
	})

	t.Run("重複は1つにまとめられること", func(t *testing.T) {
		res, err := c.FilterFailed(ctx, []int{3, 3, 2})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, res.NeedsRetry)
	})

	t.Run("範囲外のパネルはPanelOutOfRangeになること", func(t *testing.T) {
		_, err := c.FilterFailed(ctx, []int{6})
		assert.ErrorIs(t, err, domain.ErrPanelOutOfRange)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("未検証が残っていればRETRYで対象を絞ること", func(t *testing.T) {
		c, reg := newController(t, 4, 3)
		for _, id := range []int{1, 3} {
			_, err := reg.Update(ctx, id, domain.SyncUpdate("x.png", true, true))
			require.NoError(t, err)
		}
		ev, err := c.Evaluate(ctx, []int{1, 2, 4}, 1)
		require.NoError(t, err)
		assert.Equal(t, DecisionRetry, ev.Decision)
		assert.Equal(t, []int{2, 4}, ev.Failed)
		assert.Equal(t, 2, ev.RemainingAttempts)
		assert.InDelta(t, 50.0, ev.SuccessRate, 0.001)
		assert.Contains(t, ev.String(), "Regenerate only panels [2 4]")
	})

	t.Run("nilの場合はレジストリの未検証パネルを使うこと", func(t *testing.T) {
		c, _ := newController(t, 2, 3)
		ev, err := c.Evaluate(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, ev.Failed)
	})

	t.Run("全て検証済みならCOMPLETEになること", func(t *testing.T) {
		c, reg := newController(t, 1, 3)
		_, err := reg.Update(ctx, 1, domain.SyncUpdate("x.png", true, true))
		require.NoError(t, err)
		ev, err := c.Evaluate(ctx, []int{1}, 3)
		require.NoError(t, err)
		assert.Equal(t, DecisionComplete, ev.Decision)
		assert.InDelta(t, 100.0, ev.SuccessRate, 0.001)
	})

	t.Run("上限に達したらRetryBudgetExhaustedを返すこと", func(t *testing.T) {
		c, _ := newController(t, 2, 3)
		ev, err := c.Evaluate(ctx, []int{2}, 3)
		require.ErrorIs(t, err, domain.ErrRetryBudgetExhausted)
		assert.Equal(t, DecisionStop, ev.Decision)
		assert.Contains(t, ev.NextStep, "Manual intervention")
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	c, reg := newController(t, 3, 3)
	_, err := reg.Update(ctx, 1, domain.SyncUpdate("a1.png", true, true))
	require.NoError(t, err)
	_, err = reg.Update(ctx, 2, domain.SyncUpdate("a2.png", true, false))
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Panels, 3, "全パネルを列挙すること")
	assert.Equal(t, 1, st.Verified)
	assert.Equal(t, []int{2, 3}, st.Unverified)
	assert.Equal(t, domain.StatusBackendOnly, st.Panels[1].Status)
	assert.False(t, st.Panels[2].Present)
	assert.Contains(t, st.String(), "PANEL STATUS: 1/3 verified")

	// 読み取りだけで状態が変わらないこと
	again, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, again)
}
