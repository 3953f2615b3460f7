package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *HTTPGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewHTTPGenerator(srv.URL, srv.Client(), timeout)
	require.NoError(t, err)
	return g
}

func TestHTTPGenerator_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("成功時はimage_pathを返し要求本文を正しく送ること", func(t *testing.T) {
		var got Request
		g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"status":"success","image_path":"out/server_generated_1.png"}`))
		}, time.Second)

		res, err := g.Generate(ctx, Request{Prompt: "hero", BaseImagePaths: []string{"refs/hero_reference.png"}})
		require.NoError(t, err)
		assert.Equal(t, "out/server_generated_1.png", res.ImagePath)
		assert.Equal(t, "hero", got.Prompt)
		assert.Equal(t, []string{"refs/hero_reference.png"}, got.BaseImagePaths)
	})

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"生成器が失敗を報告した場合はServerErrorになること", http.StatusOK, `{"status":"error","error":"quota"}`, domain.ErrServer},
		{"5xxはServerErrorになること", http.StatusBadGateway, `{"error":"upstream"}`, domain.ErrServer},
		{"JSONでない応答はMalformedResponseになること", http.StatusOK, `<html>`, domain.ErrMalformedResponse},
		{"image_pathがない応答はMalformedResponseになること", http.StatusOK, `{"status":"success"}`, domain.ErrMalformedResponse},
		{"statusがない応答はMalformedResponseになること", http.StatusOK, `{"image_path":"a.png"}`, domain.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, time.Second)
			_, err := g.Generate(ctx, Request{Prompt: "x"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("応答が遅い場合はTimeoutになること", func(t *testing.T) {
		g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, 50*time.Millisecond)
		_, err := g.Generate(ctx, Request{Prompt: "slow"})
		assert.ErrorIs(t, err, domain.ErrTimeout)
	})

	t.Run("要求ごとのタイムアウトが優先されること", func(t *testing.T) {
		g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, time.Minute)
		start := time.Now()
		_, err := g.Generate(ctx, Request{Prompt: "slow", Timeout: 50 * time.Millisecond})
		assert.ErrorIs(t, err, domain.ErrTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("接続できない場合はConnectionErrorになること", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		g, err := NewHTTPGenerator(url, http.DefaultClient, time.Second)
		require.NoError(t, err)
		_, err = g.Generate(ctx, Request{Prompt: "x"})
		assert.ErrorIs(t, err, domain.ErrConnection)
	})
}

func TestNewHTTPGenerator(t *testing.T) {
	_, err := NewHTTPGenerator("", http.DefaultClient, 0)
	assert.Error(t, err)
	_, err = NewHTTPGenerator("http://localhost", nil, 0)
	assert.Error(t, err)

	g, err := NewHTTPGenerator("http://localhost", http.DefaultClient, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRequestTimeout, g.timeout)
}
