package character

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/registry"
	"github.com/shouni/go-comic-kit/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator はソースディレクトリに画像を書き出して相対パスを返すのだ。
type fakeGenerator struct {
	mu       sync.Mutex
	dir      string
	requests []generator.Request
	err      error
	delay    time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return generator.Result{}, f.err
	}
	name := fmt.Sprintf("server_generated_%d.png", len(f.requests))
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte("png"), 0o644); err != nil {
		return generator.Result{}, err
	}
	return generator.Result{Status: generator.StatusSuccess, ImagePath: name}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type env struct {
	sinks    asset.Sinks
	gen      *fakeGenerator
	registry *registry.Registry
	cache    *Cache
	refPath  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	source := filepath.Join(root, "generated")
	require.NoError(t, os.MkdirAll(source, 0o755))

	sinks := asset.Sinks{Backend: filepath.Join(root, "backend"), Frontend: filepath.Join(root, "frontend")}
	require.NoError(t, sinks.Ensure())

	reg, err := registry.New(registry.NewMemoryStore())
	require.NoError(t, err)
	mat, err := materializer.New(materializer.Options{SourceDir: source, Sinks: sinks, Poll: retry.Constant(1, 0)}, reg)
	require.NoError(t, err)

	refPath := filepath.Join(root, "character_cache.yaml")
	refs, err := NewReferenceStore(refPath)
	require.NoError(t, err)

	gen := &fakeGenerator{dir: source}
	c, err := New(Options{}, gen, mat, refs, reg)
	require.NoError(t, err)
	return &env{sinks: sinks, gen: gen, registry: reg, cache: c, refPath: refPath}
}

func TestCreateReference(t *testing.T) {
	ctx := context.Background()

	t.Run("リファレンスを両シンクに配置し正規化名で登録すること", func(t *testing.T) {
		e := newEnv(t)
		path, err := e.cache.CreateReference(ctx, "Captain Aurora", "a pilot in a silver suit", "")
		require.NoError(t, err)
		assert.Equal(t, "captain_aurora_reference.png", filepath.Base(path))
		assert.FileExists(t, filepath.Join(e.sinks.Frontend, asset.ReferenceDirName, "captain_aurora_reference.png"))
		assert.Equal(t, "a pilot in a silver suit standing in neutral pose", e.gen.requests[0].Prompt)
		assert.Empty(t, e.gen.requests[0].BaseImagePaths)
		assert.Equal(t, generator.ReferenceAspectRatio, e.gen.requests[0].AspectRatio)

		got, ok := e.cache.GetReference("captain-aurora")
		require.True(t, ok)
		assert.Equal(t, path, got)
	})

	t.Run("既存画像は条件付け入力として渡されること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "a small robot", "/tmp/rex_sketch.png")
		require.NoError(t, err)
		assert.Equal(t, []string{"/tmp/rex_sketch.png"}, e.gen.requests[0].BaseImagePaths)
	})

	t.Run("登録内容がファイルに永続化されること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "", "")
		require.NoError(t, err)

		reloaded, err := NewReferenceStore(e.refPath)
		require.NoError(t, err)
		ref, ok := reloaded.Get("rex")
		require.True(t, ok)
		assert.Equal(t, "Rex", ref.Name)
	})

	t.Run("再作成すると対応が上書きされること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "v1", "")
		require.NoError(t, err)
		_, err = e.cache.CreateReference(ctx, "Rex", "v2", "")
		require.NoError(t, err)
		assert.Len(t, e.cache.References(), 1)
		assert.Equal(t, "v2", e.cache.References()["rex"].Description)
	})

	t.Run("同じ名前の同時作成は1回の生成にまとめられること", func(t *testing.T) {
		e := newEnv(t)
		e.gen.delay = 100 * time.Millisecond

		var wg sync.WaitGroup
		paths := make([]string, 4)
		for i := range paths {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := e.cache.CreateReference(ctx, "Captain Aurora", "pilot", "")
				assert.NoError(t, err)
				paths[i] = p
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, e.gen.calls())
		for _, p := range paths {
			assert.Equal(t, paths[0], p)
		}
	})

	t.Run("生成失敗はジェネレーターのエラーとして返ること", func(t *testing.T) {
		e := newEnv(t)
		e.gen.err = fmt.Errorf("%w: boom", domain.ErrTimeout)
		_, err := e.cache.CreateReference(ctx, "Rex", "", "")
		assert.ErrorIs(t, err, domain.ErrTimeout)
	})
}

func TestGetReference_Fallback(t *testing.T) {
	e := newEnv(t)
	// 登録なしでファイルだけ置いておくのだ
	p := filepath.Join(e.sinks.Backend, asset.ReferenceDirName, "captain_aurora_reference.png")
	require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"正規化名で見つかること", "Captain Aurora", true},
		{"語順が違っても見つかること", "aurora captain", true},
		{"トークンの一部だけでは見つからないこと", "aurora", false},
		{"余分なトークンがあると見つからないこと", "captain aurora junior", false},
		{"空の名前は見つからないこと", "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.cache.GetReference(tt.query)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, p, got)
			}
		})
	}
}

func TestGenerateScene(t *testing.T) {
	ctx := context.Background()

	t.Run("リファレンスが無い場合はNoReferenceFoundになり未検証で記録されること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.GenerateScene(ctx, "Nobody", "waves", 2)
		assert.ErrorIs(t, err, domain.ErrNoReferenceFound)
		assert.Equal(t, 0, e.gen.calls(), "自動生成はしないこと")

		rec, err := e.registry.GetStatus(ctx, 2)
		require.NoError(t, err)
		assert.False(t, rec.Verified)
	})

	t.Run("リファレンスを条件にシーンを生成し検証済みにすること", func(t *testing.T) {
		e := newEnv(t)
		ref, err := e.cache.CreateReference(ctx, "Captain Aurora", "pilot", "")
		require.NoError(t, err)

		path, err := e.cache.GenerateScene(ctx, "Captain Aurora", "lands on the moon", 3)
		require.NoError(t, err)
		assert.Equal(t, "consistent_panel_003_captain_aurora.png", filepath.Base(path))
		assert.Equal(t, []string{ref}, e.gen.requests[1].BaseImagePaths)

		rec, err := e.registry.GetStatus(ctx, 3)
		require.NoError(t, err)
		assert.True(t, rec.Verified)
		assert.Equal(t, "consistent_panel_003_captain_aurora.png", rec.Filename)
	})

	t.Run("同一要求はキャッシュから返しリモート呼び出しをしないこと", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)

		p1, err := e.cache.GenerateScene(ctx, "Rex", "jumps", 1)
		require.NoError(t, err)
		p2, err := e.cache.GenerateScene(ctx, "rex", "jumps", 1)
		require.NoError(t, err)
		assert.Equal(t, p1, p2)
		assert.Equal(t, 2, e.gen.calls())
	})

	t.Run("キャッシュ済みでもファイルが消えていれば再生成すること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)

		p1, err := e.cache.GenerateScene(ctx, "Rex", "jumps", 1)
		require.NoError(t, err)
		require.NoError(t, os.Remove(filepath.Join(e.sinks.Frontend, asset.PanelDirName, filepath.Base(p1))))

		_, err = e.cache.GenerateScene(ctx, "Rex", "jumps", 1)
		require.NoError(t, err)
		assert.Equal(t, 3, e.gen.calls())
	})

	t.Run("ジェネレーターの失敗はPanelErrorとして返ること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)
		e.gen.err = fmt.Errorf("%w: 503", domain.ErrServer)

		_, err = e.cache.GenerateScene(ctx, "Rex", "jumps", 4)
		assert.ErrorIs(t, err, domain.ErrServer)
		var pe *domain.PanelError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 4, pe.PanelID)
	})
}

func TestGenerateMultiScene(t *testing.T) {
	ctx := context.Background()

	t.Run("リファレンスが1つしかない場合はInsufficientReferencesになること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)

		_, err = e.cache.GenerateMultiScene(ctx, []string{"Rex", "Nobody"}, "argue", 5)
		assert.ErrorIs(t, err, domain.ErrInsufficientReferences)
		assert.Equal(t, 1, e.gen.calls())
	})

	t.Run("2つ以上解決できれば全リファレンスを渡して生成すること", func(t *testing.T) {
		e := newEnv(t)
		r1, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)
		r2, err := e.cache.CreateReference(ctx, "Captain Aurora", "pilot", "")
		require.NoError(t, err)
		e.cache.now = func() time.Time { return time.Unix(1700000000, 0) }

		path, err := e.cache.GenerateMultiScene(ctx, []string{"Rex", "Captain Aurora", "Nobody"}, "argue", 5)
		require.NoError(t, err)
		assert.Equal(t, "multi_char_panel_005_rex_captain_aurora_1700000000.png", filepath.Base(path))

		last := e.gen.requests[len(e.gen.requests)-1]
		assert.Equal(t, []string{r1, r2}, last.BaseImagePaths)
		assert.Equal(t, DefaultMultiSceneTimeout, last.Timeout)
	})
}

func TestRefinePanel(t *testing.T) {
	ctx := context.Background()

	// scenePanel は検証済みのパネル 2 を用意するのだ
	scenePanel := func(t *testing.T, e *env) string {
		t.Helper()
		_, err := e.cache.CreateReference(ctx, "Rex", "robot", "")
		require.NoError(t, err)
		path, err := e.cache.GenerateScene(ctx, "Rex", "jumps", 2)
		require.NoError(t, err)
		return path
	}

	t.Run("パネル用ディレクトリのファイル名から手直しして配置し直すこと", func(t *testing.T) {
		e := newEnv(t)
		orig := scenePanel(t, e)

		path, err := e.cache.RefinePanel(ctx, 2, filepath.Base(orig), "add rain")
		require.NoError(t, err)
		name := filepath.Base(path)
		assert.True(t, strings.HasPrefix(name, "refined_panel_002_consistent_panel_002_rex_"), name)
		assert.FileExists(t, filepath.Join(e.sinks.Frontend, asset.PanelDirName, name))

		last := e.gen.requests[len(e.gen.requests)-1]
		require.Len(t, last.BaseImagePaths, 1)
		assert.True(t, filepath.IsAbs(last.BaseImagePaths[0]))
		assert.Equal(t, filepath.Base(orig), filepath.Base(last.BaseImagePaths[0]))
		assert.Contains(t, last.Prompt, "add rain")

		rec, err := e.registry.GetStatus(ctx, 2)
		require.NoError(t, err)
		assert.True(t, rec.Verified)
		assert.Equal(t, name, rec.Filename)
	})

	t.Run("手直し後に片方のシンクしか書けなければ検証済みから降格すること", func(t *testing.T) {
		e := newEnv(t)
		orig := scenePanel(t, e)

		// フロントエンドのパネル用ディレクトリをファイルに置き換えて書き込めなくするのだ
		frontendPanels := filepath.Join(e.sinks.Frontend, asset.PanelDirName)
		require.NoError(t, os.RemoveAll(frontendPanels))
		require.NoError(t, os.WriteFile(frontendPanels, []byte("x"), 0o644))

		_, err := e.cache.RefinePanel(ctx, 2, orig, "darker sky")
		require.NoError(t, err)

		rec, err := e.registry.GetStatus(ctx, 2)
		require.NoError(t, err)
		assert.True(t, rec.BackendSynced)
		assert.False(t, rec.FrontendSynced)
		assert.False(t, rec.Verified)
		assert.True(t, strings.HasPrefix(rec.Filename, "refined_panel_002_"))
	})

	t.Run("生成に失敗した場合は元のレコードを残すこと", func(t *testing.T) {
		e := newEnv(t)
		orig := scenePanel(t, e)
		e.gen.err = fmt.Errorf("%w: 503", domain.ErrServer)

		_, err := e.cache.RefinePanel(ctx, 2, orig, "add rain")
		assert.ErrorIs(t, err, domain.ErrServer)

		rec, err := e.registry.GetStatus(ctx, 2)
		require.NoError(t, err)
		assert.True(t, rec.Verified)
		assert.Equal(t, filepath.Base(orig), rec.Filename)
	})

	t.Run("元画像が無い場合はSourceNotFoundになること", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.cache.RefinePanel(ctx, 1, "nowhere.png", "add rain")
		assert.ErrorIs(t, err, domain.ErrSourceNotFound)
		assert.Zero(t, e.gen.calls())
	})
}

func TestPanelCache_Eviction(t *testing.T) {
	c := NewPanelCache(DefaultPanelCacheSize)
	keys := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		k := PanelCacheKey("hero", fmt.Sprintf("scene %d", i), i)
		keys = append(keys, k)
		c.Put(k, fmt.Sprintf("/p/%d.png", i))
	}

	assert.Equal(t, 10, c.Len())
	assert.Equal(t, keys[2:], c.Keys(), "最新の10件が挿入順に残ること")
	_, ok := c.Get(keys[0])
	assert.False(t, ok)
	_, ok = c.Get(keys[1])
	assert.False(t, ok)
	p, ok := c.Get(keys[11])
	require.True(t, ok)
	assert.Equal(t, "/p/12.png", p)
}

func TestPanelCacheKey(t *testing.T) {
	assert.Equal(t, PanelCacheKey("Captain Aurora", "x", 1), PanelCacheKey("captain-aurora", "x", 1))
	assert.NotEqual(t, PanelCacheKey("hero", "x", 1), PanelCacheKey("hero", "x", 2))
}
