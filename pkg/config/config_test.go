package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.SourceDir = filepath.Join(root, "generated")
	cfg.BackendDir = filepath.Join(root, "backend")
	cfg.FrontendDir = filepath.Join(root, "frontend")
	for _, d := range []string{cfg.SourceDir, cfg.BackendDir, cfg.FrontendDir} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6, cfg.PanelCount)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.PanelCacheSize)
	assert.Equal(t, RegistryBackendYAML, cfg.RegistryBackend)
}

func TestValidate(t *testing.T) {
	t.Run("ディレクトリが揃っていれば成功すること", func(t *testing.T) {
		assert.NoError(t, validConfig(t).Validate())
	})

	t.Run("存在しないフロントエンドで即座に失敗すること", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.FrontendDir = filepath.Join(t.TempDir(), "nope")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frontend")
	})

	t.Run("不正な数値と方式をまとめて報告すること", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.PanelCount = 0
		cfg.RegistryBackend = "redis"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "パネル数")
		assert.Contains(t, err.Error(), "redis")
	})

	t.Run("geminiジェネレーターはAPIキーが無いと失敗すること", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.GeneratorBackend = GeneratorBackendGemini
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEMINI_API_KEY")

		cfg.GeminiAPIKey = "key"
		assert.NoError(t, cfg.Validate())
	})
}

func TestEnsureSinks(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.EnsureSinks())
	assert.DirExists(t, filepath.Join(cfg.BackendDir, asset.PanelDirName))
	assert.DirExists(t, filepath.Join(cfg.FrontendDir, asset.ReferenceDirName))
}
