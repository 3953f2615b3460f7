package builder

import (
	"log/slog"

	"github.com/shouni/go-comic-kit/internal/config"
	"github.com/shouni/go-comic-kit/pkg/registry"
	"github.com/shouni/go-comic-kit/pkg/workflow"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
// これを各ユースケース関数に渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config   *config.Config     // Config は環境変数と CLI フラグを合成した設定です。
	Manager  *workflow.Manager  // Manager はジョブ単位の操作を提供します。
	Registry *registry.Registry // Registry は Close のために保持するのだ。
}

// Close は開いているストアを閉じるのだ。
func (a *AppContext) Close() error {
	if a == nil || a.Registry == nil {
		return nil
	}
	if err := a.Registry.Close(); err != nil {
		slog.Warn("レジストリのクローズに失敗しました", "error", err)
		return err
	}
	return nil
}
