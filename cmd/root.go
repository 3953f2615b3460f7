package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shouni/go-comic-kit/internal/config"
	"github.com/shouni/go-comic-kit/internal/pipeline"
)

// opts は CLI フラグの値を受け取るのだ。
var opts config.Options

// rootCmd は go-comic-kit のルートコマンドなのだ。
var rootCmd = &cobra.Command{
	Use:   "comic-kit",
	Short: "コミックのパネル生成・検証・組み立てを行うのだ。",
	Long: `パネル画像を外部ジェネレーターで生成し、バックエンドとフロントエンドの両方へ配置するのだ。
レジストリで同期状態を管理し、全パネルが検証済みになった時だけ文書を組み立てるのだよ。`,
	SilenceUsage:      true,
	PersistentPreRunE: preRunAppE,
}

func init() {
	addAppFlags(rootCmd)
	rootCmd.AddCommand(
		startCmd,
		generateCmd,
		statusCmd,
		validateCmd,
		retryCmd,
		assembleCmd,
		runCmd,
		referenceCmd,
		sceneCmd,
		refineCmd,
	)
}

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "デバッグログを出力するのだ。")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "結果を JSON で出力するのだ。")
	cmd.PersistentFlags().IntVarP(&opts.Panels, "panels", "n", 0, "期待するパネル数なのだ（0 なら設定値）。")
}

// preRunAppE は、コマンド実行前にログの出力先とレベルを決めるのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// newRunner は設定を読み込んでフラグを反映した Runner を返すのだ。
func newRunner(cmd *cobra.Command) (*pipeline.Runner, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOptions(opts)
	return pipeline.New(cfg, cmd.OutOrStdout()), nil
}

// runWith は Runner の 1 操作を cobra の RunE に変換するのだ。
func runWith(op func(*pipeline.Runner, context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd)
		if err != nil {
			return err
		}
		return op(r, cmd.Context())
	}
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("コマンドの実行に失敗したのだ", "error", err)
		stop()
		os.Exit(1)
	}
}
