package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-comic-kit/internal/pipeline"
)

// startCmd はレジストリをクリアして新しいジョブを始めるのだ。
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "新しいジョブを開始しますなのだ。",
	Long: `プランナーのパネル計画（JSON / YAML / Markdown）を読み込み、レジストリをクリアしてジョブを開始するのだ。
以前のジョブの検証済みフラグはここでだけ消えるのだよ。`,
	RunE: runWith((*pipeline.Runner).Start),
}

// generateCmd はパネル画像を生成するのだ。
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "パネル画像を生成しますなのだ。",
	RunE:  runWith((*pipeline.Runner).Generate),
}

// statusCmd はレジストリの状態を表示するだけで、何も変更しないのだ。
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "パネルの同期状態を表示しますなのだ。",
	RunE:  runWith((*pipeline.Runner).Status),
}

// validateCmd は対応表を検証するのだ。
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "パネル対応表を検証しますなのだ。",
	Long: `--panel-map に JSON / YAML の対応表か、生成レポートのテキストを渡すのだ。
省略した場合はレジストリに記録されたファイル名で検証するのだよ。`,
	RunE: runWith((*pipeline.Runner).Validate),
}

// retryCmd はリトライ判定をして、必要なら失敗パネルだけを再生成するのだ。
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "失敗したパネルを再生成しますなのだ。",
	RunE:  runWith((*pipeline.Runner).Retry),
}

// assembleCmd は全パネルが検証済みの時だけ文書を組み立てるのだ。
var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "コミック文書を組み立てますなのだ。",
	RunE:  runWith((*pipeline.Runner).Assemble),
}

// runCmd は生成から組み立てまでを自動で進めるのだ。
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "生成・検証・リトライ・組み立てを自動で実行しますなのだ。",
	RunE:  runWith((*pipeline.Runner).Run),
}

func init() {
	startCmd.Flags().StringVarP(&opts.PlanFile, "plan", "f", "", "パネル計画ファイルのパスなのだ。")
	startCmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "ジョブのトピックなのだ。")
	startCmd.Flags().StringVar(&opts.Title, "title", "", "コミックのタイトルなのだ。")

	generateCmd.Flags().IntSliceVarP(&opts.PanelIDs, "panel", "p", nil, "生成するパネル番号なのだ（省略で全パネル）。")

	validateCmd.Flags().StringVarP(&opts.PanelMapFile, "panel-map", "m", "", "対応表または生成レポートのパスなのだ。")
	validateCmd.Flags().BoolVar(&opts.Recheck, "recheck", false, "検証済みのパネルも再検査して降格を許すのだ。")

	retryCmd.Flags().IntSliceVarP(&opts.PanelIDs, "panel", "p", nil, "リトライ対象のパネル番号なのだ（省略でレジストリの未検証パネル）。")
}
