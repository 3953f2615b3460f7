package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-comic-kit/internal/pipeline"
)

// referenceCmd はキャラクターのリファレンス画像を扱うのだ。
var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "キャラクターのリファレンス画像を管理しますなのだ。",
}

var referenceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "リファレンス画像を作成しますなのだ。",
	RunE:  runWith((*pipeline.Runner).CreateReference),
}

var referenceGetCmd = &cobra.Command{
	Use:   "get",
	Short: "リファレンス画像を探しますなのだ。",
	RunE:  runWith((*pipeline.Runner).GetReference),
}

// sceneCmd は単一キャラクターのシーンを生成するのだ。
var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "キャラクターの一貫したシーンを生成しますなのだ。",
	RunE:  runWith((*pipeline.Runner).Scene),
}

// refineCmd は既存のパネル画像を手直しするのだ。
var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "既存のパネル画像を指示どおりに手直ししますなのだ。",
	RunE:  runWith((*pipeline.Runner).Refine),
}

func init() {
	referenceCmd.AddCommand(referenceCreateCmd, referenceGetCmd)
	referenceCmd.PersistentFlags().StringVar(&opts.Character, "name", "", "キャラクター名なのだ。")
	_ = referenceCmd.MarkPersistentFlagRequired("name")
	referenceCreateCmd.Flags().StringVarP(&opts.Description, "description", "d", "", "見た目の説明なのだ。")
	referenceCreateCmd.Flags().StringVarP(&opts.ExistingImage, "image", "i", "", "条件付けに使う既存の画像なのだ。")

	sceneCmd.Flags().StringVar(&opts.Character, "name", "", "キャラクター名なのだ。")
	sceneCmd.Flags().StringVarP(&opts.Scene, "scene", "s", "", "シーンの説明なのだ。")
	sceneCmd.Flags().IntVar(&opts.PanelID, "panel-id", 0, "パネル番号なのだ。")
	_ = sceneCmd.MarkFlagRequired("name")
	_ = sceneCmd.MarkFlagRequired("panel-id")

	refineCmd.Flags().IntVar(&opts.PanelID, "panel-id", 0, "パネル番号なのだ。")
	refineCmd.Flags().StringVarP(&opts.ExistingImage, "image", "i", "", "手直しする元の画像なのだ。")
	refineCmd.Flags().StringVar(&opts.Instruction, "instruction", "", "手直しの指示なのだ。")
	_ = refineCmd.MarkFlagRequired("panel-id")
	_ = refineCmd.MarkFlagRequired("image")
	_ = refineCmd.MarkFlagRequired("instruction")
}
