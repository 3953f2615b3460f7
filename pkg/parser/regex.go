package parser

import "regexp"

var (
	// TitleRegex は "# タイトル" 形式のタイトル行をキャプチャします。
	TitleRegex = regexp.MustCompile(`^#\s+(.+)`)

	// PanelRegex は "## Panel 3" 形式のパネル区切り行と番号をキャプチャします。
	PanelRegex = regexp.MustCompile(`(?i)^##\s+Panel\s*(\d+)?`)

	// FieldRegex は "- key: value" 形式のフィールド行をキャプチャします。
	FieldRegex = regexp.MustCompile(`^\s*-\s*([a-zA-Z_]+):\s*(.+)`)

	// ReportLineRegex は生成結果テキストの "Panel 3: ..." 行をキャプチャします。
	ReportLineRegex = regexp.MustCompile(`(?im)Panel\s*(\d+):\s*([^\n\r]+)`)

	// GeneratedFileRegex は生成ツールが付けるファイル名を拾います。
	GeneratedFileRegex = regexp.MustCompile(`((?:server_generated|consistent_panel|multi_char_panel|gemini)[^\s\]\)"',]*\.(?:png|jpe?g|webp))`)

	// FilenameLabelRegex は "Filename: xxx.png" 形式のラベルを拾います。
	FilenameLabelRegex = regexp.MustCompile(`(?i)Filename:\s*([^\s\n\r]+\.(?:png|jpe?g|webp))`)
)
