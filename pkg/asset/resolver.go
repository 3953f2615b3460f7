package asset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shouni/go-utils/urlpath"
)

const (
	// PanelDirName は各シンク内でパネル画像を格納するディレクトリ名です。
	PanelDirName = "comic_panels"
	// ReferenceDirName は各シンク内でキャラクターのリファレンス画像を格納するディレクトリ名です。
	ReferenceDirName = "character_references"
	// DefaultPanelFileName はアップストリームが推測で出しがちな汎用パネル名のベースです。
	DefaultPanelFileName = "panel.png"
)

// GuessedPanelRegex は panel_1.png / Panel1.png のような推測されたファイル名に一致します。
var GuessedPanelRegex = createIndexedRegex(DefaultPanelFileName)

// Kind は画像の種類で、シンク内の格納先ディレクトリを決めます。
type Kind int

const (
	KindPanel Kind = iota
	KindReference
)

// DirName は種類ごとのディレクトリ名を返します。
func (k Kind) DirName() string {
	if k == KindReference {
		return ReferenceDirName
	}
	return PanelDirName
}

// IsGuessedFilename はファイル名が汎用の推測パターンに一致するかを返します。
func IsGuessedFilename(name string) bool {
	return GuessedPanelRegex.MatchString(filepath.Base(name))
}

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から最終的な出力パスを生成します。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	return urlpath.ResolveOutputPath(baseDir, fileName)
}

// createIndexedRegex は、ファイル名に基づき連番付きファイル用の正規表現を生成します。
// 大文字小文字を区別せず、連番前のアンダースコアは省略可能です。
// 例: "panel.png" -> (?i)^panel_?\d+\.png$
func createIndexedRegex(fileName string) *regexp.Regexp {
	ext := filepath.Ext(fileName)
	baseName := strings.TrimSuffix(fileName, ext)

	pattern := fmt.Sprintf(`(?i)^%s_?\d+%s$`, regexp.QuoteMeta(baseName), regexp.QuoteMeta(ext))
	return regexp.MustCompile(pattern)
}
