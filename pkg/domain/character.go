package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// referenceSuffixes はリファレンス画像ファイル名の末尾に付くトークンです。
var referenceSuffixes = map[string]bool{"reference": true, "ref": true}

// CharacterReference は正規化済みキャラクター名と、その正規リファレンス画像の対応なのだ。
type CharacterReference struct {
	Key         string    `yaml:"key" json:"key"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Path        string    `yaml:"path" json:"path"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// NormalizeCharacterName は名前を小文字化し、空白とハイフンをアンダースコアに揃えるのだ。
// "Captain  Aurora" も "captain-aurora" も "captain_aurora" になるのだ。
func NormalizeCharacterName(name string) string {
	return strings.Join(NameTokens(name), "_")
}

// NameTokens は名前を小文字のトークン列に分解するのだ。
func NameTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '-' || r == '_'
	})
}

// FilenameTokens は画像ファイル名から拡張子と末尾の "reference" を除いたトークン列を返すのだ。
// 例: "captain_aurora_reference.png" -> [captain aurora]
func FilenameTokens(filename string) []string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tokens := NameTokens(base)
	if n := len(tokens); n > 1 && referenceSuffixes[tokens[n-1]] {
		tokens = tokens[:n-1]
	}
	return tokens
}

// SameTokenSet は順序を問わず 2 つのトークン集合が等しいかを判定するのだ。
func SameTokenSet(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// ReferenceFilename はキャラクターのリファレンス画像ファイル名を返すのだ。
func ReferenceFilename(name string) string {
	return NormalizeCharacterName(name) + "_reference.png"
}

// ScenePanelFilename は単一キャラクターのシーン画像ファイル名を返すのだ。
func ScenePanelFilename(panelID int, name string) string {
	return fmt.Sprintf("consistent_panel_%03d_%s.png", panelID, NormalizeCharacterName(name))
}

// MultiScenePanelFilename は複数キャラクターのシーン画像ファイル名を返すのだ。
func MultiScenePanelFilename(panelID int, names []string, at time.Time) string {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, NormalizeCharacterName(n))
	}
	return fmt.Sprintf("multi_char_panel_%03d_%s_%d.png", panelID, strings.Join(keys, "_"), at.Unix())
}

// RefinedPanelFilename は既存パネルを手直しした画像のファイル名を返すのだ。
func RefinedPanelFilename(panelID int, base string, at time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	return fmt.Sprintf("refined_panel_%03d_%s_%d.png", panelID, stem, at.UnixMilli())
}

// GetSeedFromName は名前から決定論的なシード値を生成します。
func GetSeedFromName(name string) int64 {
	hash := sha256.Sum256([]byte(NormalizeCharacterName(name)))
	seed := int32(binary.BigEndian.Uint32(hash[:4]))
	// Geminiのシード値は正の数が望ましいため、最上位ビットを落とすのだ
	return int64(seed & 0x7FFFFFFF)
}
