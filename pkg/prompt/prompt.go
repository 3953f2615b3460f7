// Package prompt は画像ジェネレーターへ渡す要求文を組み立てます。
package prompt

import (
	"fmt"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// RenderingStyle は描画の品質を一貫させるためのシステム指示です。
const RenderingStyle = `### GLOBAL VISUAL STYLE ###
- FORMAT: A single comic panel with a clear frame border.
- RENDERING: Sharp clean lineart, vibrant colors, no blurring, high contrast, cinematic lighting.
- CONSISTENCY: When reference images are given, keep every character's appearance identical to them.`

// Panel はキャラクターを含まないパネルの要求文です。
func Panel(p domain.Panel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comic panel %d: %s", p.Number, p.Description)
	if p.Dialogue != "" {
		fmt.Fprintf(&b, " Leave space for a speech balloon: %q", p.Dialogue)
	}
	return b.String()
}

// Reference はリファレンス画像 (立ち絵) の要求文です。description が空の場合は名前を使います。
func Reference(name, description string) string {
	if strings.TrimSpace(description) == "" {
		description = name
	}
	return fmt.Sprintf("%s standing in neutral pose", description)
}

// Scene は単一キャラクターのシーンの要求文です。
func Scene(panelID int, name, scene string) string {
	return fmt.Sprintf("Panel %d: %s in the following scene: %s. Keep the character's appearance identical to the reference image.", panelID, name, scene)
}

// MultiScene は複数キャラクターのシーンの要求文です。
func MultiScene(panelID int, names []string, scene string) string {
	return fmt.Sprintf("Panel %d: Create a comic scene with multiple characters: %s. Scene: %s", panelID, strings.Join(names, ", "), scene)
}

// Refine は既存のパネル画像を手直しする要求文です。
func Refine(panelID int, instruction string) string {
	return fmt.Sprintf("Panel %d: Refine and modify the existing comic panel image with these changes: %s. Maintain the comic art style and character consistency.", panelID, instruction)
}
