package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCharacterName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"大文字と空白を正規化できること", "Captain Aurora", "captain_aurora"},
		{"ハイフンも区切りとして扱うこと", "captain-aurora", "captain_aurora"},
		{"連続した空白を畳み込むこと", "  Captain   Aurora ", "captain_aurora"},
		{"空文字は空のままであること", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCharacterName(tt.input))
		})
	}
}

func TestFilenameTokens(t *testing.T) {
	t.Run("reference 接尾辞と拡張子を除去できること", func(t *testing.T) {
		assert.Equal(t, []string{"captain", "aurora"}, FilenameTokens("/refs/captain_aurora_reference.png"))
	})

	t.Run("単独の reference は名前として残ること", func(t *testing.T) {
		assert.Equal(t, []string{"reference"}, FilenameTokens("reference.png"))
	})
}

func TestSameTokenSet(t *testing.T) {
	assert.True(t, SameTokenSet([]string{"aurora", "captain"}, []string{"captain", "aurora"}))
	assert.False(t, SameTokenSet([]string{"captain", "aurora"}, []string{"captain", "aurora", "junior"}))
	assert.False(t, SameTokenSet(nil, nil))
}

func TestGeneratedFilenames(t *testing.T) {
	assert.Equal(t, "captain_aurora_reference.png", ReferenceFilename("Captain Aurora"))
	assert.Equal(t, "consistent_panel_003_captain_aurora.png", ScenePanelFilename(3, "Captain Aurora"))

	at := time.Unix(1700000000, 0)
	assert.Equal(t, "multi_char_panel_002_hero_villain_1700000000.png",
		MultiScenePanelFilename(2, []string{"Hero", "Villain"}, at))
}

func TestGetSeedFromName(t *testing.T) {
	t.Run("同じ名前から同じSeedが生成されること", func(t *testing.T) {
		assert.Equal(t, GetSeedFromName("Captain Aurora"), GetSeedFromName("captain-aurora"))
	})

	t.Run("Seedが正の値であること", func(t *testing.T) {
		assert.GreaterOrEqual(t, GetSeedFromName("Unknown"), int64(0))
	})
}
