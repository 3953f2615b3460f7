package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPanelUpdate_Apply(t *testing.T) {
	t.Run("同期フラグからverifiedが再計算されること", func(t *testing.T) {
		rec := SyncUpdate("a.png", true, true).Apply(PanelRecord{})
		assert.True(t, rec.Verified)
		assert.Equal(t, "a.png", rec.Filename)
	})

	t.Run("片方のフラグだけの更新でも再計算されること", func(t *testing.T) {
		f := false
		rec := PanelUpdate{FrontendSynced: &f}.Apply(PanelRecord{Filename: "a.png", BackendSynced: true, FrontendSynced: true, Verified: true})
		assert.False(t, rec.Verified)
		assert.True(t, rec.BackendSynced)
	})

	t.Run("未指定のフィールドは変更されないこと", func(t *testing.T) {
		in := PanelRecord{Filename: "a.png", BackendSynced: true}
		assert.Equal(t, in, PanelUpdate{}.Apply(in))
	})

	t.Run("MissingUpdateはファイル名をクリアすること", func(t *testing.T) {
		rec := MissingUpdate().Apply(PanelRecord{Filename: "a.png", BackendSynced: true})
		assert.False(t, rec.HasFilename())
		assert.False(t, rec.Verified)
	})
}

func TestParsePanelID(t *testing.T) {
	for _, raw := range []string{"3", "panel_3", "Panel 3", "panel3"} {
		id, err := ParsePanelID(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 3, id, raw)
	}

	_, err := ParsePanelID("three")
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestPanels_Validate(t *testing.T) {
	t.Run("1..Nを覆うプランは有効であること", func(t *testing.T) {
		ps := Panels{{Number: 2}, {Number: 1}, {Number: 3}}
		assert.NoError(t, ps.Validate(3))
	})

	t.Run("欠番はPanelOutOfRangeになること", func(t *testing.T) {
		ps := Panels{{Number: 1}, {Number: 3}, {Number: 4}}
		assert.ErrorIs(t, ps.Validate(3), ErrPanelOutOfRange)
	})

	t.Run("重複はPanelOutOfRangeになること", func(t *testing.T) {
		ps := Panels{{Number: 1}, {Number: 1}}
		assert.ErrorIs(t, ps.Validate(2), ErrPanelOutOfRange)
	})
}

func TestPanels_UniqueCharacters(t *testing.T) {
	ps := Panels{
		{Number: 1, Characters: []string{"Captain Aurora", "Rex"}},
		{Number: 2, Characters: []string{"captain-aurora"}},
	}
	assert.Equal(t, []string{"Captain Aurora", "Rex"}, ps.UniqueCharacters())
}

func TestOneOrMany_Decode(t *testing.T) {
	t.Run("JSONの文字列とリストの両方を受け付けること", func(t *testing.T) {
		var m PanelMap
		require.NoError(t, json.Unmarshal([]byte(`{"1":"a.png","2":["b.png","c.png"]}`), &m))
		assert.False(t, m["1"].IsMany())
		assert.Equal(t, []string{"a.png"}, m["1"].Candidates())
		assert.True(t, m["2"].IsMany())
		assert.Equal(t, []string{"b.png", "c.png"}, m["2"].Candidates())
	})

	t.Run("YAMLでも同じように解釈されること", func(t *testing.T) {
		var m PanelMap
		require.NoError(t, yaml.Unmarshal([]byte("\"1\": a.png\n\"2\":\n  - b.png\n"), &m))
		assert.Equal(t, []string{"a.png"}, m["1"].Candidates())
		assert.Equal(t, []string{"b.png"}, m["2"].Candidates())
	})

	t.Run("数値などの不正な値はMalformedInputになること", func(t *testing.T) {
		var m PanelMap
		err := json.Unmarshal([]byte(`{"1":{"x":1}}`), &m)
		assert.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("FAILEDマーカーを検出できること", func(t *testing.T) {
		assert.True(t, Many("a.png", "FAILED").HasFailedMarker())
		assert.False(t, One("a.png").HasFailedMarker())
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusValid, StatusOf(true, true))
	assert.Equal(t, StatusBackendOnly, StatusOf(true, false))
	assert.Equal(t, StatusFrontendOnly, StatusOf(false, true))
	assert.Equal(t, StatusMissing, StatusOf(false, false))
}

func TestErrorKind(t *testing.T) {
	err := NewPanelError(2, ErrSourceNotFound)
	assert.Equal(t, "SourceNotFound", ErrorKind(err))
	var pe *PanelError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.PanelID)
	assert.Nil(t, NewPanelError(1, nil))
}
