package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PanelKeyPrefix はレジストリ上のパネル識別子の接頭辞です。
const PanelKeyPrefix = "panel_"

// DefaultPanelCount は 1 ジョブあたりの既定パネル数です。
const DefaultPanelCount = 6

// PanelRecord はレジストリに永続化される 1 パネル分の同期状態です。
// Filename が空文字の場合は「未確定 (null)」を表します。
type PanelRecord struct {
	Filename       string `yaml:"filename,omitempty" json:"filename,omitempty" db:"filename"`
	BackendSynced  bool   `yaml:"backend_synced" json:"backend_synced" db:"backend_synced"`
	FrontendSynced bool   `yaml:"frontend_synced" json:"frontend_synced" db:"frontend_synced"`
	Verified       bool   `yaml:"verified" json:"verified" db:"verified"`
}

// HasFilename はファイル名が確定しているかを返します。
func (r PanelRecord) HasFilename() bool {
	return r.Filename != ""
}

// PanelUpdate はレジストリへの部分更新です。nil のフィールドは変更しません。
// Filename に空文字へのポインタを渡すとファイル名をクリアします。
type PanelUpdate struct {
	Filename       *string
	BackendSynced  *bool
	FrontendSynced *bool

	// Force は検証済みレコードの降格を明示的に許可します。
	Force bool
}

// SyncUpdate は両シンクの同期結果とファイル名をまとめて設定する更新を作るヘルパーです。
func SyncUpdate(filename string, backend, frontend bool) PanelUpdate {
	return PanelUpdate{
		Filename:       &filename,
		BackendSynced:  &backend,
		FrontendSynced: &frontend,
	}
}

// MissingUpdate はパネルを未生成 (filename=null, verified=false) として記録する更新です。
func MissingUpdate() PanelUpdate {
	return SyncUpdate("", false, false)
}

// Apply は更新をレコードに適用した結果を返します。
// いずれかの同期フラグが指定された場合、Verified は両フラグから再計算されます。
func (u PanelUpdate) Apply(rec PanelRecord) PanelRecord {
	next := rec
	if u.Filename != nil {
		next.Filename = *u.Filename
	}
	if u.BackendSynced != nil {
		next.BackendSynced = *u.BackendSynced
	}
	if u.FrontendSynced != nil {
		next.FrontendSynced = *u.FrontendSynced
	}
	if u.BackendSynced != nil || u.FrontendSynced != nil {
		next.Verified = next.BackendSynced && next.FrontendSynced
	}
	return next
}

// PanelKey はパネル番号をレジストリキー ("panel_N") に変換します。
func PanelKey(panelID int) string {
	return PanelKeyPrefix + strconv.Itoa(panelID)
}

// ParsePanelID は "panel_3"、"Panel 3"、"3" のいずれの表記からもパネル番号を取り出します。
func ParsePanelID(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "panel")
	s = strings.TrimLeft(s, "_- ")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid panel id %q", ErrMalformedInput, raw)
	}
	return n, nil
}

// CheckRange はパネル番号が 1..expected の範囲にあるかを検証します。
func CheckRange(panelID, expected int) error {
	if panelID < 1 || panelID > expected {
		return fmt.Errorf("%w: panel %d is outside 1..%d", ErrPanelOutOfRange, panelID, expected)
	}
	return nil
}

// PanelIDs は 1..n のパネル番号を返します。
func PanelIDs(n int) []int {
	ids := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, i)
	}
	return ids
}

// Panel はプランナーから渡される 1 コマ分の構成です。
type Panel struct {
	Number      int      `yaml:"panel_number" json:"panel_number"`
	Description string   `yaml:"description" json:"description"`
	Dialogue    string   `yaml:"dialogue" json:"dialogue"`
	Characters  []string `yaml:"characters,omitempty" json:"characters,omitempty"`
}

// Panels はプランナー出力のパネル列です。
type Panels []Panel

// Validate はパネル番号がちょうど 1..expected を欠番・重複なく覆っているかを検証します。
func (ps Panels) Validate(expected int) error {
	if len(ps) != expected {
		return fmt.Errorf("%w: plan has %d panels, expected %d", ErrPanelOutOfRange, len(ps), expected)
	}
	seen := make(map[int]bool, len(ps))
	for _, p := range ps {
		if err := CheckRange(p.Number, expected); err != nil {
			return err
		}
		if seen[p.Number] {
			return fmt.Errorf("%w: panel %d appears twice", ErrPanelOutOfRange, p.Number)
		}
		seen[p.Number] = true
	}
	return nil
}

// ByNumber はパネル番号をキーにしたマップを返します。
func (ps Panels) ByNumber() map[int]Panel {
	m := make(map[int]Panel, len(ps))
	for _, p := range ps {
		m[p.Number] = p
	}
	return m
}

// UniqueCharacters はパネル群に登場するキャラクター名を正規化済みで重複なく返します。
func (ps Panels) UniqueCharacters() []string {
	set := make(map[string]struct{})
	var names []string
	for _, panel := range ps {
		for _, name := range panel.Characters {
			key := NormalizeCharacterName(name)
			if key == "" {
				continue
			}
			if _, ok := set[key]; ok {
				continue
			}
			set[key] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// PanelStatus はバリデーション時のパネル状態です。
type PanelStatus string

const (
	StatusValid        PanelStatus = "VALID"
	StatusBackendOnly  PanelStatus = "BACKEND-ONLY"
	StatusFrontendOnly PanelStatus = "FRONTEND-ONLY"
	StatusMissing      PanelStatus = "MISSING"
)

// StatusOf は両シンクの確認結果から状態を決めます。
func StatusOf(backend, frontend bool) PanelStatus {
	switch {
	case backend && frontend:
		return StatusValid
	case backend:
		return StatusBackendOnly
	case frontend:
		return StatusFrontendOnly
	default:
		return StatusMissing
	}
}
