package validator

import (
	"fmt"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// Outcome は検証全体の結果です。
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
)

// PanelResult は 1 パネル分の判定です。
type PanelResult struct {
	PanelID    int                `json:"panel_id"`
	Status     domain.PanelStatus `json:"status"`
	Filename   string             `json:"filename,omitempty"`
	Candidates []string           `json:"candidates,omitempty"`
	// Partial はどの候補も両シンクに揃っておらず、先頭候補を採用したことを示します。
	Partial bool `json:"partial,omitempty"`
	// Retained は検証済みレコードを降格せずに維持したことを示します。
	Retained bool   `json:"retained,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Report は検証レポートです。1..Expected の全パネルを必ず含みます。
type Report struct {
	Expected     int           `json:"expected"`
	Policy       Policy        `json:"policy"`
	Panels       []PanelResult `json:"panels"`
	Valid        int           `json:"valid"`
	BackendOnly  int           `json:"backend_only"`
	FrontendOnly int           `json:"frontend_only"`
	Missing      int           `json:"missing"`
	Outcome      Outcome       `json:"outcome"`
}

func (r *Report) add(p PanelResult) {
	r.Panels = append(r.Panels, p)
	switch p.Status {
	case domain.StatusValid:
		r.Valid++
	case domain.StatusBackendOnly:
		r.BackendOnly++
	case domain.StatusFrontendOnly:
		r.FrontendOnly++
	default:
		r.Missing++
	}
}

func (r *Report) finish() {
	r.Outcome = OutcomePass
	if r.Valid != r.Expected {
		r.Outcome = OutcomeFail
	}
}

// Passed は全パネルが両シンクで有効かを返します。
func (r *Report) Passed() bool {
	return r.Outcome == OutcomePass
}

// Failed は完全に有効でないパネル番号を昇順で返します。
func (r *Report) Failed() []int {
	var ids []int
	for _, p := range r.Panels {
		if p.Status != domain.StatusValid {
			ids = append(ids, p.PanelID)
		}
	}
	return ids
}

// String は人が読むためのレポートを返します。
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("PANEL VALIDATION REPORT\n")
	fmt.Fprintf(&b, "Expected panels: %d (policy: %s)\n\n", r.Expected, r.Policy)
	for _, p := range r.Panels {
		fmt.Fprintf(&b, "- Panel %d: %s", p.PanelID, statusLabel(p.Status))
		if p.Filename != "" {
			fmt.Fprintf(&b, " %s", p.Filename)
		}
		switch {
		case p.Retained:
			b.WriteString(" (retained verified record)")
		case p.Partial && p.Status != domain.StatusMissing:
			b.WriteString(" (partial)")
		}
		if p.Reason != "" {
			fmt.Fprintf(&b, " - %s", p.Reason)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nSUMMARY: %d valid, %d backend only, %d frontend only, %d missing\n",
		r.Valid, r.BackendOnly, r.FrontendOnly, r.Missing)
	fmt.Fprintf(&b, "VALIDATION STATUS: %s\n", r.Outcome)
	return b.String()
}

func statusLabel(s domain.PanelStatus) string {
	switch s {
	case domain.StatusBackendOnly:
		return "BACKEND ONLY"
	case domain.StatusFrontendOnly:
		return "FRONTEND ONLY"
	default:
		return string(s)
	}
}
