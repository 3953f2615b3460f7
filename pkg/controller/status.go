package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// PanelState はスナップショット内の 1 パネル分の状態です。
type PanelState struct {
	PanelID int                `json:"panel_id"`
	Status  domain.PanelStatus `json:"status"`
	Record  domain.PanelRecord `json:"record"`
	// Present はレジストリにレコードが存在するかを示します。
	Present bool `json:"present"`
}

// Status はレジストリの読み取りだけで作る状態スナップショットです。
type Status struct {
	Expected   int          `json:"expected"`
	Verified   int          `json:"verified"`
	Unverified []int        `json:"unverified"`
	Panels     []PanelState `json:"panels"`
}

// Complete は全パネルが検証済みかを返します。
func (s Status) Complete() bool {
	return len(s.Unverified) == 0
}

// Status は 1..expected の全パネルを列挙したスナップショットを返します。
func (c *Controller) Status(ctx context.Context) (Status, error) {
	entries, err := c.registry.Snapshot(ctx, c.expected)
	if err != nil {
		return Status{}, err
	}

	st := Status{Expected: c.expected}
	for _, e := range entries {
		ps := PanelState{
			PanelID: e.PanelID,
			Status:  domain.StatusOf(e.Record.BackendSynced, e.Record.FrontendSynced),
			Record:  e.Record,
			Present: e.Present,
		}
		if e.Record.Verified {
			st.Verified++
		} else {
			st.Unverified = append(st.Unverified, e.PanelID)
		}
		st.Panels = append(st.Panels, ps)
	}
	return st, nil
}

// String はスナップショットを表形式で返します。
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PANEL STATUS: %d/%d verified\n", s.Verified, s.Expected)
	for _, p := range s.Panels {
		filename := p.Record.Filename
		if filename == "" {
			filename = "-"
		}
		fmt.Fprintf(&b, "  panel_%d  %-13s backend=%-5t frontend=%-5t verified=%-5t %s\n",
			p.PanelID, p.Status, p.Record.BackendSynced, p.Record.FrontendSynced, p.Record.Verified, filename)
	}
	if len(s.Unverified) > 0 {
		fmt.Fprintf(&b, "Unverified panels: %v\n", s.Unverified)
	} else {
		b.WriteString("All panels verified.\n")
	}
	return b.String()
}
