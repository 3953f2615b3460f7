package workflow

import (
	"github.com/shouni/go-comic-kit/pkg/assembly"
	"github.com/shouni/go-comic-kit/pkg/controller"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/publisher"
	"github.com/shouni/go-comic-kit/pkg/validator"
)

// パネル単位の結果の分類です。
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// PanelOutcome は 1 パネル分の生成結果です。失敗してもジョブ全体は止めません。
type PanelOutcome struct {
	PanelID  int    `json:"panel_id"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	Outcome  string `json:"outcome"`
	// ErrorKind は失敗の分類名 (例: "Timeout", "NoReferenceFound") です。
	ErrorKind string `json:"error_kind,omitempty"`
	Err       error  `json:"-"`
}

// GenerateResult は 1 回の生成パスの結果です。
type GenerateResult struct {
	Attempt int            `json:"attempt"`
	Panels  []PanelOutcome `json:"panels"`
}

// Failed は完全に成功しなかったパネル番号を返します。
func (r *GenerateResult) Failed() []int {
	var ids []int
	for _, p := range r.Panels {
		if p.Outcome != OutcomeSuccess {
			ids = append(ids, p.PanelID)
		}
	}
	return ids
}

// PanelMap は生成結果を検証用の対応表に変換します。失敗したパネルには FAILED マーカーを入れます。
func (r *GenerateResult) PanelMap() domain.PanelMap {
	m := make(domain.PanelMap, len(r.Panels))
	for _, p := range r.Panels {
		if p.Outcome == OutcomeFailed || p.Filename == "" {
			m[domain.PanelKey(p.PanelID)] = domain.One(domain.FailedMarker + ": " + p.ErrorKind)
			continue
		}
		m[domain.PanelKey(p.PanelID)] = domain.One(p.Filename)
	}
	return m
}

// RetryResult はリトライ判定と、実行した場合はその生成パスの結果です。
type RetryResult struct {
	Evaluation controller.Evaluation `json:"evaluation"`
	Generation *GenerateResult       `json:"generation,omitempty"`
}

// AssembleResult は組み立てと書き出しの結果です。
type AssembleResult struct {
	Document  *assembly.Document      `json:"document"`
	Published publisher.PublishResult `json:"published"`
}

// RunResult は自動実行の全記録です。
type RunResult struct {
	Initial  *GenerateResult     `json:"initial"`
	Reports  []*validator.Report `json:"reports"`
	Retries  []*RetryResult      `json:"retries,omitempty"`
	Assembly *AssembleResult     `json:"assembly,omitempty"`
}
