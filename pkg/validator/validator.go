// Package validator はアップストリームが主張するパネル対応表を実際のシンクの状態と突き合わせ、
// レジストリを更新したうえで PASS/FAIL のレポートを返します。
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/retry"
)

// Policy は検証済みパネルに対する再検証の方針です。
type Policy string

const (
	// PolicyMonotonic は一度 verified になったパネルを Validator からは降格させません。
	PolicyMonotonic Policy = "monotonic"
	// PolicyRecheck は観測結果で verified を上書きします。
	PolicyRecheck Policy = "recheck"
)

// ParsePolicy は文字列から Policy を返します。
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyMonotonic, "":
		return PolicyMonotonic, nil
	case PolicyRecheck:
		return PolicyRecheck, nil
	default:
		return "", fmt.Errorf("不明な検証ポリシーです: %q", s)
	}
}

var filenameLabelRegex = regexp.MustCompile(`(?i)Filename:\s*(\S+)`)

// errIncomplete は同期ポーリングを続けるための内部シグナルです。
var errIncomplete = errors.New("no candidate is present in both sinks")

// GuessedFilenameError は汎用的な推測ファイル名が渡されたことを表します。
type GuessedFilenameError struct {
	PanelID  int
	Filename string
}

func (e *GuessedFilenameError) Error() string {
	return fmt.Sprintf("panel %d: filename %q looks guessed (upstream parsing failure): %v", e.PanelID, e.Filename, domain.ErrGuessedFilename)
}

func (e *GuessedFilenameError) Unwrap() error {
	return domain.ErrGuessedFilename
}

// RecordStore は Validator が使うレジストリの操作です。
type RecordStore interface {
	GetStatus(ctx context.Context, panelID int) (domain.PanelRecord, error)
	Update(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error)
}

// Options は Validator の設定です。
type Options struct {
	Sinks  asset.Sinks
	Policy Policy
	// Poll は MISSING と判定する前の同期ポーリングです。既定は 1 回だけ確認します。
	Poll retry.Policy
}

// Validator はパネル検証器です。
type Validator struct {
	opts     Options
	registry RecordStore
}

// New は Validator を初期化します。
func New(opts Options, registry RecordStore) (*Validator, error) {
	if registry == nil {
		return nil, fmt.Errorf("RecordStore は必須です")
	}
	if opts.Sinks.Backend == "" || opts.Sinks.Frontend == "" {
		return nil, fmt.Errorf("バックエンドとフロントエンドのシンクは必須です")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyMonotonic
	}
	if opts.Poll.Attempts < 1 {
		opts.Poll.Attempts = 1
	}
	return &Validator{opts: opts, registry: registry}, nil
}

// Validate は 1..expected の全パネルを検証します。
// 範囲外のキー・不正なキー・推測ファイル名はレジストリを変更する前に呼び出し全体を中断します。
func (v *Validator) Validate(ctx context.Context, panelMap domain.PanelMap, expected int) (*Report, error) {
	if expected < 1 {
		return nil, fmt.Errorf("%w: expected panel count %d", domain.ErrMalformedInput, expected)
	}

	// COLLECTING
	claims, err := collect(panelMap, expected)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "パネル検証を開始します", "expected", expected, "claimed", len(claims), "policy", v.opts.Policy)

	// CHECKING
	report := &Report{Expected: expected, Policy: v.opts.Policy}
	for _, id := range domain.PanelIDs(expected) {
		res, err := v.checkPanel(ctx, id, claims[id])
		if err != nil {
			return nil, err
		}
		report.add(res)
	}

	report.finish()
	slog.InfoContext(ctx, "パネル検証が完了しました",
		"outcome", report.Outcome,
		"valid", report.Valid,
		"backend_only", report.BackendOnly,
		"frontend_only", report.FrontendOnly,
		"missing", report.Missing,
	)
	return report, nil
}

type claim struct {
	candidates []string
	failed     bool
}

// collect はキーを検証して候補を正規化し、推測ファイル名を検出します。
// 推測ファイル名は上流の解析失敗を示すので、範囲や重複より先に全エントリを走査して報告するのだ。
func collect(panelMap domain.PanelMap, expected int) (map[int]claim, error) {
	type entry struct {
		key string
		id  int
	}
	entries := make([]entry, 0, len(panelMap))
	var keyErr error
	for k := range panelMap {
		id, err := domain.ParsePanelID(k)
		if err != nil {
			if keyErr == nil {
				keyErr = err
			}
			continue
		}
		entries = append(entries, entry{key: k, id: id})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].id != entries[j].id {
			return entries[i].id < entries[j].id
		}
		return entries[i].key < entries[j].key
	})

	// 1 周目: 推測ファイル名
	normalized := make(map[string][]string, len(entries))
	for _, e := range entries {
		raw := panelMap[e.key]
		if raw.HasFailedMarker() {
			continue
		}
		for _, cand := range raw.Candidates() {
			name := NormalizeFilename(cand)
			if name == "" {
				continue
			}
			if asset.IsGuessedFilename(name) {
				return nil, &GuessedFilenameError{PanelID: e.id, Filename: name}
			}
			normalized[e.key] = append(normalized[e.key], name)
		}
	}
	if keyErr != nil {
		return nil, keyErr
	}

	// 2 周目: 範囲と重複
	claims := make(map[int]claim, len(entries))
	for _, e := range entries {
		if err := domain.CheckRange(e.id, expected); err != nil {
			return nil, err
		}
		if _, dup := claims[e.id]; dup {
			return nil, fmt.Errorf("%w: panel %d is mapped more than once", domain.ErrMalformedInput, e.id)
		}
		claims[e.id] = claim{
			candidates: normalized[e.key],
			failed:     panelMap[e.key].HasFailedMarker(),
		}
	}
	return claims, nil
}

// NormalizeFilename は候補を素のファイル名にします。
// 自由記述のレポートから紛れ込んだ "Filename: X" の前置きとディレクトリ部分を取り除きます。
func NormalizeFilename(raw string) string {
	s := strings.TrimSpace(raw)
	if m := filenameLabelRegex.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.Trim(s, "\"'`[]()")
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	base := path.Base(s)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func (v *Validator) checkPanel(ctx context.Context, id int, c claim) (PanelResult, error) {
	res := PanelResult{PanelID: id, Candidates: c.candidates}

	if c.failed || len(c.candidates) == 0 {
		res.Reason = "no filename provided"
		if c.failed {
			res.Reason = "generation reported FAILED"
		}
		rec, err := v.registry.Update(ctx, id, v.force(domain.MissingUpdate()))
		if err != nil {
			return res, err
		}
		return fromRecord(res, rec, false), nil
	}

	chosen, backend, frontend := v.choose(ctx, c.candidates)
	res.Filename = chosen
	res.Partial = !(backend && frontend)

	rec, err := v.registry.Update(ctx, id, v.force(domain.SyncUpdate(chosen, backend, frontend)))
	if err != nil {
		return res, err
	}
	return fromRecord(res, rec, backend && frontend), nil
}

// choose は両シンクに揃っている最初の候補を選びます。揃っていなければ先頭の候補を部分一致として返します。
func (v *Validator) choose(ctx context.Context, candidates []string) (string, bool, bool) {
	var (
		chosen            = candidates[0]
		backend, frontend bool
	)
	_ = retry.Do(ctx, v.opts.Poll, func(context.Context) error {
		for i, name := range candidates {
			b, f := v.opts.Sinks.Check(asset.KindPanel, name)
			if b && f {
				chosen, backend, frontend = name, true, true
				return nil
			}
			if i == 0 {
				backend, frontend = b, f
			}
		}
		slog.DebugContext(ctx, "両シンクに揃った候補がありません", "candidates", candidates)
		return errIncomplete
	})
	if !(backend && frontend) {
		chosen = candidates[0]
	}
	return chosen, backend, frontend
}

func (v *Validator) force(u domain.PanelUpdate) domain.PanelUpdate {
	u.Force = v.opts.Policy == PolicyRecheck
	return u
}

// fromRecord はレジストリに実際に残った状態からパネルの判定を決めます。
// 降格が破棄された場合は検証済みレコードのほうを報告します。
func fromRecord(res PanelResult, rec domain.PanelRecord, observedComplete bool) PanelResult {
	res.Status = domain.StatusOf(rec.BackendSynced, rec.FrontendSynced)
	if rec.Verified {
		res.Status = domain.StatusValid
	}
	if rec.Verified && !observedComplete {
		res.Retained = true
		res.Filename = rec.Filename
		res.Partial = false
	}
	if res.Status == domain.StatusMissing && res.Reason == "" {
		res.Reason = "not found in either sink"
	}
	if res.Status == domain.StatusValid {
		res.Reason = ""
	}
	return res
}
