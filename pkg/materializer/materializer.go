// Package materializer は生成済み画像をバックエンド・フロントエンドの両シンクへ配置し、
// 実際に達成できた同期状態をレジストリへ記録します。
package materializer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/retry"
)

// RecordUpdater はレジストリの更新口です。
type RecordUpdater interface {
	Update(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error)
}

// Options は Materializer の動作設定です。
type Options struct {
	// SourceDir はジェネレーターが返す相対パスを解決するベースディレクトリです。
	SourceDir string
	Sinks     asset.Sinks
	// Poll はソース画像が見えるようになるまでのポーリング設定です。
	Poll retry.Policy
}

// Request は 1 枚の画像配置要求です。
type Request struct {
	// PanelID が 0 の場合はレジストリを更新しません (リファレンス画像など)。
	PanelID int
	Kind    asset.Kind
	// Source はジェネレーターが返したパスまたはサーバー相対の識別子です。
	Source string
	// TargetFilename が空の場合はソースのファイル名を使います。
	TargetFilename string
}

// SinkFailure は片方のシンクへの書き込み失敗です。
type SinkFailure struct {
	Sink string
	Err  error
}

// Result は配置の結果です。BackendSynced/FrontendSynced は実際に達成できたものだけが true です。
type Result struct {
	PanelID        int
	Filename       string
	SourcePath     string
	BackendPath    string
	FrontendPath   string
	BackendSynced  bool
	FrontendSynced bool
	Failures       []SinkFailure
	Record         domain.PanelRecord
}

// Complete は両シンクへの配置が済んでいるかを返します。
func (r Result) Complete() bool {
	return r.BackendSynced && r.FrontendSynced
}

// Materializer は画像を両シンクへ配置する唯一のコンポーネントです。
type Materializer struct {
	opts     Options
	registry RecordUpdater
}

// New は Materializer を初期化します。registry が nil の場合はレジストリを更新しません。
func New(opts Options, registry RecordUpdater) (*Materializer, error) {
	if opts.Sinks.Backend == "" || opts.Sinks.Frontend == "" {
		return nil, fmt.Errorf("バックエンドとフロントエンドのシンクは必須です")
	}
	if opts.Poll.Attempts < 1 {
		opts.Poll.Attempts = 1
	}
	return &Materializer{opts: opts, registry: registry}, nil
}

// Sinks は配置先のシンクを返します。
func (m *Materializer) Sinks() asset.Sinks {
	return m.opts.Sinks
}

// ResolveSource はソース識別子を実ファイルパスに解決します。
// 絶対パスでも SourceDir 配下に見つからない場合は、サーバー相対の識別子として SourceDir と結合します。
func (m *Materializer) ResolveSource(source string) string {
	source = strings.TrimSpace(source)
	if filepath.IsAbs(source) {
		if m.opts.SourceDir == "" || fileExists(source) {
			return source
		}
		return filepath.Join(m.opts.SourceDir, strings.TrimLeft(source, `/\`))
	}
	if m.opts.SourceDir == "" {
		return source
	}
	return filepath.Join(m.opts.SourceDir, source)
}

// Materialize はソース画像の出現を待ち、読み取り可能性を確認してから両シンクへコピーします。
// 片方のシンクだけ成功した場合はエラーにせず、達成できたフラグだけをレジストリへ記録します。
// ソースが見つからない・読めない・両シンクとも書けない場合は PanelError を返し、
// その場合もレジストリには未検証として記録されます。
func (m *Materializer) Materialize(ctx context.Context, req Request) (Result, error) {
	res := Result{PanelID: req.PanelID}
	src := m.ResolveSource(req.Source)
	res.SourcePath = src

	filename := filepath.Base(req.TargetFilename)
	if req.TargetFilename == "" {
		filename = filepath.Base(src)
	}
	res.Filename = filename

	logger := slog.With("panel", req.PanelID, "filename", filename, "source", src)
	start := time.Now()

	if err := m.awaitSource(ctx, src); err != nil {
		logger.WarnContext(ctx, "ソース画像を確認できませんでした", "error", err)
		return m.fail(ctx, res, err)
	}

	backendPath, err := m.opts.Sinks.BackendPath(req.Kind, filename)
	if err != nil {
		return m.fail(ctx, res, fmt.Errorf("%w: %v", domain.ErrSinkWrite, err))
	}
	frontendPath, err := m.opts.Sinks.FrontendPath(req.Kind, filename)
	if err != nil {
		return m.fail(ctx, res, fmt.Errorf("%w: %v", domain.ErrSinkWrite, err))
	}
	res.BackendPath, res.FrontendPath = backendPath, frontendPath

	// バックエンドが正、フロントエンドは従なので順に書くのだ
	if err := copyVerified(src, backendPath); err != nil {
		res.Failures = append(res.Failures, SinkFailure{Sink: "backend", Err: err})
	} else {
		res.BackendSynced = true
	}
	if err := copyVerified(src, frontendPath); err != nil {
		res.Failures = append(res.Failures, SinkFailure{Sink: "frontend", Err: err})
	} else {
		res.FrontendSynced = true
	}

	if !res.BackendSynced && !res.FrontendSynced {
		err := fmt.Errorf("%w: %v", domain.ErrSinkWrite, errors.Join(res.Failures[0].Err, res.Failures[1].Err))
		logger.ErrorContext(ctx, "両シンクへの書き込みに失敗しました", "error", err)
		return m.fail(ctx, res, err)
	}

	rec, err := m.record(ctx, req.PanelID, domain.SyncUpdate(filename, res.BackendSynced, res.FrontendSynced))
	if err != nil {
		return res, domain.NewPanelError(req.PanelID, err)
	}
	res.Record = rec

	if res.Complete() {
		logger.InfoContext(ctx, "画像を両シンクへ配置しました", "duration", time.Since(start).Round(time.Millisecond))
	} else {
		for _, f := range res.Failures {
			logger.WarnContext(ctx, "片方のシンクへの配置に失敗しました", "sink", f.Sink, "error", f.Err)
		}
	}
	return res, nil
}

// Reassert は既に配置済みのファイルを再確認し、観測した状態でレジストリを更新します。
// コピーは行いません。
func (m *Materializer) Reassert(ctx context.Context, panelID int, kind asset.Kind, filename string) (Result, error) {
	filename = filepath.Base(filename)
	res := Result{PanelID: panelID, Filename: filename}
	res.BackendSynced, res.FrontendSynced = m.opts.Sinks.Check(kind, filename)
	res.BackendPath, _ = m.opts.Sinks.BackendPath(kind, filename)
	res.FrontendPath, _ = m.opts.Sinks.FrontendPath(kind, filename)

	rec, err := m.record(ctx, panelID, domain.SyncUpdate(filename, res.BackendSynced, res.FrontendSynced))
	if err != nil {
		return res, domain.NewPanelError(panelID, err)
	}
	res.Record = rec
	return res, nil
}

// awaitSource は共有ファイルシステム上でソースが見えるようになるのを待ちます。
func (m *Materializer) awaitSource(ctx context.Context, src string) error {
	var last error
	err := retry.Do(ctx, m.opts.Poll, func(context.Context) error {
		last = asset.CheckReadable(src)
		return last
	})
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	if errors.Is(last, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, src)
	}
	if errors.Is(last, asset.ErrUnreadable) {
		return fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, last)
	}
	return fmt.Errorf("%w: %v", domain.ErrSourceNotFound, err)
}

// fail はパネルを未検証として記録し、エラーを PanelError として返します。
func (m *Materializer) fail(ctx context.Context, res Result, cause error) (Result, error) {
	rec, err := m.record(ctx, res.PanelID, domain.SyncUpdate(res.Filename, false, false))
	if err != nil {
		slog.ErrorContext(ctx, "レジストリの更新に失敗しました", "panel", res.PanelID, "error", err)
	}
	res.Record = rec
	return res, domain.NewPanelError(res.PanelID, cause)
}

func (m *Materializer) record(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error) {
	if m.registry == nil || panelID < 1 {
		return domain.PanelRecord{}, nil
	}
	return m.registry.Update(ctx, panelID, u)
}

func copyVerified(src, dst string) error {
	if err := asset.CopyFile(src, dst); err != nil {
		return err
	}
	return asset.CheckReadable(dst)
}

func fileExists(p string) bool {
	return asset.CheckReadable(p) == nil
}
