package domain

import (
	"errors"
	"fmt"
)

// パネル生成パイプライン全体で共有するエラー分類です。
// 呼び出し側は errors.Is で判定します。
var (
	// --- Materializer ---
	ErrSourceNotFound   = errors.New("source image not found")
	ErrSourceUnreadable = errors.New("source image unreadable")
	ErrSinkWrite        = errors.New("sink write failed")

	// --- Character Reference Cache ---
	ErrNoReferenceFound       = errors.New("no character reference found")
	ErrInsufficientReferences = errors.New("insufficient character references")

	// --- External generator ---
	ErrTimeout           = errors.New("generator timeout")
	ErrConnection        = errors.New("generator connection error")
	ErrServer            = errors.New("generator server error")
	ErrMalformedResponse = errors.New("generator malformed response")

	// --- Validator / Controller / Assembly ---
	ErrGuessedFilename      = errors.New("guessed filename detected")
	ErrPanelOutOfRange      = errors.New("panel out of range")
	ErrMalformedInput       = errors.New("malformed validator input")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrAssemblyBlocked      = errors.New("assembly blocked by unverified panels")
)

// PanelError は特定のパネルに紐づく失敗です。ジョブ全体を中断させない失敗はこの型で返します。
type PanelError struct {
	PanelID int
	Err     error
}

func (e *PanelError) Error() string {
	return fmt.Sprintf("panel %d: %v", e.PanelID, e.Err)
}

func (e *PanelError) Unwrap() error {
	return e.Err
}

// NewPanelError は err を PanelError で包みます。err が nil の場合は nil を返します。
func NewPanelError(panelID int, err error) error {
	if err == nil {
		return nil
	}
	return &PanelError{PanelID: panelID, Err: err}
}

// IsGeneratorError は外部ジェネレーター由来のエラーかどうかを判定します。
func IsGeneratorError(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, ErrMalformedResponse)
}

// ErrorKind はログやレポートに出すための短い分類名を返します。
func ErrorKind(err error) string {
	kinds := []struct {
		target error
		name   string
	}{
		{ErrSourceNotFound, "SourceNotFound"},
		{ErrSourceUnreadable, "SourceUnreadable"},
		{ErrSinkWrite, "SinkWriteError"},
		{ErrNoReferenceFound, "NoReferenceFound"},
		{ErrInsufficientReferences, "InsufficientReferences"},
		{ErrTimeout, "Timeout"},
		{ErrConnection, "ConnectionError"},
		{ErrServer, "ServerError"},
		{ErrMalformedResponse, "MalformedResponse"},
		{ErrGuessedFilename, "GuessedFilenameDetected"},
		{ErrPanelOutOfRange, "PanelOutOfRange"},
		{ErrMalformedInput, "MalformedInput"},
		{ErrRetryBudgetExhausted, "RetryBudgetExhausted"},
		{ErrAssemblyBlocked, "AssemblyBlocked"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.name
		}
	}
	if err == nil {
		return ""
	}
	return "Unknown"
}
