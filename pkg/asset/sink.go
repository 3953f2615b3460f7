package asset

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// peekBytes は読み取り可能性の確認で実際に読むバイト数です。
const peekBytes = 10

// ErrUnreadable はファイルが存在するが空または読み取れない状態を表します。
var ErrUnreadable = errors.New("file is empty or unreadable")

// Sinks はバックエンドとフロントエンドの 2 つの出力ツリーです。
type Sinks struct {
	Backend  string
	Frontend string
}

// Location はシンク内の 1 ファイルの配置です。
type Location struct {
	Sink string // "backend" または "frontend"
	Path string
}

// Dir はシンクルートと種類から格納ディレクトリを返します。
func Dir(root string, kind Kind) string {
	return filepath.Join(root, kind.DirName())
}

// BackendPath はバックエンドシンク内のパスを返します。
func (s Sinks) BackendPath(kind Kind, filename string) (string, error) {
	return ResolveOutputPath(Dir(s.Backend, kind), filepath.Base(filename))
}

// FrontendPath はフロントエンドシンク内のパスを返します。
func (s Sinks) FrontendPath(kind Kind, filename string) (string, error) {
	return ResolveOutputPath(Dir(s.Frontend, kind), filepath.Base(filename))
}

// Ensure は両シンクに格納ディレクトリを作成します。
func (s Sinks) Ensure() error {
	for _, root := range []string{s.Backend, s.Frontend} {
		for _, kind := range []Kind{KindPanel, KindReference} {
			if err := os.MkdirAll(Dir(root, kind), 0o755); err != nil {
				return fmt.Errorf("シンクディレクトリの作成に失敗しました (%s): %w", Dir(root, kind), err)
			}
		}
	}
	return nil
}

// Check は filename が両シンクに読み取り可能な状態で存在するかを返します。
func (s Sinks) Check(kind Kind, filename string) (backend, frontend bool) {
	if p, err := s.BackendPath(kind, filename); err == nil {
		backend = CheckReadable(p) == nil
	}
	if p, err := s.FrontendPath(kind, filename); err == nil {
		frontend = CheckReadable(p) == nil
	}
	return backend, frontend
}

// CheckReadable はファイルが存在し、空でなく、先頭バイトを読めることを確認します。
// 書き込み途中のファイルを「存在する」と誤認しないためです。
func CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return fmt.Errorf("%s: %w: %v", path, ErrUnreadable, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%s: %w", path, ErrUnreadable)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrUnreadable, err)
	}
	defer f.Close()

	buf := make([]byte, peekBytes)
	if _, err := f.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w: %v", path, ErrUnreadable, err)
	}
	return nil
}

// CopyFile は src を dst へ一時ファイル経由でコピーし、rename で置き換えます。
// 読み手が書きかけのファイルを見ることはありません。
func CopyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("コピー先ディレクトリの作成に失敗しました: %w", err)
	}
	if sameFile(src, dst) {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("コピー元を開けませんでした: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("コピーに失敗しました: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync に失敗しました: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename に失敗しました: %w", err)
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
