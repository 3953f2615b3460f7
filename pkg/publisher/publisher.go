// Package publisher は組み立て済みの文書を下流のレンダラー向けに書き出します。
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/assembly"
)

const (
	DefaultDocumentName = "comic.json"
	jsonContentType     = "application/json; charset=utf-8"
)

// OutputWriter はデータを保存先へ書き込むためのインターフェースです。
type OutputWriter interface {
	Write(ctx context.Context, path string, r io.Reader, contentType string) error
}

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
	// FileName が空の場合は DefaultDocumentName を使います。
	FileName string
}

// PublishResult はパブリッシュ処理の結果です。
type PublishResult struct {
	DocumentPath string   `json:"document_path"`
	ImagePaths   []string `json:"image_paths"`
}

// ComicPublisher は文書の永続化を担います。
type ComicPublisher struct {
	writer OutputWriter
}

// NewComicPublisher は writer を使う ComicPublisher を返します。nil の場合はローカルファイルに書きます。
func NewComicPublisher(writer OutputWriter) *ComicPublisher {
	if writer == nil {
		writer = LocalWriter{}
	}
	return &ComicPublisher{writer: writer}
}

// Publish は文書を JSON として書き出します。
func (p *ComicPublisher) Publish(ctx context.Context, doc *assembly.Document, opts Options) (PublishResult, error) {
	if doc == nil {
		return PublishResult{}, fmt.Errorf("文書は必須です")
	}
	name := opts.FileName
	if name == "" {
		name = DefaultDocumentName
	}
	out, err := asset.ResolveOutputPath(opts.OutputDir, name)
	if err != nil {
		return PublishResult{}, fmt.Errorf("出力パスの解決に失敗しました: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return PublishResult{}, fmt.Errorf("文書のエンコードに失敗しました: %w", err)
	}
	if err := p.writer.Write(ctx, out, bytes.NewReader(data), jsonContentType); err != nil {
		return PublishResult{}, fmt.Errorf("文書の書き込みに失敗しました: %w", err)
	}

	res := PublishResult{DocumentPath: out}
	for _, e := range doc.Entries {
		res.ImagePaths = append(res.ImagePaths, e.ImagePath)
	}
	slog.InfoContext(ctx, "文書を書き出しました", "path", out, "panels", len(doc.Entries))
	return res, nil
}

// LocalWriter はローカルファイルシステムに一時ファイル経由で書き込みます。
type LocalWriter struct{}

func (LocalWriter) Write(_ context.Context, path string, r io.Reader, _ string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".publish-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
