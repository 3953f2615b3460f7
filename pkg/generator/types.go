package generator

import (
	"context"
	"time"
)

const (
	// PanelAspectRatio は単体パネル（1コマ）の推奨アスペクト比です。
	PanelAspectRatio = "16:9"
	// ReferenceAspectRatio はキャラクターのリファレンス画像（立ち絵）の推奨アスペクト比です。
	ReferenceAspectRatio = "3:4"

	// StatusSuccess はジェネレーターが成功時に返すステータスです。
	StatusSuccess = "success"
)

// Request は外部画像ジェネレーターへの 1 回分の要求です。
type Request struct {
	Prompt string `json:"prompt"`
	// BaseImagePaths は条件付け入力として渡すリファレンス画像のパスです。
	BaseImagePaths []string `json:"base_image_paths,omitempty"`
	// AspectRatio は出力のアスペクト比です。空の場合は PanelAspectRatio を使います。
	AspectRatio string `json:"aspect_ratio,omitempty"`

	// Timeout は要求ごとのタイムアウトです。0 の場合はジェネレーターの既定値を使います。
	Timeout time.Duration `json:"-"`
	// Seed はキャラクターの見た目を安定させるための任意のシード値です。
	Seed *int64 `json:"-"`
}

// Result は生成成功時に返される画像の場所です。
type Result struct {
	Status    string `json:"status"`
	ImagePath string `json:"image_path"`
}

// ImageGenerator は外部画像ジェネレーターの抽象です。
// 失敗は domain.ErrTimeout / ErrConnection / ErrServer / ErrMalformedResponse のいずれかで返します。
type ImageGenerator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
