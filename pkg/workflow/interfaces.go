package workflow

import (
	"context"

	"github.com/shouni/go-comic-kit/pkg/assembly"
	"github.com/shouni/go-comic-kit/pkg/controller"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/publisher"
	"github.com/shouni/go-comic-kit/pkg/validator"
)

// Registry はワークフローが使うレジストリの操作です。
type Registry interface {
	controller.RegistryReader
	Clear(ctx context.Context) error
	Update(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error)
}

// PanelMaterializer はキャラクターを含まないパネルの画像を両シンクへ配置します。
type PanelMaterializer interface {
	Materialize(ctx context.Context, req materializer.Request) (materializer.Result, error)
}

// CharacterRenderer はキャラクターの一貫性を保ったシーン生成を担います。
type CharacterRenderer interface {
	CreateReference(ctx context.Context, name, description, existingImage string) (string, error)
	GetReference(name string) (string, bool)
	GenerateScene(ctx context.Context, name, scene string, panelID int) (string, error)
	GenerateMultiScene(ctx context.Context, names []string, scene string, panelID int) (string, error)
	RefinePanel(ctx context.Context, panelID int, baseImage, instruction string) (string, error)
}

// PanelValidator はパネル対応表を検証します。
type PanelValidator interface {
	Validate(ctx context.Context, panelMap domain.PanelMap, expected int) (*validator.Report, error)
}

// DocumentPublisher は組み立てた文書を書き出します。
type DocumentPublisher interface {
	Publish(ctx context.Context, doc *assembly.Document, opts publisher.Options) (publisher.PublishResult, error)
}
