// Package character はキャラクターごとのリファレンス画像を管理し、
// それを条件付け入力にしてシーン画像を生成することで見た目の一貫性を保ちます。
package character

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shouni/go-comic-kit/pkg/asset"
	"github.com/shouni/go-comic-kit/pkg/domain"
	"github.com/shouni/go-comic-kit/pkg/generator"
	"github.com/shouni/go-comic-kit/pkg/materializer"
	"github.com/shouni/go-comic-kit/pkg/prompt"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultReferenceTimeout  = 60 * time.Second
	DefaultSceneTimeout      = 60 * time.Second
	DefaultMultiSceneTimeout = 120 * time.Second

	// minMultiReferences は複数キャラクターのシーンに必要なリファレンス数です。
	minMultiReferences = 2
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Materializer は生成画像をシンクへ配置するコンポーネントです。
type Materializer interface {
	Materialize(ctx context.Context, req materializer.Request) (materializer.Result, error)
	Reassert(ctx context.Context, panelID int, kind asset.Kind, filename string) (materializer.Result, error)
	Sinks() asset.Sinks
}

// RecordUpdater は生成前に失敗したパネルを未検証として記録するためのものです。
type RecordUpdater interface {
	Update(ctx context.Context, panelID int, u domain.PanelUpdate) (domain.PanelRecord, error)
}

// Options は Cache の設定です。
type Options struct {
	// SearchDirs はあいまい検索で追加で探すディレクトリです。両シンクのリファレンス用ディレクトリは常に探します。
	SearchDirs        []string
	PanelCacheSize    int
	ReferenceTimeout  time.Duration
	SceneTimeout      time.Duration
	MultiSceneTimeout time.Duration
}

// Cache はキャラクターリファレンスと生成結果のキャッシュです。
type Cache struct {
	opts      Options
	gen       generator.ImageGenerator
	mat       Materializer
	registry  RecordUpdater
	refs      *ReferenceStore
	panels    *PanelCache
	createGrp singleflight.Group
	now       func() time.Time
}

// New は Cache を初期化します。registry は nil でも構いません。
func New(opts Options, gen generator.ImageGenerator, mat Materializer, refs *ReferenceStore, registry RecordUpdater) (*Cache, error) {
	if gen == nil {
		return nil, fmt.Errorf("ImageGenerator は必須です")
	}
	if mat == nil {
		return nil, fmt.Errorf("Materializer は必須です")
	}
	if refs == nil {
		refs, _ = NewReferenceStore("")
	}
	if opts.ReferenceTimeout <= 0 {
		opts.ReferenceTimeout = DefaultReferenceTimeout
	}
	if opts.SceneTimeout <= 0 {
		opts.SceneTimeout = DefaultSceneTimeout
	}
	if opts.MultiSceneTimeout <= 0 {
		opts.MultiSceneTimeout = DefaultMultiSceneTimeout
	}
	return &Cache{
		opts:     opts,
		gen:      gen,
		mat:      mat,
		registry: registry,
		refs:     refs,
		panels:   NewPanelCache(opts.PanelCacheSize),
		now:      time.Now,
	}, nil
}

// Panels は生成結果キャッシュを返します。
func (c *Cache) Panels() *PanelCache {
	return c.panels
}

// References は保存済みのリファレンスを返します。
func (c *Cache) References() map[string]domain.CharacterReference {
	return c.refs.All()
}

// CreateReference はキャラクターのリファレンス画像を生成して両シンクへ配置し、正規化名で登録します。
// existingImage が指定された場合は、テキストだけでなくその画像を条件付け入力として渡します。
// 同じ名前に対する同時呼び出しは 1 回の生成にまとめられます。
func (c *Cache) CreateReference(ctx context.Context, name, description, existingImage string) (string, error) {
	key := domain.NormalizeCharacterName(name)
	if key == "" {
		return "", fmt.Errorf("%w: キャラクター名が空です", domain.ErrMalformedInput)
	}

	v, err, _ := c.createGrp.Do(key, func() (interface{}, error) {
		return c.createReference(ctx, key, name, description, existingImage)
	})
	if err != nil {
		return "", err
	}
	path, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected return type from singleflight: %T", v)
	}
	return path, nil
}

func (c *Cache) createReference(ctx context.Context, key, name, description, existingImage string) (string, error) {
	if description == "" {
		description = name
	}
	req := generator.Request{
		Prompt:      prompt.Reference(name, description),
		AspectRatio: generator.ReferenceAspectRatio,
		Timeout:     c.opts.ReferenceTimeout,
	}
	if existingImage != "" {
		req.BaseImagePaths = []string{existingImage}
	}
	seed := domain.GetSeedFromName(name)
	req.Seed = &seed

	slog.InfoContext(ctx, "キャラクターのリファレンス画像を生成します", "character", name, "conditioned", existingImage != "")
	out, err := c.gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("キャラクター %s のリファレンス生成に失敗しました: %w", name, err)
	}

	res, err := c.mat.Materialize(ctx, materializer.Request{
		Kind:           asset.KindReference,
		Source:         out.ImagePath,
		TargetFilename: domain.ReferenceFilename(name),
	})
	if err != nil {
		return "", fmt.Errorf("キャラクター %s のリファレンス配置に失敗しました: %w", name, err)
	}

	path := preferredPath(res)
	ref := domain.CharacterReference{
		Key:         key,
		Name:        name,
		Description: description,
		Path:        path,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.refs.Put(ref); err != nil {
		return "", fmt.Errorf("キャラクター %s のリファレンス登録に失敗しました: %w", name, err)
	}

	slog.InfoContext(ctx, "リファレンス画像を登録しました", "character", name, "path", path)
	return path, nil
}

// GetReference は正規化名の完全一致で探し、見つからなければファイル名のトークン集合一致で探します。
// 見つからない場合は ok=false です。
func (c *Cache) GetReference(name string) (string, bool) {
	key := domain.NormalizeCharacterName(name)
	if key == "" {
		return "", false
	}
	if ref, ok := c.refs.Get(key); ok && asset.CheckReadable(ref.Path) == nil {
		return ref.Path, true
	}
	return c.searchReference(domain.NameTokens(name))
}

// searchReference は候補ディレクトリを決まった順に走査します。
// トークンは順不同ですが、ファイル名のトークン集合と完全に一致するものだけを採用します。
func (c *Cache) searchReference(tokens []string) (string, bool) {
	sinks := c.mat.Sinks()
	dirs := append([]string{
		asset.Dir(sinks.Backend, asset.KindReference),
		asset.Dir(sinks.Frontend, asset.KindReference),
	}, c.opts.SearchDirs...)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			if !domain.SameTokenSet(domain.FilenameTokens(n), tokens) {
				continue
			}
			p := filepath.Join(dir, n)
			if asset.CheckReadable(p) == nil {
				return p, true
			}
		}
	}
	return "", false
}

// GenerateScene はリファレンスを条件付け入力にしてシーン画像を生成し、パネルとして配置します。
// リファレンスが無い場合は自動生成せず NoReferenceFound を返します。
func (c *Cache) GenerateScene(ctx context.Context, name, scene string, panelID int) (string, error) {
	ref, ok := c.GetReference(name)
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrNoReferenceFound, name)
		c.recordFailure(ctx, panelID, err)
		return "", domain.NewPanelError(panelID, err)
	}

	cacheKey := PanelCacheKey(name, scene, panelID)
	if path, ok := c.reuse(ctx, cacheKey, panelID); ok {
		return path, nil
	}

	seed := domain.GetSeedFromName(name)
	req := generator.Request{
		Prompt:         prompt.Scene(panelID, name, scene),
		BaseImagePaths: []string{ref},
		Timeout:        c.opts.SceneTimeout,
		Seed:           &seed,
	}
	return c.render(ctx, panelID, cacheKey, req, domain.ScenePanelFilename(panelID, name))
}

// GenerateMultiScene は 2 人以上のキャラクターが登場するシーンを生成します。
// 解決できたリファレンスが 2 未満の場合は InsufficientReferences になります。
func (c *Cache) GenerateMultiScene(ctx context.Context, names []string, scene string, panelID int) (string, error) {
	var (
		found []string
		refs  []string
	)
	for _, n := range names {
		if ref, ok := c.GetReference(n); ok {
			found = append(found, n)
			refs = append(refs, ref)
			continue
		}
		slog.WarnContext(ctx, "リファレンスが見つからないキャラクターがいます", "panel", panelID, "character", n)
	}
	if len(refs) < minMultiReferences {
		err := fmt.Errorf("%w: %d/%d resolved (%s)", domain.ErrInsufficientReferences, len(refs), len(names), strings.Join(names, ", "))
		c.recordFailure(ctx, panelID, err)
		return "", domain.NewPanelError(panelID, err)
	}

	cacheKey := PanelCacheKey(strings.Join(found, " "), scene, panelID)
	if path, ok := c.reuse(ctx, cacheKey, panelID); ok {
		return path, nil
	}

	req := generator.Request{
		Prompt:         prompt.MultiScene(panelID, found, scene),
		BaseImagePaths: refs,
		Timeout:        c.opts.MultiSceneTimeout,
	}
	return c.render(ctx, panelID, cacheKey, req, domain.MultiScenePanelFilename(panelID, found, c.now()))
}

// RefinePanel は既存のパネル画像を条件付け入力にして手直しした画像を生成し、同じパネルとして配置し直します。
// baseImage はパスか、パネル用ディレクトリ内のファイル名です。
// 手直し後の同期状態をそのまま記録するため、配置の前にレジストリのレコードを Force でリセットするのだ。
func (c *Cache) RefinePanel(ctx context.Context, panelID int, baseImage, instruction string) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return "", fmt.Errorf("%w: 手直しの指示が空です", domain.ErrMalformedInput)
	}
	base, err := c.resolvePanelImage(baseImage)
	if err != nil {
		return "", domain.NewPanelError(panelID, err)
	}

	req := generator.Request{
		Prompt:         prompt.Refine(panelID, instruction),
		BaseImagePaths: []string{base},
		Timeout:        c.opts.SceneTimeout,
	}
	logger := slog.With("panel", panelID, "base", base)
	logger.InfoContext(ctx, "パネル画像を手直しします")

	// 生成に失敗しても元のパネルはそのまま有効なので、レジストリには触らないのだ
	out, err := c.gen.Generate(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "パネル画像の手直しに失敗しました", "error", err)
		return "", domain.NewPanelError(panelID, err)
	}

	if c.registry != nil {
		reset := domain.MissingUpdate()
		reset.Force = true
		if _, err := c.registry.Update(ctx, panelID, reset); err != nil {
			return "", domain.NewPanelError(panelID, err)
		}
	}

	res, err := c.mat.Materialize(ctx, materializer.Request{
		PanelID:        panelID,
		Kind:           asset.KindPanel,
		Source:         out.ImagePath,
		TargetFilename: domain.RefinedPanelFilename(panelID, base, c.now()),
	})
	if err != nil {
		return "", err
	}
	path := preferredPath(res)
	logger.InfoContext(ctx, "手直ししたパネル画像を配置しました", "path", path, "complete", res.Complete())
	return path, nil
}

// resolvePanelImage はそのままのパスを優先し、無ければ両シンクのパネル用ディレクトリを探します。
func (c *Cache) resolvePanelImage(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: 元画像が指定されていません", domain.ErrMalformedInput)
	}
	if asset.CheckReadable(name) == nil {
		return filepath.Abs(name)
	}
	sinks := c.mat.Sinks()
	for _, root := range []string{sinks.Backend, sinks.Frontend} {
		p := filepath.Join(asset.Dir(root, asset.KindPanel), filepath.Base(name))
		if asset.CheckReadable(p) == nil {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrSourceNotFound, name)
}

// reuse は同一要求の生成結果が両シンクに残っていれば、それを再確認して返します。
func (c *Cache) reuse(ctx context.Context, cacheKey string, panelID int) (string, bool) {
	path, ok := c.panels.Get(cacheKey)
	if !ok {
		return "", false
	}
	res, err := c.mat.Reassert(ctx, panelID, asset.KindPanel, filepath.Base(path))
	if err != nil || !res.Complete() {
		c.panels.Delete(cacheKey)
		return "", false
	}
	slog.InfoContext(ctx, "キャッシュ済みのパネル画像を再利用します", "panel", panelID, "path", path)
	return path, true
}

func (c *Cache) render(ctx context.Context, panelID int, cacheKey string, req generator.Request, target string) (string, error) {
	logger := slog.With("panel", panelID, "target", target, "references", len(req.BaseImagePaths))
	start := time.Now()

	out, err := c.gen.Generate(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "シーン画像の生成に失敗しました", "error", err)
		c.recordFailure(ctx, panelID, err)
		return "", domain.NewPanelError(panelID, err)
	}

	res, err := c.mat.Materialize(ctx, materializer.Request{
		PanelID:        panelID,
		Kind:           asset.KindPanel,
		Source:         out.ImagePath,
		TargetFilename: target,
	})
	if err != nil {
		return "", err
	}

	path := preferredPath(res)
	c.panels.Put(cacheKey, path)
	logger.InfoContext(ctx, "シーン画像を生成しました", "duration", time.Since(start).Round(time.Millisecond), "complete", res.Complete())
	return path, nil
}

func (c *Cache) recordFailure(ctx context.Context, panelID int, cause error) {
	if c.registry == nil || panelID < 1 {
		return
	}
	if _, err := c.registry.Update(ctx, panelID, domain.MissingUpdate()); err != nil {
		slog.ErrorContext(ctx, "レジストリの更新に失敗しました", "panel", panelID, "cause", cause, "error", err)
	}
}

func preferredPath(res materializer.Result) string {
	if res.BackendSynced {
		return res.BackendPath
	}
	return res.FrontendPath
}
