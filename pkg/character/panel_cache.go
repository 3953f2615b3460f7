package character

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/shouni/go-comic-kit/pkg/domain"
)

// DefaultPanelCacheSize は生成結果キャッシュに保持する最大件数です。
const DefaultPanelCacheSize = 10

type cachedPanel struct {
	Path string
	Seq  uint64
}

// PanelCache は (キャラクター名, シーン, パネル番号) → 画像パスの生成結果キャッシュです。
// 件数が上限を超えると最も古く挿入されたものから捨てます。
type PanelCache struct {
	mu    sync.Mutex
	items *cache.Cache
	limit int
	seq   uint64
}

// NewPanelCache は上限 limit 件のキャッシュを返します。
func NewPanelCache(limit int) *PanelCache {
	if limit < 1 {
		limit = DefaultPanelCacheSize
	}
	// 期限切れは使わないので janitor は起動しないのだ
	return &PanelCache{items: cache.New(cache.NoExpiration, 0), limit: limit}
}

// PanelCacheKey はキャッシュキーを計算します。名前は正規化してから使います。
func PanelCacheKey(name, scene string, panelID int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", domain.NormalizeCharacterName(name), scene, panelID)))
	return hex.EncodeToString(sum[:])[:16]
}

// Get はキャッシュ済みのパスを返します。
func (c *PanelCache) Get(key string) (string, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return "", false
	}
	return v.(cachedPanel).Path, true
}

// Put はエントリを最新として挿入し、上限を超えた分を古い順に捨てます。
func (c *PanelCache) Put(key, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.items.Set(key, cachedPanel{Path: path, Seq: c.seq}, cache.NoExpiration)
	for c.items.ItemCount() > c.limit {
		c.evictOldest()
	}
}

// Delete はエントリを取り除きます。
func (c *PanelCache) Delete(key string) {
	c.items.Delete(key)
}

// Len は保持件数を返します。
func (c *PanelCache) Len() int {
	return c.items.ItemCount()
}

// Keys は古い順にキーを返します。
func (c *PanelCache) Keys() []string {
	items := c.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return items[keys[i]].Object.(cachedPanel).Seq < items[keys[j]].Object.(cachedPanel).Seq
	})
	return keys
}

func (c *PanelCache) evictOldest() {
	var (
		oldestKey string
		oldestSeq uint64
	)
	for k, item := range c.items.Items() {
		seq := item.Object.(cachedPanel).Seq
		if oldestKey == "" || seq < oldestSeq {
			oldestKey, oldestSeq = k, seq
		}
	}
	if oldestKey != "" {
		c.items.Delete(oldestKey)
	}
}
