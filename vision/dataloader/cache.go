package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataset"
)

// CacheManager is an LRU cache of decoded samples keyed by dataset index.
type CacheManager struct {
	mu      sync.Mutex
	items   map[int]*list.Element
	lru     *list.List
	maxSize int

	hits   int64
	misses int64
}

type cacheEntry struct {
	index int
	item  dataset.Item
}

// NewCacheManager creates a cache holding at most maxSize samples.
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		items:   make(map[int]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get retrieves an item from the cache
func (cm *CacheManager) Get(index int) (dataset.Item, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, ok := cm.items[index]; ok {
		cm.lru.MoveToFront(elem)
		cm.hits++
		return elem.Value.(*cacheEntry).item, true
	}
	cm.misses++
	return dataset.Item{}, false
}

// Put adds an item, evicting the least recently used entries over capacity.
func (cm *CacheManager) Put(index int, item dataset.Item) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.maxSize <= 0 {
		return
	}
	if elem, ok := cm.items[index]; ok {
		elem.Value.(*cacheEntry).item = item
		cm.lru.MoveToFront(elem)
		return
	}

	cm.items[index] = cm.lru.PushFront(&cacheEntry{index: index, item: item})
	for cm.lru.Len() > cm.maxSize {
		oldest := cm.lru.Back()
		cm.lru.Remove(oldest)
		delete(cm.items, oldest.Value.(*cacheEntry).index)
	}
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CacheStats{
		Size:    cm.lru.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		stats.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every entry. Hit and miss counters are kept.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.items = make(map[int]*list.Element)
	cm.lru = list.New()
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
