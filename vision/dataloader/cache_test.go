package dataloader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataset"
)

func TestCacheManagerLRU(t *testing.T) {
	cm := NewCacheManager(2)
	cm.Put(1, dataset.Item{Label: 1})
	cm.Put(2, dataset.Item{Label: 2})

	_, ok := cm.Get(1)
	assert.True(t, ok)

	// 2 is now least recently used
	cm.Put(3, dataset.Item{Label: 3})
	_, ok = cm.Get(2)
	assert.False(t, ok)

	item, ok := cm.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 3, item.Label)

	stats := cm.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 66.6, stats.HitRate, 0.1)

	cm.Clear()
	assert.Equal(t, 0, cm.Stats().Size)
	assert.Equal(t, int64(2), cm.Stats().Hits)
}

func TestCacheManagerDisabled(t *testing.T) {
	cm := NewCacheManager(0)
	cm.Put(1, dataset.Item{})
	_, ok := cm.Get(1)
	assert.False(t, ok)
}
