package cache

import (
	"container/heap"
	"time"
)

// ttlItem is one scheduled expiry. Items are never removed when their
// entry is overwritten or deleted; instead the sweeper validates each
// popped item against the authoritative map (lazy invalidation).
type ttlItem struct {
	key       string
	expiresAt time.Time
}

// ttlHeap is a min-heap ordered by absolute expiry time, so sweeps only
// inspect entries that are actually due instead of scanning the map.
type ttlHeap []ttlItem

func (h ttlHeap) Len() int { return len(h) }

func (h ttlHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h ttlHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ttlHeap) Push(x interface{}) {
	*h = append(*h, x.(ttlItem))
}

func (h *ttlHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// push schedules an expiry.
func (h *ttlHeap) push(key string, expiresAt time.Time) {
	heap.Push(h, ttlItem{key: key, expiresAt: expiresAt})
}

// peek returns the earliest scheduled item without removing it.
func (h ttlHeap) peek() (ttlItem, bool) {
	if len(h) == 0 {
		return ttlItem{}, false
	}
	return h[0], true
}

// pop removes and returns the earliest scheduled item.
func (h *ttlHeap) pop() ttlItem {
	return heap.Pop(h).(ttlItem)
}
