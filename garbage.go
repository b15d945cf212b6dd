package gfxqueue

import "sync"

// garbageItem is one deferred-free allocation, tagged with the serial it
// must outlive.
type garbageItem struct {
	use   ResourceUse
	bytes uint64
}

// SimpleGarbageList is a minimal GarbageSource: a mutex-guarded list of
// tagged allocations. Real allocators (suballocators, buffer pools) would
// implement GarbageSource directly against their own bookkeeping; this one
// exists so CommandQueue's reclamation loop has something concrete to
// drive in tests and the demo binary, mirroring the role the original's
// vk::GarbageList and SuballocationGarbageList play for PostSubmitCheck.
type SimpleGarbageList struct {
	mu    sync.Mutex
	items []garbageItem
}

// NewSimpleGarbageList returns an empty garbage list.
func NewSimpleGarbageList() *SimpleGarbageList {
	return &SimpleGarbageList{}
}

// Add records bytes of garbage that becomes collectible once use finishes.
func (g *SimpleGarbageList) Add(use ResourceUse, bytes uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items = append(g.items, garbageItem{use: use, bytes: bytes})
}

// PendingBytes implements GarbageSource.
func (g *SimpleGarbageList) PendingBytes() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total uint64
	for _, it := range g.items {
		total += it.bytes
	}
	return total
}

// Collect implements GarbageSource: it drops every item whose tagged use
// has finished according to tracker.
func (g *SimpleGarbageList) Collect(tracker *SerialTracker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := g.items[:0]
	for _, it := range g.items {
		if !it.use.Finished(tracker) {
			remaining = append(remaining, it)
		}
	}
	g.items = remaining
}
