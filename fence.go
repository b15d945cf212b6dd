package gfxqueue

import "sync"

// FenceRecycler is a guarded free-list of unsignaled fence handles. Fence
// creation is expensive on most device APIs; reusing handles amortizes it.
// FenceRecycler has its own mutex, independent of CommandQueue's submit/
// complete/release locks, and per spec §5 may be acquired while holding any
// of them.
type FenceRecycler struct {
	mu   sync.Mutex
	dev  Device
	free []FenceHandle
}

// NewFenceRecycler returns a recycler that resets and creates fences
// through dev.
func NewFenceRecycler(dev Device) *FenceRecycler {
	return &FenceRecycler{dev: dev}
}

// Fetch pops a fence from the free list if one is available; otherwise it
// creates a new one. Either way the returned fence is reset to unsignaled.
func (r *FenceRecycler) Fetch() (FenceHandle, error) {
	r.mu.Lock()
	if n := len(r.free); n > 0 {
		f := r.free[n-1]
		r.free = r.free[:n-1]
		r.mu.Unlock()
		if err := r.dev.ResetFence(f); err != nil {
			return 0, err
		}
		return f, nil
	}
	r.mu.Unlock()
	return r.dev.CreateFence()
}

// Recycle returns a fence to the free list. The caller must guarantee the
// fence is no longer referenced by any in-flight or finished batch.
func (r *FenceRecycler) Recycle(f FenceHandle) {
	if !f.Valid() {
		return
	}
	r.mu.Lock()
	r.free = append(r.free, f)
	r.mu.Unlock()
}

// Size reports the number of fences currently held in the free list. Test
// hook for the FenceRecycler.recycle(fetch()) round-trip property.
func (r *FenceRecycler) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.free)
}

// SharedFence is a shared-ownership fence handle. Multiple CommandBatches
// never actually share one in this design, but the handle itself may be
// read by the completion path while being released by another goroutine,
// so ownership transitions are guarded.
//
// The last Release, if the fence is still attached to a recycler, returns
// it there; otherwise (Detach was called first, e.g. on the device-lost
// path) Release destroys it directly. This models the design note on
// shared mutable fences across threads: detaching before an out-of-band
// destroy prevents the recycler from receiving a handle that some other
// path is about to tear down itself.
type SharedFence struct {
	mu       sync.Mutex
	handle   FenceHandle
	refs     int
	recycler *FenceRecycler
	dev      Device
}

// NewSharedFence wraps handle with recycler as its return path. refs starts
// at 1, representing the CommandBatch that owns it at construction.
func NewSharedFence(dev Device, recycler *FenceRecycler, handle FenceHandle) *SharedFence {
	return &SharedFence{handle: handle, refs: 1, recycler: recycler, dev: dev}
}

// Handle returns the underlying fence handle. Callers that intend to wait
// on it across a lock release should copy this value rather than holding a
// reference to the SharedFence, per WaitFenceUnlocked's discipline.
func (f *SharedFence) Handle() FenceHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

// AddRef increments the reference count. Matches Release one for one.
func (f *SharedFence) AddRef() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

// Detach removes the recycler association so a subsequent Release destroys
// the fence directly instead of returning it to the free list. Used on the
// device-lost path, where batches are torn down outside the normal release
// flow and the recycler itself may already be gone.
func (f *SharedFence) Detach() {
	f.mu.Lock()
	f.recycler = nil
	f.mu.Unlock()
}

// Release decrements the reference count. The last releaser returns the
// fence to its recycler if still attached, otherwise destroys it.
func (f *SharedFence) Release() error {
	f.mu.Lock()
	f.refs--
	if f.refs > 0 {
		f.mu.Unlock()
		return nil
	}
	handle := f.handle
	recycler := f.recycler
	f.handle = 0
	f.mu.Unlock()

	if !handle.Valid() {
		return nil
	}
	if recycler != nil {
		recycler.Recycle(handle)
		return nil
	}
	return f.dev.DestroyFence(handle)
}
