package gfxqueue

import "time"

// FenceHandle is an opaque device-level fence identifier. The zero value
// denotes "no fence".
type FenceHandle uint64

// Valid reports whether h refers to a real fence.
func (h FenceHandle) Valid() bool { return h != 0 }

// CommandBufferHandle is an opaque device-level primary command buffer
// identifier, produced by command-buffer recording (out of scope here) and
// only ever passed through.
type CommandBufferHandle uint64

// QueueHandle identifies a physical device queue, as returned by
// Device.Queue for a given Priority.
type QueueHandle uint64

// SubmitInfo is everything CommandQueue hands to Device.Submit for one
// batch: the recorded command buffers (may be empty for an
// empty/fence-only submission), the wait semaphores accumulated for it,
// and an optional signal semaphore.
type SubmitInfo struct {
	Protection      ProtectionType
	CommandBuffers  []CommandBufferHandle
	WaitSemaphores  []SemaphoreHandle
	WaitStageMasks  []PipelineStageMask
	SignalSemaphore SemaphoreHandle
}

// HasWork reports whether this SubmitInfo actually needs a device call, per
// spec §4.3 step 3: at least one recorded command buffer, a signal
// semaphore, or non-empty waits.
func (s SubmitInfo) HasWork() bool {
	return len(s.CommandBuffers) > 0 || s.SignalSemaphore != 0 || len(s.WaitSemaphores) > 0
}

// Device is the opaque downstream GPU API this package submits against.
// Implementations need not be safe for concurrent use unless documented
// otherwise; CommandQueue serializes all calls to it under its own locks.
type Device interface {
	// Queue returns the physical queue handle assigned to priority. The
	// mapping must be stable for the Device's lifetime.
	Queue(priority Priority) QueueHandle

	// Submit submits info to queue, signaling fence (if valid) when the
	// submitted work completes. info.HasWork() may be false, in which
	// case implementations may skip doing any GPU-visible work but must
	// still honor fence signaling if one was supplied.
	Submit(queue QueueHandle, info SubmitInfo, fence FenceHandle) error

	// Present issues a present call and returns its result. ResultSuccess,
	// ResultOutOfDate, and ResultSuboptimal are all non-error returns;
	// any other case should also be returned as a non-nil error.
	Present(queue QueueHandle, info PresentInfo) (Result, error)

	// CreateFence allocates a new, unsignaled fence.
	CreateFence() (FenceHandle, error)
	// DestroyFence releases a fence handle. Safe to call on a fence that
	// was never signaled.
	DestroyFence(FenceHandle) error
	// ResetFence returns a previously signaled fence to the unsignaled
	// state so it can be reused.
	ResetFence(FenceHandle) error
	// GetFenceStatus reports whether fence has been signaled without
	// blocking.
	GetFenceStatus(FenceHandle) (signaled bool, err error)
	// WaitFence blocks until fence signals or timeout elapses.
	// ResultDeviceLost is a valid, non-error outcome for callers that
	// treat it as success for cleanup purposes.
	WaitFence(fence FenceHandle, timeout time.Duration) (Result, error)
	// ExportFenceFd exports fence as a sync-fd style integer handle.
	// Only meaningful for external fences of sync-fd type, and only
	// valid to call after the owning Submit has completed.
	ExportFenceFd(FenceHandle) (int, error)

	// QueueWaitIdle blocks until queue has no outstanding work.
	QueueWaitIdle(QueueHandle) error
}

// GarbageSource is implemented by the allocator that owns deferred-free
// suballocations. CommandQueue's reclamation loop asks it how much garbage
// is outstanding and tells it to collect once serials complete; recording
// and releasing garbage itself is the allocator's responsibility and is
// out of scope here (spec §1).
type GarbageSource interface {
	// PendingBytes reports the total size of garbage not yet eligible
	// for collection.
	PendingBytes() uint64
	// Collect releases any garbage whose tagged serial is ≤ the given
	// per-index last-completed serials.
	Collect(tracker *SerialTracker)
}
