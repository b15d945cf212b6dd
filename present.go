package gfxqueue

import "fmt"

// PresentRegion is one rectangle of a present-regions extension record.
type PresentRegion struct {
	X, Y          int32
	Width, Height int32
}

// PresentMode is an opaque device-level present mode identifier (FIFO,
// mailbox, immediate, ...); passed through unexamined.
type PresentMode uint32

// PresentInfo is the bit-exact upstream present record described in spec
// §6: exactly one swapchain and image index, at most one wait semaphore,
// and at most one each of the three permitted extension kinds
// (present-regions, present-fence-info, present-mode-info). Any other
// extension kind has no representation here at all — unlike the original
// pNext chain, where an unrecognized extension is a runtime error, this
// struct's fixed shape makes that case unrepresentable.
type PresentInfo struct {
	Swapchain  uint64
	ImageIndex uint32

	// WaitSemaphore is the zero value when no wait is required.
	WaitSemaphore SemaphoreHandle

	// Regions is the present-regions extension record; nil if absent.
	Regions []PresentRegion
	// Fence is the present-fence-info extension record; zero if absent.
	Fence FenceHandle
	// Mode is the present-mode-info extension record, set via WithMode.
	Mode    PresentMode
	hasMode bool
}

// WithMode attaches the present-mode-info extension record.
func (p PresentInfo) WithMode(m PresentMode) PresentInfo {
	p.Mode = m
	p.hasMode = true
	return p
}

// HasMode reports whether a present-mode-info extension was attached.
func (p PresentInfo) HasMode() bool { return p.hasMode }

// Validate enforces the bit-exact shape described in spec §6. The struct
// already enforces "at most one wait semaphore" and "at most one each of
// present-fence-info and present-mode-info" by having scalar fields rather
// than lists; the one remaining runtime check is that a present-regions
// record, if attached, carries at least one rectangle.
func (p PresentInfo) Validate() error {
	if p.Regions != nil && len(p.Regions) == 0 {
		return fmt.Errorf("%w: present-regions extension with no rectangles", ErrInvalidPresentInfo)
	}
	return nil
}

// SwapchainStatus is shared between an EnqueuePresent caller and the
// worker that eventually executes it. IsPending starts true on enqueue and
// is cleared by the worker after the device call; LastPresentResult is
// only meaningful once IsPending is false. The worker must not dereference
// status again after clearing IsPending — its owner may free it the
// instant the flag is observed false.
type SwapchainStatus struct {
	IsPending         bool
	LastPresentResult Result
}
