// Package mockdevice is a deterministic, in-process implementation of
// gfxqueue.Device for tests and the demo binary. It has no real GPU
// dependency: fences signal immediately (or after a configured number of
// polls), and Submit/Present simply record what was asked of them.
package mockdevice

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gfxqueue"
)

// Submission records one accepted Device.Submit call, for assertions in
// tests.
type Submission struct {
	Queue gfxqueue.QueueHandle
	Info  gfxqueue.SubmitInfo
	Fence gfxqueue.FenceHandle
}

// Device is a fake gfxqueue.Device backed by an in-memory fence table.
// Safe for concurrent use; every method takes the single internal mutex.
type Device struct {
	mu sync.Mutex

	nextFence uint64
	// signaled maps a fence to whether it has been signaled yet.
	signaled map[gfxqueue.FenceHandle]bool
	// pollsUntilSignal, if set for a fence, counts down on each
	// GetFenceStatus/WaitFence call before the fence reports signaled;
	// used to exercise CommandQueue's polling and backpressure paths
	// without real GPU timing.
	pollsUntilSignal map[gfxqueue.FenceHandle]int

	lost bool

	submissions []Submission
	presents    int

	// failSubmit, when non-nil, is returned by the next Submit call and
	// then cleared.
	failSubmit error
	// nextPresentResult, if set, is returned by the next Present call
	// instead of ResultSuccess.
	nextPresentResult gfxqueue.Result
}

// New returns an empty mock device.
func New() *Device {
	return &Device{
		signaled:         make(map[gfxqueue.FenceHandle]bool),
		pollsUntilSignal: make(map[gfxqueue.FenceHandle]int),
	}
}

// Queue returns a fixed handle per priority; tests that need to assert
// queue routing can compare against these directly.
func (d *Device) Queue(priority gfxqueue.Priority) gfxqueue.QueueHandle {
	return gfxqueue.QueueHandle(priority + 1)
}

// Submit records info and immediately signals fence, unless a delayed
// signal was configured for it via SetPollsUntilSignal.
func (d *Device) Submit(queue gfxqueue.QueueHandle, info gfxqueue.SubmitInfo, fence gfxqueue.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return gfxqueue.ErrDeviceLost
	}
	if d.failSubmit != nil {
		err := d.failSubmit
		d.failSubmit = nil
		return err
	}

	d.submissions = append(d.submissions, Submission{Queue: queue, Info: info, Fence: fence})

	if fence.Valid() {
		if _, tracked := d.signaled[fence]; !tracked {
			d.signaled[fence] = false
		}
		if d.pollsUntilSignal[fence] == 0 {
			d.signaled[fence] = true
		}
	}
	return nil
}

// Present records the call and returns the configured canned result
// (ResultSuccess by default).
func (d *Device) Present(queue gfxqueue.QueueHandle, info gfxqueue.PresentInfo) (gfxqueue.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return gfxqueue.ResultDeviceLost, gfxqueue.ErrDeviceLost
	}
	d.presents++

	result := d.nextPresentResult
	d.nextPresentResult = gfxqueue.ResultSuccess

	switch result {
	case gfxqueue.ResultOutOfDate, gfxqueue.ResultSuboptimal, gfxqueue.ResultSuccess:
		return result, nil
	default:
		return result, fmt.Errorf("mockdevice: present failed with result %s", result)
	}
}

// CreateFence allocates a new unsignaled fence.
func (d *Device) CreateFence() (gfxqueue.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFence++
	h := gfxqueue.FenceHandle(d.nextFence)
	d.signaled[h] = false
	return h, nil
}

// DestroyFence forgets fence. Safe to call on an unknown handle.
func (d *Device) DestroyFence(h gfxqueue.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.signaled, h)
	delete(d.pollsUntilSignal, h)
	return nil
}

// ResetFence returns fence to the unsignaled state.
func (d *Device) ResetFence(h gfxqueue.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.signaled[h]; !ok {
		return fmt.Errorf("mockdevice: reset of unknown fence %d", h)
	}
	d.signaled[h] = false
	return nil
}

// GetFenceStatus reports fence's signaled state, counting down any
// configured poll delay first.
func (d *Device) GetFenceStatus(h gfxqueue.FenceHandle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pollLocked(h), nil
}

// WaitFence blocks until fence signals. Since this device signals fences
// synchronously or after a fixed poll count rather than wall-clock time,
// the wait never actually sleeps for timeout; it returns ResultSuccess as
// soon as the configured poll count elapses.
func (d *Device) WaitFence(h gfxqueue.FenceHandle, timeout time.Duration) (gfxqueue.Result, error) {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return gfxqueue.ResultDeviceLost, nil
	}
	for i := 0; i < 1000; i++ {
		if d.pollLocked(h) {
			d.mu.Unlock()
			return gfxqueue.ResultSuccess, nil
		}
	}
	d.mu.Unlock()
	return gfxqueue.ResultTimeout, nil
}

// pollLocked decrements any pending poll countdown for h and reports
// whether it is now signaled. Caller holds d.mu.
func (d *Device) pollLocked(h gfxqueue.FenceHandle) bool {
	if n, ok := d.pollsUntilSignal[h]; ok && n > 0 {
		d.pollsUntilSignal[h] = n - 1
		if n-1 == 0 {
			d.signaled[h] = true
		}
		return false
	}
	return d.signaled[h]
}

// ExportFenceFd returns a synthetic fd derived from the handle.
func (d *Device) ExportFenceFd(h gfxqueue.FenceHandle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.signaled[h]; !ok {
		return -1, fmt.Errorf("mockdevice: export of unknown fence %d", h)
	}
	return int(h), nil
}

// QueueWaitIdle is a no-op: this device has no asynchronous completion
// beyond what GetFenceStatus/WaitFence already model.
func (d *Device) QueueWaitIdle(gfxqueue.QueueHandle) error { return nil }

// SetPollsUntilSignal configures fence to report unsignaled for the next n
// status/wait polls, then signaled from then on. Must be called after the
// fence exists (after CreateFence or after the Submit that created an
// internal one).
func (d *Device) SetPollsUntilSignal(h gfxqueue.FenceHandle, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollsUntilSignal[h] = n
	if n == 0 {
		d.signaled[h] = true
	} else {
		d.signaled[h] = false
	}
}

// FailNextSubmit makes the next Submit call return err instead of
// succeeding.
func (d *Device) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSubmit = err
}

// SetNextPresentResult makes the next Present call return result instead
// of ResultSuccess.
func (d *Device) SetNextPresentResult(result gfxqueue.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextPresentResult = result
}

// SetLost flips the device into the lost state: all further Submit/
// Present/WaitFence calls report loss.
func (d *Device) SetLost() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Submissions returns a copy of every Submit call accepted so far.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submissions))
	copy(out, d.submissions)
	return out
}

// PresentCount reports how many Present calls were accepted.
func (d *Device) PresentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}
