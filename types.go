package gfxqueue

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Serial is a monotonically increasing counter identifying a submission
// within one index's stream. Zero means "never submitted"; InfiniteSerial
// forces completion (used to mark an index permanently finished, e.g. after
// device loss).
type Serial uint64

// InfiniteSerial compares greater than any real serial. It is assigned to
// lastCompleted on device loss so that any resource waiting on that index
// observes immediate completion.
const InfiniteSerial Serial = math.MaxUint64

// Valid reports whether s has actually been stamped onto a submission.
func (s Serial) Valid() bool { return s != 0 }

// QueueSerial is a (index, serial) pair. The index partitions independent
// serial streams; comparisons between two QueueSerials are only meaningful
// when their indices match.
type QueueSerial struct {
	Index  int
	Serial Serial
}

// Valid reports whether q carries a real serial.
func (q QueueSerial) Valid() bool { return q.Serial.Valid() }

func (q QueueSerial) String() string {
	return fmt.Sprintf("(%d,%d)", q.Index, q.Serial)
}

// ResourceUse is the set of submissions that still reference a resource,
// represented as the highest serial seen per index (later submissions on an
// index necessarily include the effect of earlier ones, so only the
// maximum per index needs to be kept).
type ResourceUse struct {
	serials map[int]Serial
}

// NewResourceUse returns an empty ResourceUse.
func NewResourceUse() ResourceUse {
	return ResourceUse{serials: make(map[int]Serial)}
}

// Add folds q into the set, keeping the maximum serial observed per index.
func (r *ResourceUse) Add(q QueueSerial) {
	if !q.Valid() {
		return
	}
	if r.serials == nil {
		r.serials = make(map[int]Serial)
	}
	if cur, ok := r.serials[q.Index]; !ok || q.Serial > cur {
		r.serials[q.Index] = q.Serial
	}
}

// Merge folds every entry of other into r.
func (r *ResourceUse) Merge(other ResourceUse) {
	for idx, s := range other.serials {
		r.Add(QueueSerial{Index: idx, Serial: s})
	}
}

// Empty reports whether the set references no submissions.
func (r ResourceUse) Empty() bool { return len(r.serials) == 0 }

// Entries returns the (index, serial) pairs in the set. Order is
// unspecified.
func (r ResourceUse) Entries() []QueueSerial {
	out := make([]QueueSerial, 0, len(r.serials))
	for idx, s := range r.serials {
		out = append(out, QueueSerial{Index: idx, Serial: s})
	}
	return out
}

// Submitted reports whether every serial in the set is ≤ the corresponding
// index's last-submitted serial.
func (r ResourceUse) Submitted(t *SerialTracker) bool {
	for idx, s := range r.serials {
		if t.LastSubmitted(idx) < s {
			return false
		}
	}
	return true
}

// Finished reports whether every serial in the set is ≤ the corresponding
// index's last-completed serial.
func (r ResourceUse) Finished(t *SerialTracker) bool {
	for idx, s := range r.serials {
		if t.LastCompleted(idx) < s {
			return false
		}
	}
	return true
}

// ProtectionType selects whether a submission uses the protected-memory
// device path.
type ProtectionType int

const (
	// ProtectionInvalid marks a batch that has not been assigned a
	// protection type yet.
	ProtectionInvalid ProtectionType = iota
	// ProtectionUnprotected is the ordinary submission path.
	ProtectionUnprotected
	// ProtectionProtected routes through the driver's protected-submit path.
	ProtectionProtected
)

func (p ProtectionType) String() string {
	switch p {
	case ProtectionUnprotected:
		return "unprotected"
	case ProtectionProtected:
		return "protected"
	default:
		return "invalid"
	}
}

// Priority selects which GPU queue index receives a submission.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh

	priorityCount = int(PriorityHigh) + 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// SubmitPolicy controls whether EnqueueSubmitOneOff additionally blocks
// until its serial is observed submitted.
type SubmitPolicy int

const (
	// PolicyAllowDeferred lets the one-off submission ride the normal
	// asynchronous path without the caller blocking on it.
	PolicyAllowDeferred SubmitPolicy = iota
	// PolicyEnsureSubmitted blocks the enqueuing call until the device
	// Submit for this serial has actually happened.
	PolicyEnsureSubmitted
)

// PipelineStageMask is an opaque bitmask of pipeline stages a wait
// semaphore blocks, passed through to the device unexamined.
type PipelineStageMask uint32

// SemaphoreHandle is an opaque device-level semaphore handle.
type SemaphoreHandle uint64

// SerialTracker holds, per index, the last serial known submitted to the
// device and the last serial known completed by it. Both arrays are
// written under their respective CommandQueue locks (submit, complete) and
// read lock-free via atomics, per the design's concurrency model.
type SerialTracker struct {
	submitted []atomic.Uint64
	completed []atomic.Uint64
}

// NewSerialTracker allocates a tracker with room for n independent serial
// indices.
func NewSerialTracker(n int) *SerialTracker {
	return &SerialTracker{
		submitted: make([]atomic.Uint64, n),
		completed: make([]atomic.Uint64, n),
	}
}

// LastSubmitted returns the last serial submitted on index i.
func (t *SerialTracker) LastSubmitted(i int) Serial {
	return Serial(t.submitted[i].Load())
}

// LastCompleted returns the last serial completed on index i.
func (t *SerialTracker) LastCompleted(i int) Serial {
	return Serial(t.completed[i].Load())
}

// SetSubmitted advances index i's last-submitted serial. Must be called
// under the submit lock; must only ever increase.
func (t *SerialTracker) SetSubmitted(i int, s Serial) {
	t.submitted[i].Store(uint64(s))
}

// SetCompleted advances index i's last-completed serial. Must be called
// under the complete lock; must only ever increase.
func (t *SerialTracker) SetCompleted(i int, s Serial) {
	t.completed[i].Store(uint64(s))
}

// IsBusy reports whether any index has outstanding submitted work that has
// not yet completed. Lock-free.
func (t *SerialTracker) IsBusy() bool {
	for i := range t.submitted {
		if Serial(t.submitted[i].Load()) != Serial(t.completed[i].Load()) {
			return true
		}
	}
	return false
}

// Result mirrors the device-level status codes a Submit/Present/WaitFence
// call can return.
type Result int

const (
	ResultSuccess Result = iota
	ResultTimeout
	ResultDeviceLost
	ResultOutOfDate
	ResultSuboptimal
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultDeviceLost:
		return "device-lost"
	case ResultOutOfDate:
		return "out-of-date"
	case ResultSuboptimal:
		return "suboptimal"
	default:
		return "error"
	}
}
