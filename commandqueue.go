package gfxqueue

import (
	"fmt"
	"sync"
	"time"
)

// Counters are the cumulative and per-frame submission statistics
// CommandQueue tracks, carried over from the original implementation's
// performance-counter bookkeeping (SPEC_FULL §12) though compressed out of
// the distilled spec.
type Counters struct {
	SubmitCallsTotal    uint64
	SubmitCallsPerFrame uint64
	WaitSemaphoresTotal uint64
	PresentCallsTotal   uint64
}

// CommandQueue is the synchronous submission engine. It owns the in-flight
// and finished batch rings, performs the actual device Submit calls, and
// drives fence polling and resource reclamation.
//
// Three locks guard it, acquired in a fixed order when nested: submitMu
// (entry to SubmitCommands/SubmitOneOff/Present), completeMu (fence
// polling, migration to the finished ring), releaseMu (reclaiming finished
// batches). No operation holds two non-adjacent locks simultaneously.
// FenceRecycler has its own independent mutex and may be acquired while
// holding any of these three.
type CommandQueue struct {
	dev           Device
	poolAccess    *CommandPoolAccess
	fenceRecycler *FenceRecycler
	tracker       *SerialTracker
	garbage       GarbageSource
	cfg           Config

	submitMu   sync.Mutex
	completeMu sync.Mutex
	releaseMu  sync.Mutex

	inFlight []*CommandBatch
	finished []*CommandBatch

	deviceLost bool

	counters Counters
}

// NewCommandQueue constructs a CommandQueue. poolAccess must already have
// InitPool called for every ProtectionType the caller intends to submit
// under. garbage may be nil, in which case PostSubmitCheck never forces
// extra completions beyond the minimum.
func NewCommandQueue(dev Device, poolAccess *CommandPoolAccess, tracker *SerialTracker, garbage GarbageSource, cfg Config) *CommandQueue {
	cfg = cfg.normalize()
	return &CommandQueue{
		dev:           dev,
		poolAccess:    poolAccess,
		fenceRecycler: NewFenceRecycler(dev),
		tracker:       tracker,
		garbage:       garbage,
		cfg:           cfg,
	}
}

// Counters returns a snapshot of the cumulative/per-frame statistics.
func (q *CommandQueue) Counters() Counters {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	return q.counters
}

// ResetPerFrameCounters zeroes the per-frame-only fields, leaving
// cumulative totals intact.
func (q *CommandQueue) ResetPerFrameCounters() {
	q.submitMu.Lock()
	q.counters.SubmitCallsPerFrame = 0
	q.submitMu.Unlock()
}

func (q *CommandQueue) isDeviceLost() bool {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	return q.deviceLost
}

// inFlightLen reports the in-flight ring's current length. Guarded by
// completeMu, the lock that owns all reads/writes of the in-flight slice.
func (q *CommandQueue) inFlightLen() int {
	q.completeMu.Lock()
	defer q.completeMu.Unlock()
	return len(q.inFlight)
}

// finishedLen reports the finished ring's current length. Guarded by
// releaseMu, the lock that owns all reads/writes of the finished slice.
func (q *CommandQueue) finishedLen() int {
	q.releaseMu.Lock()
	defer q.releaseMu.Unlock()
	return len(q.finished)
}

// numAllCommands is len(inFlight)+len(finished), acquiring completeMu then
// releaseMu in the fixed outer-to-inner order.
func (q *CommandQueue) numAllCommands() int {
	q.completeMu.Lock()
	defer q.completeMu.Unlock()
	q.releaseMu.Lock()
	defer q.releaseMu.Unlock()
	return len(q.inFlight) + len(q.finished)
}

// pushInFlightLocked appends batch to the in-flight ring. Caller must hold
// completeMu (acquired by the submit path specifically to perform this
// push, per the design note that the in-flight ring is written under both
// submit and complete).
func (q *CommandQueue) pushInFlightLocked(batch *CommandBatch) {
	q.inFlight = append(q.inFlight, batch)
}

// oldestInFlightLocked returns the head of the in-flight ring, or nil if
// empty. Caller must hold completeMu.
func (q *CommandQueue) oldestInFlightLocked() *CommandBatch {
	if len(q.inFlight) == 0 {
		return nil
	}
	return q.inFlight[0]
}

// SubmitCommands is the primary submission path (spec §4.3). protection
// and priority select the CommandPoolAccess state to drain; signalSem and
// externalFence are optional (zero value means absent); serial is the
// caller-stamped QueueSerial for this submission.
func (q *CommandQueue) SubmitCommands(protection ProtectionType, priority Priority, signalSem SemaphoreHandle, externalFence FenceHandle, serial QueueSerial) error {
	if q.isDeviceLost() {
		return ErrDeviceLost
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	batch := newCommandBatch(serial, protection)
	sems, stages := q.poolAccess.GetCommandsAndWaitSemaphores(protection, priority, batch)

	// batch.primary is a persistentPool bookkeeping handle, not a real
	// recorded buffer (recording happens upstream); the caller-recorded
	// buffers actually submitted are batch.secondary.
	info := SubmitInfo{
		Protection:      protection,
		CommandBuffers:  batch.secondary,
		WaitSemaphores:  sems,
		WaitStageMasks:  stages,
		SignalSemaphore: signalSem,
	}

	callDevice := info.HasWork() || externalFence.Valid()

	if externalFence.Valid() {
		if err := batch.assignExternalFence(externalFence); err != nil {
			return err
		}
	} else if callDevice {
		f, err := q.fenceRecycler.Fetch()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		if err := batch.assignInternalFence(NewSharedFence(q.dev, q.fenceRecycler, f)); err != nil {
			return err
		}
	}

	if err := q.makeRoomLocked(); err != nil {
		return err
	}

	if callDevice {
		queue := q.dev.Queue(priority)
		if err := q.dev.Submit(queue, info, batch.fenceHandle()); err != nil {
			if isDeviceLostErr(err) {
				q.handleDeviceLostLocked()
				return ErrDeviceLost
			}
			return fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		if extSyncFd, ok := syncFdFence(externalFence); ok {
			if _, err := q.dev.ExportFenceFd(extSyncFd); err != nil {
				Logger().Warn("gfxqueue: export fence fd failed", "error", err)
			}
		}
		q.counters.SubmitCallsTotal++
		q.counters.SubmitCallsPerFrame++
		q.counters.WaitSemaphoresTotal += uint64(len(info.WaitSemaphores))
	}

	q.completeMu.Lock()
	q.pushInFlightLocked(batch)
	q.completeMu.Unlock()

	q.tracker.SetSubmitted(serial.Index, serial.Serial)

	return nil
}

// syncFdFence is a placeholder hook: only external fences of sync-fd type
// need their fd exported post-submit, and that type tag isn't modeled
// separately here since fd export is a Device-level concern. Present for
// documentation parity with spec §4.3 step 6; returns ok=false because this
// abstraction doesn't distinguish sync-fd fences from any other external
// fence.
func syncFdFence(f FenceHandle) (FenceHandle, bool) { return f, false }

func isDeviceLostErr(err error) bool {
	return err == ErrDeviceLost
}

// makeRoomLocked implements the backpressure discipline of spec §4.3 step
// 5. Caller holds submitMu. If the in-flight ring is full, drop submitMu,
// wait on the oldest batch's fence, reacquire submitMu. If the combined
// ring is at finished-ring capacity, reclaim finished batches. Both
// guarantees are re-checked in a loop since submitMu is briefly released.
func (q *CommandQueue) makeRoomLocked() error {
	for {
		full := q.inFlightLen() >= q.cfg.InFlightCapacity
		atCapacity := q.numAllCommands() >= q.cfg.FinishedCapacity

		if !full && !atCapacity {
			return nil
		}

		if full {
			q.submitMu.Unlock()
			err := q.waitOldestInFlight(q.cfg.FenceTimeout)
			q.submitMu.Lock()
			if err != nil {
				return err
			}
		}

		if atCapacity {
			if err := q.ReleaseFinishedCommands(); err != nil {
				return err
			}
		}
	}
}

// waitOldestInFlight waits on the in-flight ring's head batch, moving it
// (and any other now-signaled head batches) to the finished ring. Does not
// hold submitMu.
func (q *CommandQueue) waitOldestInFlight(timeout time.Duration) error {
	q.completeMu.Lock()
	batch := q.oldestInFlightLocked()
	q.completeMu.Unlock()

	if batch == nil {
		return nil
	}

	if batch.hasFence() {
		fence := batch.fenceHandle()
		result, err := q.dev.WaitFence(fence, timeout)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWait, err)
		}
		if result == ResultTimeout {
			return ErrTimeout
		}
		if result == ResultDeviceLost {
			q.submitMu.Lock()
			q.handleDeviceLostLocked()
			q.submitMu.Unlock()
			return ErrDeviceLost
		}
	}

	return q.CheckCompleted()
}
