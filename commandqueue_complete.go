package gfxqueue

import (
	"errors"
	"fmt"
	"time"
)

// checkOneBatchLocked queries the in-flight ring's head batch; if its fence
// is signaled (or it has none), it advances lastCompleted and migrates the
// batch to the finished ring. Caller holds completeMu. Returns whether a
// migration happened.
func (q *CommandQueue) checkOneBatchLocked() (bool, error) {
	if len(q.inFlight) == 0 {
		return false, nil
	}
	batch := q.inFlight[0]

	signaled := true
	if batch.hasFence() {
		var err error
		signaled, err = q.dev.GetFenceStatus(batch.fenceHandle())
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrQuery, err)
		}
	}
	if !signaled {
		return false, nil
	}

	q.tracker.SetCompleted(batch.serial.Index, batch.serial.Serial)
	q.inFlight = q.inFlight[1:]

	q.releaseMu.Lock()
	q.finished = append(q.finished, batch)
	q.releaseMu.Unlock()

	return true, nil
}

// CheckCompleted repeats checkOneBatchLocked until a not-ready batch is
// found. Ordered fence signaling is assumed: since submissions are
// serialized on one queue, the head signals first.
func (q *CommandQueue) CheckCompleted() error {
	q.completeMu.Lock()
	defer q.completeMu.Unlock()
	for {
		migrated, err := q.checkOneBatchLocked()
		if err != nil {
			return err
		}
		if !migrated {
			return nil
		}
	}
}

// FinishResourceUse blocks until use is finished (or the in-flight ring
// empties without satisfying it, which should not happen for a use that
// was actually submitted). It follows the WaitFenceUnlocked discipline: a
// fence wait copies the handle, drops completeMu, waits, then reacquires,
// so the batch can be freed by another goroutine while the wait is
// outstanding without touching freed state.
func (q *CommandQueue) FinishResourceUse(use ResourceUse, timeout time.Duration) error {
	q.completeMu.Lock()
	anyMigrated := false

	for {
		if use.Finished(q.tracker) {
			break
		}
		batch := q.oldestInFlightLocked()
		if batch == nil {
			break
		}

		if batch.hasFence() {
			signaled, err := q.dev.GetFenceStatus(batch.fenceHandle())
			if err != nil {
				q.completeMu.Unlock()
				return fmt.Errorf("%w: %w", ErrQuery, err)
			}
			if !signaled {
				fence := batch.fenceHandle()
				q.completeMu.Unlock()
				result, waitErr := q.dev.WaitFence(fence, timeout)
				q.completeMu.Lock()
				if waitErr != nil {
					q.completeMu.Unlock()
					return fmt.Errorf("%w: %w", ErrWait, waitErr)
				}
				if result == ResultTimeout {
					q.completeMu.Unlock()
					if anyMigrated {
						_ = q.ReleaseFinishedCommands()
					}
					return ErrTimeout
				}
				if result == ResultDeviceLost {
					q.completeMu.Unlock()
					q.submitMu.Lock()
					q.handleDeviceLostLocked()
					q.submitMu.Unlock()
					return ErrDeviceLost
				}
				continue
			}
		}

		migrated, err := q.checkOneBatchLocked()
		if err != nil {
			q.completeMu.Unlock()
			return err
		}
		if !migrated {
			break
		}
		anyMigrated = true
	}
	q.completeMu.Unlock()

	if anyMigrated {
		return q.ReleaseFinishedCommands()
	}
	return nil
}

// WaitIdle snapshots the in-flight ring's tail batch under submitMu and
// waits for it, which by FIFO ordering means every earlier submission has
// also finished.
func (q *CommandQueue) WaitIdle(timeout time.Duration) error {
	q.submitMu.Lock()
	q.completeMu.Lock()
	var use ResourceUse
	if n := len(q.inFlight); n > 0 {
		use = NewResourceUse()
		use.Add(q.inFlight[n-1].serial)
	}
	q.completeMu.Unlock()
	q.submitMu.Unlock()

	if use.Empty() {
		return nil
	}
	return q.FinishResourceUse(use, timeout)
}

// WaitForResourceUseWithUserTimeout is FinishResourceUse but surfaces
// ErrTimeout as a Result value rather than an error, matching
// waitForResourceUseToFinishWithUserTimeout in the original design.
func (q *CommandQueue) WaitForResourceUseWithUserTimeout(use ResourceUse, timeout time.Duration) (Result, error) {
	err := q.FinishResourceUse(use, timeout)
	switch {
	case err == nil:
		return ResultSuccess, nil
	case errors.Is(err, ErrTimeout):
		return ResultTimeout, nil
	case errors.Is(err, ErrDeviceLost):
		return ResultDeviceLost, err
	default:
		return ResultError, err
	}
}

// ReleaseFinishedCommands drains the finished ring, releasing each batch's
// primary buffer back to its pool and its fence back to the recycler. Safe
// to call when the finished ring is empty (a no-op), and safe to invoke
// from a worker goroutine or directly.
func (q *CommandQueue) ReleaseFinishedCommands() error {
	q.releaseMu.Lock()
	batches := q.finished
	q.finished = nil
	q.releaseMu.Unlock()

	for _, b := range batches {
		if err := b.Release(); err != nil {
			return err
		}
	}
	if q.garbage != nil {
		q.garbage.Collect(q.tracker)
	}
	return nil
}

// PostSubmitCheck polls completed batches, releases them, and then, while
// the allocator's outstanding garbage exceeds the configured threshold,
// forces progress by waiting on and finishing one more in-flight batch. At
// least one in-flight batch is always preserved to keep the GPU busy.
func (q *CommandQueue) PostSubmitCheck() error {
	if err := q.CheckCompleted(); err != nil {
		return err
	}
	if err := q.ReleaseFinishedCommands(); err != nil {
		return err
	}
	if q.garbage == nil {
		return nil
	}

	for q.garbage.PendingBytes() > q.cfg.SuballocationGarbageThreshold {
		if q.inFlightLen() <= 1 {
			break
		}
		q.completeMu.Lock()
		batch := q.oldestInFlightLocked()
		q.completeMu.Unlock()
		if batch == nil {
			break
		}
		if batch.hasFence() {
			result, err := q.dev.WaitFence(batch.fenceHandle(), q.cfg.FenceTimeout)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrWait, err)
			}
			if result == ResultDeviceLost {
				q.submitMu.Lock()
				q.handleDeviceLostLocked()
				q.submitMu.Unlock()
				return ErrDeviceLost
			}
		}
		if err := q.CheckCompleted(); err != nil {
			return err
		}
		if err := q.ReleaseFinishedCommands(); err != nil {
			return err
		}
	}
	return nil
}

// IsBusy is lock-free: it compares last-submitted against last-completed
// per index.
func (q *CommandQueue) IsBusy() bool { return q.tracker.IsBusy() }

// SubmitOneOff submits a caller-supplied command buffer through the same
// fence/backpressure/push discipline as SubmitCommands. Because
// CommandQueue itself is always synchronous, the serial is already
// observed submitted by the time this returns; PolicyEnsureSubmitted only
// has independent meaning when this call is reached through
// CommandProcessor's asynchronous task queue, where CommandProcessor is
// responsible for the additional wait.
func (q *CommandQueue) SubmitOneOff(protection ProtectionType, priority Priority, buf CommandBufferHandle, waitSem SemaphoreHandle, waitStage PipelineStageMask, policy SubmitPolicy, serial QueueSerial) error {
	if q.isDeviceLost() {
		return ErrDeviceLost
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	batch := newCommandBatch(serial, protection)

	info := SubmitInfo{Protection: protection}
	if buf != 0 {
		info.CommandBuffers = []CommandBufferHandle{buf}
	}
	if waitSem.Valid() {
		info.WaitSemaphores = []SemaphoreHandle{waitSem}
		info.WaitStageMasks = []PipelineStageMask{waitStage}
	}

	callDevice := info.HasWork()
	if callDevice {
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
		queueHandle := q.dev.Queue(priority)
		if err := q.dev.Submit(queueHandle, info, batch.fenceHandle()); err != nil {
			if isDeviceLostErr(err) {
				q.handleDeviceLostLocked()
				return ErrDeviceLost
			}
			return fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		q.counters.SubmitCallsTotal++
		q.counters.SubmitCallsPerFrame++
	}

	q.completeMu.Lock()
	q.pushInFlightLocked(batch)
	q.completeMu.Unlock()

	q.tracker.SetSubmitted(serial.Index, serial.Serial)
	return nil
}

// Present issues a present call for priority's queue. status, if non-nil,
// has IsPending cleared and LastPresentResult set before this returns.
// OutOfDate and Suboptimal are non-fatal: they are reflected in status but
// not returned as errors, per spec §7.
func (q *CommandQueue) Present(priority Priority, info PresentInfo, status *SwapchainStatus) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if q.isDeviceLost() {
		return ErrDeviceLost
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	queueHandle := q.dev.Queue(priority)
	result, err := q.dev.Present(queueHandle, info)
	q.counters.PresentCallsTotal++

	if status != nil {
		status.LastPresentResult = result
		status.IsPending = false
	}

	if err != nil {
		if result == ResultDeviceLost {
			q.handleDeviceLostLocked()
			return ErrDeviceLost
		}
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	return nil
}

// handleDeviceLostLocked tears down every in-flight and finished batch
// directly, bypassing pool return, and marks lastCompleted as infinite so
// any pending resource wait observes immediate completion. Caller holds
// submitMu; this acquires completeMu then releaseMu itself, satisfying the
// "under all three locks held" requirement of the device-lost path.
func (q *CommandQueue) handleDeviceLostLocked() {
	q.completeMu.Lock()
	defer q.completeMu.Unlock()
	q.releaseMu.Lock()
	defer q.releaseMu.Unlock()

	if q.deviceLost {
		return
	}
	q.deviceLost = true

	for _, batch := range q.inFlight {
		if batch.hasFence() {
			// DeviceLost is accepted as a successful outcome here; any
			// other wait error is not actionable once the device is
			// already considered lost.
			_, _ = q.dev.WaitFence(batch.fenceHandle(), q.cfg.FenceTimeout)
		}
		q.tracker.SetCompleted(batch.serial.Index, InfiniteSerial)
		_ = batch.destroy(q.dev)
	}
	q.inFlight = nil

	for _, batch := range q.finished {
		_ = batch.destroy(q.dev)
	}
	q.finished = nil

	Logger().Error("gfxqueue: device lost, outstanding batches destroyed")
}

// HandleDeviceLost transitions the queue to the lost state, destroying all
// outstanding in-flight and finished batches. Idempotent. After this
// returns, every subsequent SubmitCommands/SubmitOneOff/Present call
// returns ErrDeviceLost.
func (q *CommandQueue) HandleDeviceLost() error {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	q.handleDeviceLostLocked()
	return nil
}
