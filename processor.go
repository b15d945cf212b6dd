package gfxqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CommandProcessor is the optional single-consumer worker front-end that
// wraps a CommandQueue, present when asynchronous submission is enabled.
// It owns a bounded task ring guarded by two mutexes, enqueueMu (owns the
// tail) and dequeueMu (owns the head), plus a condition variable on
// dequeueMu that wakes the worker goroutine.
//
// Enqueue acquires enqueueMu; if the ring is full it additionally acquires
// dequeueMu to execute one task synchronously on the caller's goroutine,
// preserving order while shedding backpressure. The single dequeue lock
// guarantees that submissions reach the underlying CommandQueue in enqueue
// order (FIFO from the perspective of a single producer priority).
type CommandProcessor struct {
	queue      *CommandQueue
	poolAccess *CommandPoolAccess
	tracker    *SerialTracker
	cfg        Config
	errBus     *errorBus

	enqueueMu sync.Mutex
	dequeueMu sync.Mutex
	cond      *sync.Cond

	ring     []CommandProcessorTask
	head     int
	tail     int
	count    atomic.Int32
	capacity int

	closed        bool
	exitRequested bool
	cleanupPending atomic.Bool

	workerDone chan struct{}
}

// NewCommandProcessor constructs a CommandProcessor and starts its worker
// goroutine. queue and poolAccess must already be initialized.
func NewCommandProcessor(queue *CommandQueue, poolAccess *CommandPoolAccess, tracker *SerialTracker, cfg Config) *CommandProcessor {
	cfg = cfg.normalize()
	p := &CommandProcessor{
		queue:      queue,
		poolAccess: poolAccess,
		tracker:    tracker,
		cfg:        cfg,
		errBus:     newErrorBus(),
		ring:       make([]CommandProcessorTask, cfg.TaskQueueCapacity),
		capacity:   cfg.TaskQueueCapacity,
		workerDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.dequeueMu)
	go p.run()
	return p
}

// checkAndPopPendingError is called by every public entry point before
// doing anything else (spec §7). A non-nil return means the caller should
// stop; DeviceLost errors additionally drive the queue into the lost state
// before being returned.
func (p *CommandProcessor) checkAndPopPendingError() error {
	e := p.errBus.popPending()
	if e == nil {
		return nil
	}
	if errors.Is(e.Err, ErrDeviceLost) {
		_ = p.queue.HandleDeviceLost()
	}
	return e
}

// enqueue pushes task onto the ring, executing the oldest queued task
// synchronously first if the ring is full.
func (p *CommandProcessor) enqueue(task CommandProcessorTask) error {
	p.enqueueMu.Lock()
	if p.closed {
		p.enqueueMu.Unlock()
		return ErrQueueShutdown
	}

	if int(p.count.Load()) >= p.capacity {
		if shed, ok := p.popLocked(); ok {
			p.executeShed(shed)
		}
	}

	p.ring[p.tail] = task
	p.tail = (p.tail + 1) % p.capacity
	p.count.Add(1)
	p.enqueueMu.Unlock()

	p.dequeueMu.Lock()
	p.cond.Signal()
	p.dequeueMu.Unlock()
	return nil
}

// popLocked pops the head task under dequeueMu. Safe to call while holding
// enqueueMu (dequeueMu is always the inner lock in that pairing).
func (p *CommandProcessor) popLocked() (CommandProcessorTask, bool) {
	p.dequeueMu.Lock()
	defer p.dequeueMu.Unlock()
	if p.count.Load() == 0 {
		return CommandProcessorTask{}, false
	}
	t := p.ring[p.head]
	p.ring[p.head].invalidate()
	p.head = (p.head + 1) % p.capacity
	p.count.Add(-1)
	return t, true
}

// executeShed runs a task synchronously from the enqueuing goroutine
// (the backpressure-shedding path) and defers any error onto the bus
// rather than returning it, since the caller here is enqueuing an
// unrelated task and has no reason to see this one's failure directly.
func (p *CommandProcessor) executeShed(t CommandProcessorTask) {
	if err := p.dispatch(t); err != nil {
		p.recordWorkerError(t, err)
	}
}

// recordWorkerError pushes err onto the error bus and, for device loss,
// immediately transitions the queue.
func (p *CommandProcessor) recordWorkerError(t CommandProcessorTask, err error) {
	if errors.Is(err, ErrDeviceLost) {
		_ = p.queue.HandleDeviceLost()
	}
	p.errBus.push(&DeviceError{Err: err, Function: t.Kind()})
	Logger().Warn("gfxqueue: task failed", "task", t.Kind(), "error", err)
}

// run is the worker goroutine's loop: wait for a non-empty ring, an exit
// request, or a cleanup request; dispatch one task per wake.
func (p *CommandProcessor) run() {
	for {
		p.dequeueMu.Lock()
		for p.count.Load() == 0 && !p.exitRequested && !p.cleanupPending.Load() {
			p.cond.Wait()
		}

		if p.exitRequested && p.count.Load() == 0 {
			p.dequeueMu.Unlock()
			close(p.workerDone)
			return
		}

		if p.count.Load() == 0 {
			p.dequeueMu.Unlock()
			p.cleanupPending.Store(false)
			if err := p.queue.PostSubmitCheck(); err != nil {
				p.recordWorkerError(CommandProcessorTask{}, err)
			}
			continue
		}

		t := p.ring[p.head]
		p.ring[p.head].invalidate()
		p.head = (p.head + 1) % p.capacity
		p.count.Add(-1)
		p.dequeueMu.Unlock()

		if p.cfg.SlowAsyncCommandQueueForTesting {
			time.Sleep(slowAsyncBusyWait)
		}

		if err := p.dispatch(t); err != nil {
			p.recordWorkerError(t, err)
		}
		if p.cfg.AsyncCommandBufferResetAndGarbageCleanup {
			if err := p.queue.PostSubmitCheck(); err != nil {
				p.recordWorkerError(t, err)
			}
		}
	}
}

// dispatch translates one task into exactly one CommandQueue call (or the
// present call), per spec §4.5.
func (p *CommandProcessor) dispatch(t CommandProcessorTask) error {
	switch t.kind {
	case taskFlushWaitSemaphores:
		return p.poolAccess.FlushWaitSemaphores(t.protection, t.priority, t.waitSemaphores, t.waitStages)
	case taskProcessOutsideRenderPassCommands:
		return p.poolAccess.FlushOutsideRP(t.protection, t.priority, t.commandBuffer)
	case taskProcessRenderPassCommands:
		return p.poolAccess.FlushRenderPass(t.protection, t.priority, t.renderPass, t.commandBuffer)
	case taskFlushAndQueueSubmit:
		return p.queue.SubmitCommands(t.protection, t.priority, t.signalSemaphore, t.externalFence, t.serial)
	case taskOneOffQueueSubmit:
		var waitSem SemaphoreHandle
		var waitStage PipelineStageMask
		if len(t.waitSemaphores) > 0 {
			waitSem, waitStage = t.waitSemaphores[0], t.waitStages[0]
		}
		return p.queue.SubmitOneOff(t.protection, t.priority, t.oneOffBuffer, waitSem, waitStage, t.policy, t.serial)
	case taskPresent:
		return p.queue.Present(t.priority, t.presentInfo, t.status)
	default:
		return fmt.Errorf("gfxqueue: invalid task dispatched")
	}
}

// requestCleanup wakes the worker to run a reclamation pass, coalescing
// repeated requests so only one pending request wakes it (SPEC_FULL §12,
// ported from the original's atomic-exchange coalescing).
func (p *CommandProcessor) requestCleanup() {
	if p.cleanupPending.CompareAndSwap(false, true) {
		p.dequeueMu.Lock()
		p.cond.Signal()
		p.dequeueMu.Unlock()
	}
}

// EnqueueFlushWaitSemaphores queues a FlushWaitSemaphores task.
func (p *CommandProcessor) EnqueueFlushWaitSemaphores(protection ProtectionType, priority Priority, sems []SemaphoreHandle, stages []PipelineStageMask) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	return p.enqueue(initFlushWaitSemaphores(protection, priority, sems, stages))
}

// EnqueueFlushOutsideRPCommands queues a ProcessOutsideRenderPassCommands
// task.
func (p *CommandProcessor) EnqueueFlushOutsideRPCommands(protection ProtectionType, priority Priority, buf CommandBufferHandle) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	return p.enqueue(initProcessOutsideRenderPassCommands(protection, priority, buf))
}

// EnqueueFlushRenderPassCommands queues a ProcessRenderPassCommands task.
func (p *CommandProcessor) EnqueueFlushRenderPassCommands(protection ProtectionType, priority Priority, pass RenderPassInfo, buf CommandBufferHandle) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	return p.enqueue(initProcessRenderPassCommands(protection, priority, pass, buf))
}

// EnqueueSubmitCommands queues a FlushAndQueueSubmit task.
func (p *CommandProcessor) EnqueueSubmitCommands(protection ProtectionType, priority Priority, signalSem SemaphoreHandle, externalFence FenceHandle, serial QueueSerial) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	return p.enqueue(initFlushAndQueueSubmit(protection, priority, signalSem, externalFence, serial))
}

// EnqueueSubmitOneOff queues an OneOffQueueSubmit task. If policy is
// PolicyEnsureSubmitted, this additionally blocks the caller until serial
// is observed submitted, driving the queue itself if the worker hasn't
// gotten to it yet.
func (p *CommandProcessor) EnqueueSubmitOneOff(protection ProtectionType, priority Priority, buf CommandBufferHandle, waitSem SemaphoreHandle, waitStage PipelineStageMask, policy SubmitPolicy, serial QueueSerial) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	if err := p.enqueue(initOneOffQueueSubmit(protection, priority, buf, waitSem, waitStage, policy, serial)); err != nil {
		return err
	}
	if policy == PolicyEnsureSubmitted {
		use := NewResourceUse()
		use.Add(serial)
		return p.WaitForResourceUseToBeSubmitted(use)
	}
	return nil
}

// EnqueuePresent queues a Present task. status.IsPending is set true
// before this returns; the worker clears it once the device call
// completes.
func (p *CommandProcessor) EnqueuePresent(priority Priority, info PresentInfo, status *SwapchainStatus) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}
	status.IsPending = true
	return p.enqueue(initPresent(priority, info, status))
}

// WaitForAllWorkToBeSubmitted drains the task ring on the caller's
// goroutine, processing every queued task to completion, then reclaims.
func (p *CommandProcessor) WaitForAllWorkToBeSubmitted() error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}

	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()
	p.dequeueMu.Lock()

	var tasks []CommandProcessorTask
	for p.count.Load() > 0 {
		t := p.ring[p.head]
		p.ring[p.head].invalidate()
		p.head = (p.head + 1) % p.capacity
		p.count.Add(-1)
		tasks = append(tasks, t)
	}
	p.dequeueMu.Unlock()

	for _, t := range tasks {
		if err := p.dispatch(t); err != nil {
			return err
		}
	}
	return p.queue.PostSubmitCheck()
}

// WaitForResourceUseToBeSubmitted is the bridge between async submission
// and synchronous resource-tracking callers: if use is not yet observed
// submitted, it pops and executes tasks from the queue itself (up to the
// queue size at entry) until it is, guaranteeing forward progress without
// waiting for the worker goroutine.
func (p *CommandProcessor) WaitForResourceUseToBeSubmitted(use ResourceUse) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}
	if use.Submitted(p.tracker) {
		return nil
	}

	limit := int(p.count.Load())
	for i := 0; i < limit; i++ {
		if use.Submitted(p.tracker) {
			return nil
		}
		t, ok := p.popLocked()
		if !ok {
			return nil
		}
		if err := p.dispatch(t); err != nil {
			p.recordWorkerError(t, err)
		}
	}
	return nil
}

// WaitForPresentToBeSubmitted pops and executes queued tasks until status
// is no longer pending, symmetric to WaitForResourceUseToBeSubmitted but
// for presentation (SPEC_FULL §12).
func (p *CommandProcessor) WaitForPresentToBeSubmitted(status *SwapchainStatus) error {
	if err := p.checkAndPopPendingError(); err != nil {
		return err
	}

	limit := int(p.count.Load())
	for i := 0; i < limit && status.IsPending; i++ {
		t, ok := p.popLocked()
		if !ok {
			return nil
		}
		if err := p.dispatch(t); err != nil {
			p.recordWorkerError(t, err)
		}
	}
	return nil
}

// Close drains the task ring, stops accepting new work, and joins the
// worker goroutine.
func (p *CommandProcessor) Close() error {
	drainErr := p.WaitForAllWorkToBeSubmitted()

	p.enqueueMu.Lock()
	p.closed = true
	p.enqueueMu.Unlock()

	p.dequeueMu.Lock()
	p.exitRequested = true
	p.cond.Broadcast()
	p.dequeueMu.Unlock()

	<-p.workerDone
	return drainErr
}
