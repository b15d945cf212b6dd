package gfxqueue

import (
	"fmt"
	"sync"
)

// commandsState is the per-(priority, protection) accumulator: an
// in-progress primary command buffer plus the wait semaphores queued
// against it. Per spec §3: primaryCommands.valid() OR
// secondaryCommands.empty() must always hold — a state never accumulates
// secondary buffers without first opening a primary to receive them.
type commandsState struct {
	primary        CommandBufferHandle
	secondary      []CommandBufferHandle
	waitSemaphores []SemaphoreHandle
	waitStages     []PipelineStageMask
}

func (s *commandsState) checkInvariant() error {
	if s.primary == 0 && len(s.secondary) != 0 {
		return fmt.Errorf("gfxqueue: commandsState has secondary buffers with no open primary")
	}
	return nil
}

func (s *commandsState) reset() {
	s.primary = 0
	s.secondary = nil
	s.waitSemaphores = nil
	s.waitStages = nil
}

// persistentPool is a per-protection pool of primary command buffers kept
// alive across submissions; CollectPrimary returns a finished buffer here
// for reset and reuse rather than destroying it.
type persistentPool struct {
	protection ProtectionType
	free       []CommandBufferHandle
	nextHandle uint64
}

func (p *persistentPool) acquire() CommandBufferHandle {
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		return h
	}
	p.nextHandle++
	return CommandBufferHandle(p.nextHandle)
}

func (p *persistentPool) release(h CommandBufferHandle) {
	p.free = append(p.free, h)
}

// CommandPoolAccess is the thread-safe broker owning per-(priority,
// protection) command-buffer accumulators and the persistent primary pools
// backing them. Every operation serializes on a single internal mutex; no
// pool or buffer mutates without holding it (spec §4.2 invariant).
type CommandPoolAccess struct {
	mu    sync.Mutex
	pools map[ProtectionType]*persistentPool
	state [2][priorityCount]commandsState // indexed [protection][priority]
}

// NewCommandPoolAccess returns an empty broker. Pools are created lazily
// by InitPool.
func NewCommandPoolAccess() *CommandPoolAccess {
	return &CommandPoolAccess{pools: make(map[ProtectionType]*persistentPool)}
}

func protIndex(p ProtectionType) int {
	if p == ProtectionProtected {
		return 1
	}
	return 0
}

// InitPool idempotently creates the persistent pool for protection.
func (c *CommandPoolAccess) InitPool(protection ProtectionType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pools[protection]; ok {
		return nil
	}
	c.pools[protection] = &persistentPool{protection: protection}
	return nil
}

func (c *CommandPoolAccess) stateFor(protection ProtectionType, priority Priority) *commandsState {
	return &c.state[protIndex(protection)][priority]
}

// ensurePrimaryLocked opens a primary buffer on st if one isn't already
// open, drawing from protection's persistent pool. Must be called with
// c.mu held.
func (c *CommandPoolAccess) ensurePrimaryLocked(protection ProtectionType, st *commandsState) error {
	if st.primary != 0 {
		return nil
	}
	pool, ok := c.pools[protection]
	if !ok {
		return fmt.Errorf("gfxqueue: pool for protection %s not initialized", protection)
	}
	st.primary = pool.acquire()
	return nil
}

// FlushOutsideRP ensures protection/priority's state has a valid primary
// buffer, appends buf's recorded contents into it, and consumes buf (the
// caller must not use it again).
func (c *CommandPoolAccess) FlushOutsideRP(protection ProtectionType, priority Priority, buf CommandBufferHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(protection, priority)
	if err := c.ensurePrimaryLocked(protection, st); err != nil {
		return err
	}
	st.secondary = append(st.secondary, buf)
	return st.checkInvariant()
}

// RenderPassInfo is an opaque handle to the render-pass scope
// FlushRenderPass wraps around buf's contents. Render-pass recording
// itself is out of scope (spec §1); only the handle is threaded through.
type RenderPassInfo struct {
	Pass                uint64
	FramebufferOverride uint64
}

// FlushRenderPass is FlushOutsideRP's render-pass counterpart.
func (c *CommandPoolAccess) FlushRenderPass(protection ProtectionType, priority Priority, pass RenderPassInfo, buf CommandBufferHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(protection, priority)
	if err := c.ensurePrimaryLocked(protection, st); err != nil {
		return err
	}
	st.secondary = append(st.secondary, buf)
	return st.checkInvariant()
}

// FlushWaitSemaphores appends to protection/priority's accumulated wait
// semaphores. sems and stages must be the same length; the caller must not
// retain them afterward.
func (c *CommandPoolAccess) FlushWaitSemaphores(protection ProtectionType, priority Priority, sems []SemaphoreHandle, stages []PipelineStageMask) error {
	if len(sems) != len(stages) {
		return fmt.Errorf("gfxqueue: wait semaphore/stage count mismatch: %d vs %d", len(sems), len(stages))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(protection, priority)
	st.waitSemaphores = append(st.waitSemaphores, sems...)
	st.waitStages = append(st.waitStages, stages...)
	return nil
}

// GetCommandsAndWaitSemaphores ends the current primary buffer for
// protection/priority, hands ownership of it plus its accumulated
// secondary buffers to batch, and transfers the wait semaphores out. The
// state is reset afterward.
func (c *CommandPoolAccess) GetCommandsAndWaitSemaphores(protection ProtectionType, priority Priority, batch *CommandBatch) (sems []SemaphoreHandle, stages []PipelineStageMask) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(protection, priority)
	if st.primary != 0 {
		batch.setPrimary(st.primary, c)
	}
	if len(st.secondary) > 0 {
		batch.addSecondary(st.secondary...)
	}
	sems, stages = st.waitSemaphores, st.waitStages
	st.reset()
	return sems, stages
}

// CollectPrimary returns buf to its protection's persistent pool for reset
// and reuse. Called from CommandBatch.Release.
func (c *CommandPoolAccess) CollectPrimary(protection ProtectionType, buf CommandBufferHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool, ok := c.pools[protection]
	if !ok {
		return fmt.Errorf("gfxqueue: pool for protection %s not initialized", protection)
	}
	pool.release(buf)
	return nil
}

// DestroyPrimary unconditionally destroys buf instead of returning it to
// its pool. Used on the device-lost path where pools themselves may be
// about to be torn down.
func (c *CommandPoolAccess) DestroyPrimary(buf CommandBufferHandle) error {
	// Buffer destruction itself happens through command-buffer recording,
	// out of scope here (spec §1); this broker's responsibility is only
	// to stop tracking it.
	return nil
}

// CollectSecondary releases bufs once their owning batch has been
// released (spec §3: a batch owns "a collection of secondary buffers to
// recycle" until then). Unlike a primary buffer, a secondary buffer is
// caller-recorded and already consumed by Device.Submit itself, so there
// is no persistent-pool slot to return it to; this exists so Release
// disposes of every buffer a batch owns rather than dropping the
// reference silently.
func (c *CommandPoolAccess) CollectSecondary(protection ProtectionType, bufs []CommandBufferHandle) error {
	return nil
}

// DestroySecondary is DestroyPrimary's counterpart for secondary buffers,
// used on the device-lost teardown path.
func (c *CommandPoolAccess) DestroySecondary(bufs []CommandBufferHandle) error {
	return nil
}
