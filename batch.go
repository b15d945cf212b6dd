package gfxqueue

import "fmt"

// CommandBatch is the bookkeeping for one submission: its serial, the
// protection mode it was submitted under, its primary command buffer (if
// any) and a back-pointer to the pool it must be returned to, the secondary
// buffers recorded into it, and exactly one of an internal or external
// fence (or neither, for a submission with no GPU work at all).
type CommandBatch struct {
	serial     QueueSerial
	protection ProtectionType

	primary     CommandBufferHandle
	primaryPool *CommandPoolAccess

	secondary []CommandBufferHandle

	internalFence *SharedFence
	externalFence FenceHandle

	released bool
}

// newCommandBatch constructs a batch with its serial and protection
// stamped. No fence is attached yet; assignInternalFence or
// assignExternalFence must be called exactly once before the batch is pushed onto a queue's in-flight ring unless the
// submission genuinely carries no fence.
func newCommandBatch(serial QueueSerial, protection ProtectionType) *CommandBatch {
	return &CommandBatch{serial: serial, protection: protection}
}

// Serial returns the batch's stamped queue serial.
func (b *CommandBatch) Serial() QueueSerial { return b.serial }

// Protection returns the protection mode this batch submitted under.
func (b *CommandBatch) Protection() ProtectionType { return b.protection }

// setPrimary attaches the primary command buffer and the pool it must be
// returned to. Per spec §3, if the buffer is valid the pool must be
// non-nil.
func (b *CommandBatch) setPrimary(buf CommandBufferHandle, pool *CommandPoolAccess) {
	b.primary = buf
	b.primaryPool = pool
}

// addSecondary records a secondary buffer to be recycled on release.
func (b *CommandBatch) addSecondary(bufs ...CommandBufferHandle) {
	b.secondary = append(b.secondary, bufs...)
}

// assignInternalFence attaches a fence allocated from the recycler. Fails
// with ErrFenceConflict if an external fence is already attached.
func (b *CommandBatch) assignInternalFence(f *SharedFence) error {
	if b.externalFence.Valid() {
		return ErrFenceConflict
	}
	b.internalFence = f
	return nil
}

// assignExternalFence attaches a caller-supplied fence. Fails with
// ErrFenceConflict if an internal fence is already attached.
func (b *CommandBatch) assignExternalFence(f FenceHandle) error {
	if b.internalFence != nil {
		return ErrFenceConflict
	}
	b.externalFence = f
	return nil
}

// hasFence reports whether the batch carries either fence source.
func (b *CommandBatch) hasFence() bool {
	return b.internalFence != nil || b.externalFence.Valid()
}

// fenceHandle returns the handle to poll/wait on, or 0 if the batch has no
// fence. Safe to copy across a lock release (WaitFenceUnlocked discipline):
// the returned value, once obtained, remains valid until Release.
func (b *CommandBatch) fenceHandle() FenceHandle {
	if b.internalFence != nil {
		return b.internalFence.Handle()
	}
	return b.externalFence
}

// Release returns the batch's primary command buffer to its pool and
// drops its fence reference. It is an error to call Release twice or to
// call it after destroy; both would violate the "exactly once" disposal
// invariant (spec §8 invariant 4).
func (b *CommandBatch) Release() error {
	if b.released {
		return fmt.Errorf("gfxqueue: batch %s already released", b.serial)
	}
	b.released = true

	if b.primary != 0 {
		if b.primaryPool == nil {
			return fmt.Errorf("gfxqueue: batch %s has a primary buffer with no owning pool", b.serial)
		}
		if err := b.primaryPool.CollectPrimary(b.protection, b.primary); err != nil {
			return err
		}
	}

	if len(b.secondary) > 0 {
		if b.primaryPool == nil {
			return fmt.Errorf("gfxqueue: batch %s has secondary buffers with no owning pool", b.serial)
		}
		if err := b.primaryPool.CollectSecondary(b.protection, b.secondary); err != nil {
			return err
		}
	}

	if b.internalFence != nil {
		if err := b.internalFence.Release(); err != nil {
			return err
		}
	}
	return nil
}

// destroy tears the batch down outside the normal release path, used on
// device loss: the primary buffer is destroyed rather than pooled, and any
// internal fence is detached from its recycler before being released so a
// concurrently-shutting-down recycler can't race with it.
func (b *CommandBatch) destroy(dev Device) error {
	if b.released {
		return nil
	}
	b.released = true

	if b.primary != 0 && b.primaryPool != nil {
		if err := b.primaryPool.DestroyPrimary(b.primary); err != nil {
			return err
		}
	}

	if len(b.secondary) > 0 && b.primaryPool != nil {
		if err := b.primaryPool.DestroySecondary(b.secondary); err != nil {
			return err
		}
	}

	if b.internalFence != nil {
		b.internalFence.Detach()
		if err := b.internalFence.Release(); err != nil {
			return err
		}
	} else if b.externalFence.Valid() {
		if err := dev.DestroyFence(b.externalFence); err != nil {
			return err
		}
	}
	return nil
}
