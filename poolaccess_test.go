package gfxqueue

import "testing"

func TestCommandPoolAccessAccumulatesOutsideRP(t *testing.T) {
	c := NewCommandPoolAccess()
	if err := c.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}

	if err := c.FlushOutsideRP(ProtectionUnprotected, PriorityMedium, CommandBufferHandle(1)); err != nil {
		t.Fatalf("FlushOutsideRP #1: %v", err)
	}
	if err := c.FlushOutsideRP(ProtectionUnprotected, PriorityMedium, CommandBufferHandle(2)); err != nil {
		t.Fatalf("FlushOutsideRP #2: %v", err)
	}

	batch := newCommandBatch(QueueSerial{Index: 0, Serial: 1}, ProtectionUnprotected)
	sems, stages := c.GetCommandsAndWaitSemaphores(ProtectionUnprotected, PriorityMedium, batch)
	if len(sems) != 0 || len(stages) != 0 {
		t.Fatalf("expected no wait semaphores, got %d/%d", len(sems), len(stages))
	}
	if batch.primary == 0 {
		t.Fatal("expected a primary buffer to have been opened")
	}
	if len(batch.secondary) != 2 {
		t.Fatalf("len(secondary) = %d, want 2", len(batch.secondary))
	}
}

func TestCommandPoolAccessFlushWaitSemaphoresMismatch(t *testing.T) {
	c := NewCommandPoolAccess()
	if err := c.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	err := c.FlushWaitSemaphores(ProtectionUnprotected, PriorityLow,
		[]SemaphoreHandle{1, 2}, []PipelineStageMask{1})
	if err == nil {
		t.Fatal("expected error for mismatched semaphore/stage lengths")
	}
}

func TestCommandPoolAccessGetCommandsResetsState(t *testing.T) {
	c := NewCommandPoolAccess()
	if err := c.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	if err := c.FlushOutsideRP(ProtectionUnprotected, PriorityLow, CommandBufferHandle(1)); err != nil {
		t.Fatalf("FlushOutsideRP: %v", err)
	}

	batch := newCommandBatch(QueueSerial{Index: 0, Serial: 1}, ProtectionUnprotected)
	c.GetCommandsAndWaitSemaphores(ProtectionUnprotected, PriorityLow, batch)

	batch2 := newCommandBatch(QueueSerial{Index: 0, Serial: 2}, ProtectionUnprotected)
	c.GetCommandsAndWaitSemaphores(ProtectionUnprotected, PriorityLow, batch2)
	if batch2.primary != 0 {
		t.Fatal("expected second drain of an untouched state to have no primary buffer")
	}
}

func TestCommandPoolAccessUninitializedPoolErrors(t *testing.T) {
	c := NewCommandPoolAccess()
	err := c.FlushOutsideRP(ProtectionUnprotected, PriorityLow, CommandBufferHandle(1))
	if err == nil {
		t.Fatal("expected error flushing against an uninitialized pool")
	}
}
