package gfxqueue

import (
	"testing"
	"time"

	"github.com/gogpu/gfxqueue/internal/mockdevice"
)

func newTestProcessor(t *testing.T, cfg Config) (*CommandProcessor, *CommandQueue, *mockdevice.Device) {
	t.Helper()
	dev := mockdevice.New()
	pool := NewCommandPoolAccess()
	if err := pool.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	tracker := NewSerialTracker(1)
	cfg = cfg.normalize()
	q := NewCommandQueue(dev, pool, tracker, NewSimpleGarbageList(), cfg)
	p := NewCommandProcessor(q, pool, tracker, cfg)
	return p, q, dev
}

func TestProcessorEnqueueAndDrain(t *testing.T) {
	p, q, dev := newTestProcessor(t, DefaultConfig())
	defer p.Close()

	for i := 0; i < 8; i++ {
		buf := CommandBufferHandle(i + 1)
		if err := p.EnqueueFlushOutsideRPCommands(ProtectionUnprotected, PriorityHigh, buf); err != nil {
			t.Fatalf("enqueue flush %d: %v", i, err)
		}
		serial := QueueSerial{Index: 0, Serial: Serial(i + 1)}
		if err := p.EnqueueSubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
			t.Fatalf("enqueue submit %d: %v", i, err)
		}
	}

	if err := p.WaitForAllWorkToBeSubmitted(); err != nil {
		t.Fatalf("WaitForAllWorkToBeSubmitted: %v", err)
	}

	if got := len(dev.Submissions()); got != 8 {
		t.Fatalf("len(Submissions()) = %d, want 8", got)
	}
	if err := q.WaitIdle(time.Second); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestProcessorWaitForResourceUseToBeSubmittedDrivesQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlowAsyncCommandQueueForTesting = true
	p, _, _ := newTestProcessor(t, cfg)
	defer p.Close()

	buf := CommandBufferHandle(1)
	if err := p.EnqueueFlushOutsideRPCommands(ProtectionUnprotected, PriorityHigh, buf); err != nil {
		t.Fatalf("enqueue flush: %v", err)
	}
	serial := QueueSerial{Index: 0, Serial: 1}
	if err := p.EnqueueSubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
		t.Fatalf("enqueue submit: %v", err)
	}

	use := NewResourceUse()
	use.Add(serial)
	if err := p.WaitForResourceUseToBeSubmitted(use); err != nil {
		t.Fatalf("WaitForResourceUseToBeSubmitted: %v", err)
	}
	if !use.Submitted(p.tracker) {
		t.Fatal("expected use to be observed submitted")
	}
}

func TestProcessorEnqueueShedsOnFullRing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskQueueCapacity = 2
	p, _, dev := newTestProcessor(t, cfg)
	defer p.Close()

	// Pause the worker by flooding past capacity quickly; regardless of
	// whether the worker has drained yet, no Enqueue call should ever
	// return ErrQueueShutdown or block forever.
	for i := 0; i < 10; i++ {
		buf := CommandBufferHandle(i + 1)
		if err := p.EnqueueFlushOutsideRPCommands(ProtectionUnprotected, PriorityHigh, buf); err != nil {
			t.Fatalf("enqueue flush %d: %v", i, err)
		}
		serial := QueueSerial{Index: 0, Serial: Serial(i + 1)}
		if err := p.EnqueueSubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
			t.Fatalf("enqueue submit %d: %v", i, err)
		}
	}

	if err := p.WaitForAllWorkToBeSubmitted(); err != nil {
		t.Fatalf("WaitForAllWorkToBeSubmitted: %v", err)
	}
	if got := len(dev.Submissions()); got != 10 {
		t.Fatalf("len(Submissions()) = %d, want 10 despite shedding", got)
	}
}

func TestProcessorCloseIsIdempotentWithDrain(t *testing.T) {
	p, _, _ := newTestProcessor(t, DefaultConfig())
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := p.enqueue(initFlushWaitSemaphores(ProtectionUnprotected, PriorityLow, nil, nil)); err == nil {
		t.Fatal("expected ErrQueueShutdown after Close")
	}
}
