package gfxqueue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gfxqueue/internal/mockdevice"
)

// TestAsyncSubmissionPreservesOrder enqueues many frames from several
// goroutines and checks that every serial index ends up both submitted and,
// once drained, finished — exercising the single-dequeue-lock FIFO
// guarantee under concurrent producers.
func TestAsyncSubmissionPreservesOrder(t *testing.T) {
	dev := mockdevice.New()
	pool := NewCommandPoolAccess()
	if err := pool.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	tracker := NewSerialTracker(4)
	cfg := DefaultConfig()
	q := NewCommandQueue(dev, pool, tracker, NewSimpleGarbageList(), cfg)
	proc := NewCommandProcessor(q, pool, tracker, cfg)
	defer proc.Close()

	const perIndex = 20
	var wg sync.WaitGroup
	for idx := 0; idx < 4; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for s := 1; s <= perIndex; s++ {
				buf := CommandBufferHandle(idx*perIndex + s)
				if err := proc.EnqueueFlushOutsideRPCommands(ProtectionUnprotected, PriorityMedium, buf); err != nil {
					t.Errorf("enqueue flush idx=%d s=%d: %v", idx, s, err)
					return
				}
				serial := QueueSerial{Index: idx, Serial: Serial(s)}
				if err := proc.EnqueueSubmitCommands(ProtectionUnprotected, PriorityMedium, 0, 0, serial); err != nil {
					t.Errorf("enqueue submit idx=%d s=%d: %v", idx, s, err)
					return
				}
			}
		}(idx)
	}
	wg.Wait()

	if err := proc.WaitForAllWorkToBeSubmitted(); err != nil {
		t.Fatalf("WaitForAllWorkToBeSubmitted: %v", err)
	}
	for idx := 0; idx < 4; idx++ {
		if got := tracker.LastSubmitted(idx); got != perIndex {
			t.Fatalf("index %d LastSubmitted = %d, want %d", idx, got, perIndex)
		}
	}

	if err := q.WaitIdle(2 * time.Second); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	for idx := 0; idx < 4; idx++ {
		if got := tracker.LastCompleted(idx); got != perIndex {
			t.Fatalf("index %d LastCompleted = %d, want %d", idx, got, perIndex)
		}
	}
}

// TestDeviceLostDuringInFlightWork submits several batches, loses the
// device mid-flight, and checks every pending resource use observes
// immediate completion rather than hanging.
func TestDeviceLostDuringInFlightWork(t *testing.T) {
	dev := mockdevice.New()
	pool := NewCommandPoolAccess()
	if err := pool.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	tracker := NewSerialTracker(1)
	cfg := DefaultConfig()
	q := NewCommandQueue(dev, pool, tracker, NewSimpleGarbageList(), cfg)

	var serials []QueueSerial
	for i := 0; i < 4; i++ {
		buf := CommandBufferHandle(i + 1)
		if err := pool.FlushOutsideRP(ProtectionUnprotected, PriorityLow, buf); err != nil {
			t.Fatalf("FlushOutsideRP %d: %v", i, err)
		}
		serial := QueueSerial{Index: 0, Serial: Serial(i + 1)}
		if err := q.SubmitCommands(ProtectionUnprotected, PriorityLow, 0, 0, serial); err != nil {
			t.Fatalf("SubmitCommands %d: %v", i, err)
		}
		serials = append(serials, serial)
	}

	// Once the device is lost, a fence wait returns ResultDeviceLost
	// immediately rather than blocking, so HandleDeviceLost tears down
	// every in-flight batch without actually hanging on their fences.
	dev.SetLost()
	if err := q.HandleDeviceLost(); err != nil {
		t.Fatalf("HandleDeviceLost: %v", err)
	}

	use := NewResourceUse()
	for _, s := range serials {
		use.Add(s)
	}
	if !use.Finished(tracker) {
		t.Fatal("expected every pending use to be observed finished after device loss")
	}

	err := q.SubmitCommands(ProtectionUnprotected, PriorityLow, 0, 0, QueueSerial{Index: 0, Serial: 5})
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("SubmitCommands after loss = %v, want ErrDeviceLost", err)
	}
}
