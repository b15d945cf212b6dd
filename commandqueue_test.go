package gfxqueue

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gfxqueue/internal/mockdevice"
)

func newTestQueue(t *testing.T, cfg Config) (*CommandQueue, *CommandPoolAccess, *mockdevice.Device, *SerialTracker) {
	t.Helper()
	dev := mockdevice.New()
	pool := NewCommandPoolAccess()
	if err := pool.InitPool(ProtectionUnprotected); err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	tracker := NewSerialTracker(1)
	q := NewCommandQueue(dev, pool, tracker, NewSimpleGarbageList(), cfg)
	return q, pool, dev, tracker
}

func TestSubmitCommandsSignalsFenceAndCompletes(t *testing.T) {
	q, pool, dev, tracker := newTestQueue(t, DefaultConfig())

	buf := CommandBufferHandle(1)
	if err := pool.FlushOutsideRP(ProtectionUnprotected, PriorityHigh, buf); err != nil {
		t.Fatalf("FlushOutsideRP: %v", err)
	}

	serial := QueueSerial{Index: 0, Serial: 1}
	if err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	if got := tracker.LastSubmitted(0); got != 1 {
		t.Fatalf("LastSubmitted = %d, want 1", got)
	}

	use := NewResourceUse()
	use.Add(serial)
	if err := q.FinishResourceUse(use, time.Second); err != nil {
		t.Fatalf("FinishResourceUse: %v", err)
	}
	if got := tracker.LastCompleted(0); got != 1 {
		t.Fatalf("LastCompleted = %d, want 1", got)
	}

	subs := dev.Submissions()
	if len(subs) != 1 {
		t.Fatalf("len(Submissions()) = %d, want 1", len(subs))
	}
	if got := subs[0].Info.CommandBuffers; len(got) != 1 || got[0] != buf {
		t.Fatalf("submitted buffers = %v, want [%d]", got, buf)
	}
}

func TestSubmitCommandsEmptyBatchSkipsDevice(t *testing.T) {
	q, _, dev, tracker := newTestQueue(t, DefaultConfig())

	serial := QueueSerial{Index: 0, Serial: 1}
	if err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}
	if len(dev.Submissions()) != 0 {
		t.Fatalf("expected no device submission for empty batch, got %d", len(dev.Submissions()))
	}
	// A serial with no device work is still observed submitted immediately.
	if got := tracker.LastSubmitted(0); got != 1 {
		t.Fatalf("LastSubmitted = %d, want 1", got)
	}
}

func TestSubmitCommandsForwardsAllAccumulatedBuffers(t *testing.T) {
	q, pool, dev, _ := newTestQueue(t, DefaultConfig())

	bufs := []CommandBufferHandle{1, 2, 3}
	for _, buf := range bufs {
		if err := pool.FlushOutsideRP(ProtectionUnprotected, PriorityHigh, buf); err != nil {
			t.Fatalf("FlushOutsideRP %d: %v", buf, err)
		}
	}

	serial := QueueSerial{Index: 0, Serial: 1}
	if err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	subs := dev.Submissions()
	if len(subs) != 1 {
		t.Fatalf("len(Submissions()) = %d, want 1", len(subs))
	}
	got := subs[0].Info.CommandBuffers
	if len(got) != len(bufs) {
		t.Fatalf("len(CommandBuffers) = %d, want %d", len(got), len(bufs))
	}
	for i, buf := range bufs {
		if got[i] != buf {
			t.Fatalf("CommandBuffers[%d] = %d, want %d", i, got[i], buf)
		}
	}
}

func TestMakeRoomBackpressureWaitsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InFlightCapacity = 2
	cfg.FinishedCapacity = 4
	q, pool, _, _ := newTestQueue(t, cfg)

	for i := 0; i < 3; i++ {
		buf := CommandBufferHandle(i + 1)
		if err := pool.FlushOutsideRP(ProtectionUnprotected, PriorityHigh, buf); err != nil {
			t.Fatalf("FlushOutsideRP %d: %v", i, err)
		}
		serial := QueueSerial{Index: 0, Serial: Serial(i + 1)}
		if err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
			t.Fatalf("SubmitCommands %d: %v", i, err)
		}
	}

	if err := q.WaitIdle(time.Second); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestHandleDeviceLostFailsFutureSubmits(t *testing.T) {
	q, pool, dev, tracker := newTestQueue(t, DefaultConfig())

	buf := CommandBufferHandle(1)
	if err := pool.FlushOutsideRP(ProtectionUnprotected, PriorityHigh, buf); err != nil {
		t.Fatalf("FlushOutsideRP: %v", err)
	}
	serial := QueueSerial{Index: 0, Serial: 1}
	if err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, serial); err != nil {
		t.Fatalf("SubmitCommands: %v", err)
	}

	dev.SetLost()
	if err := q.HandleDeviceLost(); err != nil {
		t.Fatalf("HandleDeviceLost: %v", err)
	}

	if got := tracker.LastCompleted(0); got != InfiniteSerial {
		t.Fatalf("LastCompleted after device loss = %d, want InfiniteSerial", got)
	}

	buf2 := CommandBufferHandle(2)
	_ = pool.FlushOutsideRP(ProtectionUnprotected, PriorityHigh, buf2)
	err := q.SubmitCommands(ProtectionUnprotected, PriorityHigh, 0, 0, QueueSerial{Index: 0, Serial: 2})
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("SubmitCommands after loss error = %v, want ErrDeviceLost", err)
	}
}

func TestPresentNonFatalResults(t *testing.T) {
	q, _, dev, _ := newTestQueue(t, DefaultConfig())

	dev.SetNextPresentResult(ResultSuboptimal)
	status := &SwapchainStatus{IsPending: true}
	info := PresentInfo{Swapchain: 1, ImageIndex: 0}
	if err := q.Present(PriorityHigh, info, status); err != nil {
		t.Fatalf("Present (suboptimal) error = %v", err)
	}
	if status.IsPending {
		t.Fatal("status.IsPending should be false after Present returns")
	}
	if status.LastPresentResult != ResultSuboptimal {
		t.Fatalf("LastPresentResult = %v, want ResultSuboptimal", status.LastPresentResult)
	}
}

func TestPresentDeviceLost(t *testing.T) {
	q, _, dev, _ := newTestQueue(t, DefaultConfig())

	dev.SetLost()
	status := &SwapchainStatus{IsPending: true}
	info := PresentInfo{Swapchain: 1, ImageIndex: 0}
	err := q.Present(PriorityHigh, info, status)
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Present error = %v, want ErrDeviceLost", err)
	}
}

func TestPresentInvalidRegionsRejected(t *testing.T) {
	q, _, _, _ := newTestQueue(t, DefaultConfig())
	info := PresentInfo{Swapchain: 1, Regions: []PresentRegion{}}
	err := q.Present(PriorityHigh, info, nil)
	if !errors.Is(err, ErrInvalidPresentInfo) {
		t.Fatalf("Present error = %v, want ErrInvalidPresentInfo", err)
	}
}
