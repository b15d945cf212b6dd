package gfxqueue

import "testing"

func TestSimpleGarbageListCollectsOnlyFinished(t *testing.T) {
	tracker := NewSerialTracker(1)
	g := NewSimpleGarbageList()

	u1 := NewResourceUse()
	u1.Add(QueueSerial{Index: 0, Serial: 1})
	u2 := NewResourceUse()
	u2.Add(QueueSerial{Index: 0, Serial: 2})

	g.Add(u1, 100)
	g.Add(u2, 200)

	if got := g.PendingBytes(); got != 300 {
		t.Fatalf("PendingBytes = %d, want 300", got)
	}

	tracker.SetCompleted(0, 1)
	g.Collect(tracker)
	if got := g.PendingBytes(); got != 200 {
		t.Fatalf("PendingBytes after partial completion = %d, want 200", got)
	}

	tracker.SetCompleted(0, 2)
	g.Collect(tracker)
	if got := g.PendingBytes(); got != 0 {
		t.Fatalf("PendingBytes after full completion = %d, want 0", got)
	}
}
