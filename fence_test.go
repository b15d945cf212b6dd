package gfxqueue

import (
	"testing"

	"github.com/gogpu/gfxqueue/internal/mockdevice"
)

func TestFenceRecyclerReusesReleased(t *testing.T) {
	dev := mockdevice.New()
	r := NewFenceRecycler(dev)

	f1, err := r.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	r.Recycle(f1)
	if got := r.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1", got)
	}

	f2, err := r.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if f2 != f1 {
		t.Fatalf("Fetch() after Recycle = %d, want reused handle %d", f2, f1)
	}
	if got := r.Size(); got != 0 {
		t.Fatalf("Size() after refetch = %d, want 0", got)
	}
}

func TestSharedFenceRefCounting(t *testing.T) {
	dev := mockdevice.New()
	r := NewFenceRecycler(dev)

	h, err := r.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	sf := NewSharedFence(dev, r, h)
	sf.AddRef()

	if err := sf.Release(); err != nil {
		t.Fatalf("Release (1st): %v", err)
	}
	if got := r.Size(); got != 0 {
		t.Fatalf("Size() after first release = %d, want 0 (still referenced)", got)
	}

	if err := sf.Release(); err != nil {
		t.Fatalf("Release (2nd): %v", err)
	}
	if got := r.Size(); got != 1 {
		t.Fatalf("Size() after last release = %d, want 1", got)
	}
}

func TestSharedFenceDetachedDestroysDirectly(t *testing.T) {
	dev := mockdevice.New()
	h, err := dev.CreateFence()
	if err != nil {
		t.Fatalf("CreateFence: %v", err)
	}
	sf := NewSharedFence(dev, nil, h)
	sf.Detach()

	if err := sf.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := dev.ExportFenceFd(h); err == nil {
		t.Fatal("expected fence to be destroyed, ExportFenceFd succeeded")
	}
}
