package gfxqueue

import "testing"

func TestPresentInfoValidateRejectsEmptyRegions(t *testing.T) {
	info := PresentInfo{Swapchain: 1, Regions: []PresentRegion{}}
	if err := info.Validate(); err == nil {
		t.Fatal("expected error for a present-regions extension with no rectangles")
	}
}

func TestPresentInfoValidateAcceptsAbsentRegions(t *testing.T) {
	info := PresentInfo{Swapchain: 1}
	if err := info.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestPresentInfoWithMode(t *testing.T) {
	info := PresentInfo{Swapchain: 1}
	if info.HasMode() {
		t.Fatal("fresh PresentInfo should not have a mode attached")
	}
	info = info.WithMode(PresentMode(3))
	if !info.HasMode() {
		t.Fatal("expected HasMode true after WithMode")
	}
	if info.Mode != 3 {
		t.Fatalf("Mode = %d, want 3", info.Mode)
	}
}
