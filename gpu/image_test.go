package gpu

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestImageDestroyFreesAllocationBeforeHandle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	allocator := newTestAllocator(&fakeSource{})
	allocator.logger = logger

	allocation, err := allocator.Allocate(request(4096, 256, LocationGPUOnly))
	if err != nil {
		t.Fatal(err)
	}

	var liveAtRelease []int
	image := &Image{
		allocator:  allocator,
		allocation: allocation,
		format:     core1_0.FormatD32SignedFloat,
		extent:     core1_0.Extent2D{Width: 32, Height: 32},
		name:       "depth",
		release: func() {
			liveAtRelease = append(liveAtRelease, allocator.Stats().Live)
		},
	}

	image.Destroy()
	image.Destroy()

	if len(liveAtRelease) != 1 {
		t.Fatalf("handle released %d times", len(liveAtRelease))
	}
	if liveAtRelease[0] != 0 {
		t.Errorf("allocation still live when image handle was destroyed")
	}
	if stats := allocator.Stats(); stats.Frees != 1 {
		t.Errorf("frees = %d, want 1", stats.Frees)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level <= logrus.ErrorLevel {
			t.Errorf("unexpected error log: %s", entry.Message)
		}
	}
}

func TestDepthAspect(t *testing.T) {
	if got := DepthAspect(core1_0.FormatD32SignedFloat); got != core1_0.ImageAspectDepth {
		t.Errorf("D32 aspect = %v, want depth only", got)
	}
	if got := DepthAspect(core1_0.FormatD24UnsignedNormalizedS8UnsignedInt); got != core1_0.ImageAspectDepth|core1_0.ImageAspectStencil {
		t.Errorf("D24S8 aspect = %v, want depth and stencil", got)
	}
}
