package viewer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// fakeDevice only finishes a submission when someone waits on its fence,
// so the loop sees as many frames in flight as it allows itself.
type fakeDevice struct {
	inFlight    int
	maxInFlight int
}

type fakeFence struct {
	device  *fakeDevice
	pending bool
	waits   int
}

func (f *fakeFence) Wait(time.Duration) error {
	f.waits++
	if f.pending {
		f.pending = false
		f.device.inFlight--
	}
	return nil
}

func (f *fakeFence) Reset() error {
	if f.pending {
		return errors.New("reset of a fence with work pending")
	}
	return nil
}

func (f *fakeFence) submit() {
	f.pending = true
	f.device.inFlight++
	if f.device.inFlight > f.device.maxInFlight {
		f.device.maxInFlight = f.device.inFlight
	}
}

type fakeStages struct {
	t       *testing.T
	fences  []*fakeFence
	images  []int
	next    int
	owners  map[int]*fakeFence
	frames  int
	onFrame func(frame int)

	acquireErr error
}

func (s *fakeStages) Acquire(slot int) (int, error) {
	if s.acquireErr != nil {
		return 0, s.acquireErr
	}
	image := s.images[s.next%len(s.images)]
	s.next++
	return image, nil
}

func (s *fakeStages) Update(image int) error {
	if owner := s.owners[image]; owner != nil && owner.pending {
		s.t.Errorf("uniforms of image %d written while a submission using them is in flight", image)
	}
	return nil
}

func (s *fakeStages) Submit(slot, image int) error {
	s.fences[slot].submit()
	s.owners[image] = s.fences[slot]
	return nil
}

func (s *fakeStages) Present(slot, image int) error {
	s.frames++
	if s.onFrame != nil {
		s.onFrame(s.frames)
	}
	return nil
}

func newFakeLoop(t *testing.T, ring int, images []int) (*FrameLoop, *fakeStages, *fakeDevice) {
	device := &fakeDevice{}
	stages := &fakeStages{t: t, images: images, owners: map[int]*fakeFence{}}
	fences := make([]frameFence, ring)
	for i := range fences {
		fence := &fakeFence{device: device}
		stages.fences = append(stages.fences, fence)
		fences[i] = fence
	}

	logger, _ := test.NewNullLogger()
	maxImage := 0
	for _, image := range images {
		if image > maxImage {
			maxImage = image
		}
	}
	return newFrameLoop(fences, maxImage+1, stages, time.Second, logger), stages, device
}

func TestFrameLoopBoundsFramesInFlight(t *testing.T) {
	const ring = 3
	loop, stages, device := newFakeLoop(t, ring, []int{0, 1, 2})

	for i := 0; i < 20; i++ {
		if err := loop.Frame(); err != nil {
			t.Fatal(err)
		}
		if device.inFlight > ring {
			t.Fatalf("frame %d: %d frames in flight with a ring of %d", i, device.inFlight, ring)
		}
	}

	if device.maxInFlight != ring {
		t.Errorf("max in flight = %d, want %d", device.maxInFlight, ring)
	}
	if stages.frames != 20 || loop.Stats.Frames != 20 {
		t.Errorf("presented %d frames, stats counted %d", stages.frames, loop.Stats.Frames)
	}
	for i, fence := range stages.fences {
		if fence.waits == 0 {
			t.Errorf("slot %d fence never waited on", i)
		}
	}
}

func TestFrameLoopWaitsForOutOfOrderImages(t *testing.T) {
	// The acquire order hands back images whose last use came from a
	// different slot than the one rendering now.
	loop, stages, _ := newFakeLoop(t, 3, []int{0, 1, 2, 2, 0, 1, 1, 1, 0, 2})

	for i := 0; i < 30; i++ {
		if err := loop.Frame(); err != nil {
			t.Fatal(err)
		}
	}
	if stages.frames != 30 {
		t.Errorf("presented %d frames", stages.frames)
	}
}

func TestFrameLoopStopsAfterCurrentFrame(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	events := make(chan Event, 1)
	stages.onFrame = func(frame int) {
		if frame == 3 {
			events <- EventStop
		}
	}

	if err := loop.Run(events); err != nil {
		t.Fatal(err)
	}
	// The stop is seen at the top of the fourth iteration, whose frame
	// still goes out.
	if stages.frames != 4 {
		t.Errorf("presented %d frames, want 4", stages.frames)
	}
}

func TestFrameLoopStopBeforeFirstFrame(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	events := make(chan Event, 1)
	events <- EventStop

	if err := loop.Run(events); err != nil {
		t.Fatal(err)
	}
	if stages.frames != 1 {
		t.Errorf("presented %d frames after an immediate stop, want 1", stages.frames)
	}
	if loop.Stats.Frames != 1 {
		t.Errorf("stats counted %d frames, want 1", loop.Stats.Frames)
	}
}

func TestFrameLoopStopsOnClosedChannel(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	events := make(chan Event)
	stages.onFrame = func(frame int) {
		if frame == 2 {
			close(events)
		}
	}

	if err := loop.Run(events); err != nil {
		t.Fatal(err)
	}
	if stages.frames != 3 {
		t.Errorf("presented %d frames, want 3", stages.frames)
	}
}

func TestFrameLoopStopDoesNotSkipFailingFrame(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	stages.acquireErr = errors.New("surface lost")
	events := make(chan Event, 1)
	events <- EventStop

	if err := loop.Run(events); err == nil {
		t.Fatal("frame error swallowed by the stop request")
	}
}

func TestFrameLoopPropagatesAcquireErrors(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	stages.acquireErr = errors.Mark(errors.Mark(errors.New("swapchain out of date"), gpu.ErrSynchronization), gpu.ErrOutOfDate)

	err := loop.Run(make(chan Event))
	if !errors.Is(err, gpu.ErrOutOfDate) || !errors.Is(err, gpu.ErrSynchronization) {
		t.Fatalf("got %v, want the acquire error", err)
	}
}

func TestFrameLoopRejectsUnknownImage(t *testing.T) {
	loop, stages, _ := newFakeLoop(t, 2, []int{0, 1})
	stages.images = []int{5}

	if err := loop.Frame(); !errors.Is(err, gpu.ErrSynchronization) {
		t.Fatalf("got %v, want a synchronization error", err)
	}
}

func TestDrainEvents(t *testing.T) {
	events := make(chan Event, 4)
	if drainEvents(events) {
		t.Error("empty channel requested a stop")
	}

	events <- Event(7)
	events <- EventStop
	events <- Event(7)
	if !drainEvents(events) {
		t.Error("stop event was missed")
	}
	if len(events) != 0 {
		t.Errorf("%d events left undrained", len(events))
	}
}

func TestFrameStats(t *testing.T) {
	stats := &FrameStats{}
	if stats.Mean() != 0 {
		t.Error("mean before any frame")
	}
	stats.record(10 * time.Millisecond)
	stats.record(30 * time.Millisecond)

	if stats.Mean() != 20*time.Millisecond || stats.Slowest != 30*time.Millisecond {
		t.Errorf("stats = %+v", stats)
	}

	logger, hook := test.NewNullLogger()
	stats.Log(logger)
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.InfoLevel || entry.Data["frames"] != uint64(2) {
		t.Errorf("logged %+v", entry)
	}
}
