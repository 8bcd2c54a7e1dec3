package viewer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// FrameResources are the synchronization objects owned by one slot of the
// frame ring.
type FrameResources struct {
	// InFlight is signaled when the slot's last submission has finished.
	InFlight       *gpu.Fence
	ImageAvailable *gpu.Semaphore
	RenderFinished *gpu.Semaphore
}

func NewFrameResources(device *gpu.Device) (*FrameResources, error) {
	frame := &FrameResources{}
	var err error

	// Starts signaled so the first wait on the slot returns immediately.
	if frame.InFlight, err = gpu.NewFence(device, true); err != nil {
		return nil, err
	}
	if frame.ImageAvailable, err = gpu.NewSemaphore(device); err != nil {
		frame.Destroy()
		return nil, err
	}
	if frame.RenderFinished, err = gpu.NewSemaphore(device); err != nil {
		frame.Destroy()
		return nil, err
	}
	return frame, nil
}

func (f *FrameResources) Destroy() {
	if f.RenderFinished != nil {
		f.RenderFinished.Destroy()
	}
	if f.ImageAvailable != nil {
		f.ImageAvailable.Destroy()
	}
	if f.InFlight != nil {
		f.InFlight.Destroy()
	}
}

type frameFence interface {
	Wait(timeout time.Duration) error
	Reset() error
}

// frameStages is the device work of a single frame. slot picks the
// FrameResources, image the swapchain image.
type frameStages interface {
	Acquire(slot int) (image int, err error)
	Update(image int) error
	Submit(slot, image int) error
	Present(slot, image int) error
}

// FrameLoop cycles a ring of frame slots. A slot is reused only after its
// fence shows the previous submission from it has finished, which bounds
// the number of frames in flight by the ring size.
type FrameLoop struct {
	fences []frameFence
	stages frameStages
	// imagesInFlight remembers which slot's fence last covered each image.
	imagesInFlight []frameFence
	timeout        time.Duration
	logger         logrus.FieldLogger

	slot  int
	Stats FrameStats
}

func newFrameLoop(fences []frameFence, images int, stages frameStages, timeout time.Duration, logger logrus.FieldLogger) *FrameLoop {
	return &FrameLoop{
		fences:         fences,
		stages:         stages,
		imagesInFlight: make([]frameFence, images),
		timeout:        timeout,
		logger:         logger,
	}
}

// NewFrameLoop builds a loop over frames, one slot per frame resource set.
func NewFrameLoop(frames []*FrameResources, images int, stages frameStages, timeout time.Duration, logger logrus.FieldLogger) *FrameLoop {
	fences := make([]frameFence, len(frames))
	for i, frame := range frames {
		fences[i] = frame.InFlight
	}
	return newFrameLoop(fences, images, stages, timeout, logger)
}

// Run draws frames until a stop event arrives or a frame fails. Events are
// drained at the top of each iteration, and the frame of the iteration that
// saw the stop is still submitted and presented before Run returns.
func (l *FrameLoop) Run(events <-chan Event) error {
	for {
		stop := drainEvents(events)
		if err := l.Frame(); err != nil {
			return err
		}
		if stop {
			break
		}
	}
	l.logger.WithField("frames", l.Stats.Frames).Info("frame loop stopped")
	return nil
}

// Frame renders and presents one frame and advances to the next slot.
func (l *FrameLoop) Frame() error {
	l.Stats.begin()

	fence := l.fences[l.slot]
	if err := fence.Wait(l.timeout); err != nil {
		return errors.Wrapf(err, "frame slot %d", l.slot)
	}
	if err := fence.Reset(); err != nil {
		return err
	}

	image, err := l.stages.Acquire(l.slot)
	if err != nil {
		return err
	}
	if image < 0 || image >= len(l.imagesInFlight) {
		return errors.Mark(errors.Newf("acquired image %d of %d", image, len(l.imagesInFlight)), gpu.ErrSynchronization)
	}

	// The image may still be in use by a submission from another slot.
	if previous := l.imagesInFlight[image]; previous != nil && previous != fence {
		if err := previous.Wait(l.timeout); err != nil {
			return errors.Wrapf(err, "image %d", image)
		}
	}
	l.imagesInFlight[image] = fence

	if err := l.stages.Update(image); err != nil {
		return err
	}
	if err := l.stages.Submit(l.slot, image); err != nil {
		return err
	}
	if err := l.stages.Present(l.slot, image); err != nil {
		return err
	}

	l.slot = (l.slot + 1) % len(l.fences)
	l.Stats.end()
	return nil
}

// deviceStages runs the frame stages against the swapchain with command
// buffers recorded ahead of time, one per swapchain image.
type deviceStages struct {
	device    *gpu.Device
	swapchain *gpu.Swapchain
	frames    []*FrameResources
	commands  []*gpu.CommandBuffer
	uniforms  []*gpu.Buffer
	camera    *Camera
	timeout   time.Duration
	logger    logrus.FieldLogger

	// timeline counts finished frames on the device. It is nil when the
	// device lacks timeline semaphores.
	timeline  *gpu.TimelineSemaphore
	submitted uint64

	lastUpdate   time.Duration
	warnedSubopt bool
}

func (s *deviceStages) Acquire(slot int) (int, error) {
	image, suboptimal, err := s.swapchain.AcquireNextImage(s.frames[slot].ImageAvailable, nil, s.timeout)
	if err != nil {
		return 0, err
	}
	if suboptimal {
		s.warnSuboptimal("acquire")
	}
	return image, nil
}

func (s *deviceStages) Update(image int) error {
	now := hrtime.Now()
	if s.lastUpdate != 0 {
		s.camera.Advance((now - s.lastUpdate).Seconds())
	}
	s.lastUpdate = now

	extent := s.swapchain.Extent()
	uniform := s.camera.ViewProjection(float32(extent.Width) / float32(extent.Height))
	return s.uniforms[image].CopyFrom(uniform.Bytes())
}

func (s *deviceStages) Submit(slot, image int) error {
	frame := s.frames[slot]
	batch := gpu.SubmitBatch{
		CommandBuffers:   []*gpu.CommandBuffer{s.commands[image]},
		WaitSemaphores:   []*gpu.Semaphore{frame.ImageAvailable},
		WaitStages:       []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []*gpu.Semaphore{frame.RenderFinished},
		Fence:            frame.InFlight,
	}
	if s.timeline != nil {
		batch.SignalTimeline = []gpu.TimelineSignal{{Semaphore: s.timeline, Value: s.submitted + 1}}
	}

	if err := s.device.GraphicsQueue().Submit(batch); err != nil {
		return err
	}
	s.submitted++
	return nil
}

func (s *deviceStages) Present(slot, image int) error {
	result, err := s.swapchain.Present(s.device.PresentQueue(), image, s.frames[slot].RenderFinished)
	if err != nil {
		return err
	}
	if result.Suboptimal {
		s.warnSuboptimal("present")
	}
	return nil
}

func (s *deviceStages) warnSuboptimal(stage string) {
	if s.warnedSubopt {
		return
	}
	s.warnedSubopt = true
	s.logger.WithField("stage", stage).Warn("swapchain no longer matches the surface exactly; continuing")
}

// drain waits until the device has finished every submitted frame.
func (s *deviceStages) drain() error {
	if s.timeline == nil || s.submitted == 0 {
		return nil
	}
	return s.timeline.Wait(s.submitted, s.timeout)
}
