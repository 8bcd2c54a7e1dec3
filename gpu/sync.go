package gpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
)

// Fence is a host-waitable signal set by the device when submitted work
// completes.
type Fence struct {
	device *Device
	handle core1_0.Fence
}

// NewFence creates a fence. A signaled fence lets the first wait return
// immediately, which is how frame slots start out.
func NewFence(device *Device, signaled bool) (*Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}
	handle, res, err := device.handle.CreateFence(nil, info)
	if err != nil {
		return nil, creationError(res, err, "fence")
	}
	return &Fence{device: device, handle: handle}, nil
}

func (f *Fence) Handle() core1_0.Fence {
	return f.handle
}

func (f *Fence) Wait(timeout time.Duration) error {
	res, err := f.handle.Wait(timeout)
	if err != nil {
		return synchronizationError(res, err, "wait for fence")
	}
	if res == core1_0.VKTimeout {
		return errors.Mark(errors.Newf("fence not signaled after %s", timeout), ErrSynchronization)
	}
	return nil
}

func (f *Fence) Reset() error {
	res, err := f.device.handle.ResetFences([]core1_0.Fence{f.handle})
	if err != nil {
		return synchronizationError(res, err, "reset fence")
	}
	return nil
}

func (f *Fence) Signaled() (bool, error) {
	res, err := f.handle.Status()
	if err != nil {
		return false, synchronizationError(res, err, "query fence status")
	}
	return res == core1_0.VKSuccess, nil
}

func (f *Fence) Destroy() {
	f.handle.Destroy(nil)
}

// Semaphore is a binary semaphore ordering work between queue operations.
type Semaphore struct {
	handle core1_0.Semaphore
}

func NewSemaphore(device *Device) (*Semaphore, error) {
	handle, res, err := device.handle.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, creationError(res, err, "semaphore")
	}
	return &Semaphore{handle: handle}, nil
}

func (s *Semaphore) Handle() core1_0.Semaphore {
	return s.handle
}

func (s *Semaphore) Destroy() {
	s.handle.Destroy(nil)
}

// TimelineSemaphore carries a monotonically increasing counter that both the
// host and the device can signal and wait on.
type TimelineSemaphore struct {
	extension khr_timeline_semaphore.Extension
	device    core1_0.Device
	handle    core1_0.Semaphore
}

func NewTimelineSemaphore(device *Device, initial uint64) (*TimelineSemaphore, error) {
	if err := device.requireTimeline(); err != nil {
		return nil, err
	}

	info := core1_0.SemaphoreCreateInfo{}
	info.Next = khr_timeline_semaphore.SemaphoreTypeCreateInfo{
		SemaphoreType: khr_timeline_semaphore.SemaphoreTypeTimeline,
		InitialValue:  initial,
	}
	handle, res, err := device.handle.CreateSemaphore(nil, info)
	if err != nil {
		return nil, creationError(res, err, "timeline semaphore")
	}
	return &TimelineSemaphore{extension: device.timelineExtension, device: device.handle, handle: handle}, nil
}

func (t *TimelineSemaphore) Handle() core1_0.Semaphore {
	return t.handle
}

// Signal sets the counter from the host. value must be greater than the
// current counter.
func (t *TimelineSemaphore) Signal(value uint64) error {
	res, err := t.extension.SignalSemaphore(t.device, khr_timeline_semaphore.SemaphoreSignalInfo{
		Semaphore: t.handle,
		Value:     value,
	})
	if err != nil {
		return synchronizationError(res, err, "signal timeline semaphore to %d", value)
	}
	return nil
}

// Wait blocks until the counter reaches value.
func (t *TimelineSemaphore) Wait(value uint64, timeout time.Duration) error {
	res, err := t.extension.WaitSemaphores(t.device, timeout, khr_timeline_semaphore.SemaphoreWaitInfo{
		Semaphores: []core1_0.Semaphore{t.handle},
		Values:     []uint64{value},
	})
	if err != nil {
		return synchronizationError(res, err, "wait for timeline value %d", value)
	}
	if res == core1_0.VKTimeout {
		return errors.Mark(errors.Newf("timeline value %d not reached after %s", value, timeout), ErrSynchronization)
	}
	return nil
}

func (t *TimelineSemaphore) Value() (uint64, error) {
	value, res, err := t.extension.SemaphoreCounterValue(t.handle)
	if err != nil {
		return 0, synchronizationError(res, err, "read timeline value")
	}
	return value, nil
}

func (t *TimelineSemaphore) Destroy() {
	t.handle.Destroy(nil)
}
