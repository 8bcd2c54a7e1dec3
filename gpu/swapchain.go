package gpu

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// ChooseImageCount asks for one image more than the minimum, capped by the
// maximum. A maximum of 0 means there is none.
func ChooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	count := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}
	return count
}

// ChooseSurfaceFormat prefers 8-bit BGRA in the sRGB non-linear color
// space and otherwise takes the first format offered.
func ChooseSurfaceFormat(formats []khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, error) {
	if len(formats) == 0 {
		return khr_surface.SurfaceFormat{}, configurationErrorf("surface offers no formats")
	}
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8UnsignedNormalized && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format, nil
		}
	}
	return formats[0], nil
}

var presentModePreference = []khr_surface.PresentMode{
	khr_surface.PresentModeMailbox,
	khr_surface.PresentModeImmediate,
	khr_surface.PresentModeFIFO,
}

// ChoosePresentMode picks mailbox, then immediate, then FIFO. FIFO is always
// supported, so it is also the answer for an empty list.
func ChoosePresentMode(modes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, preferred := range presentModePreference {
		for _, mode := range modes {
			if mode == preferred {
				return mode
			}
		}
	}
	return khr_surface.PresentModeFIFO
}

// ChooseExtent uses the surface's current extent unless the surface lets
// the swapchain decide, in which case target is clamped to the allowed
// range.
func ChooseExtent(capabilities *khr_surface.SurfaceCapabilities, target core1_0.Extent2D) core1_0.Extent2D {
	current := capabilities.CurrentExtent
	if uint32(current.Width) != math.MaxUint32 || uint32(current.Height) != math.MaxUint32 {
		return current
	}

	return core1_0.Extent2D{
		Width:  clamp(target.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(target.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// Swapchain owns the presentable images' views. The images themselves
// belong to the swapchain handle.
type Swapchain struct {
	device    *Device
	extension khr_swapchain.Extension
	handle    khr_swapchain.Swapchain
	images    []core1_0.Image
	views     []*ImageView
	format    khr_surface.SurfaceFormat
	extent    core1_0.Extent2D
	mode      khr_surface.PresentMode
}

func NewSwapchain(device *Device, surface *Surface) (*Swapchain, error) {
	support, err := surface.Support(device.physical)
	if err != nil {
		return nil, err
	}

	format, err := ChooseSurfaceFormat(support.Formats)
	if err != nil {
		return nil, err
	}
	mode := ChoosePresentMode(support.PresentModes)
	extent := ChooseExtent(support.Capabilities, surface.Extent())
	if extent.Width == 0 || extent.Height == 0 {
		return nil, configurationErrorf("surface extent %dx%d cannot back a swapchain", extent.Width, extent.Height)
	}

	info := khr_swapchain.SwapchainCreateInfo{
		Surface:          surface.handle,
		MinImageCount:    ChooseImageCount(support.Capabilities),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      mode,
		Clipped:          true,
	}
	if families := device.families; families.Graphics != families.Present {
		info.ImageSharingMode = core1_0.SharingModeConcurrent
		info.QueueFamilyIndices = families.Unique()
	}

	handle, res, err := device.swapchainExtension.CreateSwapchain(device.handle, nil, info)
	if err != nil {
		return nil, creationError(res, err, "swapchain")
	}

	swapchain := &Swapchain{
		device:    device,
		extension: device.swapchainExtension,
		handle:    handle,
		format:    format,
		extent:    extent,
		mode:      mode,
	}

	swapchain.images, res, err = handle.SwapchainImages()
	if err != nil {
		swapchain.Destroy()
		return nil, creationError(res, err, "query swapchain images")
	}

	for _, image := range swapchain.images {
		view, err := NewColorImageView(device, image, format.Format)
		if err != nil {
			swapchain.Destroy()
			return nil, err
		}
		swapchain.views = append(swapchain.views, view)
	}

	device.logger.WithFields(logrus.Fields{
		"images": len(swapchain.images),
		"format": format.Format,
		"mode":   mode,
		"width":  extent.Width,
		"height": extent.Height,
	}).Info("swapchain created")

	return swapchain, nil
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Views() []*ImageView {
	return s.views
}

func (s *Swapchain) Format() core1_0.Format {
	return s.format.Format
}

func (s *Swapchain) Extent() core1_0.Extent2D {
	return s.extent
}

// AcquireNextImage returns the index of the next image to render into.
// signal is signaled once the image may be written. suboptimal reports that
// the swapchain still works but no longer matches the surface exactly.
func (s *Swapchain) AcquireNextImage(signal *Semaphore, fence *Fence, timeout time.Duration) (index int, suboptimal bool, err error) {
	var semaphoreHandle core1_0.Semaphore
	if signal != nil {
		semaphoreHandle = signal.handle
	}
	var fenceHandle core1_0.Fence
	if fence != nil {
		fenceHandle = fence.handle
	}

	index, res, err := s.handle.AcquireNextImage(timeout, semaphoreHandle, fenceHandle)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return 0, false, errors.Mark(synchronizationError(res, err, "acquire swapchain image"), ErrOutOfDate)
	case err != nil:
		return 0, false, synchronizationError(res, err, "acquire swapchain image")
	case res == core1_0.VKTimeout || res == core1_0.VKNotReady:
		return 0, false, errors.Mark(errors.Newf("no swapchain image available after %s", timeout), ErrSynchronization)
	}
	return index, res == khr_swapchain.VKSuboptimal, nil
}

type PresentResult struct {
	Suboptimal bool
}

// Present queues image index for display once every wait semaphore is
// signaled.
func (s *Swapchain) Present(queue *Queue, index int, waits ...*Semaphore) (PresentResult, error) {
	info := khr_swapchain.PresentInfo{
		Swapchains:   []khr_swapchain.Swapchain{s.handle},
		ImageIndices: []int{index},
	}
	for _, wait := range waits {
		info.WaitSemaphores = append(info.WaitSemaphores, wait.handle)
	}

	res, err := s.extension.QueuePresent(queue.handle, info)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return PresentResult{}, errors.Mark(synchronizationError(res, err, "present"), ErrOutOfDate)
	case err != nil:
		return PresentResult{}, synchronizationError(res, err, "present")
	}
	return PresentResult{Suboptimal: res == khr_swapchain.VKSuboptimal}, nil
}

// Destroy releases the image views and then the swapchain.
func (s *Swapchain) Destroy() {
	for _, view := range s.views {
		view.Destroy()
	}
	s.views = nil
	s.handle.Destroy(nil)
}
