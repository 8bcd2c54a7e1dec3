package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
)

// PresentationTarget is the window the viewer draws into. It is implemented
// outside this package by the windowing collaborator.
type PresentationTarget interface {
	// Loader resolves the API entry points through the window system.
	Loader() (core.Loader, error)
	RequiredInstanceExtensions() []string
	CreateSurface(instance core1_0.Instance, extension khr_surface.Extension) (khr_surface.Surface, error)
	// CurrentExtent is the drawable size in pixels.
	CurrentExtent() core1_0.Extent2D
}

type SurfaceSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

type Surface struct {
	handle khr_surface.Surface
	target PresentationTarget
}

func NewSurface(instance *Instance, target PresentationTarget) (*Surface, error) {
	extension := khr_surface.CreateExtensionFromInstance(instance.handle)
	handle, err := target.CreateSurface(instance.handle, extension)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create surface"), ErrResourceCreation)
	}
	return &Surface{handle: handle, target: target}, nil
}

func (s *Surface) Handle() khr_surface.Surface {
	return s.handle
}

// Extent is the size the window system wants the swapchain to be.
func (s *Surface) Extent() core1_0.Extent2D {
	return s.target.CurrentExtent()
}

func (s *Surface) SupportsQueueFamily(device *PhysicalDevice, family int) (bool, error) {
	supported, res, err := s.handle.PhysicalDeviceSurfaceSupport(device.handle, family)
	if err != nil {
		return false, errors.Mark(errors.Wrapf(resultError(res, err), "query present support for family %d", family), ErrConfiguration)
	}
	return supported, nil
}

func (s *Surface) Support(device *PhysicalDevice) (SurfaceSupport, error) {
	var support SurfaceSupport
	var err error
	var res common.VkResult

	support.Capabilities, res, err = s.handle.PhysicalDeviceSurfaceCapabilities(device.handle)
	if err != nil {
		return support, errors.Mark(errors.Wrap(resultError(res, err), "query surface capabilities"), ErrConfiguration)
	}

	support.Formats, res, err = s.handle.PhysicalDeviceSurfaceFormats(device.handle)
	if err != nil {
		return support, errors.Mark(errors.Wrap(resultError(res, err), "query surface formats"), ErrConfiguration)
	}

	support.PresentModes, res, err = s.handle.PhysicalDeviceSurfacePresentModes(device.handle)
	if err != nil {
		return support, errors.Mark(errors.Wrap(resultError(res, err), "query present modes"), ErrConfiguration)
	}

	return support, nil
}

func (s *Surface) Destroy() {
	s.handle.Destroy(nil)
}
