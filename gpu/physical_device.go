package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// PhysicalDevice caches everything queried about a device at discovery time.
type PhysicalDevice struct {
	handle        core1_0.PhysicalDevice
	properties    *core1_0.PhysicalDeviceProperties
	memory        *core1_0.PhysicalDeviceMemoryProperties
	queueFamilies []*core1_0.QueueFamilyProperties
	extensions    map[string]*core1_0.ExtensionProperties
}

func newPhysicalDevice(handle core1_0.PhysicalDevice) (*PhysicalDevice, error) {
	properties, err := handle.Properties()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "query device properties"), ErrConfiguration)
	}

	extensions, res, err := handle.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(resultError(res, err), "enumerate extensions of %s", properties.DriverName), ErrConfiguration)
	}

	return &PhysicalDevice{
		handle:        handle,
		properties:    properties,
		memory:        handle.MemoryProperties(),
		queueFamilies: handle.QueueFamilyProperties(),
		extensions:    extensions,
	}, nil
}

func (p *PhysicalDevice) Handle() core1_0.PhysicalDevice {
	return p.handle
}

func (p *PhysicalDevice) Name() string {
	return p.properties.DriverName
}

func (p *PhysicalDevice) Properties() *core1_0.PhysicalDeviceProperties {
	return p.properties
}

func (p *PhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return p.memory
}

func (p *PhysicalDevice) QueueFamilies() []*core1_0.QueueFamilyProperties {
	return p.queueFamilies
}

func (p *PhysicalDevice) SupportsExtension(name string) bool {
	_, ok := p.extensions[name]
	return ok
}

func (p *PhysicalDevice) SupportsExtensions(names ...string) bool {
	for _, name := range names {
		if !p.SupportsExtension(name) {
			return false
		}
	}
	return true
}

// FindSupportedFormat returns the first candidate whose tiling supports all
// of the requested features.
func (p *PhysicalDevice) FindSupportedFormat(candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range candidates {
		props := p.handle.FormatProperties(format)
		switch {
		case tiling == core1_0.ImageTilingLinear && props.LinearTilingFeatures&features == features:
			return format, nil
		case tiling == core1_0.ImageTilingOptimal && props.OptimalTilingFeatures&features == features:
			return format, nil
		}
	}
	return core1_0.FormatUndefined, configurationErrorf("none of %v supports %s with tiling %s", candidates, features, tiling)
}

// QueueFamilyIndices names the families used for drawing and presenting.
type QueueFamilyIndices struct {
	Graphics int
	Present  int
}

func (q QueueFamilyIndices) Unique() []int {
	if q.Graphics == q.Present {
		return []int{q.Graphics}
	}
	return []int{q.Graphics, q.Present}
}

// findQueueFamilies prefers a single family with both graphics and present
// support, then falls back to separate families.
func findQueueFamilies(families []*core1_0.QueueFamilyProperties, canPresent func(int) (bool, error)) (QueueFamilyIndices, bool, error) {
	graphics, present := -1, -1
	for index, family := range families {
		isGraphics := family.QueueFlags&core1_0.QueueGraphics != 0
		supported, err := canPresent(index)
		if err != nil {
			return QueueFamilyIndices{}, false, err
		}
		if isGraphics && supported {
			return QueueFamilyIndices{Graphics: index, Present: index}, true, nil
		}
		if isGraphics && graphics < 0 {
			graphics = index
		}
		if supported && present < 0 {
			present = index
		}
	}
	if graphics < 0 || present < 0 {
		return QueueFamilyIndices{}, false, nil
	}
	return QueueFamilyIndices{Graphics: graphics, Present: present}, true, nil
}

// SelectPhysicalDevice picks the first device that can draw and present to
// surface and exposes the swapchain extension plus every required extension.
func SelectPhysicalDevice(instance *Instance, surface *Surface, requiredExtensions []string) (*PhysicalDevice, QueueFamilyIndices, error) {
	required := append([]string{khr_swapchain.ExtensionName}, requiredExtensions...)
	for _, device := range instance.PhysicalDevices() {
		if !device.SupportsExtensions(required...) {
			instance.logger.WithField("device", device.Name()).Debug("missing required extensions")
			continue
		}

		indices, ok, err := findQueueFamilies(device.queueFamilies, func(family int) (bool, error) {
			return surface.SupportsQueueFamily(device, family)
		})
		if err != nil {
			return nil, QueueFamilyIndices{}, err
		}
		if !ok {
			continue
		}

		support, err := surface.Support(device)
		if err != nil {
			return nil, QueueFamilyIndices{}, err
		}
		if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
			continue
		}

		instance.logger.WithField("device", device.Name()).Info("selected physical device")
		return device, indices, nil
	}

	return nil, QueueFamilyIndices{}, errors.WithHint(
		configurationErrorf("no physical device supports graphics and presentation"),
		"check that a Vulkan capable GPU and driver are installed")
}
