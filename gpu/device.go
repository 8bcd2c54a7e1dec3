package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
)

type DeviceOptions struct {
	Families   QueueFamilyIndices
	Extensions []string
	Logger     logrus.FieldLogger
}

// Device is the logical device. Every other object in this package holds a
// non-owning reference to it and must be destroyed before it.
type Device struct {
	handle   core1_0.Device
	physical *PhysicalDevice
	families QueueFamilyIndices
	graphics *Queue
	present  *Queue

	swapchainExtension khr_swapchain.Extension
	timelineExtension  khr_timeline_semaphore.Extension

	logger logrus.FieldLogger
}

func NewDevice(physical *PhysicalDevice, o DeviceOptions) (*Device, error) {
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var queueInfos []core1_0.DeviceQueueCreateInfo
	for _, family := range o.Families.Unique() {
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string{khr_swapchain.ExtensionName}, o.Extensions...)
	for _, name := range extensionNames {
		if !physical.SupportsExtension(name) {
			return nil, configurationErrorf("device %s does not support %s", physical.Name(), name)
		}
	}

	// Required on portability implementations such as MoltenVK.
	if physical.SupportsExtension(khr_portability_subset.ExtensionName) {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	info := core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueInfos,
		EnabledFeatures:  &core1_0.PhysicalDeviceFeatures{},
	}

	timeline := physical.SupportsExtension(khr_timeline_semaphore.ExtensionName)
	if timeline {
		extensionNames = append(extensionNames, khr_timeline_semaphore.ExtensionName)
		info.Next = khr_timeline_semaphore.PhysicalDeviceTimelineSemaphoreFeatures{
			TimelineSemaphore: true,
		}
	}
	info.EnabledExtensionNames = extensionNames

	handle, res, err := physical.handle.CreateDevice(nil, info)
	if err != nil {
		return nil, creationError(res, err, "device on %s", physical.Name())
	}

	device := &Device{
		handle:             handle,
		physical:           physical,
		families:           o.Families,
		swapchainExtension: khr_swapchain.CreateExtensionFromDevice(handle),
		logger:             logger,
	}
	if timeline {
		device.timelineExtension = khr_timeline_semaphore.CreateExtensionFromDevice(handle)
	}

	device.graphics = &Queue{handle: handle.GetQueue(o.Families.Graphics, 0), family: o.Families.Graphics}
	device.present = device.graphics
	if o.Families.Present != o.Families.Graphics {
		device.present = &Queue{handle: handle.GetQueue(o.Families.Present, 0), family: o.Families.Present}
	}

	logger.WithFields(logrus.Fields{
		"device":   physical.Name(),
		"graphics": o.Families.Graphics,
		"present":  o.Families.Present,
		"timeline": timeline,
	}).Info("logical device created")

	return device, nil
}

func (d *Device) Handle() core1_0.Device {
	return d.handle
}

func (d *Device) Physical() *PhysicalDevice {
	return d.physical
}

func (d *Device) Families() QueueFamilyIndices {
	return d.families
}

func (d *Device) GraphicsQueue() *Queue {
	return d.graphics
}

func (d *Device) PresentQueue() *Queue {
	return d.present
}

// SupportsTimelineSemaphores reports whether NewTimelineSemaphore can be used.
func (d *Device) SupportsTimelineSemaphores() bool {
	return d.timelineExtension != nil
}

func (d *Device) Logger() logrus.FieldLogger {
	return d.logger
}

// WaitIdle blocks until all queues of the device are idle.
func (d *Device) WaitIdle() error {
	res, err := d.handle.WaitIdle()
	if err != nil {
		return synchronizationError(res, err, "wait for device idle")
	}
	return nil
}

func (d *Device) Destroy() {
	d.handle.Destroy(nil)
}

func (d *Device) requireTimeline() error {
	if d.timelineExtension == nil {
		return errors.Mark(errors.Newf("%s is not enabled", khr_timeline_semaphore.ExtensionName), ErrConfiguration)
	}
	return nil
}
