package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceOptions struct {
	ApplicationName    string
	ApplicationVersion common.Version
	// APIVersion is the minimum API version the loader must report.
	APIVersion common.APIVersion
	Extensions []string
	Validation bool
	Logger     logrus.FieldLogger
}

// Instance owns the API instance and the immutable list of physical devices
// discovered when it was created.
type Instance struct {
	loader  core.Loader
	handle  core1_0.Instance
	devices []*PhysicalDevice
	debug   *DebugMessenger
	logger  logrus.FieldLogger
}

func NewInstance(loader core.Loader, o InstanceOptions) (*Instance, error) {
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if o.APIVersion == 0 {
		o.APIVersion = common.Vulkan1_1
	}

	if err := checkAPIVersion(loader.APIVersion(), o.APIVersion); err != nil {
		return nil, err
	}

	info := core1_0.InstanceCreateInfo{
		ApplicationName:    o.ApplicationName,
		ApplicationVersion: o.ApplicationVersion,
		EngineName:         "sceneviewer",
		EngineVersion:      common.CreateVersion(0, 1, 0),
		APIVersion:         o.APIVersion,
	}

	extensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "enumerate instance extensions"), ErrConfiguration)
	}

	required := append([]string(nil), o.Extensions...)
	if o.Validation {
		required = append(required, ext_debug_utils.ExtensionName)
	}
	for _, name := range required {
		if _, ok := extensions[name]; !ok {
			return nil, errors.WithHint(
				configurationErrorf("missing instance extension %s", name),
				"install the LunarG Vulkan SDK")
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, name)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if o.Validation {
		layers, _, err := loader.AvailableLayers()
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "enumerate instance layers"), ErrConfiguration)
		}
		if _, ok := layers[validationLayer]; !ok {
			return nil, errors.WithHint(
				configurationErrorf("validation layer %s not available", validationLayer),
				"install the LunarG Vulkan SDK or disable validation")
		}
		info.EnabledLayerNames = append(info.EnabledLayerNames, validationLayer)

		// Covers messages emitted during instance creation and destruction.
		info.Next = debugMessengerInfo(logger)
	}

	handle, res, err := loader.CreateInstance(nil, info)
	if err != nil {
		return nil, creationError(res, err, "instance")
	}

	instance := &Instance{
		loader: loader,
		handle: handle,
		logger: logger,
	}

	if o.Validation {
		instance.debug, err = NewDebugMessenger(instance, logger)
		if err != nil {
			handle.Destroy(nil)
			return nil, err
		}
	}

	physicalDevices, res, err := handle.EnumeratePhysicalDevices()
	if err != nil {
		instance.Destroy()
		return nil, creationError(res, err, "enumerate physical devices")
	}
	for _, physical := range physicalDevices {
		device, err := newPhysicalDevice(physical)
		if err != nil {
			instance.Destroy()
			return nil, err
		}
		instance.devices = append(instance.devices, device)
	}

	logger.WithFields(logrus.Fields{
		"api":     o.APIVersion,
		"devices": len(instance.devices),
	}).Info("instance created")

	return instance, nil
}

// checkAPIVersion rejects a loader older than required. Loaders report a
// patch level, so any 1.1.x loader satisfies a 1.1 requirement.
func checkAPIVersion(available, required common.APIVersion) error {
	if available.IsAtLeast(required) {
		return nil
	}
	return errors.WithHint(
		configurationErrorf("driver supports API %s, %s is required", available, required),
		"update the graphics driver or install the LunarG Vulkan SDK")
}

func (i *Instance) Handle() core1_0.Instance {
	return i.handle
}

// PhysicalDevices returns the devices found at creation time. The slice is
// shared and must not be modified.
func (i *Instance) PhysicalDevices() []*PhysicalDevice {
	return i.devices
}

func (i *Instance) Destroy() {
	if i.debug != nil {
		i.debug.Destroy()
		i.debug = nil
	}
	if i.handle != nil {
		i.handle.Destroy(nil)
		i.handle = nil
	}
}
