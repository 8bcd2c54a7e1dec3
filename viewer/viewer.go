package viewer

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/sceneviewer/gpu"
	"github.com/vkngwrapper/sceneviewer/scene"
)

// Run loads the configured scene, builds every device object, uploads the
// geometry and draws frames into target until a stop event arrives on
// events or something fails. Objects are torn down in reverse order of
// creation once the device is idle, whichever way the loop ends.
//
// Run must be called from the goroutine that owns the graphics work; it
// never touches the window beyond target.
func Run(target gpu.PresentationTarget, cfg Config, events <-chan Event) (err error) {
	logger := cfg.logger()
	if err := cfg.Validate(); err != nil {
		return err
	}

	doc, err := scene.Open(cfg.ScenePath)
	if err != nil {
		return err
	}
	sceneIndex := cfg.Scene
	if sceneIndex == DefaultScene {
		sceneIndex = doc.DefaultScene
	}
	logger.WithFields(logrus.Fields{
		"path":    cfg.ScenePath,
		"scene":   sceneIndex,
		"buffers": len(doc.Buffers),
		"meshes":  len(doc.Meshes),
		"nodes":   len(doc.Nodes),
	}).Info("scene loaded")

	loader, err := target.Loader()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "load graphics entry points"), gpu.ErrConfiguration)
	}

	instance, err := gpu.NewInstance(loader, gpu.InstanceOptions{
		ApplicationName:    cfg.Title,
		ApplicationVersion: common.CreateVersion(0, 1, 0),
		Extensions:         target.RequiredInstanceExtensions(),
		Validation:         cfg.Validation,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	surface, err := gpu.NewSurface(instance, target)
	if err != nil {
		return err
	}
	defer surface.Destroy()

	physical, families, err := gpu.SelectPhysicalDevice(instance, surface, nil)
	if err != nil {
		return err
	}

	device, err := gpu.NewDevice(physical, gpu.DeviceOptions{Families: families, Logger: logger})
	if err != nil {
		return err
	}
	defer device.Destroy()

	allocator, err := gpu.NewAllocator(device, gpu.AllocatorOptions{
		DeviceBlockSize: cfg.DeviceBlockSize,
		HostBlockSize:   cfg.HostBlockSize,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := allocator.Close(); closeErr != nil {
			err = errors.CombineErrors(err, closeErr)
		}
	}()

	swapchain, err := gpu.NewSwapchain(device, surface)
	if err != nil {
		return err
	}
	defer swapchain.Destroy()

	pool, err := gpu.NewCommandPool(device, families.Graphics, false)
	if err != nil {
		return err
	}
	defer pool.Destroy()

	geometry, err := UploadGeometry(device, allocator, pool, doc, cfg.waitTimeout(), logger)
	if err != nil {
		return err
	}
	defer geometry.Destroy()

	cache, err := gpu.LoadPipelineCache(device, cfg.PipelineCachePath, logger)
	if err != nil {
		return err
	}
	defer cache.Destroy()

	pass, err := newScenePass(scenePassOptions{
		Device:    device,
		Allocator: allocator,
		Swapchain: swapchain,
		Pool:      pool,
		Cache:     cache,
		Document:  doc,
		Scene:     sceneIndex,
		Geometry:  geometry,
		ShaderDir: cfg.ShaderDir,
		Profile:   cfg.ShaderProfile,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer pass.Destroy(pool)

	if cfg.PipelineCachePath != "" {
		if err := cache.Save(cfg.PipelineCachePath); err != nil {
			logger.WithError(err).Warn("pipeline cache not saved")
		}
	}

	frames := make([]*FrameResources, swapchain.ImageCount())
	for i := range frames {
		if frames[i], err = NewFrameResources(device); err != nil {
			return err
		}
		defer frames[i].Destroy()
	}

	stages := &deviceStages{
		device:    device,
		swapchain: swapchain,
		frames:    frames,
		commands:  pass.commands,
		uniforms:  pass.uniforms,
		camera:    fitCamera(doc, sceneIndex),
		timeout:   cfg.waitTimeout(),
		logger:    logger,
	}
	if device.SupportsTimelineSemaphores() {
		if stages.timeline, err = gpu.NewTimelineSemaphore(device, 0); err != nil {
			return err
		}
		defer stages.timeline.Destroy()
	}

	loop := NewFrameLoop(frames, swapchain.ImageCount(), stages, cfg.waitTimeout(), logger)
	loopErr := loop.Run(events)
	loop.Stats.Log(logger)

	// Nothing deferred above may be released while the device still uses it.
	if drainErr := stages.drain(); drainErr != nil {
		loopErr = errors.CombineErrors(loopErr, drainErr)
	}
	if idleErr := device.WaitIdle(); idleErr != nil {
		loopErr = errors.CombineErrors(loopErr, idleErr)
	}
	logger.Info("device idle, tearing down")
	return loopErr
}

// fitCamera aims the camera at the centre of the scene's node origins and
// backs it off far enough to see all of them.
func fitCamera(doc *scene.Document, sceneIndex int) *Camera {
	camera := NewCamera()
	items, err := doc.DrawItems(sceneIndex)
	if err != nil || len(items) == 0 {
		return camera
	}

	var center = items[0].World.Col(3).Vec3()
	for _, item := range items[1:] {
		center = center.Add(item.World.Col(3).Vec3())
	}
	center = center.Mul(1 / float32(len(items)))

	var radius float32
	for _, item := range items {
		if d := item.World.Col(3).Vec3().Sub(center).Len(); d > radius {
			radius = d
		}
	}

	camera.Target = center
	if distance := 3 * radius; distance > camera.Distance {
		camera.Distance = distance
		camera.Far = distance * 10
	}
	return camera
}
