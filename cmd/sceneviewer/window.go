package main

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v2"
)

// window is the SDL window the viewer presents into. Everything the render
// goroutine asks for is captured on the main thread when the window opens;
// the window is not resizable, so none of it changes afterwards.
type window struct {
	handle     *sdl.Window
	loader     core.Loader
	extensions []string
	extent     core1_0.Extent2D
}

func openWindow(title string, width, height int) (*window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, errors.Wrap(err, "initialize SDL")
	}

	handle, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	w := &window{handle: handle}
	w.loader, err = core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		w.Close()
		return nil, errors.Wrap(err, "create loader")
	}

	w.extensions = handle.VulkanGetInstanceExtensions()
	drawableWidth, drawableHeight := handle.VulkanGetDrawableSize()
	w.extent = core1_0.Extent2D{Width: int(drawableWidth), Height: int(drawableHeight)}
	return w, nil
}

func (w *window) Loader() (core.Loader, error) {
	return w.loader, nil
}

func (w *window) RequiredInstanceExtensions() []string {
	return w.extensions
}

func (w *window) CreateSurface(instance core1_0.Instance, extension khr_surface.Extension) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance, extension, w.handle)
}

func (w *window) CurrentExtent() core1_0.Extent2D {
	return w.extent
}

func (w *window) Close() {
	if w.handle != nil {
		_ = w.handle.Destroy()
		w.handle = nil
	}
	sdl.Quit()
}
