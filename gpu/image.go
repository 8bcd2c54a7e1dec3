package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type ImageOptions struct {
	Format   core1_0.Format
	Extent   core1_0.Extent2D
	Usage    core1_0.ImageUsageFlags
	Tiling   core1_0.ImageTiling
	Location MemoryLocation
	Name     string
}

// Image is a 2D single-mip image bound to memory from an Allocator.
type Image struct {
	allocator  *Allocator
	allocation Allocation
	handle     core1_0.Image
	format     core1_0.Format
	extent     core1_0.Extent2D
	name       string
	release    func()
}

func NewImage(device *Device, allocator *Allocator, o ImageOptions) (*Image, error) {
	handle, res, err := device.handle.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    o.Format,
		Extent: core1_0.Extent3D{
			Width:  o.Extent.Width,
			Height: o.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        o.Tiling,
		Usage:         o.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, creationError(res, err, "image %q", o.Name)
	}

	requirements := handle.MemoryRequirements()
	allocation, err := allocator.Allocate(AllocationRequest{
		Requirements: MemoryRequirements{
			Size:      requirements.Size,
			Alignment: requirements.Alignment,
			TypeBits:  requirements.MemoryTypeBits,
		},
		Location: o.Location,
		Linear:   o.Tiling == core1_0.ImageTilingLinear,
		Name:     o.Name,
	})
	if err != nil {
		handle.Destroy(nil)
		return nil, errors.Mark(err, ErrResourceCreation)
	}

	image := &Image{
		allocator:  allocator,
		allocation: allocation,
		handle:     handle,
		format:     o.Format,
		extent:     o.Extent,
		name:       o.Name,
		release:    func() { handle.Destroy(nil) },
	}

	memory, offset, err := allocator.Binding(allocation)
	if err == nil {
		res, bindErr := handle.BindImageMemory(memory, offset)
		if bindErr != nil {
			err = creationError(res, bindErr, "bind memory to image %q", o.Name)
		}
	}
	if err != nil {
		image.Destroy()
		return nil, err
	}

	return image, nil
}

func (i *Image) Handle() core1_0.Image {
	return i.handle
}

func (i *Image) Format() core1_0.Format {
	return i.format
}

func (i *Image) Extent() core1_0.Extent2D {
	return i.extent
}

// Destroy frees the allocation, then destroys the handle.
func (i *Image) Destroy() {
	if i.release == nil {
		return
	}
	if err := i.allocator.Free(i.allocation); err != nil {
		i.allocator.logger.WithError(err).WithField("image", i.name).Error("free image memory")
	}
	i.release()
	i.release = nil
	i.allocation = Allocation{}
}

// ImageView is a 2D view over one mip level and one layer of an image.
type ImageView struct {
	handle core1_0.ImageView
}

func NewImageView(device *Device, image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (*ImageView, error) {
	handle, res, err := device.handle.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		ViewType: core1_0.ImageViewType2D,
		Image:    image,
		Format:   format,
		Components: core1_0.ComponentMapping{
			R: core1_0.ComponentSwizzleIdentity,
			G: core1_0.ComponentSwizzleIdentity,
			B: core1_0.ComponentSwizzleIdentity,
			A: core1_0.ComponentSwizzleIdentity,
		},
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, creationError(res, err, "image view")
	}
	return &ImageView{handle: handle}, nil
}

func NewColorImageView(device *Device, image core1_0.Image, format core1_0.Format) (*ImageView, error) {
	return NewImageView(device, image, format, core1_0.ImageAspectColor)
}

func (v *ImageView) Handle() core1_0.ImageView {
	return v.handle
}

func (v *ImageView) Destroy() {
	v.handle.Destroy(nil)
}

// DepthAspect returns the aspects a view of a depth format must cover.
func DepthAspect(format core1_0.Format) core1_0.ImageAspectFlags {
	switch format {
	case core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD16UnsignedNormalizedS8UnsignedInt:
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	default:
		return core1_0.ImageAspectDepth
	}
}
