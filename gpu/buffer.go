package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type BufferOptions struct {
	Size     int
	Usage    core1_0.BufferUsageFlags
	Location MemoryLocation
	Name     string
}

// Buffer is a buffer handle bound to memory from an Allocator. It owns both
// and releases them together.
type Buffer struct {
	allocator  *Allocator
	allocation Allocation
	handle     core1_0.Buffer
	size       int
	name       string

	// release destroys the handle. Always runs after the allocation is freed.
	release func()
}

func NewBuffer(device *Device, allocator *Allocator, o BufferOptions) (*Buffer, error) {
	handle, res, err := device.handle.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        o.Size,
		Usage:       o.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, creationError(res, err, "buffer %q", o.Name)
	}

	requirements := handle.MemoryRequirements()
	allocation, err := allocator.Allocate(AllocationRequest{
		Requirements: MemoryRequirements{
			Size:      requirements.Size,
			Alignment: requirements.Alignment,
			TypeBits:  requirements.MemoryTypeBits,
		},
		Location: o.Location,
		Linear:   true,
		Name:     o.Name,
	})
	if err != nil {
		handle.Destroy(nil)
		return nil, errors.Mark(err, ErrResourceCreation)
	}

	buffer := &Buffer{
		allocator:  allocator,
		allocation: allocation,
		handle:     handle,
		size:       o.Size,
		name:       o.Name,
		release:    func() { handle.Destroy(nil) },
	}

	memory, offset, err := allocator.Binding(allocation)
	if err == nil {
		res, bindErr := handle.BindBufferMemory(memory, offset)
		if bindErr != nil {
			err = creationError(res, bindErr, "bind memory to buffer %q", o.Name)
		}
	}
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	return buffer, nil
}

func (b *Buffer) Handle() core1_0.Buffer {
	return b.handle
}

func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) Name() string {
	return b.name
}

// MappedSlice returns the host view of the buffer's memory. It fails with
// ErrNotHostVisible for device-local buffers.
func (b *Buffer) MappedSlice() ([]byte, error) {
	data, err := b.allocator.MappedSlice(b.allocation)
	if err != nil {
		return nil, err
	}
	// The allocation may be padded past the requested size.
	return data[:b.size:b.size], nil
}

// CopyFrom writes data at the start of the buffer and flushes it.
func (b *Buffer) CopyFrom(data []byte) error {
	if len(data) > b.size {
		return errors.Mark(errors.Newf("%d bytes do not fit in buffer %q of %d bytes", len(data), b.name, b.size), ErrAllocation)
	}
	dst, err := b.MappedSlice()
	if err != nil {
		return err
	}
	copy(dst, data)
	return b.Flush()
}

// Flush makes host writes visible to the device.
func (b *Buffer) Flush() error {
	return b.allocator.Flush(b.allocation)
}

// Invalidate makes device writes visible to the host.
func (b *Buffer) Invalidate() error {
	return b.allocator.Invalidate(b.allocation)
}

// Destroy frees the allocation, then destroys the handle. Calling it again
// does nothing.
func (b *Buffer) Destroy() {
	if b.release == nil {
		return
	}
	if err := b.allocator.Free(b.allocation); err != nil {
		b.allocator.logger.WithError(err).WithField("buffer", b.name).Error("free buffer memory")
	}
	b.release()
	b.release = nil
	b.allocation = Allocation{}
}
