package gpu

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// memorySource hands out whole blocks of device memory for the allocator to
// carve up.
type memorySource interface {
	allocate(memoryType int, size int) (memoryBlock, error)
}

type memoryBlock interface {
	memory() core1_0.DeviceMemory
	// mapped returns the host view of the whole block, mapping it on first
	// use.
	mapped() ([]byte, error)
	flush(offset, size int) error
	invalidate(offset, size int) error
	free()
}

type deviceMemorySource struct {
	device core1_0.Device
}

func (s *deviceMemorySource) allocate(memoryType int, size int) (memoryBlock, error) {
	memory, res, err := s.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryType,
	})
	if err != nil {
		return nil, resultError(res, err)
	}
	return &deviceBlock{device: s.device, handle: memory, size: size}, nil
}

type deviceBlock struct {
	device core1_0.Device
	handle core1_0.DeviceMemory
	size   int
	data   []byte
}

func (b *deviceBlock) memory() core1_0.DeviceMemory {
	return b.handle
}

func (b *deviceBlock) mapped() ([]byte, error) {
	if b.data != nil {
		return b.data, nil
	}
	ptr, res, err := b.handle.Map(0, b.size, 0)
	if err != nil {
		return nil, resultError(res, err)
	}
	b.data = unsafe.Slice((*byte)(ptr), b.size)
	return b.data, nil
}

func (b *deviceBlock) flush(offset, size int) error {
	res, err := b.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{Memory: b.handle, Offset: offset, Size: size},
	})
	if err != nil {
		return resultError(res, err)
	}
	return nil
}

func (b *deviceBlock) invalidate(offset, size int) error {
	res, err := b.device.InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{Memory: b.handle, Offset: offset, Size: size},
	})
	if err != nil {
		return resultError(res, err)
	}
	return nil
}

func (b *deviceBlock) free() {
	if b.data != nil {
		b.handle.Unmap()
		b.data = nil
	}
	b.handle.Free(nil)
}
