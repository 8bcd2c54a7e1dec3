package gpu

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const (
	defaultDeviceBlockSize = 256 << 20
	defaultHostBlockSize   = 64 << 20
)

type AllocatorOptions struct {
	// DeviceBlockSize is the size of the blocks carved up for device-local
	// memory types.
	DeviceBlockSize int
	// HostBlockSize is the size of the blocks carved up for host-visible
	// memory types.
	HostBlockSize int
	Logger        logrus.FieldLogger
}

// MemoryRequirements is what the device reports for a buffer or an image.
type MemoryRequirements struct {
	Size      int
	Alignment int
	TypeBits  uint32
}

type AllocationRequest struct {
	Requirements MemoryRequirements
	Location     MemoryLocation
	// Linear is true for buffers and linear-tiled images. Linear and
	// optimal resources never share a block.
	Linear bool
	Name   string
}

// Allocation is a token naming a live sub-allocation. The zero value names
// nothing. A token goes stale once freed; using it afterwards reports
// ErrInvalidAllocation instead of touching memory that may have been reused.
type Allocation struct {
	index      uint32
	generation uint32
}

func (a Allocation) IsZero() bool {
	return a.generation == 0
}

type AllocatorStats struct {
	Allocations int
	Frees       int
	Live        int
	Blocks      int
	BytesInUse  int
}

type blockKey struct {
	memoryType int
	linear     bool
}

type block struct {
	key       blockKey
	backing   memoryBlock
	list      *freeList
	dedicated bool
}

type allocationRecord struct {
	generation uint32
	live       bool
	block      *block
	offset     int
	size       int
	name       string
	location   MemoryLocation
	flags      core1_0.MemoryPropertyFlags
}

// Allocator sub-allocates device memory blocks for buffers and images.
// All state sits behind one mutex, so it may be shared between goroutines.
type Allocator struct {
	mu sync.Mutex

	source          memorySource
	properties      *core1_0.PhysicalDeviceMemoryProperties
	atomSize        int
	deviceBlockSize int
	hostBlockSize   int
	logger          logrus.FieldLogger

	records   []allocationRecord
	freeSlots []uint32
	blocks    map[blockKey][]*block
	stats     AllocatorStats
	closed    bool
}

func NewAllocator(device *Device, o AllocatorOptions) (*Allocator, error) {
	limits := device.physical.properties.Limits
	if limits == nil {
		return nil, configurationErrorf("device %s reports no limits", device.physical.Name())
	}
	return newAllocator(&deviceMemorySource{device: device.handle}, device.physical.memory, limits.NonCoherentAtomSize, o), nil
}

func newAllocator(source memorySource, properties *core1_0.PhysicalDeviceMemoryProperties, atomSize int, o AllocatorOptions) *Allocator {
	if o.DeviceBlockSize <= 0 {
		o.DeviceBlockSize = defaultDeviceBlockSize
	}
	if o.HostBlockSize <= 0 {
		o.HostBlockSize = defaultHostBlockSize
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return &Allocator{
		source:          source,
		properties:      properties,
		atomSize:        atomSize,
		deviceBlockSize: o.DeviceBlockSize,
		hostBlockSize:   o.HostBlockSize,
		logger:          o.Logger,
		blocks:          make(map[blockKey][]*block),
	}
}

func (a *Allocator) Allocate(req AllocationRequest) (Allocation, error) {
	size := req.Requirements.Size
	if size <= 0 {
		return Allocation{}, errors.Mark(errors.Newf("allocation %q has size %d", req.Name, size), ErrAllocation)
	}

	memoryType, err := findMemoryType(a.properties, req.Requirements.TypeBits, req.Location)
	if err != nil {
		return Allocation{}, errors.Wrapf(err, "allocate %q", req.Name)
	}
	flags := a.properties.MemoryTypes[memoryType].PropertyFlags

	alignment := req.Requirements.Alignment
	if isNonCoherent(flags) && a.atomSize > alignment {
		// Flush ranges are rounded to the atom size and must not spill
		// into a neighbour.
		alignment = a.atomSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Allocation{}, errors.Mark(errors.Newf("allocate %q on a closed allocator", req.Name), ErrAllocation)
	}

	key := blockKey{memoryType: memoryType, linear: req.Linear}
	target, offset, err := a.place(key, flags, size, alignment)
	if err != nil {
		return Allocation{}, errors.Mark(errors.Wrapf(err, "allocate %d bytes for %q from memory type %d", size, req.Name, memoryType), ErrAllocation)
	}

	record := allocationRecord{
		live:     true,
		block:    target,
		offset:   offset,
		size:     size,
		name:     req.Name,
		location: req.Location,
		flags:    flags,
	}

	var index uint32
	if n := len(a.freeSlots); n > 0 {
		index = a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		record.generation = a.records[index].generation
	} else {
		index = uint32(len(a.records))
		record.generation = 1
		a.records = append(a.records, allocationRecord{})
	}
	a.records[index] = record

	a.stats.Allocations++
	a.stats.Live++
	a.stats.BytesInUse += size

	a.logger.WithFields(logrus.Fields{
		"name":      req.Name,
		"size":      size,
		"type":      memoryType,
		"offset":    offset,
		"dedicated": target.dedicated,
	}).Debug("allocated memory")

	return Allocation{index: index, generation: record.generation}, nil
}

// place finds room for size bytes in an existing block of key, or allocates
// a new block. Requests larger than a block get a dedicated one.
func (a *Allocator) place(key blockKey, flags core1_0.MemoryPropertyFlags, size, alignment int) (*block, int, error) {
	blockSize := a.deviceBlockSize
	if flags&core1_0.MemoryPropertyHostVisible != 0 {
		blockSize = a.hostBlockSize
	}

	if size > blockSize {
		backing, err := a.source.allocate(key.memoryType, size)
		if err != nil {
			return nil, 0, err
		}
		b := &block{key: key, backing: backing, list: newFreeList(size), dedicated: true}
		b.list.allocate(size, 1)
		a.blocks[key] = append(a.blocks[key], b)
		a.stats.Blocks++
		return b, 0, nil
	}

	for _, b := range a.blocks[key] {
		if b.dedicated {
			continue
		}
		if offset, ok := b.list.allocate(size, alignment); ok {
			return b, offset, nil
		}
	}

	backing, err := a.source.allocate(key.memoryType, blockSize)
	if err != nil {
		return nil, 0, err
	}
	b := &block{key: key, backing: backing, list: newFreeList(blockSize)}
	offset, _ := b.list.allocate(size, alignment)
	a.blocks[key] = append(a.blocks[key], b)
	a.stats.Blocks++
	return b, offset, nil
}

// Free returns the allocation's range to its block. Freeing a stale or zero
// token is reported as ErrInvalidAllocation and changes nothing.
func (a *Allocator) Free(allocation Allocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.lookup(allocation)
	if err != nil {
		return err
	}

	b := record.block
	b.list.release(record.offset, record.size)
	if b.list.empty() && (b.dedicated || len(a.blocks[b.key]) > 1) {
		a.releaseBlock(b)
	}

	a.records[allocation.index] = allocationRecord{generation: record.generation + 1}
	a.freeSlots = append(a.freeSlots, allocation.index)

	a.stats.Frees++
	a.stats.Live--
	a.stats.BytesInUse -= record.size
	return nil
}

func (a *Allocator) releaseBlock(b *block) {
	blocks := a.blocks[b.key]
	for i, candidate := range blocks {
		if candidate == b {
			a.blocks[b.key] = append(blocks[:i], blocks[i+1:]...)
			break
		}
	}
	if len(a.blocks[b.key]) == 0 {
		delete(a.blocks, b.key)
	}
	b.backing.free()
	a.stats.Blocks--
}

func (a *Allocator) lookup(allocation Allocation) (allocationRecord, error) {
	if allocation.IsZero() || int(allocation.index) >= len(a.records) {
		return allocationRecord{}, errors.Mark(errors.New("unknown allocation"), ErrInvalidAllocation)
	}
	record := a.records[allocation.index]
	if !record.live || record.generation != allocation.generation {
		return allocationRecord{}, errors.Mark(errors.Newf("allocation %d is stale", allocation.index), ErrInvalidAllocation)
	}
	return record, nil
}

// Binding returns the memory object and offset a resource binds to.
func (a *Allocator) Binding(allocation Allocation) (core1_0.DeviceMemory, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.lookup(allocation)
	if err != nil {
		return nil, 0, err
	}
	return record.block.backing.memory(), record.offset, nil
}

func (a *Allocator) Size(allocation Allocation) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.lookup(allocation)
	if err != nil {
		return 0, err
	}
	return record.size, nil
}

// MappedSlice returns the host view of the allocation. The block stays
// mapped for its whole lifetime so the slice is valid until Free.
func (a *Allocator) MappedSlice(allocation Allocation) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.lookup(allocation)
	if err != nil {
		return nil, err
	}
	if record.flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Mark(errors.Newf("allocation %q lives in %s memory", record.name, record.location), ErrNotHostVisible)
	}

	data, err := record.block.backing.mapped()
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "map %q", record.name), ErrAllocation)
	}
	end := record.offset + record.size
	return data[record.offset:end:end], nil
}

// Flush makes host writes to the allocation visible to the device. It is a
// no-op on coherent memory.
func (a *Allocator) Flush(allocation Allocation) error {
	return a.syncRange(allocation, memoryBlock.flush, "flush")
}

// Invalidate makes device writes to the allocation visible to the host. It
// is a no-op on coherent memory.
func (a *Allocator) Invalidate(allocation Allocation) error {
	return a.syncRange(allocation, memoryBlock.invalidate, "invalidate")
}

func (a *Allocator) syncRange(allocation Allocation, op func(memoryBlock, int, int) error, verb string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.lookup(allocation)
	if err != nil {
		return err
	}
	if record.flags&core1_0.MemoryPropertyHostVisible == 0 {
		return errors.Mark(errors.Newf("%s %q: not host visible", verb, record.name), ErrNotHostVisible)
	}
	if !isNonCoherent(record.flags) {
		return nil
	}

	offset, size := a.atomRange(record)
	if err := op(record.block.backing, offset, size); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s %q", verb, record.name), ErrSynchronization)
	}
	return nil
}

// atomRange widens the record's range to whole non-coherent atoms, clamped
// to the end of the block.
func (a *Allocator) atomRange(record allocationRecord) (int, int) {
	start := alignDown(record.offset, a.atomSize)
	end := alignUp(record.offset+record.size, a.atomSize)
	if end > record.block.list.size {
		end = record.block.list.size
	}
	return start, end - start
}

func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close releases every block. Allocations still live at this point are
// reported as leaks; their memory is released regardless.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var leaked []string
	for _, record := range a.records {
		if record.live {
			leaked = append(leaked, record.name)
		}
	}

	for key, blocks := range a.blocks {
		for _, b := range blocks {
			b.backing.free()
		}
		delete(a.blocks, key)
	}
	a.stats.Blocks = 0

	if len(leaked) > 0 {
		sort.Strings(leaked)
		return errors.Mark(errors.Newf("%d allocations leaked: %s", len(leaked), strings.Join(leaked, ", ")), ErrAllocation)
	}
	return nil
}

func isNonCoherent(flags core1_0.MemoryPropertyFlags) bool {
	return flags&core1_0.MemoryPropertyHostVisible != 0 && flags&core1_0.MemoryPropertyHostCoherent == 0
}
