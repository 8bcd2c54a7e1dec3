package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type fakeBlock struct {
	source  *fakeSource
	data    []byte
	flushes [][2]int
	freed   bool
}

func (b *fakeBlock) memory() core1_0.DeviceMemory { return nil }

func (b *fakeBlock) mapped() ([]byte, error) { return b.data, nil }

func (b *fakeBlock) flush(offset, size int) error {
	b.flushes = append(b.flushes, [2]int{offset, size})
	return nil
}

func (b *fakeBlock) invalidate(offset, size int) error { return nil }

func (b *fakeBlock) free() {
	if b.freed {
		b.source.doubleFrees++
	}
	b.freed = true
	b.source.frees++
}

type fakeSource struct {
	blocks      []*fakeBlock
	types       []int
	frees       int
	doubleFrees int
	fail        error
}

func (s *fakeSource) allocate(memoryType int, size int) (memoryBlock, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	b := &fakeBlock{source: s, data: make([]byte, size)}
	s.blocks = append(s.blocks, b)
	s.types = append(s.types, memoryType)
	return b, nil
}

func (s *fakeSource) live() int {
	return len(s.blocks) - s.frees
}

var testMemoryProperties = &core1_0.PhysicalDeviceMemoryProperties{
	MemoryTypes: []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached},
	},
}

const allTypes = 0xf

func newTestAllocator(source *fakeSource) *Allocator {
	logger, _ := test.NewNullLogger()
	return newAllocator(source, testMemoryProperties, 64, AllocatorOptions{
		DeviceBlockSize: 4096,
		HostBlockSize:   1024,
		Logger:          logger,
	})
}

func request(size, alignment int, location MemoryLocation) AllocationRequest {
	return AllocationRequest{
		Requirements: MemoryRequirements{Size: size, Alignment: alignment, TypeBits: allTypes},
		Location:     location,
		Linear:       true,
		Name:         "test",
	}
}

func TestFindMemoryType(t *testing.T) {
	cases := []struct {
		name     string
		typeBits uint32
		location MemoryLocation
		want     int
	}{
		{"gpu only", allTypes, LocationGPUOnly, 0},
		{"upload prefers coherent", allTypes, LocationCPUToGPU, 2},
		{"upload falls back to required flags", 0x2, LocationCPUToGPU, 1},
		{"readback prefers cached", allTypes, LocationGPUToCPU, 3},
		{"readback without cached type", 0x7, LocationGPUToCPU, 2},
		{"readback with host visible only", 0x3, LocationGPUToCPU, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := findMemoryType(testMemoryProperties, tc.typeBits, tc.location)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("memory type = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFindMemoryTypeNoMatch(t *testing.T) {
	_, err := findMemoryType(testMemoryProperties, 0x1, LocationCPUToGPU)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
}

func TestAllocatorBalancesAllocationsAndFrees(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	var allocations []Allocation
	for i := 0; i < 20; i++ {
		location := LocationGPUOnly
		if i%2 == 1 {
			location = LocationCPUToGPU
		}
		allocation, err := allocator.Allocate(request(100+i*10, 16, location))
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		allocations = append(allocations, allocation)
	}

	stats := allocator.Stats()
	if stats.Allocations != 20 || stats.Live != 20 {
		t.Fatalf("stats after allocating = %+v", stats)
	}

	for _, allocation := range allocations {
		if err := allocator.Free(allocation); err != nil {
			t.Fatalf("free: %v", err)
		}
	}

	stats = allocator.Stats()
	if stats.Frees != stats.Allocations || stats.Live != 0 || stats.BytesInUse != 0 {
		t.Fatalf("stats after freeing = %+v", stats)
	}

	if err := allocator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if source.live() != 0 {
		t.Errorf("%d blocks still allocated after close", source.live())
	}
	if source.doubleFrees != 0 {
		t.Errorf("%d blocks freed twice", source.doubleFrees)
	}
}

func TestAllocatorRejectsDoubleFree(t *testing.T) {
	allocator := newTestAllocator(&fakeSource{})

	allocation, err := allocator.Allocate(request(128, 16, LocationGPUOnly))
	if err != nil {
		t.Fatal(err)
	}
	if err := allocator.Free(allocation); err != nil {
		t.Fatal(err)
	}
	if err := allocator.Free(allocation); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("second free returned %v, want ErrInvalidAllocation", err)
	}
	if err := allocator.Free(Allocation{}); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("zero allocation free returned %v, want ErrInvalidAllocation", err)
	}
	if stats := allocator.Stats(); stats.Frees != 1 {
		t.Errorf("frees = %d, want 1", stats.Frees)
	}
}

func TestAllocatorStaleTokenAfterSlotReuse(t *testing.T) {
	allocator := newTestAllocator(&fakeSource{})

	first, err := allocator.Allocate(request(64, 1, LocationCPUToGPU))
	if err != nil {
		t.Fatal(err)
	}
	if err := allocator.Free(first); err != nil {
		t.Fatal(err)
	}

	second, err := allocator.Allocate(request(64, 1, LocationCPUToGPU))
	if err != nil {
		t.Fatal(err)
	}
	if second.index != first.index {
		t.Fatalf("slot not reused: %d vs %d", second.index, first.index)
	}
	if _, err := allocator.MappedSlice(first); !errors.Is(err, ErrInvalidAllocation) {
		t.Fatalf("stale token mapped: %v", err)
	}
	if _, err := allocator.MappedSlice(second); err != nil {
		t.Fatalf("live token: %v", err)
	}
}

func TestAllocatorAlignment(t *testing.T) {
	allocator := newTestAllocator(&fakeSource{})

	for _, alignment := range []int{1, 4, 16, 256} {
		if _, err := allocator.Allocate(request(3, 1, LocationGPUOnly)); err != nil {
			t.Fatal(err)
		}
		allocation, err := allocator.Allocate(request(100, alignment, LocationGPUOnly))
		if err != nil {
			t.Fatal(err)
		}
		_, offset, err := allocator.Binding(allocation)
		if err != nil {
			t.Fatal(err)
		}
		if offset%alignment != 0 {
			t.Errorf("offset %d not aligned to %d", offset, alignment)
		}
	}
}

func TestAllocatorNonCoherentAllocationsAreAtomAligned(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	a, err := allocator.Allocate(AllocationRequest{
		Requirements: MemoryRequirements{Size: 10, Alignment: 4, TypeBits: 0x2},
		Location:     LocationCPUToGPU,
		Linear:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := allocator.Allocate(AllocationRequest{
		Requirements: MemoryRequirements{Size: 10, Alignment: 4, TypeBits: 0x2},
		Location:     LocationCPUToGPU,
		Linear:       true,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, offset, _ := allocator.Binding(b)
	if offset != 64 {
		t.Fatalf("second offset = %d, want 64", offset)
	}

	if err := allocator.Flush(a); err != nil {
		t.Fatal(err)
	}
	if err := allocator.Flush(b); err != nil {
		t.Fatal(err)
	}

	flushes := source.blocks[0].flushes
	want := [][2]int{{0, 64}, {64, 64}}
	if len(flushes) != len(want) {
		t.Fatalf("flushes = %v, want %v", flushes, want)
	}
	for i := range want {
		if flushes[i] != want[i] {
			t.Errorf("flush %d = %v, want %v", i, flushes[i], want[i])
		}
	}
}

func TestAllocatorCoherentFlushIsNoop(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	allocation, err := allocator.Allocate(request(32, 4, LocationCPUToGPU))
	if err != nil {
		t.Fatal(err)
	}
	if err := allocator.Flush(allocation); err != nil {
		t.Fatal(err)
	}
	if n := len(source.blocks[0].flushes); n != 0 {
		t.Errorf("%d flushes issued for coherent memory", n)
	}
}

func TestAllocatorNotHostVisible(t *testing.T) {
	allocator := newTestAllocator(&fakeSource{})

	allocation, err := allocator.Allocate(request(32, 4, LocationGPUOnly))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := allocator.MappedSlice(allocation); !errors.Is(err, ErrNotHostVisible) {
		t.Fatalf("got %v, want ErrNotHostVisible", err)
	}
	if err := allocator.Flush(allocation); !errors.Is(err, ErrNotHostVisible) {
		t.Fatalf("got %v, want ErrNotHostVisible", err)
	}
}

func TestAllocatorSeparatesLinearAndOptimal(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	linear := request(64, 1, LocationGPUOnly)
	optimal := request(64, 1, LocationGPUOnly)
	optimal.Linear = false

	if _, err := allocator.Allocate(linear); err != nil {
		t.Fatal(err)
	}
	if _, err := allocator.Allocate(optimal); err != nil {
		t.Fatal(err)
	}
	if len(source.blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(source.blocks))
	}
}

func TestAllocatorDedicatedBlock(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	big, err := allocator.Allocate(request(10000, 16, LocationGPUOnly))
	if err != nil {
		t.Fatal(err)
	}
	if len(source.blocks) != 1 || len(source.blocks[0].data) != 10000 {
		t.Fatalf("expected one dedicated block of 10000 bytes")
	}
	if err := allocator.Free(big); err != nil {
		t.Fatal(err)
	}
	if source.live() != 0 {
		t.Errorf("dedicated block not released on free")
	}
}

func TestAllocatorKeepsOneEmptyBlock(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	var allocations []Allocation
	for i := 0; i < 3; i++ {
		allocation, err := allocator.Allocate(request(3000, 1, LocationGPUOnly))
		if err != nil {
			t.Fatal(err)
		}
		allocations = append(allocations, allocation)
	}
	if len(source.blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(source.blocks))
	}

	for _, allocation := range allocations {
		if err := allocator.Free(allocation); err != nil {
			t.Fatal(err)
		}
	}
	if source.live() != 1 {
		t.Errorf("live blocks = %d, want 1", source.live())
	}
}

func TestAllocatorOutOfMemory(t *testing.T) {
	source := &fakeSource{fail: core1_0.VKErrorOutOfDeviceMemory.ToError()}
	allocator := newTestAllocator(source)

	_, err := allocator.Allocate(request(64, 1, LocationGPUOnly))
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("got %v, want ErrAllocation", err)
	}
	if stats := allocator.Stats(); stats.Allocations != 0 || stats.Live != 0 {
		t.Errorf("failed allocation counted: %+v", stats)
	}
}

func TestAllocatorCloseReportsLeaks(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	req := request(64, 1, LocationGPUOnly)
	req.Name = "vertices"
	if _, err := allocator.Allocate(req); err != nil {
		t.Fatal(err)
	}

	err := allocator.Close()
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("got %v, want leak error", err)
	}
	if source.live() != 0 {
		t.Errorf("blocks not released on close")
	}
	if _, err := allocator.Allocate(req); !errors.Is(err, ErrAllocation) {
		t.Errorf("allocate after close returned %v", err)
	}
}

func TestUniformRoundTrip(t *testing.T) {
	source := &fakeSource{}
	allocator := newTestAllocator(source)

	allocation, err := allocator.Allocate(request(64, 16, LocationCPUToGPU))
	if err != nil {
		t.Fatal(err)
	}

	transform := mgl32.Perspective(mgl32.DegToRad(45), 4.0/3.0, 0.1, 100).Mul4(mgl32.Translate3D(1, 2, 3))

	dst, err := allocator.MappedSlice(allocation)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
	if err := allocator.Flush(allocation); err != nil {
		t.Fatal(err)
	}

	readback, err := allocator.MappedSlice(allocation)
	if err != nil {
		t.Fatal(err)
	}
	var got mgl32.Mat4
	for i := range got {
		got[i] = math.Float32frombits(binary.LittleEndian.Uint32(readback[i*4:]))
	}
	if got != transform {
		t.Errorf("read back %v, want %v", got, transform)
	}
}

func TestBufferDestroyFreesAllocationBeforeHandle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	allocator := newTestAllocator(&fakeSource{})
	allocator.logger = logger

	allocation, err := allocator.Allocate(request(64, 1, LocationGPUOnly))
	if err != nil {
		t.Fatal(err)
	}

	var liveAtRelease []int
	buffer := &Buffer{
		allocator:  allocator,
		allocation: allocation,
		size:       64,
		release: func() {
			liveAtRelease = append(liveAtRelease, allocator.Stats().Live)
		},
	}

	buffer.Destroy()
	buffer.Destroy()

	if len(liveAtRelease) != 1 {
		t.Fatalf("handle released %d times", len(liveAtRelease))
	}
	if liveAtRelease[0] != 0 {
		t.Errorf("allocation still live when handle was destroyed")
	}
	if stats := allocator.Stats(); stats.Frees != 1 {
		t.Errorf("frees = %d, want 1", stats.Frees)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level <= logrus.ErrorLevel {
			t.Errorf("unexpected error log: %s", entry.Message)
		}
	}
}

func TestFreeListCoalesces(t *testing.T) {
	list := newFreeList(100)

	a, _ := list.allocate(10, 1)
	b, _ := list.allocate(20, 1)
	c, _ := list.allocate(30, 1)

	list.release(b, 20)
	list.release(a, 10)
	list.release(c, 30)

	if !list.empty() {
		t.Fatalf("used = %d after releasing everything", list.used)
	}
	if len(list.free) != 1 || list.free[0] != (span{offset: 0, size: 100}) {
		t.Errorf("free list = %v, want a single span", list.free)
	}
}

func TestFreeListExhaustion(t *testing.T) {
	list := newFreeList(64)
	if _, ok := list.allocate(60, 1); !ok {
		t.Fatal("first allocation failed")
	}
	if _, ok := list.allocate(8, 1); ok {
		t.Fatal("allocation beyond block size succeeded")
	}
}
