package gpu

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MemoryLocation describes who reads and writes an allocation.
type MemoryLocation int

const (
	// LocationGPUOnly is device-local memory the host never touches.
	LocationGPUOnly MemoryLocation = iota
	// LocationCPUToGPU is host-visible memory written by the host and read by
	// the device: staging and uniform buffers.
	LocationCPUToGPU
	// LocationGPUToCPU is host-visible memory written by the device and read
	// back by the host.
	LocationGPUToCPU
)

var locationNames = map[MemoryLocation]string{
	LocationGPUOnly:  "GPUOnly",
	LocationCPUToGPU: "CPUToGPU",
	LocationGPUToCPU: "GPUToCPU",
}

func (l MemoryLocation) String() string {
	if name, ok := locationNames[l]; ok {
		return name
	}
	return "Unknown"
}

func (l MemoryLocation) flags() (required, preferred core1_0.MemoryPropertyFlags) {
	switch l {
	case LocationCPUToGPU:
		return core1_0.MemoryPropertyHostVisible, core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyDeviceLocal
	case LocationGPUToCPU:
		return core1_0.MemoryPropertyHostVisible, core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached
	default:
		return core1_0.MemoryPropertyDeviceLocal, 0
	}
}

// findMemoryType returns the memory type allowed by typeBits that carries
// every required flag of the location and the most of its preferred flags.
// Ties go to the lowest index, which is the order the driver ranks them in.
func findMemoryType(properties *core1_0.PhysicalDeviceMemoryProperties, typeBits uint32, location MemoryLocation) (int, error) {
	required, preferred := location.flags()

	best, bestScore := -1, -1
	for index, memoryType := range properties.MemoryTypes {
		if typeBits&(1<<uint(index)) == 0 {
			continue
		}
		if memoryType.PropertyFlags&required != required {
			continue
		}
		score := bits.OnesCount32(uint32(memoryType.PropertyFlags & preferred))
		if score > bestScore {
			best, bestScore = index, score
		}
	}

	if best < 0 {
		return -1, errors.Mark(
			errors.Newf("no memory type in mask %#x satisfies %s (%s)", typeBits, location, required),
			ErrAllocation)
	}
	return best, nil
}
