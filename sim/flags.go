package sim

import (
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var deviceTypes = map[string]vk.PhysicalDeviceType{
	"other":      vk.PhysicalDeviceTypeOther,
	"integrated": vk.PhysicalDeviceTypeIntegratedGpu,
	"discrete":   vk.PhysicalDeviceTypeDiscreteGpu,
	"virtual":    vk.PhysicalDeviceTypeVirtualGpu,
	"cpu":        vk.PhysicalDeviceTypeCpu,
}

var queueFlags = map[string]vk.QueueFlags{
	"graphics": queueGraphics,
	"compute":  queueCompute,
	"transfer": queueTransfer,
	"sparse":   vk.QueueFlags(vk.QueueSparseBindingBit),
}

var memoryFlags = map[string]vk.MemoryPropertyFlags{
	"device_local":  memDeviceLocal,
	"host_visible":  memHostVisible,
	"host_coherent": memHostCoherent,
	"host_cached":   memHostCached,
	"lazy":          vk.MemoryPropertyFlags(vk.MemoryPropertyLazilyAllocatedBit),
}

func key(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// ParseDeviceType accepts other, integrated, discrete, virtual and cpu.
func ParseDeviceType(name string) (vk.PhysicalDeviceType, error) {
	t, ok := deviceTypes[key(name)]
	if !ok {
		return 0, errors.Errorf("unknown device type %q", name)
	}
	return t, nil
}

// ParseQueueFlags ORs named queue capabilities: graphics, compute, transfer, sparse.
func ParseQueueFlags(names []string) (vk.QueueFlags, error) {
	var flags vk.QueueFlags
	for _, n := range names {
		f, ok := queueFlags[key(n)]
		if !ok {
			return 0, errors.Errorf("unknown queue capability %q", n)
		}
		flags |= f
	}
	return flags, nil
}

// ParseMemoryFlags ORs named memory properties: device_local, host_visible, host_coherent,
// host_cached, lazy.
func ParseMemoryFlags(names []string) (vk.MemoryPropertyFlags, error) {
	var flags vk.MemoryPropertyFlags
	for _, n := range names {
		f, ok := memoryFlags[key(n)]
		if !ok {
			return 0, errors.Errorf("unknown memory property %q", n)
		}
		flags |= f
	}
	return flags, nil
}
