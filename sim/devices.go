package sim

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
)

// DeviceSpec describes one simulated physical device.
type DeviceSpec struct {
	Name          string
	Type          vk.PhysicalDeviceType
	APIVersion    uint32
	Limits        vkhelper.DeviceLimits
	QueueFamilies []vkhelper.QueueFamilyProperties
	MemoryTypes   []vkhelper.MemoryType
	MemoryHeaps   []vkhelper.MemoryHeap
	Extensions    []string

	// MemoryTypeBits is reported as the memory type mask of every buffer. Zero accepts all types.
	MemoryTypeBits uint32
	// Alignment rounds buffer memory requirements up. Zero means 256.
	Alignment uint64
}

const defaultAlignment = 256

func (s *DeviceSpec) typeBits() uint32 {
	if s.MemoryTypeBits != 0 {
		return s.MemoryTypeBits
	}
	return uint32(1)<<uint(len(s.MemoryTypes)) - 1
}

func (s *DeviceSpec) alignment() uint64 {
	if s.Alignment != 0 {
		return s.Alignment
	}
	return defaultAlignment
}

func (s *DeviceSpec) hasExtension(name string) bool {
	for _, ext := range s.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

var (
	queueGraphics = vk.QueueFlags(vk.QueueGraphicsBit)
	queueCompute  = vk.QueueFlags(vk.QueueComputeBit)
	queueTransfer = vk.QueueFlags(vk.QueueTransferBit)

	memDeviceLocal  = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	memHostVisible  = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	memHostCoherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	memHostCached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)

	heapDeviceLocal = vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit)
)

// DiscreteGPU returns a device with dedicated VRAM, a universal queue family and a transfer only
// family. Its host-visible memory is not coherent.
func DiscreteGPU(name string) DeviceSpec {
	return DeviceSpec{
		Name:       name,
		Type:       vk.PhysicalDeviceTypeDiscreteGpu,
		APIVersion: uint32(vk.MakeVersion(1, 3, 0)),
		Limits: vkhelper.DeviceLimits{
			MaxComputeSharedMemorySize:     48 * 1024,
			MaxComputeWorkGroupInvocations: 1024,
		},
		QueueFamilies: []vkhelper.QueueFamilyProperties{
			{Flags: queueGraphics | queueCompute | queueTransfer, QueueCount: 16},
			{Flags: queueTransfer, QueueCount: 2},
			{Flags: queueCompute | queueTransfer, QueueCount: 8},
		},
		MemoryTypes: []vkhelper.MemoryType{
			{PropertyFlags: memDeviceLocal, HeapIndex: 0},
			{PropertyFlags: memHostVisible | memHostCached, HeapIndex: 1},
			{PropertyFlags: memHostVisible | memHostCoherent, HeapIndex: 1},
		},
		MemoryHeaps: []vkhelper.MemoryHeap{
			{Size: 8 << 30, Flags: heapDeviceLocal},
			{Size: 16 << 30},
		},
	}
}

// IntegratedGPU returns a device sharing system memory with one family for everything.
func IntegratedGPU(name string) DeviceSpec {
	return DeviceSpec{
		Name:       name,
		Type:       vk.PhysicalDeviceTypeIntegratedGpu,
		APIVersion: uint32(vk.MakeVersion(1, 2, 0)),
		Limits: vkhelper.DeviceLimits{
			MaxComputeSharedMemorySize:     32 * 1024,
			MaxComputeWorkGroupInvocations: 256,
		},
		QueueFamilies: []vkhelper.QueueFamilyProperties{
			{Flags: queueGraphics | queueCompute | queueTransfer, QueueCount: 1},
		},
		MemoryTypes: []vkhelper.MemoryType{
			{PropertyFlags: memDeviceLocal | memHostVisible | memHostCoherent, HeapIndex: 0},
		},
		MemoryHeaps: []vkhelper.MemoryHeap{
			{Size: 4 << 30, Flags: heapDeviceLocal},
		},
	}
}

// CPU returns a software rasterizer style device with compute but no shared memory.
func CPU(name string) DeviceSpec {
	return DeviceSpec{
		Name:       name,
		Type:       vk.PhysicalDeviceTypeCpu,
		APIVersion: uint32(vk.MakeVersion(1, 3, 0)),
		Limits: vkhelper.DeviceLimits{
			MaxComputeWorkGroupInvocations: 1024,
		},
		QueueFamilies: []vkhelper.QueueFamilyProperties{
			{Flags: queueGraphics | queueCompute | queueTransfer, QueueCount: 1},
		},
		MemoryTypes: []vkhelper.MemoryType{
			{PropertyFlags: memDeviceLocal | memHostVisible | memHostCoherent | memHostCached, HeapIndex: 0},
		},
		MemoryHeaps: []vkhelper.MemoryHeap{
			{Size: 2 << 30, Flags: heapDeviceLocal},
		},
	}
}

// DefaultDevices is an integrated GPU followed by a discrete one.
func DefaultDevices() []DeviceSpec {
	return []DeviceSpec{
		IntegratedGPU("Simulated Integrated GPU"),
		DiscreteGPU("Simulated Discrete GPU"),
	}
}
