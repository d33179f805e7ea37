package vkhelper

import vk "github.com/vulkan-go/vulkan"

// Handle is an opaque reference to a driver object. The zero value is the null handle.
type Handle uint64

type (
	Instance       Handle
	PhysicalDevice Handle
	Device         Handle
	Queue          Handle
	CommandPool    Handle
	CommandBuffer  Handle
	Buffer         Handle
	DeviceMemory   Handle
	Fence          Handle
	Semaphore      Handle
	DebugMessenger Handle
)

const (
	// WholeSize maps or flushes from the offset to the end of the allocation.
	WholeSize = ^uint64(0)
	// InfiniteTimeout makes a fence wait block until the fence is signaled.
	InfiniteTimeout = ^uint64(0)
)

// ApplicationInfo is the application and engine metadata handed to the driver on instance creation.
type ApplicationInfo struct {
	AppName       string
	AppVersion    uint32
	EngineName    string
	EngineVersion uint32
	APIVersion    uint32
}

type InstanceCreateInfo struct {
	Application ApplicationInfo
	Extensions  []string
	Layers      []string
}

// DeviceLimits holds the subset of physical device limits used for compute rating.
type DeviceLimits struct {
	MaxComputeSharedMemorySize     uint32
	MaxComputeWorkGroupInvocations uint32
}

type DeviceProperties struct {
	Name       string
	Type       vk.PhysicalDeviceType
	APIVersion uint32
	Limits     DeviceLimits
}

type QueueFamilyProperties struct {
	Flags      vk.QueueFlags
	QueueCount uint32
}

type MemoryType struct {
	PropertyFlags vk.MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size  uint64
	Flags vk.MemoryHeapFlags
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

// MemoryRequirements reports what a buffer needs from its backing allocation.
// Size may exceed the requested buffer size because of alignment.
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type QueueCreateInfo struct {
	FamilyIndex uint32
	Priorities  []float32
}

type DeviceCreateInfo struct {
	Queues     []QueueCreateInfo
	Extensions []string
	Layers     []string
}

type BufferCreateInfo struct {
	Size        uint64
	Usage       vk.BufferUsageFlags
	SharingMode vk.SharingMode
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// SubmitInfo describes a single queue submission. WaitDstStageMask has one entry per wait semaphore.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitDstStageMask []vk.PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type DebugSeverity int

const (
	SeverityVerbose DebugSeverity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s DebugSeverity) String() string {
	switch s {
	case SeverityVerbose:
		return "verbose"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// DebugCallback receives driver diagnostics once a debug messenger is installed.
type DebugCallback func(severity DebugSeverity, layer string, message string)

// Driver is the GPU API surface used by the helper. Implementations are expected to populate every
// create info field exactly as given; the helper is the only caller and is single threaded.
type Driver interface {
	EnumerateInstanceExtensions() ([]string, error)
	EnumerateInstanceLayers() ([]string, error)
	CreateInstance(info InstanceCreateInfo) (Instance, error)
	DestroyInstance(instance Instance)

	// CreateDebugMessenger returns ErrExtensionNotPresent when the driver does not expose the
	// debug extension entry point.
	CreateDebugMessenger(instance Instance, callback DebugCallback) (DebugMessenger, error)
	DestroyDebugMessenger(instance Instance, messenger DebugMessenger)

	EnumeratePhysicalDevices(instance Instance) ([]PhysicalDevice, error)
	PhysicalDeviceProperties(gpu PhysicalDevice) DeviceProperties
	QueueFamilyProperties(gpu PhysicalDevice) []QueueFamilyProperties
	MemoryProperties(gpu PhysicalDevice) MemoryProperties

	CreateDevice(gpu PhysicalDevice, info DeviceCreateInfo) (Device, error)
	DestroyDevice(device Device)
	DeviceWaitIdle(device Device) error
	GetDeviceQueue(device Device, familyIndex, queueIndex uint32) Queue

	CreateCommandPool(device Device, familyIndex uint32, flags vk.CommandPoolCreateFlags) (CommandPool, error)
	DestroyCommandPool(device Device, pool CommandPool)
	AllocateCommandBuffer(device Device, pool CommandPool, level vk.CommandBufferLevel) (CommandBuffer, error)
	FreeCommandBuffer(device Device, pool CommandPool, cmd CommandBuffer)
	BeginCommandBuffer(cmd CommandBuffer, flags vk.CommandBufferUsageFlags) error
	CmdCopyBuffer(cmd CommandBuffer, src, dst Buffer, regions []BufferCopy)
	EndCommandBuffer(cmd CommandBuffer) error

	CreateBuffer(device Device, info BufferCreateInfo) (Buffer, error)
	DestroyBuffer(device Device, buffer Buffer)
	BufferMemoryRequirements(device Device, buffer Buffer) MemoryRequirements
	BindBufferMemory(device Device, buffer Buffer, memory DeviceMemory, offset uint64) error

	AllocateMemory(device Device, size uint64, memoryTypeIndex uint32) (DeviceMemory, error)
	FreeMemory(device Device, memory DeviceMemory)
	MapMemory(device Device, memory DeviceMemory, offset, size uint64) ([]byte, error)
	UnmapMemory(device Device, memory DeviceMemory)
	FlushMappedMemoryRange(device Device, memory DeviceMemory, offset, size uint64) error
	InvalidateMappedMemoryRange(device Device, memory DeviceMemory, offset, size uint64) error

	CreateFence(device Device, signaled bool) (Fence, error)
	DestroyFence(device Device, fence Fence)
	// WaitForFence reports false without an error when the timeout (in nanoseconds) expires.
	WaitForFence(device Device, fence Fence, timeout uint64) (bool, error)

	CreateSemaphore(device Device) (Semaphore, error)
	DestroySemaphore(device Device, semaphore Semaphore)

	QueueSubmit(queue Queue, submit SubmitInfo, fence Fence) error
}
