package vkhelper

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FindMemoryType returns the lowest memory type index accepted by typeBits whose property flags
// contain every flag in required.
func FindMemoryType(props MemoryProperties, typeBits uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	for i := range props.Types {
		if typeBits&1 == 1 && props.Types[i].PropertyFlags&required == required {
			return uint32(i), nil
		}
		typeBits >>= 1
	}
	return 0, errors.Wrapf(ErrNoCompatibleMemoryType, "required properties 0x%x", uint32(required))
}

// BufferPair is a buffer together with the one allocation bound to it at offset 0.
type BufferPair struct {
	Buffer          Buffer
	Memory          DeviceMemory
	Size            uint64
	AllocationSize  uint64
	MemoryTypeIndex uint32
	PropertyFlags   vk.MemoryPropertyFlags
}

// HostCoherent reports whether host writes reach the device without an explicit flush.
func (b *BufferPair) HostCoherent() bool {
	return b.PropertyFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
}

// Allocator creates buffers on one logical device and backs them with device memory.
type Allocator struct {
	driver   Driver
	device   Device
	memProps MemoryProperties
	log      *Logger
	metrics  *Metrics
}

func NewAllocator(driver Driver, device Device, memProps MemoryProperties, log *Logger, metrics *Metrics) *Allocator {
	return &Allocator{
		driver:   driver,
		device:   device,
		memProps: memProps,
		log:      log,
		metrics:  metrics,
	}
}

// CreateBuffer creates a size byte buffer with the given usage, allocates memory of the first
// compatible type, fills it with data when data is not empty and binds it at offset 0.
// On error nothing created by the call is left behind.
func (a *Allocator) CreateBuffer(usage vk.BufferUsageFlags, required vk.MemoryPropertyFlags,
	size uint64, data []byte) (pair *BufferPair, err error) {

	if uint64(len(data)) > size {
		return nil, errors.Errorf("initial data of %d bytes exceeds buffer size %d", len(data), size)
	}
	buffer, err := a.driver.CreateBuffer(a.device, BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	})
	if err != nil {
		return nil, newResourceError("buffer", err)
	}
	var memory DeviceMemory
	defer func() {
		if err == nil {
			return
		}
		if memory != 0 {
			a.driver.FreeMemory(a.device, memory)
		}
		a.driver.DestroyBuffer(a.device, buffer)
	}()

	// Ask device about its memory requirements.
	reqs := a.driver.BufferMemoryRequirements(a.device, buffer)
	typeIndex, err := FindMemoryType(a.memProps, reqs.MemoryTypeBits, required)
	if err != nil {
		return nil, err
	}

	memory, err = a.driver.AllocateMemory(a.device, reqs.Size, typeIndex)
	if err != nil {
		memory = 0
		return nil, newResourceError("device memory", err)
	}

	if len(data) > 0 {
		var mapped []byte
		mapped, err = a.driver.MapMemory(a.device, memory, 0, WholeSize)
		if err != nil {
			return nil, errors.Wrap(err, "map device memory")
		}
		n := copy(mapped, data)
		a.driver.UnmapMemory(a.device, memory)
		if n != len(data) {
			err = errors.Errorf("failed to copy data, %d != %d", n, len(data))
			return nil, err
		}
	}

	if err = a.driver.BindBufferMemory(a.device, buffer, memory, 0); err != nil {
		return nil, errors.Wrap(err, "bind buffer memory")
	}

	a.metrics.resourceCreated("buffer")
	a.metrics.resourceCreated("device_memory")
	a.log.Debug("Buffer of %d bytes bound to %d bytes of memory type %d", size, reqs.Size, typeIndex)
	return &BufferPair{
		Buffer:          buffer,
		Memory:          memory,
		Size:            size,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
		PropertyFlags:   a.memProps.Types[typeIndex].PropertyFlags,
	}, nil
}

// Flush makes host writes to the whole allocation visible to the device.
func (a *Allocator) Flush(pair *BufferPair) error {
	if _, err := a.driver.MapMemory(a.device, pair.Memory, 0, WholeSize); err != nil {
		return errors.Wrap(err, "map device memory")
	}
	defer a.driver.UnmapMemory(a.device, pair.Memory)
	return errors.Wrap(a.driver.FlushMappedMemoryRange(a.device, pair.Memory, 0, WholeSize), "flush mapped memory")
}

// Read invalidates the mapped range so device writes become visible and returns a copy of the
// first pair.Size bytes.
func (a *Allocator) Read(pair *BufferPair) ([]byte, error) {
	mapped, err := a.driver.MapMemory(a.device, pair.Memory, 0, WholeSize)
	if err != nil {
		return nil, errors.Wrap(err, "map device memory")
	}
	defer a.driver.UnmapMemory(a.device, pair.Memory)
	if err := a.driver.InvalidateMappedMemoryRange(a.device, pair.Memory, 0, WholeSize); err != nil {
		return nil, errors.Wrap(err, "invalidate mapped memory")
	}
	if uint64(len(mapped)) < pair.Size {
		return nil, errors.Errorf("mapped %d bytes, buffer holds %d", len(mapped), pair.Size)
	}
	out := make([]byte, pair.Size)
	copy(out, mapped)
	return out, nil
}

// DestroyBuffer destroys the buffer and frees its memory. A nil pair is ignored.
func (a *Allocator) DestroyBuffer(pair *BufferPair) {
	if pair == nil {
		return
	}
	if pair.Buffer != 0 {
		a.driver.DestroyBuffer(a.device, pair.Buffer)
		a.metrics.resourceReleased("buffer")
	}
	if pair.Memory != 0 {
		a.driver.FreeMemory(a.device, pair.Memory)
		a.metrics.resourceReleased("device_memory")
	}
	*pair = BufferPair{}
}
