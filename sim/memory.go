package sim

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
)

// memory models one allocation. Host-visible memory lives in an anonymous mapping; when it is not
// coherent the device sees a separate copy that only changes on flush, and host reads only see
// device writes after an invalidate.
type memory struct {
	owner     uint64
	size      uint64
	typeIndex uint32
	flags     vk.MemoryPropertyFlags

	host    []byte
	mmapped bool
	device  []byte
	mapped  bool
}

func (*memory) kind() string     { return kindMemory }
func (m *memory) parent() uint64 { return m.owner }

func (m *memory) hostVisible() bool {
	return m.flags&memHostVisible != 0
}

func (m *memory) coherent() bool {
	return m.flags&memHostCoherent != 0
}

// deviceView is the storage the GPU reads and writes.
func (m *memory) deviceView() []byte {
	if m.device != nil {
		return m.device
	}
	return m.host
}

func (m *memory) span(offset, size uint64) (uint64, uint64, error) {
	if size == vkhelper.WholeSize {
		if offset > m.size {
			return 0, 0, errors.Errorf("sim: offset %d beyond allocation of %d bytes", offset, m.size)
		}
		return offset, m.size, nil
	}
	if offset+size > m.size {
		return 0, 0, errors.Errorf("sim: range %d+%d beyond allocation of %d bytes", offset, size, m.size)
	}
	return offset, offset + size, nil
}

func (d *Driver) AllocateMemory(dev vkhelper.Device, size uint64, typeIndex uint32) (vkhelper.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("AllocateMemory", uint64(dev))
	if err := d.fault("AllocateMemory"); err != nil {
		return 0, err
	}
	dv, ok := lookup[*device](d, uint64(dev))
	if !ok {
		return 0, errors.Errorf("sim: unknown device %d", dev)
	}
	types := dv.gpu.spec.MemoryTypes
	if int(typeIndex) >= len(types) {
		return 0, errors.Errorf("sim: memory type %d out of range", typeIndex)
	}
	if size == 0 {
		return 0, errors.New("sim: allocation size must be greater than zero")
	}
	heap := types[typeIndex].HeapIndex
	if heaps := dv.gpu.spec.MemoryHeaps; int(heap) < len(heaps) && heaps[heap].Size > 0 && size > heaps[heap].Size {
		return 0, vk.Error(vk.ErrorOutOfDeviceMemory)
	}

	m := &memory{owner: uint64(dev), size: size, typeIndex: typeIndex, flags: types[typeIndex].PropertyFlags}
	if m.hostVisible() {
		host, mmapped, err := hostAlloc(size)
		if err != nil {
			return 0, errors.Wrap(vk.Error(vk.ErrorOutOfHostMemory), err.Error())
		}
		m.host, m.mmapped = host, mmapped
		if !m.coherent() {
			m.device = make([]byte, size)
		}
	} else {
		m.device = make([]byte, size)
	}
	return vkhelper.DeviceMemory(d.add(m)), nil
}

func (d *Driver) FreeMemory(dev vkhelper.Device, mem vkhelper.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, o := range d.objects {
		if b, ok := o.(*buffer); ok && b.memory == uint64(mem) {
			d.violate("FreeMemory: memory %d is still bound to buffer %d", mem, h)
		}
	}
	o, ok := d.destroy("FreeMemory", uint64(mem), kindMemory)
	if !ok {
		return
	}
	m := o.(*memory)
	if err := hostFree(m.host, m.mmapped); err != nil {
		d.violate("FreeMemory: %v", err)
	}
	m.host, m.device = nil, nil
}

func (d *Driver) MapMemory(dev vkhelper.Device, mem vkhelper.DeviceMemory, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("MapMemory", uint64(mem))
	if err := d.fault("MapMemory"); err != nil {
		return nil, err
	}
	m, ok := lookup[*memory](d, uint64(mem))
	if !ok {
		return nil, errors.Errorf("sim: unknown memory %d", mem)
	}
	if !m.hostVisible() {
		d.violate("MapMemory: memory %d is not host visible", mem)
		return nil, vk.Error(vk.ErrorMemoryMapFailed)
	}
	if m.mapped {
		d.violate("MapMemory: memory %d is already mapped", mem)
		return nil, vk.Error(vk.ErrorMemoryMapFailed)
	}
	from, to, err := m.span(offset, size)
	if err != nil {
		return nil, err
	}
	m.mapped = true
	return m.host[from:to:to], nil
}

func (d *Driver) UnmapMemory(dev vkhelper.Device, mem vkhelper.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("UnmapMemory", uint64(mem))
	m, ok := lookup[*memory](d, uint64(mem))
	if !ok || !m.mapped {
		d.violate("UnmapMemory: memory %d is not mapped", mem)
		return
	}
	m.mapped = false
}

func (d *Driver) mappedRange(call string, mem vkhelper.DeviceMemory, offset, size uint64) (*memory, uint64, uint64, error) {
	d.record(call, uint64(mem))
	if err := d.fault(call); err != nil {
		return nil, 0, 0, err
	}
	m, ok := lookup[*memory](d, uint64(mem))
	if !ok {
		return nil, 0, 0, errors.Errorf("sim: unknown memory %d", mem)
	}
	if !m.mapped {
		d.violate("%s: memory %d is not mapped", call, mem)
		return nil, 0, 0, errors.Errorf("sim: memory %d is not mapped", mem)
	}
	from, to, err := m.span(offset, size)
	return m, from, to, err
}

func (d *Driver) FlushMappedMemoryRange(dev vkhelper.Device, mem vkhelper.DeviceMemory, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, from, to, err := d.mappedRange("FlushMappedMemoryRange", mem, offset, size)
	if err != nil {
		return err
	}
	if m.device != nil {
		copy(m.device[from:to], m.host[from:to])
	}
	return nil
}

func (d *Driver) InvalidateMappedMemoryRange(dev vkhelper.Device, mem vkhelper.DeviceMemory, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, from, to, err := d.mappedRange("InvalidateMappedMemoryRange", mem, offset, size)
	if err != nil {
		return err
	}
	if m.device != nil {
		copy(m.host[from:to], m.device[from:to])
	}
	return nil
}
