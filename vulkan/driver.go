// Package vulkan implements vkhelper.Driver on top of github.com/vulkan-go/vulkan.
package vulkan

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
)

type instanceEntry struct {
	handle     vk.Instance
	extensions []string
}

type memoryEntry struct {
	handle vk.DeviceMemory
	size   uint64
}

type messengerEntry struct {
	handle   vk.DebugReportCallback
	callback vkhelper.DebugCallback
}

// Driver maps vkhelper handles onto vk objects. Handles are never reused.
type Driver struct {
	mu      sync.Mutex
	next    uint64
	objects map[uint64]interface{}
	gpus    map[vk.PhysicalDevice]uint64
	queues  map[vk.Queue]uint64
	unload  func()
}

var _ vkhelper.Driver = (*Driver)(nil)

// New loads Vulkan through the given loader (LoaderDefault or LoaderGLFW).
func New(loader string) (*Driver, error) {
	unload, err := load(loader)
	if err != nil {
		return nil, err
	}
	return &Driver{
		objects: make(map[uint64]interface{}),
		gpus:    make(map[vk.PhysicalDevice]uint64),
		queues:  make(map[vk.Queue]uint64),
		unload:  unload,
	}, nil
}

// Close releases the loader. Every object must have been destroyed.
func (d *Driver) Close() {
	if d.unload != nil {
		d.unload()
		d.unload = nil
	}
}

func (d *Driver) add(o interface{}) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.objects[d.next] = o
	return d.next
}

func (d *Driver) remove(h uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, h)
}

func get[T any](d *Driver, h uint64) T {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, _ := d.objects[h].(T)
	return t
}

func (d *Driver) instance(h vkhelper.Instance) *instanceEntry {
	if e := get[*instanceEntry](d, uint64(h)); e != nil {
		return e
	}
	return &instanceEntry{}
}

func (d *Driver) gpu(h vkhelper.PhysicalDevice) vk.PhysicalDevice {
	return get[vk.PhysicalDevice](d, uint64(h))
}

func (d *Driver) device(h vkhelper.Device) vk.Device {
	return get[vk.Device](d, uint64(h))
}

func (d *Driver) pool(h vkhelper.CommandPool) vk.CommandPool {
	return get[vk.CommandPool](d, uint64(h))
}

func (d *Driver) cmd(h vkhelper.CommandBuffer) vk.CommandBuffer {
	return get[vk.CommandBuffer](d, uint64(h))
}

func (d *Driver) buffer(h vkhelper.Buffer) vk.Buffer {
	return get[vk.Buffer](d, uint64(h))
}

func (d *Driver) memory(h vkhelper.DeviceMemory) *memoryEntry {
	if e := get[*memoryEntry](d, uint64(h)); e != nil {
		return e
	}
	return &memoryEntry{}
}

func (d *Driver) fence(h vkhelper.Fence) vk.Fence {
	if h == 0 {
		return vk.NullFence
	}
	return get[vk.Fence](d, uint64(h))
}

func (d *Driver) semaphores(list []vkhelper.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		out[i] = get[vk.Semaphore](d, uint64(s))
	}
	return out
}

func (d *Driver) EnumerateInstanceExtensions() (names []string, err error) {
	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	for _, ext := range list[:count] {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

func (d *Driver) EnumerateInstanceLayers() (names []string, err error) {
	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	for _, layer := range list[:count] {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func (d *Driver) CreateInstance(info vkhelper.InstanceCreateInfo) (vkhelper.Instance, error) {
	extensions := safeStrings(info.Extensions)
	layers := safeStrings(info.Layers)
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         info.Application.APIVersion,
			ApplicationVersion: info.Application.AppVersion,
			PApplicationName:   safeString(info.Application.AppName),
			EngineVersion:      info.Application.EngineVersion,
			PEngineName:        safeString(info.Application.EngineName),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return 0, errors.Wrap(err, "load instance functions")
	}
	h := d.add(&instanceEntry{handle: instance, extensions: append([]string(nil), info.Extensions...)})
	return vkhelper.Instance(h), nil
}

func (d *Driver) DestroyInstance(h vkhelper.Instance) {
	e := d.instance(h)
	if e.handle == nil {
		return
	}
	vk.DestroyInstance(e.handle, nil)
	d.remove(uint64(h))
}

func severity(flags vk.DebugReportFlags) vkhelper.DebugSeverity {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		return vkhelper.SeverityError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		return vkhelper.SeverityWarning
	case flags&vk.DebugReportFlags(vk.DebugReportInformationBit) != 0:
		return vkhelper.SeverityInfo
	default:
		return vkhelper.SeverityVerbose
	}
}

func (d *Driver) CreateDebugMessenger(h vkhelper.Instance, callback vkhelper.DebugCallback) (vkhelper.DebugMessenger, error) {
	e := d.instance(h)
	enabled := false
	for _, ext := range e.extensions {
		if ext == vkhelper.DebugReportExtension {
			enabled = true
		}
	}
	if e.handle == nil || !enabled {
		return 0, errors.Wrap(vkhelper.ErrExtensionNotPresent, vkhelper.DebugReportExtension)
	}
	entry := &messengerEntry{callback: callback}
	ret := vk.CreateDebugReportCallback(e.handle, &vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit | vk.DebugReportInformationBit | vk.DebugReportDebugBit),
		PfnCallback: func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
			object uint64, location uint, messageCode int32, pLayerPrefix string,
			pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

			entry.callback(severity(flags), pLayerPrefix, pMessage)
			return vk.False
		},
	}, nil, &entry.handle)
	if ret == vk.ErrorExtensionNotPresent {
		return 0, errors.Wrap(vkhelper.ErrExtensionNotPresent, vkhelper.DebugReportExtension)
	}
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.DebugMessenger(d.add(entry)), nil
}

func (d *Driver) DestroyDebugMessenger(h vkhelper.Instance, m vkhelper.DebugMessenger) {
	e := get[*messengerEntry](d, uint64(m))
	if e == nil {
		return
	}
	vk.DestroyDebugReportCallback(d.instance(h).handle, e.handle, nil)
	d.remove(uint64(m))
}

func (d *Driver) EnumeratePhysicalDevices(h vkhelper.Instance) ([]vkhelper.PhysicalDevice, error) {
	instance := d.instance(h).handle
	var count uint32
	ret := vk.EnumeratePhysicalDevices(instance, &count, nil)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(instance, &count, gpus)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	out := make([]vkhelper.PhysicalDevice, 0, count)
	for _, gpu := range gpus[:count] {
		d.mu.Lock()
		known, ok := d.gpus[gpu]
		d.mu.Unlock()
		if !ok {
			known = d.add(gpu)
			d.mu.Lock()
			d.gpus[gpu] = known
			d.mu.Unlock()
		}
		out = append(out, vkhelper.PhysicalDevice(known))
	}
	return out, nil
}

func (d *Driver) PhysicalDeviceProperties(h vkhelper.PhysicalDevice) vkhelper.DeviceProperties {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.gpu(h), &props)
	props.Deref()
	props.Limits.Deref()
	return vkhelper.DeviceProperties{
		Name:       vk.ToString(props.DeviceName[:]),
		Type:       props.DeviceType,
		APIVersion: props.ApiVersion,
		Limits: vkhelper.DeviceLimits{
			MaxComputeSharedMemorySize:     props.Limits.MaxComputeSharedMemorySize,
			MaxComputeWorkGroupInvocations: props.Limits.MaxComputeWorkGroupInvocations,
		},
	}
}

func (d *Driver) QueueFamilyProperties(h vkhelper.PhysicalDevice) []vkhelper.QueueFamilyProperties {
	gpu := d.gpu(h)
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	list := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, list)
	out := make([]vkhelper.QueueFamilyProperties, 0, count)
	for _, family := range list[:count] {
		family.Deref()
		out = append(out, vkhelper.QueueFamilyProperties{
			Flags:      family.QueueFlags,
			QueueCount: family.QueueCount,
		})
	}
	return out
}

func (d *Driver) MemoryProperties(h vkhelper.PhysicalDevice) vkhelper.MemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.gpu(h), &props)
	props.Deref()
	var out vkhelper.MemoryProperties
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		props.MemoryTypes[i].Deref()
		out.Types = append(out.Types, vkhelper.MemoryType{
			PropertyFlags: props.MemoryTypes[i].PropertyFlags,
			HeapIndex:     props.MemoryTypes[i].HeapIndex,
		})
	}
	for i := uint32(0); i < props.MemoryHeapCount; i++ {
		props.MemoryHeaps[i].Deref()
		out.Heaps = append(out.Heaps, vkhelper.MemoryHeap{
			Size:  uint64(props.MemoryHeaps[i].Size),
			Flags: props.MemoryHeaps[i].Flags,
		})
	}
	return out
}

func (d *Driver) CreateDevice(h vkhelper.PhysicalDevice, info vkhelper.DeviceCreateInfo) (vkhelper.Device, error) {
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(info.Queues))
	for _, q := range info.Queues {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: q.FamilyIndex,
			QueueCount:       uint32(len(q.Priorities)),
			PQueuePriorities: q.Priorities,
		})
	}
	extensions := safeStrings(info.Extensions)
	layers := safeStrings(info.Layers)
	var device vk.Device
	ret := vk.CreateDevice(d.gpu(h), &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &device)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.Device(d.add(device)), nil
}

func (d *Driver) DestroyDevice(h vkhelper.Device) {
	device := d.device(h)
	if device == nil {
		return
	}
	vk.DestroyDevice(device, nil)
	d.remove(uint64(h))
}

func (d *Driver) DeviceWaitIdle(h vkhelper.Device) error {
	return NewError(vk.DeviceWaitIdle(d.device(h)))
}

func (d *Driver) GetDeviceQueue(h vkhelper.Device, family, index uint32) vkhelper.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(d.device(h), family, index, &queue)
	d.mu.Lock()
	known, ok := d.queues[queue]
	d.mu.Unlock()
	if ok {
		return vkhelper.Queue(known)
	}
	known = d.add(queue)
	d.mu.Lock()
	d.queues[queue] = known
	d.mu.Unlock()
	return vkhelper.Queue(known)
}

func (d *Driver) CreateCommandPool(h vkhelper.Device, family uint32, flags vk.CommandPoolCreateFlags) (vkhelper.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device(h), &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            flags,
		QueueFamilyIndex: family,
	}, nil, &pool)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.CommandPool(d.add(pool)), nil
}

func (d *Driver) DestroyCommandPool(h vkhelper.Device, p vkhelper.CommandPool) {
	vk.DestroyCommandPool(d.device(h), d.pool(p), nil)
	d.remove(uint64(p))
}

func (d *Driver) AllocateCommandBuffer(h vkhelper.Device, p vkhelper.CommandPool, level vk.CommandBufferLevel) (vkhelper.CommandBuffer, error) {
	cmds := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device(h), &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pool(p),
		Level:              level,
		CommandBufferCount: 1,
	}, cmds)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.CommandBuffer(d.add(cmds[0])), nil
}

func (d *Driver) FreeCommandBuffer(h vkhelper.Device, p vkhelper.CommandPool, c vkhelper.CommandBuffer) {
	vk.FreeCommandBuffers(d.device(h), d.pool(p), 1, []vk.CommandBuffer{d.cmd(c)})
	d.remove(uint64(c))
}

func (d *Driver) BeginCommandBuffer(c vkhelper.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	return NewError(vk.BeginCommandBuffer(d.cmd(c), &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}))
}

func (d *Driver) CmdCopyBuffer(c vkhelper.CommandBuffer, src, dst vkhelper.Buffer, regions []vkhelper.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.cmd(c), d.buffer(src), d.buffer(dst), uint32(len(copies)), copies)
}

func (d *Driver) EndCommandBuffer(c vkhelper.CommandBuffer) error {
	return NewError(vk.EndCommandBuffer(d.cmd(c)))
}

func (d *Driver) CreateBuffer(h vkhelper.Device, info vkhelper.BufferCreateInfo) (vkhelper.Buffer, error) {
	var buffer vk.Buffer
	ret := vk.CreateBuffer(d.device(h), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       info.Usage,
		SharingMode: info.SharingMode,
	}, nil, &buffer)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.Buffer(d.add(buffer)), nil
}

func (d *Driver) DestroyBuffer(h vkhelper.Device, b vkhelper.Buffer) {
	vk.DestroyBuffer(d.device(h), d.buffer(b), nil)
	d.remove(uint64(b))
}

func (d *Driver) BufferMemoryRequirements(h vkhelper.Device, b vkhelper.Buffer) vkhelper.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device(h), d.buffer(b), &reqs)
	reqs.Deref()
	return vkhelper.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Driver) BindBufferMemory(h vkhelper.Device, b vkhelper.Buffer, m vkhelper.DeviceMemory, offset uint64) error {
	return NewError(vk.BindBufferMemory(d.device(h), d.buffer(b), d.memory(m).handle, vk.DeviceSize(offset)))
}

func (d *Driver) AllocateMemory(h vkhelper.Device, size uint64, typeIndex uint32) (vkhelper.DeviceMemory, error) {
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(d.device(h), &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}, nil, &memory)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.DeviceMemory(d.add(&memoryEntry{handle: memory, size: size})), nil
}

func (d *Driver) FreeMemory(h vkhelper.Device, m vkhelper.DeviceMemory) {
	vk.FreeMemory(d.device(h), d.memory(m).handle, nil)
	d.remove(uint64(m))
}

// MapMemory returns a slice aliasing the mapped range. It is only valid until UnmapMemory.
func (d *Driver) MapMemory(h vkhelper.Device, m vkhelper.DeviceMemory, offset, size uint64) ([]byte, error) {
	e := d.memory(m)
	n := size
	if size == vkhelper.WholeSize {
		n = e.size - offset
	}
	var pData unsafe.Pointer
	ret := vk.MapMemory(d.device(h), e.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(pData), n), nil
}

func (d *Driver) UnmapMemory(h vkhelper.Device, m vkhelper.DeviceMemory) {
	vk.UnmapMemory(d.device(h), d.memory(m).handle)
}

func (d *Driver) mappedRange(m vkhelper.DeviceMemory, offset, size uint64) []vk.MappedMemoryRange {
	return []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: d.memory(m).handle,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}}
}

func (d *Driver) FlushMappedMemoryRange(h vkhelper.Device, m vkhelper.DeviceMemory, offset, size uint64) error {
	return NewError(vk.FlushMappedMemoryRanges(d.device(h), 1, d.mappedRange(m, offset, size)))
}

func (d *Driver) InvalidateMappedMemoryRange(h vkhelper.Device, m vkhelper.DeviceMemory, offset, size uint64) error {
	return NewError(vk.InvalidateMappedMemoryRanges(d.device(h), 1, d.mappedRange(m, offset, size)))
}

func (d *Driver) CreateFence(h vkhelper.Device, signaled bool) (vkhelper.Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(d.device(h), &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.Fence(d.add(fence)), nil
}

func (d *Driver) DestroyFence(h vkhelper.Device, f vkhelper.Fence) {
	vk.DestroyFence(d.device(h), d.fence(f), nil)
	d.remove(uint64(f))
}

func (d *Driver) WaitForFence(h vkhelper.Device, f vkhelper.Fence, timeout uint64) (bool, error) {
	ret := vk.WaitForFences(d.device(h), 1, []vk.Fence{d.fence(f)}, vk.True, timeout)
	if ret == vk.Timeout {
		return false, nil
	}
	if err := NewError(ret); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) CreateSemaphore(h vkhelper.Device) (vkhelper.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device(h), &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if err := NewError(ret); err != nil {
		return 0, err
	}
	return vkhelper.Semaphore(d.add(sem)), nil
}

func (d *Driver) DestroySemaphore(h vkhelper.Device, s vkhelper.Semaphore) {
	vk.DestroySemaphore(d.device(h), get[vk.Semaphore](d, uint64(s)), nil)
	d.remove(uint64(s))
}

func (d *Driver) QueueSubmit(q vkhelper.Queue, info vkhelper.SubmitInfo, f vkhelper.Fence) error {
	cmds := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, c := range info.CommandBuffers {
		cmds[i] = d.cmd(c)
	}
	wait := d.semaphores(info.WaitSemaphores)
	signal := d.semaphores(info.SignalSemaphores)
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cmds)),
		PCommandBuffers:    cmds,
	}
	if len(wait) > 0 {
		submit.WaitSemaphoreCount = uint32(len(wait))
		submit.PWaitSemaphores = wait
		submit.PWaitDstStageMask = info.WaitDstStageMask
	}
	if len(signal) > 0 {
		submit.SignalSemaphoreCount = uint32(len(signal))
		submit.PSignalSemaphores = signal
	}
	ret := vk.QueueSubmit(get[vk.Queue](d, uint64(q)), 1, []vk.SubmitInfo{submit}, d.fence(f))
	return NewError(ret)
}
