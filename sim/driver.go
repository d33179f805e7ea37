// Package sim is an in-process GPU for exercising vkhelper without a Vulkan loader. Copies run on
// the host when a submission's wait semaphores are signaled, and every call is logged so tests can
// check ordering and leaks.
package sim

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
)

// Call is one driver entry point invocation.
type Call struct {
	Name   string
	Handle uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithDevices replaces the default device list.
func WithDevices(devices ...DeviceSpec) Option {
	return func(d *Driver) {
		d.devices = append([]DeviceSpec(nil), devices...)
	}
}

// WithInstanceExtensions replaces the reported instance extensions.
func WithInstanceExtensions(names ...string) Option {
	return func(d *Driver) {
		d.extensions = append([]string(nil), names...)
	}
}

// WithLayers replaces the reported instance layers.
func WithLayers(names ...string) Option {
	return func(d *Driver) {
		d.layers = append([]string(nil), names...)
	}
}

// WithoutDebugEntryPoints makes CreateDebugMessenger report a missing entry point.
func WithoutDebugEntryPoints() Option {
	return func(d *Driver) {
		d.noDebugEntryPoints = true
	}
}

// WithHungQueues makes every queue accept submissions without ever executing them.
func WithHungQueues() Option {
	return func(d *Driver) {
		d.hung = true
	}
}

// Driver implements vkhelper.Driver in memory. It is safe for concurrent use, though vkhelper
// drives it from one goroutine.
type Driver struct {
	mu sync.Mutex

	devices            []DeviceSpec
	extensions         []string
	layers             []string
	noDebugEntryPoints bool
	hung               bool

	next       uint64
	objects    map[uint64]object
	failures   map[string]error
	calls      []Call
	violations []string
	messengers []*messenger
}

var _ vkhelper.Driver = (*Driver)(nil)

// New returns a driver exposing DefaultDevices, the debug report extension and the Khronos
// validation layer.
func New(opts ...Option) *Driver {
	d := &Driver{
		devices:    DefaultDevices(),
		extensions: []string{vkhelper.DebugReportExtension, "VK_KHR_get_physical_device_properties2"},
		layers:     []string{vkhelper.KhronosValidationLayer},
		objects:    make(map[uint64]object),
		failures:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FailOn makes the next call of the named entry point return err.
func (d *Driver) FailOn(call string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = vk.Error(vk.ErrorInitializationFailed)
	}
	d.failures[call] = err
}

// Calls returns every call made so far, oldest first.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount counts calls of the named entry point.
func (d *Driver) CallCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Violations lists API misuse seen so far: destroying unknown handles, destroying parents before
// their children, mapping memory twice and the like.
func (d *Driver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live counts objects not yet destroyed, by kind. Physical devices and queues are not counted.
func (d *Driver) Live() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := make(map[string]int)
	for _, o := range d.objects {
		switch o.(type) {
		case *physicalDevice, *queue:
			continue
		}
		live[o.kind()]++
	}
	return live
}

func (d *Driver) record(name string, handle uint64) {
	d.calls = append(d.calls, Call{Name: name, Handle: handle})
}

func (d *Driver) fault(name string) error {
	err, ok := d.failures[name]
	if !ok {
		return nil
	}
	delete(d.failures, name)
	return err
}

func (d *Driver) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
	d.report(vkhelper.SeverityError, msg)
}

func (d *Driver) report(severity vkhelper.DebugSeverity, msg string) {
	for _, m := range d.messengers {
		m.callback(severity, "sim", msg)
	}
}

func (d *Driver) add(o object) uint64 {
	d.next++
	d.objects[d.next] = o
	return d.next
}

func lookup[T object](d *Driver, h uint64) (T, bool) {
	o, ok := d.objects[h]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := o.(T)
	return t, ok
}

// destroy removes h after checking that it exists, has the expected kind and owns no live objects.
func (d *Driver) destroy(call string, h uint64, kind string) (object, bool) {
	d.record(call, h)
	if h == 0 {
		d.violate("%s: null handle", call)
		return nil, false
	}
	o, ok := d.objects[h]
	if !ok {
		d.violate("%s: unknown handle %d", call, h)
		return nil, false
	}
	if o.kind() != kind {
		d.violate("%s: handle %d is a %s", call, h, o.kind())
		return nil, false
	}
	for child, co := range d.objects {
		if co.parent() != h {
			continue
		}
		switch co.(type) {
		case *physicalDevice, *queue:
			delete(d.objects, child)
		default:
			d.violate("%s: %s %d still owns %s %d", call, kind, h, co.kind(), child)
		}
	}
	delete(d.objects, h)
	return o, true
}

func (d *Driver) EnumerateInstanceExtensions() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EnumerateInstanceExtensions", 0)
	if err := d.fault("EnumerateInstanceExtensions"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.extensions...), nil
}

func (d *Driver) EnumerateInstanceLayers() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EnumerateInstanceLayers", 0)
	if err := d.fault("EnumerateInstanceLayers"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.layers...), nil
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

func (d *Driver) CreateInstance(info vkhelper.InstanceCreateInfo) (vkhelper.Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateInstance", 0)
	if err := d.fault("CreateInstance"); err != nil {
		return 0, err
	}
	for _, ext := range info.Extensions {
		if !contains(d.extensions, ext) {
			return 0, errors.Wrap(vk.Error(vk.ErrorExtensionNotPresent), ext)
		}
	}
	for _, layer := range info.Layers {
		if !contains(d.layers, layer) {
			return 0, errors.Wrap(vk.Error(vk.ErrorLayerNotPresent), layer)
		}
	}
	inst := &instance{info: info}
	h := d.add(inst)
	for i := range d.devices {
		inst.gpus = append(inst.gpus, d.add(&physicalDevice{owner: h, spec: &d.devices[i]}))
	}
	return vkhelper.Instance(h), nil
}

func (d *Driver) DestroyInstance(inst vkhelper.Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DestroyInstance", uint64(inst), kindInstance)
}

func (d *Driver) CreateDebugMessenger(inst vkhelper.Instance, callback vkhelper.DebugCallback) (vkhelper.DebugMessenger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateDebugMessenger", uint64(inst))
	if err := d.fault("CreateDebugMessenger"); err != nil {
		return 0, err
	}
	in, ok := lookup[*instance](d, uint64(inst))
	if !ok {
		return 0, errors.Errorf("sim: unknown instance %d", inst)
	}
	if d.noDebugEntryPoints || !contains(in.info.Extensions, vkhelper.DebugReportExtension) {
		return 0, errors.Wrap(vkhelper.ErrExtensionNotPresent, vkhelper.DebugReportExtension)
	}
	m := &messenger{owner: uint64(inst), callback: callback}
	d.messengers = append(d.messengers, m)
	m.callback(vkhelper.SeverityInfo, "sim", "debug messenger installed")
	return vkhelper.DebugMessenger(d.add(m)), nil
}

func (d *Driver) DestroyDebugMessenger(inst vkhelper.Instance, h vkhelper.DebugMessenger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.destroy("DestroyDebugMessenger", uint64(h), kindMessenger)
	if !ok {
		return
	}
	for i, m := range d.messengers {
		if m == o {
			d.messengers = append(d.messengers[:i], d.messengers[i+1:]...)
			break
		}
	}
}

func (d *Driver) EnumeratePhysicalDevices(inst vkhelper.Instance) ([]vkhelper.PhysicalDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EnumeratePhysicalDevices", uint64(inst))
	if err := d.fault("EnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	in, ok := lookup[*instance](d, uint64(inst))
	if !ok {
		return nil, errors.Errorf("sim: unknown instance %d", inst)
	}
	out := make([]vkhelper.PhysicalDevice, len(in.gpus))
	for i, h := range in.gpus {
		out[i] = vkhelper.PhysicalDevice(h)
	}
	return out, nil
}

func (d *Driver) spec(gpu vkhelper.PhysicalDevice) *DeviceSpec {
	pd, ok := lookup[*physicalDevice](d, uint64(gpu))
	if !ok {
		return &DeviceSpec{}
	}
	return pd.spec
}

func (d *Driver) PhysicalDeviceProperties(gpu vkhelper.PhysicalDevice) vkhelper.DeviceProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("PhysicalDeviceProperties", uint64(gpu))
	s := d.spec(gpu)
	return vkhelper.DeviceProperties{
		Name:       s.Name,
		Type:       s.Type,
		APIVersion: s.APIVersion,
		Limits:     s.Limits,
	}
}

func (d *Driver) QueueFamilyProperties(gpu vkhelper.PhysicalDevice) []vkhelper.QueueFamilyProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("QueueFamilyProperties", uint64(gpu))
	return append([]vkhelper.QueueFamilyProperties(nil), d.spec(gpu).QueueFamilies...)
}

func (d *Driver) MemoryProperties(gpu vkhelper.PhysicalDevice) vkhelper.MemoryProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("MemoryProperties", uint64(gpu))
	s := d.spec(gpu)
	return vkhelper.MemoryProperties{
		Types: append([]vkhelper.MemoryType(nil), s.MemoryTypes...),
		Heaps: append([]vkhelper.MemoryHeap(nil), s.MemoryHeaps...),
	}
}

func (d *Driver) CreateDevice(gpu vkhelper.PhysicalDevice, info vkhelper.DeviceCreateInfo) (vkhelper.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateDevice", uint64(gpu))
	if err := d.fault("CreateDevice"); err != nil {
		return 0, err
	}
	pd, ok := lookup[*physicalDevice](d, uint64(gpu))
	if !ok {
		return 0, errors.Errorf("sim: unknown physical device %d", gpu)
	}
	if len(info.Queues) == 0 {
		return 0, errors.New("sim: device needs at least one queue")
	}
	seen := make(map[uint32]bool)
	for _, q := range info.Queues {
		if int(q.FamilyIndex) >= len(pd.spec.QueueFamilies) {
			return 0, errors.Wrapf(vk.Error(vk.ErrorInitializationFailed), "queue family %d", q.FamilyIndex)
		}
		if seen[q.FamilyIndex] {
			d.violate("CreateDevice: queue family %d requested twice", q.FamilyIndex)
			return 0, errors.Wrapf(vk.Error(vk.ErrorInitializationFailed), "queue family %d", q.FamilyIndex)
		}
		if uint32(len(q.Priorities)) > pd.spec.QueueFamilies[q.FamilyIndex].QueueCount {
			return 0, errors.Wrapf(vk.Error(vk.ErrorInitializationFailed), "too many queues in family %d", q.FamilyIndex)
		}
		seen[q.FamilyIndex] = true
	}
	for _, ext := range info.Extensions {
		if !pd.spec.hasExtension(ext) {
			return 0, errors.Wrap(vk.Error(vk.ErrorExtensionNotPresent), ext)
		}
	}
	dev := &device{owner: pd.owner, gpu: pd, families: seen, queues: make(map[[2]uint32]uint64)}
	h := d.add(dev)
	d.report(vkhelper.SeverityVerbose, fmt.Sprintf("created device on %s", pd.spec.Name))
	return vkhelper.Device(h), nil
}

func (d *Driver) DestroyDevice(dev vkhelper.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.objects[uint64(dev)]; ok {
		if dv, ok := o.(*device); ok && len(dv.pending) > 0 {
			d.violate("DestroyDevice: %d submissions still pending", len(dv.pending))
		}
	}
	d.destroy("DestroyDevice", uint64(dev), kindDevice)
}

func (d *Driver) DeviceWaitIdle(dev vkhelper.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("DeviceWaitIdle", uint64(dev))
	if err := d.fault("DeviceWaitIdle"); err != nil {
		return err
	}
	dv, ok := lookup[*device](d, uint64(dev))
	if !ok {
		return errors.Errorf("sim: unknown device %d", dev)
	}
	d.drain(dv)
	if len(dv.pending) > 0 {
		// Work that can never finish: the device is lost and its submissions abandoned.
		n := len(dv.pending)
		for _, s := range dv.pending {
			d.retire(s)
		}
		dv.pending = nil
		return errors.Wrapf(vk.Error(vk.ErrorDeviceLost), "%d submissions never completed", n)
	}
	return nil
}

func (d *Driver) GetDeviceQueue(dev vkhelper.Device, family, index uint32) vkhelper.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("GetDeviceQueue", uint64(dev))
	dv, ok := lookup[*device](d, uint64(dev))
	if !ok || !dv.families[family] {
		d.violate("GetDeviceQueue: family %d was not requested at device creation", family)
		return 0
	}
	key := [2]uint32{family, index}
	if h, ok := dv.queues[key]; ok {
		return vkhelper.Queue(h)
	}
	h := d.add(&queue{owner: uint64(dev), family: family})
	dv.queues[key] = h
	return vkhelper.Queue(h)
}

func (d *Driver) CreateCommandPool(dev vkhelper.Device, family uint32, flags vk.CommandPoolCreateFlags) (vkhelper.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateCommandPool", uint64(dev))
	if err := d.fault("CreateCommandPool"); err != nil {
		return 0, err
	}
	dv, ok := lookup[*device](d, uint64(dev))
	if !ok {
		return 0, errors.Errorf("sim: unknown device %d", dev)
	}
	if !dv.families[family] {
		return 0, errors.Wrapf(vk.Error(vk.ErrorInitializationFailed), "family %d has no queue on this device", family)
	}
	return vkhelper.CommandPool(d.add(&commandPool{owner: uint64(dev), family: family, flags: flags})), nil
}

func (d *Driver) DestroyCommandPool(dev vkhelper.Device, pool vkhelper.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DestroyCommandPool", uint64(pool), kindCommandPool)
}

func (d *Driver) AllocateCommandBuffer(dev vkhelper.Device, pool vkhelper.CommandPool, level vk.CommandBufferLevel) (vkhelper.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("AllocateCommandBuffer", uint64(pool))
	if err := d.fault("AllocateCommandBuffer"); err != nil {
		return 0, err
	}
	p, ok := lookup[*commandPool](d, uint64(pool))
	if !ok {
		return 0, errors.Errorf("sim: unknown command pool %d", pool)
	}
	return vkhelper.CommandBuffer(d.add(&commandBuffer{owner: uint64(pool), pool: p, level: level})), nil
}

func (d *Driver) FreeCommandBuffer(dev vkhelper.Device, pool vkhelper.CommandPool, cmd vkhelper.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := lookup[*commandBuffer](d, uint64(cmd)); ok && cb.state == cmdPending {
		d.violate("FreeCommandBuffer: command buffer %d is pending", cmd)
	}
	d.destroy("FreeCommandBuffer", uint64(cmd), kindCommandBuffer)
}

func (d *Driver) BeginCommandBuffer(cmd vkhelper.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("BeginCommandBuffer", uint64(cmd))
	if err := d.fault("BeginCommandBuffer"); err != nil {
		return err
	}
	cb, ok := lookup[*commandBuffer](d, uint64(cmd))
	if !ok {
		return errors.Errorf("sim: unknown command buffer %d", cmd)
	}
	switch cb.state {
	case cmdInitial:
	case cmdExecutable, cmdInvalid:
		if cb.pool.flags&vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit) == 0 {
			d.violate("BeginCommandBuffer: implicit reset of %d without reset flag on its pool", cmd)
		}
	default:
		d.violate("BeginCommandBuffer: command buffer %d is %s", cmd, cb.state)
		return errors.Errorf("sim: command buffer %d is %s", cmd, cb.state)
	}
	cb.state = cmdRecording
	cb.oneTime = flags&vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit) != 0
	cb.copies = cb.copies[:0]
	return nil
}

func (d *Driver) CmdCopyBuffer(cmd vkhelper.CommandBuffer, src, dst vkhelper.Buffer, regions []vkhelper.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CmdCopyBuffer", uint64(cmd))
	cb, ok := lookup[*commandBuffer](d, uint64(cmd))
	if !ok || cb.state != cmdRecording {
		d.violate("CmdCopyBuffer: command buffer %d is not recording", cmd)
		return
	}
	for _, r := range regions {
		cb.copies = append(cb.copies, copyOp{src: uint64(src), dst: uint64(dst), region: r})
	}
}

func (d *Driver) EndCommandBuffer(cmd vkhelper.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EndCommandBuffer", uint64(cmd))
	if err := d.fault("EndCommandBuffer"); err != nil {
		return err
	}
	cb, ok := lookup[*commandBuffer](d, uint64(cmd))
	if !ok {
		return errors.Errorf("sim: unknown command buffer %d", cmd)
	}
	if cb.state != cmdRecording {
		d.violate("EndCommandBuffer: command buffer %d is %s", cmd, cb.state)
		return errors.Errorf("sim: command buffer %d is %s", cmd, cb.state)
	}
	cb.state = cmdExecutable
	return nil
}

func (d *Driver) CreateBuffer(dev vkhelper.Device, info vkhelper.BufferCreateInfo) (vkhelper.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateBuffer", uint64(dev))
	if err := d.fault("CreateBuffer"); err != nil {
		return 0, err
	}
	if _, ok := lookup[*device](d, uint64(dev)); !ok {
		return 0, errors.Errorf("sim: unknown device %d", dev)
	}
	if info.Size == 0 {
		return 0, errors.New("sim: buffer size must be greater than zero")
	}
	return vkhelper.Buffer(d.add(&buffer{owner: uint64(dev), size: info.Size, usage: info.Usage})), nil
}

func (d *Driver) DestroyBuffer(dev vkhelper.Device, buf vkhelper.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DestroyBuffer", uint64(buf), kindBuffer)
}

func (d *Driver) BufferMemoryRequirements(dev vkhelper.Device, buf vkhelper.Buffer) vkhelper.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("BufferMemoryRequirements", uint64(buf))
	b, ok := lookup[*buffer](d, uint64(buf))
	if !ok {
		d.violate("BufferMemoryRequirements: unknown buffer %d", buf)
		return vkhelper.MemoryRequirements{}
	}
	dv, _ := lookup[*device](d, b.owner)
	align := dv.gpu.spec.alignment()
	return vkhelper.MemoryRequirements{
		Size:           (b.size + align - 1) / align * align,
		Alignment:      align,
		MemoryTypeBits: dv.gpu.spec.typeBits(),
	}
}

func (d *Driver) BindBufferMemory(dev vkhelper.Device, buf vkhelper.Buffer, mem vkhelper.DeviceMemory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("BindBufferMemory", uint64(buf))
	if err := d.fault("BindBufferMemory"); err != nil {
		return err
	}
	b, ok := lookup[*buffer](d, uint64(buf))
	if !ok {
		return errors.Errorf("sim: unknown buffer %d", buf)
	}
	m, ok := lookup[*memory](d, uint64(mem))
	if !ok {
		return errors.Errorf("sim: unknown memory %d", mem)
	}
	if b.memory != 0 {
		d.violate("BindBufferMemory: buffer %d is already bound", buf)
		return errors.Errorf("sim: buffer %d is already bound", buf)
	}
	dv, _ := lookup[*device](d, b.owner)
	if dv.gpu.spec.typeBits()&(1<<m.typeIndex) == 0 {
		d.violate("BindBufferMemory: memory type %d not allowed for buffer %d", m.typeIndex, buf)
		return errors.Errorf("sim: memory type %d not allowed for buffer %d", m.typeIndex, buf)
	}
	if offset%dv.gpu.spec.alignment() != 0 || offset+b.size > m.size {
		return errors.Errorf("sim: buffer of %d bytes does not fit memory of %d bytes at offset %d", b.size, m.size, offset)
	}
	b.memory = uint64(mem)
	b.offset = offset
	return nil
}

func (d *Driver) CreateFence(dev vkhelper.Device, signaled bool) (vkhelper.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateFence", uint64(dev))
	if err := d.fault("CreateFence"); err != nil {
		return 0, err
	}
	return vkhelper.Fence(d.add(&fence{owner: uint64(dev), signaled: signaled})), nil
}

func (d *Driver) DestroyFence(dev vkhelper.Device, f vkhelper.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DestroyFence", uint64(f), kindFence)
}

// WaitForFence never sleeps. An unsignaled fence reports an expired wait, and an infinite wait on
// work that cannot progress reports a lost device.
func (d *Driver) WaitForFence(dev vkhelper.Device, f vkhelper.Fence, timeout uint64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("WaitForFence", uint64(f))
	if err := d.fault("WaitForFence"); err != nil {
		return false, err
	}
	fc, ok := lookup[*fence](d, uint64(f))
	if !ok {
		return false, errors.Errorf("sim: unknown fence %d", f)
	}
	if dv, ok := lookup[*device](d, uint64(dev)); ok {
		d.drain(dv)
	}
	if fc.signaled {
		return true, nil
	}
	if timeout == vkhelper.InfiniteTimeout {
		return false, errors.Wrap(vk.Error(vk.ErrorDeviceLost), "fence can never be signaled")
	}
	return false, nil
}

func (d *Driver) CreateSemaphore(dev vkhelper.Device) (vkhelper.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateSemaphore", uint64(dev))
	if err := d.fault("CreateSemaphore"); err != nil {
		return 0, err
	}
	return vkhelper.Semaphore(d.add(&semaphore{owner: uint64(dev)})), nil
}

func (d *Driver) DestroySemaphore(dev vkhelper.Device, s vkhelper.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DestroySemaphore", uint64(s), kindSemaphore)
}

// Signal marks a semaphore signaled from outside the queue, standing in for another submission.
func (d *Driver) Signal(s vkhelper.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sem, ok := lookup[*semaphore](d, uint64(s)); ok {
		sem.signaled = true
	}
}

// Signaled reports whether a semaphore is currently signaled.
func (d *Driver) Signaled(s vkhelper.Semaphore) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := lookup[*semaphore](d, uint64(s))
	return ok && sem.signaled
}

func (d *Driver) QueueSubmit(q vkhelper.Queue, info vkhelper.SubmitInfo, f vkhelper.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("QueueSubmit", uint64(q))
	if err := d.fault("QueueSubmit"); err != nil {
		return err
	}
	qu, ok := lookup[*queue](d, uint64(q))
	if !ok {
		return errors.Errorf("sim: unknown queue %d", q)
	}
	if len(info.WaitDstStageMask) != len(info.WaitSemaphores) {
		return errors.Errorf("sim: %d stage masks for %d wait semaphores", len(info.WaitDstStageMask), len(info.WaitSemaphores))
	}
	sub := &submission{queue: uint64(q), fence: uint64(f)}
	for _, s := range info.WaitSemaphores {
		if _, ok := lookup[*semaphore](d, uint64(s)); !ok {
			return errors.Errorf("sim: unknown wait semaphore %d", s)
		}
		sub.waits = append(sub.waits, uint64(s))
	}
	for _, s := range info.SignalSemaphores {
		if _, ok := lookup[*semaphore](d, uint64(s)); !ok {
			return errors.Errorf("sim: unknown signal semaphore %d", s)
		}
		sub.signals = append(sub.signals, uint64(s))
	}
	for _, c := range info.CommandBuffers {
		cb, ok := lookup[*commandBuffer](d, uint64(c))
		if !ok {
			return errors.Errorf("sim: unknown command buffer %d", c)
		}
		if cb.state != cmdExecutable {
			d.violate("QueueSubmit: command buffer %d is %s", c, cb.state)
			return errors.Errorf("sim: command buffer %d is %s", c, cb.state)
		}
		if cb.pool.family != qu.family {
			d.violate("QueueSubmit: command buffer %d from family %d submitted to family %d", c, cb.pool.family, qu.family)
		}
		if err := d.validateCopies(cb); err != nil {
			return err
		}
		sub.cmds = append(sub.cmds, cb)
	}
	if f != 0 {
		fc, ok := lookup[*fence](d, uint64(f))
		if !ok {
			return errors.Errorf("sim: unknown fence %d", f)
		}
		if fc.signaled {
			d.violate("QueueSubmit: fence %d is already signaled", f)
		}
	}
	for _, cb := range sub.cmds {
		cb.state = cmdPending
	}
	dv, _ := lookup[*device](d, qu.owner)
	dv.pending = append(dv.pending, sub)
	d.drain(dv)
	return nil
}

func (d *Driver) validateCopies(cb *commandBuffer) error {
	for _, c := range cb.copies {
		src, ok := lookup[*buffer](d, c.src)
		if !ok || src.memory == 0 {
			return errors.Errorf("sim: copy source %d is not a bound buffer", c.src)
		}
		dst, ok := lookup[*buffer](d, c.dst)
		if !ok || dst.memory == 0 {
			return errors.Errorf("sim: copy destination %d is not a bound buffer", c.dst)
		}
		if c.region.SrcOffset+c.region.Size > src.size || c.region.DstOffset+c.region.Size > dst.size {
			return errors.Errorf("sim: copy of %d bytes out of range", c.region.Size)
		}
	}
	return nil
}

// drain runs every pending submission whose waits are satisfied, in queue order, until none can
// make progress.
func (d *Driver) drain(dv *device) {
	if d.hung {
		return
	}
	for progress := true; progress; {
		progress = false
		blocked := make(map[uint64]bool)
		for i := 0; i < len(dv.pending); i++ {
			sub := dv.pending[i]
			if blocked[sub.queue] || !d.ready(sub) {
				blocked[sub.queue] = true
				continue
			}
			d.execute(sub)
			dv.pending = append(dv.pending[:i], dv.pending[i+1:]...)
			i--
			progress = true
		}
	}
}

func (d *Driver) ready(sub *submission) bool {
	for _, h := range sub.waits {
		if s, ok := lookup[*semaphore](d, h); !ok || !s.signaled {
			return false
		}
	}
	return true
}

func (d *Driver) execute(sub *submission) {
	for _, h := range sub.waits {
		if s, ok := lookup[*semaphore](d, h); ok {
			s.signaled = false
		}
	}
	for _, cb := range sub.cmds {
		for _, c := range cb.copies {
			src, _ := lookup[*buffer](d, c.src)
			dst, _ := lookup[*buffer](d, c.dst)
			srcMem, _ := lookup[*memory](d, src.memory)
			dstMem, _ := lookup[*memory](d, dst.memory)
			from := srcMem.deviceView()[src.offset+c.region.SrcOffset:]
			to := dstMem.deviceView()[dst.offset+c.region.DstOffset:]
			copy(to[:c.region.Size], from[:c.region.Size])
		}
	}
	for _, h := range sub.signals {
		if s, ok := lookup[*semaphore](d, h); ok {
			s.signaled = true
		}
	}
	d.retire(sub)
}

// retire returns command buffers to the executable or invalid state and signals the fence.
func (d *Driver) retire(sub *submission) {
	for _, cb := range sub.cmds {
		if cb.oneTime {
			cb.state = cmdInvalid
		} else {
			cb.state = cmdExecutable
		}
	}
	if fc, ok := lookup[*fence](d, sub.fence); ok {
		fc.signaled = true
	}
}
