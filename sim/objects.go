package sim

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
)

const (
	kindInstance       = "instance"
	kindPhysicalDevice = "physical device"
	kindMessenger      = "debug messenger"
	kindDevice         = "device"
	kindQueue          = "queue"
	kindCommandPool    = "command pool"
	kindCommandBuffer  = "command buffer"
	kindBuffer         = "buffer"
	kindMemory         = "device memory"
	kindFence          = "fence"
	kindSemaphore      = "semaphore"
)

type object interface {
	kind() string
	parent() uint64
}

type instance struct {
	info vkhelper.InstanceCreateInfo
	gpus []uint64
}

func (*instance) kind() string   { return kindInstance }
func (*instance) parent() uint64 { return 0 }

type physicalDevice struct {
	owner uint64
	spec  *DeviceSpec
}

func (*physicalDevice) kind() string     { return kindPhysicalDevice }
func (p *physicalDevice) parent() uint64 { return p.owner }

type messenger struct {
	owner    uint64
	callback vkhelper.DebugCallback
}

func (*messenger) kind() string     { return kindMessenger }
func (m *messenger) parent() uint64 { return m.owner }

type device struct {
	owner    uint64
	gpu      *physicalDevice
	families map[uint32]bool
	queues   map[[2]uint32]uint64
	pending  []*submission
}

func (*device) kind() string { return kindDevice }

// parent is the instance: a device must go before the instance it was created from.
func (dv *device) parent() uint64 { return dv.owner }

type queue struct {
	owner  uint64
	family uint32
}

func (*queue) kind() string     { return kindQueue }
func (q *queue) parent() uint64 { return q.owner }

type commandPool struct {
	owner  uint64
	family uint32
	flags  vk.CommandPoolCreateFlags
}

func (*commandPool) kind() string     { return kindCommandPool }
func (p *commandPool) parent() uint64 { return p.owner }

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
	cmdInvalid
)

func (s cmdState) String() string {
	switch s {
	case cmdInitial:
		return "initial"
	case cmdRecording:
		return "recording"
	case cmdExecutable:
		return "executable"
	case cmdPending:
		return "pending"
	default:
		return "invalid"
	}
}

type copyOp struct {
	src, dst uint64
	region   vkhelper.BufferCopy
}

type commandBuffer struct {
	owner   uint64
	pool    *commandPool
	level   vk.CommandBufferLevel
	state   cmdState
	oneTime bool
	copies  []copyOp
}

func (*commandBuffer) kind() string     { return kindCommandBuffer }
func (c *commandBuffer) parent() uint64 { return c.owner }

type buffer struct {
	owner  uint64
	size   uint64
	usage  vk.BufferUsageFlags
	memory uint64
	offset uint64
}

func (*buffer) kind() string     { return kindBuffer }
func (b *buffer) parent() uint64 { return b.owner }

type fence struct {
	owner    uint64
	signaled bool
}

func (*fence) kind() string     { return kindFence }
func (f *fence) parent() uint64 { return f.owner }

type semaphore struct {
	owner    uint64
	signaled bool
}

func (*semaphore) kind() string     { return kindSemaphore }
func (s *semaphore) parent() uint64 { return s.owner }

type submission struct {
	queue   uint64
	waits   []uint64
	signals []uint64
	cmds    []*commandBuffer
	fence   uint64
}
