package vkhelper

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FenceManager hands out one-shot fences: created unsignaled, signaled by one submission, waited on
// by the host and then released. Fences still outstanding are destroyed by Destroy.
// The manager is not thread-safe.
type FenceManager struct {
	driver  Driver
	device  Device
	metrics *Metrics
	fences  []Fence
}

func NewFenceManager(driver Driver, device Device, metrics *Metrics) *FenceManager {
	return &FenceManager{
		driver:  driver,
		device:  device,
		metrics: metrics,
	}
}

func (f *FenceManager) NewFence() (Fence, error) {
	fence, err := f.driver.CreateFence(f.device, false)
	if err != nil {
		return 0, newResourceError("fence", err)
	}
	f.fences = append(f.fences, fence)
	f.metrics.resourceCreated("fence")
	return fence, nil
}

// Wait blocks until the fence is signaled or the timeout expires. A timeout of zero or less waits
// forever. An expired wait returns ErrSyncTimeout and leaves the fence outstanding.
func (f *FenceManager) Wait(fence Fence, timeout time.Duration) error {
	ns := InfiniteTimeout
	if timeout > 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	start := time.Now()
	signaled, err := f.driver.WaitForFence(f.device, fence, ns)
	f.metrics.observeFenceWait(time.Since(start))
	if err != nil {
		return errors.Wrap(err, "wait for fence")
	}
	if !signaled {
		return errors.Wrapf(ErrSyncTimeout, "fence not signaled after %v", timeout)
	}
	return nil
}

// Release destroys a fence handed out by NewFence.
func (f *FenceManager) Release(fence Fence) {
	for i := range f.fences {
		if f.fences[i] == fence {
			f.driver.DestroyFence(f.device, fence)
			f.metrics.resourceReleased("fence")
			f.fences = append(f.fences[:i], f.fences[i+1:]...)
			return
		}
	}
}

func (f *FenceManager) ActiveFences() []Fence {
	return f.fences
}

// Destroy releases every outstanding fence. The device must be idle.
func (f *FenceManager) Destroy() {
	for len(f.fences) > 0 {
		f.Release(f.fences[len(f.fences)-1])
	}
}

// CommandBufferManager allocates command buffers from one pool and frees them back to it.
// The pool itself belongs to CommandPools. The manager is not thread-safe.
type CommandBufferManager struct {
	driver             Driver
	device             Device
	pool               CommandPool
	commandBufferLevel vk.CommandBufferLevel
	metrics            *Metrics
	buffers            []CommandBuffer
}

// NewCommandBufferManager creates a manager for pool; bufferLevel is either
// vk.CommandBufferLevelPrimary or vk.CommandBufferLevelSecondary.
func NewCommandBufferManager(driver Driver, device Device, pool CommandPool,
	bufferLevel vk.CommandBufferLevel, metrics *Metrics) *CommandBufferManager {
	return &CommandBufferManager{
		driver:             driver,
		device:             device,
		pool:               pool,
		commandBufferLevel: bufferLevel,
		metrics:            metrics,
	}
}

// NewCommandBuffer returns a freshly allocated command buffer in the initial state.
func (c *CommandBufferManager) NewCommandBuffer() (CommandBuffer, error) {
	cmd, err := c.driver.AllocateCommandBuffer(c.device, c.pool, c.commandBufferLevel)
	if err != nil {
		return 0, newResourceError("command buffer", err)
	}
	c.buffers = append(c.buffers, cmd)
	c.metrics.resourceCreated("command_buffer")
	return cmd, nil
}

func (c *CommandBufferManager) Free(cmd CommandBuffer) {
	for i := range c.buffers {
		if c.buffers[i] == cmd {
			c.driver.FreeCommandBuffer(c.device, c.pool, cmd)
			c.metrics.resourceReleased("command_buffer")
			c.buffers = append(c.buffers[:i], c.buffers[i+1:]...)
			return
		}
	}
}

func (c *CommandBufferManager) Pool() CommandPool {
	return c.pool
}

// Destroy frees every outstanding command buffer. No submission using them may be pending.
func (c *CommandBufferManager) Destroy() {
	for len(c.buffers) > 0 {
		c.Free(c.buffers[len(c.buffers)-1])
	}
}
