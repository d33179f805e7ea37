package vkhelper

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// TransferState is the position of a Transfer in its pipeline.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferHostBufferReady
	TransferDeviceBufferReady
	TransferCopyRecorded
	TransferSubmitted
	TransferComplete
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "idle"
	case TransferHostBufferReady:
		return "host-buffer-ready"
	case TransferDeviceBufferReady:
		return "device-buffer-ready"
	case TransferCopyRecorded:
		return "copy-recorded"
	case TransferSubmitted:
		return "submitted"
	case TransferComplete:
		return "complete"
	case TransferFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// TransferOptions configures one host to device transfer.
type TransferOptions struct {
	// Elements is the number of uint32 values moved. Zero uses Config.BufferElements.
	Elements uint32

	// WaitSemaphores are waited on by the submission, each at the matching WaitStages entry.
	// Without WaitStages every wait happens at the transfer stage.
	WaitSemaphores []Semaphore
	WaitStages     []vk.PipelineStageFlags
	// SignalSemaphores are signaled when the copy completes.
	SignalSemaphores []Semaphore

	// Timeout overrides Config.FenceTimeout when non-zero. A negative value waits forever.
	Timeout time.Duration
}

// Transfer copies a host-visible staging buffer into a device-local buffer. Each step runs once,
// in order; a step called out of order returns ErrInvalidState.
type Transfer struct {
	ctx     *Context
	opts    TransferOptions
	timeout time.Duration
	size    uint64

	state    TransferState
	err      error
	hostData []uint32
	host     *BufferPair
	device   *BufferPair
	cmd      CommandBuffer
	fence    Fence
}

// NewTransfer prepares a transfer on an initialized context.
func (c *Context) NewTransfer(opts TransferOptions) (*Transfer, error) {
	if !c.ready {
		return nil, errors.Wrap(ErrInvalidState, "context not initialized")
	}
	if opts.Elements == 0 {
		opts.Elements = c.cfg.BufferElements
	}
	if len(opts.WaitStages) == 0 && len(opts.WaitSemaphores) > 0 {
		opts.WaitStages = make([]vk.PipelineStageFlags, len(opts.WaitSemaphores))
		for i := range opts.WaitStages {
			opts.WaitStages[i] = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		}
	}
	if len(opts.WaitStages) != len(opts.WaitSemaphores) {
		return nil, errors.Errorf("%d wait stages given for %d wait semaphores",
			len(opts.WaitStages), len(opts.WaitSemaphores))
	}
	timeout := c.cfg.FenceTimeout
	if opts.Timeout != 0 {
		timeout = opts.Timeout
	}
	t := &Transfer{
		ctx:     c,
		opts:    opts,
		timeout: timeout,
		size:    uint64(opts.Elements) * 4,
	}
	c.transfers = append(c.transfers, t)
	return t, nil
}

func (t *Transfer) State() TransferState {
	return t.state
}

// Err returns the error that moved the transfer to TransferFailed or left it TransferSubmitted.
func (t *Transfer) Err() error {
	return t.err
}

// Size is the byte size of both buffers.
func (t *Transfer) Size() uint64 {
	return t.size
}

// HostData returns the values written to the staging buffer.
func (t *Transfer) HostData() []uint32 {
	return t.hostData
}

func (t *Transfer) HostBuffer() *BufferPair {
	return t.host
}

func (t *Transfer) DeviceBuffer() *BufferPair {
	return t.device
}

func (t *Transfer) expect(state TransferState, step string) error {
	if !t.ctx.ready {
		return errors.Wrapf(ErrInvalidState, "%s after context cleanup", step)
	}
	if t.state != state {
		return errors.Wrapf(ErrInvalidState, "%s in state %s", step, t.state)
	}
	return nil
}

func (t *Transfer) fail(err error) error {
	t.state = TransferFailed
	t.err = err
	t.ctx.metrics.transferDone("failed")
	t.ctx.log.Error("Transfer failed: %v", err)
	return err
}

// CreateHostBuffer fills a host-visible staging buffer with 0..N-1 and flushes it.
func (t *Transfer) CreateHostBuffer() error {
	if err := t.expect(TransferIdle, "create host buffer"); err != nil {
		return err
	}
	c := t.ctx
	t.hostData = make([]uint32, t.opts.Elements)
	for i := range t.hostData {
		t.hostData[i] = uint32(i)
	}

	alloc := c.allocator
	pair, err := alloc.CreateBuffer(
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit),
		t.size, wordsToBytes(t.hostData))
	if err != nil {
		return t.fail(errors.Wrap(err, "host buffer"))
	}
	t.host = pair
	c.releases.push("host buffer", func() {
		alloc.DestroyBuffer(pair)
	})

	if err := alloc.Flush(pair); err != nil {
		return t.fail(err)
	}
	t.state = TransferHostBufferReady
	return nil
}

// CreateDeviceBuffer creates the device-local destination buffer.
func (t *Transfer) CreateDeviceBuffer() error {
	if err := t.expect(TransferHostBufferReady, "create device buffer"); err != nil {
		return err
	}
	c := t.ctx
	alloc := c.allocator
	pair, err := alloc.CreateBuffer(
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		t.size, nil)
	if err != nil {
		return t.fail(errors.Wrap(err, "device buffer"))
	}
	t.device = pair
	c.status.BuffersAllocated = true
	c.releases.push("device buffer", func() {
		alloc.DestroyBuffer(pair)
		c.status.BuffersAllocated = false
	})
	t.state = TransferDeviceBufferReady
	return nil
}

// record allocates a primary command buffer holding a single full size copy from src to dst.
func (t *Transfer) record(src, dst Buffer) (CommandBuffer, error) {
	c := t.ctx
	cmd, err := c.commands.NewCommandBuffer()
	if err != nil {
		return 0, err
	}
	err = c.driver.BeginCommandBuffer(cmd, vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit))
	if err != nil {
		return cmd, errors.Wrap(err, "begin command buffer")
	}
	c.driver.CmdCopyBuffer(cmd, src, dst, []BufferCopy{{Size: t.size}})
	if err := c.driver.EndCommandBuffer(cmd); err != nil {
		return cmd, errors.Wrap(err, "end command buffer")
	}
	return cmd, nil
}

// RecordCopy records the host to device copy.
func (t *Transfer) RecordCopy() error {
	if err := t.expect(TransferDeviceBufferReady, "record copy"); err != nil {
		return err
	}
	cmd, err := t.record(t.host.Buffer, t.device.Buffer)
	t.cmd = cmd
	if err != nil {
		return t.fail(err)
	}
	t.state = TransferCopyRecorded
	return nil
}

// Submit hands the recorded copy to the transfer queue together with a fresh fence.
func (t *Transfer) Submit() error {
	if err := t.expect(TransferCopyRecorded, "submit"); err != nil {
		return err
	}
	c := t.ctx
	fence, err := c.fences.NewFence()
	if err != nil {
		return t.fail(err)
	}
	t.fence = fence
	err = c.driver.QueueSubmit(c.transferQueue, SubmitInfo{
		WaitSemaphores:   t.opts.WaitSemaphores,
		WaitDstStageMask: t.opts.WaitStages,
		CommandBuffers:   []CommandBuffer{t.cmd},
		SignalSemaphores: t.opts.SignalSemaphores,
	}, fence)
	if err != nil {
		return t.fail(errors.Wrap(err, "queue submit"))
	}
	t.state = TransferSubmitted
	return nil
}

// Wait blocks on the submission fence. When the timeout expires it returns ErrSyncTimeout and the
// transfer stays submitted with its fence and command buffer alive; Cleanup reclaims them.
func (t *Transfer) Wait() error {
	if err := t.expect(TransferSubmitted, "wait"); err != nil {
		return err
	}
	c := t.ctx
	if err := c.fences.Wait(t.fence, t.timeout); err != nil {
		if errors.Is(err, ErrSyncTimeout) {
			t.err = err
			c.metrics.transferDone("timeout")
			c.log.Warning("Transfer still running: %v", err)
			return err
		}
		return t.fail(err)
	}
	c.fences.Release(t.fence)
	c.commands.Free(t.cmd)
	t.fence, t.cmd = 0, 0
	t.err = nil
	t.state = TransferComplete
	c.metrics.addBytes(t.size)
	c.metrics.transferDone("ok")
	c.log.Debug("Transferred %d bytes to the device", t.size)
	return nil
}

// Run executes every remaining step in order.
func (t *Transfer) Run() error {
	steps := []struct {
		from TransferState
		fn   func() error
	}{
		{TransferIdle, t.CreateHostBuffer},
		{TransferHostBufferReady, t.CreateDeviceBuffer},
		{TransferDeviceBufferReady, t.RecordCopy},
		{TransferCopyRecorded, t.Submit},
		{TransferSubmitted, t.Wait},
	}
	for _, step := range steps {
		if t.state != step.from {
			continue
		}
		if err := step.fn(); err != nil {
			return err
		}
	}
	if t.state != TransferComplete {
		return errors.Wrapf(ErrInvalidState, "run ended in state %s", t.state)
	}
	return nil
}

// ReadBack copies the device buffer into the staging buffer and returns its contents. The transfer
// must be complete.
func (t *Transfer) ReadBack() ([]uint32, error) {
	if err := t.expect(TransferComplete, "read back"); err != nil {
		return nil, err
	}
	c := t.ctx
	cmd, err := t.record(t.device.Buffer, t.host.Buffer)
	if err != nil {
		c.commands.Free(cmd)
		return nil, err
	}

	fence, err := c.fences.NewFence()
	if err != nil {
		c.commands.Free(cmd)
		return nil, err
	}
	err = c.driver.QueueSubmit(c.transferQueue, SubmitInfo{CommandBuffers: []CommandBuffer{cmd}}, fence)
	if err != nil {
		c.fences.Release(fence)
		c.commands.Free(cmd)
		return nil, errors.Wrap(err, "queue submit")
	}
	if err := c.fences.Wait(fence, t.timeout); err != nil {
		// fence and cmd may still be in use, Cleanup reclaims them
		return nil, err
	}
	c.fences.Release(fence)
	c.commands.Free(cmd)
	c.metrics.addBytes(t.size)

	raw, err := c.allocator.Read(t.host)
	if err != nil {
		return nil, err
	}
	return bytesToWords(raw), nil
}

// RunTransferTest moves n elements to the device, reads them back and checks that they match.
// Zero uses Config.BufferElements.
func (c *Context) RunTransferTest(n uint32) error {
	t, err := c.NewTransfer(TransferOptions{Elements: n})
	if err != nil {
		return err
	}
	if err := t.Run(); err != nil {
		return err
	}
	got, err := t.ReadBack()
	if err != nil {
		return err
	}
	want := t.HostData()
	if len(got) != len(want) {
		return errors.Errorf("read back %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return errors.Errorf("element %d read back as %d, want %d", i, got[i], want[i])
		}
	}
	c.log.Message("Transfer test passed: %d elements round-tripped", len(want))
	return nil
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func bytesToWords(raw []byte) []uint32 {
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}
