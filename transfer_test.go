package vkhelper_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
	"github.com/andewx/vkhelper/sim"
)

func TestTransferRoundTrip(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())

	tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if tr.State() != vkhelper.TransferIdle || tr.Size() != 4*vkhelper.DefaultBufferElements {
		t.Fatalf("state %s size %d", tr.State(), tr.Size())
	}
	if err := tr.Run(); err != nil {
		t.Fatal(err)
	}
	if tr.State() != vkhelper.TransferComplete || tr.Err() != nil {
		t.Fatalf("state %s err %v", tr.State(), tr.Err())
	}
	if tr.HostBuffer().MemoryTypeIndex != 1 || tr.DeviceBuffer().MemoryTypeIndex != 0 {
		t.Fatalf("memory types: host %d device %d", tr.HostBuffer().MemoryTypeIndex, tr.DeviceBuffer().MemoryTypeIndex)
	}
	if !h.ctx.Status().BuffersAllocated {
		t.Fatal("BuffersAllocated not set")
	}

	got, err := tr.ReadBack()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != vkhelper.DefaultBufferElements {
		t.Fatalf("read back %d elements", len(got))
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Fatalf("element %d = %d", i, v)
		}
	}
	if n := h.driver.CallCount("FlushMappedMemoryRange"); n != 1 {
		t.Fatalf("host buffer flushed %d times", n)
	}

	h.ctx.Cleanup()
	h.assertClean(t)
	if h.ctx.Status().BuffersAllocated {
		t.Fatal("BuffersAllocated still set after cleanup")
	}
	if tr.HostData() != nil {
		t.Fatal("host data kept after cleanup")
	}
}

func TestRunTransferTest(t *testing.T) {
	tests := []struct {
		name     string
		devices  []sim.DeviceSpec
		elements uint32
	}{
		{name: "discrete", devices: sim.DefaultDevices(), elements: 1024},
		{name: "integrated coherent", devices: []sim.DeviceSpec{sim.IntegratedGPU("iGPU")}, elements: 1024},
		{name: "single element", devices: sim.DefaultDevices(), elements: 1},
		{name: "unaligned size", devices: sim.DefaultDevices(), elements: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := initHarness(t, validationConfig(), sim.WithDevices(tt.devices...))
			if err := h.ctx.RunTransferTest(tt.elements); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(h.logs.String(), "Transfer test passed") {
				t.Fatalf("missing pass message:\n%s", h.logs.String())
			}
			h.ctx.Cleanup()
			h.assertClean(t)
		})
	}
}

func TestTransferOutOfOrder(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{Elements: 16})
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"CreateDeviceBuffer", tr.CreateDeviceBuffer},
		{"RecordCopy", tr.RecordCopy},
		{"Submit", tr.Submit},
		{"Wait", tr.Wait},
		{"ReadBack", func() error { _, err := tr.ReadBack(); return err }},
	}
	for _, step := range steps {
		if err := step.fn(); !errors.Is(err, vkhelper.ErrInvalidState) {
			t.Fatalf("%s from idle = %v", step.name, err)
		}
	}
	if tr.State() != vkhelper.TransferIdle {
		t.Fatalf("state moved to %s", tr.State())
	}

	if err := tr.CreateHostBuffer(); err != nil {
		t.Fatal(err)
	}
	if err := tr.CreateHostBuffer(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("second CreateHostBuffer = %v", err)
	}
	if err := tr.CreateDeviceBuffer(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Submit(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("Submit before RecordCopy = %v", err)
	}
	if err := tr.RecordCopy(); err != nil {
		t.Fatal(err)
	}
	if tr.State() != vkhelper.TransferCopyRecorded {
		t.Fatalf("state %s", tr.State())
	}
	if err := tr.Run(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(); err != nil {
		t.Fatalf("Run on a complete transfer = %v", err)
	}
}

func TestTransferTimeout(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig(), sim.WithHungQueues())
	tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{Elements: 64, Timeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	err = tr.Run()
	if !errors.Is(err, vkhelper.ErrSyncTimeout) {
		t.Fatalf("Run = %v, want ErrSyncTimeout", err)
	}
	if tr.State() != vkhelper.TransferSubmitted || !errors.Is(tr.Err(), vkhelper.ErrSyncTimeout) {
		t.Fatalf("state %s err %v", tr.State(), tr.Err())
	}
	if _, err := tr.ReadBack(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("ReadBack = %v", err)
	}
	if err := tr.Wait(); !errors.Is(err, vkhelper.ErrSyncTimeout) {
		t.Fatalf("second Wait = %v", err)
	}

	// The fence and command buffer stay alive until Cleanup, which must not free them under the GPU.
	live := h.driver.Live()
	if live["fence"] != 1 || live["command buffer"] != 1 {
		t.Fatalf("live = %v", live)
	}
	h.ctx.Cleanup()
	h.assertClean(t)
	if !strings.Contains(h.logs.String(), "Device did not go idle before cleanup") {
		t.Fatalf("missing idle warning:\n%s", h.logs.String())
	}
}

func TestTransferAfterCleanup(t *testing.T) {
	tests := []struct {
		name    string
		options []sim.Option
		prepare func(t *testing.T, tr *vkhelper.Transfer)
		call    func(tr *vkhelper.Transfer) error
	}{
		{
			name:    "run idle",
			prepare: func(*testing.T, *vkhelper.Transfer) {},
			call:    (*vkhelper.Transfer).Run,
		},
		{
			name: "read back complete",
			prepare: func(t *testing.T, tr *vkhelper.Transfer) {
				if err := tr.Run(); err != nil {
					t.Fatal(err)
				}
			},
			call: func(tr *vkhelper.Transfer) error {
				_, err := tr.ReadBack()
				return err
			},
		},
		{
			name:    "wait timed out",
			options: []sim.Option{sim.WithHungQueues()},
			prepare: func(t *testing.T, tr *vkhelper.Transfer) {
				if err := tr.Run(); !errors.Is(err, vkhelper.ErrSyncTimeout) {
					t.Fatalf("Run = %v, want ErrSyncTimeout", err)
				}
			},
			call: (*vkhelper.Transfer).Wait,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := initHarness(t, vkhelper.DefaultConfig(), tt.options...)
			tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{Elements: 64, Timeout: 5 * time.Millisecond})
			if err != nil {
				t.Fatal(err)
			}
			tt.prepare(t, tr)
			h.ctx.Cleanup()

			if err := tt.call(tr); !errors.Is(err, vkhelper.ErrInvalidState) {
				t.Fatalf("got %v, want ErrInvalidState", err)
			}
			h.assertClean(t)
		})
	}
}

func TestTransferWaitsOnSemaphore(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	wait, err := h.ctx.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	done, err := h.ctx.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{
		Elements:         32,
		WaitSemaphores:   []vkhelper.Semaphore{wait},
		SignalSemaphores: []vkhelper.Semaphore{done},
		Timeout:          5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Run(); !errors.Is(err, vkhelper.ErrSyncTimeout) {
		t.Fatalf("Run before the semaphore is signaled = %v", err)
	}
	if h.driver.Signaled(done) {
		t.Fatal("signal semaphore set before the copy ran")
	}

	h.driver.Signal(wait)
	if err := tr.Wait(); err != nil {
		t.Fatal(err)
	}
	if tr.State() != vkhelper.TransferComplete || !h.driver.Signaled(done) {
		t.Fatalf("state %s, done signaled %v", tr.State(), h.driver.Signaled(done))
	}
	got, err := tr.ReadBack()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 32 || got[31] != 31 {
		t.Fatalf("read back %v", got)
	}

	h.ctx.Cleanup()
	h.assertClean(t)
}

func TestTransferFailures(t *testing.T) {
	tests := []struct {
		call  string
		state vkhelper.TransferState
	}{
		{call: "AllocateMemory"},
		{call: "FlushMappedMemoryRange"},
		{call: "BeginCommandBuffer"},
		{call: "EndCommandBuffer"},
		{call: "CreateFence"},
		{call: "QueueSubmit"},
		{call: "WaitForFence"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			h := initHarness(t, vkhelper.DefaultConfig())
			tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{Elements: 8})
			if err != nil {
				t.Fatal(err)
			}
			h.driver.FailOn(tt.call, nil)

			if err := tr.Run(); err == nil {
				t.Fatal("expected Run to fail")
			}
			if tr.State() != vkhelper.TransferFailed || tr.Err() == nil {
				t.Fatalf("state %s err %v", tr.State(), tr.Err())
			}
			if err := tr.Run(); !errors.Is(err, vkhelper.ErrInvalidState) {
				t.Fatalf("Run after failure = %v", err)
			}
			h.ctx.Cleanup()
			h.assertClean(t)
		})
	}
}

func TestNewTransferOptions(t *testing.T) {
	cfg := vkhelper.DefaultConfig()
	cfg.BufferElements = 8
	h := initHarness(t, cfg)

	tr, err := h.ctx.NewTransfer(vkhelper.TransferOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Size() != 32 {
		t.Fatalf("size = %d", tr.Size())
	}

	sem, err := h.ctx.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.ctx.NewTransfer(vkhelper.TransferOptions{
		WaitSemaphores: []vkhelper.Semaphore{sem},
		WaitStages: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		},
	})
	if err == nil {
		t.Fatal("expected a stage count mismatch error")
	}

	fresh := newHarness(t, cfg)
	if _, err := fresh.ctx.NewTransfer(vkhelper.TransferOptions{}); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("NewTransfer before Init = %v", err)
	}
}

func TestSeveralTransfersShareContext(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	for _, n := range []uint32{16, 256, 1024} {
		if err := h.ctx.RunTransferTest(n); err != nil {
			t.Fatalf("%d elements: %v", n, err)
		}
	}
	if live := h.driver.Live()["buffer"]; live != 6 {
		t.Fatalf("live buffers = %d, want 6", live)
	}
	h.ctx.Cleanup()
	h.assertClean(t)
}
