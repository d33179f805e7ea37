package vkhelper_test

import (
	"bytes"
	"errors"
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkhelper"
	"github.com/andewx/vkhelper/sim"
)

var (
	memDeviceLocal  = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	memHostVisible  = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	memHostCoherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	memHostCached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)

	usageTransfer = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
)

func TestFindMemoryType(t *testing.T) {
	props := vkhelper.MemoryProperties{
		Types: []vkhelper.MemoryType{
			{PropertyFlags: memDeviceLocal},
			{PropertyFlags: memHostVisible | memHostCached, HeapIndex: 1},
			{PropertyFlags: memHostVisible | memHostCoherent, HeapIndex: 1},
		},
	}
	tests := []struct {
		name     string
		props    vkhelper.MemoryProperties
		bits     uint32
		required vk.MemoryPropertyFlags
		want     uint32
		err      bool
	}{
		{name: "device local", props: props, bits: 0b111, required: memDeviceLocal, want: 0},
		{name: "lowest host visible", props: props, bits: 0b111, required: memHostVisible, want: 1},
		{name: "superset match", props: props, bits: 0b111, required: memHostVisible | memHostCoherent, want: 2},
		{name: "type bits filter", props: props, bits: 0b100, required: memHostVisible, want: 2},
		{name: "no flags required", props: props, bits: 0b110, required: 0, want: 1},
		{name: "filtered out", props: props, bits: 0b001, required: memHostVisible, err: true},
		{name: "flags missing", props: props, bits: 0b111, required: memDeviceLocal | memHostVisible, err: true},
		{name: "no types", bits: ^uint32(0), required: memDeviceLocal, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vkhelper.FindMemoryType(tt.props, tt.bits, tt.required)
			if tt.err {
				if !errors.Is(err, vkhelper.ErrNoCompatibleMemoryType) {
					t.Fatalf("err = %v, want ErrNoCompatibleMemoryType", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("FindMemoryType = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAllocatorNonCoherentBuffer(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	alloc := h.ctx.Allocator()
	data := []byte("sixteen bytes!!!")

	pair, err := alloc.CreateBuffer(usageTransfer, memHostVisible, uint64(len(data)), data)
	if err != nil {
		t.Fatal(err)
	}
	if pair.MemoryTypeIndex != 1 || pair.HostCoherent() {
		t.Fatalf("pair = %+v, want the cached non-coherent type", pair)
	}
	if pair.Size != 16 || pair.AllocationSize != 256 {
		t.Fatalf("size %d allocation %d", pair.Size, pair.AllocationSize)
	}

	// Until flushed the device copy is still zero, and invalidating pulls it back over the host view.
	got, err := alloc.Read(pair)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, 16)) {
		t.Fatalf("unflushed read = %q", got)
	}

	if _, err := alloc.CreateBuffer(usageTransfer, memHostVisible, 4, data); err == nil {
		t.Fatal("expected oversized initial data to be rejected")
	}

	pair2, err := alloc.CreateBuffer(usageTransfer, memHostVisible, uint64(len(data)), data)
	if err != nil {
		t.Fatal(err)
	}
	if err := alloc.Flush(pair2); err != nil {
		t.Fatal(err)
	}
	got, err = alloc.Read(pair2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("flushed read = %q", got)
	}

	alloc.DestroyBuffer(pair)
	alloc.DestroyBuffer(pair2)
	alloc.DestroyBuffer(nil)
	if pair.Buffer != 0 || pair.Memory != 0 {
		t.Fatalf("pair not reset: %+v", pair)
	}
	if live := h.driver.Live(); live["buffer"] != 0 || live["device memory"] != 0 {
		t.Fatalf("live after destroy: %v", live)
	}
}

func TestAllocatorCleansUpOnFailure(t *testing.T) {
	for _, call := range []string{"CreateBuffer", "AllocateMemory", "MapMemory", "BindBufferMemory"} {
		t.Run(call, func(t *testing.T) {
			h := initHarness(t, vkhelper.DefaultConfig())
			before := h.driver.Live()
			h.driver.FailOn(call, nil)

			_, err := h.ctx.Allocator().CreateBuffer(usageTransfer, memHostVisible, 64, []byte{1, 2, 3, 4})
			if err == nil {
				t.Fatal("expected an error")
			}
			after := h.driver.Live()
			if after["buffer"] != before["buffer"] || after["device memory"] != before["device memory"] {
				t.Fatalf("leaked objects: before %v after %v", before, after)
			}
			if v := h.driver.Violations(); len(v) > 0 {
				t.Fatalf("violations: %v", v)
			}
		})
	}
}

func TestAllocatorNoCompatibleType(t *testing.T) {
	spec := sim.DiscreteGPU("No Host Memory")
	spec.MemoryTypeBits = 0b001
	h := initHarness(t, vkhelper.DefaultConfig(), sim.WithDevices(spec))

	_, err := h.ctx.Allocator().CreateBuffer(usageTransfer, memHostVisible, 64, nil)
	if !errors.Is(err, vkhelper.ErrNoCompatibleMemoryType) {
		t.Fatalf("err = %v", err)
	}
	if n := h.driver.CallCount("AllocateMemory"); n != 0 {
		t.Fatalf("AllocateMemory called %d times", n)
	}
	if live := h.driver.Live(); live["buffer"] != 0 {
		t.Fatalf("buffer leaked: %v", live)
	}
}
