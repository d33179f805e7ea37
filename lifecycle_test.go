package vkhelper_test

import (
	"reflect"
	"testing"

	"github.com/andewx/vkhelper"
)

var destroyCalls = map[string]bool{
	"DestroyBuffer":         true,
	"FreeMemory":            true,
	"DestroySemaphore":      true,
	"DestroyFence":          true,
	"FreeCommandBuffer":     true,
	"DestroyCommandPool":    true,
	"DestroyDevice":         true,
	"DestroyDebugMessenger": true,
	"DestroyInstance":       true,
}

func TestCleanupReleasesInReverseOrder(t *testing.T) {
	h := initHarness(t, validationConfig())
	if _, err := h.ctx.CreateSemaphore(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctx.RunTransferTest(128); err != nil {
		t.Fatal(err)
	}

	wantPending := []string{
		"instance", "debug messenger", "logical device", "command pools",
		"command buffers", "fences", "semaphore", "host buffer", "device buffer",
	}
	if got := h.ctx.Releases(); !reflect.DeepEqual(got, wantPending) {
		t.Fatalf("Releases() = %v\nwant %v", got, wantPending)
	}

	mark := len(h.driver.Calls())
	h.ctx.Cleanup()

	var got []string
	for _, c := range h.driver.Calls()[mark:] {
		if destroyCalls[c.Name] {
			got = append(got, c.Name)
		}
	}
	want := []string{
		"DestroyBuffer", "FreeMemory", // device buffer
		"DestroyBuffer", "FreeMemory", // host buffer
		"DestroySemaphore",
		"DestroyCommandPool",
		"DestroyDevice",
		"DestroyDebugMessenger",
		"DestroyInstance",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("destroy order %v\nwant %v", got, want)
	}
	if first := h.driver.Calls()[mark].Name; first != "DeviceWaitIdle" {
		t.Fatalf("cleanup started with %s, want DeviceWaitIdle", first)
	}
	h.assertClean(t)
	if len(h.ctx.Releases()) != 0 {
		t.Fatalf("releases left: %v", h.ctx.Releases())
	}
}

func TestCleanupWithoutBuffers(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	h.ctx.Cleanup()

	for _, name := range []string{"DestroyBuffer", "FreeMemory", "DestroyFence", "FreeCommandBuffer"} {
		if n := h.driver.CallCount(name); n != 0 {
			t.Errorf("%s called %d times", name, n)
		}
	}
	h.assertClean(t)
	if h.ctx.Allocator() != nil {
		t.Fatal("allocator kept after cleanup")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	h.ctx.Cleanup()
	calls := len(h.driver.Calls())
	h.ctx.Cleanup()
	if n := len(h.driver.Calls()); n != calls {
		t.Fatalf("second Cleanup made %d driver calls", n-calls)
	}
	if n := h.driver.CallCount("DestroyInstance"); n != 1 {
		t.Fatalf("DestroyInstance called %d times", n)
	}
}

func TestCleanupBeforeInit(t *testing.T) {
	h := newHarness(t, vkhelper.DefaultConfig())
	h.ctx.Cleanup()
	if calls := h.driver.Calls(); len(calls) != 0 {
		t.Fatalf("unexpected driver calls: %v", calls)
	}
}
