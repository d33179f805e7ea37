package vkhelper_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andewx/vkhelper"
	"github.com/andewx/vkhelper/sim"
)

type harness struct {
	driver  *sim.Driver
	ctx     *vkhelper.Context
	logs    *bytes.Buffer
	metrics *vkhelper.Metrics
	reg     *prometheus.Registry
}

// newHarness builds a context on a simulated driver without initializing it.
func newHarness(t *testing.T, cfg vkhelper.Config, opts ...sim.Option) *harness {
	t.Helper()
	h := &harness{
		driver: sim.New(opts...),
		logs:   &bytes.Buffer{},
		reg:    prometheus.NewRegistry(),
	}
	h.metrics = vkhelper.NewMetrics(h.reg)
	h.ctx = vkhelper.New(h.driver, cfg,
		vkhelper.WithLogger(vkhelper.NewLogger(h.logs, "debug", false)),
		vkhelper.WithMetrics(h.metrics))
	return h
}

// initHarness returns an initialized context that is cleaned up when the test ends.
func initHarness(t *testing.T, cfg vkhelper.Config, opts ...sim.Option) *harness {
	t.Helper()
	h := newHarness(t, cfg, opts...)
	if err := h.ctx.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(h.ctx.Cleanup)
	return h
}

func (h *harness) assertClean(t *testing.T) {
	t.Helper()
	if v := h.driver.Violations(); len(v) > 0 {
		t.Errorf("driver violations:\n%s", strings.Join(v, "\n"))
	}
	if live := h.driver.Live(); len(live) > 0 {
		t.Errorf("objects left alive: %v", live)
	}
}

// liveResources reads the vkhelper_resources_live gauge for kind.
func (h *harness) liveResources(t *testing.T, kind string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "vkhelper_resources_live" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func validationConfig() vkhelper.Config {
	cfg := vkhelper.DefaultConfig()
	cfg.EnableValidation = true
	return cfg
}

func TestInitPicksDiscreteDevice(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())

	gpu := h.ctx.PhysicalDevice()
	if gpu.Properties.Name != "Simulated Discrete GPU" {
		t.Fatalf("selected %q", gpu.Properties.Name)
	}
	want := 1 + vkhelper.DiscreteGPUBonus + 48*1024
	if gpu.Score != want {
		t.Fatalf("score = %d, want %d", gpu.Score, want)
	}
	status := h.ctx.Status()
	if !status.SingleQueueFamily {
		t.Fatal("family 0 offers compute and transfer, expected a single family")
	}
	if h.ctx.ComputeQueue() == 0 || h.ctx.ComputeQueue() != h.ctx.TransferQueue() {
		t.Fatalf("queues: compute %d transfer %d", h.ctx.ComputeQueue(), h.ctx.TransferQueue())
	}
	if !h.ctx.CommandPools().Shared() {
		t.Fatal("expected one shared command pool")
	}
	if status.ValidationEnabled || status.DebugMessenger {
		t.Fatalf("validation was not requested: %+v", status)
	}
	if h.driver.CallCount("CreateDebugMessenger") != 0 {
		t.Fatal("debug messenger created without validation")
	}
}

func TestInitWithValidation(t *testing.T) {
	h := initHarness(t, validationConfig())

	status := h.ctx.Status()
	if !status.ValidationEnabled || !status.DebugMessenger {
		t.Fatalf("status = %+v", status)
	}
	// The sim reports device creation on the verbose channel once the messenger is installed.
	if !strings.Contains(h.logs.String(), "created device on Simulated Discrete GPU") {
		t.Fatalf("driver message not routed to the logger:\n%s", h.logs.String())
	}
}

func TestInitMissingValidationLayer(t *testing.T) {
	h := initHarness(t, validationConfig(), sim.WithLayers())

	status := h.ctx.Status()
	if status.ValidationEnabled || status.DebugMessenger {
		t.Fatalf("status = %+v", status)
	}
	if !strings.Contains(h.logs.String(), "Unsupported required validation layer: "+vkhelper.KhronosValidationLayer) {
		t.Fatalf("missing layer warning:\n%s", h.logs.String())
	}
}

func TestInitWithoutDebugEntryPoints(t *testing.T) {
	h := initHarness(t, validationConfig(), sim.WithoutDebugEntryPoints())

	status := h.ctx.Status()
	if !status.ValidationEnabled {
		t.Fatal("layers are present, validation should be on")
	}
	if status.DebugMessenger {
		t.Fatal("messenger reported without entry points")
	}
	if !strings.Contains(h.logs.String(), "Debug messenger extension not present") {
		t.Fatalf("missing warning:\n%s", h.logs.String())
	}
}

func TestInitWithoutDebugExtension(t *testing.T) {
	h := initHarness(t, validationConfig(), sim.WithInstanceExtensions())

	if h.ctx.Status().DebugMessenger {
		t.Fatal("messenger reported without the debug extension")
	}
	if n := h.driver.CallCount("CreateDebugMessenger"); n != 0 {
		t.Fatalf("CreateDebugMessenger called %d times", n)
	}
	if !strings.Contains(h.logs.String(), "Debug messenger unavailable") {
		t.Fatalf("missing warning:\n%s", h.logs.String())
	}
}

func TestInitDropsMissingInstanceExtension(t *testing.T) {
	cfg := vkhelper.DefaultConfig()
	cfg.InstanceExtensions = append(cfg.InstanceExtensions, "VK_KHR_made_up")
	h := initHarness(t, cfg)

	if !strings.Contains(h.logs.String(), "Instance extension VK_KHR_made_up is not available") {
		t.Fatalf("missing warning:\n%s", h.logs.String())
	}
	if strings.Contains(h.logs.String(), "Instance extension "+vkhelper.DebugReportExtension) {
		t.Fatal("available extension reported as missing")
	}
}

func TestInitSeparateQueueFamilies(t *testing.T) {
	spec := sim.DiscreteGPU("Split GPU")
	spec.QueueFamilies = []vkhelper.QueueFamilyProperties{
		{Flags: vkQueueCompute, QueueCount: 1},
		{Flags: vkQueueTransfer, QueueCount: 1},
	}
	h := initHarness(t, vkhelper.DefaultConfig(), sim.WithDevices(spec))

	if h.ctx.Status().SingleQueueFamily {
		t.Fatal("expected separate families")
	}
	if h.ctx.ComputeQueue() == h.ctx.TransferQueue() {
		t.Fatal("expected distinct queues")
	}
	pools := h.ctx.CommandPools()
	if pools.Shared() || pools.Compute == pools.Transfer {
		t.Fatalf("pools = %+v", pools)
	}
	if pools.Count() != 2 {
		t.Fatalf("pools.Count() = %d", pools.Count())
	}
	if n := h.liveResources(t, "command_pool"); n != 2 {
		t.Fatalf("live command pools = %v, want 2", n)
	}
	if err := h.ctx.RunTransferTest(64); err != nil {
		t.Fatal(err)
	}
	h.ctx.Cleanup()
	h.assertClean(t)
	if n := h.liveResources(t, "command_pool"); n != 0 {
		t.Fatalf("live command pools after cleanup = %v", n)
	}
	if n := h.driver.CallCount("DestroyCommandPool"); n != 2 {
		t.Fatalf("DestroyCommandPool called %d times, want 2", n)
	}
}

func noInvocations() sim.DeviceSpec {
	spec := sim.CPU("Broken CPU")
	spec.Limits.MaxComputeWorkGroupInvocations = 0
	return spec
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name string
		opts []sim.Option
		call string
		want error
	}{
		{name: "instance", call: "CreateInstance", want: vkhelper.ErrResourceCreationFailed},
		{name: "device", call: "CreateDevice", want: vkhelper.ErrResourceCreationFailed},
		{name: "pool", call: "CreateCommandPool", want: vkhelper.ErrResourceCreationFailed},
		{name: "no devices", opts: []sim.Option{sim.WithDevices()}, want: vkhelper.ErrNoSuitableDevice},
		{name: "no compute invocations", opts: []sim.Option{sim.WithDevices(noInvocations())}, want: vkhelper.ErrNoSuitableDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, vkhelper.DefaultConfig(), tt.opts...)
			if tt.call != "" {
				h.driver.FailOn(tt.call, nil)
			}
			err := h.ctx.Init()
			h.ctx.Cleanup()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Init error = %v, want %v", err, tt.want)
			}
			h.assertClean(t)
		})
	}
}

func TestInitTwice(t *testing.T) {
	h := initHarness(t, vkhelper.DefaultConfig())
	if err := h.ctx.Init(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("second Init = %v", err)
	}
	h.ctx.Cleanup()
	if err := h.ctx.Init(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("Init after Cleanup = %v", err)
	}
}

func TestResourceErrorNamesResource(t *testing.T) {
	h := newHarness(t, vkhelper.DefaultConfig())
	h.driver.FailOn("CreateDevice", nil)
	err := h.ctx.Init()
	defer h.ctx.Cleanup()

	var rerr *vkhelper.ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("error %v is not a ResourceError", err)
	}
	if rerr.Resource != "logical device" {
		t.Fatalf("resource = %q", rerr.Resource)
	}
	if !strings.Contains(err.Error(), "failed to create logical device") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestCreateSemaphoreNeedsInit(t *testing.T) {
	h := newHarness(t, vkhelper.DefaultConfig())
	if _, err := h.ctx.CreateSemaphore(); !errors.Is(err, vkhelper.ErrInvalidState) {
		t.Fatalf("CreateSemaphore = %v", err)
	}
}
