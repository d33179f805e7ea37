package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunOnSimulator(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "metrics.prom")
	out, err := execute(t, "run", "--backend", "sim", "--validation", "--elements", "64", "--metrics-out", metrics)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "transfer ok: 64 elements on Simulated Discrete GPU") {
		t.Fatalf("unexpected output %q", out)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "vkhelper_transfer_bytes_total") {
		t.Fatalf("metrics file missing transfer bytes:\n%s", data)
	}
}

func TestRootDefaultsToRun(t *testing.T) {
	out, err := execute(t, "--backend", "sim")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "transfer ok: 1024 elements") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDevicesListsRatings(t *testing.T) {
	out, err := execute(t, "devices", "--backend", "sim")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	for _, want := range []string{"Simulated Integrated GPU", "Simulated Discrete GPU", "discrete", "SCORE"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProbe(t *testing.T) {
	out, err := execute(t, "probe", "--backend", "sim")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	for _, want := range []string{"VK_EXT_debug_report", "VK_LAYER_KHRONOS_validation", "validation supported: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunReportsDefaultedElements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkhelper.yaml")
	body := "backend: sim\nbuffer_elements: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "run", "--config", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "transfer ok: 1024 elements") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigFileAndInvalidFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vkhelper.toml")
	body := `
backend = "sim"
buffer_elements = 16

[[sim_devices]]
name = "Tiny"
type = "integrated"
max_compute_work_group_invocations = 64
heap_sizes_mb = [64]

[[sim_devices.queue_families]]
flags = ["compute", "transfer"]

[[sim_devices.memory_types]]
flags = ["device_local", "host_visible", "host_coherent"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "transfer ok: 16 elements on Tiny") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := execute(t, "--config", path, "--backend", "opencl"); err == nil {
		t.Fatal("expected invalid backend error")
	}
}
