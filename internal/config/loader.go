package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"gopkg.in/yaml.v3"

	"github.com/andewx/vkhelper"
	"github.com/andewx/vkhelper/sim"
)

const (
	BackendVulkan = "vulkan"
	BackendSim    = "sim"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Duration is a time.Duration written as a Go duration string ("250ms", "2s"). "0" means no limit.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// SimQueueFamily is a queue family of a simulated device, with named capabilities.
type SimQueueFamily struct {
	Flags []string `json:"flags" yaml:"flags" toml:"flags"`
	Count uint32   `json:"count" yaml:"count" toml:"count"`
}

// SimMemoryType is a memory type of a simulated device, with named properties.
type SimMemoryType struct {
	Flags []string `json:"flags" yaml:"flags" toml:"flags"`
	Heap  uint32   `json:"heap" yaml:"heap" toml:"heap"`
}

// SimDevice describes a simulated physical device.
type SimDevice struct {
	Name                           string           `json:"name" yaml:"name" toml:"name"`
	Type                           string           `json:"type" yaml:"type" toml:"type"`
	MaxComputeSharedMemorySize     uint32           `json:"max_compute_shared_memory_size" yaml:"max_compute_shared_memory_size" toml:"max_compute_shared_memory_size"`
	MaxComputeWorkGroupInvocations uint32           `json:"max_compute_work_group_invocations" yaml:"max_compute_work_group_invocations" toml:"max_compute_work_group_invocations"`
	QueueFamilies                  []SimQueueFamily `json:"queue_families" yaml:"queue_families" toml:"queue_families"`
	MemoryTypes                    []SimMemoryType  `json:"memory_types" yaml:"memory_types" toml:"memory_types"`
	HeapSizesMB                    []uint64         `json:"heap_sizes_mb" yaml:"heap_sizes_mb" toml:"heap_sizes_mb"`
	MemoryTypeBits                 uint32           `json:"memory_type_bits" yaml:"memory_type_bits" toml:"memory_type_bits"`
}

// Config holds every setting of the vkhelper command. Keys missing from a file keep their defaults.
type Config struct {
	AppName            string      `json:"app_name" yaml:"app_name" toml:"app_name"`
	EngineName         string      `json:"engine_name" yaml:"engine_name" toml:"engine_name"`
	APIVersion         string      `json:"api_version" yaml:"api_version" toml:"api_version"`
	EnableValidation   bool        `json:"enable_validation" yaml:"enable_validation" toml:"enable_validation"`
	ValidationLayers   []string    `json:"validation_layers" yaml:"validation_layers" toml:"validation_layers"`
	InstanceExtensions []string    `json:"instance_extensions" yaml:"instance_extensions" toml:"instance_extensions"`
	DeviceExtensions   []string    `json:"device_extensions" yaml:"device_extensions" toml:"device_extensions"`
	BufferElements     uint32      `json:"buffer_elements" yaml:"buffer_elements" toml:"buffer_elements"`
	FenceTimeout       Duration    `json:"fence_timeout" yaml:"fence_timeout" toml:"fence_timeout"`
	Backend            string      `json:"backend" yaml:"backend" toml:"backend"`
	Loader             string      `json:"loader" yaml:"loader" toml:"loader"`
	LogLevel           string      `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat          string      `json:"log_format" yaml:"log_format" toml:"log_format"`
	SimDevices         []SimDevice `json:"sim_devices" yaml:"sim_devices" toml:"sim_devices"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		AppName:            "vkhelper",
		EngineName:         "vkhelper",
		APIVersion:         "1.1",
		ValidationLayers:   []string{vkhelper.KhronosValidationLayer},
		InstanceExtensions: []string{vkhelper.DebugReportExtension},
		BufferElements:     vkhelper.DefaultBufferElements,
		Backend:            BackendVulkan,
		Loader:             "default",
		LogLevel:           "info",
		LogFormat:          LogFormatConsole,
	}
}

// Load reads a configuration file on top of Default, picking the decoder by extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, errors.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// ParseAPIVersion turns "major.minor" or "major.minor.patch" into a packed Vulkan version.
func ParseAPIVersion(s string) (uint32, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Errorf("api version %q is not major.minor[.patch]", s)
	}
	nums := []int{0, 0, 0}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errors.Errorf("api version %q: bad component %q", s, p)
		}
		nums[i] = n
	}
	return uint32(vk.MakeVersion(nums[0], nums[1], nums[2])), nil
}

// Validate checks values the decoders cannot.
func (c Config) Validate() error {
	if _, err := ParseAPIVersion(c.APIVersion); err != nil {
		return err
	}
	switch c.Backend {
	case BackendVulkan, BackendSim:
	default:
		return errors.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendVulkan, BackendSim)
	}
	switch c.Loader {
	case "", "default", "glfw":
	default:
		return errors.Errorf("unknown loader %q (want default or glfw)", c.Loader)
	}
	switch c.LogFormat {
	case "", LogFormatConsole, LogFormatJSON:
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.FenceTimeout < 0 {
		return errors.New("fence_timeout must not be negative")
	}
	if _, err := c.Devices(); err != nil {
		return err
	}
	return nil
}

// HelperConfig converts the file settings into a vkhelper.Config.
func (c Config) HelperConfig() (vkhelper.Config, error) {
	api, err := ParseAPIVersion(c.APIVersion)
	if err != nil {
		return vkhelper.Config{}, err
	}
	h := vkhelper.DefaultConfig()
	h.AppName = c.AppName
	h.EngineName = c.EngineName
	h.APIVersion = api
	h.EnableValidation = c.EnableValidation
	h.ValidationLayers = c.ValidationLayers
	h.InstanceExtensions = c.InstanceExtensions
	h.DeviceExtensions = c.DeviceExtensions
	h.BufferElements = c.BufferElements
	h.FenceTimeout = time.Duration(c.FenceTimeout)
	return h, nil
}

// Devices builds the simulated devices. With none configured it returns sim.DefaultDevices.
func (c Config) Devices() ([]sim.DeviceSpec, error) {
	if len(c.SimDevices) == 0 {
		return sim.DefaultDevices(), nil
	}
	out := make([]sim.DeviceSpec, 0, len(c.SimDevices))
	for i, sd := range c.SimDevices {
		spec, err := sd.spec()
		if err != nil {
			return nil, errors.Wrapf(err, "sim_devices[%d]", i)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (sd SimDevice) spec() (sim.DeviceSpec, error) {
	typ, err := sim.ParseDeviceType(sd.Type)
	if err != nil {
		return sim.DeviceSpec{}, err
	}
	spec := sim.DeviceSpec{
		Name:       sd.Name,
		Type:       typ,
		APIVersion: vkhelper.DefaultAPIVersion,
		Limits: vkhelper.DeviceLimits{
			MaxComputeSharedMemorySize:     sd.MaxComputeSharedMemorySize,
			MaxComputeWorkGroupInvocations: sd.MaxComputeWorkGroupInvocations,
		},
		MemoryTypeBits: sd.MemoryTypeBits,
	}
	for _, qf := range sd.QueueFamilies {
		flags, err := sim.ParseQueueFlags(qf.Flags)
		if err != nil {
			return sim.DeviceSpec{}, err
		}
		count := qf.Count
		if count == 0 {
			count = 1
		}
		spec.QueueFamilies = append(spec.QueueFamilies, vkhelper.QueueFamilyProperties{Flags: flags, QueueCount: count})
	}
	heaps := uint32(0)
	for _, mt := range sd.MemoryTypes {
		flags, err := sim.ParseMemoryFlags(mt.Flags)
		if err != nil {
			return sim.DeviceSpec{}, err
		}
		spec.MemoryTypes = append(spec.MemoryTypes, vkhelper.MemoryType{PropertyFlags: flags, HeapIndex: mt.Heap})
		if mt.Heap+1 > heaps {
			heaps = mt.Heap + 1
		}
	}
	for i := uint32(0); i < heaps; i++ {
		var size uint64
		if int(i) < len(sd.HeapSizesMB) {
			size = sd.HeapSizesMB[i] << 20
		}
		spec.MemoryHeaps = append(spec.MemoryHeaps, vkhelper.MemoryHeap{Size: size})
	}
	return spec, nil
}
