package vkhelper

import (
	"time"

	vk "github.com/vulkan-go/vulkan"
)

const (
	// KhronosValidationLayer is the validation layer requested when none are configured.
	KhronosValidationLayer = "VK_LAYER_KHRONOS_validation"
	// DebugReportExtension provides the debug messenger entry points.
	DebugReportExtension = "VK_EXT_debug_report"
	// DefaultBufferElements is the number of uint32 elements moved by the transfer test.
	DefaultBufferElements = 1024
)

var (
	DefaultAppVersion = uint32(vk.MakeVersion(1, 0, 0))
	DefaultAPIVersion = uint32(vk.MakeVersion(1, 1, 0))
)

// Config is what the caller asks for. It is copied by New and never changed afterwards.
type Config struct {
	AppName       string
	AppVersion    uint32
	EngineName    string
	EngineVersion uint32
	APIVersion    uint32

	// EnableValidation requests the validation layers and the debug messenger. Validation is only
	// turned on when every layer in ValidationLayers is available.
	EnableValidation bool
	ValidationLayers []string

	// InstanceExtensions missing from the driver are left out with a warning.
	InstanceExtensions []string
	DeviceExtensions   []string

	// FenceTimeout bounds every fence wait. Zero waits forever.
	FenceTimeout time.Duration
	// BufferElements is the default element count of a transfer.
	BufferElements uint32
}

// DefaultConfig returns a configuration for a compute helper with validation off.
func DefaultConfig() Config {
	return Config{
		AppName:            "vkhelper",
		AppVersion:         DefaultAppVersion,
		EngineName:         "vkhelper",
		EngineVersion:      DefaultAppVersion,
		APIVersion:         DefaultAPIVersion,
		ValidationLayers:   []string{KhronosValidationLayer},
		InstanceExtensions: []string{DebugReportExtension},
		BufferElements:     DefaultBufferElements,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	if c.AppVersion == 0 {
		c.AppVersion = d.AppVersion
	}
	if c.EngineName == "" {
		c.EngineName = d.EngineName
	}
	if c.EngineVersion == 0 {
		c.EngineVersion = d.EngineVersion
	}
	if c.APIVersion == 0 {
		c.APIVersion = d.APIVersion
	}
	if c.EnableValidation && len(c.ValidationLayers) == 0 {
		c.ValidationLayers = d.ValidationLayers
	}
	if c.BufferElements == 0 {
		c.BufferElements = d.BufferElements
	}
	c.ValidationLayers = append([]string(nil), c.ValidationLayers...)
	c.InstanceExtensions = append([]string(nil), c.InstanceExtensions...)
	c.DeviceExtensions = append([]string(nil), c.DeviceExtensions...)
	return c
}

// Status is what the helper found out while bootstrapping. Only the Context writes it.
type Status struct {
	// ValidationEnabled is set when validation was requested and all layers are present.
	ValidationEnabled bool
	// DebugMessenger is set once the debug callback is installed.
	DebugMessenger bool
	// SingleQueueFamily is set when compute and transfer share one queue family.
	SingleQueueFamily bool
	// BuffersAllocated is set once the device buffer of a transfer exists.
	BuffersAllocated bool
}
