package vkhelper

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Option customizes a Context built by New.
type Option func(*Context)

// WithLogger sets the logger. Without it the Context logs nothing.
func WithLogger(log *Logger) Option {
	return func(c *Context) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Context) {
		c.metrics = m
	}
}

// Context owns every GPU object the helper creates, from the instance down to the transfer buffers.
// It is driven from one goroutine and is not safe for concurrent use.
type Context struct {
	driver  Driver
	cfg     Config
	status  Status
	log     *Logger
	metrics *Metrics

	prober   *Prober
	selector *Selector

	instance      Instance
	messenger     DebugMessenger
	gpu           DeviceRating
	device        Device
	computeQueue  Queue
	transferQueue Queue
	pools         CommandPools

	fences    *FenceManager
	commands  *CommandBufferManager
	allocator *Allocator

	transfers []*Transfer
	releases  releaseStack
	ready     bool
	cleaned   bool
}

// New prepares a Context on driver. Nothing is created until Init.
func New(driver Driver, cfg Config, opts ...Option) *Context {
	c := &Context{
		driver: driver,
		cfg:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prober = NewProber(driver, c.log, c.cfg.ValidationLayers)
	c.selector = NewSelector(driver, c.prober, c.log, c.metrics)
	return c
}

// Init bootstraps the context: instance, debug messenger, physical device, logical device and
// command pools. On error the objects created so far stay owned by the context; call Cleanup.
func (c *Context) Init() error {
	if c.ready || c.cleaned {
		return errors.Wrap(ErrInvalidState, "context already initialized")
	}
	if err := c.createInstance(); err != nil {
		return err
	}
	c.initDebugMessenger()

	gpu, err := c.selector.SelectDevice(c.instance)
	if err != nil {
		return err
	}
	c.gpu = gpu
	if err := c.createLogicalDevice(gpu.Device, gpu.Queues); err != nil {
		return err
	}

	pools, err := CreateCommandPools(c.driver, c.device, gpu.Queues, c.status.SingleQueueFamily)
	if err != nil {
		return err
	}
	c.pools = pools
	for i := 0; i < pools.Count(); i++ {
		c.metrics.resourceCreated("command_pool")
	}
	c.releases.push("command pools", func() {
		n := c.pools.Count()
		c.pools.Destroy(c.driver, c.device)
		for i := 0; i < n; i++ {
			c.metrics.resourceReleased("command_pool")
		}
	})

	c.fences = NewFenceManager(c.driver, c.device, c.metrics)
	c.commands = NewCommandBufferManager(c.driver, c.device, c.pools.Transfer, vk.CommandBufferLevelPrimary, c.metrics)
	c.releases.push("command buffers", c.commands.Destroy)
	c.releases.push("fences", c.fences.Destroy)
	c.allocator = NewAllocator(c.driver, c.device, c.driver.MemoryProperties(gpu.Device), c.log, c.metrics)

	c.ready = true
	return nil
}

func (c *Context) createInstance() error {
	actual, _ := c.prober.InstanceExtensions()
	extensions := NewExtensions(c.cfg.InstanceExtensions, actual)
	_, missing := extensions.HasWanted()
	for _, name := range missing {
		c.log.Warning("Instance extension %s is not available", name)
	}
	enabled := extensions.Available()

	var layers []string
	if c.cfg.EnableValidation && c.prober.ValidationLayersSupported() {
		layers = c.prober.ValidationLayers()
		c.status.ValidationEnabled = true
	}
	c.log.Debug("Enabling %d instance extensions and %d layers", len(enabled), len(layers))

	instance, err := c.driver.CreateInstance(InstanceCreateInfo{
		Application: ApplicationInfo{
			AppName:       c.cfg.AppName,
			AppVersion:    c.cfg.AppVersion,
			EngineName:    c.cfg.EngineName,
			EngineVersion: c.cfg.EngineVersion,
			APIVersion:    c.cfg.APIVersion,
		},
		Extensions: enabled,
		Layers:     layers,
	})
	if err != nil {
		c.log.Error("Failed to create instance: %v", err)
		return newResourceError("instance", err)
	}
	c.instance = instance
	c.metrics.resourceCreated("instance")
	c.releases.push("instance", func() {
		c.driver.DestroyInstance(c.instance)
		c.instance = 0
		c.metrics.resourceReleased("instance")
	})
	return nil
}

// initDebugMessenger installs the driver debug callback when validation is on. A driver without
// the debug entry points is not an error.
func (c *Context) initDebugMessenger() {
	if !c.status.ValidationEnabled {
		return
	}
	if err := c.prober.Require(DebugReportExtension); err != nil {
		c.log.Warning("Debug messenger unavailable: %v", err)
		return
	}
	messenger, err := c.driver.CreateDebugMessenger(c.instance, c.log.Driver)
	if err != nil {
		if errors.Is(err, ErrExtensionNotPresent) {
			c.log.Warning("Debug messenger extension not present, driver messages are not reported")
		} else {
			c.log.Warning("Failed to set up debug messenger: %v", err)
		}
		return
	}
	c.messenger = messenger
	c.status.DebugMessenger = true
	c.metrics.resourceCreated("debug_messenger")
	c.releases.push("debug messenger", func() {
		c.driver.DestroyDebugMessenger(c.instance, c.messenger)
		c.messenger = 0
		c.status.DebugMessenger = false
		c.metrics.resourceReleased("debug_messenger")
	})
}

// createLogicalDevice asks for one queue of the compute family and, when it differs, one of the
// transfer family.
func (c *Context) createLogicalDevice(gpu PhysicalDevice, queues QueueFamilySelection) error {
	priorities := []float32{1.0}
	infos := []QueueCreateInfo{{
		FamilyIndex: queues.ComputeFamily,
		Priorities:  priorities,
	}}
	c.status.SingleQueueFamily = queues.SameFamily()
	if !c.status.SingleQueueFamily {
		infos = append(infos, QueueCreateInfo{
			FamilyIndex: queues.TransferFamily,
			Priorities:  priorities,
		})
	}

	var layers []string
	if c.status.ValidationEnabled {
		layers = c.prober.ValidationLayers()
	}
	device, err := c.driver.CreateDevice(gpu, DeviceCreateInfo{
		Queues:     infos,
		Extensions: c.cfg.DeviceExtensions,
		Layers:     layers,
	})
	if err != nil {
		c.log.Error("Failed to create logical device: %v", err)
		return newResourceError("logical device", err)
	}
	c.device = device
	c.metrics.resourceCreated("device")
	c.releases.push("logical device", func() {
		c.driver.DestroyDevice(c.device)
		c.device = 0
		c.metrics.resourceReleased("device")
	})

	c.computeQueue = c.driver.GetDeviceQueue(device, queues.ComputeFamily, 0)
	c.transferQueue = c.computeQueue
	if !c.status.SingleQueueFamily {
		c.transferQueue = c.driver.GetDeviceQueue(device, queues.TransferFamily, 0)
	}
	return nil
}

// CreateSemaphore creates a semaphore owned by the context, for use as a transfer wait or signal.
func (c *Context) CreateSemaphore() (Semaphore, error) {
	if !c.ready {
		return 0, errors.Wrap(ErrInvalidState, "context not initialized")
	}
	sem, err := c.driver.CreateSemaphore(c.device)
	if err != nil {
		return 0, newResourceError("semaphore", err)
	}
	c.metrics.resourceCreated("semaphore")
	c.releases.push("semaphore", func() {
		c.driver.DestroySemaphore(c.device, sem)
		c.metrics.resourceReleased("semaphore")
	})
	return sem, nil
}

func (c *Context) Config() Config {
	return c.cfg
}

func (c *Context) Status() Status {
	return c.status
}

func (c *Context) Prober() *Prober {
	return c.prober
}

func (c *Context) Selector() *Selector {
	return c.selector
}

func (c *Context) Instance() Instance {
	return c.instance
}

// PhysicalDevice returns the selected device and its rating.
func (c *Context) PhysicalDevice() DeviceRating {
	return c.gpu
}

func (c *Context) Device() Device {
	return c.device
}

func (c *Context) ComputeQueue() Queue {
	return c.computeQueue
}

func (c *Context) TransferQueue() Queue {
	return c.transferQueue
}

func (c *Context) CommandPools() CommandPools {
	return c.pools
}

func (c *Context) Allocator() *Allocator {
	return c.allocator
}
