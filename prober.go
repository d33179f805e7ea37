package vkhelper

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Prober answers read-only capability questions about the driver and its physical devices.
// The instance extension list is fetched once, on the first ExtensionAvailable call.
type Prober struct {
	driver Driver
	log    *Logger
	layers []string

	once       sync.Once
	extensions []string
	extErr     error
}

// NewProber returns a prober checking the given validation layers.
func NewProber(driver Driver, log *Logger, validationLayers []string) *Prober {
	return &Prober{
		driver: driver,
		log:    log,
		layers: dedupe(validationLayers),
	}
}

// InstanceExtensions returns the cached instance extension list.
func (p *Prober) InstanceExtensions() ([]string, error) {
	p.once.Do(func() {
		p.extensions, p.extErr = p.driver.EnumerateInstanceExtensions()
		if p.extErr != nil {
			p.log.Warning("Failed to enumerate instance extensions: %v", p.extErr)
		}
	})
	return p.extensions, p.extErr
}

func (p *Prober) ExtensionAvailable(name string) bool {
	list, _ := p.InstanceExtensions()
	for _, ext := range list {
		if ext == name {
			return true
		}
	}
	return false
}

// Require returns ErrCapabilityMissing naming the instance extensions in names that are not available.
func (p *Prober) Require(names ...string) error {
	actual, err := p.InstanceExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}
	if ok, missing := NewExtensions(names, actual).HasWanted(); !ok {
		return errors.Wrapf(ErrCapabilityMissing, "instance extensions %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidationLayersSupported is true only when every requested validation layer is available.
func (p *Prober) ValidationLayersSupported() bool {
	actual, err := p.driver.EnumerateInstanceLayers()
	if err != nil {
		p.log.Warning("Failed to enumerate instance layers: %v", err)
		return false
	}
	ok, missing := NewExtensions(p.layers, actual).HasWanted()
	for _, name := range missing {
		p.log.Warning("Unsupported required validation layer: %s", name)
	}
	if !ok {
		p.log.Warning("Some validation layers missing. Skipping validation.")
	}
	return ok
}

// ValidationLayers returns the layers this prober checks for.
func (p *Prober) ValidationLayers() []string {
	return p.layers
}

func (p *Prober) FindQueueFamilies(gpu PhysicalDevice) QueueFamilySelection {
	return QueueFamilies(p.driver.QueueFamilyProperties(gpu)).Select()
}
