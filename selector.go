package vkhelper

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	// DiscreteGPUBonus is added to the rating of discrete GPUs. It exceeds the shared memory size of
	// any integrated part, so a discrete GPU always wins.
	DiscreteGPUBonus = 2 * 1024 * 1024

	// RatingNoQueues marks a device lacking a compute or a transfer queue family.
	RatingNoQueues = -1
	// RatingNoComputeInvocations marks a device that cannot run a single compute invocation.
	RatingNoComputeInvocations = -2
)

// RateDevice scores a device for compute work. Bigger is better, negative means unusable.
func RateDevice(props DeviceProperties, queues QueueFamilySelection) int {
	if !queues.Complete() {
		return RatingNoQueues
	}
	if props.Limits.MaxComputeWorkGroupInvocations < 1 {
		return RatingNoComputeInvocations
	}
	rating := 1
	if props.Type == vk.PhysicalDeviceTypeDiscreteGpu {
		rating += DiscreteGPUBonus
	}
	rating += int(props.Limits.MaxComputeSharedMemorySize)
	return rating
}

// DeviceRating is one physical device with its score, in enumeration order.
type DeviceRating struct {
	Device     PhysicalDevice
	Properties DeviceProperties
	Queues     QueueFamilySelection
	Score      int
}

// Selector picks the physical device best suited for compute.
type Selector struct {
	driver  Driver
	prober  *Prober
	log     *Logger
	metrics *Metrics
}

func NewSelector(driver Driver, prober *Prober, log *Logger, metrics *Metrics) *Selector {
	return &Selector{driver: driver, prober: prober, log: log, metrics: metrics}
}

func (s *Selector) RateDevice(gpu PhysicalDevice) int {
	return RateDevice(s.driver.PhysicalDeviceProperties(gpu), s.prober.FindQueueFamilies(gpu))
}

// RankDevices rates every physical device of the instance.
func (s *Selector) RankDevices(instance Instance) ([]DeviceRating, error) {
	gpus, err := s.driver.EnumeratePhysicalDevices(instance)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}
	ratings := make([]DeviceRating, 0, len(gpus))
	for i, gpu := range gpus {
		props := s.driver.PhysicalDeviceProperties(gpu)
		queues := s.prober.FindQueueFamilies(gpu)
		score := RateDevice(props, queues)
		s.metrics.observeDeviceScore(i, props.Name, score)
		s.log.Debug("Device %q rated %d, queues %s", props.Name, score, queues)
		ratings = append(ratings, DeviceRating{Device: gpu, Properties: props, Queues: queues, Score: score})
	}
	return ratings, nil
}

// SelectDevice returns the device with the strictly greatest positive score. Ties keep the device
// enumerated first.
func (s *Selector) SelectDevice(instance Instance) (DeviceRating, error) {
	ratings, err := s.RankDevices(instance)
	if err != nil {
		return DeviceRating{}, err
	}
	if len(ratings) == 0 {
		s.log.Error("Failed to find a GPU with Vulkan support")
		return DeviceRating{}, errors.Wrap(ErrNoSuitableDevice, "no physical devices")
	}
	best := -1
	bestScore := 0
	for i, r := range ratings {
		if r.Score > bestScore {
			best = i
			bestScore = r.Score
		}
	}
	if best < 0 {
		s.log.Error("No suitable device found!")
		return DeviceRating{}, errors.Wrapf(ErrNoSuitableDevice, "none of %d devices can run compute and transfer work", len(ratings))
	}
	s.log.Message("Selected suitable device: %s", ratings[best].Properties.Name)
	return ratings[best], nil
}
