package vkhelper

import vk "github.com/vulkan-go/vulkan"

// CommandPools holds one pool per queue family in use. When compute and transfer share a family,
// Transfer aliases Compute and the pool is destroyed once.
type CommandPools struct {
	Compute  CommandPool
	Transfer CommandPool
	shared   bool
}

// Shared reports whether the transfer pool is the compute pool.
func (p CommandPools) Shared() bool {
	return p.shared
}

// Count is the number of distinct pools held.
func (p CommandPools) Count() int {
	n := 0
	if p.Compute != 0 {
		n++
	}
	if p.Transfer != 0 && !p.shared {
		n++
	}
	return n
}

func createPool(driver Driver, device Device, familyIndex uint32) (CommandPool, error) {
	// ResetCommandBufferBit allows command buffers to be reset individually.
	pool, err := driver.CreateCommandPool(device, familyIndex,
		vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit))
	if err != nil {
		return 0, newResourceError("command pool", err)
	}
	return pool, nil
}

// CreateCommandPools creates the compute pool and, when singleFamily is false, a separate transfer pool.
// A failure on the transfer pool releases the compute pool before returning.
func CreateCommandPools(driver Driver, device Device, queues QueueFamilySelection, singleFamily bool) (CommandPools, error) {
	var pools CommandPools
	compute, err := createPool(driver, device, queues.ComputeFamily)
	if err != nil {
		return pools, err
	}
	pools.Compute = compute
	if singleFamily {
		pools.Transfer = compute
		pools.shared = true
		return pools, nil
	}
	transfer, err := createPool(driver, device, queues.TransferFamily)
	if err != nil {
		driver.DestroyCommandPool(device, compute)
		return CommandPools{}, err
	}
	pools.Transfer = transfer
	return pools, nil
}

// Destroy releases the pools, the shared one only once. It is safe to call twice.
func (p *CommandPools) Destroy(driver Driver, device Device) {
	if p.Transfer != 0 && !p.shared {
		driver.DestroyCommandPool(device, p.Transfer)
	}
	if p.Compute != 0 {
		driver.DestroyCommandPool(device, p.Compute)
	}
	*p = CommandPools{}
}
