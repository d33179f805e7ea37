package vkhelper

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// QueueFamilySelection records the first compute-capable and the first transfer-capable queue family
// of a physical device. Found carries vk.QueueComputeBit and vk.QueueTransferBit for the families found.
type QueueFamilySelection struct {
	ComputeFamily  uint32
	TransferFamily uint32
	Found          vk.QueueFlags
}

func (s QueueFamilySelection) HasCompute() bool {
	return s.Found&vk.QueueFlags(vk.QueueComputeBit) != 0
}

func (s QueueFamilySelection) HasTransfer() bool {
	return s.Found&vk.QueueFlags(vk.QueueTransferBit) != 0
}

// Complete is true once both a compute and a transfer family were found.
func (s QueueFamilySelection) Complete() bool {
	return s.HasCompute() && s.HasTransfer()
}

// SameFamily is true when compute and transfer resolve to one family index.
func (s QueueFamilySelection) SameFamily() bool {
	return s.Complete() && s.ComputeFamily == s.TransferFamily
}

func (s QueueFamilySelection) String() string {
	return fmt.Sprintf("{ Compute: %d (%v) Transfer: %d (%v) }",
		s.ComputeFamily, s.HasCompute(), s.TransferFamily, s.HasTransfer())
}

// QueueFamilies is the queue family property list of one physical device in enumeration order.
type QueueFamilies []QueueFamilyProperties

// Select scans the families in order and stops as soon as both a compute and a transfer family
// were recorded. A family offering both capabilities fills both slots.
func (q QueueFamilies) Select() QueueFamilySelection {
	var sel QueueFamilySelection
	compute := vk.QueueFlags(vk.QueueComputeBit)
	transfer := vk.QueueFlags(vk.QueueTransferBit)
	for index, family := range q {
		if !sel.HasCompute() && family.Flags&compute != 0 {
			sel.ComputeFamily = uint32(index)
			sel.Found |= compute
		}
		if !sel.HasTransfer() && family.Flags&transfer != 0 {
			sel.TransferFamily = uint32(index)
			sel.Found |= transfer
		}
		if sel.Complete() {
			break
		}
	}
	return sel
}
