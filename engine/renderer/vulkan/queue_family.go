package vulkan

import (
	vk "github.com/goki/vulkan"
)

// QueueFamilyIndices records which queue family serves each role. The
// transfer family falls back to the graphics family when the device has no
// transfer-only family.
type QueueFamilyIndices struct {
	Graphics uint32
	Present  uint32
	Transfer uint32

	hasGraphics bool
	hasPresent  bool
	hasTransfer bool
}

func (q QueueFamilyIndices) Complete() bool {
	return q.hasGraphics && q.hasPresent && q.hasTransfer
}

// Unique lists the distinct families in graphics, present, transfer order.
func (q QueueFamilyIndices) Unique() []uint32 {
	indices := []uint32{q.Graphics}
	if q.Present != q.Graphics {
		indices = append(indices, q.Present)
	}
	if q.Transfer != q.Graphics && q.Transfer != q.Present {
		indices = append(indices, q.Transfer)
	}
	return indices
}

// FindQueueFamilies scans families once, keeping the first family found for
// each role, and stops as soon as all three roles are assigned.
func FindQueueFamilies(families []vk.QueueFamilyProperties, presentSupport func(index uint32) bool) QueueFamilyIndices {
	var indices QueueFamilyIndices

	for i := 0; i < len(families) && !indices.Complete(); i++ {
		index := uint32(i)
		flags := families[i].QueueFlags
		graphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		transfer := flags&vk.QueueFlags(vk.QueueTransferBit) != 0

		if graphics && !indices.hasGraphics {
			indices.Graphics = index
			indices.hasGraphics = true
		}
		if !indices.hasPresent && presentSupport(index) {
			indices.Present = index
			indices.hasPresent = true
		}
		if transfer && !graphics && !indices.hasTransfer {
			indices.Transfer = index
			indices.hasTransfer = true
		}
	}

	if !indices.hasTransfer && indices.hasGraphics {
		indices.Transfer = indices.Graphics
		indices.hasTransfer = true
	}
	return indices
}
