package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

var ErrNoCompatibleMemoryType = errors.New("no compatible memory type")

// FindMemoryType returns the first memory type index allowed by typeFilter
// whose property flags contain every bit of required.
func FindMemoryType(props vk.PhysicalDeviceMemoryProperties, typeFilter uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	count := props.MemoryTypeCount
	if count > uint32(len(props.MemoryTypes)) {
		count = uint32(len(props.MemoryTypes))
	}
	for i := uint32(0); i < count; i++ {
		if typeFilter&(1<<i) == 0 {
			continue
		}
		if props.MemoryTypes[i].PropertyFlags&required == required {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrNoCompatibleMemoryType, "filter %#x, required flags %#x", typeFilter, uint32(required))
}
