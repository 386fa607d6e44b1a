package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

var ErrUnsupportedLayoutTransition = errors.New("unsupported layout transition")

type layoutTransition struct {
	from vk.ImageLayout
	to   vk.ImageLayout
}

type transitionAccess struct {
	src vk.AccessFlags
	dst vk.AccessFlags
}

var supportedTransitions = map[layoutTransition]transitionAccess{
	{vk.ImageLayoutPreinitialized, vk.ImageLayoutTransferSrcOptimal}: {
		src: vk.AccessFlags(vk.AccessHostWriteBit),
		dst: vk.AccessFlags(vk.AccessTransferReadBit),
	},
	{vk.ImageLayoutPreinitialized, vk.ImageLayoutTransferDstOptimal}: {
		src: vk.AccessFlags(vk.AccessHostWriteBit),
		dst: vk.AccessFlags(vk.AccessTransferWriteBit),
	},
	{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
		src: vk.AccessFlags(vk.AccessTransferWriteBit),
		dst: vk.AccessFlags(vk.AccessShaderReadBit),
	},
	// Depth attachment setup after the swapchain is (re)built.
	{vk.ImageLayoutPreinitialized, vk.ImageLayoutDepthStencilAttachmentOptimal}: {
		src: 0,
		dst: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	},
}

// IsSupportedTransition reports whether TransitionImageLayout accepts the pair.
func IsSupportedTransition(oldLayout, newLayout vk.ImageLayout) bool {
	_, ok := supportedTransitions[layoutTransition{oldLayout, newLayout}]
	return ok
}

func HasStencilComponent(format vk.Format) bool {
	return format == vk.FormatD32SfloatS8Uint || format == vk.FormatD24UnormS8Uint
}

func aspectMask(format vk.Format, newLayout vk.ImageLayout) vk.ImageAspectFlags {
	if newLayout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	mask := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if HasStencilComponent(format) {
		mask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return mask
}

// layoutBarrier builds the barrier for one of the supported transitions. Both
// sides run at top of pipe since the whole submission is waited on.
func layoutBarrier(image vk.Image, format vk.Format, oldLayout, newLayout vk.ImageLayout) (vk.ImageMemoryBarrier, error) {
	access, ok := supportedTransitions[layoutTransition{oldLayout, newLayout}]
	if !ok {
		return vk.ImageMemoryBarrier{}, errors.Wrapf(ErrUnsupportedLayoutTransition, "%d -> %d", oldLayout, newLayout)
	}

	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       access.src,
		DstAccessMask:       access.dst,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(format, newLayout),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}, nil
}
