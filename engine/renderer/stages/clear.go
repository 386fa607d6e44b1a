package stages

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/renderer/vulkan"
)

// ClearStage fills the whole color attachment with one color. It records a
// clear inside the render pass, so it paints over whatever the render pass
// load op left behind.
type ClearStage struct {
	Color [4]float32
}

func NewClearStage(color [4]float32) *ClearStage {
	return &ClearStage{Color: color}
}

func (s *ClearStage) Initialise(device vk.Device, resources *vulkan.ResourceManager) error {
	return nil
}

func (s *ClearStage) Bind(device vk.Device, renderPass vk.RenderPass, commandBuffer vk.CommandBuffer, extent vk.Extent2D) error {
	attachments := []vk.ClearAttachment{s.attachment()}
	rects := []vk.ClearRect{clearRect(extent)}
	vk.CmdClearAttachments(commandBuffer, uint32(len(attachments)), attachments, uint32(len(rects)), rects)
	return nil
}

func (s *ClearStage) Update() error {
	return nil
}

func (s *ClearStage) attachment() vk.ClearAttachment {
	var value vk.ClearValue
	value.SetColor(s.Color[:])
	return vk.ClearAttachment{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      value,
	}
}

func clearRect(extent vk.Extent2D) vk.ClearRect {
	return vk.ClearRect{
		Rect: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}
