package vulkan

import (
	vk "github.com/goki/vulkan"
)

type Framebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
}

func NewFramebuffer(device vk.Device, renderPass *RenderPass, extent vk.Extent2D, attachments []vk.ImageView) (*Framebuffer, error) {
	fb := &Framebuffer{
		Attachments: make([]vk.ImageView, len(attachments)),
	}
	copy(fb.Attachments, attachments)

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass.Handle,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	if err := checkResult(vk.CreateFramebuffer(device, &framebufferCreateInfo, nil, &fb.Handle), "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *Framebuffer) Destroy(device vk.Device) {
	if fb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(device, fb.Handle, nil)
		fb.Handle = vk.NullFramebuffer
	}
	fb.Attachments = nil
}
