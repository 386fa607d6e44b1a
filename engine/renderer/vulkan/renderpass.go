package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

type RenderPass struct {
	Handle vk.RenderPass

	// Clear values used by Begin.
	R, G, B, A float32
	Depth      float32
	Stencil    uint32
}

// NewRenderPass creates a single subpass render pass with a color attachment
// that ends up ready for presentation and a depth attachment.
func NewRenderPass(device vk.Device, colorFormat, depthFormat vk.Format, clearColor [4]float32) (*RenderPass, error) {
	rp := &RenderPass{
		R:       clearColor[0],
		G:       clearColor[1],
		B:       clearColor[2],
		A:       clearColor[3],
		Depth:   1.0,
		Stencil: 0,
	}

	attachmentDescriptions := []vk.AttachmentDescription{
		// Color attachment
		{
			Format:         colorFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		// Depth attachment
		{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	colorAttachmentReference := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	depthAttachmentReference := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       colorAttachmentReference,
		PDepthStencilAttachment: &depthAttachmentReference,
	}

	colorAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      0,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			SrcAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstAccessMask:   colorAccess,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
		{
			SrcSubpass:      0,
			DstSubpass:      vk.SubpassExternal,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask:   colorAccess,
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
	}

	renderPassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	if err := checkResult(vk.CreateRenderPass(device, &renderPassCreateInfo, nil, &rp.Handle), "vkCreateRenderPass"); err != nil {
		return nil, err
	}
	core.LogDebug("Render pass created.")
	return rp, nil
}

func (rp *RenderPass) Destroy(device vk.Device) {
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(device, rp.Handle, nil)
		rp.Handle = vk.NullRenderPass
	}
}

// ClearValues returns the color and depth/stencil clear values in attachment
// order.
func (rp *RenderPass) ClearValues() []vk.ClearValue {
	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor([]float32{rp.R, rp.G, rp.B, rp.A})
	clearValues[1].SetDepthStencil(rp.Depth, rp.Stencil)
	return clearValues
}

// Begin starts the render pass on framebuffer over the full extent.
func (rp *RenderPass) Begin(commandBuffer *CommandBuffer, framebuffer vk.Framebuffer, extent vk.Extent2D) {
	clearValues := rp.ClearValues()
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (rp *RenderPass) End(commandBuffer *CommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
}
