package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

// frameResources is everything that has to be rebuilt together with the
// swapchain.
type frameResources struct {
	swapchain      *Swapchain
	depth          *Image
	depthView      vk.ImageView
	renderPass     *RenderPass
	framebuffers   []*Framebuffer
	commandBuffers []*CommandBuffer
}

// frameLifecycle builds and tears down frame resources for the controller.
type frameLifecycle interface {
	waitIdle() error
	build(old vk.Swapchain) (*frameResources, error)
	destroy(fr *frameResources)
}

// deviceFrames builds frame resources on the controller's device.
type deviceFrames struct {
	c *Controller
}

func (d deviceFrames) waitIdle() error {
	return d.c.device.WaitIdle()
}

func (d deviceFrames) build(old vk.Swapchain) (*frameResources, error) {
	return d.c.buildFrameResources(old)
}

func (d deviceFrames) destroy(fr *frameResources) {
	fr.destroy(d.c)
}

func (c *Controller) buildFrameResources(old vk.Swapchain) (*frameResources, error) {
	width, height := c.window.FramebufferSize()

	sc, err := NewSwapchain(c.device, c.surface, width, height, old)
	if err != nil {
		return nil, err
	}
	fr := &frameResources{swapchain: sc}

	depthFormat := c.device.DepthFormat
	fr.depth, err = c.resources.CreateImage(
		sc.Extent.Width,
		sc.Extent.Height,
		depthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		fr.destroy(c)
		return nil, err
	}
	fr.depthView, err = NewImageView(c.device.Handle, fr.depth.Handle, depthFormat, aspectMask(depthFormat, vk.ImageLayoutDepthStencilAttachmentOptimal))
	if err != nil {
		fr.destroy(c)
		return nil, err
	}
	if err := fr.depth.Transition(vk.ImageLayoutDepthStencilAttachmentOptimal); err != nil {
		fr.destroy(c)
		return nil, err
	}

	fr.renderPass, err = NewRenderPass(c.device.Handle, sc.Format.Format, depthFormat, renderPassClearColor)
	if err != nil {
		fr.destroy(c)
		return nil, err
	}

	for _, view := range sc.Views {
		fb, err := NewFramebuffer(c.device.Handle, fr.renderPass, sc.Extent, []vk.ImageView{view, fr.depthView})
		if err != nil {
			fr.destroy(c)
			return nil, err
		}
		fr.framebuffers = append(fr.framebuffers, fb)

		cb, err := NewCommandBuffer(c.driver, c.commandPool, true)
		if err != nil {
			fr.destroy(c)
			return nil, err
		}
		fr.commandBuffers = append(fr.commandBuffers, cb)
	}

	core.LogDebug("Frame resources built for %d images.", len(sc.Views))
	return fr, nil
}

// destroy tolerates partially built resources.
func (fr *frameResources) destroy(c *Controller) {
	for _, cb := range fr.commandBuffers {
		cb.Free(c.driver, c.commandPool)
	}
	fr.commandBuffers = nil

	for _, fb := range fr.framebuffers {
		fb.Destroy(c.device.Handle)
	}
	fr.framebuffers = nil

	if fr.renderPass != nil {
		fr.renderPass.Destroy(c.device.Handle)
		fr.renderPass = nil
	}
	if fr.depthView != vk.NullImageView {
		vk.DestroyImageView(c.device.Handle, fr.depthView, nil)
		fr.depthView = vk.NullImageView
	}
	if fr.depth != nil {
		fr.depth.Release()
		fr.depth = nil
	}
	if fr.swapchain != nil {
		fr.swapchain.Destroy(c.device.Handle)
		fr.swapchain = nil
	}
}
