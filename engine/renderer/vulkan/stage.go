package vulkan

import (
	vk "github.com/goki/vulkan"
)

// RenderStage is one contributor to the frame. Initialise runs once the
// device exists, Bind records the stage's commands inside the main render
// pass each time command buffers are rebuilt and Update runs every frame.
type RenderStage interface {
	Initialise(device vk.Device, resources *ResourceManager) error
	Bind(device vk.Device, renderPass vk.RenderPass, commandBuffer vk.CommandBuffer, extent vk.Extent2D) error
	Update() error
}

// Releaser is implemented by stages that own device objects.
type Releaser interface {
	Release(device vk.Device)
}

// Reloader is implemented by stages that can rebuild themselves when a named
// asset changes on disk. It reports whether name was one of its assets.
type Reloader interface {
	Reload(device vk.Device, name string) (bool, error)
}
