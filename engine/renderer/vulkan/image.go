package vulkan

import (
	"github.com/google/uuid"
	vk "github.com/goki/vulkan"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Image is a 2D, single mip, single layer image and its dedicated memory. The
// layout it was last transitioned to is tracked so callers only name the
// target layout.
type Image struct {
	ID               uuid.UUID
	Handle           vk.Image
	Memory           vk.DeviceMemory
	Width            uint32
	Height           uint32
	Format           vk.Format
	Tiling           vk.ImageTiling
	Usage            vk.ImageUsageFlags
	MemoryProperties vk.MemoryPropertyFlags

	layout   vk.ImageLayout
	manager  *ResourceManager
	released bool
}

func (i *Image) Layout() vk.ImageLayout {
	return i.layout
}

// Transition moves the image from its current layout to newLayout. On error
// the tracked layout is unchanged.
func (i *Image) Transition(newLayout vk.ImageLayout) error {
	if i == nil || i.released {
		return ErrResourceReleased
	}
	if err := i.manager.TransitionImageLayout(i.Handle, i.Format, i.layout, newLayout); err != nil {
		return err
	}
	i.layout = newLayout
	return nil
}

// Release destroys the image and frees its memory. Calling it again is a no-op.
func (i *Image) Release() {
	if i == nil || i.released {
		return
	}
	i.manager.release(i.ID)
}

func (i *Image) Released() bool {
	return i.released
}

func (i *Image) destroy(driver Driver) {
	driver.DestroyImage(i.Handle)
	driver.FreeMemory(i.Memory)
	i.Handle = vk.NullImage
	i.Memory = vk.NullDeviceMemory
	i.released = true
}

func (i *Image) describe(obj *jwriter.ObjectState) {
	obj.Name("ID").String(i.ID.String())
	obj.Name("Type").String("image")
	obj.Name("Width").Int(int(i.Width))
	obj.Name("Height").Int(int(i.Height))
	obj.Name("Format").Int(int(i.Format))
	obj.Name("Layout").Int(int(i.layout))
}
