package vulkan

import (
	"github.com/google/uuid"
	vk "github.com/goki/vulkan"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Buffer is a device buffer and its dedicated memory, owned by the
// ResourceManager that created it until Release.
type Buffer struct {
	ID               uuid.UUID
	Handle           vk.Buffer
	Memory           vk.DeviceMemory
	Size             vk.DeviceSize
	Usage            vk.BufferUsageFlags
	MemoryProperties vk.MemoryPropertyFlags

	manager  *ResourceManager
	released bool
}

// Release destroys the buffer and frees its memory. Calling it again is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.manager.release(b.ID)
}

func (b *Buffer) Released() bool {
	return b.released
}

func (b *Buffer) destroy(driver Driver) {
	driver.DestroyBuffer(b.Handle)
	driver.FreeMemory(b.Memory)
	b.Handle = vk.NullBuffer
	b.Memory = vk.NullDeviceMemory
	b.released = true
}

func (b *Buffer) describe(obj *jwriter.ObjectState) {
	obj.Name("ID").String(b.ID.String())
	obj.Name("Type").String("buffer")
	obj.Name("Size").Int(int(b.Size))
	obj.Name("Usage").Int(int(b.Usage))
	obj.Name("MemoryProperties").Int(int(b.MemoryProperties))
}
