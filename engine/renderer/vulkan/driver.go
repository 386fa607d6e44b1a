package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Driver is the set of device level calls the resource manager issues. The
// production implementation forwards to the Vulkan loader; tests substitute
// an in-memory device.
type Driver interface {
	MemoryProperties() vk.PhysicalDeviceMemoryProperties

	CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(buffer vk.Buffer)
	BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements
	BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error

	CreateImage(info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(image vk.Image)
	ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements
	BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error
	// ImageSubresourceLayout describes mip 0, layer 0 of a linear image.
	ImageSubresourceLayout(image vk.Image) vk.SubresourceLayout

	AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(memory vk.DeviceMemory)
	// MapMemory returns a host view of [offset, offset+size). It stays valid
	// until UnmapMemory.
	MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error)
	UnmapMemory(memory vk.DeviceMemory)

	CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error)
	DestroyCommandPool(pool vk.CommandPool)
	AllocateCommandBuffer(pool vk.CommandPool, level vk.CommandBufferLevel) (vk.CommandBuffer, error)
	FreeCommandBuffer(pool vk.CommandPool, commandBuffer vk.CommandBuffer)
	BeginCommandBuffer(commandBuffer vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error
	EndCommandBuffer(commandBuffer vk.CommandBuffer) error

	CmdCopyBuffer(commandBuffer vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy)
	CmdCopyImage(commandBuffer vk.CommandBuffer, src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, regions []vk.ImageCopy)
	CmdPipelineBarrier(commandBuffer vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier)

	QueueSubmit(queue vk.Queue, commandBuffer vk.CommandBuffer) error
	QueueWaitIdle(queue vk.Queue) error
}

type deviceDriver struct {
	device vk.Device
	memory vk.PhysicalDeviceMemoryProperties
}

// NewDeviceDriver wraps a logical device created from physicalDevice.
func NewDeviceDriver(physicalDevice vk.PhysicalDevice, device vk.Device) Driver {
	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memory)
	memory.Deref()
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
	}

	return &deviceDriver{
		device: device,
		memory: memory,
	}
}

func (d *deviceDriver) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.memory
}

func (d *deviceDriver) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if err := checkResult(vk.CreateBuffer(d.device, info, nil, &buffer), "vkCreateBuffer"); err != nil {
		return vk.NullBuffer, err
	}
	return buffer, nil
}

func (d *deviceDriver) DestroyBuffer(buffer vk.Buffer) {
	vk.DestroyBuffer(d.device, buffer, nil)
}

func (d *deviceDriver) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &requirements)
	requirements.Deref()
	return requirements
}

func (d *deviceDriver) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return checkResult(vk.BindBufferMemory(d.device, buffer, memory, offset), "vkBindBufferMemory")
}

func (d *deviceDriver) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if err := checkResult(vk.CreateImage(d.device, info, nil, &image), "vkCreateImage"); err != nil {
		return vk.NullImage, err
	}
	return image, nil
}

func (d *deviceDriver) DestroyImage(image vk.Image) {
	vk.DestroyImage(d.device, image, nil)
}

func (d *deviceDriver) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &requirements)
	requirements.Deref()
	return requirements
}

func (d *deviceDriver) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return checkResult(vk.BindImageMemory(d.device, image, memory, offset), "vkBindImageMemory")
}

func (d *deviceDriver) ImageSubresourceLayout(image vk.Image) vk.SubresourceLayout {
	subresource := vk.ImageSubresource{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:   0,
		ArrayLayer: 0,
	}
	var layout vk.SubresourceLayout
	vk.GetImageSubresourceLayout(d.device, image, &subresource, &layout)
	layout.Deref()
	return layout
}

func (d *deviceDriver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	if err := checkResult(vk.AllocateMemory(d.device, info, nil, &memory), "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}

func (d *deviceDriver) FreeMemory(memory vk.DeviceMemory) {
	vk.FreeMemory(d.device, memory, nil)
}

func (d *deviceDriver) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error) {
	var data unsafe.Pointer
	if err := checkResult(vk.MapMemory(d.device, memory, offset, size, 0, &data), "vkMapMemory"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(data), int(size)), nil
}

func (d *deviceDriver) UnmapMemory(memory vk.DeviceMemory) {
	vk.UnmapMemory(d.device, memory)
}

func (d *deviceDriver) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	var pool vk.CommandPool
	if err := checkResult(vk.CreateCommandPool(d.device, info, nil, &pool), "vkCreateCommandPool"); err != nil {
		return vk.NullCommandPool, err
	}
	return pool, nil
}

func (d *deviceDriver) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.device, pool, nil)
}

func (d *deviceDriver) AllocateCommandBuffer(pool vk.CommandPool, level vk.CommandBufferLevel) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              level,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := checkResult(vk.AllocateCommandBuffers(d.device, &allocateInfo, commandBuffers), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	return commandBuffers[0], nil
}

func (d *deviceDriver) FreeCommandBuffer(pool vk.CommandPool, commandBuffer vk.CommandBuffer) {
	vk.FreeCommandBuffers(d.device, pool, 1, []vk.CommandBuffer{commandBuffer})
}

func (d *deviceDriver) BeginCommandBuffer(commandBuffer vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	return checkResult(vk.BeginCommandBuffer(commandBuffer, &beginInfo), "vkBeginCommandBuffer")
}

func (d *deviceDriver) EndCommandBuffer(commandBuffer vk.CommandBuffer) error {
	return checkResult(vk.EndCommandBuffer(commandBuffer), "vkEndCommandBuffer")
}

func (d *deviceDriver) CmdCopyBuffer(commandBuffer vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(commandBuffer, src, dst, uint32(len(regions)), regions)
}

func (d *deviceDriver) CmdCopyImage(commandBuffer vk.CommandBuffer, src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, regions []vk.ImageCopy) {
	vk.CmdCopyImage(commandBuffer, src, srcLayout, dst, dstLayout, uint32(len(regions)), regions)
}

func (d *deviceDriver) CmdPipelineBarrier(commandBuffer vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	vk.CmdPipelineBarrier(commandBuffer, srcStage, dstStage, 0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (d *deviceDriver) QueueSubmit(queue vk.Queue, commandBuffer vk.CommandBuffer) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer},
	}
	return checkResult(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence), "vkQueueSubmit")
}

func (d *deviceDriver) QueueWaitIdle(queue vk.Queue) error {
	return checkResult(vk.QueueWaitIdle(queue), "vkQueueWaitIdle")
}
