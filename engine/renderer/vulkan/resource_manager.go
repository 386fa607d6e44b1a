package vulkan

import (
	"image"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spaghettifunk/smallworld/engine/core"
	"golang.org/x/image/draw"
)

var (
	ErrResourceReleased = errors.New("resource already released")
	ErrUploadOutOfRange = errors.New("upload exceeds destination size")
	ErrManagerDestroyed = errors.New("resource manager destroyed")
)

const (
	stagingUsage            = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	stagingMemoryProperties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
)

type trackedResource interface {
	destroy(driver Driver)
	describe(obj *jwriter.ObjectState)
}

// ResourceManager creates buffers and images on one device and performs
// every host to device upload through a single staging buffer. Transfers are
// recorded into one-shot command buffers on the transfer queue and block
// until that queue is idle.
type ResourceManager struct {
	driver         Driver
	transferQueue  vk.Queue
	transferFamily uint32
	commandPool    vk.CommandPool
	locks          *LockPool

	stagingBuffer        vk.Buffer
	stagingMemory        vk.DeviceMemory
	stagingSize          vk.DeviceSize
	stagingReallocations int

	resources *swiss.Map[uuid.UUID, trackedResource]
	destroyed bool
}

func NewResourceManager(driver Driver, transferQueue vk.Queue, transferFamily uint32) (*ResourceManager, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: transferFamily,
	}
	pool, err := driver.CreateCommandPool(&poolCreateInfo)
	if err != nil {
		return nil, errors.Wrap(err, "creating transient command pool")
	}

	return &ResourceManager{
		driver:         driver,
		transferQueue:  transferQueue,
		transferFamily: transferFamily,
		commandPool:    pool,
		locks:          NewLockPool(),
		resources:      swiss.NewMap[uuid.UUID, trackedResource](16),
	}, nil
}

func (m *ResourceManager) allocateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (vk.Buffer, vk.DeviceMemory, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	buffer, err := m.driver.CreateBuffer(&bufferCreateInfo)
	if err != nil {
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}

	requirements := m.driver.BufferMemoryRequirements(buffer)
	memoryType, err := FindMemoryType(m.driver.MemoryProperties(), requirements.MemoryTypeBits, properties)
	if err != nil {
		m.driver.DestroyBuffer(buffer)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}
	memory, err := m.driver.AllocateMemory(&allocateInfo)
	if err != nil {
		m.driver.DestroyBuffer(buffer)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}

	if err := m.driver.BindBufferMemory(buffer, memory, 0); err != nil {
		m.driver.DestroyBuffer(buffer)
		m.driver.FreeMemory(memory)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}
	return buffer, memory, nil
}

func (m *ResourceManager) track(id uuid.UUID, resource trackedResource) {
	_ = m.locks.SafeCall(ResourceManagement, func() error {
		m.resources.Put(id, resource)
		return nil
	})
}

func (m *ResourceManager) release(id uuid.UUID) {
	_ = m.locks.SafeCall(ResourceManagement, func() error {
		resource, ok := m.resources.Get(id)
		if !ok {
			return nil
		}
		resource.destroy(m.driver)
		m.resources.Delete(id)
		return nil
	})
}

// CreateBuffer allocates a buffer of size bytes backed by memory with the
// requested properties.
func (m *ResourceManager) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (*Buffer, error) {
	if m.destroyed {
		return nil, ErrManagerDestroyed
	}

	handle, memory, err := m.allocateBuffer(size, usage, properties)
	if err != nil {
		core.LogError("failed to create buffer of %d bytes: %s", size, err)
		return nil, err
	}

	b := &Buffer{
		ID:               uuid.New(),
		Handle:           handle,
		Memory:           memory,
		Size:             size,
		Usage:            usage,
		MemoryProperties: properties,
		manager:          m,
	}
	m.track(b.ID, b)
	return b, nil
}

// CreateImage allocates a 2D image with one mip level, one array layer and a
// single sample. The image starts in the preinitialized layout.
func (m *ResourceManager) CreateImage(width, height uint32, format vk.Format, tiling vk.ImageTiling, usage vk.ImageUsageFlags, properties vk.MemoryPropertyFlags) (*Image, error) {
	if m.destroyed {
		return nil, ErrManagerDestroyed
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutPreinitialized,
	}
	handle, err := m.driver.CreateImage(&imageCreateInfo)
	if err != nil {
		core.LogError("failed to create %dx%d image: %s", width, height, err)
		return nil, err
	}

	requirements := m.driver.ImageMemoryRequirements(handle)
	memoryType, err := FindMemoryType(m.driver.MemoryProperties(), requirements.MemoryTypeBits, properties)
	if err != nil {
		m.driver.DestroyImage(handle)
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}
	memory, err := m.driver.AllocateMemory(&allocateInfo)
	if err != nil {
		m.driver.DestroyImage(handle)
		return nil, err
	}
	if err := m.driver.BindImageMemory(handle, memory, 0); err != nil {
		m.driver.DestroyImage(handle)
		m.driver.FreeMemory(memory)
		return nil, err
	}

	img := &Image{
		ID:               uuid.New(),
		Handle:           handle,
		Memory:           memory,
		Width:            width,
		Height:           height,
		Format:           format,
		Tiling:           tiling,
		Usage:            usage,
		MemoryProperties: properties,
		layout:           vk.ImageLayoutPreinitialized,
		manager:          m,
	}
	m.track(img.ID, img)
	return img, nil
}

// UpdateBuffer uploads data into target through the staging buffer. The data
// is written to the staging buffer at elementOffset*sizeof(T) and the device
// copy covers bytes [0, offset+len) of both buffers, so the destination prefix
// before the offset is rewritten with whatever the staging buffer holds there.
func UpdateBuffer[T any](m *ResourceManager, target *Buffer, data []T, elementOffset int) error {
	if elementOffset < 0 {
		return errors.Newf("negative element offset %d", elementOffset)
	}
	if len(data) == 0 {
		return nil
	}

	var zero T
	elementSize := int(unsafe.Sizeof(zero))
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*elementSize)
	return m.updateBuffer(target, raw, vk.DeviceSize(elementOffset*elementSize))
}

// UpdateBufferValue uploads a single value, see UpdateBuffer.
func UpdateBufferValue[T any](m *ResourceManager, target *Buffer, value T, elementOffset int) error {
	return UpdateBuffer(m, target, []T{value}, elementOffset)
}

func (m *ResourceManager) updateBuffer(target *Buffer, raw []byte, offset vk.DeviceSize) error {
	if m.destroyed {
		return ErrManagerDestroyed
	}
	if target == nil || target.released {
		return ErrResourceReleased
	}

	size := vk.DeviceSize(len(raw))
	required := offset + size
	if required > target.Size {
		return errors.Wrapf(ErrUploadOutOfRange, "%d bytes at offset %d into a %d byte buffer", size, offset, target.Size)
	}

	return m.locks.SafeCall(StagingManagement, func() error {
		if err := m.ensureStagingCapacity(required); err != nil {
			return err
		}

		mapped, err := m.driver.MapMemory(m.stagingMemory, offset, size)
		if err != nil {
			return errors.Wrap(err, "mapping staging buffer")
		}
		copy(mapped, raw)
		m.driver.UnmapMemory(m.stagingMemory)

		return m.CopyBuffer(m.stagingBuffer, target.Handle, required)
	})
}

// ensureStagingCapacity grows the staging buffer to at least required bytes.
// The old buffer is only destroyed once its replacement exists, so a failed
// growth keeps the current capacity. Capacity never shrinks.
func (m *ResourceManager) ensureStagingCapacity(required vk.DeviceSize) error {
	if required <= m.stagingSize {
		return nil
	}

	buffer, memory, err := m.allocateBuffer(required, stagingUsage, stagingMemoryProperties)
	if err != nil {
		return errors.Wrapf(err, "growing staging buffer to %d bytes", required)
	}
	m.destroyStaging()
	m.stagingBuffer = buffer
	m.stagingMemory = memory
	m.stagingSize = required
	m.stagingReallocations++

	core.LogDebug("staging buffer resized to %d bytes", required)
	return nil
}

func (m *ResourceManager) destroyStaging() {
	if m.stagingBuffer != vk.NullBuffer {
		m.driver.DestroyBuffer(m.stagingBuffer)
		m.driver.FreeMemory(m.stagingMemory)
	}
	m.stagingBuffer = vk.NullBuffer
	m.stagingMemory = vk.NullDeviceMemory
	m.stagingSize = 0
}

// StagingCapacity is the current size in bytes of the staging buffer.
func (m *ResourceManager) StagingCapacity() vk.DeviceSize {
	return m.stagingSize
}

// submitOneShot records a single command buffer through record, submits it to
// the transfer queue and waits for the queue to drain.
func (m *ResourceManager) submitOneShot(record func(cb vk.CommandBuffer)) error {
	if m.destroyed {
		return ErrManagerDestroyed
	}

	return m.locks.SafeCall(CommandPoolManagement, func() error {
		cb, err := AllocateAndBeginSingleUse(m.driver, m.commandPool)
		if err != nil {
			return err
		}

		record(cb.Handle)

		return m.locks.SafeQueueCall(m.transferFamily, func() error {
			return cb.EndSingleUse(m.driver, m.commandPool, m.transferQueue)
		})
	})
}

func (m *ResourceManager) CopyBuffer(src, dst vk.Buffer, size vk.DeviceSize) error {
	return m.submitOneShot(func(cb vk.CommandBuffer) {
		m.driver.CmdCopyBuffer(cb, src, dst, []vk.BufferCopy{{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		}})
	})
}

// CopyImage copies the color aspect of mip 0, layer 0. src must be in
// TRANSFER_SRC_OPTIMAL and dst in TRANSFER_DST_OPTIMAL.
func (m *ResourceManager) CopyImage(src, dst vk.Image, width, height uint32) error {
	if src == vk.NullImage || dst == vk.NullImage {
		return errors.Wrap(ErrResourceReleased, "copying image")
	}

	subresource := vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	region := vk.ImageCopy{
		SrcSubresource: subresource,
		SrcOffset:      vk.Offset3D{},
		DstSubresource: subresource,
		DstOffset:      vk.Offset3D{},
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
	}

	return m.submitOneShot(func(cb vk.CommandBuffer) {
		m.driver.CmdCopyImage(cb, src, vk.ImageLayoutTransferSrcOptimal, dst, vk.ImageLayoutTransferDstOptimal, []vk.ImageCopy{region})
	})
}

// TransitionImageLayout records a barrier moving image from oldLayout to
// newLayout. Pairs outside the supported set fail with
// ErrUnsupportedLayoutTransition before anything is recorded.
func (m *ResourceManager) TransitionImageLayout(image vk.Image, format vk.Format, oldLayout, newLayout vk.ImageLayout) error {
	if image == vk.NullImage {
		return errors.Wrap(ErrResourceReleased, "transitioning image layout")
	}
	barrier, err := layoutBarrier(image, format, oldLayout, newLayout)
	if err != nil {
		return err
	}

	stage := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	return m.submitOneShot(func(cb vk.CommandBuffer) {
		m.driver.CmdPipelineBarrier(cb, stage, stage, []vk.ImageMemoryBarrier{barrier})
	})
}

// ReadBuffer copies the first size bytes of src back to the host through a
// temporary host visible buffer. src needs TRANSFER_SRC usage.
func (m *ResourceManager) ReadBuffer(src *Buffer, size vk.DeviceSize) ([]byte, error) {
	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	if src == nil || src.released {
		return nil, ErrResourceReleased
	}
	if size > src.Size {
		return nil, errors.Wrapf(ErrUploadOutOfRange, "reading %d bytes from a %d byte buffer", size, src.Size)
	}

	readback, memory, err := m.allocateBuffer(size,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer func() {
		m.driver.DestroyBuffer(readback)
		m.driver.FreeMemory(memory)
	}()

	if err := m.CopyBuffer(src.Handle, readback, size); err != nil {
		return nil, err
	}

	mapped, err := m.driver.MapMemory(memory, 0, size)
	if err != nil {
		return nil, errors.Wrap(err, "mapping readback buffer")
	}
	out := make([]byte, size)
	copy(out, mapped)
	m.driver.UnmapMemory(memory)
	return out, nil
}

// UploadImage creates a sampled, device local image from tightly packed
// 4 byte per pixel data. The pixels go through a linear host visible image
// and end up in SHADER_READ_ONLY_OPTIMAL.
func (m *ResourceManager) UploadImage(width, height uint32, format vk.Format, pixels []byte) (*Image, error) {
	rowBytes := int(width) * 4
	if len(pixels) != rowBytes*int(height) {
		return nil, errors.Newf("expected %d bytes of pixel data for %dx%d, got %d", rowBytes*int(height), width, height, len(pixels))
	}

	staging, err := m.CreateImage(width, height, format, vk.ImageTilingLinear,
		vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit), stagingMemoryProperties)
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	layout := m.driver.ImageSubresourceLayout(staging.Handle)
	mapped, err := m.driver.MapMemory(staging.Memory, 0, layout.Offset+layout.Size)
	if err != nil {
		return nil, errors.Wrap(err, "mapping staging image")
	}
	for y := 0; y < int(height); y++ {
		rowStart := int(layout.Offset) + y*int(layout.RowPitch)
		copy(mapped[rowStart:rowStart+rowBytes], pixels[y*rowBytes:(y+1)*rowBytes])
	}
	m.driver.UnmapMemory(staging.Memory)

	if err := staging.Transition(vk.ImageLayoutTransferSrcOptimal); err != nil {
		return nil, err
	}

	texture, err := m.CreateImage(width, height, format, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}

	if err := texture.Transition(vk.ImageLayoutTransferDstOptimal); err != nil {
		texture.Release()
		return nil, err
	}
	if err := m.CopyImage(staging.Handle, texture.Handle, width, height); err != nil {
		texture.Release()
		return nil, err
	}
	if err := texture.Transition(vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		texture.Release()
		return nil, err
	}
	return texture, nil
}

// UploadTexture converts img to RGBA8 and uploads it with UploadImage.
func (m *ResourceManager) UploadTexture(img image.Image) (*Image, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.New("cannot upload an empty image")
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	return m.UploadImage(uint32(bounds.Dx()), uint32(bounds.Dy()), vk.FormatR8g8b8a8Unorm, rgba.Pix[:bounds.Dx()*bounds.Dy()*4])
}

// LiveResources is the number of buffers and images not yet released.
func (m *ResourceManager) LiveResources() int {
	count := 0
	_ = m.locks.SafeCall(ResourceManagement, func() error {
		count = m.resources.Count()
		return nil
	})
	return count
}

// Stats renders the staging state and every live resource as JSON.
func (m *ResourceManager) Stats() ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("StagingCapacity").Int(int(m.stagingSize))
	obj.Name("StagingReallocations").Int(m.stagingReallocations)

	_ = m.locks.SafeCall(ResourceManagement, func() error {
		obj.Name("LiveResources").Int(m.resources.Count())
		arr := obj.Name("Resources").Array()
		m.resources.Iter(func(_ uuid.UUID, resource trackedResource) bool {
			o := arr.Object()
			resource.describe(&o)
			o.End()
			return false
		})
		arr.End()
		return nil
	})

	obj.End()
	return w.Bytes(), w.Error()
}

// Destroy frees the staging buffer, every resource that was never released
// and the transient command pool.
func (m *ResourceManager) Destroy() {
	if m.destroyed {
		return
	}

	m.destroyStaging()

	_ = m.locks.SafeCall(ResourceManagement, func() error {
		if leaked := m.resources.Count(); leaked > 0 {
			core.LogWarn("destroying %d resources that were never released", leaked)
		}
		m.resources.Iter(func(_ uuid.UUID, resource trackedResource) bool {
			resource.destroy(m.driver)
			return false
		})
		m.resources.Clear()
		return nil
	})

	m.driver.DestroyCommandPool(m.commandPool)
	m.commandPool = vk.NullCommandPool
	m.destroyed = true
}
