package vulkan

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

// fakeDriver is an in-memory device. Memory is plain byte slices, commands
// recorded into a command buffer run when it is submitted and misuse of the
// API (double destroy, unknown handles, mapping device local memory) is
// collected and reported when the test ends.
type fakeDriver struct {
	mu sync.Mutex

	properties     vk.PhysicalDeviceMemoryProperties
	buffers        map[vk.Buffer]*fakeBuffer
	images         map[vk.Image]*fakeImage
	memories       map[vk.DeviceMemory]*fakeMemory
	pools          map[vk.CommandPool]struct{}
	commandBuffers map[vk.CommandBuffer]*fakeCommandBuffer

	barriers    []recordedBarrier
	beginFlags  []vk.CommandBufferUsageFlags
	submissions int
	misuse      []string
}

type fakeHandle struct {
	id uint64
}

// Handles are C pointer types the garbage collector does not trace, so every
// fake handle stays reachable from fakeHandles for the life of the test binary
// and is never reused.
var (
	fakeHandlesMu sync.Mutex
	fakeHandles   []*fakeHandle
)

func newFakeHandle() unsafe.Pointer {
	fakeHandlesMu.Lock()
	defer fakeHandlesMu.Unlock()

	h := &fakeHandle{id: uint64(len(fakeHandles) + 1)}
	fakeHandles = append(fakeHandles, h)
	return unsafe.Pointer(h)
}

func handleString(h unsafe.Pointer) string {
	return fmt.Sprintf("%#x", uintptr(h))
}

type fakeMemory struct {
	data      []byte
	typeIndex uint32
	mapped    bool
}

type fakeBuffer struct {
	size   vk.DeviceSize
	usage  vk.BufferUsageFlags
	memory *fakeMemory
}

type fakeImage struct {
	width    uint32
	height   uint32
	format   vk.Format
	tiling   vk.ImageTiling
	layout   vk.ImageLayout
	rowPitch vk.DeviceSize
	memory   *fakeMemory
}

type fakeCommandBuffer struct {
	pool      vk.CommandPool
	recording bool
	commands  []func() error
}

type recordedBarrier struct {
	srcStage vk.PipelineStageFlags
	dstStage vk.PipelineStageFlags
	barrier  vk.ImageMemoryBarrier
}

const fakeLinearRowAlignment = 64

// newFakeDriver exposes one memory type per flag set. With no flags it
// offers a device local type followed by a host visible, coherent one.
func newFakeDriver(t *testing.T, types ...vk.MemoryPropertyFlags) *fakeDriver {
	if len(types) == 0 {
		types = []vk.MemoryPropertyFlags{deviceLocal, hostVisible | hostCoherent}
	}

	d := &fakeDriver{
		properties:     memoryProperties(types...),
		buffers:        make(map[vk.Buffer]*fakeBuffer),
		images:         make(map[vk.Image]*fakeImage),
		memories:       make(map[vk.DeviceMemory]*fakeMemory),
		pools:          make(map[vk.CommandPool]struct{}),
		commandBuffers: make(map[vk.CommandBuffer]*fakeCommandBuffer),
	}
	t.Cleanup(func() {
		assert.Empty(t, d.misuse, "driver misuse")
	})
	return d
}

func (d *fakeDriver) misused(format string, args ...interface{}) {
	d.misuse = append(d.misuse, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.properties
}

func (d *fakeDriver) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Size == 0 {
		return vk.NullBuffer, errors.New("zero sized buffer")
	}
	handle := vk.Buffer(newFakeHandle())
	d.buffers[handle] = &fakeBuffer{size: info.Size, usage: info.Usage}
	return handle, nil
}

func (d *fakeDriver) DestroyBuffer(buffer vk.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[buffer]; !ok {
		d.misused("destroying unknown buffer %s", handleString(unsafe.Pointer(buffer)))
		return
	}
	delete(d.buffers, buffer)
}

func (d *fakeDriver) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	if !ok {
		d.misused("memory requirements of unknown buffer %s", handleString(unsafe.Pointer(buffer)))
		return vk.MemoryRequirements{}
	}
	return vk.MemoryRequirements{
		Size:           b.size,
		Alignment:      4,
		MemoryTypeBits: 1<<d.properties.MemoryTypeCount - 1,
	}
}

func (d *fakeDriver) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	m, ok2 := d.memories[memory]
	if !ok || !ok2 {
		return errors.New("binding unknown buffer or memory")
	}
	if offset+b.size > vk.DeviceSize(len(m.data)) {
		return errors.New("memory too small for buffer")
	}
	b.memory = m
	return nil
}

func (d *fakeDriver) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return vk.NullImage, errors.New("zero sized image")
	}

	rowPitch := vk.DeviceSize(info.Extent.Width) * 4
	if info.Tiling == vk.ImageTilingLinear {
		rowPitch = (rowPitch + fakeLinearRowAlignment - 1) / fakeLinearRowAlignment * fakeLinearRowAlignment
	}

	handle := vk.Image(newFakeHandle())
	d.images[handle] = &fakeImage{
		width:    info.Extent.Width,
		height:   info.Extent.Height,
		format:   info.Format,
		tiling:   info.Tiling,
		layout:   info.InitialLayout,
		rowPitch: rowPitch,
	}
	return handle, nil
}

func (d *fakeDriver) DestroyImage(image vk.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.images[image]; !ok {
		d.misused("destroying unknown image %s", handleString(unsafe.Pointer(image)))
		return
	}
	delete(d.images, image)
}

func (d *fakeDriver) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, ok := d.images[image]
	if !ok {
		d.misused("memory requirements of unknown image %s", handleString(unsafe.Pointer(image)))
		return vk.MemoryRequirements{}
	}
	return vk.MemoryRequirements{
		Size:           img.rowPitch * vk.DeviceSize(img.height),
		Alignment:      fakeLinearRowAlignment,
		MemoryTypeBits: 1<<d.properties.MemoryTypeCount - 1,
	}
}

func (d *fakeDriver) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, ok := d.images[image]
	m, ok2 := d.memories[memory]
	if !ok || !ok2 {
		return errors.New("binding unknown image or memory")
	}
	if offset+img.rowPitch*vk.DeviceSize(img.height) > vk.DeviceSize(len(m.data)) {
		return errors.New("memory too small for image")
	}
	img.memory = m
	return nil
}

func (d *fakeDriver) ImageSubresourceLayout(image vk.Image) vk.SubresourceLayout {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, ok := d.images[image]
	if !ok {
		d.misused("subresource layout of unknown image %s", handleString(unsafe.Pointer(image)))
		return vk.SubresourceLayout{}
	}
	if img.tiling != vk.ImageTilingLinear {
		d.misused("subresource layout of an optimal image")
	}
	return vk.SubresourceLayout{
		Offset:   0,
		Size:     img.rowPitch * vk.DeviceSize(img.height),
		RowPitch: img.rowPitch,
	}
}

func (d *fakeDriver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.MemoryTypeIndex >= d.properties.MemoryTypeCount {
		return vk.NullDeviceMemory, errors.Newf("memory type %d out of range", info.MemoryTypeIndex)
	}
	handle := vk.DeviceMemory(newFakeHandle())
	d.memories[handle] = &fakeMemory{
		data:      make([]byte, info.AllocationSize),
		typeIndex: info.MemoryTypeIndex,
	}
	return handle, nil
}

func (d *fakeDriver) FreeMemory(memory vk.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[memory]
	if !ok {
		d.misused("freeing unknown memory %s", handleString(unsafe.Pointer(memory)))
		return
	}
	if m.mapped {
		d.misused("freeing mapped memory")
	}
	delete(d.memories, memory)
}

func (d *fakeDriver) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[memory]
	if !ok {
		return nil, errors.New("mapping unknown memory")
	}
	if d.properties.MemoryTypes[m.typeIndex].PropertyFlags&hostVisible == 0 {
		d.misused("mapping memory that is not host visible")
		return nil, errors.New("memory not host visible")
	}
	if m.mapped {
		d.misused("mapping memory twice")
		return nil, errors.New("memory already mapped")
	}
	if offset+size > vk.DeviceSize(len(m.data)) {
		return nil, errors.Newf("mapping [%d, %d) of %d bytes", offset, offset+size, len(m.data))
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], nil
}

func (d *fakeDriver) UnmapMemory(memory vk.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[memory]
	if !ok || !m.mapped {
		d.misused("unmapping memory that is not mapped")
		return
	}
	m.mapped = false
}

func (d *fakeDriver) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handle := vk.CommandPool(newFakeHandle())
	d.pools[handle] = struct{}{}
	return handle, nil
}

func (d *fakeDriver) DestroyCommandPool(pool vk.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pools[pool]; !ok {
		d.misused("destroying unknown command pool")
		return
	}
	for handle, cb := range d.commandBuffers {
		if cb.pool == pool {
			delete(d.commandBuffers, handle)
		}
	}
	delete(d.pools, pool)
}

func (d *fakeDriver) AllocateCommandBuffer(pool vk.CommandPool, level vk.CommandBufferLevel) (vk.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pools[pool]; !ok {
		return nil, errors.New("allocating from unknown command pool")
	}
	if level != vk.CommandBufferLevelPrimary {
		d.misused("one-shot command buffer allocated as secondary")
	}
	handle := vk.CommandBuffer(newFakeHandle())
	d.commandBuffers[handle] = &fakeCommandBuffer{pool: pool}
	return handle, nil
}

func (d *fakeDriver) FreeCommandBuffer(pool vk.CommandPool, commandBuffer vk.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.commandBuffers[commandBuffer]
	if !ok || cb.pool != pool {
		d.misused("freeing unknown command buffer")
		return
	}
	delete(d.commandBuffers, commandBuffer)
}

func (d *fakeDriver) BeginCommandBuffer(commandBuffer vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.commandBuffers[commandBuffer]
	if !ok {
		return errors.New("beginning unknown command buffer")
	}
	cb.recording = true
	cb.commands = nil
	d.beginFlags = append(d.beginFlags, flags)
	return nil
}

func (d *fakeDriver) EndCommandBuffer(commandBuffer vk.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.commandBuffers[commandBuffer]
	if !ok || !cb.recording {
		return errors.New("ending a command buffer that is not recording")
	}
	cb.recording = false
	return nil
}

// record appends fn to the command buffer. The caller holds d.mu.
func (d *fakeDriver) record(commandBuffer vk.CommandBuffer, fn func() error) {
	cb, ok := d.commandBuffers[commandBuffer]
	if !ok || !cb.recording {
		d.misused("recording into a command buffer that is not recording")
		return
	}
	cb.commands = append(cb.commands, fn)
}

func (d *fakeDriver) CmdCopyBuffer(commandBuffer vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regions = append([]vk.BufferCopy(nil), regions...)
	d.record(commandBuffer, func() error {
		s, ok := d.buffers[src]
		t, ok2 := d.buffers[dst]
		if !ok || !ok2 || s.memory == nil || t.memory == nil {
			return errors.New("copy between unknown or unbound buffers")
		}
		if s.usage&vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) == 0 {
			return errors.New("copy source lacks TRANSFER_SRC usage")
		}
		if t.usage&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit) == 0 {
			return errors.New("copy destination lacks TRANSFER_DST usage")
		}
		for _, r := range regions {
			if r.SrcOffset+r.Size > s.size || r.DstOffset+r.Size > t.size {
				return errors.Newf("copy region %+v out of range", r)
			}
			copy(t.memory.data[r.DstOffset:r.DstOffset+r.Size], s.memory.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	})
}

func (d *fakeDriver) CmdCopyImage(commandBuffer vk.CommandBuffer, src vk.Image, srcLayout vk.ImageLayout, dst vk.Image, dstLayout vk.ImageLayout, regions []vk.ImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regions = append([]vk.ImageCopy(nil), regions...)
	d.record(commandBuffer, func() error {
		s, ok := d.images[src]
		t, ok2 := d.images[dst]
		if !ok || !ok2 || s.memory == nil || t.memory == nil {
			return errors.New("copy between unknown or unbound images")
		}
		if s.layout != srcLayout || t.layout != dstLayout {
			return errors.Newf("image layouts %d/%d do not match copy layouts %d/%d", s.layout, t.layout, srcLayout, dstLayout)
		}
		for _, r := range regions {
			if r.Extent.Width > s.width || r.Extent.Width > t.width || r.Extent.Height > s.height || r.Extent.Height > t.height {
				return errors.Newf("copy extent %dx%d out of range", r.Extent.Width, r.Extent.Height)
			}
			rowBytes := vk.DeviceSize(r.Extent.Width) * 4
			for y := vk.DeviceSize(0); y < vk.DeviceSize(r.Extent.Height); y++ {
				copy(t.memory.data[y*t.rowPitch:y*t.rowPitch+rowBytes], s.memory.data[y*s.rowPitch:y*s.rowPitch+rowBytes])
			}
		}
		return nil
	})
}

func (d *fakeDriver) CmdPipelineBarrier(commandBuffer vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	barriers = append([]vk.ImageMemoryBarrier(nil), barriers...)
	for _, b := range barriers {
		d.barriers = append(d.barriers, recordedBarrier{srcStage: srcStage, dstStage: dstStage, barrier: b})
	}
	d.record(commandBuffer, func() error {
		for _, b := range barriers {
			img, ok := d.images[b.Image]
			if !ok {
				return errors.New("barrier on unknown image")
			}
			img.layout = b.NewLayout
		}
		return nil
	})
}

func (d *fakeDriver) QueueSubmit(queue vk.Queue, commandBuffer vk.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if queue == nil {
		return errors.New("submitting to a nil queue")
	}
	cb, ok := d.commandBuffers[commandBuffer]
	if !ok || cb.recording {
		return errors.New("submitting a command buffer that is not executable")
	}
	d.submissions++
	for _, command := range cb.commands {
		if err := command(); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDriver) QueueWaitIdle(queue vk.Queue) error {
	return nil
}

func (d *fakeDriver) liveObjects() (buffers, images, memories, pools, commandBuffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.images), len(d.memories), len(d.pools), len(d.commandBuffers)
}

func (d *fakeDriver) submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

func (d *fakeDriver) recordedBarriers() []recordedBarrier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedBarrier(nil), d.barriers...)
}

func (d *fakeDriver) imageData(image vk.Image) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, ok := d.images[image]
	if !ok || img.memory == nil {
		return nil
	}
	return append([]byte(nil), img.memory.data...)
}

func (d *fakeDriver) imageLayout(image vk.Image) vk.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.images[image].layout
}
