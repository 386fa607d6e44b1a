package vulkan

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	transferSrc = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	transferDst = vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	vertexUsage = vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	indexUsage  = vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
)

type testVertex struct {
	Position [3]float32
	Normal   [3]float32
}

func newTestManager(t *testing.T, types ...vk.MemoryPropertyFlags) (*ResourceManager, *fakeDriver) {
	driver := newFakeDriver(t, types...)
	manager, err := NewResourceManager(driver, vk.Queue(newFakeHandle()), 1)
	require.NoError(t, err)
	return manager, driver
}

func newDeviceBuffer(t *testing.T, m *ResourceManager, size vk.DeviceSize) *Buffer {
	buffer, err := m.CreateBuffer(size, vertexUsage|transferDst|transferSrc, deviceLocal)
	require.NoError(t, err)
	return buffer
}

func asBytes[T any](data []T) []byte {
	var zero T
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))...)
}

func decodeFloats(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func TestUpdateBufferRoundTrip(t *testing.T) {
	testCases := map[string]struct {
		Upload   func(m *ResourceManager, b *Buffer) error
		Expected []byte
	}{
		"Floats": {
			Upload: func(m *ResourceManager, b *Buffer) error {
				return UpdateBuffer(m, b, []float32{1, -2.5, 3.25, 1e-6}, 0)
			},
			Expected: asBytes([]float32{1, -2.5, 3.25, 1e-6}),
		},
		"Indices": {
			Upload: func(m *ResourceManager, b *Buffer) error {
				return UpdateBuffer(m, b, []uint16{0, 1, 2, 2, 3, 0}, 0)
			},
			Expected: asBytes([]uint16{0, 1, 2, 2, 3, 0}),
		},
		"SingleValue": {
			Upload: func(m *ResourceManager, b *Buffer) error {
				return UpdateBufferValue(m, b, testVertex{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 1, 0}}, 0)
			},
			Expected: asBytes([]testVertex{{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 1, 0}}}),
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, _ := newTestManager(t)
			defer manager.Destroy()

			buffer := newDeviceBuffer(t, manager, 64)
			require.NoError(t, testCase.Upload(manager, buffer))

			readBack, err := manager.ReadBuffer(buffer, vk.DeviceSize(len(testCase.Expected)))
			require.NoError(t, err)
			require.Equal(t, testCase.Expected, readBack)
		})
	}
}

func TestStagingCapacityGrowth(t *testing.T) {
	type upload struct {
		Elements int
		Offset   int
	}

	testCases := map[string]struct {
		Uploads          []upload
		ExpectedCapacity []vk.DeviceSize
	}{
		"SingleUpload": {
			Uploads:          []upload{{Elements: 4}},
			ExpectedCapacity: []vk.DeviceSize{16},
		},
		"SmallerUploadKeepsCapacity": {
			Uploads:          []upload{{Elements: 8}, {Elements: 2}},
			ExpectedCapacity: []vk.DeviceSize{32, 32},
		},
		"LargerUploadGrows": {
			Uploads:          []upload{{Elements: 2}, {Elements: 8}},
			ExpectedCapacity: []vk.DeviceSize{8, 32},
		},
		"OffsetCountsTowardsCapacity": {
			Uploads:          []upload{{Elements: 4}, {Elements: 4, Offset: 4}},
			ExpectedCapacity: []vk.DeviceSize{16, 32},
		},
		"ExactFitKeepsCapacity": {
			Uploads:          []upload{{Elements: 4}, {Elements: 2, Offset: 2}},
			ExpectedCapacity: []vk.DeviceSize{16, 16},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, _ := newTestManager(t)
			defer manager.Destroy()

			buffer := newDeviceBuffer(t, manager, 256)
			previous := manager.StagingCapacity()
			require.Zero(t, previous)

			for i, u := range testCase.Uploads {
				data := make([]float32, u.Elements)
				require.NoError(t, UpdateBuffer(manager, buffer, data, u.Offset))

				capacity := manager.StagingCapacity()
				required := vk.DeviceSize((u.Offset + u.Elements) * 4)
				require.GreaterOrEqual(t, capacity, previous, "capacity shrank")
				require.GreaterOrEqual(t, capacity, required)
				require.Equal(t, testCase.ExpectedCapacity[i], capacity)
				previous = capacity
			}
		})
	}
}

func TestUpdateBufferOffsetRewritesPrefix(t *testing.T) {
	testCases := map[string]struct {
		First    []float32
		Second   []float32
		Offset   int
		Expected []float32
	}{
		"StagingReused": {
			First:    []float32{1, 2, 3, 4},
			Second:   []float32{9, 9},
			Offset:   2,
			Expected: []float32{1, 2, 9, 9},
		},
		"StagingReallocated": {
			First:    []float32{1, 2},
			Second:   []float32{5, 6},
			Offset:   2,
			Expected: []float32{0, 0, 5, 6},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, _ := newTestManager(t)
			defer manager.Destroy()

			buffer := newDeviceBuffer(t, manager, 16)
			require.NoError(t, UpdateBuffer(manager, buffer, testCase.First, 0))
			require.NoError(t, UpdateBuffer(manager, buffer, testCase.Second, testCase.Offset))

			readBack, err := manager.ReadBuffer(buffer, 16)
			require.NoError(t, err)
			require.Equal(t, testCase.Expected, decodeFloats(readBack))
		})
	}
}

func TestUpdateBufferRejectsOversizedUploads(t *testing.T) {
	testCases := map[string]struct {
		Elements int
		Offset   int
	}{
		"TooManyElements": {Elements: 5},
		"OffsetPastEnd":   {Elements: 2, Offset: 3},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, driver := newTestManager(t)
			defer manager.Destroy()

			buffer := newDeviceBuffer(t, manager, 16)
			err := UpdateBuffer(manager, buffer, make([]float32, testCase.Elements), testCase.Offset)
			require.ErrorIs(t, err, ErrUploadOutOfRange)
			assert.Zero(t, driver.submitted())
			assert.Zero(t, manager.StagingCapacity())
		})
	}
}

func TestUpdateBufferInvalidTargets(t *testing.T) {
	manager, _ := newTestManager(t)
	defer manager.Destroy()

	buffer := newDeviceBuffer(t, manager, 16)
	require.Error(t, UpdateBuffer(manager, buffer, []float32{1}, -1))

	buffer.Release()
	require.ErrorIs(t, UpdateBuffer(manager, buffer, []float32{1}, 0), ErrResourceReleased)
	require.ErrorIs(t, UpdateBuffer(manager, nil, []float32{1}, 0), ErrResourceReleased)
}

func TestVertexUploadReadBack(t *testing.T) {
	const vertexCount = 64

	vertices := make([]testVertex, vertexCount)
	for i := range vertices {
		angle := float64(i) / vertexCount * 2 * math.Pi
		vertices[i] = testVertex{
			Position: [3]float32{float32(math.Cos(angle)), float32(math.Sin(angle)), float32(i) * 0.125},
			Normal:   [3]float32{0, 0, 1},
		}
	}
	size := vk.DeviceSize(vertexCount * unsafe.Sizeof(testVertex{}))

	manager, _ := newTestManager(t)
	defer manager.Destroy()

	buffer := newDeviceBuffer(t, manager, size)
	require.NoError(t, UpdateBuffer(manager, buffer, vertices, 0))

	readBack, err := manager.ReadBuffer(buffer, size)
	require.NoError(t, err)
	require.Len(t, readBack, int(size))

	got := unsafe.Slice((*testVertex)(unsafe.Pointer(&readBack[0])), vertexCount)
	for i := range vertices {
		require.Equal(t, vertices[i].Position, got[i].Position, "vertex %d", i)
		require.Equal(t, vertices[i].Normal, got[i].Normal, "vertex %d", i)
	}
}

func TestIndexUploadIntoIndexBuffer(t *testing.T) {
	manager, _ := newTestManager(t)
	defer manager.Destroy()

	indices := []uint16{0, 1, 2, 2, 3, 0}
	buffer, err := manager.CreateBuffer(12, indexUsage|transferDst|transferSrc, deviceLocal)
	require.NoError(t, err)
	require.NoError(t, UpdateBuffer(manager, buffer, indices, 0))

	readBack, err := manager.ReadBuffer(buffer, 12)
	require.NoError(t, err)
	for i, index := range indices {
		assert.Equal(t, index, binary.LittleEndian.Uint16(readBack[i*2:]))
	}
}

var layoutNames = map[vk.ImageLayout]string{
	vk.ImageLayoutPreinitialized:        "Preinitialized",
	vk.ImageLayoutTransferSrcOptimal:    "TransferSrc",
	vk.ImageLayoutTransferDstOptimal:    "TransferDst",
	vk.ImageLayoutShaderReadOnlyOptimal: "ShaderReadOnly",
}

func TestTransitionImageLayoutPairs(t *testing.T) {
	layouts := []vk.ImageLayout{
		vk.ImageLayoutPreinitialized,
		vk.ImageLayoutTransferSrcOptimal,
		vk.ImageLayoutTransferDstOptimal,
		vk.ImageLayoutShaderReadOnlyOptimal,
	}
	accepted := map[[2]vk.ImageLayout][2]vk.AccessFlags{
		{vk.ImageLayoutPreinitialized, vk.ImageLayoutTransferSrcOptimal}: {
			vk.AccessFlags(vk.AccessHostWriteBit), vk.AccessFlags(vk.AccessTransferReadBit),
		},
		{vk.ImageLayoutPreinitialized, vk.ImageLayoutTransferDstOptimal}: {
			vk.AccessFlags(vk.AccessHostWriteBit), vk.AccessFlags(vk.AccessTransferWriteBit),
		},
		{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit),
		},
	}
	topOfPipe := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)

	for _, oldLayout := range layouts {
		for _, newLayout := range layouts {
			name := fmt.Sprintf("%sTo%s", layoutNames[oldLayout], layoutNames[newLayout])
			t.Run(name, func(t *testing.T) {
				manager, driver := newTestManager(t)
				defer manager.Destroy()

				img, err := manager.CreateImage(4, 4, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
					vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
				require.NoError(t, err)

				err = manager.TransitionImageLayout(img.Handle, img.Format, oldLayout, newLayout)
				access, ok := accepted[[2]vk.ImageLayout{oldLayout, newLayout}]
				require.Equal(t, ok, IsSupportedTransition(oldLayout, newLayout))

				if !ok {
					require.ErrorIs(t, err, ErrUnsupportedLayoutTransition)
					assert.Empty(t, driver.recordedBarriers())
					assert.Zero(t, driver.submitted())
					return
				}

				require.NoError(t, err)
				barriers := driver.recordedBarriers()
				require.Len(t, barriers, 1)
				recorded := barriers[0]
				assert.Equal(t, topOfPipe, recorded.srcStage)
				assert.Equal(t, topOfPipe, recorded.dstStage)
				assert.Equal(t, oldLayout, recorded.barrier.OldLayout)
				assert.Equal(t, newLayout, recorded.barrier.NewLayout)
				assert.Equal(t, access[0], recorded.barrier.SrcAccessMask)
				assert.Equal(t, access[1], recorded.barrier.DstAccessMask)
				assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), recorded.barrier.SubresourceRange.AspectMask)
				assert.Equal(t, uint32(vk.QueueFamilyIgnored), recorded.barrier.SrcQueueFamilyIndex)
				assert.Equal(t, uint32(vk.QueueFamilyIgnored), recorded.barrier.DstQueueFamilyIndex)
				assert.Equal(t, newLayout, driver.imageLayout(img.Handle))
				assert.Equal(t, 1, driver.submitted())
			})
		}
	}
}

func TestDepthAttachmentTransition(t *testing.T) {
	depth := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	stencil := vk.ImageAspectFlags(vk.ImageAspectStencilBit)

	testCases := map[string]struct {
		Format         vk.Format
		ExpectedAspect vk.ImageAspectFlags
	}{
		"DepthOnly":       {Format: vk.FormatD32Sfloat, ExpectedAspect: depth},
		"Depth24Stencil8": {Format: vk.FormatD24UnormS8Uint, ExpectedAspect: depth | stencil},
		"Depth32Stencil8": {Format: vk.FormatD32SfloatS8Uint, ExpectedAspect: depth | stencil},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, driver := newTestManager(t)
			defer manager.Destroy()

			img, err := manager.CreateImage(8, 8, testCase.Format, vk.ImageTilingOptimal,
				vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit), deviceLocal)
			require.NoError(t, err)
			require.NoError(t, img.Transition(vk.ImageLayoutDepthStencilAttachmentOptimal))
			assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, img.Layout())

			barriers := driver.recordedBarriers()
			require.Len(t, barriers, 1)
			assert.Equal(t, testCase.ExpectedAspect, barriers[0].barrier.SubresourceRange.AspectMask)
			assert.Equal(t, vk.AccessFlags(0), barriers[0].barrier.SrcAccessMask)
			assert.Equal(t,
				vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit)|vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
				barriers[0].barrier.DstAccessMask)
		})
	}
}

func TestImageTransitionTracksLayout(t *testing.T) {
	manager, _ := newTestManager(t)
	defer manager.Destroy()

	img, err := manager.CreateImage(2, 2, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
	require.NoError(t, err)
	require.Equal(t, vk.ImageLayoutPreinitialized, img.Layout())

	require.NoError(t, img.Transition(vk.ImageLayoutTransferDstOptimal))
	require.Equal(t, vk.ImageLayoutTransferDstOptimal, img.Layout())

	require.ErrorIs(t, img.Transition(vk.ImageLayoutTransferSrcOptimal), ErrUnsupportedLayoutTransition)
	require.Equal(t, vk.ImageLayoutTransferDstOptimal, img.Layout())

	require.NoError(t, img.Transition(vk.ImageLayoutShaderReadOnlyOptimal))
	require.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, img.Layout())
}

func TestOneShotCommandBuffers(t *testing.T) {
	manager, driver := newTestManager(t)
	defer manager.Destroy()

	src := newDeviceBuffer(t, manager, 32)
	dst := newDeviceBuffer(t, manager, 32)
	require.NoError(t, manager.CopyBuffer(src.Handle, dst.Handle, 32))
	require.NoError(t, manager.CopyBuffer(src.Handle, dst.Handle, 16))

	assert.Equal(t, 2, driver.submitted())
	_, _, _, _, commandBuffers := driver.liveObjects()
	assert.Zero(t, commandBuffers, "one-shot command buffers must be freed")
	for _, flags := range driver.beginFlags {
		assert.Equal(t, vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit), flags)
	}
}

func TestUploadTexture(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			rgba.SetRGBA(x, y, color.RGBA{R: uint8(x * 80), G: uint8(y * 120), B: 7, A: 255})
		}
	}

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 0, color.Gray{Y: 200})
	gray.SetGray(0, 1, color.Gray{Y: 50})

	testCases := map[string]struct {
		Source   image.Image
		Expected []byte
	}{
		"RGBA": {
			Source:   rgba,
			Expected: rgba.Pix,
		},
		"GrayConverted": {
			Source: gray,
			Expected: []byte{
				0, 0, 0, 255, 200, 200, 200, 255,
				50, 50, 50, 255, 0, 0, 0, 255,
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager, driver := newTestManager(t)
			defer manager.Destroy()

			texture, err := manager.UploadTexture(testCase.Source)
			require.NoError(t, err)

			assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, texture.Layout())
			assert.Equal(t, testCase.Expected, driver.imageData(texture.Handle))
			assert.Equal(t, 1, manager.LiveResources(), "staging image must be released")

			_, images, _, _, _ := driver.liveObjects()
			assert.Equal(t, 1, images)
		})
	}
}

func TestUploadImageRejectsShortPixelData(t *testing.T) {
	manager, _ := newTestManager(t)
	defer manager.Destroy()

	_, err := manager.UploadImage(2, 2, vk.FormatR8g8b8a8Unorm, make([]byte, 15))
	require.Error(t, err)
	assert.Zero(t, manager.LiveResources())
}

func TestReleaseIsIdempotent(t *testing.T) {
	manager, driver := newTestManager(t)
	defer manager.Destroy()

	buffer := newDeviceBuffer(t, manager, 16)
	img, err := manager.CreateImage(2, 2, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
	require.NoError(t, err)
	require.Equal(t, 2, manager.LiveResources())

	buffer.Release()
	buffer.Release()
	img.Release()
	img.Release()

	assert.True(t, buffer.Released())
	assert.True(t, img.Released())
	assert.Zero(t, manager.LiveResources())

	buffers, images, memories, _, _ := driver.liveObjects()
	assert.Zero(t, buffers)
	assert.Zero(t, images)
	assert.Zero(t, memories)
}

func TestDestroyFreesLeakedResources(t *testing.T) {
	manager, driver := newTestManager(t)

	kept := newDeviceBuffer(t, manager, 16)
	released := newDeviceBuffer(t, manager, 16)
	img, err := manager.CreateImage(4, 4, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
	require.NoError(t, err)
	require.NoError(t, UpdateBuffer(manager, kept, []float32{1, 2}, 0))
	released.Release()

	manager.Destroy()
	manager.Destroy()

	buffers, images, memories, pools, commandBuffers := driver.liveObjects()
	assert.Zero(t, buffers)
	assert.Zero(t, images)
	assert.Zero(t, memories)
	assert.Zero(t, pools)
	assert.Zero(t, commandBuffers)
	assert.True(t, kept.Released())
	assert.True(t, img.Released())

	// releasing after the manager is gone must not touch the device again
	kept.Release()

	_, err = manager.CreateBuffer(16, vertexUsage, deviceLocal)
	require.ErrorIs(t, err, ErrManagerDestroyed)
	require.ErrorIs(t, manager.CopyBuffer(vk.NullBuffer, vk.NullBuffer, 4), ErrManagerDestroyed)
}

func TestCreateWithoutCompatibleMemory(t *testing.T) {
	manager, driver := newTestManager(t, deviceLocal)
	defer manager.Destroy()

	_, err := manager.CreateBuffer(16, transferSrc, hostVisible|hostCoherent)
	require.ErrorIs(t, err, ErrNoCompatibleMemoryType)

	target := newDeviceBuffer(t, manager, 16)
	err = UpdateBuffer(manager, target, []float32{1}, 0)
	require.ErrorIs(t, err, ErrNoCompatibleMemoryType)
	assert.Zero(t, manager.StagingCapacity())

	buffers, _, memories, _, _ := driver.liveObjects()
	assert.Equal(t, 1, buffers)
	assert.Equal(t, 1, memories)
}

func TestStats(t *testing.T) {
	manager, _ := newTestManager(t)
	defer manager.Destroy()

	buffer := newDeviceBuffer(t, manager, 64)
	_, err := manager.CreateImage(4, 4, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
	require.NoError(t, err)
	require.NoError(t, UpdateBuffer(manager, buffer, make([]float32, 4), 0))
	require.NoError(t, UpdateBuffer(manager, buffer, make([]float32, 8), 0))

	raw, err := manager.Stats()
	require.NoError(t, err)

	var stats struct {
		StagingCapacity      int
		StagingReallocations int
		LiveResources        int
		Resources            []struct {
			ID   string
			Type string
			Size int
		}
	}
	require.NoError(t, json.Unmarshal(raw, &stats))

	assert.Equal(t, 32, stats.StagingCapacity)
	assert.Equal(t, 2, stats.StagingReallocations)
	assert.Equal(t, 2, stats.LiveResources)
	require.Len(t, stats.Resources, 2)

	types := map[string]bool{}
	for _, r := range stats.Resources {
		types[r.Type] = true
		if r.Type == "buffer" {
			assert.Equal(t, buffer.ID.String(), r.ID)
			assert.Equal(t, 64, r.Size)
		}
	}
	assert.Equal(t, map[string]bool{"buffer": true, "image": true}, types)
}

func TestConcurrentUploadsAreSerialised(t *testing.T) {
	const uploaders = 8

	manager, _ := newTestManager(t)
	defer manager.Destroy()

	buffers := make([]*Buffer, uploaders)
	for i := range buffers {
		buffers[i] = newDeviceBuffer(t, manager, 64)
	}

	var group errgroup.Group
	for i := 0; i < uploaders; i++ {
		i := i
		group.Go(func() error {
			data := make([]float32, 4+i)
			for j := range data {
				data[j] = float32(i*100 + j)
			}
			if err := UpdateBuffer(manager, buffers[i], data, 0); err != nil {
				return err
			}
			readBack, err := manager.ReadBuffer(buffers[i], vk.DeviceSize(len(data)*4))
			if err != nil {
				return err
			}
			if got := decodeFloats(readBack); !assert.Equal(t, data, got) {
				return fmt.Errorf("uploader %d read back %v", i, got)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Equal(t, vk.DeviceSize(11*4), manager.StagingCapacity())
}

func TestBuffersHaveDistinctHandles(t *testing.T) {
	manager, driver := newTestManager(t)
	defer manager.Destroy()

	a := newDeviceBuffer(t, manager, 16)
	b := newDeviceBuffer(t, manager, 16)
	require.NotEqual(t, unsafe.Pointer(a.Handle), unsafe.Pointer(b.Handle))
	require.NotEqual(t, unsafe.Pointer(a.Memory), unsafe.Pointer(b.Memory))

	buffers, _, memories, _, _ := driver.liveObjects()
	require.Equal(t, 2, buffers)
	require.Equal(t, 2, memories)

	require.NoError(t, UpdateBuffer(manager, a, []float32{1, 2, 3, 4}, 0))

	readA, err := manager.ReadBuffer(a, 16)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, decodeFloats(readA))

	readB, err := manager.ReadBuffer(b, 16)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 0, 0}, decodeFloats(readB))
}

// allocationFailingDriver fails every memory allocation while fail is set.
type allocationFailingDriver struct {
	*fakeDriver
	fail bool
}

func (d *allocationFailingDriver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	if d.fail {
		return vk.NullDeviceMemory, errors.New("out of device memory")
	}
	return d.fakeDriver.AllocateMemory(info)
}

func TestFailedStagingGrowthKeepsCapacity(t *testing.T) {
	driver := &allocationFailingDriver{fakeDriver: newFakeDriver(t)}
	manager, err := NewResourceManager(driver, vk.Queue(newFakeHandle()), 1)
	require.NoError(t, err)
	defer manager.Destroy()

	buffer := newDeviceBuffer(t, manager, 256)
	require.NoError(t, UpdateBuffer(manager, buffer, make([]float32, 16), 0))
	require.Equal(t, vk.DeviceSize(64), manager.StagingCapacity())

	driver.fail = true
	require.Error(t, UpdateBuffer(manager, buffer, make([]float32, 32), 0))
	require.Equal(t, vk.DeviceSize(64), manager.StagingCapacity())

	buffers, _, memories, _, _ := driver.liveObjects()
	require.Equal(t, 2, buffers, "target and the previous staging buffer")
	require.Equal(t, 2, memories)

	// uploads that fit still go through the old staging buffer
	require.NoError(t, UpdateBuffer(manager, buffer, []float32{7, 8}, 0))

	driver.fail = false
	readBack, err := manager.ReadBuffer(buffer, 8)
	require.NoError(t, err)
	require.Equal(t, []float32{7, 8}, decodeFloats(readBack))
}

func TestReleasedImageRejectsTransfers(t *testing.T) {
	manager, driver := newTestManager(t)
	defer manager.Destroy()

	img, err := manager.CreateImage(2, 2, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit), deviceLocal)
	require.NoError(t, err)
	img.Release()

	require.ErrorIs(t, img.Transition(vk.ImageLayoutTransferDstOptimal), ErrResourceReleased)
	require.Equal(t, vk.ImageLayoutPreinitialized, img.Layout())
	require.ErrorIs(t,
		manager.TransitionImageLayout(img.Handle, img.Format, vk.ImageLayoutPreinitialized, vk.ImageLayoutTransferDstOptimal),
		ErrResourceReleased)
	require.ErrorIs(t, manager.CopyImage(img.Handle, img.Handle, 2, 2), ErrResourceReleased)

	assert.Zero(t, driver.submitted())
	assert.Empty(t, driver.recordedBarriers())
}
