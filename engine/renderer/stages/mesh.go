package stages

import (
	"image"
	"image/color"
	"math"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/loov/hrtime"
	"github.com/spaghettifunk/smallworld/engine/core"
	"github.com/spaghettifunk/smallworld/engine/renderer/vulkan"
)

const (
	uniformBinding = 0
	textureBinding = 1

	checkerSize = 8
)

// MeshAssets is where a MeshStage reads its shaders and texture from.
type MeshAssets interface {
	LoadShader(name string) ([]uint32, error)
	LoadTexture(name string) (image.Image, error)
}

type MeshConfig struct {
	Mesh Mesh
	// Shader asset names, e.g. "mesh.vert".
	VertexShader   string
	FragmentShader string
	// Optional, a checkerboard is used when empty or unreadable.
	Texture        string
	RotationPeriod time.Duration
}

// MeshStage draws one textured, indexed mesh spinning about the Y axis.
type MeshStage struct {
	config MeshConfig
	assets MeshAssets

	device    vk.Device
	resources *vulkan.ResourceManager

	vertexShader   *vulkan.ShaderStage
	fragmentShader *vulkan.ShaderStage

	vertexBuffer  *vulkan.Buffer
	indexBuffer   *vulkan.Buffer
	uniformBuffer *vulkan.Buffer

	texture     *vulkan.Image
	textureView vk.ImageView
	sampler     vk.Sampler

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSet       vk.DescriptorSet

	pipeline           *vulkan.Pipeline
	pipelineRenderPass vk.RenderPass
	pipelineExtent     vk.Extent2D

	aspectRatio float32
	start       time.Duration
}

func NewMeshStage(config MeshConfig, assets MeshAssets) *MeshStage {
	if config.RotationPeriod <= 0 {
		config.RotationPeriod = 10 * time.Second
	}
	return &MeshStage{
		config:      config,
		assets:      assets,
		aspectRatio: 1,
	}
}

func (s *MeshStage) Initialise(device vk.Device, resources *vulkan.ResourceManager) error {
	if len(s.config.Mesh.Vertices) == 0 || len(s.config.Mesh.Indices) == 0 {
		return errors.New("mesh stage needs vertices and indices")
	}
	s.device = device
	s.resources = resources
	s.start = hrtime.Now()

	if err := s.initialise(); err != nil {
		s.Release(device)
		return err
	}
	core.LogDebug("Mesh stage initialised with %d vertices and %d indices.", len(s.config.Mesh.Vertices), len(s.config.Mesh.Indices))
	return nil
}

func (s *MeshStage) initialise() error {
	var err error
	if s.vertexShader, s.fragmentShader, err = s.loadShaders(); err != nil {
		return err
	}
	if err := s.createBuffers(); err != nil {
		return err
	}
	if err := s.createTexture(); err != nil {
		return err
	}
	return s.createDescriptors()
}

func (s *MeshStage) loadShaders() (*vulkan.ShaderStage, *vulkan.ShaderStage, error) {
	vertCode, err := s.assets.LoadShader(s.config.VertexShader)
	if err != nil {
		return nil, nil, err
	}
	fragCode, err := s.assets.LoadShader(s.config.FragmentShader)
	if err != nil {
		return nil, nil, err
	}

	vert, err := vulkan.NewShaderStage(s.device, vertCode, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "vertex shader %s", s.config.VertexShader)
	}
	frag, err := vulkan.NewShaderStage(s.device, fragCode, vk.ShaderStageFragmentBit)
	if err != nil {
		vert.Destroy(s.device)
		return nil, nil, errors.Wrapf(err, "fragment shader %s", s.config.FragmentShader)
	}
	return vert, frag, nil
}

func (s *MeshStage) createBuffers() error {
	deviceLocal := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	transferDst := vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	mesh := s.config.Mesh

	var err error
	s.vertexBuffer, err = s.resources.CreateBuffer(
		vk.DeviceSize(len(mesh.Vertices))*vk.DeviceSize(unsafe.Sizeof(Vertex{})),
		transferDst|vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), deviceLocal)
	if err != nil {
		return err
	}
	if err := vulkan.UpdateBuffer(s.resources, s.vertexBuffer, mesh.Vertices, 0); err != nil {
		return errors.Wrap(err, "uploading vertices")
	}

	s.indexBuffer, err = s.resources.CreateBuffer(
		vk.DeviceSize(len(mesh.Indices))*vk.DeviceSize(unsafe.Sizeof(uint16(0))),
		transferDst|vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit), deviceLocal)
	if err != nil {
		return err
	}
	if err := vulkan.UpdateBuffer(s.resources, s.indexBuffer, mesh.Indices, 0); err != nil {
		return errors.Wrap(err, "uploading indices")
	}

	s.uniformBuffer, err = s.resources.CreateBuffer(
		vk.DeviceSize(unsafe.Sizeof(UniformBufferObject{})),
		transferDst|vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), deviceLocal)
	if err != nil {
		return err
	}
	return s.Update()
}

func (s *MeshStage) createTexture() error {
	img := checkerboard(checkerSize)
	if s.config.Texture != "" {
		loaded, err := s.assets.LoadTexture(s.config.Texture)
		if err != nil {
			core.LogWarn("Texture %s unavailable, using a checkerboard: %s", s.config.Texture, err)
		} else {
			img = loaded
		}
	}

	var err error
	if s.texture, err = s.resources.UploadTexture(img); err != nil {
		return errors.Wrap(err, "uploading texture")
	}
	if s.textureView, err = vulkan.NewImageView(s.device, s.texture.Handle, s.texture.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
		return err
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(s.device, &samplerInfo, nil, &sampler); res != vk.Success {
		return errors.Wrapf(vk.Error(res), "vkCreateSampler")
	}
	s.sampler = sampler
	return nil
}

func (s *MeshStage) createDescriptors() error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         uniformBinding,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
		{
			Binding:         textureBinding,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(s.device, &layoutInfo, nil, &layout); res != vk.Success {
		return errors.Wrapf(vk.Error(res), "vkCreateDescriptorSetLayout")
	}
	s.descriptorSetLayout = layout

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(s.device, &poolInfo, nil, &pool); res != vk.Success {
		return errors.Wrapf(vk.Error(res), "vkCreateDescriptorPool")
	}
	s.descriptorPool = pool

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     s.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{s.descriptorSetLayout},
	}
	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(s.device, &allocInfo, &set); res != vk.Success {
		return errors.Wrapf(vk.Error(res), "vkAllocateDescriptorSets")
	}
	s.descriptorSet = set

	writes := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.descriptorSet,
			DstBinding:      uniformBinding,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: s.uniformBuffer.Handle,
				Offset: 0,
				Range:  s.uniformBuffer.Size,
			}},
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.descriptorSet,
			DstBinding:      textureBinding,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     s.sampler,
				ImageView:   s.textureView,
				ImageLayout: s.texture.Layout(),
			}},
		},
	}
	vk.UpdateDescriptorSets(s.device, uint32(len(writes)), writes, 0, nil)
	return nil
}

// Bind records the draw. The pipeline is rebuilt only when the render pass or
// extent differs from the one it was built for, so every swapchain image
// shares it.
func (s *MeshStage) Bind(device vk.Device, renderPass vk.RenderPass, commandBuffer vk.CommandBuffer, extent vk.Extent2D) error {
	if extent.Height > 0 {
		s.aspectRatio = float32(extent.Width) / float32(extent.Height)
	}
	if s.pipeline == nil || s.pipelineRenderPass != renderPass || s.pipelineExtent != extent {
		if err := s.createPipeline(renderPass, extent); err != nil {
			return err
		}
	}

	s.pipeline.Bind(commandBuffer, vk.PipelineBindPointGraphics)
	vk.CmdBindVertexBuffers(commandBuffer, 0, 1, []vk.Buffer{s.vertexBuffer.Handle}, []vk.DeviceSize{0})
	vk.CmdBindIndexBuffer(commandBuffer, s.indexBuffer.Handle, 0, vk.IndexTypeUint16)
	vk.CmdBindDescriptorSets(commandBuffer, vk.PipelineBindPointGraphics, s.pipeline.PipelineLayout, 0, 1, []vk.DescriptorSet{s.descriptorSet}, 0, nil)
	vk.CmdDrawIndexed(commandBuffer, uint32(len(s.config.Mesh.Indices)), 1, 0, 0, 0)
	return nil
}

func (s *MeshStage) createPipeline(renderPass vk.RenderPass, extent vk.Extent2D) error {
	s.destroyPipeline()

	pipeline, err := vulkan.NewGraphicsPipeline(s.device, &vulkan.PipelineConfig{
		RenderPass:           &vulkan.RenderPass{Handle: renderPass},
		Stride:               vertexStride(),
		Attributes:           vertexAttributes(),
		DescriptorSetLayouts: []vk.DescriptorSetLayout{s.descriptorSetLayout},
		Stages: []vk.PipelineShaderStageCreateInfo{
			s.vertexShader.ShaderStageCreateInfo,
			s.fragmentShader.ShaderStageCreateInfo,
		},
		Extent:     extent,
		CullMode:   vulkan.FaceCullModeBack,
		DepthTest:  true,
		DepthWrite: true,
	})
	if err != nil {
		return errors.Wrap(err, "mesh pipeline")
	}
	s.pipeline = pipeline
	s.pipelineRenderPass = renderPass
	s.pipelineExtent = extent
	return nil
}

func (s *MeshStage) destroyPipeline() {
	if s.pipeline != nil {
		s.pipeline.Destroy(s.device)
		s.pipeline = nil
	}
	s.pipelineRenderPass = vk.NullRenderPass
	s.pipelineExtent = vk.Extent2D{}
}

// Update spins the world matrix and uploads the uniforms.
func (s *MeshStage) Update() error {
	angle := rotationAngle(hrtime.Since(s.start), s.config.RotationPeriod)
	return vulkan.UpdateBufferValue(s.resources, s.uniformBuffer, uniforms(angle, s.aspectRatio), 0)
}

// Reload rebuilds the shader modules when name is one of them. The old
// modules and pipeline stay in use when the new code fails to load.
func (s *MeshStage) Reload(device vk.Device, name string) (bool, error) {
	if name != s.config.VertexShader && name != s.config.FragmentShader {
		return false, nil
	}

	vert, frag, err := s.loadShaders()
	if err != nil {
		return false, errors.Wrapf(err, "reloading %s", name)
	}

	// Recorded command buffers still reference the old pipeline.
	if res := vk.DeviceWaitIdle(device); res != vk.Success {
		vert.Destroy(device)
		frag.Destroy(device)
		return false, errors.Wrapf(vk.Error(res), "vkDeviceWaitIdle")
	}
	s.destroyPipeline()
	s.vertexShader.Destroy(device)
	s.fragmentShader.Destroy(device)
	s.vertexShader, s.fragmentShader = vert, frag

	core.LogInfo("Reloaded mesh shaders after %s changed.", name)
	return true, nil
}

// Release destroys everything the stage created. It tolerates a partially
// initialised stage.
func (s *MeshStage) Release(device vk.Device) {
	s.destroyPipeline()
	if s.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, s.descriptorPool, nil)
		s.descriptorPool = vk.NullDescriptorPool
		s.descriptorSet = vk.NullDescriptorSet
	}
	if s.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, s.descriptorSetLayout, nil)
		s.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
	if s.sampler != vk.NullSampler {
		vk.DestroySampler(device, s.sampler, nil)
		s.sampler = vk.NullSampler
	}
	if s.textureView != vk.NullImageView {
		vk.DestroyImageView(device, s.textureView, nil)
		s.textureView = vk.NullImageView
	}
	s.texture.Release()
	s.uniformBuffer.Release()
	s.indexBuffer.Release()
	s.vertexBuffer.Release()
	if s.vertexShader != nil {
		s.vertexShader.Destroy(device)
	}
	if s.fragmentShader != nil {
		s.fragmentShader.Destroy(device)
	}
}

// rotationAngle is the angle in radians after elapsed time for one full turn
// every period.
func rotationAngle(elapsed, period time.Duration) float32 {
	turns := math.Mod(elapsed.Seconds(), period.Seconds()) / period.Seconds()
	return float32(2 * math.Pi * turns)
}

func uniforms(angle, aspectRatio float32) UniformBufferObject {
	projection := mgl32.Perspective(math.Pi/4, aspectRatio, 0.1, 10)
	// Vulkan clip space has Y pointing down.
	projection.Set(1, 1, -projection.At(1, 1))

	return UniformBufferObject{
		World:      mgl32.HomogRotate3DY(angle),
		View:       mgl32.LookAtV(mgl32.Vec3{0, 0, -3}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}),
		Projection: projection,
	}
}

func checkerboard(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	light := color.RGBA{R: 230, G: 230, B: 230, A: 255}
	dark := color.RGBA{R: 40, G: 40, B: 40, A: 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, light)
			} else {
				img.SetRGBA(x, y, dark)
			}
		}
	}
	return img
}
