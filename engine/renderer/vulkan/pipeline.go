package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

type FaceCullMode int

const (
	FaceCullModeBack FaceCullMode = iota
	FaceCullModeNone
	FaceCullModeFront
	FaceCullModeFrontAndBack
)

// Pipeline holds a graphics pipeline and its layout.
type Pipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
}

type PipelineConfig struct {
	RenderPass *RenderPass
	// Stride of one vertex in the bound vertex buffer.
	Stride               uint32
	Attributes           []vk.VertexInputAttributeDescription
	DescriptorSetLayouts []vk.DescriptorSetLayout
	Stages               []vk.PipelineShaderStageCreateInfo
	// Viewport and scissor are fixed to the full extent.
	Extent      vk.Extent2D
	CullMode    FaceCullMode
	IsWireframe bool
	DepthTest   bool
	DepthWrite  bool
}

func (c FaceCullMode) flags() vk.CullModeFlags {
	switch c {
	case FaceCullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case FaceCullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case FaceCullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

func NewGraphicsPipeline(device vk.Device, config *PipelineConfig) (*Pipeline, error) {
	if config.RenderPass == nil {
		return nil, errors.New("graphics pipeline requires a render pass")
	}
	outPipeline := &Pipeline{}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			X:        0,
			Y:        0,
			Width:    float32(config.Extent.Width),
			Height:   float32(config.Extent.Height),
			MinDepth: 0.0,
			MaxDepth: 1.0,
		}},
		ScissorCount: 1,
		PScissors: []vk.Rect2D{{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: config.Extent,
		}},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                config.CullMode.flags(),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if config.IsWireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.False,
		DepthWriteEnable:      vk.False,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	// Vertex input
	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    config.Stride,
		InputRate: vk.VertexInputRateVertex,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(config.Attributes)),
		PVertexAttributeDescriptions:    config.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(config.DescriptorSetLayouts)),
		PSetLayouts:    config.DescriptorSetLayouts,
	}

	if err := lockPool.SafeCall(PipelineManagement, func() error {
		var pipelineLayout vk.PipelineLayout
		if err := checkResult(vk.CreatePipelineLayout(device, &pipelineLayoutCreateInfo, nil, &pipelineLayout), "vkCreatePipelineLayout"); err != nil {
			return err
		}
		outPipeline.PipelineLayout = pipelineLayout
		return nil
	}); err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.RenderPass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		return checkResult(vk.CreateGraphicsPipelines(
			device,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			nil,
			pipelines), "vkCreateGraphicsPipelines")
	}); err != nil {
		outPipeline.Destroy(device)
		return nil, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("Graphics pipeline created!")
	return outPipeline, nil
}

// Destroy releases the pipeline and its layout. It is safe to call on a
// partially created pipeline.
func (pipeline *Pipeline) Destroy(device vk.Device) {
	_ = lockPool.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != vk.NullPipeline {
			vk.DestroyPipeline(device, pipeline.Handle, nil)
			pipeline.Handle = vk.NullPipeline
		}
		if pipeline.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(device, pipeline.PipelineLayout, nil)
			pipeline.PipelineLayout = vk.NullPipelineLayout
		}
		return nil
	})
}

func (pipeline *Pipeline) Bind(commandBuffer vk.CommandBuffer, bindPoint vk.PipelineBindPoint) {
	vk.CmdBindPipeline(commandBuffer, bindPoint, pipeline.Handle)
}
