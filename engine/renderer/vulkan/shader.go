package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// ShaderStage is a shader module and the pipeline stage info pointing at its
// "main" entry point.
type ShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage creates a module from SPIR-V words.
func NewShaderStage(device vk.Device, code []uint32, stage vk.ShaderStageFlagBits) (*ShaderStage, error) {
	if len(code) == 0 {
		return nil, errors.New("empty shader code")
	}

	createInfo := shaderModuleCreateInfo(code)

	s := &ShaderStage{}
	if err := checkResult(vk.CreateShaderModule(device, &createInfo, nil, &s.Handle), "vkCreateShaderModule"); err != nil {
		return nil, err
	}

	s.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: s.Handle,
		PName:  VulkanSafeString("main"),
	}
	return s, nil
}

func (s *ShaderStage) Destroy(device vk.Device) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(device, s.Handle, nil)
		s.Handle = vk.NullShaderModule
	}
}

// shaderModuleCreateInfo sizes the module in bytes, not words.
func shaderModuleCreateInfo(code []uint32) vk.ShaderModuleCreateInfo {
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
}
