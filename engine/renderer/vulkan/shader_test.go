package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/require"
)

func TestShaderModuleCreateInfo(t *testing.T) {
	testCases := map[string]struct {
		Code []uint32

		ExpectedSize uint64
	}{
		"HeaderOnly": {
			Code:         []uint32{0x07230203, 0x00010000, 0, 1, 0},
			ExpectedSize: 20,
		},
		"SingleWord": {
			Code:         []uint32{0x07230203},
			ExpectedSize: 4,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			info := shaderModuleCreateInfo(testCase.Code)
			require.Equal(t, vk.StructureTypeShaderModuleCreateInfo, info.SType)
			require.Equal(t, testCase.ExpectedSize, info.CodeSize)
			require.Equal(t, testCase.Code, info.PCode)
		})
	}
}

func TestNewShaderStageRejectsEmptyCode(t *testing.T) {
	_, err := NewShaderStage(nil, nil, vk.ShaderStageVertexBit)
	require.Error(t, err)
}
