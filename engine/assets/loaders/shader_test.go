package loaders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeSPIRV(t *testing.T) {
	testCases := map[string]struct {
		Data []byte

		ExpectedCode []uint32
		ExpectError  bool
	}{
		"MagicOnly": {
			Data:         []byte{0x03, 0x02, 0x23, 0x07},
			ExpectedCode: []uint32{SPIRVMagic},
		},
		"LittleEndianWords": {
			Data:         []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x03, 0x01, 0x00},
			ExpectedCode: []uint32{SPIRVMagic, 0x00010300},
		},
		"Empty": {
			Data:        nil,
			ExpectError: true,
		},
		"PartialWord": {
			Data:        []byte{0x03, 0x02, 0x23, 0x07, 0x01},
			ExpectError: true,
		},
		"BigEndianMagic": {
			Data:        []byte{0x07, 0x23, 0x02, 0x03},
			ExpectError: true,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			code, err := DecodeSPIRV(testCase.Data)
			if testCase.ExpectError {
				require.ErrorIs(t, err, ErrInvalidSPIRV)
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.ExpectedCode, code)
		})
	}
}
