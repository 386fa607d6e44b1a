package loaders

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

// SPIRVMagic is the first word of every little-endian SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

var ErrInvalidSPIRV = errors.New("invalid SPIR-V module")

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading shader %s", path)
	}
	code, err := DecodeSPIRV(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding shader %s", path)
	}
	return code, nil
}

// DecodeSPIRV turns a compiled module into the word slice Vulkan expects.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "size %d is not a positive multiple of 4", len(data))
	}

	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if code[0] != SPIRVMagic {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "magic 0x%08x", code[0])
	}
	return code, nil
}
