package depthpyramid

import (
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// GPUPyramidParams mirrors PyramidParams in the pyramid shaders (80 bytes, uniform).
// MipOffsets is declared as array<vec4u, 3> on the GPU side.
type GPUPyramidParams struct {
	SrcWidth   uint32
	SrcHeight  uint32
	Width      uint32
	Height     uint32
	Mips       uint32
	GroupsX    uint32
	GroupsY    uint32
	_          uint32
	MipOffsets [MaxMips]uint32
}

// Size returns the size of the GPUPyramidParams struct in bytes.
func (p *GPUPyramidParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the params for upload.
func (p *GPUPyramidParams) Marshal() []byte {
	return common.StructToBytes(p)
}
