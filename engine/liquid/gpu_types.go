package liquid

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// GPUVertexSource is the canonical WGSL definition of the LiquidVertexInput struct.
// Matches GPUVertex layout exactly (16 bytes).
//
//go:embed assets/liquid_vertex.wgsl
var GPUVertexSource string

// GPUVertex is one liquid surface vertex relative to its patch origin.
// Size: 16 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0: patch-local position (12 bytes)
	Depth    float32    // offset 12: liquid depth below the surface, drives shore fade
}

// Size returns the size of the GPUVertex struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// GPUPatchSource is the canonical WGSL definition of the LiquidPatch struct.
// Matches GPUPatch layout exactly (32 bytes).
//
//go:embed assets/liquid_patch.wgsl
var GPUPatchSource string

// GPUPatch is the instance record of a liquid patch.
// Size: 32 bytes.
type GPUPatch struct {
	Origin  [3]float32 // offset  0: world position of the patch's minimum corner
	TypeID  uint32     // offset 12: liquid type
	Flow    [2]float32 // offset 16: surface flow direction and speed
	Opacity float32    // offset 24: alpha at full depth
	_pad    float32    // offset 28: padding to 32 bytes
}

// Size returns the size of the GPUPatch struct in bytes.
func (g *GPUPatch) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUPatch struct into a byte buffer suitable for GPU upload.
func (g *GPUPatch) Marshal() []byte {
	return common.StructToBytes(g)
}
