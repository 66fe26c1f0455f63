package material

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// GPUMaterialSource is the canonical WGSL definition of the Material struct.
// Matches GPUMaterial layout exactly (32 bytes, std430 aligned).
//
//go:embed assets/material.wgsl
var GPUMaterialSource string

// GPUMaterial is one entry of the material table. Draw shaders index the table with
// DrawCallData.texture_offset.
// Size: 32 bytes.
type GPUMaterial struct {
	BaseColor [4]float32 // offset  0: RGBA albedo
	Metallic  float32    // offset 16: 0 dielectric, 1 metal
	Roughness float32    // offset 20: 0 smooth, 1 rough
	_pad      [2]float32 // offset 24: padding to 32 bytes
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUMaterial) Marshal() []byte {
	return common.StructToBytes(g)
}
