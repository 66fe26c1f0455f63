package model

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUVertexSource is the canonical WGSL definition of the VertexInput struct for model pipelines.
// Matches GPUVertex layout exactly (64 bytes).
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUVertex is the GPU-aligned representation of a single model vertex.
// Matches the WGSL VertexInput struct layout exactly (see GPUVertexSource).
// Size: 64 bytes (tightly packed vertex attributes, no padding required).
type GPUVertex struct {
	Position [3]float32 // offset  0: vertex position in model space (12 bytes)
	Normal   [3]float32 // offset 12: vertex normal for lighting (12 bytes)
	TexCoord [2]float32 // offset 24: UV texture coordinate (8 bytes)
	Color    [4]float32 // offset 32: per-vertex RGBA color (16 bytes)
	Tangent  [4]float32 // offset 48: tangent vector (xyz) + handedness (w) (16 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 64)
	fields := [16]float32{
		g.Position[0], g.Position[1], g.Position[2],
		g.Normal[0], g.Normal[1], g.Normal[2],
		g.TexCoord[0], g.TexCoord[1],
		g.Color[0], g.Color[1], g.Color[2], g.Color[3],
		g.Tangent[0], g.Tangent[1], g.Tangent[2], g.Tangent[3],
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// GPUModelInstanceSource is the canonical WGSL definition of the ModelInstance struct.
// Matches GPUModelInstance layout exactly (80 bytes, std430 aligned).
//
//go:embed assets/model_instance.wgsl
var GPUModelInstanceSource string

// GPUModelInstance is the per-draw record of a placed mesh. The draw shader reaches it
// through DrawCallData.instance_id.
// Size: 80 bytes.
type GPUModelInstance struct {
	Model [16]float32 // offset  0: 4×4 model-to-world transform matrix (64 bytes)
	Tint  [4]float32  // offset 64: RGBA multiplied into the vertex color (16 bytes)
}

// Size returns the size of the GPUModelInstance struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUModelInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUModelInstance struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUModelInstance) Marshal() []byte {
	buf := make([]byte, 80)
	for i, f := range g.Model {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	for i, f := range g.Tint {
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(f))
	}
	return buf
}
