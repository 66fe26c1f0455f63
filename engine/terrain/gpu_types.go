package terrain

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// GPUVertexSource is the canonical WGSL definition of the TerrainVertexInput struct.
// Matches GPUVertex layout exactly (32 bytes).
//
//go:embed assets/terrain_vertex.wgsl
var GPUVertexSource string

// GPUVertex is one heightfield vertex in chunk-local space.
// Size: 32 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0: chunk-local position, scaled by the chunk (12 bytes)
	Normal   [3]float32 // offset 12: unit normal from central differences (12 bytes)
	TexCoord [2]float32 // offset 24: position within the chunk, 0 to 1 (8 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// GPUChunkSource is the canonical WGSL definition of the TerrainChunk struct.
// Matches GPUChunk layout exactly (16 bytes).
//
//go:embed assets/terrain_chunk.wgsl
var GPUChunkSource string

// GPUChunk is the instance record of a terrain chunk.
// Size: 16 bytes.
type GPUChunk struct {
	Origin [3]float32 // offset  0: world position of the chunk's minimum corner
	Scale  float32    // offset 12: world units per chunk-local unit
}

// Size returns the size of the GPUChunk struct in bytes.
func (g *GPUChunk) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUChunk struct into a byte buffer suitable for GPU upload.
func (g *GPUChunk) Marshal() []byte {
	return common.StructToBytes(g)
}
