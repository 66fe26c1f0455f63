package terrain

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

//go:embed assets/terrain.wgsl
var drawSource string

//go:embed assets/terrain_shadow.wgsl
var shadowSource string

const (
	PipelineKey       = "terrain_draw"
	ShadowPipelineKey = "terrain_shadow"
)

// ErrInvalidChunk is returned for chunks whose heights do not match their resolution.
var ErrInvalidChunk = errors.New("terrain: invalid chunk")

// Includes returns the WGSL include registry of the terrain structs.
func Includes() map[string]string {
	return map[string]string{
		"terrain_vertex": GPUVertexSource,
		"terrain_chunk":  GPUChunkSource,
	}
}

// Chunk is one square heightfield tile of the terrain grid.
type Chunk struct {
	// X and Z are the chunk's grid cell. The chunk covers [X*Size, (X+1)*Size) on both axes.
	X, Z int32

	// Size is the world edge length of the chunk.
	Size float32

	// Resolution is the number of quads per edge.
	Resolution int

	// Heights are (Resolution+1)^2 samples, row-major with Z as the row.
	Heights []float32

	Material string
}

// CellID packs a grid cell into the 32-bit id draws carry: X in the high half, Z in the
// low half, both truncated to 16 bits.
func CellID(x, z int32) uint32 {
	return uint32(uint16(x))<<16 | uint32(uint16(z))
}

// CellFromID reverses CellID.
func CellFromID(id uint32) (x, z int32) {
	return int32(int16(id >> 16)), int32(int16(id))
}

// SampleHeights evaluates fn on the chunk grid of cell (x, z).
//
// Parameters:
//   - x, z: the chunk cell
//   - size: chunk edge length
//   - resolution: quads per edge
//   - fn: height at a world position
//
// Returns:
//   - []float32: (resolution+1)^2 heights in Chunk order
func SampleHeights(x, z int32, size float32, resolution int, fn func(wx, wz float32) float32) []float32 {
	n := resolution + 1
	step := size / float32(resolution)
	heights := make([]float32, n*n)
	for j := range n {
		for i := range n {
			heights[j*n+i] = fn(float32(x)*size+float32(i)*step, float32(z)*size+float32(j)*step)
		}
	}
	return heights
}

// Renderer draws terrain chunks. Every chunk is one culled draw.
type Renderer struct {
	*culledrenderer.CulledRenderer[GPUVertex, GPUChunk]
}

// NewRenderer registers the terrain pipelines and creates the renderer.
func NewRenderer(r renderer.Renderer, params culledrenderer.Params) (*Renderer, error) {
	err := culledrenderer.RegisterPipelines(r, culledrenderer.PipelineSet{
		DrawKey:      PipelineKey,
		DrawSource:   drawSource,
		ShadowKey:    ShadowPipelineKey,
		ShadowSource: shadowSource,
		Includes:     Includes(),
	})
	if err != nil {
		return nil, err
	}
	params.Label = common.Coalesce(params.Label, "terrain")
	params.DrawPipeline = PipelineKey
	params.ShadowPipeline = ShadowPipelineKey
	params.Transparent = false
	cr, err := culledrenderer.New[GPUVertex, GPUChunk](r, params)
	if err != nil {
		return nil, err
	}
	return &Renderer{CulledRenderer: cr}, nil
}

// Prepare triangulates chunks into one load. Vertices are chunk-local, so the draw's
// bounds come from the chunk's cell and its height range.
//
// Parameters:
//   - chunks: the chunks to load together
//
// Returns:
//   - culledrenderer.LoadDesc: the load
//   - error: ErrInvalidChunk
func (tr *Renderer) Prepare(chunks ...Chunk) (culledrenderer.LoadDesc[GPUVertex, GPUChunk], error) {
	var desc culledrenderer.LoadDesc[GPUVertex, GPUChunk]
	for _, c := range chunks {
		n := c.Resolution + 1
		if c.Resolution <= 0 || c.Size <= 0 || len(c.Heights) != n*n {
			return desc, fmt.Errorf("chunk (%d, %d): resolution %d size %v with %d heights: %w",
				c.X, c.Z, c.Resolution, c.Size, len(c.Heights), ErrInvalidChunk)
		}
		firstIndex, baseVertex := len(desc.Indices), len(desc.Vertices)
		desc.Vertices = append(desc.Vertices, chunkVertices(c)...)
		desc.Indices = append(desc.Indices, chunkIndices(c.Resolution)...)

		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		for _, h := range c.Heights {
			lo, hi = min(lo, h), max(hi, h)
		}
		origin := [3]float32{float32(c.X) * c.Size, 0, float32(c.Z) * c.Size}
		desc.Instances = append(desc.Instances, culledrenderer.Instance[GPUChunk]{
			Data: GPUChunk{Origin: origin, Scale: 1},
			Draw: renderer.IndexedIndirectArgs{
				IndexCount: uint32(6 * c.Resolution * c.Resolution),
				FirstIndex: uint32(firstIndex),
				BaseVertex: int32(baseVertex),
			},
			Bounds: culling.NewCullingData(
				[3]float32{origin[0], lo, origin[2]},
				[3]float32{origin[0] + c.Size, hi, origin[2] + c.Size}),
			Material: c.Material,
			CellID:   CellID(c.X, c.Z),
		})
	}
	return desc, nil
}

// LoadChunks prepares and submits chunks as one reservation.
func (tr *Renderer) LoadChunks(chunks ...Chunk) (culledrenderer.Offsets, error) {
	desc, err := tr.Prepare(chunks...)
	if err != nil {
		return culledrenderer.Offsets{}, err
	}
	return tr.Submit(desc)
}

func chunkVertices(c Chunk) []GPUVertex {
	n := c.Resolution + 1
	step := c.Size / float32(c.Resolution)
	height := func(i, j int) float32 {
		return c.Heights[min(max(j, 0), n-1)*n+min(max(i, 0), n-1)]
	}
	vertices := make([]GPUVertex, 0, n*n)
	for j := range n {
		for i := range n {
			// Central differences, one-sided on the edges.
			dx := (height(i+1, j) - height(i-1, j)) / (float32(min(i+1, n-1)-max(i-1, 0)) * step)
			dz := (height(i, j+1) - height(i, j-1)) / (float32(min(j+1, n-1)-max(j-1, 0)) * step)
			nx, ny, nz := -dx, float32(1), -dz
			l := float32(math.Sqrt(float64(nx*nx + ny*ny + nz*nz)))
			vertices = append(vertices, GPUVertex{
				Position: [3]float32{float32(i) * step, height(i, j), float32(j) * step},
				Normal:   [3]float32{nx / l, ny / l, nz / l},
				TexCoord: [2]float32{float32(i) / float32(c.Resolution), float32(j) / float32(c.Resolution)},
			})
		}
	}
	return vertices
}

// chunkIndices winds every quad counter-clockwise seen from above.
func chunkIndices(resolution int) []uint32 {
	n := uint32(resolution + 1)
	indices := make([]uint32, 0, 6*resolution*resolution)
	for j := range uint32(resolution) {
		for i := range uint32(resolution) {
			a := j*n + i
			b, c, d := a+1, a+n, a+n+1
			indices = append(indices, a, c, b, b, c, d)
		}
	}
	return indices
}
