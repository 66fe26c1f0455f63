package liquid

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

//go:embed assets/liquid.wgsl
var drawSource string

const PipelineKey = "liquid_draw"

// ErrInvalidPatch is returned for patches whose depths do not match their resolution.
var ErrInvalidPatch = errors.New("liquid: invalid patch")

// Includes returns the WGSL include registry of the liquid structs.
func Includes() map[string]string {
	return map[string]string{
		"liquid_vertex": GPUVertexSource,
		"liquid_patch":  GPUPatchSource,
	}
}

// Patch is a flat rectangle of liquid surface.
type Patch struct {
	TypeID uint32

	// Origin is the minimum corner; its Y is the surface height.
	Origin [3]float32

	// Size is the extent along X and Z.
	Size [2]float32

	// Resolution is the number of quads per edge.
	Resolution int

	// Depths are optional (Resolution+1)^2 liquid depths, row-major with Z as the row.
	// Without them the patch is uniformly deep.
	Depths []float32

	Flow [2]float32
}

// Renderer draws liquid surfaces after all opaque geometry. Liquid does not occlude and
// casts no shadows, so it never takes part in the occluder pre-pass or the cascades.
type Renderer struct {
	*culledrenderer.CulledRenderer[GPUVertex, GPUPatch]
	types *Types
}

// NewRenderer registers the liquid pipeline and creates the renderer.
//
// Parameters:
//   - r: the renderer
//   - params: view count and material table; two-step culling and shadows are forced off
//   - types: the liquid types; nil uses an empty registry
//
// Returns:
//   - *Renderer: the liquid renderer
//   - error: a pipeline or buffer error
func NewRenderer(r renderer.Renderer, params culledrenderer.Params, types *Types) (*Renderer, error) {
	err := culledrenderer.RegisterPipelines(r, culledrenderer.PipelineSet{
		DrawKey:     PipelineKey,
		DrawSource:  drawSource,
		Includes:    Includes(),
		Transparent: true,
	})
	if err != nil {
		return nil, err
	}
	params.Label = common.Coalesce(params.Label, "liquid")
	params.DrawPipeline = PipelineKey
	params.ShadowPipeline = ""
	params.Transparent = true
	cr, err := culledrenderer.New[GPUVertex, GPUPatch](r, params)
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = NewTypes()
	}
	return &Renderer{CulledRenderer: cr, types: types}, nil
}

// Types returns the type registry.
func (lr *Renderer) Types() *Types {
	return lr.types
}

// Prepare triangulates patches into one load, one draw per patch.
func (lr *Renderer) Prepare(patches ...Patch) (culledrenderer.LoadDesc[GPUVertex, GPUPatch], error) {
	var desc culledrenderer.LoadDesc[GPUVertex, GPUPatch]
	for _, p := range patches {
		n := p.Resolution + 1
		if p.Resolution <= 0 || p.Size[0] <= 0 || p.Size[1] <= 0 || (p.Depths != nil && len(p.Depths) != n*n) {
			return desc, fmt.Errorf("patch at %v: resolution %d size %v with %d depths: %w",
				p.Origin, p.Resolution, p.Size, len(p.Depths), ErrInvalidPatch)
		}
		typ := lr.types.resolve(p.TypeID)
		firstIndex, baseVertex := len(desc.Indices), len(desc.Vertices)

		var deepest float32 = 1
		for j := range n {
			for i := range n {
				depth := float32(1)
				if p.Depths != nil {
					depth = p.Depths[j*n+i]
				}
				deepest = max(deepest, depth)
				desc.Vertices = append(desc.Vertices, GPUVertex{
					Position: [3]float32{
						p.Size[0] * float32(i) / float32(p.Resolution),
						0,
						p.Size[1] * float32(j) / float32(p.Resolution),
					},
					Depth: depth,
				})
			}
		}
		for j := range uint32(p.Resolution) {
			for i := range uint32(p.Resolution) {
				a := j*uint32(n) + i
				b, c, d := a+1, a+uint32(n), a+uint32(n)+1
				desc.Indices = append(desc.Indices, a, c, b, b, c, d)
			}
		}

		// The box reaches down to the deepest point so the patch is kept while its bed is
		// visible through the surface.
		desc.Instances = append(desc.Instances, culledrenderer.Instance[GPUPatch]{
			Data: GPUPatch{Origin: p.Origin, TypeID: p.TypeID, Flow: p.Flow, Opacity: typ.Opacity},
			Draw: renderer.IndexedIndirectArgs{
				IndexCount: uint32(6 * p.Resolution * p.Resolution),
				FirstIndex: uint32(firstIndex),
				BaseVertex: int32(baseVertex),
			},
			Bounds: culling.NewCullingData(
				[3]float32{p.Origin[0], p.Origin[1] - deepest, p.Origin[2]},
				[3]float32{p.Origin[0] + p.Size[0], p.Origin[1], p.Origin[2] + p.Size[1]}),
			Material: typ.Material,
			ModelID:  p.TypeID,
		})
	}
	return desc, nil
}

// LoadPatches prepares and submits patches as one reservation.
func (lr *Renderer) LoadPatches(patches ...Patch) (culledrenderer.Offsets, error) {
	desc, err := lr.Prepare(patches...)
	if err != nil {
		return culledrenderer.Offsets{}, err
	}
	return lr.Submit(desc)
}
