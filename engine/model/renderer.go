package model

import (
	_ "embed"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/cogentcore/webgpu/wgpu"
)

// drawSource is the opaque model draw: instance transform, vertex color, material color
// and a fixed directional term.
//
//go:embed assets/model.wgsl
var drawSource string

//go:embed assets/model_shadow.wgsl
var shadowSource string

// transparentSource is the model draw with premultiplied alpha output.
//
//go:embed assets/model_transparent.wgsl
var transparentSource string

const (
	PipelineKey            = "model_draw"
	ShadowPipelineKey      = "model_shadow"
	TransparentPipelineKey = "model_transparent_draw"
)

// premultipliedBlend composites the transparent draw's premultiplied color.
var premultipliedBlend = &wgpu.BlendState{
	Color: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
	Alpha: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
}

// Includes returns the WGSL include registry of the model structs.
func Includes() map[string]string {
	return map[string]string{
		"model_vertex":   GPUVertexSource,
		"model_instance": GPUModelInstanceSource,
	}
}

// Renderer draws placed models. Every mesh of every placement is one culled draw.
type Renderer struct {
	*culledrenderer.CulledRenderer[GPUVertex, GPUModelInstance]

	mu  sync.Mutex
	ids map[string]uint32
}

// NewRenderer registers the model pipelines and creates the renderer. The label and
// pipelines of params are set here.
//
// Parameters:
//   - r: the renderer
//   - params: view count, culling flags and material table
//
// Returns:
//   - *Renderer: the model renderer
//   - error: a pipeline or buffer error
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
	params.Label = common.Coalesce(params.Label, "model")
	params.DrawPipeline = PipelineKey
	params.ShadowPipeline = ShadowPipelineKey
	params.Transparent = false
	return newRenderer(r, params)
}

// NewTransparentRenderer creates a renderer for see-through models. Its draws blend over
// the opaque frame with depth test but no depth write, so it takes no part in the
// occluder pre-pass and casts no shadows.
//
// Parameters:
//   - r: the renderer
//   - params: view count and material table; two-step culling and shadows are forced off
//
// Returns:
//   - *Renderer: the transparent model renderer
//   - error: a pipeline or buffer error
func NewTransparentRenderer(r renderer.Renderer, params culledrenderer.Params) (*Renderer, error) {
	err := culledrenderer.RegisterPipelines(r, culledrenderer.PipelineSet{
		DrawKey:     TransparentPipelineKey,
		DrawSource:  transparentSource,
		Includes:    Includes(),
		Transparent: true,
		Blend:       premultipliedBlend,
	})
	if err != nil {
		return nil, err
	}
	params.Label = common.Coalesce(params.Label, "model-transparent")
	params.DrawPipeline = TransparentPipelineKey
	params.ShadowPipeline = ""
	params.Transparent = true
	return newRenderer(r, params)
}

func newRenderer(r renderer.Renderer, params culledrenderer.Params) (*Renderer, error) {
	cr, err := culledrenderer.New[GPUVertex, GPUModelInstance](r, params)
	if err != nil {
		return nil, err
	}
	return &Renderer{CulledRenderer: cr, ids: make(map[string]uint32)}, nil
}

// ModelID returns the id draws of a model carry in their side table, assigning the next
// free id on first use.
func (mr *Renderer) ModelID(name string) uint32 {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	id, ok := mr.ids[name]
	if !ok {
		id = uint32(len(mr.ids))
		mr.ids[name] = id
	}
	return id
}

// Prepare builds the load of a model's placements. Vertices and indices are shared by
// every placement; each placement adds one draw per mesh, bounded by the mesh box moved
// into world space.
//
// Parameters:
//   - m: the model
//   - placements: where to draw it
//
// Returns:
//   - culledrenderer.LoadDesc: the load, ready for Reserve and Load
func (mr *Renderer) Prepare(m Model, placements []Placement) culledrenderer.LoadDesc[GPUVertex, GPUModelInstance] {
	id := mr.ModelID(m.Name())
	desc := culledrenderer.LoadDesc[GPUVertex, GPUModelInstance]{
		Vertices:  make([]GPUVertex, 0, m.VertexCount()),
		Indices:   make([]uint32, 0, m.IndexCount()),
		Instances: make([]culledrenderer.Instance[GPUModelInstance], 0, len(placements)*len(m.Meshes())),
	}
	type span struct{ firstIndex, baseVertex int }
	spans := make([]span, len(m.Meshes()))
	for k, mesh := range m.Meshes() {
		spans[k] = span{firstIndex: len(desc.Indices), baseVertex: len(desc.Vertices)}
		desc.Vertices = append(desc.Vertices, mesh.Vertices...)
		desc.Indices = append(desc.Indices, mesh.Indices...)
	}

	for _, p := range placements {
		world := p.Transform.Matrix()
		tint := p.Tint
		if tint == ([4]float32{}) {
			tint = [4]float32{1, 1, 1, 1}
		}
		for k, mesh := range m.Meshes() {
			boxMin, boxMax := TransformBounds(world, mesh.BoundingMin, mesh.BoundingMax)
			desc.Instances = append(desc.Instances, culledrenderer.Instance[GPUModelInstance]{
				Data: GPUModelInstance{Model: world, Tint: tint},
				Draw: renderer.IndexedIndirectArgs{
					IndexCount: uint32(len(mesh.Indices)),
					FirstIndex: uint32(spans[k].firstIndex),
					BaseVertex: int32(spans[k].baseVertex),
				},
				Bounds:   culling.NewCullingData(boxMin, boxMax),
				Material: mesh.Material,
				ModelID:  id,
			})
		}
	}
	return desc
}

// Spawn prepares and submits a model's placements.
//
// Parameters:
//   - m: the model
//   - placements: where to draw it
//
// Returns:
//   - culledrenderer.Offsets: where the load went
//   - error: a reserve or load error
func (mr *Renderer) Spawn(m Model, placements []Placement) (culledrenderer.Offsets, error) {
	return mr.Submit(mr.Prepare(m, placements))
}
