package pipeline

import (
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with a vertex and an optional fragment shader.
	PipelineTypeRender
)

// Dispatch is the view of a compute dispatch handed to a Kernel by the software backend.
// Buffers and textures are resolved from the bind group providers passed to the dispatch,
// so a kernel sees exactly what the WGSL entry point would see.
type Dispatch interface {
	// Workgroups returns the dispatched workgroup counts.
	Workgroups() [3]uint32

	// WorkgroupSize returns the @workgroup_size reflected from the compute shader.
	WorkgroupSize() [3]uint32

	// Buffer returns the backing bytes of the buffer bound at group/binding. Writes are
	// visible to later commands. Returns nil if nothing is bound.
	Buffer(group, binding int) []byte

	// Texture returns the texels and dimensions of the depth texture bound at group/binding.
	Texture(group, binding int) (texels []float32, width, height uint32)
}

// Kernel is the CPU rendition of a compute shader's entry point, executed by the software
// backend once per dispatch. It must produce the same buffer contents as the WGSL.
type Kernel func(d Dispatch) error

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string

	vertexShader, fragmentShader, computeShader shader.Shader

	// kernel is the CPU entry point used when the pipeline runs on the software backend.
	kernel Kernel

	// compiled is the backend object, *wgpu.RenderPipeline or *wgpu.ComputePipeline for WebGPU.
	compiled any

	// Render state. Compute pipelines keep the defaults and ignore them.

	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	frontFace           wgpu.FrontFace
	writeMask           wgpu.ColorWriteMask
	blendState          *wgpu.BlendState
}

// Pipeline describes a GPU pipeline: a compute shader, or a vertex shader with an optional
// fragment shader plus the fixed-function state needed to build it.
type Pipeline interface {
	// Type returns the type of the pipeline
	//
	// Returns:
	//   - PipelineType: the type of the pipeline (render or compute)
	Type() PipelineType

	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Shader retrieves the shader associated with the specified type if it exists, nil otherwise.
	//
	// Parameters:
	//   - shaderType: the type of shader to retrieve (vertex, fragment, or compute)
	//
	// Returns:
	//   - shader.Shader: the shader associated with the specified type, or nil if not set
	Shader(shaderType shader.ShaderType) shader.Shader

	// Kernel returns the CPU entry point for compute pipelines, or nil.
	Kernel() Kernel

	// Pipeline returns the backend object set by SetPipeline.
	// The caller is responsible for type asserting the returned value.
	//
	// Returns:
	//   - any: the backend pipeline object, nil before registration
	Pipeline() any

	// SetPipeline stores the backend object created at registration.
	SetPipeline(p any)

	// DepthOnly reports whether the render pipeline has no fragment stage.
	DepthOnly() bool

	DepthWriteEnabled() bool
	DepthBias() int32
	DepthBiasSlopeScale() float32
	BlendEnabled() bool
	CullMode() wgpu.CullMode
	FrontFace() wgpu.FrontFace
	WriteMask() wgpu.ColorWriteMask

	// BlendState returns the blend state configured for this pipeline.
	//
	// Returns:
	//   - *wgpu.BlendState: the blend state, or nil when blending is disabled
	BlendState() *wgpu.BlendState
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new Pipeline. A PipelineType must be specified upon creation.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - pipelineType: the type of pipeline to create (render or compute)
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline instance with the specified type and configuration
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:       pipelineKey,
		pipelineType:      pipelineType,
		depthWriteEnabled: true,
		cullMode:          wgpu.CullModeBack,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.blendEnabled && p.blendState == nil {
		p.blendState = &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		}
	}
	return p
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	default:
		return nil
	}
}

func (p *pipeline) Kernel() Kernel {
	return p.kernel
}

func (p *pipeline) Pipeline() any {
	return p.compiled
}

func (p *pipeline) SetPipeline(compiled any) {
	p.compiled = compiled
}

func (p *pipeline) DepthOnly() bool {
	return p.pipelineType == PipelineTypeRender && p.fragmentShader == nil
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) DepthBias() int32 {
	return p.depthBias
}

func (p *pipeline) DepthBiasSlopeScale() float32 {
	return p.depthBiasSlopeScale
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	if !p.blendEnabled {
		return nil
	}
	return p.blendState
}
