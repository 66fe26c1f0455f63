package culledrenderer

import (
	"maps"

	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// Shadow depth bias in the reverse-Z direction: pushes casters away from the light.
const (
	shadowDepthBias      = -2
	shadowDepthBiasSlope = -1.5
)

// DrawIncludes returns the include registry of the draw shaders: the culling structs, the
// camera uniform and the material entry, plus the category's own structs.
func DrawIncludes(extra map[string]string) map[string]string {
	includes := culling.Includes()
	includes["camera_uniform"] = camera.GPUCameraUniformSource
	includes["material"] = material.GPUMaterialSource
	maps.Copy(includes, extra)
	return includes
}

// PipelineSet describes the pipelines of one category.
type PipelineSet struct {
	DrawKey    string
	DrawSource string

	// ShadowKey and ShadowSource are optional. The shadow source has no fragment stage.
	ShadowKey    string
	ShadowSource string

	Includes    map[string]string
	Transparent bool

	// Blend replaces the straight alpha blending of a transparent draw.
	Blend *wgpu.BlendState
}

// RegisterPipelines compiles a category's shaders and registers its pipelines. Opaque draws
// test and write depth; transparent ones blend and only test it; shadow draws write depth
// with a slope bias.
//
// Parameters:
//   - r: the renderer
//   - set: keys, sources and includes
//
// Returns:
//   - error: a shader or pipeline error
func RegisterPipelines(r renderer.Renderer, set PipelineSet) error {
	if r.Pipeline(set.DrawKey) != nil {
		return nil
	}
	includes := shader.WithIncludes(DrawIncludes(set.Includes))
	vs, err := shader.NewShader(set.DrawKey+"_vs", shader.ShaderTypeVertex, set.DrawSource, includes)
	if err != nil {
		return err
	}
	fs, err := shader.NewShader(set.DrawKey+"_fs", shader.ShaderTypeFragment, set.DrawSource, includes)
	if err != nil {
		return err
	}
	opts := []pipeline.PipelineBuilderOption{pipeline.WithVertexShader(vs), pipeline.WithFragmentShader(fs)}
	if set.Transparent {
		opts = append(opts,
			pipeline.WithDepthWriteEnabled(false),
			pipeline.WithBlendEnabled(true),
			pipeline.WithCullMode(wgpu.CullModeNone))
		if set.Blend != nil {
			opts = append(opts, pipeline.WithBlendState(set.Blend))
		}
	}
	pipelines := []pipeline.Pipeline{pipeline.NewPipeline(set.DrawKey, pipeline.PipelineTypeRender, opts...)}

	if set.ShadowKey != "" {
		svs, err := shader.NewShader(set.ShadowKey+"_vs", shader.ShaderTypeVertex, set.ShadowSource, includes)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, pipeline.NewPipeline(set.ShadowKey, pipeline.PipelineTypeRender,
			pipeline.WithVertexShader(svs),
			pipeline.WithDepthBias(shadowDepthBias, shadowDepthBiasSlope),
			pipeline.WithCullMode(wgpu.CullModeNone)))
	}
	return r.RegisterPipelines(pipelines...)
}
