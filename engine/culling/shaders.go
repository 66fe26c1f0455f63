package culling

import (
	_ "embed"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// cullSource tests every draw against every view and writes one bitmask word per view
// per workgroup of 32 draws.
//
//go:embed assets/cull.wgsl
var cullSource string

// fillSource compacts the set bits of one view into indirect draw arguments.
//
//go:embed assets/fill.wgsl
var fillSource string

const (
	cullPipelineKey = "culling_cull"
	fillPipelineKey = "culling_fill"

	// cullWorkgroup matches @workgroup_size(32) of cull.wgsl: one bitmask word per group.
	cullWorkgroup = 32

	// fillWorkgroup matches @workgroup_size(64) of fill.wgsl.
	fillWorkgroup = 64
)

// Includes returns the WGSL include registry of the culling structs. Renderers add it to
// their draw shaders to read DrawCallData at instance_index.
func Includes() map[string]string {
	return map[string]string{
		"draw_args":      GPUDrawArgsSource,
		"draw_call_data": GPUDrawCallDataSource,
		"culling_data":   GPUCullingDataSource,
		"view":           GPUViewSource,
		"cull_constants": GPUCullConstantsSource,
		"fill_constants": GPUFillConstantsSource,
	}
}

func shaderOptions() []shader.ShaderBuilderOption {
	return []shader.ShaderBuilderOption{shader.WithIncludes(Includes())}
}
