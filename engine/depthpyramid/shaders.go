package depthpyramid

import (
	_ "embed"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// GPUPyramidParamsSource is the canonical WGSL definition of PyramidParams.
// Matches GPUPyramidParams layout exactly (80 bytes).
//
//go:embed assets/pyramid_params.wgsl
var GPUPyramidParamsSource string

// copySource writes mip 0: the MIN over each mip 0 texel's footprint in the depth target.
//
//go:embed assets/copy.wgsl
var copySource string

// downsampleSource builds mips 1..11 in one dispatch. Each workgroup reduces a 32x32 mip 0
// tile to mips 1..5 in workgroup memory; the last group to finish, detected through the
// atomic counter, reduces the remaining mips.
//
//go:embed assets/downsample.wgsl
var downsampleSource string

func shaderOptions() []shader.ShaderBuilderOption {
	return []shader.ShaderBuilderOption{
		shader.WithIncludes(map[string]string{"pyramid_params": GPUPyramidParamsSource}),
	}
}
