package depthpyramid

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
)

const (
	// PassCopy is the name of the mip 0 copy pass.
	PassCopy = "depth-pyramid-copy"

	// PassDownsample is the name of the single-pass downsample.
	PassDownsample = "depth-pyramid-downsample"

	// Resource is the logical render graph resource of the pyramid buffer.
	Resource = "depth-pyramid"

	copyPipelineKey       = "depth_pyramid_copy"
	downsamplePipelineKey = "depth_pyramid_downsample"

	// copyWorkgroup matches @workgroup_size(8, 8) of copy.wgsl.
	copyWorkgroup = 8
)

// BuildParams configures AddBuildPasses.
type BuildParams struct {
	// Depth is the depth target to reduce.
	Depth common.TextureHandle

	// DepthResource is the render graph resource name of Depth.
	DepthResource string

	// Suffix is appended to the pass names, so a frame may rebuild the pyramid more than once.
	Suffix string
}

// Pyramid owns the hierarchical depth buffer used as the occlusion oracle. The mip chain is
// packed into one f32 storage buffer; see Layout.
type Pyramid struct {
	r renderer.Renderer

	layout          Layout
	srcW, srcH      uint32
	buffer          common.BufferHandle
	counter         common.BufferHandle
	params          common.BufferHandle
	copyProvider    bind_group_provider.BindGroupProvider
	downsampleGroup bind_group_provider.BindGroupProvider

	generation uint64
	builds     uint64
	// frame counts NextFrame calls; builtFrame is the frame of the last build.
	frame      uint64
	builtFrame uint64
}

// New creates a pyramid and registers its pipelines. The pyramid is empty until Resize.
//
// Parameters:
//   - r: the renderer owning the buffers
//
// Returns:
//   - *Pyramid: the pyramid
//   - error: if a pipeline or buffer cannot be created
func New(r renderer.Renderer) (*Pyramid, error) {
	copyShader, err := shader.NewShader(copyPipelineKey, shader.ShaderTypeCompute, copySource, shaderOptions()...)
	if err != nil {
		return nil, err
	}
	downsampleShader, err := shader.NewShader(downsamplePipelineKey, shader.ShaderTypeCompute, downsampleSource, shaderOptions()...)
	if err != nil {
		return nil, err
	}
	err = r.RegisterPipelines(
		pipeline.NewPipeline(copyPipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(copyShader), pipeline.WithKernel(copyKernel)),
		pipeline.NewPipeline(downsamplePipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(downsampleShader), pipeline.WithKernel(downsampleKernel)),
	)
	if err != nil {
		return nil, err
	}

	p := &Pyramid{
		r:               r,
		copyProvider:    bind_group_provider.NewBindGroupProvider("Depth Pyramid Copy"),
		downsampleGroup: bind_group_provider.NewBindGroupProvider("Depth Pyramid Downsample"),
	}
	var params GPUPyramidParams
	if p.params, err = r.CreateBuffer(common.BufferDescriptor{
		Label: "Depth Pyramid Params",
		Size:  uint64(params.Size()),
		Usage: common.BufferUsageUniform | common.BufferUsageCopyDst,
	}); err != nil {
		return nil, err
	}
	if p.counter, err = r.CreateBuffer(common.BufferDescriptor{
		Label: "Depth Pyramid Counter",
		Size:  4,
		Usage: common.BufferUsageStorage | common.BufferUsageCopyDst,
	}); err != nil {
		return nil, err
	}
	p.copyProvider.SetBuffer(0, p.params)
	p.downsampleGroup.SetBuffer(0, p.params)
	p.downsampleGroup.SetBuffer(2, p.counter)
	return p, nil
}

// Resize reallocates the pyramid for a depth target of the given size. The new pyramid is
// zero, which in reverse-Z is the far plane: nothing is occluded until the first build.
//
// Parameters:
//   - depthWidth: width of the depth target
//   - depthHeight: height of the depth target
//
// Returns:
//   - error: if the buffer cannot be created
func (p *Pyramid) Resize(depthWidth, depthHeight uint32) error {
	layout := NewLayout(depthWidth, depthHeight)
	if !layout.Valid() {
		return fmt.Errorf("depthpyramid: invalid depth extent %dx%d", depthWidth, depthHeight)
	}
	if layout == p.layout && p.buffer.Valid() {
		p.srcW, p.srcH = depthWidth, depthHeight
		return p.writeParams()
	}

	buf, err := p.r.CreateBuffer(common.BufferDescriptor{
		Label: "Depth Pyramid",
		Size:  uint64(layout.Texels) * 4,
		Usage: common.BufferUsageStorage | common.BufferUsageCopyDst | common.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("depthpyramid: resize to %dx%d: %w", layout.Width, layout.Height, err)
	}
	if p.buffer.Valid() {
		p.r.ReleaseBuffer(p.buffer)
	}
	p.buffer = buf
	p.layout = layout
	p.srcW, p.srcH = depthWidth, depthHeight
	p.generation++
	p.builds = 0
	p.copyProvider.SetBuffer(2, buf)
	p.downsampleGroup.SetBuffer(1, buf)

	common.Logger().Info("depth pyramid resized",
		"width", layout.Width, "height", layout.Height, "mips", layout.Mips, "texels", layout.Texels)
	return p.writeParams()
}

func (p *Pyramid) writeParams() error {
	params := p.layout.Params(p.srcW, p.srcH)
	return p.r.WriteBuffer(p.params, 0, params.Marshal())
}

// Layout returns the current mip layout.
func (p *Pyramid) Layout() Layout {
	return p.layout
}

// Buffer returns the pyramid buffer, or the zero handle before Resize.
func (p *Pyramid) Buffer() common.BufferHandle {
	return p.buffer
}

// Generation increases every time the pyramid buffer is recreated.
func (p *Pyramid) Generation() uint64 {
	return p.generation
}

// NextFrame starts a new frame. A pyramid not rebuilt in this frame or the one before
// no longer matches the scene and stops being Valid.
func (p *Pyramid) NextFrame() {
	p.frame++
}

// Valid reports whether the pyramid was built since the last resize, in the current
// frame or the previous one.
func (p *Pyramid) Valid() bool {
	return p.buffer.Valid() && p.builds > 0 && p.frame-p.builtFrame <= 1
}

// AddBuildPasses adds the copy and downsample passes reducing depth into the pyramid.
// The downsample pass clears the atomic counter before its dispatch every time it runs.
//
// Parameters:
//   - g: the frame graph
//   - params: the depth source and pass naming
//
// Returns:
//   - error: if a pass name is taken or the pyramid was never sized
func (p *Pyramid) AddBuildPasses(g *rendergraph.Graph, params BuildParams) error {
	if !p.buffer.Valid() {
		return fmt.Errorf("depthpyramid: build before Resize")
	}
	depthRes := common.Coalesce(params.DepthResource, "depth")
	copyName := PassCopy + params.Suffix
	downsampleName := PassDownsample + params.Suffix

	err := g.AddPass(copyName,
		func(b *rendergraph.PassBuilder) {
			b.Read(depthRes)
			b.Write(Resource)
		},
		func(ctx *rendergraph.Context) error {
			p.copyProvider.SetTexture(1, params.Depth)
			ctx.Commands.Dispatch(copyPipelineKey,
				[]bind_group_provider.BindGroupProvider{p.copyProvider},
				[3]uint32{common.DivCeil(p.layout.Width, copyWorkgroup), common.DivCeil(p.layout.Height, copyWorkgroup), 1})
			return nil
		})
	if err != nil {
		return err
	}

	return g.AddPass(downsampleName,
		func(b *rendergraph.PassBuilder) {
			b.Read(Resource)
			b.Write(Resource)
		},
		func(ctx *rendergraph.Context) error {
			gx, gy := p.layout.Groups()
			ctx.Commands.ClearBuffer(p.counter, 0, 4)
			ctx.Commands.Dispatch(downsamplePipelineKey,
				[]bind_group_provider.BindGroupProvider{p.downsampleGroup},
				[3]uint32{gx, gy, 1})
			p.builds++
			p.builtFrame = p.frame
			return nil
		})
}

// Read copies the whole pyramid back to the host.
func (p *Pyramid) Read() ([]float32, error) {
	if !p.buffer.Valid() {
		return nil, nil
	}
	raw, err := p.r.ReadBuffer(p.buffer, 0, uint64(p.layout.Texels)*4)
	if err != nil {
		return nil, err
	}
	return common.BytesToSlice[float32](raw), nil
}

// Release frees the pyramid's buffers.
func (p *Pyramid) Release() {
	for _, h := range []common.BufferHandle{p.buffer, p.counter, p.params} {
		if h.Valid() {
			p.r.ReleaseBuffer(h)
		}
	}
	p.buffer, p.counter, p.params = 0, 0, 0
}
