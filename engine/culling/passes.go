package culling

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
)

// CullingPassParams configures AddCullingPass.
type CullingPassParams struct {
	// Step selects the full cull or the two-step refinement of last frame's set.
	Step CullStep

	// Views are the views to test, shared by every renderer.
	Views *Views

	// Pyramid is the occlusion oracle. Nil disables occlusion culling.
	Pyramid *depthpyramid.Pyramid

	// OcclusionEnabled is the occlusion setting. The test also needs a built pyramid.
	OcclusionEnabled bool

	// PyramidPass is the pass that rebuilds the pyramid from the occluder depth. In two-step
	// mode CullStepFull runs after it. Defaults to depthpyramid.PassDownsample.
	PyramidPass string
}

// FillPassParams configures AddFillPass.
type FillPassParams struct {
	// Target is the compacted list to fill.
	Target Target

	// ViewIndex is the view whose bits are compacted.
	ViewIndex uint32

	// Source is the bitmask to compact.
	Source Bitmask

	// DiffAgainstPrev keeps only draws whose previous bit is clear, the ones the occluder
	// pass did not draw.
	DiffAgainstPrev bool
}

// DrawPassParams describes the render pass and pipeline of a draw.
type DrawPassParams struct {
	// Pipeline is the render pipeline key.
	Pipeline string

	// RenderPass describes the attachments. Its Label is replaced by the pass name.
	RenderPass renderer.RenderPassDesc

	// Geometry provides the vertex and index buffers.
	Geometry bind_group_provider.BindGroupProvider

	// Providers are the draw's bind groups, in group order.
	Providers []bind_group_provider.BindGroupProvider

	// Reads and Writes name the attachments and other resources the draw touches.
	Reads  []string
	Writes []string
}

// GeometryPassParams configures AddGeometryPass.
type GeometryPassParams struct {
	DrawPassParams

	// CullingEnabled selects the compacted draw. When false every draw call is drawn with
	// the CPU-known count.
	CullingEnabled bool

	// ViewIndex is the view to draw, 0 for the camera.
	ViewIndex uint32
}

// ShadowPassParams configures AddShadowPass.
type ShadowPassParams struct {
	DrawPassParams

	// CullingEnabled selects the compacted draw.
	CullingEnabled bool

	// Cascade is the view index of the cascade, 1 to NumViews-1.
	Cascade uint32
}

func (res *Resources) resource(name string) string {
	return res.label + "/" + name
}

func (res *Resources) bitmaskResource(b Bitmask) string {
	if b == BitmaskCurrent {
		return res.resource("bitmask-current")
	}
	return res.resource("bitmask-previous")
}

func (res *Resources) argsResource(t Target) string {
	return res.resource(t.String() + "-args")
}

func (res *Resources) countersResource(t Target) string {
	return res.resource(t.String() + "-counters")
}

// CullPassName returns the name AddCullingPass gives the pass of a step.
func (res *Resources) CullPassName(step CullStep) string {
	if step == CullStepRefinePrevious {
		return res.resource("cull-refine")
	}
	return res.resource("cull")
}

// AddCullingPass adds the culling dispatch: ceil(drawCount/32) workgroups each writing one
// bitmask word per view. Nothing is added while culling is disabled, when there are no
// draws, or for CullStepRefinePrevious without two-step culling.
//
// Parameters:
//   - g: the frame graph
//   - p: step, views and occlusion oracle
//
// Returns:
//   - error: ErrNotInitialized or a graph error
func (res *Resources) AddCullingPass(g *rendergraph.Graph, p CullingPassParams) error {
	if !res.initialized {
		return ErrNotInitialized
	}
	if !res.cullingEnabled || res.synced == 0 || p.Views == nil {
		return nil
	}
	if p.Step == CullStepRefinePrevious && !res.twoStep {
		return nil
	}
	target := BitmaskCurrent
	if p.Step == CullStepRefinePrevious {
		target = BitmaskPrevious
	}
	usePyramid := p.OcclusionEnabled && p.Pyramid != nil
	pyramidPass := common.Coalesce(p.PyramidPass, depthpyramid.PassDownsample)

	return g.AddPass(res.CullPassName(p.Step),
		func(b *rendergraph.PassBuilder) {
			b.Read(ViewsResource, res.resource("culling-data"))
			if usePyramid {
				b.Read(depthpyramid.Resource)
			}
			if p.Step == CullStepRefinePrevious {
				b.Read(res.bitmaskResource(target))
			}
			b.Write(res.bitmaskResource(target))
			if p.Step == CullStepFull && res.twoStep && usePyramid && g.HasPass(pyramidPass) {
				b.After(pyramidPass)
			}
		},
		func(ctx *rendergraph.Context) error {
			n := res.synced
			consts := GPUCullConstants{
				DrawCount:    n,
				NumViews:     min(res.numViews, p.Views.Count()),
				WordsPerView: res.bitmaskWords,
				Mode:         p.Step,
			}
			pyramid := res.pyramidDummy
			if usePyramid && p.Pyramid.Valid() {
				l := p.Pyramid.Layout()
				consts.OcclusionEnabled = 1
				consts.PyramidWidth, consts.PyramidHeight, consts.PyramidMips = l.Width, l.Height, l.Mips
				pyramid = p.Pyramid.Buffer()
			}
			prov := res.cullProviders[p.Step]
			if err := ctx.Renderer.WriteBuffers([]bind_group_provider.BufferWrite{
				bind_group_provider.WriteAt(prov, 0, consts.Marshal()),
			}); err != nil {
				return err
			}
			prov.SetBuffer(1, p.Views.Buffer())
			prov.SetBuffer(3, res.bitmask(target))
			prov.SetBuffer(4, pyramid)
			ctx.Commands.Dispatch(cullPipelineKey, []bind_group_provider.BindGroupProvider{prov},
				[3]uint32{common.DivCeil(n, cullWorkgroup), 1, 1})
			return nil
		})
}

// AddFillPass adds the compaction of one view's bitmask into a target's draw list. The pass
// clears the view's counters and draw list region before its dispatch.
//
// Parameters:
//   - g: the frame graph
//   - p: target, view, source bitmask and diff flag
//
// Returns:
//   - error: ErrNotInitialized, an out of range view or a graph error
func (res *Resources) AddFillPass(g *rendergraph.Graph, p FillPassParams) error {
	if !res.initialized {
		return ErrNotInitialized
	}
	if p.ViewIndex >= res.numViews {
		return fmt.Errorf("culling %s: fill view %d of %d", res.label, p.ViewIndex, res.numViews)
	}
	if !res.cullingEnabled || res.synced == 0 {
		return nil
	}
	name := fmt.Sprintf("%s/fill-%s-%d", res.label, p.Target, p.ViewIndex)
	return g.AddPass(name,
		func(b *rendergraph.PassBuilder) {
			b.Read(res.resource("draw-calls"), res.bitmaskResource(p.Source))
			if p.DiffAgainstPrev {
				b.Read(res.bitmaskResource(BitmaskPrevious))
			}
			b.Write(res.argsResource(p.Target), res.countersResource(p.Target))
		},
		func(ctx *rendergraph.Context) error {
			n := res.synced
			ft := res.targets[p.Target]
			base := p.ViewIndex * ft.argsCapacity
			ctx.Commands.ClearBuffer(ft.counters, uint64(p.ViewIndex)*4, 4)
			ctx.Commands.ClearBuffer(ft.counters, uint64(res.numViews+p.ViewIndex)*4, 4)
			ctx.Commands.ClearBuffer(ft.args, uint64(base)*renderer.IndexedIndirectArgsSize,
				uint64(n)*renderer.IndexedIndirectArgsSize)

			consts := GPUFillConstants{
				DrawCount:    n,
				WordsPerView: res.bitmaskWords,
				ViewIndex:    p.ViewIndex,
				NumViews:     res.numViews,
				ArgsBase:     base,
			}
			if p.DiffAgainstPrev {
				consts.DiffAgainstPrev = 1
			}
			prov := ft.providers[p.ViewIndex]
			if err := ctx.Renderer.WriteBuffers([]bind_group_provider.BufferWrite{
				bind_group_provider.WriteAt(prov, 0, consts.Marshal()),
			}); err != nil {
				return err
			}
			prov.SetBuffer(2, res.bitmask(p.Source))
			prov.SetBuffer(3, res.bitmask(BitmaskPrevious))
			ctx.Commands.Dispatch(fillPipelineKey, []bind_group_provider.BindGroupProvider{prov},
				[3]uint32{common.DivCeil(n, fillWorkgroup), 1, 1})
			return nil
		})
}

// AddOccluderPass adds the two-step pre-pass: the refined previous set is compacted into
// the occluder list and drawn, so its depth can rebuild the pyramid before the full cull.
// Nothing is added without two-step culling, while culling is disabled or without draws.
//
// Parameters:
//   - g: the frame graph
//   - p: the draw's pipeline and attachments
//
// Returns:
//   - error: a graph error
func (res *Resources) AddOccluderPass(g *rendergraph.Graph, p DrawPassParams) error {
	if !res.initialized {
		return ErrNotInitialized
	}
	if !res.twoStep || !res.cullingEnabled || res.synced == 0 {
		return nil
	}
	if err := res.AddFillPass(g, FillPassParams{Target: TargetOccluder, Source: BitmaskPrevious}); err != nil {
		return err
	}
	return res.addCountedDraw(g, res.resource("occluder-draw"), TargetOccluder, 0, p)
}

// AddGeometryPass adds the final draw of a view. With culling the current bitmask is
// compacted first, diffed against the previous one for the camera view in two-step mode;
// without culling every draw call is drawn from the uncompacted list.
//
// Parameters:
//   - g: the frame graph
//   - p: the draw, the culling flag and the view
//
// Returns:
//   - error: a graph error
func (res *Resources) AddGeometryPass(g *rendergraph.Graph, p GeometryPassParams) error {
	if !res.initialized {
		return ErrNotInitialized
	}
	if res.synced == 0 {
		return nil
	}
	name := fmt.Sprintf("%s/geometry-%d", res.label, p.ViewIndex)
	if !p.CullingEnabled || !res.cullingEnabled {
		return res.addFullDraw(g, name, p.ViewIndex, p.DrawPassParams)
	}
	err := res.AddFillPass(g, FillPassParams{
		Target:          TargetGeometry,
		ViewIndex:       p.ViewIndex,
		Source:          BitmaskCurrent,
		DiffAgainstPrev: res.twoStep && p.ViewIndex == 0,
	})
	if err != nil {
		return err
	}
	return res.addCountedDraw(g, name, TargetGeometry, p.ViewIndex, p.DrawPassParams)
}

// AddShadowPass adds the depth-only draw of a shadow cascade. Cascades are frustum culled
// only and never diffed.
//
// Parameters:
//   - g: the frame graph
//   - p: the draw, the culling flag and the cascade view
//
// Returns:
//   - error: an out of range cascade or a graph error
func (res *Resources) AddShadowPass(g *rendergraph.Graph, p ShadowPassParams) error {
	if !res.initialized {
		return ErrNotInitialized
	}
	if p.Cascade == 0 || p.Cascade >= res.numViews {
		return fmt.Errorf("culling %s: cascade view %d of %d", res.label, p.Cascade, res.numViews)
	}
	if res.synced == 0 {
		return nil
	}
	name := fmt.Sprintf("%s/shadow-%d", res.label, p.Cascade)
	if !p.CullingEnabled || !res.cullingEnabled {
		return res.addFullDraw(g, name, p.Cascade, p.DrawPassParams)
	}
	if err := res.AddFillPass(g, FillPassParams{Target: TargetGeometry, ViewIndex: p.Cascade, Source: BitmaskCurrent}); err != nil {
		return err
	}
	return res.addCountedDraw(g, name, TargetGeometry, p.Cascade, p.DrawPassParams)
}

// addCountedDraw draws a view's compacted list bounded by its GPU counter, then copies the
// view's counters into this frame's readback slot when stats are recorded.
func (res *Resources) addCountedDraw(g *rendergraph.Graph, name string, t Target, view uint32, p DrawPassParams) error {
	return g.AddPass(name,
		func(b *rendergraph.PassBuilder) {
			b.Read(res.argsResource(t), res.countersResource(t), res.resource("draw-call-data"))
			b.Read(p.Reads...)
			b.Write(p.Writes...)
		},
		func(ctx *rendergraph.Context) error {
			ft := res.targets[t]
			pass := p.RenderPass
			pass.Label = name
			ctx.Commands.BeginRenderPass(pass)
			ctx.Commands.DrawIndexedIndirectCount(renderer.DrawDesc{
				Pipeline:    p.Pipeline,
				Geometry:    p.Geometry,
				Providers:   p.Providers,
				Args:        ft.args,
				ArgsOffset:  uint64(view*ft.argsCapacity) * renderer.IndexedIndirectArgsSize,
				Count:       ft.counters,
				CountOffset: uint64(view) * 4,
				MaxDraws:    res.synced,
			})
			ctx.Commands.EndRenderPass()

			if !res.recordingStats() {
				return nil
			}
			readback := ft.readback[res.frameIndex]
			for _, word := range []uint32{view, res.numViews + view} {
				ctx.Commands.CopyBuffer(ft.counters, uint64(word)*4, readback, uint64(word)*4, 4)
			}
			res.requestStats(ctx.Commands, t)
			return nil
		})
}

// addFullDraw draws every draw call with the CPU-known count. Nothing on the GPU counts
// these draws, so the view's readback words are written with the totals of the last sync.
func (res *Resources) addFullDraw(g *rendergraph.Graph, name string, view uint32, p DrawPassParams) error {
	return g.AddPass(name,
		func(b *rendergraph.PassBuilder) {
			b.Read(res.resource("draw-calls"), res.resource("draw-call-data"))
			b.Read(p.Reads...)
			b.Write(p.Writes...)
		},
		func(ctx *rendergraph.Context) error {
			pass := p.RenderPass
			pass.Label = name
			ctx.Commands.BeginRenderPass(pass)
			ctx.Commands.DrawIndexedIndirect(renderer.DrawDesc{
				Pipeline:  p.Pipeline,
				Geometry:  p.Geometry,
				Providers: p.Providers,
				Args:      res.drawCalls.Buffer(),
				DrawCount: res.synced,
			})
			ctx.Commands.EndRenderPass()

			if !res.recordingStats() {
				return nil
			}
			readback := res.targets[TargetGeometry].readback[res.frameIndex]
			for i, word := range []uint32{view, res.numViews + view} {
				if err := ctx.Renderer.WriteBuffer(readback, uint64(word)*4, common.SliceToBytes(res.syncedTotals[i:i+1])); err != nil {
					return err
				}
			}
			res.requestStats(ctx.Commands, TargetGeometry)
			return nil
		})
}
