package culledrenderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
)

// Render graph resources of the frame attachments.
const (
	ResourceDepth = "frame-depth"
	ResourceColor = "frame-color"
)

// ShadowMapResource names the depth attachment of a cascade view.
func ShadowMapResource(cascade uint32) string {
	return fmt.Sprintf("shadow-map-%d", cascade)
}

// ShadowTarget is the attachment and camera uniform of one shadow cascade.
type ShadowTarget struct {
	Depth  common.TextureHandle
	Camera common.BufferHandle
}

// Frame is what every renderer's pass adders share in one frame.
type Frame struct {
	Graph   *rendergraph.Graph
	Views   *culling.Views
	Pyramid *depthpyramid.Pyramid

	Culling   bool
	Occlusion bool

	// Depth is the camera depth target, Camera its uniform buffer.
	Depth  common.TextureHandle
	Camera common.BufferHandle

	// Shadows[i] renders view i+1.
	Shadows []ShadowTarget
}

func (c *CulledRenderer[V, I]) cameraPass(f *Frame) culling.DrawPassParams {
	c.draw.SetBuffer(BindingCamera, f.Camera)
	c.draw.SetBuffer(BindingMaterials, c.materials.Buffer())
	p := culling.DrawPassParams{
		Pipeline: c.params.DrawPipeline,
		RenderPass: renderer.RenderPassDesc{
			DepthTarget: f.Depth,
			DepthLoad:   renderer.LoadOpLoad,
			ColorTarget: true,
			ColorLoad:   renderer.LoadOpLoad,
		},
		Geometry:  c.geometry,
		Providers: []bind_group_provider.BindGroupProvider{c.draw},
		Writes:    []string{ResourceColor},
	}
	if c.params.Transparent {
		p.Reads = []string{ResourceDepth}
	} else {
		p.Writes = append(p.Writes, ResourceDepth)
	}
	return p
}

// AddOccluderPasses adds the first step of two-step culling: the draws visible last frame
// are refined against last frame's pyramid, then drawn into the camera depth so the pyramid
// can be rebuilt from them. Nothing is added without two-step culling.
//
// Parameters:
//   - f: the frame
//
// Returns:
//   - error: a graph error
func (c *CulledRenderer[V, I]) AddOccluderPasses(f *Frame) error {
	if !c.res.TwoStepCulling() || !f.Culling {
		return nil
	}
	err := c.res.AddCullingPass(f.Graph, culling.CullingPassParams{
		Step:             culling.CullStepRefinePrevious,
		Views:            f.Views,
		Pyramid:          f.Pyramid,
		OcclusionEnabled: f.Occlusion,
	})
	if err != nil {
		return err
	}
	return c.res.AddOccluderPass(f.Graph, c.cameraPass(f))
}

// AddCullingPass adds the full cull of every draw against every view.
func (c *CulledRenderer[V, I]) AddCullingPass(f *Frame) error {
	if !f.Culling {
		return nil
	}
	return c.res.AddCullingPass(f.Graph, culling.CullingPassParams{
		Step:             culling.CullStepFull,
		Views:            f.Views,
		Pyramid:          f.Pyramid,
		OcclusionEnabled: f.Occlusion,
	})
}

// AddGeometryPasses adds the camera draw. In two-step mode it only draws what the occluder
// pass did not.
func (c *CulledRenderer[V, I]) AddGeometryPasses(f *Frame) error {
	return c.res.AddGeometryPass(f.Graph, culling.GeometryPassParams{
		DrawPassParams: c.cameraPass(f),
		CullingEnabled: f.Culling,
	})
}

// AddShadowPasses adds one depth-only draw per cascade the frame provides.
//
// Parameters:
//   - f: the frame
//
// Returns:
//   - error: a graph error
func (c *CulledRenderer[V, I]) AddShadowPasses(f *Frame) error {
	if c.params.ShadowPipeline == "" {
		return nil
	}
	for i, st := range f.Shadows {
		if i >= len(c.shadows) {
			break
		}
		cascade := uint32(i + 1)
		prov := c.shadows[i]
		prov.SetBuffer(BindingCamera, st.Camera)
		prov.SetBuffer(BindingMaterials, c.materials.Buffer())
		err := c.res.AddShadowPass(f.Graph, culling.ShadowPassParams{
			DrawPassParams: culling.DrawPassParams{
				Pipeline: c.params.ShadowPipeline,
				RenderPass: renderer.RenderPassDesc{
					DepthTarget: st.Depth,
					DepthLoad:   renderer.LoadOpLoad,
				},
				Geometry:  c.geometry,
				Providers: []bind_group_provider.BindGroupProvider{prov},
				Writes:    []string{ShadowMapResource(cascade)},
			},
			CullingEnabled: f.Culling,
			Cascade:        cascade,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
