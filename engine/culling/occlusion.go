package culling

import (
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
)

// InFrustum reports whether a bounding box overlaps the view's frustum. A plane the box's
// center clears by more than the sphere radius is skipped; otherwise the box's positive
// vertex is tested.
//
// Parameters:
//   - view: the view
//   - c: the draw's bounds
//
// Returns:
//   - bool: false only if the box is fully outside one plane
func InFrustum(view *GPUView, c *CullingData) bool {
	for _, p := range view.Planes {
		d := p[0]*c.Center[0] + p[1]*c.Center[1] + p[2]*c.Center[2] + p[3]
		if d >= c.SphereRadius {
			continue
		}
		r := c.Extents[0]*abs32(p[0]) + c.Extents[1]*abs32(p[1]) + c.Extents[2]*abs32(p[2])
		if d < -r {
			return false
		}
	}
	return true
}

// Occluded reports whether the box is hidden behind the depth pyramid. The box's 8 corners
// are projected; a corner at or behind the camera plane makes the box visible. The
// footprint selects mip ceil(log2(max(w, h))) so it covers at most 2x2 texels, and the box
// is hidden only if its nearest depth is strictly farther than the farthest occluder there.
//
// Parameters:
//   - view: the view
//   - c: the draw's bounds
//   - layout: the pyramid layout
//   - pyramid: the packed pyramid texels
//
// Returns:
//   - bool: true if the box is conservatively hidden
func Occluded(view *GPUView, c *CullingData, layout depthpyramid.Layout, pyramid []float32) bool {
	if !layout.Valid() {
		return false
	}
	minU, minV := float32(1), float32(1)
	maxU, maxV := float32(0), float32(0)
	var nearest float32
	for i := range 8 {
		var p [3]float32
		for axis := range 3 {
			s := float32((i>>axis)&1)*2 - 1
			p[axis] = c.Center[axis] + c.Extents[axis]*s
		}
		clip := common.ProjectPoint(view.ViewProj, p)
		if clip[3] <= 0 {
			return false
		}
		ndcX, ndcY, ndcZ := clip[0]/clip[3], clip[1]/clip[3], clip[2]/clip[3]
		u, v := 0.5+0.5*ndcX, 0.5-0.5*ndcY
		minU, maxU = min(minU, u), max(maxU, u)
		minV, maxV = min(minV, v), max(maxV, v)
		nearest = max(nearest, ndcZ)
	}

	w, h := float32(layout.Width), float32(layout.Height)
	x0 := uint32(min(clamp01(minU)*w, w-1))
	y0 := uint32(min(clamp01(minV)*h, h-1))
	x1 := uint32(min(clamp01(maxU)*w, w-1))
	y1 := uint32(min(clamp01(maxV)*h, h-1))
	m := min(common.Log2Ceil(max(x1-x0+1, y1-y0+1)), layout.Mips-1)
	return nearest < layout.MinOver(pyramid, m, x0>>m, y0>>m, x1>>m, y1>>m)
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}

func abs32(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}
