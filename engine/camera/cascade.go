package camera

import (
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Cascade is one shadow cascade: the slice [Near, Far] of the camera frustum it covers and
// the orthographic light view-projection enclosing that slice.
type Cascade struct {
	Near     float32
	Far      float32
	ViewProj mgl32.Mat4
}

// CascadeSplits returns count+1 split distances over [near, far], blending uniform and
// logarithmic splits by lambda.
//
// Parameters:
//   - near, far: the camera's clip range
//   - count: number of cascades
//   - lambda: 0 for uniform splits, 1 for logarithmic splits
//
// Returns:
//   - []float32: the split distances, first near and last far
func CascadeSplits(near, far float32, count int, lambda float32) []float32 {
	if count <= 0 {
		return nil
	}
	splits := make([]float32, count+1)
	splits[0] = near
	ratio := float64(far / near)
	for i := 1; i < count; i++ {
		p := float32(i) / float32(count)
		logSplit := near * float32(math.Pow(ratio, float64(p)))
		uniform := near + (far-near)*p
		splits[i] = lambda*logSplit + (1-lambda)*uniform
	}
	splits[count] = far
	return splits
}

func (c *cameraImpl) Cascades(lightDir mgl32.Vec3, count int, lambda float32) []Cascade {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count <= 0 || lightDir.Len() < 1e-6 {
		return nil
	}
	dir := lightDir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math.Abs(float64(dir.Dot(up))) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}

	right := c.forward.Cross(c.up).Normalize()
	camUp := right.Cross(c.forward)
	tanY := float32(math.Tan(float64(c.fov) / 2))
	tanX := tanY * c.aspect

	splits := CascadeSplits(c.near, c.far, count, lambda)
	out := make([]Cascade, count)
	for i := range out {
		n, f := splits[i], splits[i+1]
		var corners [8]mgl32.Vec3
		for j, d := range [2]float32{n, f} {
			center := c.position.Add(c.forward.Mul(d))
			hx, hy := right.Mul(d*tanX), camUp.Mul(d*tanY)
			corners[j*4+0] = center.Sub(hx).Sub(hy)
			corners[j*4+1] = center.Add(hx).Sub(hy)
			corners[j*4+2] = center.Sub(hx).Add(hy)
			corners[j*4+3] = center.Add(hx).Add(hy)
		}
		out[i] = Cascade{Near: n, Far: f, ViewProj: enclosingOrtho(corners, dir, up)}
	}
	return out
}

// enclosingOrtho fits a light-aligned orthographic projection around the bounding sphere of
// the corners. The eye sits one diameter behind the sphere so casters in front of the slice
// still land in the depth range.
func enclosingOrtho(corners [8]mgl32.Vec3, dir, up mgl32.Vec3) mgl32.Mat4 {
	var center mgl32.Vec3
	for _, p := range corners {
		center = center.Add(p)
	}
	center = center.Mul(1.0 / 8)
	var radius float32
	for _, p := range corners {
		radius = max(radius, p.Sub(center).Len())
	}
	radius = float32(math.Ceil(float64(radius)))

	eye := center.Sub(dir.Mul(3 * radius))
	view := mgl32.LookAtV(eye, center, up)
	proj := common.OrthoReverseZ(-radius, radius, -radius, radius, 0, 4*radius)
	return proj.Mul4(view)
}
