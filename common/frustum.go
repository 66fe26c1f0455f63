package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// SignedDistance returns the signed distance of p to the plane. Positive is inside.
func (p Plane) SignedDistance(x [3]float32) float32 {
	return p.Normal[0]*x[0] + p.Normal[1]*x[1] + p.Normal[2]*x[2] + p.Distance
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts frustum planes from a reverse-Z view-projection matrix
// (clip space 0 <= z <= w, near plane at z = w). Uses the Gribb/Hartmann method.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the combined projection * view matrix (column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	row := func(i int) [4]float32 {
		return [4]float32{viewProj[i], viewProj[4+i], viewProj[8+i], viewProj[12+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	var f Frustum
	f.setPlane(FrustumLeft, add4(r3, r0))
	f.setPlane(FrustumRight, sub4(r3, r0))
	f.setPlane(FrustumBottom, add4(r3, r1))
	f.setPlane(FrustumTop, sub4(r3, r1))
	f.setPlane(FrustumNear, sub4(r3, r2))
	f.setPlane(FrustumFar, r2)
	return f
}

// IntersectsAABB reports whether an axis-aligned box overlaps the frustum.
// Tests the box's positive vertex against each plane, so it is conservative:
// boxes straddling a frustum corner may be reported visible.
//
// Parameters:
//   - center: box center in world space
//   - extents: half-size of the box along each axis
//
// Returns:
//   - bool: false only if the box is fully outside at least one plane
func (f *Frustum) IntersectsAABB(center, extents [3]float32) bool {
	for i := range f.Planes {
		p := &f.Planes[i]
		r := extents[0]*abs32(p.Normal[0]) + extents[1]*abs32(p.Normal[1]) + extents[2]*abs32(p.Normal[2])
		if p.SignedDistance(center) < -r {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether a bounding sphere overlaps the frustum.
func (f *Frustum) IntersectsSphere(center [3]float32, radius float32) bool {
	for i := range f.Planes {
		if f.Planes[i].SignedDistance(center) < -radius {
			return false
		}
	}
	return true
}

// Vec4s packs the planes as (nx, ny, nz, d) for GPU upload.
func (f *Frustum) Vec4s() [6][4]float32 {
	var out [6][4]float32
	for i, p := range f.Planes {
		out[i] = [4]float32{p.Normal[0], p.Normal[1], p.Normal[2], p.Distance}
	}
	return out
}

// setPlane stores a plane and normalizes it so that the normal has unit length.
// Degenerate planes (zero normal) are kept as-is and always pass.
func (f *Frustum) setPlane(index int, v [4]float32) {
	p := &f.Planes[index]
	p.Normal = [3]float32{v[0], v[1], v[2]}
	p.Distance = v[3]

	length := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if length > 0 {
		invLen := 1.0 / length
		p.Normal[0] *= invLen
		p.Normal[1] *= invLen
		p.Normal[2] *= invLen
		p.Distance *= invLen
	}
}

func add4(a, b [4]float32) [4]float32 {
	return [4]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2], a[3] + b[3]}
}

func sub4(a, b [4]float32) [4]float32 {
	return [4]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2], a[3] - b[3]}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
