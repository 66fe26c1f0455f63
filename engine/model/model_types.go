package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Transform places a model in the world.
type Transform struct {
	// Translation is the position offset.
	Translation [3]float32

	// Rotation is the orientation as a quaternion (x, y, z, w). The zero value is treated
	// as the identity.
	Rotation [4]float32

	// Scale is the scale factor along each axis. The zero value is treated as 1.
	Scale [3]float32
}

// Matrix returns translation * rotation * scale.
func (t Transform) Matrix() mgl32.Mat4 {
	scale := mgl32.Vec3(t.Scale)
	if scale == (mgl32.Vec3{}) {
		scale = mgl32.Vec3{1, 1, 1}
	}
	rot := mgl32.Quat{W: t.Rotation[3], V: mgl32.Vec3{t.Rotation[0], t.Rotation[1], t.Rotation[2]}}
	if rot.Len() == 0 {
		rot = mgl32.QuatIdent()
	}
	return mgl32.Translate3D(t.Translation[0], t.Translation[1], t.Translation[2]).
		Mul4(rot.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(scale[0], scale[1], scale[2]))
}

// Placement is one instance of a model.
type Placement struct {
	Transform Transform

	// Tint multiplies the vertex color. The zero value is opaque white.
	Tint [4]float32
}

// Mesh is one material range of a model.
type Mesh struct {
	// Name is the mesh identifier.
	Name string

	// Vertices are the mesh vertices in model space.
	Vertices []GPUVertex

	// Indices are the triangle indices, relative to Vertices.
	Indices []uint32

	// Material names the material table entry of the mesh.
	Material string

	// BoundingMin and BoundingMax are the model-space bounding box, computed by NewModel
	// when both are zero.
	BoundingMin [3]float32
	BoundingMax [3]float32
}

// ComputeBounds returns the axis-aligned bounding box of the vertex positions.
//
// Parameters:
//   - vertices: the vertex data to compute the bounds from
//
// Returns:
//   - [3]float32: the minimum corner
//   - [3]float32: the maximum corner
func ComputeBounds(vertices []GPUVertex) (boxMin, boxMax [3]float32) {
	if len(vertices) == 0 {
		return boxMin, boxMax
	}
	inf := float32(math.Inf(1))
	boxMin = [3]float32{inf, inf, inf}
	boxMax = [3]float32{-inf, -inf, -inf}
	for _, v := range vertices {
		for i := range 3 {
			boxMin[i] = min(boxMin[i], v.Position[i])
			boxMax[i] = max(boxMax[i], v.Position[i])
		}
	}
	return boxMin, boxMax
}

// TransformBounds returns the world-space box enclosing the eight transformed corners of a
// model-space box.
func TransformBounds(m mgl32.Mat4, boxMin, boxMax [3]float32) (worldMin, worldMax [3]float32) {
	inf := float32(math.Inf(1))
	worldMin = [3]float32{inf, inf, inf}
	worldMax = [3]float32{-inf, -inf, -inf}
	for c := range 8 {
		corner := mgl32.Vec4{boxMin[0], boxMin[1], boxMin[2], 1}
		for axis := range 3 {
			if c>>axis&1 == 1 {
				corner[axis] = boxMax[axis]
			}
		}
		p := m.Mul4x1(corner)
		for axis := range 3 {
			worldMin[axis] = min(worldMin[axis], p[axis])
			worldMax[axis] = max(worldMax[axis], p[axis])
		}
	}
	return worldMin, worldMax
}
