package common

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), int(size)*len(data))
}

// BytesToSlice copies raw GPU bytes into a freshly allocated slice of T.
// Trailing bytes that do not fill a whole element are ignored.
//
// Parameters:
//   - data: the bytes read back from a buffer
//
// Returns:
//   - []T: the decoded elements
func BytesToSlice[T any](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(data) / size
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	copy(SliceToBytes(out), data[:n*size])
	return out
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// PerspectiveReverseZ builds a right-handed perspective projection that maps the near plane
// to depth 1 and the far plane to depth 0 (WebGPU [0,1] clip range, reversed). Reverse-Z
// keeps float precision where it matters and makes the depth pyramid a MIN reduction.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: width / height
//   - near: near plane distance (> 0)
//   - far: far plane distance (> near)
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func PerspectiveReverseZ(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := float32(1.0 / math.Tan(float64(fovY)/2))
	var m mgl32.Mat4
	m[0] = f / aspect
	m[5] = f
	m[10] = near / (far - near)
	m[11] = -1
	m[14] = near * far / (far - near)
	return m
}

// OrthoReverseZ builds a right-handed orthographic projection with reversed [0,1] depth.
// Used for directional shadow cascades.
//
// Parameters:
//   - left, right, bottom, top: view-space extents
//   - near, far: view-space depth range
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func OrthoReverseZ(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	m := mgl32.Ident4()
	m[0] = 2 / (right - left)
	m[5] = 2 / (top - bottom)
	m[10] = 1 / (far - near)
	m[12] = -(right + left) / (right - left)
	m[13] = -(top + bottom) / (top - bottom)
	m[14] = far / (far - near)
	return m
}

// ProjectPoint transforms a world-space point by a view-projection matrix.
//
// Parameters:
//   - viewProj: the view-projection matrix
//   - p: the world-space point
//
// Returns:
//   - mgl32.Vec4: the clip-space position (not divided by w)
func ProjectPoint(viewProj mgl32.Mat4, p [3]float32) mgl32.Vec4 {
	return viewProj.Mul4x1(mgl32.Vec4{p[0], p[1], p[2], 1})
}
