package camera

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUCameraUniformSource is the canonical WGSL definition of the CameraUniform struct.
// Matches GPUCameraUniform layout exactly (112 bytes).
//
//go:embed assets/camera_uniform.wgsl
var GPUCameraUniformSource string

// GPUCameraUniform is the camera uniform the draw shaders read: the view and the sun
// light that shades it.
// Size: 112 bytes.
type GPUCameraUniform struct {
	ViewProj       mgl32.Mat4                // offset  0: combined reverse-Z view-projection matrix
	CameraPosition mgl32.Vec3                // offset 64: world-space eye position
	_pad           float32                   // offset 76: padding to 80 bytes
	Light          light.GPUDirectionalLight // offset 80: sun light (32 bytes)
}

// Size returns the size of the GPUCameraUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (g *GPUCameraUniform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCameraUniform struct into a byte buffer suitable for GPU upload.
func (g *GPUCameraUniform) Marshal() []byte {
	return common.StructToBytes(g)
}
