package light

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUDirectionalLight is the light block of the camera uniform, laid out after the eye
// position (see camera.GPUCameraUniformSource).
// Size: 32 bytes.
type GPUDirectionalLight struct {
	ToLight mgl32.Vec3 // offset  0: normalized direction towards the light
	Ambient float32    // offset 12: unlit fraction of the base color
	Color   mgl32.Vec3 // offset 16: color premultiplied by intensity
	_pad    float32    // offset 28: padding to 32 bytes
}

// Size returns the size of the GPUDirectionalLight struct in bytes.
func (g *GPUDirectionalLight) Size() int {
	return int(unsafe.Sizeof(*g))
}
