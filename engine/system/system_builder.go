package system

import (
	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/light"
	"github.com/Carmen-Shannon/oxy-render/engine/loader"
	"github.com/go-gl/mathgl/mgl32"
)

// SystemBuilderOption is a functional option for configuring a System via NewSystem.
type SystemBuilderOption func(*System)

// WithCamera sets the main camera. Defaults to an orbit camera around the origin.
//
// Parameters:
//   - cam: the camera
//
// Returns:
//   - SystemBuilderOption: a function that applies the camera option to a system
func WithCamera(cam camera.Camera) SystemBuilderOption {
	return func(s *System) {
		s.cam = cam
	}
}

// WithLight replaces the default sun light.
//
// Parameters:
//   - l: the light shading every category and orienting the shadow cascades
//
// Returns:
//   - SystemBuilderOption: a function that applies the light option to a system
func WithLight(l light.Light) SystemBuilderOption {
	return func(s *System) {
		if l != nil {
			s.sun = l
		}
	}
}

// WithLightDirection sets the direction the sun light travels.
func WithLightDirection(dir mgl32.Vec3) SystemBuilderOption {
	return func(s *System) {
		s.sun.SetDirection(dir)
	}
}

// WithShadowMapSize sets the edge length of every cascade's shadow map. Defaults to
// light.DefaultShadowMapSize.
func WithShadowMapSize(size uint32) SystemBuilderOption {
	return func(s *System) {
		s.shadowMapSize = size
	}
}

// WithCascadeLambda sets the cascade split blend, 0 uniform and 1 logarithmic. Defaults
// to 0.75.
func WithCascadeLambda(lambda float32) SystemBuilderOption {
	return func(s *System) {
		s.cascadeLambda = lambda
	}
}

// WithHeightfield sets the terrain the terrain loader samples. Defaults to flat ground.
//
// Parameters:
//   - hf: chunk size, resolution, height function and material
//
// Returns:
//   - SystemBuilderOption: a function that applies the heightfield option to a system
func WithHeightfield(hf loader.Heightfield) SystemBuilderOption {
	return func(s *System) {
		s.heightfield = hf
	}
}

// WithClearColor sets the color the frame is cleared to.
func WithClearColor(c [4]float64) SystemBuilderOption {
	return func(s *System) {
		s.clearColor = c
	}
}
