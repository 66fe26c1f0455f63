package light

import "github.com/go-gl/mathgl/mgl32"

// LightBuilderOption is a function that configures a Light instance during construction.
type LightBuilderOption func(*lightImpl)

// WithDirection sets the direction the light travels in. The direction is normalized
// before storing; a zero vector keeps the default.
//
// Parameters:
//   - dir: the travel direction, pointing away from the sun
//
// Returns:
//   - LightBuilderOption: a function that applies the direction option to a lightImpl
func WithDirection(dir mgl32.Vec3) LightBuilderOption {
	return func(l *lightImpl) {
		if dir.Len() >= 1e-6 {
			l.direction = dir.Normalize()
		}
	}
}

// WithColor sets the RGB color of the light.
func WithColor(color mgl32.Vec3) LightBuilderOption {
	return func(l *lightImpl) {
		l.color = color
	}
}

// WithIntensity sets the scalar intensity multiplier. Negative values are clamped to 0.
func WithIntensity(intensity float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.intensity = max(0, intensity)
	}
}

// WithAmbient sets the unlit fraction of the base color, clamped to [0, 1].
//
// Parameters:
//   - ambient: the ambient term
//
// Returns:
//   - LightBuilderOption: a function that applies the ambient option to a lightImpl
func WithAmbient(ambient float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.ambient = mgl32.Clamp(ambient, 0, 1)
	}
}

// WithCastsShadows sets whether the shadow cascades are rendered.
func WithCastsShadows(castsShadows bool) LightBuilderOption {
	return func(l *lightImpl) {
		l.castsShadows = castsShadows
	}
}
