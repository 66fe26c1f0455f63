package camera

import "github.com/go-gl/mathgl/mgl32"

// ControllerOption is a functional option for configuring an orbit controller.
type ControllerOption func(*orbitController)

// WithTarget sets the initial pivot point.
//
// Parameters:
//   - target: the world-space look-at point
//
// Returns:
//   - ControllerOption: functional option to set the target
func WithTarget(target mgl32.Vec3) ControllerOption {
	return func(cc *orbitController) {
		cc.target = target
	}
}

// WithRadius sets the initial distance from the target.
//
// Parameters:
//   - radius: distance from the orbit target
//
// Returns:
//   - ControllerOption: functional option to set the radius
func WithRadius(radius float32) ControllerOption {
	return func(cc *orbitController) {
		cc.radius = radius
	}
}

// WithRadiusLimits sets the zoom bounds.
func WithRadiusLimits(minRadius, maxRadius float32) ControllerOption {
	return func(cc *orbitController) {
		cc.minRadius, cc.maxRadius = minRadius, maxRadius
	}
}

// WithAngles sets the initial azimuth and elevation in radians.
//
// Parameters:
//   - azimuth: horizontal angle, 0 places the eye on +Z of the target
//   - elevation: vertical angle, 0 is horizontal
//
// Returns:
//   - ControllerOption: functional option to set both angles
func WithAngles(azimuth, elevation float32) ControllerOption {
	return func(cc *orbitController) {
		cc.azimuth, cc.elevation = azimuth, elevation
	}
}

// WithZoomSpeed sets the zoom multiplier.
func WithZoomSpeed(speed float32) ControllerOption {
	return func(cc *orbitController) {
		cc.zoomSpeed = speed
	}
}

// WithPanSpeed sets the pan multiplier.
func WithPanSpeed(speed float32) ControllerOption {
	return func(cc *orbitController) {
		cc.panSpeed = speed
	}
}
