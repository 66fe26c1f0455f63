package camera

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Controller owns the positional state a Camera reads every Update.
type Controller interface {
	// Position returns the world-space eye position.
	Position() mgl32.Vec3

	// Target returns the look-at point.
	Target() mgl32.Vec3

	// SetTarget moves the pivot and recomputes the eye from the orbit angles.
	SetTarget(target mgl32.Vec3)

	// Orbit rotates the eye around the target. Elevation is clamped to the limits.
	//
	// Parameters:
	//   - dAzimuth: horizontal rotation in radians
	//   - dElevation: vertical rotation in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the eye toward the target by delta*ZoomSpeed, clamped to the radius limits.
	Zoom(delta float32)

	// Pan translates eye and target together along the view's right, up and forward axes,
	// scaled by PanSpeed.
	Pan(right, up, forward float32)

	// Radius returns the distance between eye and target.
	Radius() float32
}

type orbitController struct {
	mu *sync.Mutex

	position mgl32.Vec3
	target   mgl32.Vec3

	radius    float32
	azimuth   float32
	elevation float32

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	zoomSpeed float32
	panSpeed  float32
}

var _ Controller = &orbitController{}

// NewOrbitController creates an orbit controller around the origin.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - Controller: the controller
func NewOrbitController(options ...ControllerOption) Controller {
	cc := &orbitController{
		mu:           &sync.Mutex{},
		radius:       250,
		elevation:    math.Pi / 6,
		minRadius:    1,
		maxRadius:    5000,
		minElevation: -math.Pi/2 + 0.05,
		maxElevation: math.Pi/2 - 0.05,
		zoomSpeed:    15,
		panSpeed:     1,
	}
	for _, option := range options {
		option(cc)
	}
	cc.radius = mgl32.Clamp(cc.radius, cc.minRadius, cc.maxRadius)
	cc.elevation = mgl32.Clamp(cc.elevation, cc.minElevation, cc.maxElevation)
	cc.updatePosition()
	return cc
}

// updatePosition places the eye on the sphere around the target. Azimuth 0 looks down -Z.
// Caller must hold the mutex.
func (cc *orbitController) updatePosition() {
	sinE, cosE := math.Sincos(float64(cc.elevation))
	sinA, cosA := math.Sincos(float64(cc.azimuth))
	offset := mgl32.Vec3{float32(cosE * sinA), float32(sinE), float32(cosE * cosA)}
	cc.position = cc.target.Add(offset.Mul(cc.radius))
}

func (cc *orbitController) Position() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position
}

func (cc *orbitController) Target() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target
}

func (cc *orbitController) SetTarget(target mgl32.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = target
	cc.updatePosition()
}

func (cc *orbitController) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth += dAzimuth
	cc.elevation = mgl32.Clamp(cc.elevation+dElevation, cc.minElevation, cc.maxElevation)
	cc.updatePosition()
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius = mgl32.Clamp(cc.radius-delta*cc.zoomSpeed, cc.minRadius, cc.maxRadius)
	cc.updatePosition()
}

func (cc *orbitController) Pan(right, up, forward float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	fwd := cc.target.Sub(cc.position)
	if fwd.Len() < 1e-6 {
		return
	}
	fwd = fwd.Normalize()
	r := fwd.Cross(mgl32.Vec3{0, 1, 0})
	if r.Len() < 1e-6 {
		r = mgl32.Vec3{1, 0, 0}
	}
	r = r.Normalize()
	u := r.Cross(fwd)

	offset := r.Mul(right).Add(u.Mul(up)).Add(fwd.Mul(forward)).Mul(cc.panSpeed)
	cc.target = cc.target.Add(offset)
	cc.position = cc.position.Add(offset)
}

func (cc *orbitController) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}
