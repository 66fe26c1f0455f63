package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/go-gl/mathgl/mgl32"
)

type cameraImpl struct {
	mu *sync.Mutex

	up mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	view     mgl32.Mat4
	proj     mgl32.Mat4
	viewProj mgl32.Mat4
	position mgl32.Vec3
	forward  mgl32.Vec3

	controller Controller
}

// Camera holds the perspective settings and computes reverse-Z view and projection
// matrices from its Controller on every Update.
type Camera interface {
	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns width / height.
	Aspect() float32

	// Near returns the near plane distance.
	Near() float32

	// Far returns the far plane distance.
	Far() float32

	// Position returns the eye position of the last Update.
	Position() mgl32.Vec3

	// Forward returns the normalized view direction of the last Update.
	Forward() mgl32.Vec3

	// ViewMatrix returns the world to view transform.
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the reverse-Z perspective projection.
	ProjectionMatrix() mgl32.Mat4

	// ViewProjectionMatrix returns the combined view-projection matrix.
	ViewProjectionMatrix() mgl32.Mat4

	// Uniform returns the GPU representation of the camera.
	Uniform() GPUCameraUniform

	// Cascades computes the shadow cascade views of a directional light over [Near, Far]
	// of this camera.
	//
	// Parameters:
	//   - lightDir: direction the light travels
	//   - count: number of cascades
	//   - lambda: split blend, 0 uniform and 1 logarithmic
	//
	// Returns:
	//   - []Cascade: the cascades, nearest first
	Cascades(lightDir mgl32.Vec3, count int, lambda float32) []Cascade

	// Controller returns the attached controller, or nil.
	Controller() Controller

	// SetController attaches a controller and recomputes the matrices.
	SetController(ctrl Controller)

	// SetAspect sets width / height and recomputes the matrices.
	SetAspect(aspect float32)

	// SetFov sets the vertical field of view in radians and recomputes the matrices.
	SetFov(fov float32)

	// SetClip sets the near and far planes and recomputes the matrices.
	SetClip(near, far float32)

	// Update reads position and target from the controller and recomputes the matrices.
	// Does nothing without a controller.
	Update()
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera with a 60 degree field of view looking down -Z.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:       &sync.Mutex{},
		up:       mgl32.Vec3{0, 1, 0},
		fov:      60 * (math.Pi / 180),
		aspect:   1,
		near:     0.1,
		far:      1000,
		view:     mgl32.Ident4(),
		forward:  mgl32.Vec3{0, 0, -1},
		position: mgl32.Vec3{},
	}
	for _, option := range options {
		option(c)
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) Forward() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forward
}

func (c *cameraImpl) ViewMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *cameraImpl) ProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proj
}

func (c *cameraImpl) ViewProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProj
}

func (c *cameraImpl) Uniform() GPUCameraUniform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GPUCameraUniform{ViewProj: c.viewProj, CameraPosition: c.position}
}

func (c *cameraImpl) Controller() Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.updateMatrices()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraImpl) SetClip(near, far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near, c.far = near, far
	c.updateMatrices()
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return
	}
	c.updateMatrices()
}

// updateMatrices recalculates the view from the controller, when one is attached, and the
// projection. Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	if c.controller != nil {
		eye, target := c.controller.Position(), c.controller.Target()
		if fwd := target.Sub(eye); fwd.Len() > 1e-6 {
			c.position = eye
			c.forward = fwd.Normalize()
			c.view = mgl32.LookAtV(eye, target, c.up)
		}
	}
	c.proj = common.PerspectiveReverseZ(c.fov, c.aspect, c.near, c.far)
	c.viewProj = c.proj.Mul4(c.view)
}
