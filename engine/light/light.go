package light

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	mu           sync.Mutex
	direction    mgl32.Vec3
	color        mgl32.Vec3
	intensity    float32
	ambient      float32
	castsShadows bool
}

// Light is the directional sun light. It shades every draw category through the camera
// uniform and, when it casts shadows, orients the shadow cascades.
//
// Lights are safe to change from the tick goroutine while a frame is rendering; the
// frame reads one consistent GPU snapshot.
type Light interface {
	// Direction returns the normalized direction the light travels in.
	//
	// Returns:
	//   - mgl32.Vec3: the direction, pointing away from the sun
	Direction() mgl32.Vec3

	// Color returns the RGB color of the light.
	Color() mgl32.Vec3

	// Intensity returns the scalar intensity multiplier.
	Intensity() float32

	// Ambient returns the fraction of the base color lit regardless of orientation.
	Ambient() float32

	// CastsShadows reports whether the shadow cascades are rendered.
	CastsShadows() bool

	// SetDirection sets and normalizes the travel direction. A zero vector is ignored.
	SetDirection(dir mgl32.Vec3)

	// SetColor sets the RGB color of the light.
	SetColor(color mgl32.Vec3)

	// SetIntensity sets the scalar intensity multiplier.
	SetIntensity(intensity float32)

	// GPU returns the shader representation of the light.
	//
	// Returns:
	//   - GPUDirectionalLight: the light with color premultiplied by intensity
	GPU() GPUDirectionalLight
}

var _ Light = &lightImpl{}

// NewLight creates a directional light shining down at a slant with white color.
//
// Parameters:
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(opts ...LightBuilderOption) Light {
	l := &lightImpl{
		direction:    mgl32.Vec3{0.3, -1, 0.2}.Normalize(),
		color:        mgl32.Vec3{1, 1, 1},
		intensity:    1,
		ambient:      DefaultAmbient,
		castsShadows: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Direction() mgl32.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.direction
}

func (l *lightImpl) Color() mgl32.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intensity
}

func (l *lightImpl) Ambient() float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ambient
}

func (l *lightImpl) CastsShadows() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.castsShadows
}

func (l *lightImpl) SetDirection(dir mgl32.Vec3) {
	if dir.Len() < 1e-6 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.direction = dir.Normalize()
}

func (l *lightImpl) SetColor(color mgl32.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = color
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intensity = max(0, intensity)
}

func (l *lightImpl) GPU() GPUDirectionalLight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return GPUDirectionalLight{
		ToLight: l.direction.Mul(-1),
		Ambient: l.ambient,
		Color:   l.color.Mul(l.intensity),
	}
}
