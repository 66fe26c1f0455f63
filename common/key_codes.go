package common

// Key codes delivered by window input callbacks. Printable keys use their ASCII value,
// matching GLFW.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyW = 87
	KeyA = 65
	KeyS = 83
	KeyD = 68
	KeyQ = 81
	KeyE = 69

	// Debug toggles.
	KeyC = 67 // culling
	KeyO = 79 // occlusion
	KeyP = 80 // culling statistics

	KeyEsc        = 256
	KeyLeftShift  = 340
	KeyRightShift = 344
)
