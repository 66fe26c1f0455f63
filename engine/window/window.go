package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
)

// InputHandler receives window input. Methods run on the goroutine calling
// ProcessMessages, so implementations shared with other goroutines must synchronize.
type InputHandler interface {
	// KeyDown is called on key press and repeat with the key code.
	KeyDown(key uint32)

	// KeyUp is called on key release.
	KeyUp(key uint32)

	// Scroll is called for wheel events, positive when scrolling up.
	Scroll(delta float32)

	// Drag is called for mouse movement while the middle button is held, in pixels.
	Drag(dx, dy float32)
}

// Window provides the platform window the renderer presents to and its input events.
type Window interface {
	// SetInputHandler sets the receiver of key, scroll and drag events. Nil disables input.
	SetInputHandler(h InputHandler)

	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized. A
	// minimized window reports 0x0.
	//
	// Parameters:
	//   - callback: function receiving the new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SurfaceDescriptor returns the descriptor the WebGPU backend creates its surface from.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform surface descriptor, or nil if the window is closed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is still open.
	IsRunning() bool

	// Close closes the window and releases platform resources.
	Close() error

	// ProcessMessages runs the message loop on the calling goroutine until the window
	// closes. It must be called from the goroutine that created the window.
	ProcessMessages()

	// Size returns the framebuffer size in pixels.
	Size() (width, height int)
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	title string

	// minWidth and minHeight bound interactive resizing.
	minWidth, minHeight int

	// width and height are the framebuffer size, which differs from the requested size
	// on high-DPI displays.
	width, height int

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	input    InputHandler
	onUpdate func()
	onResize func(width, height int)

	// dragging tracks the middle mouse button, lastX and lastY the previous cursor.
	dragging     bool
	lastX, lastY float64
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a window. The calling goroutine is locked to its OS thread
// and must run ProcessMessages.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
//   - error: if the platform window cannot be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title:     "oxy-render",
		minWidth:  320,
		minHeight: 200,
		width:     1280,
		height:    720,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	return w, nil
}

func (w *engineWindow) SetInputHandler(h InputHandler) {
	w.input = h
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if ok := platformProcessMessages(w); !ok {
			break
		}
		if w.onUpdate != nil {
			w.onUpdate()
		}
		runtime.Gosched()
	}
}

func (w *engineWindow) Size() (int, int) {
	return w.width, w.height
}

// cursorMoved turns cursor positions into drag deltas while the middle button is held.
func (w *engineWindow) cursorMoved(x, y float64) {
	if w.dragging && w.input != nil {
		w.input.Drag(float32(x-w.lastX), float32(y-w.lastY))
	}
	w.lastX, w.lastY = x, y
}
