package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/system"
	"github.com/Carmen-Shannon/oxy-render/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// fakeWindow runs a message loop without a platform window and reports one resize on its
// third iteration.
type fakeWindow struct {
	mu       sync.Mutex
	open     bool
	onUpdate func()
	onResize func(width, height int)
}

var _ window.Window = &fakeWindow{}

func (w *fakeWindow) SetInputHandler(window.InputHandler)                {}
func (w *fakeWindow) SetUpdateCallback(callback func())                  { w.onUpdate = callback }
func (w *fakeWindow) SetResizeCallback(callback func(width, height int)) { w.onResize = callback }
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor         { return nil }
func (w *fakeWindow) Size() (int, int)                                   { return 32, 32 }

func (w *fakeWindow) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open = false
	return nil
}

func (w *fakeWindow) ProcessMessages() {
	for i := 0; w.IsRunning(); i++ {
		if i == 3 && w.onResize != nil {
			w.onResize(96, 48)
		}
		if w.onUpdate != nil {
			w.onUpdate()
		}
		time.Sleep(time.Millisecond)
	}
}

func newSystem(t *testing.T) (*system.System, renderer.SoftwareBackend) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	settings := config.Default()
	settings.Render.Backend = "software"
	settings.Render.Width, settings.Render.Height = 32, 32
	settings.Render.ShadowCascades = 1
	s, err := system.NewSystem(r, settings, system.WithShadowMapSize(32))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Release)
	return s, r.Backend().(renderer.SoftwareBackend)
}

// watchdog quits a stuck engine so a failing test does not hang.
func watchdog(t *testing.T, e Engine) *time.Timer {
	return time.AfterFunc(10*time.Second, func() {
		t.Error("engine did not stop")
		e.Quit()
	})
}

func TestRunHeadlessUntilQuit(t *testing.T) {
	s, _ := newSystem(t)
	e := NewEngine(WithSystem(s), WithTickRate(500))

	var frames int
	e.SetRenderCallback(func(float32) {
		frames++
		if frames == 3 {
			e.Quit()
		}
	})
	defer watchdog(t, e).Stop()

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Frames() < 3 {
		t.Errorf("rendered %d frames, want at least 3", s.Frames())
	}
	e.Quit()
}

func TestWindowResizeAndClose(t *testing.T) {
	s, backend := newSystem(t)
	w := &fakeWindow{open: true}
	e := NewEngine(WithSystem(s), WithWindow(w), WithRenderFrameLimit(1000))

	e.SetRenderCallback(func(float32) {
		if _, width, height, _ := backend.Texture(s.Depth()); width == 96 && height == 48 {
			e.Quit()
		}
	})
	defer watchdog(t, e).Stop()

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.IsRunning() {
		t.Error("window still open after Quit")
	}
}

func TestRenderPanicStopsEngine(t *testing.T) {
	s, _ := newSystem(t)
	w := &fakeWindow{open: true}
	e := NewEngine(WithSystem(s), WithWindow(w))
	e.SetRenderCallback(func(float32) {
		panic("lost device")
	})
	defer watchdog(t, e).Stop()

	err := e.Run()
	if err == nil || !strings.Contains(err.Error(), "lost device") {
		t.Errorf("Run = %v, want the panic", err)
	}
	if w.IsRunning() {
		t.Error("window still open after a render failure")
	}
}

func TestRunWithoutSystem(t *testing.T) {
	if err := NewEngine().Run(); !errors.Is(err, ErrNoSystem) {
		t.Errorf("Run = %v, want ErrNoSystem", err)
	}
}
