package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/system"
	"github.com/Carmen-Shannon/oxy-render/engine/window"
)

// ErrNoSystem is returned by Run when the engine was built without a render system.
var ErrNoSystem = errors.New("engine: no render system")

// engine implements the Engine interface. The window loop runs on the caller of Run, game
// logic on a fixed-rate tick goroutine and every System call on the render goroutine.
type engine struct {
	tickRateChannel chan time.Duration
	resizeChannel   chan [2]int

	mu      sync.Mutex
	running bool
	err     error
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once

	window window.Window
	system *system.System

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine drives a render system: it polls the window, ticks game logic and renders frames
// until the window closes or Quit is called.
type Engine interface {
	// Window returns the window, or nil for a headless engine.
	Window() window.Window

	// System returns the render system.
	System() *system.System

	// SetTickRate sets the game logic rate in ticks per second. Values <= 0 select 60.
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each tick with the delta time in
	// seconds. It runs concurrently with rendering.
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each rendered frame, on the
	// render goroutine. It is the place to request loads and change settings.
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit caps the render loop in frames per second. 0 uncaps it.
	SetRenderFrameLimit(fps float64)

	// Run starts the tick and render goroutines and blocks until the engine stops. With
	// a window it runs the message loop and must be called from the goroutine that
	// created the window.
	//
	// Returns:
	//   - error: the render error that stopped the engine, or nil after a normal quit
	Run() error

	// Quit stops the engine. Safe to call multiple times and from any goroutine.
	Quit()
}

// NewEngine creates an engine from options. A window's resize events are forwarded to the
// system on the render goroutine.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		resizeChannel:   make(chan [2]int, 1),
		quitChannel:     make(chan struct{}),
		engineTickRate:  time.Second / 60,
	}
	for _, opt := range options {
		opt(e)
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			replaceLatest(e.resizeChannel, [2]int{width, height})
		})
		// Window calls stay on the message loop goroutine.
		e.window.SetUpdateCallback(func() {
			select {
			case <-e.quitChannel:
				if e.window.IsRunning() {
					_ = e.window.Close()
				}
			default:
			}
		})
	}
	return e
}

// replaceLatest sends v, dropping a pending value nobody has received yet.
func replaceLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) System() *system.System {
	return e.system
}

func (e *engine) Run() error {
	if e.system == nil {
		return ErrNoSystem
	}
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.handleEngine()
	go e.handleRender()

	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	<-e.quitChannel
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return e.err
}

func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// fail records the first render error and stops the engine.
func (e *engine) fail(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
	common.Logger().Error("engine stopped", "err", err)
	e.signalQuit()
}

// handleEngine runs the fixed-rate tick loop. The rate can change while running through
// tickRateChannel.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case rate := <-e.tickRateChannel:
			ticker.Reset(rate)
		}
	}
}

// handleRender runs the frame loop: pending resize, System.Update, System.Render, then the
// render callback. A render error or panic stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("engine: render goroutine panic: %v", r))
		}
	}()

	lastRender := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		case size := <-e.resizeChannel:
			if err := e.system.Resize(size[0], size[1]); err != nil {
				e.fail(err)
				return
			}
		default:
			now := time.Now()
			dt := now.Sub(lastRender).Seconds()
			lastRender = now

			e.system.Update(dt)
			if err := e.system.Render(); err != nil {
				e.fail(err)
				return
			}
			if e.renderCallback != nil {
				e.renderCallback(float32(dt))
			}

			if e.renderFrameLimit > 0 {
				if remaining := e.renderFrameLimit - time.Since(now); remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// SetTickRate takes effect immediately when the engine is running.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	rate := time.Duration(float64(time.Second) / fps)

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		replaceLatest(e.tickRateChannel, rate)
		return
	}
	e.engineTickRate = rate
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
