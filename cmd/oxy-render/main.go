// Command oxy-render opens a window over streamed terrain, instanced models and a lake,
// rendered through the GPU culling pipeline.
//
// Controls: WASD/QE move, middle mouse drag orbits, the wheel zooms, C toggles culling,
// O occlusion culling and P the culling statistics log.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine"
	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/system"
	"github.com/Carmen-Shannon/oxy-render/engine/window"
	"github.com/go-gl/mathgl/mgl32"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "oxy-render:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "oxy-render.toml", "settings file; defaults apply when it does not exist")
	verbose := flag.Bool("v", false, "log at debug level")
	frames := flag.Int("frames", 0, "stop after this many frames; 0 runs until the window closes")
	viewDistance := flag.Int("view-distance", 6, "terrain chunks streamed in each direction around the camera")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	common.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	settings, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	backend := renderer.ParseBackendType(settings.Render.Backend)
	presentMode := renderer.PresentModeVSync
	if settings.Render.PresentMode == "uncapped" {
		presentMode = renderer.PresentModeUncapped
	}

	options := []renderer.RendererBuilderOption{
		renderer.WithSize(settings.Render.Width, settings.Render.Height),
		renderer.WithPresentMode(presentMode),
	}
	var win window.Window
	if backend == renderer.BackendTypeWGPU {
		win, err = window.NewWindow(
			window.WithTitle("oxy-render"),
			window.WithSize(settings.Render.Width, settings.Render.Height))
		if err != nil {
			return err
		}
		defer win.Close()
		// High-DPI framebuffers are larger than the requested size.
		settings.Render.Width, settings.Render.Height = win.Size()
		options = append(options,
			renderer.WithSurface(win.SurfaceDescriptor()),
			renderer.WithSize(settings.Render.Width, settings.Render.Height))
	} else if *frames == 0 {
		*frames = 120
	}

	r, err := renderer.NewRenderer(backend, options...)
	if err != nil {
		return err
	}
	defer r.Release()

	cam := camera.NewCamera(
		camera.WithFov(mgl32.DegToRad(50)),
		camera.WithClip(0.1, 2000),
		camera.WithController(camera.NewOrbitController(
			camera.WithTarget(mgl32.Vec3{0, hillHeight(0, 0), 0}),
			camera.WithRadius(80),
			camera.WithRadiusLimits(5, 600),
			camera.WithAngles(0.6, 0.45),
			camera.WithPanSpeed(0.8),
			camera.WithZoomSpeed(6))))

	s, err := system.NewSystem(r, settings,
		system.WithCamera(cam),
		system.WithHeightfield(demoHeightfield()))
	if err != nil {
		return err
	}
	defer s.Release()

	if err := populate(s); err != nil {
		return err
	}

	opts := []engine.EngineBuilderOption{engine.WithSystem(s), engine.WithTickRate(60)}
	if win != nil {
		opts = append(opts, engine.WithWindow(win))
	}
	eng := engine.NewEngine(opts...)

	ctl := newControls(cam)
	if win != nil {
		win.SetInputHandler(ctl)
	}
	eng.SetTickCallback(ctl.tick)

	stream := newStreamer(s, int32(*viewDistance))
	rendered := 0
	eng.SetRenderCallback(func(float32) {
		ctl.applyToggles(s)
		stream.follow(cam.Controller().Target())
		rendered++
		if *frames > 0 && rendered >= *frames {
			eng.Quit()
		}
	})

	common.Logger().Info("oxy-render running",
		"backend", backend.String(), "width", settings.Render.Width, "height", settings.Render.Height)
	return eng.Run()
}
