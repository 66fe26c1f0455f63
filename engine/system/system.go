package system

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/light"
	"github.com/Carmen-Shannon/oxy-render/engine/liquid"
	"github.com/Carmen-Shannon/oxy-render/engine/loader"
	"github.com/Carmen-Shannon/oxy-render/engine/model"
	"github.com/Carmen-Shannon/oxy-render/engine/profiler"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-render/engine/terrain"
)

// PassClear clears the camera attachments and every shadow map at the start of a frame.
const PassClear = "frame-clear"

// TerrainMaterial is the material of the default heightfield.
const TerrainMaterial = "terrain"

// category is the frame interface every culled renderer provides.
type category interface {
	Label() string
	Update(dt float64, cullingEnabled bool)
	Sync() error
	AddOccluderPasses(f *culledrenderer.Frame) error
	AddCullingPass(f *culledrenderer.Frame) error
	AddGeometryPasses(f *culledrenderer.Frame) error
	AddShadowPasses(f *culledrenderer.Frame) error
	Counts() (draws, triangles uint64)
	SetCollectStats(enabled bool)
	Release()
}

// System owns everything a frame needs: the views, the depth pyramid, the shared material
// table, the terrain, model, transparent model and liquid renderers and their loaders. The main loop calls
// Update then Render once per frame on one goroutine.
type System struct {
	r        renderer.Renderer
	settings config.Settings
	twoStep  bool

	cam           camera.Camera
	sun           light.Light
	cascadeLambda float32
	shadowMapSize uint32
	heightfield   loader.Heightfield
	clearColor    [4]float64

	width, height uint32
	views         *culling.Views
	pyramid       *depthpyramid.Pyramid
	materials     *material.Table

	depth     common.TextureHandle
	cameraBuf common.BufferHandle
	shadows   []culledrenderer.ShadowTarget
	cascades  []camera.Cascade

	terrain           *terrain.Renderer
	models            *model.Renderer
	transparentModels *model.Renderer
	liquid            *liquid.Renderer
	opaque            []category
	transparent       []category

	terrainLoader          *loader.TerrainLoader
	modelLoader            *loader.ModelLoader
	transparentModelLoader *loader.ModelLoader
	liquidLoader           *loader.LiquidLoader

	profiler *profiler.Profiler
	graph    *rendergraph.Graph
	frame    uint64
}

// NewSystem creates the render system for validated settings.
//
// Parameters:
//   - r: the renderer
//   - settings: the configuration; the view count and two-step culling are fixed here
//   - options: a variadic list of SystemBuilderOption functions to configure the System
//
// Returns:
//   - *System: the system, sized to settings.Render
//   - error: a settings, pipeline or resource error
func NewSystem(r renderer.Renderer, settings config.Settings, options ...SystemBuilderOption) (s *System, err error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s = &System{
		r:             r,
		settings:      settings,
		twoStep:       settings.Culling.TwoStep,
		sun:           light.NewLight(),
		cascadeLambda: light.DefaultCascadeLambda,
		shadowMapSize: light.DefaultShadowMapSize,
		heightfield: loader.Heightfield{
			ChunkSize:  32,
			Resolution: 16,
			Height:     func(float32, float32) float32 { return 0 },
			Material:   TerrainMaterial,
		},
		clearColor: [4]float64{0.55, 0.7, 0.9, 1},
	}
	for _, option := range options {
		option(s)
	}
	if s.cam == nil {
		s.cam = camera.NewCamera(
			camera.WithController(camera.NewOrbitController(camera.WithRadius(60), camera.WithAngles(0.6, 0.5))),
			camera.WithClip(0.1, 1000))
	}
	partial := s
	defer func() {
		if err != nil {
			partial.Release()
		}
	}()

	numViews := uint32(1 + settings.Render.ShadowCascades)
	if s.views, err = culling.NewViews(numViews); err != nil {
		return nil, err
	}
	if s.pyramid, err = depthpyramid.New(r); err != nil {
		return nil, err
	}
	s.materials = material.NewTable("Materials")
	s.materials.Register(material.NewMaterial(
		material.WithName(TerrainMaterial),
		material.WithBaseColor([4]float32{0.35, 0.55, 0.25, 1})))

	params := culledrenderer.Params{
		NumViews:     numViews,
		TwoStep:      s.twoStep,
		CollectStats: collectStats(settings),
		InitialDraws: 256,
		Materials:    s.materials,
	}
	if s.terrain, err = terrain.NewRenderer(r, params); err != nil {
		return nil, err
	}
	if s.models, err = model.NewRenderer(r, params); err != nil {
		return nil, err
	}
	if s.transparentModels, err = model.NewTransparentRenderer(r, params); err != nil {
		return nil, err
	}
	if s.liquid, err = liquid.NewRenderer(r, params, liquid.DefaultTypes(s.materials)); err != nil {
		return nil, err
	}
	s.opaque = []category{s.terrain, s.models}
	s.transparent = []category{s.liquid, s.transparentModels}

	loaderOpts := []loader.LoaderBuilderOption{
		loader.WithWorkers(settings.Loader.Workers),
		loader.WithQueueSize(settings.Loader.QueueSize),
	}
	s.terrainLoader = loader.NewTerrainLoader(s.terrain, s.heightfield, loaderOpts...)
	s.modelLoader = loader.NewModelLoader(s.models, loaderOpts...)
	s.transparentModelLoader = loader.NewModelLoader(s.transparentModels, loaderOpts...)
	s.liquidLoader = loader.NewLiquidLoader(s.liquid, loaderOpts...)

	var uniform camera.GPUCameraUniform
	if s.cameraBuf, err = s.uniformBuffer("Camera Uniform", uniform.Size()); err != nil {
		return nil, err
	}
	for i := range settings.Render.ShadowCascades {
		// Appended first so Release frees a half-created target.
		s.shadows = append(s.shadows, culledrenderer.ShadowTarget{})
		st := &s.shadows[i]
		if st.Camera, err = s.uniformBuffer(fmt.Sprintf("Shadow Camera %d", i+1), uniform.Size()); err != nil {
			return nil, err
		}
		if st.Depth, err = r.CreateTexture(common.TextureDescriptor{
			Label:  fmt.Sprintf("Shadow Map %d", i+1),
			Width:  s.shadowMapSize,
			Height: s.shadowMapSize,
			Format: common.TextureFormatDepth32Float,
		}); err != nil {
			return nil, err
		}
	}

	if settings.Profiler.Enabled {
		s.profiler = profiler.NewProfiler(profiler.WithInterval(settings.Profiler.Interval.Duration))
		for _, c := range s.categories() {
			s.profiler.AddSource(c.Label(), c.Counts)
		}
	}

	if err = s.Resize(settings.Render.Width, settings.Render.Height); err != nil {
		return nil, err
	}
	common.Logger().Info("render system created",
		"views", numViews, "two_step", s.twoStep, "width", s.width, "height", s.height)
	return s, nil
}

func (s *System) uniformBuffer(label string, size int) (common.BufferHandle, error) {
	return s.r.CreateBuffer(common.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: common.BufferUsageUniform | common.BufferUsageCopyDst,
	})
}

// collectStats reports whether anything reads the culling counters: the debug log or
// the profiler.
func collectStats(settings config.Settings) bool {
	return settings.Culling.DebugStats || settings.Profiler.Enabled
}

func (s *System) categories() []category {
	return append(append([]category{}, s.opaque...), s.transparent...)
}

// Resize recreates the camera depth target and the depth pyramid. A zero size, as sent
// for a minimized window, is ignored.
//
// Parameters:
//   - width, height: the new surface size in pixels
//
// Returns:
//   - error: if the depth target or the pyramid cannot be created
func (s *System) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	s.r.Resize(width, height)
	if s.depth.Valid() {
		s.r.ReleaseTexture(s.depth)
		s.depth = 0
	}
	depth, err := s.r.CreateTexture(common.TextureDescriptor{
		Label:  "Frame Depth",
		Width:  uint32(width),
		Height: uint32(height),
		Format: common.TextureFormatDepth32Float,
	})
	if err != nil {
		return fmt.Errorf("system: resize: %w", err)
	}
	s.depth = depth
	if err := s.pyramid.Resize(uint32(width), uint32(height)); err != nil {
		return fmt.Errorf("system: resize: %w", err)
	}
	s.width, s.height = uint32(width), uint32(height)
	s.cam.SetAspect(float32(width) / float32(height))
	return nil
}

// Update advances one frame on the CPU: loaders reserve what their workers built, the
// views follow the camera and every renderer flips its culling state.
//
// Parameters:
//   - dt: frame time in seconds
func (s *System) Update(dt float64) {
	s.terrainLoader.Update()
	s.modelLoader.Update()
	s.transparentModelLoader.Update()
	s.liquidLoader.Update()

	s.cam.Update()
	s.views.Set(0, s.cam.ViewProjectionMatrix(), culling.ViewMain)
	s.cascades = s.cascades[:0]
	if n := len(s.shadows); n > 0 && s.sun.CastsShadows() {
		s.cascades = s.cam.Cascades(s.sun.Direction(), n, s.cascadeLambda)
		for i, c := range s.cascades {
			s.views.Set(uint32(i+1), c.ViewProj, culling.ViewCascade)
		}
	}
	for _, c := range s.categories() {
		c.Update(dt, s.settings.Culling.Enabled)
	}
}

// Render uploads the frame's data, records the frame graph and executes it:
//
//  1. clear the camera attachments and shadow maps
//  2. occluder passes of the opaque renderers (two-step culling)
//  3. depth pyramid build
//  4. culling passes of every renderer
//  5. opaque geometry, then transparent geometry: liquid, then transparent models
//  6. shadow cascades of the opaque renderers
//
// Without two-step culling the pyramid is built after the geometry instead, so culling
// tests against the previous frame's depth.
//
// Returns:
//   - error: an upload, graph or backend error; the frame is lost and the caller should
//     stop rendering
func (s *System) Render() error {
	if err := s.r.BeginFrame(); err != nil {
		return fmt.Errorf("system: begin frame: %w", err)
	}
	s.pyramid.NextFrame()
	if err := s.upload(); err != nil {
		return err
	}

	s.graph = rendergraph.NewGraph(rendergraph.WithLabel(fmt.Sprintf("frame %d", s.frame)))
	f := &culledrenderer.Frame{
		Graph:     s.graph,
		Views:     s.views,
		Pyramid:   s.pyramid,
		Culling:   s.settings.Culling.Enabled,
		Occlusion: s.settings.Culling.Occlusion,
		Depth:     s.depth,
		Camera:    s.cameraBuf,
		Shadows:   s.shadows[:len(s.cascades)],
	}
	if err := s.addPasses(f); err != nil {
		return fmt.Errorf("system: frame graph: %w", err)
	}
	if err := s.graph.Execute(s.r); err != nil {
		return fmt.Errorf("system: execute: %w", err)
	}
	s.r.Present()
	s.frame++

	if s.profiler != nil {
		s.profiler.Tick()
	}
	if s.settings.Culling.DebugStats {
		for _, c := range s.categories() {
			d, t := c.Counts()
			common.Logger().Debug("culling stats", "renderer", c.Label(), "draws", d, "triangles", t)
		}
	}
	return nil
}

func (s *System) upload() error {
	sun := s.sun.GPU()
	u := s.cam.Uniform()
	u.Light = sun
	if err := s.r.WriteBuffer(s.cameraBuf, 0, u.Marshal()); err != nil {
		return fmt.Errorf("system: camera uniform: %w", err)
	}
	for i, c := range s.cascades {
		if i >= len(s.shadows) {
			break
		}
		cu := camera.GPUCameraUniform{ViewProj: c.ViewProj, CameraPosition: s.cam.Position(), Light: sun}
		if err := s.r.WriteBuffer(s.shadows[i].Camera, 0, cu.Marshal()); err != nil {
			return fmt.Errorf("system: shadow camera %d: %w", i+1, err)
		}
	}
	if err := s.materials.SyncToGPU(s.r); err != nil {
		return fmt.Errorf("system: materials: %w", err)
	}
	if err := s.views.SyncToGPU(s.r); err != nil {
		return fmt.Errorf("system: views: %w", err)
	}
	for _, c := range s.categories() {
		if err := c.Sync(); err != nil {
			return fmt.Errorf("system: sync %s: %w", c.Label(), err)
		}
	}
	return nil
}

func (s *System) addPasses(f *culledrenderer.Frame) error {
	err := f.Graph.AddPass(PassClear,
		func(b *rendergraph.PassBuilder) {
			b.Write(culledrenderer.ResourceDepth, culledrenderer.ResourceColor)
			for i := range s.shadows {
				b.Write(culledrenderer.ShadowMapResource(uint32(i + 1)))
			}
		},
		func(ctx *rendergraph.Context) error {
			ctx.Commands.BeginRenderPass(renderer.RenderPassDesc{
				Label:       PassClear,
				DepthTarget: s.depth,
				DepthLoad:   renderer.LoadOpClear,
				ColorTarget: true,
				ColorLoad:   renderer.LoadOpClear,
				ClearColor:  s.clearColor,
			})
			ctx.Commands.EndRenderPass()
			for i, st := range s.shadows {
				ctx.Commands.BeginRenderPass(renderer.RenderPassDesc{
					Label:       fmt.Sprintf("%s shadow %d", PassClear, i+1),
					DepthTarget: st.Depth,
					DepthLoad:   renderer.LoadOpClear,
				})
				ctx.Commands.EndRenderPass()
			}
			return nil
		})
	if err != nil {
		return err
	}

	buildPyramid := func() error {
		if !f.Culling {
			return nil
		}
		return s.pyramid.AddBuildPasses(f.Graph, depthpyramid.BuildParams{
			Depth:         s.depth,
			DepthResource: culledrenderer.ResourceDepth,
		})
	}

	for _, c := range s.opaque {
		if err := c.AddOccluderPasses(f); err != nil {
			return err
		}
	}
	if s.twoStep {
		if err := buildPyramid(); err != nil {
			return err
		}
	}
	for _, c := range s.categories() {
		if err := c.AddCullingPass(f); err != nil {
			return err
		}
	}
	for _, c := range s.categories() {
		if err := c.AddGeometryPasses(f); err != nil {
			return err
		}
	}
	if !s.twoStep {
		if err := buildPyramid(); err != nil {
			return err
		}
	}
	for _, c := range s.opaque {
		if err := c.AddShadowPasses(f); err != nil {
			return err
		}
	}
	return nil
}

// Settings returns the active settings.
func (s *System) Settings() config.Settings {
	return s.settings
}

// SetSettings applies new settings. Culling, occlusion and debug statistics take effect
// on the next frame. The view count, two-step culling, loader pools and the profiler are
// fixed at creation, so changes to them are logged and ignored.
//
// Parameters:
//   - settings: the new settings
//
// Returns:
//   - error: a validation error; the active settings are kept
func (s *System) SetSettings(settings config.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.Render.ShadowCascades != s.settings.Render.ShadowCascades ||
		settings.Culling.TwoStep != s.twoStep || settings.Loader != s.settings.Loader {
		common.Logger().Info("settings need a restart to apply",
			"shadow_cascades", settings.Render.ShadowCascades,
			"two_step", settings.Culling.TwoStep,
			"loader_workers", settings.Loader.Workers)
	}
	settings.Profiler = s.settings.Profiler
	if collectStats(settings) != collectStats(s.settings) {
		for _, c := range s.categories() {
			c.SetCollectStats(collectStats(settings))
		}
	}
	s.settings = settings
	return nil
}

// Camera returns the main camera.
func (s *System) Camera() camera.Camera { return s.cam }

// Sun returns the directional light shading the frame and orienting the cascades.
func (s *System) Sun() light.Light { return s.sun }

// Materials returns the table shared by every renderer.
func (s *System) Materials() *material.Table { return s.materials }

// Views returns the view buffer.
func (s *System) Views() *culling.Views { return s.views }

// Pyramid returns the depth pyramid.
func (s *System) Pyramid() *depthpyramid.Pyramid { return s.pyramid }

// Depth returns the camera depth target.
func (s *System) Depth() common.TextureHandle { return s.depth }

// Shadows returns the cascade targets, nearest cascade first.
func (s *System) Shadows() []culledrenderer.ShadowTarget { return s.shadows }

func (s *System) Terrain() *terrain.Renderer         { return s.terrain }
func (s *System) Models() *model.Renderer            { return s.models }
func (s *System) TransparentModels() *model.Renderer { return s.transparentModels }
func (s *System) Liquid() *liquid.Renderer           { return s.liquid }

func (s *System) TerrainLoader() *loader.TerrainLoader        { return s.terrainLoader }
func (s *System) ModelLoader() *loader.ModelLoader            { return s.modelLoader }
func (s *System) TransparentModelLoader() *loader.ModelLoader { return s.transparentModelLoader }
func (s *System) LiquidLoader() *loader.LiquidLoader          { return s.liquidLoader }

// Graph returns the graph of the last rendered frame.
func (s *System) Graph() *rendergraph.Graph { return s.graph }

// Frames returns the number of frames rendered.
func (s *System) Frames() uint64 { return s.frame }

// WaitLoads blocks until every loader's in-flight work is done.
func (s *System) WaitLoads() {
	s.terrainLoader.Wait()
	s.modelLoader.Wait()
	s.transparentModelLoader.Wait()
	s.liquidLoader.Wait()
}

// Release stops the loaders and frees every resource the system created. The renderer
// itself stays alive.
func (s *System) Release() {
	if s.terrainLoader != nil {
		s.terrainLoader.Close()
		s.modelLoader.Close()
		s.transparentModelLoader.Close()
		s.liquidLoader.Close()
	}
	for _, c := range s.categories() {
		c.Release()
	}
	s.opaque, s.transparent = nil, nil
	if s.pyramid != nil {
		s.pyramid.Release()
	}
	if s.views != nil {
		s.views.Release(s.r)
	}
	if s.materials != nil {
		s.materials.Release(s.r)
	}
	for _, st := range s.shadows {
		if st.Depth.Valid() {
			s.r.ReleaseTexture(st.Depth)
		}
		if st.Camera.Valid() {
			s.r.ReleaseBuffer(st.Camera)
		}
	}
	s.shadows = nil
	if s.depth.Valid() {
		s.r.ReleaseTexture(s.depth)
		s.depth = 0
	}
	if s.cameraBuf.Valid() {
		s.r.ReleaseBuffer(s.cameraBuf)
		s.cameraBuf = 0
	}
}
