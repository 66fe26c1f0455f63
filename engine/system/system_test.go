package system

import (
	"bytes"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/camera"
	"github.com/Carmen-Shannon/oxy-render/engine/config"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/light"
	"github.com/Carmen-Shannon/oxy-render/engine/liquid"
	"github.com/Carmen-Shannon/oxy-render/engine/loader"
	"github.com/Carmen-Shannon/oxy-render/engine/model"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/terrain"
	"github.com/go-gl/mathgl/mgl32"
)

func testSettings() config.Settings {
	s := config.Default()
	s.Render.Backend = "software"
	s.Render.Width, s.Render.Height = 64, 64
	s.Render.ShadowCascades = 2
	s.Loader.Workers = 2
	return s
}

func newTestSystem(t *testing.T, settings config.Settings, extra ...SystemBuilderOption) (*System, renderer.SoftwareBackend) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	// Eye at the origin looking down -Z.
	cam := camera.NewCamera(
		camera.WithController(camera.NewOrbitController(
			camera.WithTarget(mgl32.Vec3{0, 0, -30}), camera.WithRadius(30), camera.WithAngles(0, 0))),
		camera.WithClip(0.1, 200))
	options := append([]SystemBuilderOption{
		WithCamera(cam),
		WithShadowMapSize(64),
		WithHeightfield(loader.Heightfield{
			ChunkSize:  8,
			Resolution: 4,
			Height:     func(float32, float32) float32 { return -2 },
			Material:   TerrainMaterial,
		}),
	}, extra...)
	s, err := NewSystem(r, settings, options...)
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	t.Cleanup(s.Release)
	return s, r.Backend().(renderer.SoftwareBackend)
}

func cube() model.Model {
	var mesh model.Mesh
	for i := range 8 {
		mesh.Vertices = append(mesh.Vertices, model.GPUVertex{
			Position: [3]float32{float32(i&1) - 0.5, float32(i>>1&1) - 0.5, float32(i>>2&1) - 0.5},
		})
	}
	for _, f := range [][4]uint32{{0, 1, 3, 2}, {4, 6, 7, 5}, {0, 4, 5, 1}, {2, 3, 7, 6}, {0, 2, 6, 4}, {1, 5, 7, 3}} {
		mesh.Indices = append(mesh.Indices, f[0], f[1], f[2], f[0], f[2], f[3])
	}
	m, err := model.NewModel(model.WithName("cube"), model.WithMeshes(mesh))
	if err != nil {
		panic(err)
	}
	return m
}

// populate loads content in front of and behind the camera: 8 + 4 terrain chunks, 1 + 1
// cubes and 1 + 1 water patches.
func populate(t *testing.T, s *System) {
	t.Helper()
	if n, err := s.TerrainLoader().RequestArea(-2, -4, 2, -2); n != 8 || err != nil {
		t.Fatalf("front chunks: %d, %v", n, err)
	}
	if n, err := s.TerrainLoader().RequestArea(-2, 1, 2, 2); n != 4 || err != nil {
		t.Fatalf("back chunks: %d, %v", n, err)
	}
	s.ModelLoader().Register(cube())
	err := s.ModelLoader().Place("cubes", "cube",
		model.Placement{Transform: model.Transform{Translation: [3]float32{0, 0, -10}}},
		model.Placement{Transform: model.Transform{Translation: [3]float32{0, 0, 50}}})
	if err != nil {
		t.Fatal(err)
	}
	err = s.LiquidLoader().RequestPatches("lake",
		liquid.Patch{TypeID: liquid.TypeWater, Origin: [3]float32{-4, -1, -20}, Size: [2]float32{8, 8}, Resolution: 2},
		liquid.Patch{TypeID: liquid.TypeWater, Origin: [3]float32{-4, -1, 30}, Size: [2]float32{8, 8}, Resolution: 2})
	if err != nil {
		t.Fatal(err)
	}
	s.WaitLoads()
}

func frame(t *testing.T, s *System) {
	t.Helper()
	s.Update(0.016)
	s.WaitLoads()
	if err := s.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func geometryCounts(t *testing.T, res *culling.Resources) (uint32, uint32) {
	t.Helper()
	c, err := res.ReadCounters(culling.TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	return c.Draws[0], c.Triangles[0]
}

func TestFramePassOrder(t *testing.T) {
	s, _ := newTestSystem(t, testSettings())
	populate(t, s)
	frame(t, s)

	order := s.Graph().Order()
	pos := func(name string) int {
		i := slices.Index(order, name)
		if i < 0 {
			t.Fatalf("pass %s missing from %v", name, order)
		}
		return i
	}
	steps := []string{
		PassClear,
		"terrain/cull-refine",
		"terrain/occluder-draw",
		depthpyramid.PassCopy,
		depthpyramid.PassDownsample,
		"terrain/cull",
		"terrain/geometry-0",
		"liquid/geometry-0",
	}
	for i := 1; i < len(steps); i++ {
		if pos(steps[i-1]) > pos(steps[i]) {
			t.Errorf("%s runs before %s in %v", steps[i], steps[i-1], order)
		}
	}
	if pos("model/geometry-0") > pos("liquid/geometry-0") {
		t.Errorf("liquid drawn before models in %v", order)
	}
	for _, name := range []string{"terrain/shadow-1", "terrain/shadow-2", "model/shadow-2"} {
		if pos(name) < pos(PassClear) {
			t.Errorf("%s runs before the clear", name)
		}
	}
	for _, name := range []string{"liquid/cull-refine", "liquid/shadow-1"} {
		if slices.Contains(order, name) {
			t.Errorf("liquid pass %s in %v", name, order)
		}
	}
}

func TestFrameCullsContentBehindTheCamera(t *testing.T) {
	s, backend := newTestSystem(t, testSettings())
	populate(t, s)
	frame(t, s)

	tests := []struct {
		name             string
		res              *culling.Resources
		loaded           int
		draws, triangles uint32
	}{
		{"terrain", s.Terrain().Resources(), 12, 8, 256},
		{"model", s.Models().Resources(), 2, 1, 12},
		{"liquid", s.Liquid().Resources(), 2, 1, 8},
	}
	for _, tt := range tests {
		if got := int(tt.res.DrawCount()); got != tt.loaded {
			t.Errorf("%s: %d draws loaded, want %d", tt.name, got, tt.loaded)
		}
		if d, tri := geometryCounts(t, tt.res); d != tt.draws || tri != tt.triangles {
			t.Errorf("%s: drew %d draws %d triangles, want %d and %d", tt.name, d, tri, tt.draws, tt.triangles)
		}
	}

	shadowTargets := map[common.TextureHandle]bool{}
	for _, d := range backend.Draws() {
		if d.Pipeline == terrain.ShadowPipelineKey {
			shadowTargets[d.DepthTarget] = true
		}
		if d.Pipeline == liquid.PipelineKey && d.DepthTarget != s.Depth() {
			t.Errorf("liquid drawn into %v", d.DepthTarget)
		}
	}
	for i, st := range s.Shadows() {
		if !shadowTargets[st.Depth] {
			t.Errorf("cascade %d has no terrain shadow draw", i+1)
		}
	}

	// The static scene moves to the occluder pass on the second frame.
	frame(t, s)
	if d, _ := geometryCounts(t, s.Terrain().Resources()); d != 0 {
		t.Errorf("second frame geometry pass drew %d terrain draws, want 0", d)
	}
	o, err := s.Terrain().Resources().ReadCounters(culling.TargetOccluder)
	if err != nil {
		t.Fatal(err)
	}
	if o.Draws[0] != 8 {
		t.Errorf("second frame occluder pass drew %d terrain draws, want 8", o.Draws[0])
	}
}

func TestCullingDisabledDrawsEverything(t *testing.T) {
	settings := testSettings()
	settings.Culling.Enabled = false
	s, backend := newTestSystem(t, settings)
	populate(t, s)
	frame(t, s)

	instances := map[string]uint32{}
	for _, d := range backend.Draws() {
		if d.Counted {
			t.Errorf("counted draw %s with culling disabled", d.Pipeline)
		}
		instances[d.Pipeline] += d.Instances()
	}
	if instances[terrain.PipelineKey] != 12 || instances[model.PipelineKey] != 2 || instances[liquid.PipelineKey] != 2 {
		t.Errorf("instances per pipeline = %v", instances)
	}
	if slices.Contains(s.Graph().Order(), depthpyramid.PassCopy) {
		t.Error("pyramid built with culling disabled")
	}
}

func TestSingleStepBuildsPyramidAfterGeometry(t *testing.T) {
	settings := testSettings()
	settings.Culling.TwoStep = false
	s, _ := newTestSystem(t, settings)
	populate(t, s)
	frame(t, s)

	order := s.Graph().Order()
	if slices.Contains(order, "terrain/occluder-draw") {
		t.Errorf("occluder pass without two-step culling: %v", order)
	}
	copyAt := slices.Index(order, depthpyramid.PassCopy)
	if copyAt < slices.Index(order, "model/geometry-0") || copyAt < slices.Index(order, "terrain/cull") {
		t.Errorf("pyramid not built from the finished frame: %v", order)
	}
	if d, _ := geometryCounts(t, s.Terrain().Resources()); d != 8 {
		t.Errorf("terrain geometry drew %d, want 8", d)
	}
}

func TestSetSettings(t *testing.T) {
	var buf bytes.Buffer
	common.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer common.SetLogger(nil)

	s, _ := newTestSystem(t, testSettings())
	bad := testSettings()
	bad.Render.Backend = "metal"
	if err := s.SetSettings(bad); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("invalid settings: err = %v", err)
	}

	next := testSettings()
	next.Culling.Occlusion = false
	next.Render.ShadowCascades = 4
	if err := s.SetSettings(next); err != nil {
		t.Fatal(err)
	}
	if s.Settings().Culling.Occlusion {
		t.Error("occlusion still enabled")
	}
	if !strings.Contains(buf.String(), "settings need a restart") {
		t.Errorf("cascade change not reported: %s", buf.String())
	}
	if len(s.Shadows()) != 2 {
		t.Errorf("%d shadow targets after a settings change, want the original 2", len(s.Shadows()))
	}
}

func TestResizeIgnoresMinimizedWindow(t *testing.T) {
	s, backend := newTestSystem(t, testSettings())
	depth := s.Depth()
	if err := s.Resize(0, 0); err != nil || s.Depth() != depth {
		t.Errorf("minimized resize changed the depth target: %v", err)
	}
	if err := s.Resize(128, 32); err != nil {
		t.Fatal(err)
	}
	if _, w, h, ok := backend.Texture(s.Depth()); !ok || w != 128 || h != 32 {
		t.Errorf("depth target %dx%d", w, h)
	}
	if l := s.Pyramid().Layout(); l.Width != 128 || l.Height != 32 {
		t.Errorf("pyramid %dx%d, want 128x32", l.Width, l.Height)
	}
	if s.Camera().Aspect() != 4 {
		t.Errorf("aspect %v", s.Camera().Aspect())
	}
}

func TestSunLight(t *testing.T) {
	sun := light.NewLight(
		light.WithDirection(mgl32.Vec3{0, -1, 0}),
		light.WithIntensity(2),
		light.WithCastsShadows(false))
	s, _ := newTestSystem(t, testSettings(), WithLight(sun))
	populate(t, s)
	frame(t, s)

	for _, name := range s.Graph().Order() {
		if strings.Contains(name, "/shadow-") {
			t.Errorf("shadow pass %s for a light without shadows", name)
		}
	}

	raw, err := s.r.ReadBuffer(s.cameraBuf, 0, 112)
	if err != nil {
		t.Fatal(err)
	}
	u := common.BytesToSlice[camera.GPUCameraUniform](raw)[0]
	if u.Light.ToLight != (mgl32.Vec3{0, 1, 0}) {
		t.Errorf("to_light = %v, want straight up", u.Light.ToLight)
	}
	if u.Light.Color != (mgl32.Vec3{2, 2, 2}) || u.Light.Ambient != light.DefaultAmbient {
		t.Errorf("light = %+v", u.Light)
	}
}

func TestTransparentModelsDrawLast(t *testing.T) {
	s, backend := newTestSystem(t, testSettings())
	populate(t, s)
	s.TransparentModelLoader().Register(cube())
	err := s.TransparentModelLoader().Place("glass", "cube",
		model.Placement{Transform: model.Transform{Translation: [3]float32{3, 0, -12}}})
	if err != nil {
		t.Fatal(err)
	}
	s.WaitLoads()
	frame(t, s)

	order := s.Graph().Order()
	glass := slices.Index(order, "model-transparent/geometry-0")
	if glass < 0 {
		t.Fatalf("no transparent model pass in %v", order)
	}
	for _, name := range []string{"terrain/geometry-0", "model/geometry-0", "liquid/geometry-0"} {
		if i := slices.Index(order, name); i < 0 || i > glass {
			t.Errorf("%s not drawn before the transparent models in %v", name, order)
		}
	}
	for _, name := range []string{"model-transparent/occluder-draw", "model-transparent/cull-refine", "model-transparent/shadow-1"} {
		if slices.Contains(order, name) {
			t.Errorf("transparent model pass %s in %v", name, order)
		}
	}

	var instances uint32
	for _, d := range backend.Draws() {
		if d.Pipeline != model.TransparentPipelineKey {
			continue
		}
		instances += d.Instances()
		if d.DepthTarget != s.Depth() {
			t.Errorf("transparent model drawn into %v", d.DepthTarget)
		}
	}
	if instances != 1 {
		t.Errorf("%d transparent instances drawn, want 1", instances)
	}
}

func TestStatsFollowSettings(t *testing.T) {
	tests := []struct {
		name       string
		culling    bool
		debugStats bool
		profiler   bool
		want       uint32
	}{
		{"off", false, false, false, 0},
		{"debug stats without culling", false, true, false, 12},
		{"profiler without culling", false, false, true, 12},
		{"debug stats with culling", true, true, false, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.Culling.Enabled = tt.culling
			settings.Culling.TwoStep = false
			settings.Culling.Occlusion = false
			settings.Culling.DebugStats = tt.debugStats
			settings.Profiler.Enabled = tt.profiler
			s, _ := newTestSystem(t, settings)
			populate(t, s)
			frame(t, s)
			frame(t, s)

			var got uint32
			if draws := s.Terrain().Resources().Stats().Geometry.Draws; len(draws) > 0 {
				got = draws[0]
			}
			if got != tt.want {
				t.Errorf("terrain camera draws = %d, want %d", got, tt.want)
			}
		})
	}

	settings := testSettings()
	settings.Culling.Enabled = false
	s, _ := newTestSystem(t, settings)
	populate(t, s)
	frame(t, s)
	if d, _ := s.Terrain().Counts(); d != 0 {
		t.Fatalf("%d draws counted with stats off", d)
	}
	settings.Culling.DebugStats = true
	if err := s.SetSettings(settings); err != nil {
		t.Fatal(err)
	}
	frame(t, s)
	frame(t, s)
	if d, tris := s.Terrain().Counts(); d == 0 || tris == 0 {
		t.Errorf("stats after enabling debug stats = %d draws %d triangles", d, tris)
	}
}

func TestStalePyramidNotUsed(t *testing.T) {
	settings := testSettings()
	settings.Culling.TwoStep = false
	s, _ := newTestSystem(t, settings)
	populate(t, s)
	frame(t, s)
	if !s.Pyramid().Valid() {
		t.Fatal("pyramid not valid after a culled frame")
	}

	settings.Culling.Enabled = false
	if err := s.SetSettings(settings); err != nil {
		t.Fatal(err)
	}
	frame(t, s)
	if !s.Pyramid().Valid() {
		t.Error("pyramid of the previous frame rejected")
	}
	frame(t, s)
	if s.Pyramid().Valid() {
		t.Error("pyramid still valid two frames after its build")
	}

	settings.Culling.Enabled = true
	if err := s.SetSettings(settings); err != nil {
		t.Fatal(err)
	}
	frame(t, s)
	if !s.Pyramid().Valid() {
		t.Error("pyramid not valid after culling resumed")
	}
}
