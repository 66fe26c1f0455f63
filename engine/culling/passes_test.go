package culling

import (
	"errors"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
)

const testDrawPipeline = "culling_test_draw"

const testDrawSource = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4f {
    return vec4f(0.0);
}
`

// scene is a software renderer with one culling resources and its views.
type scene struct {
	r       renderer.Renderer
	backend renderer.SoftwareBackend
	res     *Resources
	views   *Views
}

func newScene(t *testing.T, params Params, kinds []ViewKind, bounds []CullingData) *scene {
	t.Helper()
	r, backend := newTestRenderer(t)
	vs := shader.MustShader("culling_test_vs", shader.ShaderTypeVertex, testDrawSource)
	if err := r.RegisterPipelines(pipeline.NewPipeline(testDrawPipeline, pipeline.PipelineTypeRender, pipeline.WithVertexShader(vs))); err != nil {
		t.Fatal(err)
	}
	params.NumViews = uint32(len(kinds))
	res := newTestResources(t, r, params)

	views, err := NewViews(uint32(len(kinds)))
	if err != nil {
		t.Fatal(err)
	}
	for i, kind := range kinds {
		views.Set(uint32(i), cameraViewProj(), kind)
	}
	t.Cleanup(func() { views.Release(r) })

	start := res.Grow(len(bounds))
	for i, b := range bounds {
		res.SetDraw(start+i,
			renderer.IndexedIndirectArgs{IndexCount: 6, InstanceCount: 1, FirstIndex: uint32(6 * i)},
			DrawCallData{InstanceID: uint32(i)}, b)
	}
	return &scene{r: r, backend: backend, res: res, views: views}
}

// beginFrame runs the per-frame CPU side and returns an empty graph.
func (s *scene) beginFrame(t *testing.T, cullingEnabled bool) *rendergraph.Graph {
	t.Helper()
	s.res.Update(0.016, cullingEnabled)
	if err := s.res.SyncToGPU(); err != nil {
		t.Fatalf("SyncToGPU: %v", err)
	}
	if err := s.views.SyncToGPU(s.r); err != nil {
		t.Fatalf("views SyncToGPU: %v", err)
	}
	s.backend.ResetDraws()
	return rendergraph.NewGraph()
}

func (s *scene) execute(t *testing.T, g *rendergraph.Graph) {
	t.Helper()
	if err := g.Execute(s.r); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func (s *scene) compacted(t *testing.T, target Target, view uint32) []uint32 {
	t.Helper()
	counts, err := s.res.ReadCounters(target)
	if err != nil {
		t.Fatal(err)
	}
	args, err := s.res.ReadCompacted(target, view, counts.Draws[view])
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, len(args))
	for i, a := range args {
		out[i] = a.FirstInstance
	}
	return out
}

func drawPass(name string) DrawPassParams {
	return DrawPassParams{Pipeline: testDrawPipeline, Reads: []string{name + "-in"}, Writes: []string{name + "-out"}}
}

// halfOutside places n boxes, even ones in front of the camera and odd ones far to the right.
func halfOutside(n int) []CullingData {
	out := make([]CullingData, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = box([3]float32{-8 + 0.16*float32(i), 0, -10}, 0.5)
		} else {
			out[i] = box([3]float32{50, 0, -10}, 0.5)
		}
	}
	return out
}

func TestEndToEndFrustumCulling(t *testing.T) {
	s := newScene(t, Params{Label: "e2e", CollectStats: true}, []ViewKind{ViewMain}, halfOutside(100))

	g := s.beginFrame(t, true)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)

	counts, err := s.res.ReadCounters(TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 50 || counts.Triangles[0] != 100 {
		t.Fatalf("counters = %d draws %d triangles, want 50 and 100", counts.Draws[0], counts.Triangles[0])
	}
	draws := s.backend.Draws()
	if len(draws) != 1 || !draws[0].Counted || len(draws[0].Draws) != 50 {
		t.Fatalf("draws = %+v, want one counted draw of 50", draws)
	}
	for i, a := range draws[0].Draws {
		if a.FirstInstance != uint32(2*i) || a.FirstIndex != uint32(12*i) {
			t.Errorf("compacted draw %d = %+v, want draw %d", i, a, 2*i)
		}
	}

	// The next Update reads the counters the frame copied into its readback slot.
	s.beginFrame(t, true)
	if d, tris := s.res.Stats().Total(); d != 50 || tris != 100 {
		t.Errorf("stats total = %d draws %d triangles, want 50 and 100", d, tris)
	}
}

func TestCullingDisabledDrawsEverything(t *testing.T) {
	s := newScene(t, Params{Label: "disabled"}, []ViewKind{ViewMain}, halfOutside(100))

	g := s.beginFrame(t, false)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if g.HasPass(s.res.CullPassName(CullStepFull)) {
		t.Error("culling pass added while culling is disabled")
	}
	s.execute(t, g)

	draws := s.backend.Draws()
	if len(draws) != 1 {
		t.Fatalf("%d draws, want 1", len(draws))
	}
	if draws[0].Counted || len(draws[0].Draws) != 100 {
		t.Errorf("draw counted=%v with %d args, want an uncounted draw of 100", draws[0].Counted, len(draws[0].Draws))
	}
}

func TestStatsArriveOnNextUpdate(t *testing.T) {
	s := newScene(t, Params{Label: "async", CollectStats: true}, []ViewKind{ViewMain}, halfOutside(20))

	g := s.beginFrame(t, true)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)

	if d, _ := s.res.Stats().Total(); d != 0 {
		t.Errorf("stats before the next Update = %d draws", d)
	}
	readback := s.res.targets[TargetGeometry].readback[s.res.frameIndex]
	if err := s.r.WriteBuffer(readback, 0, make([]byte, 4)); !errors.Is(err, renderer.ErrBufferMapped) {
		t.Errorf("readback write while the map is in flight: err = %v", err)
	}

	// A second sync of the same frame leaves the in-flight slot alone.
	if err := s.res.SyncToGPU(); err != nil {
		t.Fatalf("SyncToGPU with a pending map: %v", err)
	}
	if s.res.recordingStats() {
		t.Error("frame records into a slot that is still mapped")
	}

	s.beginFrame(t, true)
	if d, tris := s.res.Stats().Total(); d != 10 || tris != 20 {
		t.Errorf("stats = %d draws %d triangles, want 10 and 20", d, tris)
	}
	if err := s.r.WriteBuffer(readback, 0, make([]byte, 4)); err != nil {
		t.Errorf("readback still mapped after delivery: %v", err)
	}
}

func TestStatsWithCullingDisabled(t *testing.T) {
	tests := []struct {
		name     string
		kinds    []ViewKind
		unloaded int
		draws    uint32
	}{
		{"every draw", []ViewKind{ViewMain}, 0, 100},
		{"unloaded reservations skipped", []ViewKind{ViewMain}, 30, 70},
		{"camera and cascade", []ViewKind{ViewMain, ViewCascade}, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t, Params{Label: "full", CollectStats: true}, tt.kinds, halfOutside(100))
			for i := range tt.unloaded {
				s.res.SetDraw(i, renderer.IndexedIndirectArgs{IndexCount: 6}, DrawCallData{}, CullingData{})
			}

			g := s.beginFrame(t, false)
			if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry")}); err != nil {
				t.Fatal(err)
			}
			if len(tt.kinds) > 1 {
				if err := s.res.AddShadowPass(g, ShadowPassParams{DrawPassParams: drawPass("shadow"), Cascade: 1}); err != nil {
					t.Fatal(err)
				}
			}
			s.execute(t, g)
			s.beginFrame(t, false)

			stats := s.res.Stats()
			for v := range tt.kinds {
				if stats.Geometry.Draws[v] != tt.draws || stats.Geometry.Triangles[v] != 2*tt.draws {
					t.Errorf("view %d: %d draws %d triangles, want %d and %d",
						v, stats.Geometry.Draws[v], stats.Geometry.Triangles[v], tt.draws, 2*tt.draws)
				}
			}
		})
	}
}

func TestFillSkipsUnloadedReservations(t *testing.T) {
	s := newScene(t, Params{Label: "reserved"}, []ViewKind{ViewMain}, halfOutside(10))
	// Draw 0 is visible but only reserved.
	s.res.SetDraw(0, renderer.IndexedIndirectArgs{IndexCount: 6}, DrawCallData{}, box([3]float32{-8, 0, -10}, 0.5))

	g := s.beginFrame(t, true)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)

	counts, err := s.res.ReadCounters(TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 4 || counts.Triangles[0] != 8 {
		t.Errorf("counters = %d draws %d triangles, want 4 and 8", counts.Draws[0], counts.Triangles[0])
	}
	if got := s.compacted(t, TargetGeometry, 0); !slices.Equal(got, []uint32{2, 4, 6, 8}) {
		t.Errorf("compacted %v, want the loaded visible draws", got)
	}
}

func TestPassesUseSyncedDrawCount(t *testing.T) {
	s := newScene(t, Params{Label: "synced"}, []ViewKind{ViewMain}, halfOutside(10))
	g := s.beginFrame(t, false)
	s.res.Grow(40)
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry")}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)
	if draws := s.backend.Draws(); len(draws) != 1 || len(draws[0].Draws) != 10 {
		t.Fatalf("draws = %+v, want the 10 synced draws", draws)
	}
	if s.res.DrawCount() != 50 || s.res.SyncedDrawCount() != 10 {
		t.Errorf("counts = %d live, %d synced", s.res.DrawCount(), s.res.SyncedDrawCount())
	}
}

func TestNoDrawsAddsNothing(t *testing.T) {
	s := newScene(t, Params{Label: "empty"}, []ViewKind{ViewMain}, nil)
	g := s.beginFrame(t, true)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{s.res.CullPassName(CullStepFull), "empty/fill-geometry-0", "empty/geometry-0"} {
		if g.HasPass(name) {
			t.Errorf("pass %s added without draws", name)
		}
	}
}

func TestBitmaskDeterministic(t *testing.T) {
	s := newScene(t, Params{Label: "determinism"}, []ViewKind{ViewMain}, halfOutside(77))

	var first []uint32
	for frame := range 3 {
		g := s.beginFrame(t, true)
		if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views}); err != nil {
			t.Fatal(err)
		}
		s.execute(t, g)
		mask, err := s.res.ReadBitmask(BitmaskCurrent)
		if err != nil {
			t.Fatal(err)
		}
		if frame == 0 {
			first = mask
			continue
		}
		if !slices.Equal(mask, first) {
			t.Errorf("frame %d bitmask %x differs from %x", frame, mask, first)
		}
	}
	for i := range 77 {
		visible := first[i/32]&(1<<(i%32)) != 0
		if visible != (i%2 == 0) {
			t.Errorf("draw %d visible = %v", i, visible)
		}
	}
}

func TestFillDiffCompaction(t *testing.T) {
	const n = 64
	bounds := make([]CullingData, n)
	s := newScene(t, Params{Label: "diff", EnableTwoStepCulling: true}, []ViewKind{ViewMain}, bounds)
	s.beginFrame(t, true)

	// Draw i has current bit i&1 and previous bit (i>>1)&1, covering all four combinations.
	current := make([]uint32, s.res.WordsPerView())
	previous := make([]uint32, s.res.WordsPerView())
	var wantCurrent, wantDiff, wantPrevious []uint32
	for i := range uint32(n) {
		cur, prev := i&1 != 0, (i>>1)&1 != 0
		if cur {
			current[i/32] |= 1 << (i % 32)
			wantCurrent = append(wantCurrent, i)
		}
		if prev {
			previous[i/32] |= 1 << (i % 32)
			wantPrevious = append(wantPrevious, i)
		}
		if cur && !prev {
			wantDiff = append(wantDiff, i)
		}
	}
	if err := s.res.WriteBitmask(BitmaskCurrent, current); err != nil {
		t.Fatal(err)
	}
	if err := s.res.WriteBitmask(BitmaskPrevious, previous); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		params FillPassParams
		want   []uint32
	}{
		{"current", FillPassParams{Target: TargetGeometry, Source: BitmaskCurrent}, wantCurrent},
		{"current minus previous", FillPassParams{Target: TargetGeometry, Source: BitmaskCurrent, DiffAgainstPrev: true}, wantDiff},
		{"previous", FillPassParams{Target: TargetOccluder, Source: BitmaskPrevious}, wantPrevious},
	}
	for _, tt := range tests {
		g := rendergraph.NewGraph()
		if err := s.res.AddFillPass(g, tt.params); err != nil {
			t.Fatal(err)
		}
		s.execute(t, g)
		got := s.compacted(t, tt.params.Target, 0)
		if !slices.Equal(got, tt.want) {
			t.Errorf("%s: compacted %v, want %v", tt.name, got, tt.want)
		}

		// The tail of the region stays zero so an over-long draw adds nothing.
		tail, err := s.res.ReadCompacted(tt.params.Target, 0, n)
		if err != nil {
			t.Fatal(err)
		}
		for i, a := range tail[len(got):] {
			if a.InstanceCount != 0 {
				t.Errorf("%s: tail record %d has %d instances", tt.name, len(got)+i, a.InstanceCount)
			}
		}
	}

	// The occluder list and the diffed geometry list never draw a box twice, and together
	// they draw everything visible in either frame.
	union := append(slices.Clone(wantDiff), wantPrevious...)
	slices.Sort(union)
	var want []uint32
	for i := range uint32(n) {
		if current[i/32]&(1<<(i%32)) != 0 || previous[i/32]&(1<<(i%32)) != 0 {
			want = append(want, i)
		}
	}
	if !slices.Equal(union, want) {
		t.Errorf("occluder + diffed geometry = %v, want %v", union, want)
	}
}

func TestFillPassRejectsUnknownView(t *testing.T) {
	s := newScene(t, Params{Label: "views"}, []ViewKind{ViewMain, ViewCascade}, halfOutside(4))
	g := s.beginFrame(t, true)
	if err := s.res.AddFillPass(g, FillPassParams{ViewIndex: 2}); err == nil {
		t.Error("fill of view 2 of 2 accepted")
	}
	if err := s.res.AddShadowPass(g, ShadowPassParams{DrawPassParams: drawPass("shadow"), CullingEnabled: true}); err == nil {
		t.Error("shadow pass for the camera view accepted")
	}
}

// occlusionScene holds 10 near boxes, 30 boxes far behind them and 10 outside the frustum.
func occlusionScene() []CullingData {
	var out []CullingData
	for k := range 10 {
		out = append(out, box([3]float32{-1 + 0.2*float32(k), 0, -2}, 0.5))
	}
	for k := range 30 {
		out = append(out, box([3]float32{-10 + 0.7*float32(k), 0, -20}, 1))
	}
	for range 10 {
		out = append(out, box([3]float32{50, 0, -10}, 1))
	}
	return out
}

func newPyramid(t *testing.T, r renderer.Renderer, depth float32) (*depthpyramid.Pyramid, common.TextureHandle) {
	t.Helper()
	const size = 64
	p, err := depthpyramid.New(r)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Release)
	if err := p.Resize(size, size); err != nil {
		t.Fatal(err)
	}
	tex, err := r.CreateTexture(common.TextureDescriptor{Label: "depth", Width: size, Height: size, Format: common.TextureFormatDepth32Float})
	if err != nil {
		t.Fatal(err)
	}
	texels := make([]float32, size*size)
	for i := range texels {
		texels[i] = depth
	}
	if err := r.WriteDepthTexture(tex, texels); err != nil {
		t.Fatal(err)
	}
	return p, tex
}

func TestOcclusionSkipsCascades(t *testing.T) {
	s := newScene(t, Params{Label: "occlusion"}, []ViewKind{ViewMain, ViewCascade}, occlusionScene())
	// Depth 0.02 lies between the near boxes (about 0.066) and the far ones (about 0.004).
	pyramid, depth := newPyramid(t, s.r, 0.02)

	g := s.beginFrame(t, true)
	if err := pyramid.AddBuildPasses(g, depthpyramid.BuildParams{Depth: depth}); err != nil {
		t.Fatal(err)
	}
	err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views, Pyramid: pyramid, OcclusionEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddShadowPass(g, ShadowPassParams{DrawPassParams: drawPass("shadow"), CullingEnabled: true, Cascade: 1}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)

	counts, err := s.res.ReadCounters(TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 10 {
		t.Errorf("camera view drew %d, want the 10 near boxes", counts.Draws[0])
	}
	if counts.Draws[1] != 40 {
		t.Errorf("cascade drew %d, want all 40 boxes in the frustum", counts.Draws[1])
	}
	if got := s.compacted(t, TargetGeometry, 0); !slices.Equal(got, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Errorf("camera view drew %v", got)
	}

	// Without occlusion the camera view draws the far boxes as well.
	g = s.beginFrame(t, true)
	if err := s.res.AddCullingPass(g, CullingPassParams{Step: CullStepFull, Views: s.views, Pyramid: pyramid}); err != nil {
		t.Fatal(err)
	}
	if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: drawPass("geometry"), CullingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	s.execute(t, g)
	if counts, err = s.res.ReadCounters(TargetGeometry); err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 40 {
		t.Errorf("camera view without occlusion drew %d, want 40", counts.Draws[0])
	}
}

func TestTwoStepFrame(t *testing.T) {
	s := newScene(t, Params{Label: "two-step", EnableTwoStepCulling: true}, []ViewKind{ViewMain}, halfOutside(100))
	pyramid, depth := newPyramid(t, s.r, 0)
	geometry := drawPass("geometry")
	geometry.RenderPass = renderer.RenderPassDesc{DepthTarget: depth, DepthLoad: renderer.LoadOpLoad}
	occluder := DrawPassParams{
		Pipeline:   testDrawPipeline,
		RenderPass: renderer.RenderPassDesc{DepthTarget: depth, DepthLoad: renderer.LoadOpClear},
		Writes:     []string{"depth"},
	}

	frame := func() *rendergraph.Graph {
		g := s.beginFrame(t, true)
		cull := CullingPassParams{Step: CullStepRefinePrevious, Views: s.views, Pyramid: pyramid, OcclusionEnabled: true}
		if err := s.res.AddCullingPass(g, cull); err != nil {
			t.Fatal(err)
		}
		if err := s.res.AddOccluderPass(g, occluder); err != nil {
			t.Fatal(err)
		}
		if err := pyramid.AddBuildPasses(g, depthpyramid.BuildParams{Depth: depth}); err != nil {
			t.Fatal(err)
		}
		cull.Step = CullStepFull
		if err := s.res.AddCullingPass(g, cull); err != nil {
			t.Fatal(err)
		}
		if err := s.res.AddGeometryPass(g, GeometryPassParams{DrawPassParams: geometry, CullingEnabled: true}); err != nil {
			t.Fatal(err)
		}
		s.execute(t, g)
		return g
	}
	counts := func() (occ, geo uint32) {
		o, err := s.res.ReadCounters(TargetOccluder)
		if err != nil {
			t.Fatal(err)
		}
		gc, err := s.res.ReadCounters(TargetGeometry)
		if err != nil {
			t.Fatal(err)
		}
		return o.Draws[0], gc.Draws[0]
	}

	g := frame()
	order := g.Order()
	pos := func(name string) int {
		i := slices.Index(order, name)
		if i < 0 {
			t.Fatalf("pass %s missing from %v", name, order)
		}
		return i
	}
	steps := []string{
		s.res.CullPassName(CullStepRefinePrevious),
		"two-step/fill-occluder-0",
		"two-step/occluder-draw",
		depthpyramid.PassCopy,
		depthpyramid.PassDownsample,
		s.res.CullPassName(CullStepFull),
		"two-step/fill-geometry-0",
		"two-step/geometry-0",
	}
	for i := 1; i < len(steps); i++ {
		if pos(steps[i-1]) > pos(steps[i]) {
			t.Errorf("%s runs before %s in %v", steps[i], steps[i-1], order)
		}
	}

	// Nothing was visible before the first frame, so the geometry pass draws everything.
	if occ, geo := counts(); occ != 0 || geo != 50 {
		t.Errorf("first frame occluder %d geometry %d, want 0 and 50", occ, geo)
	}
	// A static scene is drawn entirely by the occluder pass afterwards.
	frame()
	if occ, geo := counts(); occ != 50 || geo != 0 {
		t.Errorf("second frame occluder %d geometry %d, want 50 and 0", occ, geo)
	}
}
