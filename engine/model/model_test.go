package model

import (
	"math"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
	"github.com/go-gl/mathgl/mgl32"
)

// cube returns a unit cube mesh centered on the origin.
func cube(materialName string) Mesh {
	var m Mesh
	for i := range 8 {
		m.Vertices = append(m.Vertices, GPUVertex{
			Position: [3]float32{float32(i&1) - 0.5, float32(i>>1&1) - 0.5, float32(i>>2&1) - 0.5},
			Color:    [4]float32{1, 1, 1, 1},
		})
	}
	faces := [][4]uint32{{0, 1, 3, 2}, {4, 6, 7, 5}, {0, 4, 5, 1}, {2, 3, 7, 6}, {0, 2, 6, 4}, {1, 5, 7, 3}}
	for _, f := range faces {
		m.Indices = append(m.Indices, f[0], f[1], f[2], f[0], f[2], f[3])
	}
	m.Name = "cube"
	m.Material = materialName
	return m
}

func TestNewModelValidates(t *testing.T) {
	if _, err := NewModel(WithName("empty")); err == nil {
		t.Error("model without meshes accepted")
	}
	bad := cube("")
	bad.Indices = append(bad.Indices, 8)
	if _, err := NewModel(WithName("bad"), WithMeshes(bad)); err == nil {
		t.Error("index past the vertices accepted")
	}

	m, err := NewModel(WithName("crate"), WithMeshes(cube("wood")))
	if err != nil {
		t.Fatal(err)
	}
	mesh := m.Meshes()[0]
	if mesh.BoundingMin != [3]float32{-0.5, -0.5, -0.5} || mesh.BoundingMax != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("bounds = %v %v", mesh.BoundingMin, mesh.BoundingMax)
	}
	if m.VertexCount() != 8 || m.IndexCount() != 36 {
		t.Errorf("counts = %d vertices %d indices", m.VertexCount(), m.IndexCount())
	}
}

func TestTransformBounds(t *testing.T) {
	q := mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})
	tests := []struct {
		name             string
		transform        Transform
		wantMin, wantMax [3]float32
	}{
		{"identity", Transform{}, [3]float32{-1, -2, -3}, [3]float32{1, 2, 3}},
		{"translated", Transform{Translation: [3]float32{10, 0, 0}}, [3]float32{9, -2, -3}, [3]float32{11, 2, 3}},
		{"scaled", Transform{Scale: [3]float32{2, 1, 1}}, [3]float32{-2, -2, -3}, [3]float32{2, 2, 3}},
		{"rotated about y", Transform{Rotation: [4]float32{q.V[0], q.V[1], q.V[2], q.W}}, [3]float32{-3, -2, -1}, [3]float32{3, 2, 1}},
	}
	for _, tt := range tests {
		gotMin, gotMax := TransformBounds(tt.transform.Matrix(), [3]float32{-1, -2, -3}, [3]float32{1, 2, 3})
		for i := range 3 {
			if math.Abs(float64(gotMin[i]-tt.wantMin[i])) > 1e-5 || math.Abs(float64(gotMax[i]-tt.wantMax[i])) > 1e-5 {
				t.Errorf("%s: bounds %v %v, want %v %v", tt.name, gotMin, gotMax, tt.wantMin, tt.wantMax)
				break
			}
		}
	}
}

func newTestRenderer(t *testing.T, numViews uint32) (*Renderer, renderer.Renderer, renderer.SoftwareBackend) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	table := material.NewTable("materials")
	table.Register(material.NewMaterial(material.WithName("wood")))
	mr, err := NewRenderer(r, culledrenderer.Params{NumViews: numViews, Materials: table})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	t.Cleanup(mr.Release)
	return mr, r, r.Backend().(renderer.SoftwareBackend)
}

func TestPrepareSharesGeometryAcrossPlacements(t *testing.T) {
	mr, _, _ := newTestRenderer(t, 1)
	lid := cube("missing")
	m, err := NewModel(WithName("chest"), WithMeshes(cube("wood"), lid))
	if err != nil {
		t.Fatal(err)
	}
	placements := []Placement{
		{Transform: Transform{Translation: [3]float32{0, 0, -5}}},
		{Transform: Transform{Translation: [3]float32{3, 0, -5}}, Tint: [4]float32{1, 0, 0, 1}},
		{Transform: Transform{Translation: [3]float32{6, 0, -5}}},
	}
	desc := mr.Prepare(m, placements)
	if len(desc.Vertices) != 16 || len(desc.Indices) != 72 || len(desc.Instances) != 6 {
		t.Fatalf("load has %d vertices %d indices %d instances", len(desc.Vertices), len(desc.Indices), len(desc.Instances))
	}
	for i, inst := range desc.Instances {
		mesh := i % 2
		want := renderer.IndexedIndirectArgs{IndexCount: 36, FirstIndex: uint32(36 * mesh), BaseVertex: int32(8 * mesh)}
		if inst.Draw != want {
			t.Errorf("instance %d draw = %+v, want %+v", i, inst.Draw, want)
		}
		if inst.ModelID != mr.ModelID("chest") {
			t.Errorf("instance %d model id = %d", i, inst.ModelID)
		}
		if cx := inst.Bounds.Center[0]; cx != float32(3*(i/2)) {
			t.Errorf("instance %d bounds center x = %v", i, cx)
		}
	}
	if desc.Instances[0].Data.Tint != [4]float32{1, 1, 1, 1} || desc.Instances[2].Data.Tint != [4]float32{1, 0, 0, 1} {
		t.Errorf("tints = %v, %v", desc.Instances[0].Data.Tint, desc.Instances[2].Data.Tint)
	}
	if mr.ModelID("other") == mr.ModelID("chest") {
		t.Error("two models share an id")
	}

	offs, err := mr.Submit(desc)
	if err != nil {
		t.Fatal(err)
	}
	data := mr.Resources().DrawCallData()
	wood, _ := mr.Materials().Lookup("wood")
	if got := data.Get(offs.Instance).TextureOffset; got != wood {
		t.Errorf("wood draw texture offset = %d, want %d", got, wood)
	}
	if got := data.Get(offs.Instance + 1).TextureOffset; got != material.DebugIndex {
		t.Errorf("missing material texture offset = %d, want the debug material", got)
	}
}

func TestSpawnCullsPlacementsOutsideTheView(t *testing.T) {
	mr, r, backend := newTestRenderer(t, 1)
	m, err := NewModel(WithName("crate"), WithMeshes(cube("wood")))
	if err != nil {
		t.Fatal(err)
	}
	var placements []Placement
	for i := range 10 {
		x := float32(2*i - 9)
		if i%2 == 1 {
			x = 200
		}
		placements = append(placements, Placement{Transform: Transform{Translation: [3]float32{x, 0, -20}}})
	}
	if _, err := mr.Spawn(m, placements); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	views, err := culling.NewViews(1)
	if err != nil {
		t.Fatal(err)
	}
	defer views.Release(r)
	proj := common.PerspectiveReverseZ(mgl32.DegToRad(90), 1, 0.1, 100)
	views.Set(0, proj.Mul4(mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})), culling.ViewMain)

	mr.Update(0.016, true)
	if err := mr.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := mr.Materials().SyncToGPU(r); err != nil {
		t.Fatal(err)
	}
	if err := views.SyncToGPU(r); err != nil {
		t.Fatal(err)
	}
	f := &culledrenderer.Frame{Graph: rendergraph.NewGraph(), Views: views, Culling: true}
	if err := mr.AddCullingPass(f); err != nil {
		t.Fatal(err)
	}
	if err := mr.AddGeometryPasses(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Graph.Execute(r); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	counts, err := mr.Resources().ReadCounters(culling.TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 5 || counts.Triangles[0] != 60 {
		t.Errorf("counters = %d draws %d triangles, want 5 and 60", counts.Draws[0], counts.Triangles[0])
	}
	draws := backend.Draws()
	if len(draws) != 1 || draws[0].Pipeline != PipelineKey || draws[0].Instances() != 5 {
		t.Errorf("draws = %+v", draws)
	}
}

func TestShaderReflection(t *testing.T) {
	includes := shader.WithIncludes(culledrenderer.DrawIncludes(Includes()))
	tests := []struct {
		name     string
		source   string
		typ      shader.ShaderType
		bindings []int
	}{
		{"draw vertex", drawSource, shader.ShaderTypeVertex, []int{0, 1, 2, 3}},
		{"draw fragment", drawSource, shader.ShaderTypeFragment, []int{0, 1, 2, 3}},
		{"shadow", shadowSource, shader.ShaderTypeVertex, []int{0, 1, 2}},
		{"transparent vertex", transparentSource, shader.ShaderTypeVertex, []int{0, 1, 2, 3}},
		{"transparent fragment", transparentSource, shader.ShaderTypeFragment, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		s, err := shader.NewShader(tt.name, tt.typ, tt.source, includes)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		got := s.Bindings(0)
		slices.Sort(got)
		if !slices.Equal(got, tt.bindings) {
			t.Errorf("%s: bindings %v, want %v", tt.name, got, tt.bindings)
		}
		if tt.typ != shader.ShaderTypeVertex {
			continue
		}
		layouts := s.VertexLayouts()
		if len(layouts) != 1 || len(layouts[0]) != 1 || layouts[0][0].ArrayStride != 64 || len(layouts[0][0].Attributes) != 5 {
			t.Errorf("%s: vertex layouts %+v", tt.name, layouts)
		}
	}
}

func TestTransparentRenderer(t *testing.T) {
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	tr, err := NewTransparentRenderer(r, culledrenderer.Params{NumViews: 2, TwoStep: true, ShadowPipeline: ShadowPipelineKey})
	if err != nil {
		t.Fatalf("NewTransparentRenderer: %v", err)
	}
	t.Cleanup(tr.Release)

	p := r.Pipeline(TransparentPipelineKey)
	if p == nil {
		t.Fatal("transparent pipeline not registered")
	}
	if p.DepthWriteEnabled() || p.BlendState() == nil || p.BlendState().Color.SrcFactor != premultipliedBlend.Color.SrcFactor {
		t.Errorf("pipeline state: depth write %v, blend %+v", p.DepthWriteEnabled(), p.BlendState())
	}
	if tr.Label() != "model-transparent" || tr.Resources().TwoStepCulling() {
		t.Errorf("label %q, two-step %v", tr.Label(), tr.Resources().TwoStepCulling())
	}

	m, err := NewModel(WithName("glass"), WithMeshes(cube("")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Spawn(m, []Placement{{Transform: Transform{Translation: [3]float32{0, 0, -5}}}}); err != nil {
		t.Fatal(err)
	}
	tr.Update(0.016, true)
	if err := tr.Sync(); err != nil {
		t.Fatal(err)
	}
	views, err := culling.NewViews(2)
	if err != nil {
		t.Fatal(err)
	}
	defer views.Release(r)
	f := &culledrenderer.Frame{
		Graph:   rendergraph.NewGraph(),
		Views:   views,
		Culling: true,
		Shadows: []culledrenderer.ShadowTarget{{}},
	}
	for _, add := range []func(*culledrenderer.Frame) error{tr.AddOccluderPasses, tr.AddShadowPasses} {
		if err := add(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Graph.Compile(); err != nil {
		t.Fatal(err)
	}
	if order := f.Graph.Order(); len(order) != 0 {
		t.Errorf("occluder and shadow passes of a transparent renderer: %v", order)
	}
}
