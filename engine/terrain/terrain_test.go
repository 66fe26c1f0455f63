package terrain

import (
	"errors"
	"math"
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

func flat(x, z int32, h float32) Chunk {
	return Chunk{
		X: x, Z: z, Size: 8, Resolution: 4,
		Heights:  SampleHeights(x, z, 8, 4, func(float32, float32) float32 { return h }),
		Material: "grass",
	}
}

func newTestRenderer(t *testing.T) (*Renderer, renderer.Renderer, renderer.SoftwareBackend) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	table := material.NewTable("materials")
	table.Register(material.NewMaterial(material.WithName("grass"), material.WithBaseColor([4]float32{0.2, 0.6, 0.2, 1})))
	tr, err := NewRenderer(r, culledrenderer.Params{NumViews: 1, Materials: table})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	t.Cleanup(tr.Release)
	return tr, r, r.Backend().(renderer.SoftwareBackend)
}

func TestCellID(t *testing.T) {
	tests := []struct {
		x, z int32
		want uint32
	}{
		{0, 0, 0},
		{1, 2, 0x00010002},
		{-1, 3, 0xffff0003},
		{-5, -7, 0xfffbfff9},
	}
	for _, tt := range tests {
		if got := CellID(tt.x, tt.z); got != tt.want {
			t.Errorf("CellID(%d, %d) = %#x, want %#x", tt.x, tt.z, got, tt.want)
		}
		if x, z := CellFromID(tt.want); x != tt.x || z != tt.z {
			t.Errorf("CellFromID(%#x) = %d, %d", tt.want, x, z)
		}
	}
}

func TestPrepareChunks(t *testing.T) {
	tr, _, _ := newTestRenderer(t)
	slope := Chunk{
		X: -1, Z: 2, Size: 8, Resolution: 4,
		Heights: SampleHeights(-1, 2, 8, 4, func(wx, _ float32) float32 { return wx }),
	}
	desc, err := tr.Prepare(flat(0, 0, 3), slope)
	if err != nil {
		t.Fatal(err)
	}
	if len(desc.Vertices) != 50 || len(desc.Indices) != 192 || len(desc.Instances) != 2 {
		t.Fatalf("load has %d vertices %d indices %d instances", len(desc.Vertices), len(desc.Indices), len(desc.Instances))
	}

	second := desc.Instances[1]
	want := renderer.IndexedIndirectArgs{IndexCount: 96, FirstIndex: 96, BaseVertex: 25}
	if second.Draw != want {
		t.Errorf("second draw = %+v, want %+v", second.Draw, want)
	}
	if second.CellID != CellID(-1, 2) || second.Data.Origin != [3]float32{-8, 0, 16} {
		t.Errorf("second chunk cell %#x origin %v", second.CellID, second.Data.Origin)
	}
	if c := second.Bounds.Center; c != [3]float32{-4, -4, 20} {
		t.Errorf("slope bounds center %v, want (-4, -4, 20)", c)
	}

	if n := desc.Vertices[12].Normal; n != [3]float32{0, 1, 0} {
		t.Errorf("flat normal %v", n)
	}
	// A 45 degree slope rising along +X.
	n := desc.Vertices[25+12].Normal
	s := float32(1 / math.Sqrt2)
	if math.Abs(float64(n[0]+s)) > 1e-5 || math.Abs(float64(n[1]-s)) > 1e-5 || n[2] != 0 {
		t.Errorf("slope normal %v", n)
	}
	if v := desc.Vertices[24]; v.Position != [3]float32{8, 3, 8} || v.TexCoord != [2]float32{1, 1} {
		t.Errorf("last vertex %+v", v)
	}
}

func TestPrepareRejectsBadChunks(t *testing.T) {
	tr, _, _ := newTestRenderer(t)
	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"no resolution", Chunk{Size: 8, Heights: []float32{0}}},
		{"no size", Chunk{Resolution: 1, Heights: make([]float32, 4)}},
		{"short heights", Chunk{Size: 8, Resolution: 2, Heights: make([]float32, 8)}},
	}
	for _, tt := range tests {
		if _, err := tr.LoadChunks(tt.chunk); !errors.Is(err, ErrInvalidChunk) {
			t.Errorf("%s: err = %v, want ErrInvalidChunk", tt.name, err)
		}
	}
	if tr.DrawCount() != 0 {
		t.Errorf("rejected chunks reserved %d draws", tr.DrawCount())
	}
}

func TestChunksBehindTheCameraAreCulled(t *testing.T) {
	tr, r, backend := newTestRenderer(t)
	var chunks []Chunk
	for x := int32(-2); x < 2; x++ {
		chunks = append(chunks, flat(x, -3, -2), flat(x, 2, -2))
	}
	if _, err := tr.LoadChunks(chunks...); err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}

	views, err := culling.NewViews(1)
	if err != nil {
		t.Fatal(err)
	}
	defer views.Release(r)
	proj := common.PerspectiveReverseZ(mgl32.DegToRad(90), 1, 0.1, 100)
	views.Set(0, proj.Mul4(mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})), culling.ViewMain)

	tr.Update(0.016, true)
	if err := tr.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Materials().SyncToGPU(r); err != nil {
		t.Fatal(err)
	}
	if err := views.SyncToGPU(r); err != nil {
		t.Fatal(err)
	}
	f := &culledrenderer.Frame{Graph: rendergraph.NewGraph(), Views: views, Culling: true}
	if err := tr.AddCullingPass(f); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddGeometryPasses(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Graph.Execute(r); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	counts, err := tr.Resources().ReadCounters(culling.TargetGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Draws[0] != 4 || counts.Triangles[0] != 128 {
		t.Errorf("counters = %d draws %d triangles, want 4 and 128", counts.Draws[0], counts.Triangles[0])
	}
	draws := backend.Draws()
	if len(draws) != 1 || draws[0].Pipeline != PipelineKey || draws[0].Instances() != 4 {
		t.Fatalf("draws = %+v", draws)
	}
	for _, d := range draws[0].Draws[:4] {
		data := tr.Resources().DrawCallData().Get(int(d.FirstInstance))
		if _, z := CellFromID(data.CellID); z != -3 {
			t.Errorf("drew chunk in row %d", z)
		}
	}
}

func TestShaderReflection(t *testing.T) {
	includes := shader.WithIncludes(culledrenderer.DrawIncludes(Includes()))
	for _, tt := range []struct {
		name     string
		source   string
		bindings int
	}{
		{"draw", drawSource, 4},
		{"shadow", shadowSource, 3},
	} {
		s, err := shader.NewShader(tt.name, shader.ShaderTypeVertex, tt.source, includes)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := len(s.Bindings(0)); got != tt.bindings {
			t.Errorf("%s: %d bindings, want %d", tt.name, got, tt.bindings)
		}
		layouts := s.VertexLayouts()
		if len(layouts[0]) != 1 || layouts[0][0].ArrayStride != 32 || len(layouts[0][0].Attributes) != 3 {
			t.Errorf("%s: vertex layouts %+v", tt.name, layouts)
		}
	}
}
