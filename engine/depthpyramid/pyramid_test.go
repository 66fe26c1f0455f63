package depthpyramid

import (
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/rendergraph"
)

func TestNewLayout(t *testing.T) {
	tests := []struct {
		w, h          uint32
		wantW, wantH  uint32
		wantMips      uint32
		wantTopExtent [2]uint32
	}{
		{1920, 1080, 1024, 1024, 11, [2]uint32{1, 1}},
		{8192, 8192, 8192, 8192, MaxMips, [2]uint32{4, 4}},
		{200, 40, 128, 32, 8, [2]uint32{1, 1}},
		{64, 16, 64, 16, 7, [2]uint32{1, 1}},
		{1, 1, 1, 1, 1, [2]uint32{1, 1}},
	}
	for _, tt := range tests {
		l := NewLayout(tt.w, tt.h)
		if l.Width != tt.wantW || l.Height != tt.wantH || l.Mips != tt.wantMips {
			t.Errorf("NewLayout(%d,%d) = %dx%d with %d mips, want %dx%d with %d", tt.w, tt.h,
				l.Width, l.Height, l.Mips, tt.wantW, tt.wantH, tt.wantMips)
			continue
		}
		w, h := l.MipExtent(l.Mips - 1)
		if [2]uint32{w, h} != tt.wantTopExtent {
			t.Errorf("NewLayout(%d,%d) top mip %dx%d, want %v", tt.w, tt.h, w, h, tt.wantTopExtent)
		}
		var texels uint32
		for m := uint32(0); m < l.Mips; m++ {
			if l.Offsets[m] != texels {
				t.Errorf("mip %d offset %d, want %d", m, l.Offsets[m], texels)
			}
			mw, mh := l.MipExtent(m)
			texels += mw * mh
		}
		if l.Texels != texels {
			t.Errorf("Texels = %d, want %d", l.Texels, texels)
		}
	}
	if NewLayout(0, 10).Valid() {
		t.Error("zero extent produced a valid layout")
	}
}

// referencePyramid reduces depth one mip at a time with a plain MIN.
func referencePyramid(depth []float32, srcW, srcH uint32) []float32 {
	l := NewLayout(srcW, srcH)
	out := make([]float32, l.Texels)
	for y := uint32(0); y < l.Height; y++ {
		for x := uint32(0); x < l.Width; x++ {
			v := farLimit
			for sy := y * srcH / l.Height; sy < min(((y+1)*srcH+l.Height-1)/l.Height, srcH); sy++ {
				for sx := x * srcW / l.Width; sx < min(((x+1)*srcW+l.Width-1)/l.Width, srcW); sx++ {
					v = min(v, depth[sy*srcW+sx])
				}
			}
			out[y*l.Width+x] = v
		}
	}
	for m := uint32(1); m < l.Mips; m++ {
		w, h := l.MipExtent(m)
		for y := uint32(0); y < h; y++ {
			for x := uint32(0); x < w; x++ {
				out[l.Offsets[m]+y*w+x] = l.MinOver(out, m-1, 2*x, 2*y, 2*x+1, 2*y+1)
			}
		}
	}
	return out
}

type fixture struct {
	r     renderer.Renderer
	p     *Pyramid
	depth common.TextureHandle
	w, h  uint32
}

func newFixture(t *testing.T, w, h uint32) *fixture {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Resize(w, h); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	depth, err := r.CreateTexture(common.TextureDescriptor{Label: "depth", Width: w, Height: h, Format: common.TextureFormatDepth32Float})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{r: r, p: p, depth: depth, w: w, h: h}
}

func (f *fixture) build(t *testing.T, depth []float32) []float32 {
	t.Helper()
	if err := f.r.WriteDepthTexture(f.depth, depth); err != nil {
		t.Fatal(err)
	}
	g := rendergraph.NewGraph()
	if err := f.p.AddBuildPasses(g, BuildParams{Depth: f.depth}); err != nil {
		t.Fatal(err)
	}
	if err := g.Execute(f.r); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, err := f.p.Read()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func constant(n uint32, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestBuildMatchesReference(t *testing.T) {
	sizes := [][2]uint32{{100, 70}, {200, 40}, {33, 300}, {640, 360}}
	rng := rand.New(rand.NewSource(7))
	for _, size := range sizes {
		f := newFixture(t, size[0], size[1])
		depth := make([]float32, size[0]*size[1])
		for i := range depth {
			depth[i] = rng.Float32()
		}
		got := f.build(t, depth)
		want := referencePyramid(depth, size[0], size[1])
		if len(got) != len(want) {
			t.Fatalf("%v: %d texels, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%v: texel %d = %v, want %v", size, i, got[i], want[i])
			}
		}
		if !f.p.Valid() {
			t.Errorf("%v: pyramid not valid after a build", size)
		}
	}
}

func TestBuildKeepsFarthestOccluder(t *testing.T) {
	f := newFixture(t, 64, 64)
	depth := constant(64*64, 0.8)
	// One far texel must reach every mip above it.
	depth[40*64+9] = 0.1
	out := f.build(t, depth)
	l := f.p.Layout()
	for m := uint32(0); m < l.Mips; m++ {
		x, y := uint32(9)>>m, uint32(40)>>m
		if got := l.At(out, m, x, y); got != 0.1 {
			t.Errorf("mip %d texel (%d,%d) = %v, want the far value 0.1", m, x, y, got)
		}
	}
	if got := l.At(out, 1, 0, 0); got != 0.8 {
		t.Errorf("unrelated texel = %v, want 0.8", got)
	}
}

func TestCounterResetEveryFrame(t *testing.T) {
	f := newFixture(t, 256, 256)
	l := f.p.Layout()
	top := l.Mips - 1
	if top <= groupMips {
		t.Fatalf("layout too small to reach the last-group mips: %d mips", l.Mips)
	}

	out := f.build(t, constant(256*256, 0.25))
	if got := l.At(out, top, 0, 0); got != 0.25 {
		t.Fatalf("first build top mip = %v, want 0.25", got)
	}

	// Run the downsample without clearing the counter: no group observes the last count,
	// so the mips reduced by the last group keep the previous frame's values.
	if err := f.r.WriteDepthTexture(f.depth, constant(256*256, 0.9)); err != nil {
		t.Fatal(err)
	}
	gx, gy := l.Groups()
	cl := renderer.NewCommandList()
	cl.Dispatch(copyPipelineKey, []bind_group_provider.BindGroupProvider{f.p.copyProvider}, [3]uint32{32, 32, 1})
	cl.Dispatch(downsamplePipelineKey, []bind_group_provider.BindGroupProvider{f.p.downsampleGroup}, [3]uint32{gx, gy, 1})
	if err := f.r.Submit(cl); err != nil {
		t.Fatal(err)
	}
	stale, _ := f.p.Read()
	if got := l.At(stale, groupMips, 0, 0); got != 0.9 {
		t.Errorf("group mip %d = %v, want 0.9", groupMips, got)
	}
	if got := l.At(stale, top, 0, 0); got != 0.25 {
		t.Errorf("top mip without counter reset = %v, want stale 0.25", got)
	}

	fresh := f.build(t, constant(256*256, 0.9))
	if got := l.At(fresh, top, 0, 0); got != 0.9 {
		t.Errorf("top mip with counter reset = %v, want 0.9", got)
	}
}

func TestValidExpires(t *testing.T) {
	f := newFixture(t, 64, 64)
	f.build(t, constant(64*64, 0.5))

	steps := []struct {
		name  string
		build bool
		valid bool
	}{
		{name: "built this frame", build: true, valid: true},
		{name: "built last frame", valid: true},
		{name: "two frames without a build", valid: false},
		{name: "many frames without a build", valid: false},
		{name: "rebuilt", build: true, valid: true},
	}
	for i, step := range steps {
		if i > 0 {
			f.p.NextFrame()
		}
		if step.build {
			f.build(t, constant(64*64, 0.5))
		}
		if got := f.p.Valid(); got != step.valid {
			t.Errorf("%s: Valid() = %v, want %v", step.name, got, step.valid)
		}
	}
}

func TestResizeRebinds(t *testing.T) {
	f := newFixture(t, 64, 64)
	gen, buf := f.p.Generation(), f.p.Buffer()
	if err := f.p.Resize(64, 64); err != nil {
		t.Fatal(err)
	}
	if f.p.Generation() != gen || f.p.Buffer() != buf {
		t.Error("same-size resize recreated the buffer")
	}
	if err := f.p.Resize(300, 300); err != nil {
		t.Fatal(err)
	}
	if f.p.Generation() == gen || f.p.Buffer() == buf {
		t.Error("resize did not recreate the buffer")
	}
	if f.p.Valid() {
		t.Error("pyramid valid before its first build at the new size")
	}
	if f.p.copyProvider.Buffer(2) != f.p.Buffer() || f.p.downsampleGroup.Buffer(1) != f.p.Buffer() {
		t.Error("providers not rebound to the new buffer")
	}
	if err := f.p.Resize(0, 4); err == nil {
		t.Error("zero extent accepted")
	}
}
