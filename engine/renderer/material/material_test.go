package material

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

func TestTableDebugSlot(t *testing.T) {
	tbl := NewTable("test")
	if i, ok := tbl.Lookup(DebugName); !ok || i != DebugIndex {
		t.Fatalf("debug material at %d, %v", i, ok)
	}
	if got := tbl.Get(DebugIndex).BaseColor; got != debugColor {
		t.Errorf("debug color = %v", got)
	}
}

func TestTableRegister(t *testing.T) {
	tbl := NewTable("test")
	grass := tbl.Register(NewMaterial(WithName("grass"), WithBaseColor([4]float32{0.2, 0.6, 0.1, 1})))
	rock := tbl.Register(NewMaterial(WithName("rock"), WithRoughness(3)))
	if grass != 1 || rock != 2 {
		t.Fatalf("indices = %d, %d, want 1 and 2", grass, rock)
	}
	if r := tbl.Get(rock).Roughness; r != 1 {
		t.Errorf("roughness = %v, want clamped to 1", r)
	}

	again := tbl.Register(NewMaterial(WithName("grass"), WithMetallic(0.5)))
	if again != grass || tbl.Len() != 3 {
		t.Errorf("re-register = %d with %d entries, want %d with 3", again, tbl.Len(), grass)
	}
	if m := tbl.Get(grass).Metallic; m != 0.5 {
		t.Errorf("metallic = %v after replace", m)
	}
}

func TestResolveFallsBackWithWarning(t *testing.T) {
	var buf bytes.Buffer
	common.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer common.SetLogger(nil)

	tbl := NewTable("liquids")
	water := tbl.Register(NewMaterial(WithName("water")))

	tests := []struct {
		name string
		want uint32
		warn bool
	}{
		{"water", water, false},
		{"lava", DebugIndex, true},
	}
	for _, tt := range tests {
		buf.Reset()
		if got := tbl.Resolve("liquid type 7", tt.name); got != tt.want {
			t.Errorf("Resolve(%q) = %d, want %d", tt.name, got, tt.want)
		}
		if warned := strings.Contains(buf.String(), "level=WARN"); warned != tt.warn {
			t.Errorf("Resolve(%q) warned = %v, log %q", tt.name, warned, buf.String())
		}
	}
}

func TestConcurrentResolve(t *testing.T) {
	tbl := NewTable("test")
	stone := tbl.Register(NewMaterial(WithName("stone")))
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if tbl.Resolve("test", "stone") != stone {
					t.Error("wrong index")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTableSync(t *testing.T) {
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	tbl := NewTable("test")
	var rebound common.BufferHandle
	tbl.OnReallocate(func(h common.BufferHandle) { rebound = h })
	tbl.Register(NewMaterial(WithName("sand"), WithBaseColor([4]float32{0.9, 0.8, 0.5, 1})))

	if err := tbl.SyncToGPU(r); err != nil {
		t.Fatalf("SyncToGPU: %v", err)
	}
	if !rebound.Valid() || rebound != tbl.Buffer() {
		t.Fatalf("rebound %v, buffer %v", rebound, tbl.Buffer())
	}
	var m GPUMaterial
	raw, err := r.ReadBuffer(tbl.Buffer(), uint64(m.Size()), uint64(m.Size()))
	if err != nil {
		t.Fatal(err)
	}
	if got := common.BytesToSlice[GPUMaterial](raw)[0].BaseColor; got != [4]float32{0.9, 0.8, 0.5, 1} {
		t.Errorf("uploaded color = %v", got)
	}
	tbl.Release(r)
}
