package loader

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/model"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/terrain"
)

var errLoad = errors.New("load rejected")

// fakeTarget hands out consecutive ranges and records every load.
type fakeTarget struct {
	mu       sync.Mutex
	next     culledrenderer.Offsets
	reserves int
	loads    map[int]culledrenderer.LoadDesc[int, int]
	rejectAt map[int]bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{loads: make(map[int]culledrenderer.LoadDesc[int, int]), rejectAt: make(map[int]bool)}
}

func (f *fakeTarget) Label() string { return "fake" }

func (f *fakeTarget) Reserve(info culledrenderer.ReserveInfo) (culledrenderer.Offsets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info.NumInstances <= 0 {
		return culledrenderer.Offsets{}, culledrenderer.ErrInvalidReservation
	}
	f.reserves++
	offs := f.next
	f.next.Instance += info.NumInstances
	f.next.Vertex += info.NumVertices
	f.next.Index += info.NumIndices
	return offs, nil
}

func (f *fakeTarget) Load(desc culledrenderer.LoadDesc[int, int]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAt[desc.Offsets.Instance] {
		return errLoad
	}
	f.loads[desc.Offsets.Instance] = desc
	return nil
}

func loadOf(n int) BuildFunc[int, int] {
	return func() (culledrenderer.LoadDesc[int, int], error) {
		desc := culledrenderer.LoadDesc[int, int]{Vertices: make([]int, 3*n), Indices: make([]uint32, 3*n)}
		for i := range n {
			desc.Instances = append(desc.Instances, culledrenderer.Instance[int]{Data: i})
		}
		return desc, nil
	}
}

// drain finishes every build, dispatches the fills and waits for them.
func drain(l interface {
	Wait()
	Update() int
}) int {
	l.Wait()
	n := l.Update()
	l.Wait()
	return n
}

func TestRequestsReserveThenLoad(t *testing.T) {
	target := newFakeTarget()
	l := NewLoader[int, int](target, WithWorkers(3), WithQueueSize(8))
	defer l.Close()

	for i := range 20 {
		if err := l.Request(fmt.Sprintf("r%d", i), loadOf(i%3+1)); err != nil {
			t.Fatal(err)
		}
	}
	if n := drain(l); n != 20 {
		t.Fatalf("Update dispatched %d fills, want 20", n)
	}
	if target.reserves != 20 || len(target.loads) != 20 {
		t.Errorf("%d reserves %d loads, want 20 of each", target.reserves, len(target.loads))
	}
	total := 0
	for _, desc := range target.loads {
		total += len(desc.Instances)
		if desc.Offsets.Vertex != 3*desc.Offsets.Instance {
			t.Errorf("load at %+v has mismatched offsets", desc.Offsets)
		}
	}
	if total != target.next.Instance {
		t.Errorf("loaded %d instances of %d reserved", total, target.next.Instance)
	}
	if got := l.Summary(); got[StateLoaded] != 20 || len(got) != 1 {
		t.Errorf("summary = %v", got)
	}
	if l.Update() != 0 {
		t.Error("second Update dispatched again")
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	var buf bytes.Buffer
	common.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer common.SetLogger(nil)

	target := newFakeTarget()
	target.rejectAt[1] = true
	l := NewLoader[int, int](target, WithLabel("isolated"), WithWorkers(1))
	defer l.Close()

	requests := []struct {
		key   string
		build BuildFunc[int, int]
		want  State
	}{
		{"first", loadOf(1), StateLoaded},
		{"rejected", loadOf(2), StateFailed},
		{"broken", func() (culledrenderer.LoadDesc[int, int], error) {
			return culledrenderer.LoadDesc[int, int]{}, errors.New("missing heights")
		}, StateFailed},
		{"empty", loadOf(0), StateFailed},
		{"last", loadOf(1), StateLoaded},
	}
	// One worker keeps build order, so "rejected" is the reservation starting at 1.
	for _, r := range requests {
		if err := l.Request(r.key, r.build); err != nil {
			t.Fatal(err)
		}
		l.Wait()
	}
	drain(l)

	for _, r := range requests {
		if got := l.State(r.key); got != r.want {
			t.Errorf("%s: state %s, want %s", r.key, got, r.want)
		}
	}
	if !errors.Is(l.Err("rejected"), errLoad) || !errors.Is(l.Err("empty"), culledrenderer.ErrInvalidReservation) {
		t.Errorf("errors = %v, %v", l.Err("rejected"), l.Err("empty"))
	}
	out := buf.String()
	for _, want := range []string{"key=rejected stage=load", "key=broken stage=build", "key=empty stage=reserve"} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q: %s", want, out)
		}
	}

	if err := l.Request("broken", loadOf(1)); err != nil {
		t.Errorf("retrying a failed key: %v", err)
	}
	drain(l)
	if l.State("broken") != StateLoaded || l.Err("broken") != nil {
		t.Errorf("retry state %s err %v", l.State("broken"), l.Err("broken"))
	}
}

func TestDuplicateAndClosed(t *testing.T) {
	l := NewLoader[int, int](newFakeTarget())
	if err := l.Request("a", loadOf(1)); err != nil {
		t.Fatal(err)
	}
	if err := l.Request("a", loadOf(1)); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("duplicate: err = %v", err)
	}
	drain(l)
	if err := l.Request("a", loadOf(1)); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("duplicate of a loaded key: err = %v", err)
	}
	if l.State("never") != StateUnknown {
		t.Errorf("state of an unknown key = %s", l.State("never"))
	}
	l.Close()
	if err := l.Request("b", loadOf(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close: err = %v", err)
	}
}

func TestRequestRacingClose(t *testing.T) {
	target := newFakeTarget()
	l := NewLoader[int, int](target, WithWorkers(2))

	var wg sync.WaitGroup
	accepted := make(chan string, 64)
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 16 {
				key := fmt.Sprintf("g%d-%d", g, i)
				err := l.Request(key, loadOf(1))
				switch {
				case err == nil:
					accepted <- key
				case !errors.Is(err, ErrClosed):
					t.Errorf("%s: err = %v", key, err)
				}
			}
		}()
	}
	l.Close()
	wg.Wait()
	close(accepted)

	// Close waited for every accepted build, so none is still queued.
	for key := range accepted {
		if st := l.State(key); st != StateBuilt {
			t.Errorf("%s is %s after Close", key, st)
		}
	}
	if n := l.Update(); n != 0 {
		t.Errorf("Update after Close dispatched %d fills", n)
	}
	for st, n := range l.Summary() {
		if st != StateFailed && n > 0 {
			t.Errorf("%d requests %s after the closed Update", n, st)
		}
	}
	if target.reserves != 0 {
		t.Errorf("%d reservations after Close", target.reserves)
	}
	l.Wait()
}

func softwareRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithBackend(renderer.NewSoftwareBackend()))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestModelLoaderFailsMissingModels(t *testing.T) {
	mr, err := model.NewRenderer(softwareRenderer(t), culledrenderer.Params{NumViews: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Release()
	ml := NewModelLoader(mr, WithWorkers(2))
	defer ml.Close()

	tri, err := model.NewModel(model.WithName("tri"), model.WithMeshes(model.Mesh{
		Vertices: []model.GPUVertex{{Position: [3]float32{0, 0, 0}}, {Position: [3]float32{1, 0, 0}}, {Position: [3]float32{0, 1, 0}}},
		Indices:  []uint32{0, 1, 2},
	}))
	if err != nil {
		t.Fatal(err)
	}
	ml.Register(tri)

	placements := []model.Placement{{}, {Transform: model.Transform{Translation: [3]float32{4, 0, 0}}}}
	if err := ml.Place("tris", "tri", placements...); err != nil {
		t.Fatal(err)
	}
	if err := ml.Place("ghosts", "ghost", placements...); err != nil {
		t.Fatal(err)
	}
	drain(ml)

	if ml.State("tris") != StateLoaded || mr.DrawCount() != 2 {
		t.Errorf("tris %s with %d draws", ml.State("tris"), mr.DrawCount())
	}
	if ml.State("ghosts") != StateFailed || !errors.Is(ml.Err("ghosts"), ErrModelNotFound) {
		t.Errorf("ghosts %s: %v", ml.State("ghosts"), ml.Err("ghosts"))
	}
}

func TestTerrainLoaderArea(t *testing.T) {
	tr, err := terrain.NewRenderer(softwareRenderer(t), culledrenderer.Params{NumViews: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release()
	tl := NewTerrainLoader(tr, Heightfield{
		ChunkSize:  16,
		Resolution: 8,
		Height:     func(wx, wz float32) float32 { return 0.1 * (wx + wz) },
	})
	defer tl.Close()

	if n, err := tl.RequestArea(-1, -1, 1, 1); n != 4 || err != nil {
		t.Fatalf("RequestArea = %d, %v", n, err)
	}
	if n, err := tl.RequestArea(0, 0, 2, 1); n != 1 || err != nil {
		t.Errorf("overlapping RequestArea = %d, %v, want only the new chunk", n, err)
	}
	drain(tl)

	if tr.DrawCount() != 5 {
		t.Errorf("%d chunk draws, want 5", tr.DrawCount())
	}
	if got := tl.Summary()[StateLoaded]; got != 5 {
		t.Errorf("%d chunks loaded", got)
	}
	cells := make(map[uint32]bool)
	for i := range tr.DrawCount() {
		cells[tr.Resources().DrawCallData().Get(i).CellID] = true
	}
	if !cells[terrain.CellID(-1, -1)] || !cells[terrain.CellID(1, 0)] || len(cells) != 5 {
		t.Errorf("cells = %v", cells)
	}
}
