package window

import "testing"

type recordedInput struct {
	drags [][2]float32
}

func (r *recordedInput) KeyDown(uint32)      {}
func (r *recordedInput) KeyUp(uint32)        {}
func (r *recordedInput) Scroll(float32)      {}
func (r *recordedInput) Drag(dx, dy float32) { r.drags = append(r.drags, [2]float32{dx, dy}) }

func TestDragDeltas(t *testing.T) {
	in := &recordedInput{}
	w := &engineWindow{input: in}

	w.cursorMoved(10, 10)
	w.dragging = true
	w.cursorMoved(14, 7)
	w.cursorMoved(20, 7)
	w.dragging = false
	w.cursorMoved(0, 0)

	want := [][2]float32{{4, -3}, {6, 0}}
	if len(in.drags) != len(want) {
		t.Fatalf("drags = %v, want %v", in.drags, want)
	}
	for i := range want {
		if in.drags[i] != want[i] {
			t.Errorf("drag %d = %v, want %v", i, in.drags[i], want[i])
		}
	}
}

func TestClosedWindow(t *testing.T) {
	w := &engineWindow{}
	if w.IsRunning() {
		t.Error("uninitialized window reports running")
	}
	if w.SurfaceDescriptor() != nil {
		t.Error("uninitialized window has a surface")
	}
	if err := w.Close(); err == nil {
		t.Error("closing an uninitialized window succeeded")
	}
}
