package bind_group_provider

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
)

func TestGenerationBumpsOnlyOnChange(t *testing.T) {
	p := NewBindGroupProvider("test", WithBuffer(0, 1), WithTexture(1, 2))
	if p.Generation() != 0 {
		t.Fatalf("initial generation = %d, want 0", p.Generation())
	}

	steps := []struct {
		name string
		do   func()
		want uint64
	}{
		{"same buffer", func() { p.SetBuffer(0, 1) }, 0},
		{"new buffer", func() { p.SetBuffer(0, 5) }, 1},
		{"new binding", func() { p.SetBuffer(2, 6) }, 2},
		{"same texture", func() { p.SetTexture(1, 2) }, 2},
		{"new texture", func() { p.SetTexture(1, 3) }, 3},
		{"geometry", func() { p.SetGeometry(7, 8) }, 4},
		{"same geometry", func() { p.SetGeometry(7, 8) }, 4},
	}
	for _, s := range steps {
		s.do()
		if got := p.Generation(); got != s.want {
			t.Errorf("%s: generation = %d, want %d", s.name, got, s.want)
		}
	}
	if p.Buffer(0) != common.BufferHandle(5) || p.Texture(1) != common.TextureHandle(3) {
		t.Error("handles were not updated")
	}
	if p.VertexBuffer() != 7 || p.IndexBuffer() != 8 {
		t.Error("geometry handles were not updated")
	}
}

func TestBufferWriteTarget(t *testing.T) {
	p := NewBindGroupProvider("test", WithBuffer(0, 4))
	tests := []struct {
		name  string
		write BufferWrite
		want  common.BufferHandle
	}{
		{"bound", WriteAt(p, 0, []byte{1, 2, 3, 4}), 4},
		{"unbound binding", WriteAt(p, 3, nil), 0},
		{"no provider", BufferWrite{Binding: 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.write.Target(); got != tt.want {
				t.Errorf("Target() = %d, want %d", got, tt.want)
			}
		})
	}

	w := WriteAt(p, 0, nil)
	p.SetBuffer(0, 9)
	if got := w.Target(); got != 9 {
		t.Errorf("Target() after a rebind = %d, want the live buffer 9", got)
	}
}
