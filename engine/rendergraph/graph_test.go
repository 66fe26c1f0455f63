package rendergraph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

func noop(*Context) error { return nil }

func TestCompileDerivesHazards(t *testing.T) {
	g := NewGraph()
	_ = g.AddPass("write-a", func(b *PassBuilder) { b.Write("a") }, noop)
	_ = g.AddPass("read-a", func(b *PassBuilder) { b.Read("a") }, noop)
	_ = g.AddPass("rewrite-a", func(b *PassBuilder) { b.Write("a") }, noop)
	_ = g.AddPass("write-a-again", func(b *PassBuilder) { b.Write("a") }, noop)
	_ = g.AddPass("independent", func(b *PassBuilder) { b.Write("b") }, noop)

	if err := g.Compile(); err != nil {
		t.Fatal(err)
	}
	want := []Barrier{
		{From: "write-a", To: "read-a", Resource: "a", Kind: HazardReadAfterWrite},
		{From: "read-a", To: "rewrite-a", Resource: "a", Kind: HazardWriteAfterRead},
		{From: "rewrite-a", To: "write-a-again", Resource: "a", Kind: HazardWriteAfterWrite},
	}
	if !reflect.DeepEqual(g.Barriers(), want) {
		t.Errorf("Barriers = %+v, want %+v", g.Barriers(), want)
	}
	wantOrder := []string{"write-a", "read-a", "rewrite-a", "write-a-again", "independent"}
	if !reflect.DeepEqual(g.Order(), wantOrder) {
		t.Errorf("Order = %v, want %v", g.Order(), wantOrder)
	}
}

func TestAfterReordersPasses(t *testing.T) {
	g := NewGraph()
	_ = g.AddPass("cull", func(b *PassBuilder) {
		b.Read("pyramid")
		b.After("pyramid-build")
	}, noop)
	_ = g.AddPass("pyramid-build", func(b *PassBuilder) { b.Write("pyramid-next") }, noop)

	if err := g.Compile(); err != nil {
		t.Fatal(err)
	}
	if got := g.Order(); !reflect.DeepEqual(got, []string{"pyramid-build", "cull"}) {
		t.Errorf("Order = %v, want the explicit dependency first", got)
	}
	barriers := g.Barriers()
	if len(barriers) != 1 || barriers[0].Kind != HazardExplicit {
		t.Errorf("Barriers = %+v, want one explicit edge", barriers)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *Graph)
		want  error
	}{
		{
			name: "unknown dependency",
			build: func(g *Graph) {
				_ = g.AddPass("p", func(b *PassBuilder) { b.After("missing") }, noop)
			},
			want: ErrUnknownDependency,
		},
		{
			name: "cycle",
			build: func(g *Graph) {
				_ = g.AddPass("producer", func(b *PassBuilder) {
					b.Write("x")
					b.After("consumer")
				}, noop)
				_ = g.AddPass("consumer", func(b *PassBuilder) { b.Read("x") }, noop)
			},
			want: ErrCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			tt.build(g)
			if err := g.Compile(); !errors.Is(err, tt.want) {
				t.Errorf("Compile = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDuplicatePass(t *testing.T) {
	g := NewGraph()
	if err := g.AddPass("p", nil, noop); err != nil {
		t.Fatal(err)
	}
	if err := g.AddPass("p", nil, noop); !errors.Is(err, ErrDuplicatePass) {
		t.Errorf("AddPass = %v, want ErrDuplicatePass", err)
	}
	g.Reset()
	if err := g.AddPass("p", nil, noop); err != nil {
		t.Errorf("AddPass after Reset = %v", err)
	}
}

func TestExecuteRecordsAndSubmits(t *testing.T) {
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := r.CreateBuffer(common.BufferDescriptor{Label: "b", Size: 8, Usage: common.BufferUsageCopyDst | common.BufferUsageCopySrc})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.WriteBuffer(buf, 0, []byte{1, 1, 1, 1, 2, 2, 2, 2}); err != nil {
		t.Fatal(err)
	}

	var executed []string
	g := NewGraph(WithLabel("test"))
	_ = g.AddPass("copy", func(b *PassBuilder) { b.Read("b"); b.Write("b") }, func(ctx *Context) error {
		executed = append(executed, ctx.Pass)
		ctx.Commands.CopyBuffer(buf, 4, buf, 0, 4)
		return nil
	})
	_ = g.AddPass("clear", func(b *PassBuilder) { b.Write("b") }, func(ctx *Context) error {
		executed = append(executed, ctx.Pass)
		ctx.Commands.ClearBuffer(buf, 4, 4)
		return nil
	})
	if err := g.Execute(r); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(executed, []string{"copy", "clear"}) {
		t.Errorf("executed = %v", executed)
	}
	got, _ := r.ReadBuffer(buf, 0, 8)
	if !reflect.DeepEqual(got, []byte{2, 2, 2, 2, 0, 0, 0, 0}) {
		t.Errorf("buffer = %v, want copy then clear", got)
	}

	t.Run("execute error stops the frame", func(t *testing.T) {
		g := NewGraph()
		boom := errors.New("boom")
		_ = g.AddPass("fails", nil, func(*Context) error { return boom })
		if err := g.Execute(r); !errors.Is(err, boom) {
			t.Errorf("Execute = %v, want boom", err)
		}
	})
}
