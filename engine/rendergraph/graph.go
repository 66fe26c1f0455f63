package rendergraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

var (
	// ErrDuplicatePass is returned when two passes share a name in one frame.
	ErrDuplicatePass = errors.New("rendergraph: duplicate pass name")

	// ErrUnknownDependency is returned when a pass declares After on a pass that does not exist.
	ErrUnknownDependency = errors.New("rendergraph: dependency on unknown pass")

	// ErrCycle is returned when explicit dependencies contradict the resource hazards.
	ErrCycle = errors.New("rendergraph: dependency cycle")
)

// HazardKind classifies the dependency between two passes on one resource.
type HazardKind int

const (
	// HazardReadAfterWrite orders a read after the write producing the data.
	HazardReadAfterWrite HazardKind = iota
	// HazardWriteAfterRead orders a write after earlier readers of the old data.
	HazardWriteAfterRead
	// HazardWriteAfterWrite orders two writes to the same resource.
	HazardWriteAfterWrite
	// HazardExplicit is a dependency declared with After.
	HazardExplicit
)

func (k HazardKind) String() string {
	switch k {
	case HazardReadAfterWrite:
		return "RAW"
	case HazardWriteAfterRead:
		return "WAR"
	case HazardWriteAfterWrite:
		return "WAW"
	default:
		return "after"
	}
}

// Barrier is an ordering edge between two passes.
type Barrier struct {
	From, To string
	Resource string
	Kind     HazardKind
}

// Context is handed to a pass's execute closure.
type Context struct {
	// Pass is the name of the executing pass.
	Pass string
	// Renderer is the renderer the graph executes on.
	Renderer renderer.Renderer
	// Commands is the frame's command list. Passes record into it; the graph submits once.
	Commands *renderer.CommandList
}

// SetupFunc declares the resources a pass touches.
type SetupFunc func(b *PassBuilder)

// ExecuteFunc records the pass's commands.
type ExecuteFunc func(ctx *Context) error

type pass struct {
	name    string
	index   int
	reads   []string
	writes  []string
	after   []string
	execute ExecuteFunc
}

// PassBuilder collects a pass's logical resource accesses during setup.
type PassBuilder struct {
	p *pass
}

// Read declares that the pass reads resources.
func (b *PassBuilder) Read(resources ...string) {
	b.p.reads = append(b.p.reads, resources...)
}

// Write declares that the pass writes resources. A read-modify-write declares both.
func (b *PassBuilder) Write(resources ...string) {
	b.p.writes = append(b.p.writes, resources...)
}

// After declares an explicit dependency on another pass of the frame.
func (b *PassBuilder) After(passNames ...string) {
	b.p.after = append(b.p.after, passNames...)
}

// Graph collects the passes of one frame, orders them and records their commands into a
// single command list. Passes are closures keyed by name, rebuilt every frame.
type Graph struct {
	label    string
	passes   []*pass
	byName   map[string]*pass
	order    []*pass
	barriers []Barrier
	compiled bool
	commands *renderer.CommandList
}

// NewGraph creates an empty graph.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - *Graph: the graph
func NewGraph(options ...GraphBuilderOption) *Graph {
	g := &Graph{
		label:    "frame",
		byName:   make(map[string]*pass),
		commands: renderer.NewCommandList(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// AddPass adds a pass. setup runs immediately and declares the pass's accesses; execute
// runs during Execute in dependency order.
//
// Parameters:
//   - name: unique pass name within the frame
//   - setup: declares reads, writes and explicit dependencies; may be nil
//   - execute: records the pass's commands
//
// Returns:
//   - error: ErrDuplicatePass if name is taken
func (g *Graph) AddPass(name string, setup SetupFunc, execute ExecuteFunc) error {
	if _, exists := g.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePass, name)
	}
	p := &pass{name: name, index: len(g.passes), execute: execute}
	if setup != nil {
		setup(&PassBuilder{p: p})
	}
	g.passes = append(g.passes, p)
	g.byName[name] = p
	g.compiled = false
	return nil
}

// HasPass reports whether a pass was added this frame.
func (g *Graph) HasPass(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// Compile derives the hazards between passes from their declarations in declaration order,
// adds the explicit dependencies and orders the passes topologically. Among independent
// passes declaration order is kept.
//
// Returns:
//   - error: ErrUnknownDependency or ErrCycle
func (g *Graph) Compile() error {
	g.barriers = g.barriers[:0]
	edges := make(map[int]map[int]struct{}, len(g.passes))
	addEdge := func(from, to *pass, resource string, kind HazardKind) {
		if edges[to.index] == nil {
			edges[to.index] = make(map[int]struct{})
		}
		if _, seen := edges[to.index][from.index]; !seen || kind == HazardExplicit {
			g.barriers = append(g.barriers, Barrier{From: from.name, To: to.name, Resource: resource, Kind: kind})
		}
		edges[to.index][from.index] = struct{}{}
	}

	lastWriter := make(map[string]*pass)
	readers := make(map[string][]*pass)
	for _, p := range g.passes {
		for _, res := range p.reads {
			if w, ok := lastWriter[res]; ok && w != p {
				addEdge(w, p, res, HazardReadAfterWrite)
			}
		}
		for _, res := range p.writes {
			for _, r := range readers[res] {
				if r != p {
					addEdge(r, p, res, HazardWriteAfterRead)
				}
			}
			if w, ok := lastWriter[res]; ok && w != p && len(readers[res]) == 0 {
				addEdge(w, p, res, HazardWriteAfterWrite)
			}
		}
		for _, res := range p.reads {
			readers[res] = append(readers[res], p)
		}
		for _, res := range p.writes {
			lastWriter[res] = p
			readers[res] = readers[res][:0]
		}
		for _, dep := range p.after {
			d, ok := g.byName[dep]
			if !ok {
				return fmt.Errorf("%w: %s after %s", ErrUnknownDependency, p.name, dep)
			}
			addEdge(d, p, "", HazardExplicit)
		}
	}

	order, err := g.topoSort(edges)
	if err != nil {
		return err
	}
	g.order = order
	g.compiled = true
	common.Logger().Debug("render graph compiled", "graph", g.label, "passes", len(order), "barriers", len(g.barriers))
	return nil
}

// topoSort is Kahn's algorithm picking the lowest declaration index among ready passes.
func (g *Graph) topoSort(edges map[int]map[int]struct{}) ([]*pass, error) {
	indegree := make([]int, len(g.passes))
	out := make([][]int, len(g.passes))
	for to, froms := range edges {
		for from := range froms {
			indegree[to]++
			out[from] = append(out[from], to)
		}
	}
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]*pass, 0, len(g.passes))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, g.passes[next])
		for _, to := range out[next] {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	if len(order) != len(g.passes) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, g.passes[i].name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// Order returns the pass names in execution order. Compile must have succeeded.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for i, p := range g.order {
		names[i] = p.name
	}
	return names
}

// Barriers returns the ordering edges found by Compile.
func (g *Graph) Barriers() []Barrier {
	return g.barriers
}

// Execute compiles the graph if needed, records every pass into one command list, inserting
// a barrier before each pass that depends on an earlier one, and submits it.
//
// Parameters:
//   - r: the renderer to record for and submit to
//
// Returns:
//   - error: the first compile, execute or submit error
func (g *Graph) Execute(r renderer.Renderer) error {
	if !g.compiled {
		if err := g.Compile(); err != nil {
			return err
		}
	}
	incoming := make(map[string]bool, len(g.barriers))
	for _, b := range g.barriers {
		incoming[b.To] = true
	}

	g.commands.Reset()
	ctx := &Context{Renderer: r, Commands: g.commands}
	for _, p := range g.order {
		if incoming[p.name] {
			g.commands.Barrier(p.name)
		}
		if p.execute == nil {
			continue
		}
		ctx.Pass = p.name
		if err := p.execute(ctx); err != nil {
			return fmt.Errorf("pass %s: %w", p.name, err)
		}
	}
	if g.commands.Len() == 0 {
		return nil
	}
	if err := r.Submit(g.commands); err != nil {
		return fmt.Errorf("graph %s: %w", g.label, err)
	}
	return nil
}

// Reset drops all passes so the graph can be rebuilt for the next frame.
func (g *Graph) Reset() {
	g.passes = g.passes[:0]
	clear(g.byName)
	g.order = g.order[:0]
	g.barriers = g.barriers[:0]
	g.compiled = false
}
