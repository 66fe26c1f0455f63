package culledrenderer

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/gpuvector"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/material"
)

// Draw bindings of group 0, shared by every category's draw and shadow shaders.
const (
	BindingCamera       = 0
	BindingDrawCallData = 1
	BindingInstances    = 2
	BindingMaterials    = 3
)

// Params configures New.
type Params struct {
	// Label prefixes buffers and passes. Must be unique per renderer.
	Label string

	// NumViews is 1 for the camera plus one per shadow cascade.
	NumViews uint32

	// TwoStep enables the occluder pre-pass. Ignored for transparent renderers.
	TwoStep bool

	// CollectStats reads the culling counters back every frame.
	CollectStats bool

	// InitialDraws is the draw capacity allocated up front.
	InitialDraws int

	// Materials is the table draws index with their material. Nil gives the renderer a
	// private table it syncs itself.
	Materials *material.Table

	// DrawPipeline is the render pipeline of the occluder and geometry draws.
	DrawPipeline string

	// ShadowPipeline is the depth-only pipeline of the cascade draws. Empty disables
	// shadow passes.
	ShadowPipeline string

	// Transparent draws test depth without writing it, after every opaque draw.
	Transparent bool
}

// CulledRenderer owns the GPU-resident geometry of one content category: vertices, indices,
// one instance record per draw, and the culling resources of those draws. Loaders fill it
// through Reserve then Load; the render loop calls Update, Sync and the pass adders.
//
// Reserve and Sync take an exclusive lock. Load takes a shared lock and may run on many
// goroutines at once, each writing its own reservation. Pass adders read only state
// fixed by the last Sync.
type CulledRenderer[V, I any] struct {
	r  renderer.Renderer
	mu sync.RWMutex

	label  string
	params Params

	vertices  *gpuvector.Vector[V]
	indices   *gpuvector.Vector[uint32]
	instances *gpuvector.Vector[I]
	res       *culling.Resources

	materials     *material.Table
	ownsMaterials bool

	reservations map[int]*reservation

	geometry bind_group_provider.BindGroupProvider
	draw     bind_group_provider.BindGroupProvider
	shadows  []bind_group_provider.BindGroupProvider
}

// New creates a renderer and its culling resources.
//
// Parameters:
//   - r: the renderer owning every buffer
//   - params: label, view count and pipelines
//
// Returns:
//   - *CulledRenderer[V, I]: the renderer
//   - error: if the culling resources cannot be created
func New[V, I any](r renderer.Renderer, params Params) (*CulledRenderer[V, I], error) {
	if params.DrawPipeline == "" {
		return nil, fmt.Errorf("culledrenderer %s: no draw pipeline", params.Label)
	}
	label := common.Coalesce(params.Label, "culled")
	res, err := culling.NewResources(r, culling.Params{
		Label:                label,
		NumViews:             max(params.NumViews, 1),
		EnableTwoStepCulling: params.TwoStep && !params.Transparent,
		CollectStats:         params.CollectStats,
		InitialCapacity:      params.InitialDraws,
	})
	if err != nil {
		return nil, err
	}

	c := &CulledRenderer[V, I]{
		r:            r,
		label:        label,
		params:       params,
		res:          res,
		materials:    params.Materials,
		reservations: make(map[int]*reservation),
		vertices: gpuvector.New[V](label+" Vertices", common.BufferUsageVertex,
			gpuvector.WithInitialCapacity(params.InitialDraws*4)),
		indices: gpuvector.New[uint32](label+" Indices", common.BufferUsageIndex,
			gpuvector.WithInitialCapacity(params.InitialDraws*6)),
		instances: gpuvector.New[I](label+" Instances", common.BufferUsageStorage,
			gpuvector.WithInitialCapacity(params.InitialDraws)),
	}
	if c.materials == nil {
		c.materials = material.NewTable(label + " Materials")
		c.ownsMaterials = true
	}

	c.geometry = bind_group_provider.NewBindGroupProvider(label + " Geometry")
	c.draw = bind_group_provider.NewBindGroupProvider(label + " Draw")
	for cascade := uint32(1); cascade < res.NumViews(); cascade++ {
		c.shadows = append(c.shadows,
			bind_group_provider.NewBindGroupProvider(fmt.Sprintf("%s Shadow %d", label, cascade)))
	}

	c.vertices.OnReallocate(func(buf common.BufferHandle) {
		c.geometry.SetGeometry(buf, c.indices.Buffer())
	})
	c.indices.OnReallocate(func(buf common.BufferHandle) {
		c.geometry.SetGeometry(c.vertices.Buffer(), buf)
	})
	c.instances.OnReallocate(func(buf common.BufferHandle) {
		for _, p := range c.drawProviders() {
			p.SetBuffer(BindingInstances, buf)
		}
	})
	res.DrawCallData().OnReallocate(func(buf common.BufferHandle) {
		for _, p := range c.drawProviders() {
			p.SetBuffer(BindingDrawCallData, buf)
		}
	})
	return c, nil
}

func (c *CulledRenderer[V, I]) drawProviders() []bind_group_provider.BindGroupProvider {
	return append([]bind_group_provider.BindGroupProvider{c.draw}, c.shadows...)
}

// Label returns the renderer label.
func (c *CulledRenderer[V, I]) Label() string {
	return c.label
}

// Resources returns the culling resources.
func (c *CulledRenderer[V, I]) Resources() *culling.Resources {
	return c.res
}

// Materials returns the material table draws resolve their material in.
func (c *CulledRenderer[V, I]) Materials() *material.Table {
	return c.materials
}

// Vertices returns the vertex vector.
func (c *CulledRenderer[V, I]) Vertices() *gpuvector.Vector[V] {
	return c.vertices
}

// Indices returns the index vector.
func (c *CulledRenderer[V, I]) Indices() *gpuvector.Vector[uint32] {
	return c.indices
}

// Instances returns the instance vector, parallel to the draw calls.
func (c *CulledRenderer[V, I]) Instances() *gpuvector.Vector[I] {
	return c.instances
}

// DrawCount returns the number of reserved draws.
func (c *CulledRenderer[V, I]) DrawCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.res.DrawCount())
}

// Reserve grows every vector for one load and returns where the load goes. The instance
// start must equal the draw start; a mismatch panics since every later draw would read
// another draw's data.
//
// Parameters:
//   - info: number of instances, vertices and indices
//
// Returns:
//   - Offsets: the first instance, vertex and index slot of the reservation
//   - error: ErrInvalidReservation for empty or negative sizes
func (c *CulledRenderer[V, I]) Reserve(info ReserveInfo) (Offsets, error) {
	if info.NumInstances <= 0 || info.NumVertices < 0 || info.NumIndices < 0 {
		return Offsets{}, fmt.Errorf("culledrenderer %s: reserve %+v: %w", c.label, info, ErrInvalidReservation)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	offs := Offsets{
		Instance: c.instances.AddCount(info.NumInstances),
		Vertex:   c.vertices.AddCount(info.NumVertices),
		Index:    c.indices.AddCount(info.NumIndices),
	}
	draw := c.res.Grow(info.NumInstances)
	culling.CheckAlignment(c.label+" reserve", offs.Instance, draw)
	c.reservations[offs.Instance] = &reservation{info: info, offs: offs}
	return offs, nil
}

// Load writes the content of a reservation. It never reallocates, so loads into distinct
// reservations may run concurrently with each other but not with Reserve or Sync.
//
// Parameters:
//   - desc: the offsets returned by Reserve and the data
//
// Returns:
//   - error: ErrRangeNotReserved for data outside the reservation, ErrAlreadyLoaded
func (c *CulledRenderer[V, I]) Load(desc LoadDesc[V, I]) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rv, ok := c.reservations[desc.Offsets.Instance]
	if !ok || rv.offs != desc.Offsets {
		return fmt.Errorf("culledrenderer %s: load at %+v: %w", c.label, desc.Offsets, ErrRangeNotReserved)
	}
	if err := checkLoad(rv, desc); err != nil {
		return fmt.Errorf("culledrenderer %s: load at %+v: %w", c.label, desc.Offsets, err)
	}
	if !rv.loaded.CompareAndSwap(false, true) {
		return fmt.Errorf("culledrenderer %s: load at %+v: %w", c.label, desc.Offsets, ErrAlreadyLoaded)
	}

	offs := desc.Offsets
	copy(c.vertices.Slice()[offs.Vertex:], desc.Vertices)
	c.vertices.MarkDirtyRange(offs.Vertex, len(desc.Vertices))
	copy(c.indices.Slice()[offs.Index:], desc.Indices)
	c.indices.MarkDirtyRange(offs.Index, len(desc.Indices))

	for i, inst := range desc.Instances {
		slot := offs.Instance + i
		c.instances.Set(slot, inst.Data)

		args := inst.Draw
		args.InstanceCount = 1
		args.FirstIndex += uint32(offs.Index)
		args.BaseVertex += int32(offs.Vertex)
		data := culling.DrawCallData{
			InstanceID:    uint32(slot),
			ModelID:       inst.ModelID,
			TextureOffset: material.DebugIndex,
			CellID:        inst.CellID,
		}
		if inst.Material != "" {
			data.TextureOffset = c.materials.Resolve(c.label, inst.Material)
		}
		c.res.SetDraw(slot, args, data, inst.Bounds)
	}
	return nil
}

// Submit reserves room for a prepared load and loads it.
//
// Parameters:
//   - desc: the load; its offsets are ignored
//
// Returns:
//   - Offsets: where the load went
//   - error: a Reserve or Load error
func (c *CulledRenderer[V, I]) Submit(desc LoadDesc[V, I]) (Offsets, error) {
	offs, err := c.Reserve(desc.ReserveInfo())
	if err != nil {
		return Offsets{}, err
	}
	desc.Offsets = offs
	return offs, c.Load(desc)
}

// checkLoad validates a load against its reservation.
func checkLoad[V, I any](rv *reservation, desc LoadDesc[V, I]) error {
	switch {
	case len(desc.Instances) > rv.info.NumInstances:
		return fmt.Errorf("%d instances of %d: %w", len(desc.Instances), rv.info.NumInstances, ErrRangeNotReserved)
	case len(desc.Vertices) > rv.info.NumVertices:
		return fmt.Errorf("%d vertices of %d: %w", len(desc.Vertices), rv.info.NumVertices, ErrRangeNotReserved)
	case len(desc.Indices) > rv.info.NumIndices:
		return fmt.Errorf("%d indices of %d: %w", len(desc.Indices), rv.info.NumIndices, ErrRangeNotReserved)
	}
	for i, inst := range desc.Instances {
		end := uint64(inst.Draw.FirstIndex) + uint64(inst.Draw.IndexCount)
		if end > uint64(rv.info.NumIndices) || inst.Draw.BaseVertex < 0 ||
			(rv.info.NumVertices > 0 && int(inst.Draw.BaseVertex) >= rv.info.NumVertices) {
			return fmt.Errorf("instance %d draws %+v: %w", i, inst.Draw, ErrRangeNotReserved)
		}
	}
	return nil
}

// Update starts a frame: the culling resources swap their bitmasks and pick up any counter
// readback that has arrived.
//
// Parameters:
//   - dt: frame time in seconds
//   - cullingEnabled: the culling setting
func (c *CulledRenderer[V, I]) Update(dt float64, cullingEnabled bool) {
	c.res.Update(dt, cullingEnabled)
}

// Sync uploads everything loaded since the last Sync. Buffers recreated by growth are
// rebound in the bind group providers through the vectors' reallocation callbacks.
//
// Returns:
//   - error: a buffer allocation or upload error; the caller treats it as fatal
func (c *CulledRenderer[V, I]) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.vertices.SyncToGPU(c.r); err != nil {
		return fmt.Errorf("culledrenderer %s: %w", c.label, err)
	}
	if _, err := c.indices.SyncToGPU(c.r); err != nil {
		return fmt.Errorf("culledrenderer %s: %w", c.label, err)
	}
	if _, err := c.instances.SyncToGPU(c.r); err != nil {
		return fmt.Errorf("culledrenderer %s: %w", c.label, err)
	}
	if c.ownsMaterials {
		if err := c.materials.SyncToGPU(c.r); err != nil {
			return fmt.Errorf("culledrenderer %s: %w", c.label, err)
		}
	}
	if err := c.res.SyncToGPU(); err != nil {
		return fmt.Errorf("culledrenderer %s: %w", c.label, err)
	}
	return nil
}

// SetCollectStats turns the per-frame counter readback on or off.
func (c *CulledRenderer[V, I]) SetCollectStats(enabled bool) {
	c.res.SetCollectStats(enabled)
}

// Stats returns the culling counters of the last read-back frame.
func (c *CulledRenderer[V, I]) Stats() culling.Stats {
	return c.res.Stats()
}

// Counts returns the draws and triangles of the last read-back frame over all views.
func (c *CulledRenderer[V, I]) Counts() (draws, triangles uint64) {
	return c.res.Stats().Total()
}

// Clear drops every reservation and draw. Capacities are kept.
func (c *CulledRenderer[V, I]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vertices.Clear()
	c.indices.Clear()
	c.instances.Clear()
	c.res.Clear()
	clear(c.reservations)
}

// Release frees every buffer.
func (c *CulledRenderer[V, I]) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vertices.Release(c.r)
	c.indices.Release(c.r)
	c.instances.Release(c.r)
	if c.ownsMaterials {
		c.materials.Release(c.r)
	}
	c.res.Release()
}
