package culling

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/gpuvector"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

var (
	// ErrTwoStepImmutable is returned when the two-step flag is changed after Init.
	ErrTwoStepImmutable = errors.New("culling: two-step culling is fixed at init")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("culling: resources already initialized")

	// ErrNotInitialized is returned when resources are used before Init.
	ErrNotInitialized = errors.New("culling: resources not initialized")
)

// Target selects one of the compacted draw lists of a Resources.
type Target int

const (
	// TargetOccluder is filled from the refined previous bitmask and drawn first.
	TargetOccluder Target = iota

	// TargetGeometry is filled from the current bitmask by the geometry and shadow passes.
	TargetGeometry

	targetCount
)

func (t Target) String() string {
	if t == TargetOccluder {
		return "occluder"
	}
	return "geometry"
}

// Bitmask selects the current or previous frame's visibility bitmask.
type Bitmask int

const (
	BitmaskCurrent Bitmask = iota
	BitmaskPrevious
)

// CullStep selects what a culling dispatch tests.
type CullStep uint32

const (
	// CullStepFull tests every draw and writes the current bitmask.
	CullStepFull CullStep = iota

	// CullStepRefinePrevious tests only the draws visible last frame, against last frame's
	// pyramid, and rewrites the previous bitmask in place to the survivors.
	CullStepRefinePrevious
)

// Params configures Init.
type Params struct {
	// Label prefixes every buffer and pass name. Must be unique per renderer.
	Label string

	// NumViews is the number of views culled per draw: 1 for the camera plus the cascades.
	NumViews uint32

	// EnableTwoStepCulling adds the occluder pre-pass. Fixed for the life of the resources.
	EnableTwoStepCulling bool

	// CollectStats copies each frame's counters into a mappable readback slot. Update
	// picks them up once the map completes, usually one or two frames later.
	CollectStats bool

	// InitialCapacity is the draw capacity allocated up front.
	InitialCapacity int
}

// fillTarget is one compacted draw list with its counters and readback ring.
type fillTarget struct {
	// args holds NumViews regions of argsCapacity records each.
	args         common.BufferHandle
	argsCapacity uint32

	// counters is [drawCount[NumViews], triangleCount[NumViews]].
	counters common.BufferHandle
	readback [2]common.BufferHandle

	constants []common.BufferHandle
	providers []bind_group_provider.BindGroupProvider
}

// Resources owns every buffer the culling, fill and draw passes of one renderer category
// need: the draw calls, their side table and bounds, the double-buffered bitmasks, the
// compacted draw lists and their counters.
type Resources struct {
	r renderer.Renderer

	label       string
	numViews    uint32
	twoStep     bool
	stats       bool
	initialized bool

	drawCalls    *gpuvector.Vector[renderer.IndexedIndirectArgs]
	drawCallData *gpuvector.Vector[DrawCallData]
	cullingData  *gpuvector.Vector[CullingData]

	// bitmasks[frameIndex] is the current bitmask, the other one the previous.
	bitmasks       [2]common.BufferHandle
	bitmaskBytes   uint64
	bitmaskWords   uint32
	bitmaskAlloced uint64
	frameIndex     int

	// synced is the draw count of the last SyncToGPU. Passes use it, never the CPU length,
	// so a Grow between sync and execution cannot make them read past the uploaded data.
	synced uint32
	frame  uint64

	// syncedTotals are the loaded draws and their triangles at the last SyncToGPU, the
	// counters of a draw that bypasses culling.
	syncedTotals [2]uint32

	cullConstants [2]common.BufferHandle
	cullProviders [2]bind_group_provider.BindGroupProvider
	pyramidDummy  common.BufferHandle

	targets [targetCount]*fillTarget

	cullingEnabled bool

	statsMu    sync.Mutex
	statsSlots [2]statsSlot
	lastStats  Stats
}

// NewResources creates and initializes a Resources.
//
// Parameters:
//   - r: the renderer owning the buffers
//   - params: label, view count and two-step flag
//
// Returns:
//   - *Resources: the resources
//   - error: if a pipeline or buffer cannot be created
func NewResources(r renderer.Renderer, params Params) (*Resources, error) {
	res := &Resources{}
	if err := res.Init(r, params); err != nil {
		return nil, err
	}
	return res, nil
}

// Init allocates the fixed-size buffers, registers the culling pipelines and wires the
// reallocation callbacks of the owned vectors into the bind group providers.
//
// Parameters:
//   - r: the renderer owning the buffers
//   - params: label, view count and two-step flag
//
// Returns:
//   - error: ErrAlreadyInitialized, or a pipeline or buffer creation error
func (res *Resources) Init(r renderer.Renderer, params Params) error {
	if res.initialized {
		return ErrAlreadyInitialized
	}
	if params.NumViews == 0 || params.NumViews > MaxViews {
		return fmt.Errorf("culling %s: %d views, want 1 to %d", params.Label, params.NumViews, MaxViews)
	}
	if err := registerPipelines(r); err != nil {
		return err
	}

	res.r = r
	res.label = common.Coalesce(params.Label, "culling")
	res.numViews = params.NumViews
	res.twoStep = params.EnableTwoStepCulling
	res.stats = params.CollectStats
	res.cullingEnabled = true

	capacity := max(params.InitialCapacity, cullWorkgroup)
	res.drawCalls = gpuvector.New[renderer.IndexedIndirectArgs](res.label+" Draw Calls",
		common.BufferUsageStorage|common.BufferUsageIndirect|common.BufferUsageCopySrc,
		gpuvector.WithInitialCapacity(capacity))
	res.drawCallData = gpuvector.New[DrawCallData](res.label+" Draw Call Data",
		common.BufferUsageStorage, gpuvector.WithInitialCapacity(capacity))
	res.cullingData = gpuvector.New[CullingData](res.label+" Culling Data",
		common.BufferUsageStorage, gpuvector.WithInitialCapacity(capacity))

	var err error
	if res.pyramidDummy, err = res.createBuffer("Pyramid Placeholder", 4, common.BufferUsageStorage); err != nil {
		return err
	}
	var cc GPUCullConstants
	for step := range res.cullConstants {
		if res.cullConstants[step], err = res.createBuffer("Cull Constants", uint64(cc.Size()),
			common.BufferUsageUniform|common.BufferUsageCopyDst); err != nil {
			return err
		}
		res.cullProviders[step] = bind_group_provider.NewBindGroupProvider(
			fmt.Sprintf("%s Cull %d", res.label, step),
			bind_group_provider.WithBuffer(0, res.cullConstants[step]),
			bind_group_provider.WithBuffer(4, res.pyramidDummy))
	}
	for t := range res.targets {
		if res.targets[t], err = res.newFillTarget(Target(t)); err != nil {
			return err
		}
	}

	res.drawCalls.OnReallocate(func(buf common.BufferHandle) {
		for _, t := range res.targets {
			for _, p := range t.providers {
				p.SetBuffer(1, buf)
			}
		}
	})
	res.cullingData.OnReallocate(func(buf common.BufferHandle) {
		for _, p := range res.cullProviders {
			p.SetBuffer(2, buf)
		}
	})

	res.initialized = true
	common.Logger().Debug("culling resources initialized",
		"label", res.label, "views", res.numViews, "two_step", res.twoStep)
	return nil
}

func registerPipelines(r renderer.Renderer) error {
	cullShader, err := shader.NewShader(cullPipelineKey, shader.ShaderTypeCompute, cullSource, shaderOptions()...)
	if err != nil {
		return err
	}
	fillShader, err := shader.NewShader(fillPipelineKey, shader.ShaderTypeCompute, fillSource, shaderOptions()...)
	if err != nil {
		return err
	}
	return r.RegisterPipelines(
		pipeline.NewPipeline(cullPipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(cullShader), pipeline.WithKernel(cullKernel)),
		pipeline.NewPipeline(fillPipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(fillShader), pipeline.WithKernel(fillKernel)),
	)
}

func (res *Resources) createBuffer(name string, size uint64, usage common.BufferUsage) (common.BufferHandle, error) {
	h, err := res.r.CreateBuffer(common.BufferDescriptor{Label: res.label + " " + name, Size: size, Usage: usage})
	if err != nil {
		return 0, fmt.Errorf("culling %s: create %s: %w", res.label, name, err)
	}
	return h, nil
}

func (res *Resources) newFillTarget(t Target) (*fillTarget, error) {
	ft := &fillTarget{
		constants: make([]common.BufferHandle, res.numViews),
		providers: make([]bind_group_provider.BindGroupProvider, res.numViews),
	}
	var err error
	counterBytes := res.counterBytes()
	if ft.counters, err = res.createBuffer(t.String()+" Counters", counterBytes,
		common.BufferUsageStorage|common.BufferUsageIndirect|common.BufferUsageCopySrc|common.BufferUsageCopyDst); err != nil {
		return nil, err
	}
	for i := range ft.readback {
		if ft.readback[i], err = res.createBuffer(t.String()+" Counter Readback", counterBytes,
			common.BufferUsageMapRead|common.BufferUsageCopyDst); err != nil {
			return nil, err
		}
	}
	var fc GPUFillConstants
	for v := range res.numViews {
		if ft.constants[v], err = res.createBuffer(t.String()+" Fill Constants", uint64(fc.Size()),
			common.BufferUsageUniform|common.BufferUsageCopyDst); err != nil {
			return nil, err
		}
		ft.providers[v] = bind_group_provider.NewBindGroupProvider(
			fmt.Sprintf("%s Fill %s %d", res.label, t, v),
			bind_group_provider.WithBuffer(0, ft.constants[v]),
			bind_group_provider.WithBuffer(5, ft.counters))
	}
	return ft, nil
}

// SetTwoStepCulling sets the two-step flag of resources that are not yet initialized.
//
// Returns:
//   - error: ErrTwoStepImmutable once Init ran
func (res *Resources) SetTwoStepCulling(enabled bool) error {
	if res.initialized {
		return ErrTwoStepImmutable
	}
	res.twoStep = enabled
	return nil
}

// TwoStepCulling reports whether the occluder pre-pass is enabled.
func (res *Resources) TwoStepCulling() bool {
	return res.twoStep
}

// Label returns the label passed to Init.
func (res *Resources) Label() string {
	return res.label
}

// NumViews returns the number of views culled per draw.
func (res *Resources) NumViews() uint32 {
	return res.numViews
}

// DrawCount returns the number of draw calls.
func (res *Resources) DrawCount() uint32 {
	return uint32(res.drawCalls.Len())
}

// SyncedDrawCount returns the draw count the GPU buffers held after the last SyncToGPU.
func (res *Resources) SyncedDrawCount() uint32 {
	return res.synced
}

// DrawCalls returns the uncompacted indirect arguments.
func (res *Resources) DrawCalls() *gpuvector.Vector[renderer.IndexedIndirectArgs] {
	return res.drawCalls
}

// DrawCallData returns the side table the draw shaders read at instance_index.
func (res *Resources) DrawCallData() *gpuvector.Vector[DrawCallData] {
	return res.drawCallData
}

// CullingData returns the per-draw bounds.
func (res *Resources) CullingData() *gpuvector.Vector[CullingData] {
	return res.cullingData
}

// Grow appends n draws to the draw calls, the draw call data and the culling data, and
// recomputes the bitmask size ceil(count/32)*4*NumViews. The bitmasks are reallocated on the
// next SyncToGPU when they became too small.
//
// Parameters:
//   - n: number of draws to add
//
// Returns:
//   - int: index of the first new draw
func (res *Resources) Grow(n int) int {
	start := res.drawCalls.AddCount(n)
	CheckAlignment(res.label+" grow", start, res.drawCallData.AddCount(n), res.cullingData.AddCount(n))
	res.bitmaskBytes = uint64(common.DivCeil(res.DrawCount(), 32)) * 4 * uint64(res.numViews)
	return start
}

// BitmaskBytes returns the bitmask size the current draw count needs.
func (res *Resources) BitmaskBytes() uint64 {
	return res.bitmaskBytes
}

// WordsPerView returns the bitmask words between consecutive views of the allocated masks.
func (res *Resources) WordsPerView() uint32 {
	return res.bitmaskWords
}

// SetDraw writes draw i. FirstInstance is forced to i so the compacted draw still finds its
// side table entry. Safe for concurrent callers writing distinct indices.
//
// Parameters:
//   - i: draw index returned by Grow
//   - args: the indirect arguments
//   - data: the side table entry
//   - bounds: the bounding volume
func (res *Resources) SetDraw(i int, args renderer.IndexedIndirectArgs, data DrawCallData, bounds CullingData) {
	args.FirstInstance = uint32(i)
	res.drawCalls.Set(i, args)
	res.drawCallData.Set(i, data)
	res.cullingData.Set(i, bounds)
}

// CheckAlignment panics unless every index is equal. The draw calls, their side table and
// their bounds are parallel arrays; a mismatch means a reserve raced or was skipped and
// every later draw would read the wrong data.
//
// Parameters:
//   - what: context for the panic message
//   - indices: indices that must agree
func CheckAlignment(what string, indices ...int) {
	for _, i := range indices[1:] {
		if i != indices[0] {
			panic(fmt.Sprintf("culling: %s: misaligned indices %v", what, indices))
		}
	}
}

// Update flips the frame index, swapping the current and previous bitmasks, and takes
// the newest counter readback whose map has completed. It never waits for the GPU.
//
// Parameters:
//   - dt: frame time in seconds
//   - cullingEnabled: the culling setting; culling passes are skipped while it is false
func (res *Resources) Update(dt float64, cullingEnabled bool) {
	res.cullingEnabled = cullingEnabled
	res.frameIndex ^= 1
	res.frame++
	if !res.initialized {
		return
	}
	res.r.Poll()
	res.consumeStats()
}

// FrameIndex returns the double-buffer index of the current frame.
func (res *Resources) FrameIndex() int {
	return res.frameIndex
}

// CullingEnabled reports the culling setting passed to the last Update.
func (res *Resources) CullingEnabled() bool {
	return res.cullingEnabled
}

// SyncToGPU uploads the owned vectors, rebinding reallocated buffers through their
// callbacks, reallocates bitmasks and compacted draw lists that became too small, and
// clears this frame's readback slot when it is free.
//
// Returns:
//   - error: a buffer allocation or upload error; the caller treats it as fatal
func (res *Resources) SyncToGPU() error {
	if !res.initialized {
		return ErrNotInitialized
	}
	CheckAlignment(res.label+" sync", res.drawCalls.Len(), res.drawCallData.Len(), res.cullingData.Len())
	if _, err := res.drawCalls.SyncToGPU(res.r); err != nil {
		return err
	}
	if _, err := res.drawCallData.SyncToGPU(res.r); err != nil {
		return err
	}
	if _, err := res.cullingData.SyncToGPU(res.r); err != nil {
		return err
	}
	if err := res.syncBitmasks(); err != nil {
		return err
	}
	res.synced = res.DrawCount()
	capacity := uint32(res.drawCalls.BufferCapacity())
	for t, ft := range res.targets {
		if ft.argsCapacity >= capacity {
			continue
		}
		if err := res.reallocateArgs(Target(t), capacity); err != nil {
			return err
		}
	}
	return res.beginStats()
}

// syncBitmasks reallocates both bitmasks when the draw count outgrew them. The masks are
// sized for the draw call capacity so that they change as rarely as the vectors do. New
// masks are zero: nothing counts as visible last frame.
func (res *Resources) syncBitmasks() error {
	if res.bitmasks[0].Valid() && res.bitmaskBytes <= res.bitmaskAlloced {
		return nil
	}
	wordsPerView := common.DivCeil(uint32(res.drawCalls.Cap()), 32)
	size := uint64(wordsPerView) * 4 * uint64(res.numViews)
	var masks [2]common.BufferHandle
	for i := range masks {
		h, err := res.createBuffer(fmt.Sprintf("Bitmask %d", i), size,
			common.BufferUsageStorage|common.BufferUsageCopySrc|common.BufferUsageCopyDst)
		if err != nil {
			if i == 1 {
				res.r.ReleaseBuffer(masks[0])
			}
			return err
		}
		masks[i] = h
	}
	for _, h := range res.bitmasks {
		if h.Valid() {
			res.r.ReleaseBuffer(h)
		}
	}
	res.bitmasks = masks
	res.bitmaskWords = wordsPerView
	res.bitmaskAlloced = size
	common.Logger().Debug("culling bitmasks reallocated", "label", res.label, "words_per_view", wordsPerView, "bytes", size)
	return nil
}

func (res *Resources) reallocateArgs(t Target, capacity uint32) error {
	ft := res.targets[t]
	h, err := res.createBuffer(t.String()+" Compacted Args",
		uint64(capacity)*uint64(res.numViews)*renderer.IndexedIndirectArgsSize,
		common.BufferUsageStorage|common.BufferUsageIndirect|common.BufferUsageCopyDst|common.BufferUsageCopySrc)
	if err != nil {
		return err
	}
	if ft.args.Valid() {
		res.r.ReleaseBuffer(ft.args)
	}
	ft.args = h
	ft.argsCapacity = capacity
	for _, p := range ft.providers {
		p.SetBuffer(4, h)
	}
	return nil
}

// bitmask returns the buffer currently playing the given role.
func (res *Resources) bitmask(b Bitmask) common.BufferHandle {
	if b == BitmaskCurrent {
		return res.bitmasks[res.frameIndex]
	}
	return res.bitmasks[res.frameIndex^1]
}

// ReadBitmask copies a bitmask back to the host, NumViews * WordsPerView words.
func (res *Resources) ReadBitmask(b Bitmask) ([]uint32, error) {
	h := res.bitmask(b)
	if !h.Valid() {
		return nil, ErrNotInitialized
	}
	raw, err := res.r.ReadBuffer(h, 0, res.bitmaskAlloced)
	if err != nil {
		return nil, err
	}
	return common.BytesToSlice[uint32](raw), nil
}

// WriteBitmask uploads a bitmask. Used to seed the previous frame's visibility.
func (res *Resources) WriteBitmask(b Bitmask, wordsData []uint32) error {
	h := res.bitmask(b)
	if !h.Valid() {
		return ErrNotInitialized
	}
	return res.r.WriteBuffer(h, 0, common.SliceToBytes(wordsData))
}

// ReadCounters reads a target's live draw and triangle counters, one per view. It blocks
// until the GPU is idle; the per-frame path is CollectStats.
func (res *Resources) ReadCounters(t Target) (ViewCounts, error) {
	raw, err := res.r.ReadBuffer(res.targets[t].counters, 0, res.counterBytes())
	if err != nil {
		return ViewCounts{}, err
	}
	counts := common.BytesToSlice[uint32](raw)
	return ViewCounts{Draws: counts[:res.numViews], Triangles: counts[res.numViews:]}, nil
}

// ReadCompacted reads the compacted arguments a target holds for a view.
func (res *Resources) ReadCompacted(t Target, view uint32, count uint32) ([]renderer.IndexedIndirectArgs, error) {
	ft := res.targets[t]
	if count == 0 {
		return nil, nil
	}
	raw, err := res.r.ReadBuffer(ft.args, uint64(view*ft.argsCapacity)*renderer.IndexedIndirectArgsSize,
		uint64(count)*renderer.IndexedIndirectArgsSize)
	if err != nil {
		return nil, err
	}
	return common.BytesToSlice[renderer.IndexedIndirectArgs](raw), nil
}

// Clear drops every draw. Capacities and buffers are kept.
func (res *Resources) Clear() {
	res.drawCalls.Clear()
	res.drawCallData.Clear()
	res.cullingData.Clear()
	res.bitmaskBytes = 0
}

// Release frees every buffer.
func (res *Resources) Release() {
	if !res.initialized {
		return
	}
	res.drawCalls.Release(res.r)
	res.drawCallData.Release(res.r)
	res.cullingData.Release(res.r)
	handles := []common.BufferHandle{res.bitmasks[0], res.bitmasks[1], res.pyramidDummy, res.cullConstants[0], res.cullConstants[1]}
	for _, ft := range res.targets {
		handles = append(handles, ft.args, ft.counters, ft.readback[0], ft.readback[1])
		handles = append(handles, ft.constants...)
	}
	for _, h := range handles {
		if h.Valid() {
			res.r.ReleaseBuffer(h)
		}
	}
	res.initialized = false
}
