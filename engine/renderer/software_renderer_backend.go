package renderer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// DrawRecord is one indirect draw as resolved by the software backend: the argument
// records it would have rasterized.
type DrawRecord struct {
	Pass        string
	Pipeline    string
	Counted     bool
	DepthTarget common.TextureHandle
	Draws       []IndexedIndirectArgs
}

// Instances returns the total instance count over all argument records.
func (d DrawRecord) Instances() uint32 {
	var n uint32
	for _, a := range d.Draws {
		n += a.InstanceCount
	}
	return n
}

// DrawHook is invoked for every draw with the depth texels of the pass's depth target
// (nil without one). Tests use it to stand in for rasterization.
type DrawHook func(rec DrawRecord, depth []float32, width, height uint32)

// SoftwareBackend is a RendererBackend that runs compute pipelines through their CPU
// kernels and records draws. All state lives in host memory; Submit is synchronous.
type SoftwareBackend interface {
	RendererBackend

	// Draws returns the draws recorded since the last ResetDraws.
	Draws() []DrawRecord

	// ResetDraws clears the recorded draws.
	ResetDraws()

	// SetDrawHook installs a hook called for every draw, or removes it with nil.
	SetDrawHook(hook DrawHook)

	// Texture returns the texels and size of a texture.
	Texture(h common.TextureHandle) ([]float32, uint32, uint32, bool)

	// Frames returns the number of BeginFrame calls.
	Frames() int
}

type softBuffer struct {
	label string
	usage common.BufferUsage
	data  []byte

	// mapped is set from the submission of a MapRead until Poll delivers it.
	mapped bool
}

type softTexture struct {
	label         string
	width, height uint32
	texels        []float32
}

// softwareBackend is the implementation of SoftwareBackend.
type softwareBackend struct {
	mu *sync.Mutex

	nextBuffer  common.BufferHandle
	nextTexture common.TextureHandle
	buffers     map[common.BufferHandle]*softBuffer
	textures    map[common.TextureHandle]*softTexture
	pipelines   map[string]pipeline.Pipeline

	readbacks readbackQueue

	draws    []DrawRecord
	drawHook DrawHook
	frames   int
	width    int
	height   int
}

var _ SoftwareBackend = &softwareBackend{}

// NewSoftwareBackend creates an empty software backend.
//
// Returns:
//   - SoftwareBackend: the backend
func NewSoftwareBackend() SoftwareBackend {
	return &softwareBackend{
		mu:        &sync.Mutex{},
		buffers:   make(map[common.BufferHandle]*softBuffer),
		textures:  make(map[common.TextureHandle]*softTexture),
		pipelines: make(map[string]pipeline.Pipeline),
	}
}

func (b *softwareBackend) Type() RendererBackendType {
	return BackendTypeSoftware
}

func (b *softwareBackend) CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("create buffer %s: zero size", desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextBuffer++
	b.buffers[b.nextBuffer] = &softBuffer{
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, alignUp4(desc.Size)),
	}
	return b.nextBuffer, nil
}

func (b *softwareBackend) ReleaseBuffer(h common.BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, h)
}

func (b *softwareBackend) BufferSize(h common.BufferHandle) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[h]; ok {
		return uint64(len(buf.data))
	}
	return 0
}

func (b *softwareBackend) WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.rangeOf(h, offset, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if !buf.usage.Has(common.BufferUsageCopyDst) {
		return fmt.Errorf("write buffer %s: %w", buf.label, ErrUsage)
	}
	if buf.mapped {
		return fmt.Errorf("write buffer %s: %w", buf.label, ErrBufferMapped)
	}
	copy(buf.data[offset:], data)
	return nil
}

func (b *softwareBackend) ReadBuffer(h common.BufferHandle, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.rangeOf(h, offset, size)
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, buf.data[offset:offset+size])
	return out, nil
}

func (b *softwareBackend) CreateTexture(desc common.TextureDescriptor) (common.TextureHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("create texture %s: zero extent", desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTexture++
	b.textures[b.nextTexture] = &softTexture{
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		texels: make([]float32, int(desc.Width)*int(desc.Height)),
	}
	return b.nextTexture, nil
}

func (b *softwareBackend) ReleaseTexture(h common.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.textures, h)
}

func (b *softwareBackend) WriteDepthTexture(h common.TextureHandle, texels []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tex, ok := b.textures[h]
	if !ok {
		return fmt.Errorf("write texture %d: %w", h, ErrUnknownTexture)
	}
	if len(texels) != len(tex.texels) {
		return fmt.Errorf("write texture %s: %d texels for a %dx%d texture: %w", tex.label, len(texels), tex.width, tex.height, ErrOutOfBounds)
	}
	copy(tex.texels, texels)
	return nil
}

func (b *softwareBackend) Texture(h common.TextureHandle) ([]float32, uint32, uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tex, ok := b.textures[h]
	if !ok {
		return nil, 0, 0, false
	}
	return tex.texels, tex.width, tex.height, true
}

func (b *softwareBackend) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeCompute) == nil {
		return fmt.Errorf("pipeline %s: compute shader must be set", p.PipelineKey())
	}
	if p.Kernel() == nil {
		return fmt.Errorf("pipeline %s: %w", p.PipelineKey(), ErrNoKernel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelines[p.PipelineKey()] = p
	p.SetPipeline(p.PipelineKey())
	return nil
}

func (b *softwareBackend) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeVertex) == nil {
		return fmt.Errorf("pipeline %s: vertex shader must be set", p.PipelineKey())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipelines[p.PipelineKey()] = p
	p.SetPipeline(p.PipelineKey())
	return nil
}

func (b *softwareBackend) Submit(cl *CommandList, lookup func(key string) pipeline.Pipeline) error {
	var pass *RenderPassDesc
	for i, cmd := range cl.Commands() {
		var err error
		switch cmd.Kind {
		case CommandClearBuffer:
			err = b.clearBuffer(cmd)
		case CommandCopyBuffer:
			err = b.copyBuffer(cmd)
		case CommandDispatch:
			if pass != nil {
				err = ErrRenderPassState
				break
			}
			err = b.dispatch(cmd, lookup)
		case CommandBeginRenderPass:
			if pass != nil {
				err = ErrRenderPassState
				break
			}
			desc := cmd.RenderPass
			pass = &desc
			err = b.beginRenderPass(desc)
		case CommandEndRenderPass:
			if pass == nil {
				err = ErrRenderPassState
			}
			pass = nil
		case CommandDrawIndexedIndirect, CommandDrawIndexedIndirectCount:
			if pass == nil {
				err = ErrRenderPassState
				break
			}
			err = b.draw(cmd, *pass, lookup)
		case CommandBarrier:
		}
		if err != nil {
			err = fmt.Errorf("command %d (%s %s): %w", i, cmd.Kind, cmd.Pipeline, err)
			b.readbacks.fail(cl.Maps(), err)
			return err
		}
	}
	for _, m := range cl.Maps() {
		b.startMap(m)
	}
	return nil
}

// startMap snapshots the requested range now, as the GPU would once the submission is
// done, and holds the buffer mapped until Poll hands the bytes over.
func (b *softwareBackend) startMap(m MapRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.rangeOf(m.Buffer, m.Offset, m.Size)
	if err == nil && !buf.usage.Has(common.BufferUsageMapRead) {
		err = fmt.Errorf("%s: %w", buf.label, ErrUsage)
	}
	if err == nil && buf.mapped {
		err = fmt.Errorf("%s: %w", buf.label, ErrBufferMapped)
	}
	if err != nil {
		b.readbacks.push(m.Done, nil, fmt.Errorf("map read: %w", err))
		return
	}
	buf.mapped = true
	data := append([]byte(nil), buf.data[m.Offset:m.Offset+m.Size]...)
	b.readbacks.push(func(data []byte, err error) {
		b.mu.Lock()
		buf.mapped = false
		b.mu.Unlock()
		m.Done(data, err)
	}, data, nil)
}

func (b *softwareBackend) Poll() int {
	return b.readbacks.deliver()
}

func (b *softwareBackend) clearBuffer(cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.rangeOf(cmd.Dst, cmd.DstOffset, cmd.Size)
	if err != nil {
		return err
	}
	if !buf.usage.Has(common.BufferUsageCopyDst) {
		return ErrUsage
	}
	if buf.mapped {
		return ErrBufferMapped
	}
	clear(buf.data[cmd.DstOffset : cmd.DstOffset+cmd.Size])
	return nil
}

func (b *softwareBackend) copyBuffer(cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.rangeOf(cmd.Src, cmd.SrcOffset, cmd.Size)
	if err != nil {
		return err
	}
	dst, err := b.rangeOf(cmd.Dst, cmd.DstOffset, cmd.Size)
	if err != nil {
		return err
	}
	if !src.usage.Has(common.BufferUsageCopySrc) || !dst.usage.Has(common.BufferUsageCopyDst) {
		return ErrUsage
	}
	if dst.mapped {
		return ErrBufferMapped
	}
	copy(dst.data[cmd.DstOffset:cmd.DstOffset+cmd.Size], src.data[cmd.SrcOffset:cmd.SrcOffset+cmd.Size])
	return nil
}

func (b *softwareBackend) dispatch(cmd Command, lookup func(string) pipeline.Pipeline) error {
	p := lookup(cmd.Pipeline)
	if p == nil || p.Type() != pipeline.PipelineTypeCompute {
		return ErrPipelineNotFound
	}
	cs := p.Shader(shader.ShaderTypeCompute)

	d := &softDispatch{
		workgroups:    cmd.Workgroups,
		workgroupSize: cs.WorkgroupSize(),
		buffers:       make(map[[2]int][]byte),
		textures:      make(map[[2]int]*softTexture),
	}

	b.mu.Lock()
	err := b.resolveBindings(cs, cmd.Providers, d)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if cmd.Workgroups[0] == 0 || cmd.Workgroups[1] == 0 || cmd.Workgroups[2] == 0 {
		return nil
	}
	// Kernels write straight into backend memory, so the lock must not be held: a kernel
	// never calls back into the backend.
	return p.Kernel()(d)
}

// resolveBindings checks every binding the shader declares against the providers and
// collects the backing memory. Caller holds b.mu.
func (b *softwareBackend) resolveBindings(s shader.Shader, providers []bind_group_provider.BindGroupProvider, d *softDispatch) error {
	for group, desc := range s.BindGroupLayoutDescriptors() {
		if group >= len(providers) || providers[group] == nil {
			return fmt.Errorf("group %d has no provider: %w", group, ErrBindingMismatch)
		}
		prov := providers[group]
		for _, entry := range desc.Entries {
			binding := int(entry.Binding)
			key := [2]int{group, binding}
			switch {
			case entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined:
				tex, ok := b.textures[prov.Texture(binding)]
				if !ok {
					return fmt.Errorf("%s group %d binding %d: texture: %w", prov.Label(), group, binding, ErrBindingMismatch)
				}
				d.textures[key] = tex
			case entry.Buffer.Type != wgpu.BufferBindingTypeUndefined:
				buf, ok := b.buffers[prov.Buffer(binding)]
				if !ok {
					return fmt.Errorf("%s group %d binding %d: buffer: %w", prov.Label(), group, binding, ErrBindingMismatch)
				}
				want := common.BufferUsageStorage
				if entry.Buffer.Type == wgpu.BufferBindingTypeUniform {
					want = common.BufferUsageUniform
				}
				if !buf.usage.Has(want) {
					return fmt.Errorf("%s group %d binding %d: %w", prov.Label(), group, binding, ErrUsage)
				}
				if uint64(len(buf.data)) < entry.Buffer.MinBindingSize {
					return fmt.Errorf("%s group %d binding %d: %d bytes below minimum %d: %w",
						prov.Label(), group, binding, len(buf.data), entry.Buffer.MinBindingSize, ErrBindingMismatch)
				}
				d.buffers[key] = buf.data
			}
		}
	}
	return nil
}

func (b *softwareBackend) beginRenderPass(desc RenderPassDesc) error {
	if !desc.DepthTarget.Valid() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tex, ok := b.textures[desc.DepthTarget]
	if !ok {
		return ErrUnknownTexture
	}
	if desc.DepthLoad == LoadOpClear {
		for i := range tex.texels {
			tex.texels[i] = desc.ClearDepth
		}
	}
	return nil
}

func (b *softwareBackend) draw(cmd Command, pass RenderPassDesc, lookup func(string) pipeline.Pipeline) error {
	p := lookup(cmd.Pipeline)
	if p == nil || p.Type() != pipeline.PipelineTypeRender {
		return ErrPipelineNotFound
	}
	d := cmd.Draw

	b.mu.Lock()
	count := d.DrawCount
	counted := cmd.Kind == CommandDrawIndexedIndirectCount
	if counted {
		cb, err := b.rangeOf(d.Count, d.CountOffset, 4)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		count = min(binary.LittleEndian.Uint32(cb.data[d.CountOffset:]), d.MaxDraws)
	}

	args, err := b.rangeOf(d.Args, d.ArgsOffset, uint64(count)*IndexedIndirectArgsSize)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if !args.usage.Has(common.BufferUsageIndirect) {
		b.mu.Unlock()
		return ErrUsage
	}
	raw := args.data[d.ArgsOffset : d.ArgsOffset+uint64(count)*IndexedIndirectArgsSize]
	rec := DrawRecord{
		Pass:        pass.Label,
		Pipeline:    cmd.Pipeline,
		Counted:     counted,
		DepthTarget: pass.DepthTarget,
		Draws:       common.BytesToSlice[IndexedIndirectArgs](raw),
	}
	if rec.Draws == nil {
		rec.Draws = []IndexedIndirectArgs{}
	}
	b.draws = append(b.draws, rec)

	hook := b.drawHook
	var depth []float32
	var w, h uint32
	if tex, ok := b.textures[pass.DepthTarget]; ok {
		depth, w, h = tex.texels, tex.width, tex.height
	}
	b.mu.Unlock()

	if hook != nil {
		hook(rec, depth, w, h)
	}
	return nil
}

func (b *softwareBackend) Draws() []DrawRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DrawRecord(nil), b.draws...)
}

func (b *softwareBackend) ResetDraws() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draws = b.draws[:0]
}

func (b *softwareBackend) SetDrawHook(hook DrawHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drawHook = hook
}

func (b *softwareBackend) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

func (b *softwareBackend) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
}

func (b *softwareBackend) SetPresentMode(PresentMode) {}

func (b *softwareBackend) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames++
	return nil
}

func (b *softwareBackend) Present() {}

func (b *softwareBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.buffers)
	clear(b.textures)
	clear(b.pipelines)
	b.draws = nil
}

// rangeOf validates handle, alignment and bounds. Caller holds b.mu.
func (b *softwareBackend) rangeOf(h common.BufferHandle, offset, size uint64) (*softBuffer, error) {
	buf, ok := b.buffers[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrUnknownBuffer)
	}
	if offset%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("%s offset %d size %d: %w", buf.label, offset, size, ErrUnaligned)
	}
	if offset+size > uint64(len(buf.data)) {
		return nil, fmt.Errorf("%s offset %d size %d exceeds %d: %w", buf.label, offset, size, len(buf.data), ErrOutOfBounds)
	}
	return buf, nil
}

// softDispatch is the pipeline.Dispatch handed to kernels.
type softDispatch struct {
	workgroups    [3]uint32
	workgroupSize [3]uint32
	buffers       map[[2]int][]byte
	textures      map[[2]int]*softTexture
}

func (d *softDispatch) Workgroups() [3]uint32 {
	return d.workgroups
}

func (d *softDispatch) WorkgroupSize() [3]uint32 {
	return d.workgroupSize
}

func (d *softDispatch) Buffer(group, binding int) []byte {
	return d.buffers[[2]int{group, binding}]
}

func (d *softDispatch) Texture(group, binding int) ([]float32, uint32, uint32) {
	tex, ok := d.textures[[2]int{group, binding}]
	if !ok {
		return nil, 0, 0
	}
	return tex.texels, tex.width, tex.height
}

func alignUp4(n uint64) uint64 {
	return (n + 3) &^ 3
}
