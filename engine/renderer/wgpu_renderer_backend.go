package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuTexture pairs a texture with the default view used for attachments and bindings.
type wgpuTexture struct {
	texture       *wgpu.Texture
	view          *wgpu.TextureView
	width, height uint32
}

// wgpuPipelineLayouts keeps the bind group layouts of a registered pipeline so bind groups
// can be built for it later.
type wgpuPipelineLayouts struct {
	layouts     map[int]*wgpu.BindGroupLayout
	descriptors map[int]wgpu.BindGroupLayoutDescriptor
}

// bindGroupKey identifies a cached bind group: one per provider, pipeline and group index,
// since the layout comes from the pipeline.
type bindGroupKey struct {
	provider bind_group_provider.BindGroupProvider
	pipeline string
	group    int
}

type cachedBindGroup struct {
	generation uint64
	bindGroup  *wgpu.BindGroup
}

// wgpuRendererBackendImpl is the WebGPU implementation of RendererBackend.
type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)

	// offscreen is the color target used when running without a surface.
	offscreen *wgpuTexture

	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	nextBuffer  common.BufferHandle
	nextTexture common.TextureHandle
	buffers     map[common.BufferHandle]*wgpu.Buffer
	bufferSizes map[common.BufferHandle]uint64
	textures    map[common.TextureHandle]*wgpuTexture

	layouts    map[string]*wgpuPipelineLayouts
	bindGroups map[bindGroupKey]cachedBindGroup

	// multiDrawCount is set when the device bounds counted draws by the GPU counter.
	multiDrawCount bool
	readbacks      readbackQueue
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) (*wgpuRendererBackendImpl, error) {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:            &sync.Mutex{},
		instance:      wgpu.CreateInstance(nil),
		presentMode:   wgpu.PresentModeImmediate,
		surfaceFormat: wgpu.TextureFormatBGRA8Unorm,
		buffers:       make(map[common.BufferHandle]*wgpu.Buffer),
		bufferSizes:   make(map[common.BufferHandle]uint64),
		textures:      make(map[common.TextureHandle]*wgpuTexture),
		layouts:       make(map[string]*wgpuPipelineLayouts),
		bindGroups:    make(map[bindGroupKey]cachedBindGroup),
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 4

	// Compacted draws carry their draw index in FirstInstance; without this feature the
	// device treats a non-zero indirect first instance as zero.
	var features []wgpu.FeatureName
	if a.HasFeature(wgpu.FeatureNameIndirectFirstInstance) {
		features = append(features, wgpu.FeatureNameIndirectFirstInstance)
	} else {
		common.Logger().Warn("adapter lacks indirect-first-instance, culled draws will read draw 0")
	}
	if a.HasFeature(wgpu.NativeFeatureMultiDrawIndirectCount) {
		features = append(features, wgpu.NativeFeatureMultiDrawIndirectCount)
		w.multiDrawCount = true
	} else {
		common.Logger().Info("adapter lacks multi-draw-indirect-count, counted draws encode one draw per slot")
	}

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "Main Device",
		RequiredFeatures: features,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	if w.surface != nil {
		capabilities := w.surface.GetCapabilities(w.adapter)
		if len(capabilities.Formats) > 0 {
			w.surfaceFormat = capabilities.Formats[0]
		}
	}
	return w, nil
}

func (b *wgpuRendererBackendImpl) Type() RendererBackendType {
	return BackendTypeWGPU
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if width <= 0 || height <= 0 {
		return
	}
	if b.surface == nil {
		if b.offscreen != nil {
			b.offscreen.view.Release()
			b.offscreen.texture.Release()
		}
		tex, err := b.createTexture("Offscreen Color", uint32(width), uint32(height), b.surfaceFormat,
			wgpu.TextureUsageRenderAttachment|wgpu.TextureUsageCopySrc)
		if err != nil {
			panic(err)
		}
		b.offscreen = tex
		return
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("create buffer %s: zero size", desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	size := alignUp4(desc.Size)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             size,
		Usage:            toWGPUBufferUsage(desc.Usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return 0, fmt.Errorf("create buffer %s: %w", desc.Label, err)
	}
	b.nextBuffer++
	b.buffers[b.nextBuffer] = buf
	b.bufferSizes[b.nextBuffer] = size
	return b.nextBuffer, nil
}

func (b *wgpuRendererBackendImpl) ReleaseBuffer(h common.BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[h]; ok {
		buf.Release()
		delete(b.buffers, h)
		delete(b.bufferSizes, h)
	}
}

func (b *wgpuRendererBackendImpl) BufferSize(h common.BufferHandle) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferSizes[h]
}

func (b *wgpuRendererBackendImpl) WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.checkRange(h, offset, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	b.queue.WriteBuffer(buf, offset, data)
	return nil
}

// ReadBuffer copies the range into a mappable staging buffer, waits for the device and
// copies the mapped bytes out.
func (b *wgpuRendererBackendImpl) ReadBuffer(h common.BufferHandle, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.checkRange(h, offset, size)
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	if size == 0 {
		return []byte{}, nil
	}

	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback Staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("read buffer staging: %w", err)
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(src, offset, staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	done := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		b.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("read buffer: map failed with status %d", status)
	}
	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

func (b *wgpuRendererBackendImpl) CreateTexture(desc common.TextureDescriptor) (common.TextureHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("create texture %s: zero extent", desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.createTexture(desc.Label, desc.Width, desc.Height, wgpu.TextureFormatDepth32Float,
		wgpu.TextureUsageRenderAttachment|wgpu.TextureUsageTextureBinding|wgpu.TextureUsageCopyDst)
	if err != nil {
		return 0, err
	}
	b.nextTexture++
	b.textures[b.nextTexture] = tex
	return b.nextTexture, nil
}

// createTexture creates a single-mip 2D texture and its default view. Caller holds b.mu.
func (b *wgpuRendererBackendImpl) createTexture(label string, width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (*wgpuTexture, error) {
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("create texture view %s: %w", label, err)
	}
	return &wgpuTexture{texture: tex, view: view, width: width, height: height}, nil
}

func (b *wgpuRendererBackendImpl) ReleaseTexture(h common.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tex, ok := b.textures[h]; ok {
		tex.view.Release()
		tex.texture.Release()
		delete(b.textures, h)
	}
}

func (b *wgpuRendererBackendImpl) WriteDepthTexture(h common.TextureHandle, texels []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tex, ok := b.textures[h]
	if !ok {
		return fmt.Errorf("write texture %d: %w", h, ErrUnknownTexture)
	}
	if len(texels) != int(tex.width*tex.height) {
		return fmt.Errorf("write texture %d: %d texels for %dx%d: %w", h, len(texels), tex.width, tex.height, ErrOutOfBounds)
	}
	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectDepthOnly,
		},
		common.SliceToBytes(texels),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  tex.width * 4,
			RowsPerImage: tex.height,
		},
		&wgpu.Extent3D{
			Width:              tex.width,
			Height:             tex.height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	if vertexShader == nil {
		return errors.New("vertex shader must be set to create a render pipeline")
	}
	fragmentShader := p.Shader(shader.ShaderTypeFragment)

	b.mu.Lock()
	defer b.mu.Unlock()

	vs, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: vertexShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: vertexShader.Source(),
		},
	})
	if err != nil {
		return err
	}

	descriptors := vertexShader.BindGroupLayoutDescriptors()
	var fragment *wgpu.FragmentState
	if fragmentShader != nil {
		fs, fsErr := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label: fragmentShader.Key(),
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
				Code: fragmentShader.Source(),
			},
		})
		if fsErr != nil {
			return fsErr
		}
		descriptors = mergeBindGroupLayouts(descriptors, fragmentShader.BindGroupLayoutDescriptors())
		target := wgpu.ColorTargetState{
			Format:    b.surfaceFormat,
			WriteMask: p.WriteMask(),
		}
		if p.BlendEnabled() {
			target.Blend = p.BlendState()
		}
		fragment = &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		}
	}

	layout, err := b.createPipelineLayout(p.PipelineKey(), descriptors)
	if err != nil {
		return err
	}

	vertexLayouts := make([]wgpu.VertexBufferLayout, 0, len(vertexShader.VertexLayouts()))
	for i := 0; i < len(vertexShader.VertexLayouts()); i++ {
		vertexLayouts = append(vertexLayouts, vertexShader.VertexLayouts()[i]...)
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
			Buffers:    vertexLayouts,
		},
		Fragment: fragment,
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		// Reverse-Z: nearer fragments have larger depth.
		DepthStencil: &wgpu.DepthStencilState{
			Format:              wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled:   p.DepthWriteEnabled(),
			DepthCompare:        wgpu.CompareFunctionGreaterEqual,
			DepthBias:           p.DepthBias(),
			DepthBiasSlopeScale: p.DepthBiasSlopeScale(),
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		return err
	}

	p.SetPipeline(created)
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: computeShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: computeShader.Source(),
		},
	})
	if err != nil {
		return err
	}

	layout, err := b.createPipelineLayout(p.PipelineKey(), computeShader.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}

	p.SetPipeline(created)
	return nil
}

// createPipelineLayout creates the bind group layouts and remembers them for bind group
// creation. Caller holds b.mu.
func (b *wgpuRendererBackendImpl) createPipelineLayout(key string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) (*wgpu.PipelineLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	stored := &wgpuPipelineLayouts{
		layouts:     make(map[int]*wgpu.BindGroupLayout, len(descriptors)),
		descriptors: descriptors,
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := 0; g <= maxGroup; g++ {
		desc := descriptors[g]
		bgl, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, err)
		}
		bindGroupLayouts[g] = bgl
		stored.layouts[g] = bgl
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            key,
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return nil, err
	}
	b.layouts[key] = stored
	return layout, nil
}

// bindGroup returns the cached bind group for provider as group of pipelineKey, creating
// it when missing or when the provider's generation moved. Caller holds b.mu.
func (b *wgpuRendererBackendImpl) bindGroup(pipelineKey string, group int, provider bind_group_provider.BindGroupProvider) (*wgpu.BindGroup, error) {
	key := bindGroupKey{provider: provider, pipeline: pipelineKey, group: group}
	if cached, ok := b.bindGroups[key]; ok && cached.generation == provider.Generation() {
		return cached.bindGroup, nil
	}

	layouts, ok := b.layouts[pipelineKey]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	desc := layouts.descriptors[group]
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, entry := range desc.Entries {
		binding := int(entry.Binding)
		if entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined {
			tex, ok := b.textures[provider.Texture(binding)]
			if !ok {
				return nil, fmt.Errorf("%s group %d binding %d: texture: %w", provider.Label(), group, binding, ErrBindingMismatch)
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: entry.Binding, TextureView: tex.view})
			continue
		}
		buf, ok := b.buffers[provider.Buffer(binding)]
		if !ok {
			return nil, fmt.Errorf("%s group %d binding %d: buffer: %w", provider.Label(), group, binding, ErrBindingMismatch)
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		})
	}

	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  layouts.layouts[group],
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	if cached, ok := b.bindGroups[key]; ok {
		cached.bindGroup.Release()
	}
	b.bindGroups[key] = cachedBindGroup{generation: provider.Generation(), bindGroup: bg}
	common.Logger().Debug("bind group rebuilt", "provider", provider.Label(), "pipeline", pipelineKey, "group", group)
	return bg, nil
}

// Submit encodes the whole command list into one command encoder. Dispatches each get
// their own compute pass, so WebGPU's pass boundaries provide the barriers. The list's
// map requests start once the command buffer is queued.
func (b *wgpuRendererBackendImpl) Submit(cl *CommandList, lookup func(key string) pipeline.Pipeline) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.submit(cl, lookup); err != nil {
		b.readbacks.fail(cl.Maps(), err)
		return err
	}
	for _, m := range cl.Maps() {
		b.startMap(m)
	}
	return nil
}

// startMap maps the requested range of a MapRead buffer. The bytes are copied out and the
// buffer unmapped inside the map callback, which fires during a device poll; delivery to
// the caller waits for Poll. Caller holds b.mu.
func (b *wgpuRendererBackendImpl) startMap(m MapRequest) {
	buf, err := b.checkRange(m.Buffer, m.Offset, m.Size)
	if err != nil {
		b.readbacks.push(m.Done, nil, fmt.Errorf("map read: %w", err))
		return
	}
	err = buf.MapAsync(wgpu.MapModeRead, m.Offset, m.Size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			b.readbacks.push(m.Done, nil, fmt.Errorf("map read: status %d", status))
			return
		}
		data := append([]byte(nil), buf.GetMappedRange(uint(m.Offset), uint(m.Size))...)
		if err := buf.Unmap(); err != nil {
			b.readbacks.push(m.Done, nil, fmt.Errorf("map read: %w", err))
			return
		}
		b.readbacks.push(m.Done, data, nil)
	})
	if err != nil {
		b.readbacks.push(m.Done, nil, fmt.Errorf("map read: %w", err))
	}
}

// Poll lets the device fire the callbacks of finished maps without waiting, then hands
// the results to their requesters.
func (b *wgpuRendererBackendImpl) Poll() int {
	b.mu.Lock()
	b.device.Poll(false, nil)
	b.mu.Unlock()
	return b.readbacks.deliver()
}

func (b *wgpuRendererBackendImpl) submit(cl *CommandList, lookup func(key string) pipeline.Pipeline) error {

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	var pass *wgpu.RenderPassEncoder
	for i, cmd := range cl.Commands() {
		var cmdErr error
		switch cmd.Kind {
		case CommandClearBuffer:
			var buf *wgpu.Buffer
			if buf, cmdErr = b.checkRange(cmd.Dst, cmd.DstOffset, cmd.Size); cmdErr == nil && cmd.Size > 0 {
				encoder.ClearBuffer(buf, cmd.DstOffset, cmd.Size)
			}
		case CommandCopyBuffer:
			src, srcErr := b.checkRange(cmd.Src, cmd.SrcOffset, cmd.Size)
			dst, dstErr := b.checkRange(cmd.Dst, cmd.DstOffset, cmd.Size)
			if cmdErr = errors.Join(srcErr, dstErr); cmdErr == nil && cmd.Size > 0 {
				encoder.CopyBufferToBuffer(src, cmd.SrcOffset, dst, cmd.DstOffset, cmd.Size)
			}
		case CommandDispatch:
			cmdErr = b.encodeDispatch(encoder, cmd, lookup)
		case CommandBeginRenderPass:
			pass, cmdErr = b.beginRenderPass(encoder, cmd.RenderPass)
		case CommandEndRenderPass:
			if pass != nil {
				pass.End()
				pass = nil
			}
		case CommandDrawIndexedIndirect, CommandDrawIndexedIndirectCount:
			if pass == nil {
				cmdErr = ErrRenderPassState
				break
			}
			cmdErr = b.encodeDraw(pass, cmd, lookup)
		case CommandBarrier:
		}
		if cmdErr != nil {
			if pass != nil {
				pass.End()
			}
			return fmt.Errorf("command %d (%s %s): %w", i, cmd.Kind, cmd.Pipeline, cmdErr)
		}
	}

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (b *wgpuRendererBackendImpl) encodeDispatch(encoder *wgpu.CommandEncoder, cmd Command, lookup func(string) pipeline.Pipeline) error {
	p := lookup(cmd.Pipeline)
	if p == nil || p.Type() != pipeline.PipelineTypeCompute {
		return ErrPipelineNotFound
	}
	computePipeline, ok := p.Pipeline().(*wgpu.ComputePipeline)
	if !ok {
		return ErrPipelineNotFound
	}
	groups := make([]*wgpu.BindGroup, len(cmd.Providers))
	for g, provider := range cmd.Providers {
		if provider == nil {
			continue
		}
		bg, err := b.bindGroup(cmd.Pipeline, g, provider)
		if err != nil {
			return err
		}
		groups[g] = bg
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	for g, bg := range groups {
		if bg != nil {
			pass.SetBindGroup(uint32(g), bg, nil)
		}
	}
	pass.DispatchWorkgroups(cmd.Workgroups[0], cmd.Workgroups[1], cmd.Workgroups[2])
	pass.End()
	return nil
}

func (b *wgpuRendererBackendImpl) beginRenderPass(encoder *wgpu.CommandEncoder, desc RenderPassDesc) (*wgpu.RenderPassEncoder, error) {
	rp := &wgpu.RenderPassDescriptor{Label: desc.Label}
	if desc.ColorTarget {
		view := b.frameView
		if view == nil && b.offscreen != nil {
			view = b.offscreen.view
		}
		if view == nil {
			return nil, fmt.Errorf("render pass %s: no color target, call BeginFrame first", desc.Label)
		}
		loadOp := wgpu.LoadOpClear
		if desc.ColorLoad == LoadOpLoad {
			loadOp = wgpu.LoadOpLoad
		}
		rp.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  loadOp,
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: desc.ClearColor[0], G: desc.ClearColor[1], B: desc.ClearColor[2], A: desc.ClearColor[3],
			},
		}}
	}
	if desc.DepthTarget.Valid() {
		tex, ok := b.textures[desc.DepthTarget]
		if !ok {
			return nil, ErrUnknownTexture
		}
		loadOp := wgpu.LoadOpClear
		if desc.DepthLoad == LoadOpLoad {
			loadOp = wgpu.LoadOpLoad
		}
		rp.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            tex.view,
			DepthLoadOp:     loadOp,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: desc.ClearDepth,
		}
	}
	return encoder.BeginRenderPass(rp), nil
}

// encodeDraw issues the indirect draws. A counted draw reads its count from the GPU
// counter when the device supports multi-draw-indirect-count. Without it the draw encodes
// MaxDraws single draws over the compacted arguments; the fill pass leaves every slot past
// the counter zeroed, and a zero instance count draws nothing.
func (b *wgpuRendererBackendImpl) encodeDraw(pass *wgpu.RenderPassEncoder, cmd Command, lookup func(string) pipeline.Pipeline) error {
	p := lookup(cmd.Pipeline)
	if p == nil || p.Type() != pipeline.PipelineTypeRender {
		return ErrPipelineNotFound
	}
	renderPipeline, ok := p.Pipeline().(*wgpu.RenderPipeline)
	if !ok {
		return ErrPipelineNotFound
	}
	d := cmd.Draw
	count := d.DrawCount
	if cmd.Kind == CommandDrawIndexedIndirectCount {
		count = d.MaxDraws
	}
	if count == 0 {
		return nil
	}
	args, err := b.checkRange(d.Args, d.ArgsOffset, uint64(count)*IndexedIndirectArgsSize)
	if err != nil {
		return err
	}

	pass.SetPipeline(renderPipeline)
	for g, provider := range d.Providers {
		if provider == nil {
			continue
		}
		bg, bgErr := b.bindGroup(cmd.Pipeline, g, provider)
		if bgErr != nil {
			return bgErr
		}
		pass.SetBindGroup(uint32(g), bg, nil)
	}
	if d.Geometry != nil {
		if vb, ok := b.buffers[d.Geometry.VertexBuffer()]; ok {
			pass.SetVertexBuffer(0, vb, 0, wgpu.WholeSize)
		}
		ib, ok := b.buffers[d.Geometry.IndexBuffer()]
		if !ok {
			return fmt.Errorf("%s: index buffer: %w", d.Geometry.Label(), ErrUnknownBuffer)
		}
		pass.SetIndexBuffer(ib, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	}
	if cmd.Kind == CommandDrawIndexedIndirectCount && b.multiDrawCount {
		counter, err := b.checkRange(d.Count, d.CountOffset, 4)
		if err != nil {
			return err
		}
		pass.MultiDrawIndexedIndirectCount(pass, *args, d.ArgsOffset, *counter, d.CountOffset, count)
		return nil
	}
	for i := uint32(0); i < count; i++ {
		pass.DrawIndexedIndirect(args, d.ArgsOffset+uint64(i)*IndexedIndirectArgsSize)
	}
	return nil
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil {
		return nil
	}
	// If a previous frame's surface texture is still held, avoid acquiring another one.
	if b.frameSurface != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()

	b.frameView.Release()
	b.frameView = nil
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, cached := range b.bindGroups {
		cached.bindGroup.Release()
		delete(b.bindGroups, k)
	}
	for h, buf := range b.buffers {
		buf.Release()
		delete(b.buffers, h)
	}
	for h, tex := range b.textures {
		tex.view.Release()
		tex.texture.Release()
		delete(b.textures, h)
	}
	if b.offscreen != nil {
		b.offscreen.view.Release()
		b.offscreen.texture.Release()
		b.offscreen = nil
	}
	if b.device != nil {
		b.device.Release()
	}
}

// checkRange validates handle, alignment and bounds. Caller holds b.mu.
func (b *wgpuRendererBackendImpl) checkRange(h common.BufferHandle, offset, size uint64) (*wgpu.Buffer, error) {
	buf, ok := b.buffers[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrUnknownBuffer)
	}
	if offset%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("handle %d offset %d size %d: %w", h, offset, size, ErrUnaligned)
	}
	if offset+size > b.bufferSizes[h] {
		return nil, fmt.Errorf("handle %d offset %d size %d exceeds %d: %w", h, offset, size, b.bufferSizes[h], ErrOutOfBounds)
	}
	return buf, nil
}

func toWGPUBufferUsage(u common.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	mapping := []struct {
		from common.BufferUsage
		to   wgpu.BufferUsage
	}{
		{common.BufferUsageMapRead, wgpu.BufferUsageMapRead},
		{common.BufferUsageCopySrc, wgpu.BufferUsageCopySrc},
		{common.BufferUsageCopyDst, wgpu.BufferUsageCopyDst},
		{common.BufferUsageIndex, wgpu.BufferUsageIndex},
		{common.BufferUsageVertex, wgpu.BufferUsageVertex},
		{common.BufferUsageUniform, wgpu.BufferUsageUniform},
		{common.BufferUsageStorage, wgpu.BufferUsageStorage},
		{common.BufferUsageIndirect, wgpu.BufferUsageIndirect},
	}
	for _, m := range mapping {
		if u.Has(m.from) {
			out |= m.to
		}
	}
	return out
}

// mergeBindGroupLayouts merges the bind group layout descriptors from a vertex and fragment shader
// into a unified set of descriptors suitable for a render pipeline layout.
//
// For each group index present in either shader:
//   - Entries with the same binding number have their Visibility flags ORed together
//   - Entries unique to one shader are included with their original visibility
//
// Parameters:
//   - vertexLayouts: bind group layout descriptors from the vertex shader
//   - fragmentLayouts: bind group layout descriptors from the fragment shader
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc, hasF := fragmentLayouts[g]

		switch {
		case hasV && !hasF:
			merged[g] = vDesc
		case hasF && !hasV:
			merged[g] = fDesc
		default:
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range vDesc.Entries {
				entryMap[e.Binding] = e
			}
			for _, e := range fDesc.Entries {
				if existing, ok := entryMap[e.Binding]; ok {
					existing.Visibility |= e.Visibility
					entryMap[e.Binding] = existing
				} else {
					entryMap[e.Binding] = e
				}
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})

			merged[g] = wgpu.BindGroupLayoutDescriptor{
				Label:   vDesc.Label,
				Entries: entries,
			}
		}
	}

	return merged
}
