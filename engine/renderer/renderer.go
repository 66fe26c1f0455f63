package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrPipelineNotFound is returned when a command names a pipeline that was never registered.
	ErrPipelineNotFound = errors.New("renderer: pipeline not found")

	// ErrUnknownBuffer is returned for a buffer handle the backend does not own.
	ErrUnknownBuffer = errors.New("renderer: unknown buffer")

	// ErrUnknownTexture is returned for a texture handle the backend does not own.
	ErrUnknownTexture = errors.New("renderer: unknown texture")

	// ErrOutOfBounds is returned when a write, copy, clear or read exceeds a buffer.
	ErrOutOfBounds = errors.New("renderer: access out of bounds")

	// ErrUnaligned is returned when an offset or size is not a multiple of 4 bytes.
	ErrUnaligned = errors.New("renderer: offset or size not 4-byte aligned")

	// ErrUsage is returned when a buffer is used in a way its usage flags do not allow.
	ErrUsage = errors.New("renderer: buffer usage does not allow operation")

	// ErrBindingMismatch is returned when a dispatch's providers do not cover the shader's bindings.
	ErrBindingMismatch = errors.New("renderer: bind group providers do not match shader bindings")

	// ErrNoKernel is returned by the software backend for a compute pipeline without a CPU kernel.
	ErrNoKernel = errors.New("renderer: compute pipeline has no kernel")

	// ErrBufferMapped is returned for a write into a buffer whose MapRead has not been
	// delivered by Poll yet.
	ErrBufferMapped = errors.New("renderer: buffer has a pending map")

	// ErrRenderPassState is returned for draws outside a render pass or nested passes.
	ErrRenderPassState = errors.New("renderer: invalid render pass nesting")
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	validateShaders      bool
	width, height        int
}

// Renderer is the engine's GPU API: buffers and textures by handle, a pipeline cache and
// command list submission. It wraps one RendererBackend.
type Renderer interface {
	// Type returns the type of the active backend.
	Type() RendererBackendType

	// Backend returns the active backend.
	Backend() RendererBackend

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines registers one or more pipelines by creating the corresponding backend
	// objects, then caching them by PipelineKey. Already registered keys are skipped.
	// With shader validation enabled every shader is compiled with naga first; diagnostics
	// are logged as warnings and do not block registration.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// CreateBuffer allocates a zeroed buffer.
	CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error)

	// ReleaseBuffer frees a buffer.
	ReleaseBuffer(h common.BufferHandle)

	// BufferSize returns the size of a buffer in bytes.
	BufferSize(h common.BufferHandle) uint64

	// WriteBuffer queues a write into a buffer.
	WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error

	// WriteBuffers applies staged writes in order. Each BufferWrite targets the buffer bound
	// at a binding of a BindGroupProvider, resolved when the write is applied.
	//
	// Parameters:
	//   - writes: the staged writes
	//
	// Returns:
	//   - error: the first failing write, wrapped with the provider label; an unbound
	//     binding fails with ErrUnknownBuffer
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// ReadBuffer copies buffer contents back to the host, blocking until the GPU is done.
	// Meant for tools and tests; per-frame reads go through CommandList.MapRead.
	ReadBuffer(h common.BufferHandle, offset, size uint64) ([]byte, error)

	// Poll runs the callbacks of finished MapRead requests without waiting for the GPU.
	//
	// Returns:
	//   - int: the number of callbacks run
	Poll() int

	// CreateTexture allocates a texture.
	CreateTexture(desc common.TextureDescriptor) (common.TextureHandle, error)

	// ReleaseTexture frees a texture.
	ReleaseTexture(h common.TextureHandle)

	// WriteDepthTexture uploads depth texels covering the whole texture.
	WriteDepthTexture(h common.TextureHandle, texels []float32) error

	// Submit executes a recorded command list.
	//
	// Parameters:
	//   - cl: the command list to execute
	//
	// Returns:
	//   - error: the first backend error
	Submit(cl *CommandList) error

	// Resize configures the underlying backend to handle a new surface size.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode. Takes effect on the next Resize.
	SetPresentMode(mode PresentMode)

	// BeginFrame acquires the surface texture for the frame.
	BeginFrame() error

	// Present presents the surface to the display and releases the surface texture.
	Present()

	// Release releases every backend resource.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer with the specified backend type.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new Renderer
//   - error: if the WebGPU backend cannot acquire an adapter or device
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	if r.backend == nil {
		switch backendType {
		case BackendTypeSoftware:
			r.backend = NewSoftwareBackend()
		default:
			b, err := newWGPURendererBackend(r.surfaceDescriptor, r.forceFallbackAdapter)
			if err != nil {
				return nil, err
			}
			r.backend = b
		}
	}
	r.backendType = r.backend.Type()

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}
	if r.width > 0 && r.height > 0 {
		r.backend.ConfigureSurface(r.width, r.height)
	}

	common.Logger().Info("renderer created", "backend", r.backendType.String())
	return r, nil
}

func (r *renderer) Type() RendererBackendType {
	return r.backendType
}

func (r *renderer) Backend() RendererBackend {
	return r.backend
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		if r.validateShaders {
			r.validate(p)
		}
		var err error
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			err = r.backend.RegisterComputePipeline(p)
		case pipeline.PipelineTypeRender:
			err = r.backend.RegisterRenderPipeline(p)
		}
		if err != nil {
			return fmt.Errorf("register pipeline %s: %w", key, err)
		}
		r.pipelineCache[key] = p
	}
	return nil
}

// validate runs naga over every shader of p and logs diagnostics.
func (r *renderer) validate(p pipeline.Pipeline) {
	for _, st := range []shader.ShaderType{shader.ShaderTypeVertex, shader.ShaderTypeFragment, shader.ShaderTypeCompute} {
		s := p.Shader(st)
		if s == nil {
			continue
		}
		if err := shader.Validate(s); err != nil {
			common.Logger().Warn("shader validation failed", "pipeline", p.PipelineKey(), "shader", s.Key(), "err", err)
		}
	}
}

func (r *renderer) CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error) {
	return r.backend.CreateBuffer(desc)
}

func (r *renderer) ReleaseBuffer(h common.BufferHandle) {
	r.backend.ReleaseBuffer(h)
}

func (r *renderer) BufferSize(h common.BufferHandle) uint64 {
	return r.backend.BufferSize(h)
}

func (r *renderer) WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error {
	return r.backend.WriteBuffer(h, offset, data)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	for _, w := range writes {
		buf := w.Target()
		if !buf.Valid() {
			return fmt.Errorf("write binding %d: %w", w.Binding, ErrUnknownBuffer)
		}
		if err := r.backend.WriteBuffer(buf, w.Offset, w.Data); err != nil {
			return fmt.Errorf("%s binding %d: %w", w.Provider.Label(), w.Binding, err)
		}
	}
	return nil
}

func (r *renderer) ReadBuffer(h common.BufferHandle, offset, size uint64) ([]byte, error) {
	return r.backend.ReadBuffer(h, offset, size)
}

func (r *renderer) Poll() int {
	return r.backend.Poll()
}

func (r *renderer) CreateTexture(desc common.TextureDescriptor) (common.TextureHandle, error) {
	return r.backend.CreateTexture(desc)
}

func (r *renderer) ReleaseTexture(h common.TextureHandle) {
	r.backend.ReleaseTexture(h)
}

func (r *renderer) WriteDepthTexture(h common.TextureHandle, texels []float32) error {
	return r.backend.WriteDepthTexture(h, texels)
}

func (r *renderer) Submit(cl *CommandList) error {
	if cl.InRenderPass() {
		return fmt.Errorf("submit: %w", ErrRenderPassState)
	}
	return r.backend.Submit(cl, r.Pipeline)
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.backend.Release()
}
