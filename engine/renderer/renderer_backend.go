package renderer

import (
	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeSoftware selects the CPU backend. Compute pipelines run their Kernel and
	// draws are recorded instead of rasterized. Used by tests and headless tooling.
	BackendTypeSoftware
)

// String returns the config name of the backend type.
func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeSoftware:
		return "software"
	default:
		return "wgpu"
	}
}

// ParseBackendType maps a config name to a backend type. Unknown names select WebGPU.
func ParseBackendType(name string) RendererBackendType {
	if name == "software" {
		return BackendTypeSoftware
	}
	return BackendTypeWGPU
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// RendererBackend is the API a GPU implementation provides to the Renderer. Resources are
// addressed by handle so that the culling and vector code never touches a backend type.
type RendererBackend interface {
	// Type returns the backend type.
	Type() RendererBackendType

	// CreateBuffer allocates a zeroed buffer.
	//
	// Parameters:
	//   - desc: label, size and usage of the buffer
	//
	// Returns:
	//   - common.BufferHandle: the new buffer
	//   - error: if the size is zero or the device refuses the allocation
	CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error)

	// ReleaseBuffer frees a buffer. Releasing an unknown handle is a no-op.
	ReleaseBuffer(h common.BufferHandle)

	// BufferSize returns the allocated size in bytes, or 0 for an unknown handle.
	BufferSize(h common.BufferHandle) uint64

	// WriteBuffer queues a write of data at offset. Offset and length must be multiples of 4.
	WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error

	// ReadBuffer copies size bytes at offset back to the host, blocking until the GPU is done.
	ReadBuffer(h common.BufferHandle, offset, size uint64) ([]byte, error)

	// Poll runs the callbacks of finished MapRead requests and returns how many ran. It
	// never blocks on the GPU.
	Poll() int

	// CreateTexture allocates a texture.
	CreateTexture(desc common.TextureDescriptor) (common.TextureHandle, error)

	// ReleaseTexture frees a texture. Releasing an unknown handle is a no-op.
	ReleaseTexture(h common.TextureHandle)

	// WriteDepthTexture uploads row-major depth texels covering the whole texture.
	WriteDepthTexture(h common.TextureHandle, texels []float32) error

	// RegisterComputePipeline creates the backend object for a compute pipeline.
	RegisterComputePipeline(p pipeline.Pipeline) error

	// RegisterRenderPipeline creates the backend object for a render pipeline.
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// Submit records and executes a command list, then starts its MapRead requests.
	// Pipelines are resolved through lookup.
	//
	// Parameters:
	//   - cl: the recorded commands
	//   - lookup: resolves a pipeline key to a registered pipeline
	//
	// Returns:
	//   - error: the first validation or device error; later commands are not executed
	Submit(cl *CommandList, lookup func(key string) pipeline.Pipeline) error

	// ConfigureSurface resizes the presentation surface and the main depth target.
	ConfigureSurface(width, height int)

	// SetPresentMode sets the mode applied on the next ConfigureSurface.
	SetPresentMode(mode PresentMode)

	// BeginFrame acquires the surface texture for the frame.
	BeginFrame() error

	// Present shows the acquired surface texture.
	Present()

	// Release frees every resource the backend still owns.
	Release()
}
