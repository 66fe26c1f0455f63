package bind_group_provider

import (
	"github.com/Carmen-Shannon/oxy-render/common"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label added for convenience.
	label string

	// buffers holds the buffer handles bound by this provider, keyed by binding index.
	buffers map[int]common.BufferHandle
	// textures holds the texture handles bound by this provider, keyed by binding index.
	textures map[int]common.TextureHandle

	// vertexBuffer and indexBuffer are only set on providers used as draw geometry.
	vertexBuffer common.BufferHandle
	indexBuffer  common.BufferHandle

	// generation increases whenever a bound handle changes. Backends cache bind groups
	// against it and rebuild when it moves.
	generation uint64
}

// BindGroupProvider describes the resources one bind group of a pipeline binds. Owners
// (culling resources, depth pyramid, renderers) keep one provider per bind group and
// update it when a buffer is recreated. The backend resolves handles at dispatch time.
//
// Usage pattern:
//  1. Owner creates the provider and its buffers through the Renderer
//  2. Owner calls SetBuffer for every binding the shader declares
//  3. After a reallocation the owner calls SetBuffer with the new handle, bumping Generation
//  4. Passes hand the provider to CommandList.Dispatch or a draw
//
// Providers are not safe for concurrent mutation; they are only touched on the render thread.
type BindGroupProvider interface {
	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Buffer returns the buffer bound at a binding, or the zero handle.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - common.BufferHandle: the bound buffer
	Buffer(binding int) common.BufferHandle

	// Buffers returns all bound buffers keyed by binding index.
	Buffers() map[int]common.BufferHandle

	// Texture returns the texture bound at a binding, or the zero handle.
	Texture(binding int) common.TextureHandle

	// Textures returns all bound textures keyed by binding index.
	Textures() map[int]common.TextureHandle

	// SetBuffer binds a buffer. Generation increases only if the handle differs.
	//
	// Parameters:
	//   - binding: the binding index
	//   - h: the buffer handle
	SetBuffer(binding int, h common.BufferHandle)

	// SetTexture binds a texture. Generation increases only if the handle differs.
	SetTexture(binding int, h common.TextureHandle)

	// VertexBuffer returns the vertex buffer of a geometry provider.
	VertexBuffer() common.BufferHandle

	// IndexBuffer returns the index buffer of a geometry provider.
	IndexBuffer() common.BufferHandle

	// SetGeometry sets the vertex and index buffers used by indexed draws.
	SetGeometry(vertex, index common.BufferHandle)

	// Generation returns a counter that increases whenever a bound handle changes.
	//
	// Returns:
	//   - uint64: the current generation
	Generation() uint64
}

// Compile-time check that bindGroupProvider implements BindGroupProvider
var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider with the provided options.
//
// Parameters:
//   - label: debug label
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new instance of BindGroupProvider configured with the provided options
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:    label,
		buffers:  make(map[int]common.BufferHandle),
		textures: make(map[int]common.TextureHandle),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) Buffer(binding int) common.BufferHandle {
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[int]common.BufferHandle {
	return p.buffers
}

func (p *bindGroupProvider) Texture(binding int) common.TextureHandle {
	return p.textures[binding]
}

func (p *bindGroupProvider) Textures() map[int]common.TextureHandle {
	return p.textures
}

func (p *bindGroupProvider) SetBuffer(binding int, h common.BufferHandle) {
	if cur, ok := p.buffers[binding]; ok && cur == h {
		return
	}
	p.buffers[binding] = h
	p.generation++
}

func (p *bindGroupProvider) SetTexture(binding int, h common.TextureHandle) {
	if cur, ok := p.textures[binding]; ok && cur == h {
		return
	}
	p.textures[binding] = h
	p.generation++
}

func (p *bindGroupProvider) VertexBuffer() common.BufferHandle {
	return p.vertexBuffer
}

func (p *bindGroupProvider) IndexBuffer() common.BufferHandle {
	return p.indexBuffer
}

func (p *bindGroupProvider) SetGeometry(vertex, index common.BufferHandle) {
	if p.vertexBuffer == vertex && p.indexBuffer == index {
		return
	}
	p.vertexBuffer = vertex
	p.indexBuffer = index
	p.generation++
}

func (p *bindGroupProvider) Generation() uint64 {
	return p.generation
}
