package bind_group_provider

import "github.com/Carmen-Shannon/oxy-render/common"

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithBuffer sets a buffer for a specific binding index.
//
// Parameters:
//   - binding: the binding index for this buffer
//   - h: the buffer to associate with this binding
//
// Returns:
//   - BindGroupProviderOption: a function that sets the buffer for the specified binding
func WithBuffer(binding int, h common.BufferHandle) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[binding] = h
	}
}

// WithBuffers sets multiple buffers for this provider using a map of binding indices to buffers.
//
// Parameters:
//   - buffers: a map of binding indices to buffers to associate with this provider
//
// Returns:
//   - BindGroupProviderOption: a function that sets multiple buffers for this provider
func WithBuffers(buffers map[int]common.BufferHandle) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		for binding, h := range buffers {
			p.buffers[binding] = h
		}
	}
}

// WithTexture sets a texture for a specific binding index.
func WithTexture(binding int, h common.TextureHandle) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.textures[binding] = h
	}
}
