package common

// BufferHandle identifies a GPU buffer owned by a renderer backend.
// The zero value is never returned by a backend and means "no buffer".
type BufferHandle uint32

// Valid reports whether h refers to a buffer.
func (h BufferHandle) Valid() bool {
	return h != 0
}

// TextureHandle identifies a GPU texture owned by a renderer backend.
// The zero value means "no texture".
type TextureHandle uint32

// Valid reports whether h refers to a texture.
func (h TextureHandle) Valid() bool {
	return h != 0
}

// BufferUsage is a bit set describing how a buffer is bound.
// The values mirror the WebGPU buffer usage flags the engine relies on.
type BufferUsage uint32

const (
	BufferUsageMapRead  BufferUsage = 1 << 0
	BufferUsageCopySrc  BufferUsage = 1 << 2
	BufferUsageCopyDst  BufferUsage = 1 << 3
	BufferUsageIndex    BufferUsage = 1 << 4
	BufferUsageVertex   BufferUsage = 1 << 5
	BufferUsageUniform  BufferUsage = 1 << 6
	BufferUsageStorage  BufferUsage = 1 << 7
	BufferUsageIndirect BufferUsage = 1 << 8
)

// Has reports whether every flag in other is set on u.
func (u BufferUsage) Has(other BufferUsage) bool {
	return u&other == other
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	// Label is attached to the backend object for debugging tools.
	Label string

	// Size is the buffer size in bytes. Backends round it up to a multiple of 4.
	Size uint64

	// Usage describes every way the buffer will be bound or copied.
	Usage BufferUsage
}

// TextureFormat identifies the texel layout of a texture created through a renderer.
type TextureFormat int

const (
	// TextureFormatDepth32Float is a single 32-bit float depth channel.
	TextureFormatDepth32Float TextureFormat = iota
)

// TextureDescriptor describes a 2D texture to create.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format TextureFormat
}
