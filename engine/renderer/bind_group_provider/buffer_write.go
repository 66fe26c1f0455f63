package bind_group_provider

import "github.com/Carmen-Shannon/oxy-render/common"

// BufferWrite is an upload addressed by binding rather than by handle: the buffer is looked
// up on the provider when the write is applied, so a write staged before a reallocation
// rebinds the slot still lands in the live buffer.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  int
	Offset   uint64
	Data     []byte
}

// WriteAt stages data at the start of the buffer bound at binding.
//
// Parameters:
//   - p: the provider the buffer is bound on
//   - binding: the binding index
//   - data: the bytes to upload
//
// Returns:
//   - BufferWrite: the staged write
func WriteAt(p BindGroupProvider, binding int, data []byte) BufferWrite {
	return BufferWrite{Provider: p, Binding: binding, Data: data}
}

// Target resolves the buffer the write lands in. The zero handle means nothing is bound.
func (w BufferWrite) Target() common.BufferHandle {
	if w.Provider == nil {
		return 0
	}
	return w.Provider.Buffer(w.Binding)
}
