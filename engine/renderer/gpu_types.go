package renderer

import "unsafe"

// IndexedIndirectArgs mirrors the 20 byte argument record consumed by
// drawIndexedIndirect. FirstInstance carries the draw index so the vertex shader can
// fetch its DrawCallData.
type IndexedIndirectArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

// IndexedIndirectArgsSize is the byte size of one IndexedIndirectArgs record.
const IndexedIndirectArgsSize = uint64(unsafe.Sizeof(IndexedIndirectArgs{}))
