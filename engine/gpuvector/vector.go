package gpuvector

import (
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// Allocator is the part of the renderer a Vector needs to own its GPU buffer.
type Allocator interface {
	CreateBuffer(desc common.BufferDescriptor) (common.BufferHandle, error)
	ReleaseBuffer(h common.BufferHandle)
	WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error
}

// ReallocateFunc is called after a Vector recreated its GPU buffer.
type ReallocateFunc func(buf common.BufferHandle)

// Vector is a growable array of fixed-layout GPU structs mirrored on the CPU. Elements are
// mutated on the CPU and uploaded on SyncToGPU, either as coalesced dirty runs or, after the
// capacity grew past the GPU buffer, as a full upload into a new buffer.
//
// AddCount, Clear, SyncToGPU and Release must not run concurrently with anything else. Get,
// Set and MarkDirty may be called from several goroutines as long as they touch disjoint
// indices; dirty bits are set atomically.
type Vector[T any] struct {
	label           string
	usage           common.BufferUsage
	elemSize        uint64
	initialCapacity int

	data   []T
	length int

	// dirty holds one bit per element of data; word = index/64, bit = index%64.
	dirty    []uint64
	anyDirty atomic.Bool

	buffer      common.BufferHandle
	gpuCapacity int
	generation  uint64
	onRealloc   []ReallocateFunc
}

// New creates an empty Vector. No GPU buffer exists until the first SyncToGPU.
//
// Parameters:
//   - label: debug label of the GPU buffer
//   - usage: usage flags of the GPU buffer; CopyDst is always added
//   - options: functional options
//
// Returns:
//   - *Vector[T]: the vector
func New[T any](label string, usage common.BufferUsage, options ...VectorBuilderOption) *Vector[T] {
	cfg := vectorConfig{initialCapacity: minCapacity}
	for _, opt := range options {
		opt(&cfg)
	}
	var zero T
	v := &Vector[T]{
		label:           label,
		usage:           usage | common.BufferUsageCopyDst,
		elemSize:        uint64(unsafe.Sizeof(zero)),
		initialCapacity: max(cfg.initialCapacity, 1),
	}
	v.data = make([]T, v.initialCapacity)
	v.dirty = make([]uint64, wordsFor(v.initialCapacity))
	return v
}

const minCapacity = 8

func wordsFor(n int) int {
	return (n + 63) / 64
}

// Label returns the debug label.
func (v *Vector[T]) Label() string {
	return v.label
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	return v.length
}

// Cap returns the CPU capacity in elements.
func (v *Vector[T]) Cap() int {
	return len(v.data)
}

// ElementSize returns the byte size of one element.
func (v *Vector[T]) ElementSize() uint64 {
	return v.elemSize
}

// Buffer returns the current GPU buffer, or the zero handle before the first sync.
func (v *Vector[T]) Buffer() common.BufferHandle {
	return v.buffer
}

// BufferCapacity returns the capacity of the GPU buffer in elements.
func (v *Vector[T]) BufferCapacity() int {
	return v.gpuCapacity
}

// Generation increases every time the GPU buffer is recreated.
func (v *Vector[T]) Generation() uint64 {
	return v.generation
}

// OnReallocate registers fn to be called with the new buffer after every reallocation.
// Owners use it to rebind the buffer in their bind group providers.
func (v *Vector[T]) OnReallocate(fn ReallocateFunc) {
	v.onRealloc = append(v.onRealloc, fn)
}

// AddCount appends n zeroed elements and returns the index of the first one. Capacity
// grows to max(2*cap, needed) and never shrinks. The new elements are dirty.
//
// Parameters:
//   - n: number of elements to append
//
// Returns:
//   - int: index of the first new element
func (v *Vector[T]) AddCount(n int) int {
	start := v.length
	if n <= 0 {
		return start
	}
	needed := v.length + n
	if needed > len(v.data) {
		newCap := max(len(v.data)*2, minCapacity, needed)
		grown := make([]T, newCap)
		copy(grown, v.data[:v.length])
		v.data = grown

		dirty := make([]uint64, wordsFor(newCap))
		copy(dirty, v.dirty)
		v.dirty = dirty
	} else {
		clear(v.data[v.length:needed])
	}
	v.length = needed
	v.MarkDirtyRange(start, n)
	return start
}

// Add appends one element and returns its index.
func (v *Vector[T]) Add(value T) int {
	i := v.AddCount(1)
	v.data[i] = value
	return i
}

// Get returns a pointer to element i. Writes through the pointer must be followed by MarkDirty.
func (v *Vector[T]) Get(i int) *T {
	if i < 0 || i >= v.length {
		panic(fmt.Sprintf("gpuvector %s: index %d out of range [0,%d)", v.label, i, v.length))
	}
	return &v.data[i]
}

// Set stores value at i and marks it dirty.
func (v *Vector[T]) Set(i int, value T) {
	*v.Get(i) = value
	v.MarkDirty(i)
}

// Slice returns the live elements. The slice aliases the CPU mirror until the next AddCount.
func (v *Vector[T]) Slice() []T {
	return v.data[:v.length]
}

// MarkDirty flags element i for upload.
func (v *Vector[T]) MarkDirty(i int) {
	atomic.OrUint64(&v.dirty[i/64], 1<<(uint(i)%64))
	v.anyDirty.Store(true)
}

// MarkDirtyRange flags n elements starting at start for upload.
func (v *Vector[T]) MarkDirtyRange(start, n int) {
	end := start + n
	for i := start; i < end; {
		word := i / 64
		lo := uint(i % 64)
		hi := uint(min(64, end-word*64))
		mask := ^uint64(0) >> (64 - (hi - lo)) << lo
		atomic.OrUint64(&v.dirty[word], mask)
		i = word*64 + int(hi)
	}
	if n > 0 {
		v.anyDirty.Store(true)
	}
}

// Dirty reports whether any element awaits upload.
func (v *Vector[T]) Dirty() bool {
	return v.anyDirty.Load()
}

// SyncToGPU uploads pending changes. When the CPU capacity outgrew the GPU buffer, the buffer
// is recreated, every element is uploaded, Generation increases and the reallocation
// callbacks run. Otherwise each contiguous run of dirty elements becomes one write.
//
// Parameters:
//   - a: the allocator owning the GPU buffer
//
// Returns:
//   - bool: true if the buffer was recreated
//   - error: if creating the buffer or writing to it failed
func (v *Vector[T]) SyncToGPU(a Allocator) (bool, error) {
	if !v.buffer.Valid() || v.gpuCapacity < len(v.data) {
		if err := v.reallocate(a); err != nil {
			return false, err
		}
		return true, nil
	}
	if !v.anyDirty.Load() {
		return false, nil
	}
	if err := v.flushDirty(a); err != nil {
		return false, err
	}
	return false, nil
}

func (v *Vector[T]) reallocate(a Allocator) error {
	buf, err := a.CreateBuffer(common.BufferDescriptor{
		Label: v.label,
		Size:  uint64(len(v.data)) * v.elemSize,
		Usage: v.usage,
	})
	if err != nil {
		return fmt.Errorf("gpuvector %s: grow to %d elements: %w", v.label, len(v.data), err)
	}
	if v.length > 0 {
		if err := a.WriteBuffer(buf, 0, common.SliceToBytes(v.data[:v.length])); err != nil {
			a.ReleaseBuffer(buf)
			return fmt.Errorf("gpuvector %s: upload: %w", v.label, err)
		}
	}
	if v.buffer.Valid() {
		a.ReleaseBuffer(v.buffer)
	}
	v.buffer = buf
	v.gpuCapacity = len(v.data)
	v.generation++
	v.clearDirty()

	common.Logger().Debug("gpu vector reallocated", "label", v.label, "capacity", v.gpuCapacity, "length", v.length)
	for _, fn := range v.onRealloc {
		fn(buf)
	}
	return nil
}

// flushDirty writes every contiguous dirty run below the length.
func (v *Vector[T]) flushDirty(a Allocator) error {
	i := 0
	for i < v.length {
		word := v.dirty[i/64] >> uint(i%64)
		if word == 0 {
			i = (i/64 + 1) * 64
			continue
		}
		i += bits.TrailingZeros64(word)
		if i >= v.length {
			break
		}
		start := i
		for i < v.length && v.dirty[i/64]&(1<<uint(i%64)) != 0 {
			i++
		}
		offset := uint64(start) * v.elemSize
		if err := a.WriteBuffer(v.buffer, offset, common.SliceToBytes(v.data[start:i])); err != nil {
			return fmt.Errorf("gpuvector %s: write [%d,%d): %w", v.label, start, i, err)
		}
	}
	v.clearDirty()
	return nil
}

func (v *Vector[T]) clearDirty() {
	clear(v.dirty)
	v.anyDirty.Store(false)
}

// Clear drops all elements and keeps the capacity and the GPU buffer.
func (v *Vector[T]) Clear() {
	clear(v.data[:v.length])
	v.length = 0
	v.clearDirty()
}

// Release frees the GPU buffer. The CPU mirror is kept, so a later SyncToGPU recreates it.
func (v *Vector[T]) Release(a Allocator) {
	if v.buffer.Valid() {
		a.ReleaseBuffer(v.buffer)
	}
	v.buffer = 0
	v.gpuCapacity = 0
}
