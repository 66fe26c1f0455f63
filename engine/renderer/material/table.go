package material

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/gpuvector"
)

// DebugIndex is the table slot of the debug material. Draws whose material cannot be
// resolved use it.
const DebugIndex uint32 = 0

// DebugName is the name the debug material is registered under.
const DebugName = "debug"

// debugColor is loud on purpose so missing materials are visible in a frame.
var debugColor = [4]float32{1, 0, 1, 1}

// Table maps material names to indices into a GPU storage buffer of GPUMaterial entries.
// Slot 0 always holds the debug material. Register and SyncToGPU take an exclusive lock;
// Lookup and Resolve may run from any goroutine.
type Table struct {
	mu        sync.RWMutex
	label     string
	index     map[string]uint32
	materials *gpuvector.Vector[GPUMaterial]
}

// NewTable creates a table holding only the debug material.
//
// Parameters:
//   - label: debug label of the storage buffer
//
// Returns:
//   - *Table: the table
func NewTable(label string) *Table {
	t := &Table{
		label:     common.Coalesce(label, "Materials"),
		index:     make(map[string]uint32),
		materials: gpuvector.New[GPUMaterial](common.Coalesce(label, "Materials"), common.BufferUsageStorage),
	}
	t.Register(NewMaterial(WithName(DebugName), WithBaseColor(debugColor)))
	return t
}

// Register adds a material, or replaces the entry of a material with the same name.
//
// Parameters:
//   - m: the material
//
// Returns:
//   - uint32: the table index of the material
func (t *Table) Register(m Material) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[m.Name()]; ok {
		t.materials.Set(int(i), m.GPU())
		return i
	}
	i := uint32(t.materials.Add(m.GPU()))
	t.index[m.Name()] = i
	return i
}

// Lookup returns the index of a material by name.
func (t *Table) Lookup(name string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[name]
	return i, ok
}

// Resolve returns the index of a material, falling back to DebugIndex with a warning when
// the name is not registered.
//
// Parameters:
//   - owner: what asked for the material, logged on a miss
//   - name: the material name
//
// Returns:
//   - uint32: the table index
func (t *Table) Resolve(owner, name string) uint32 {
	if i, ok := t.Lookup(name); ok {
		return i
	}
	common.Logger().Warn("material lookup failed, using debug material",
		"table", t.label, "owner", owner, "material", name)
	return DebugIndex
}

// Len returns the number of registered materials, the debug material included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.materials.Len()
}

// Get returns the entry at index i.
func (t *Table) Get(i uint32) GPUMaterial {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.materials.Get(int(i))
}

// Buffer returns the storage buffer, valid after the first SyncToGPU.
func (t *Table) Buffer() common.BufferHandle {
	return t.materials.Buffer()
}

// OnReallocate registers a callback run when the storage buffer is recreated.
func (t *Table) OnReallocate(fn gpuvector.ReallocateFunc) {
	t.materials.OnReallocate(fn)
}

// SyncToGPU uploads new and changed entries.
func (t *Table) SyncToGPU(a gpuvector.Allocator) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.materials.SyncToGPU(a)
	return err
}

// Release frees the storage buffer.
func (t *Table) Release(a gpuvector.Allocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.materials.Release(a)
}
