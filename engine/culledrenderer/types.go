package culledrenderer

import (
	"errors"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-render/engine/culling"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
)

var (
	// ErrRangeNotReserved is returned by Load for offsets or sizes outside a reservation.
	ErrRangeNotReserved = errors.New("culledrenderer: range not reserved")

	// ErrInvalidReservation is returned by Reserve for empty or negative sizes.
	ErrInvalidReservation = errors.New("culledrenderer: invalid reservation")

	// ErrAlreadyLoaded is returned by a second Load into the same reservation.
	ErrAlreadyLoaded = errors.New("culledrenderer: reservation already loaded")
)

// ReserveInfo sizes a reservation. Every instance is one draw call.
type ReserveInfo struct {
	NumInstances int
	NumVertices  int
	NumIndices   int
}

// Offsets are the first slots of a reservation in the instance, vertex and index vectors.
// The instance offset is also the first draw index.
type Offsets struct {
	Instance int
	Vertex   int
	Index    int
}

// Instance is one draw of a load.
type Instance[I any] struct {
	// Data is the instance record the vertex stage reads.
	Data I

	// Draw holds the index range of the draw. FirstIndex and BaseVertex are relative to
	// the load's own indices and vertices. InstanceCount is always 1 and FirstInstance the
	// draw index, since the vertex stage finds the instance through instance_index.
	Draw renderer.IndexedIndirectArgs

	// Bounds is the world-space bounding volume used by culling.
	Bounds culling.CullingData

	// Material names the entry of the material table. Unknown names fall back to the
	// debug material.
	Material string

	ModelID uint32
	CellID  uint32
}

// LoadDesc is the content of one reservation.
type LoadDesc[V, I any] struct {
	Offsets   Offsets
	Vertices  []V
	Indices   []uint32
	Instances []Instance[I]
}

type reservation struct {
	info   ReserveInfo
	offs   Offsets
	loaded atomic.Bool
}

// ReserveInfo returns the reservation the load needs.
func (d LoadDesc[V, I]) ReserveInfo() ReserveInfo {
	return ReserveInfo{NumInstances: len(d.Instances), NumVertices: len(d.Vertices), NumIndices: len(d.Indices)}
}
