package loader

import (
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
)

// Target is the renderer side of a loader: the reserve-then-load ingestion API. Loaders
// hold a Target; targets never reference their loaders.
type Target[V, I any] interface {
	// Label names the target in logs.
	Label() string

	// Reserve grows the target for one load. Called only from Update, one request at a
	// time.
	//
	// Parameters:
	//   - info: number of instances, vertices and indices
	//
	// Returns:
	//   - culledrenderer.Offsets: where the load goes
	//   - error: if the reservation is invalid
	Reserve(info culledrenderer.ReserveInfo) (culledrenderer.Offsets, error)

	// Load fills a reservation. Called concurrently from the worker pool.
	//
	// Parameters:
	//   - desc: the offsets returned by Reserve and the data
	//
	// Returns:
	//   - error: if the data does not fit the reservation
	Load(desc culledrenderer.LoadDesc[V, I]) error
}

// BuildFunc produces the data of one request on a worker goroutine. It must not touch the
// target.
type BuildFunc[V, I any] func() (culledrenderer.LoadDesc[V, I], error)

// State is the progress of one request.
type State int

const (
	// StateUnknown is the state of keys never requested.
	StateUnknown State = iota
	StateQueued
	StateBuilt
	StateLoading
	StateLoaded
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateBuilt:
		return "built"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
