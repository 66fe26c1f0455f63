package loader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
	"github.com/Carmen-Shannon/oxy-render/engine/liquid"
	"github.com/Carmen-Shannon/oxy-render/engine/model"
	"github.com/Carmen-Shannon/oxy-render/engine/terrain"
)

// ErrModelNotFound fails placements of models that were never registered.
var ErrModelNotFound = errors.New("loader: model not found")

// ModelLoader places registered models.
type ModelLoader struct {
	Loader[model.GPUVertex, model.GPUModelInstance]

	r      *model.Renderer
	mu     sync.RWMutex
	models map[string]model.Model
}

// NewModelLoader creates a loader filling a model renderer.
func NewModelLoader(r *model.Renderer, options ...LoaderBuilderOption) *ModelLoader {
	return &ModelLoader{
		Loader: NewLoader[model.GPUVertex, model.GPUModelInstance](r, options...),
		r:      r,
		models: make(map[string]model.Model),
	}
}

// Register makes a model available to Place under its name, replacing any model of the
// same name.
func (ml *ModelLoader) Register(m model.Model) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.models[m.Name()] = m
}

// Model returns a registered model.
func (ml *ModelLoader) Model(name string) (model.Model, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	m, ok := ml.models[name]
	return m, ok
}

// Place requests placements of the model registered as name. The model is looked up on
// the worker, so a missing model fails the request with ErrModelNotFound.
//
// Parameters:
//   - key: the request key
//   - name: the model name
//   - placements: where to draw it
//
// Returns:
//   - error: a Request error
func (ml *ModelLoader) Place(key, name string, placements ...model.Placement) error {
	return ml.Request(key, func() (culledrenderer.LoadDesc[model.GPUVertex, model.GPUModelInstance], error) {
		m, ok := ml.Model(name)
		if !ok {
			return culledrenderer.LoadDesc[model.GPUVertex, model.GPUModelInstance]{},
				fmt.Errorf("%q: %w", name, ErrModelNotFound)
		}
		return ml.r.Prepare(m, placements), nil
	})
}

// Heightfield describes the terrain a TerrainLoader samples chunks from.
type Heightfield struct {
	ChunkSize  float32
	Resolution int
	Height     func(wx, wz float32) float32
	Material   string
}

// TerrainLoader samples and loads terrain chunks by cell.
type TerrainLoader struct {
	Loader[terrain.GPUVertex, terrain.GPUChunk]

	r  *terrain.Renderer
	hf Heightfield
}

// NewTerrainLoader creates a loader filling a terrain renderer from a heightfield.
func NewTerrainLoader(r *terrain.Renderer, hf Heightfield, options ...LoaderBuilderOption) *TerrainLoader {
	return &TerrainLoader{
		Loader: NewLoader[terrain.GPUVertex, terrain.GPUChunk](r, options...),
		r:      r,
		hf:     hf,
	}
}

// ChunkKey is the request key of a chunk cell.
func ChunkKey(x, z int32) string {
	return fmt.Sprintf("chunk %d,%d", x, z)
}

// RequestChunk queues the chunk of cell (x, z). Sampling the heights and triangulating
// happen on the worker.
func (tl *TerrainLoader) RequestChunk(x, z int32) error {
	return tl.Request(ChunkKey(x, z), func() (culledrenderer.LoadDesc[terrain.GPUVertex, terrain.GPUChunk], error) {
		return tl.r.Prepare(terrain.Chunk{
			X:          x,
			Z:          z,
			Size:       tl.hf.ChunkSize,
			Resolution: tl.hf.Resolution,
			Heights:    terrain.SampleHeights(x, z, tl.hf.ChunkSize, tl.hf.Resolution, tl.hf.Height),
			Material:   tl.hf.Material,
		})
	})
}

// RequestArea queues every chunk in [x0, x1) x [z0, z1). Keys already requested are
// skipped.
//
// Returns:
//   - int: the number of chunks queued
//   - error: ErrClosed
func (tl *TerrainLoader) RequestArea(x0, z0, x1, z1 int32) (int, error) {
	n := 0
	for z := z0; z < z1; z++ {
		for x := x0; x < x1; x++ {
			err := tl.RequestChunk(x, z)
			switch {
			case errors.Is(err, ErrDuplicateRequest):
			case err != nil:
				return n, err
			default:
				n++
			}
		}
	}
	return n, nil
}

// LiquidLoader loads liquid patches.
type LiquidLoader struct {
	Loader[liquid.GPUVertex, liquid.GPUPatch]

	r *liquid.Renderer
}

// NewLiquidLoader creates a loader filling a liquid renderer.
func NewLiquidLoader(r *liquid.Renderer, options ...LoaderBuilderOption) *LiquidLoader {
	return &LiquidLoader{
		Loader: NewLoader[liquid.GPUVertex, liquid.GPUPatch](r, options...),
		r:      r,
	}
}

// RequestPatches queues patches loaded together under key.
func (ll *LiquidLoader) RequestPatches(key string, patches ...liquid.Patch) error {
	return ll.Request(key, func() (culledrenderer.LoadDesc[liquid.GPUVertex, liquid.GPUPatch], error) {
		return ll.r.Prepare(patches...)
	})
}
