package culling

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/gpuvector"
	"github.com/go-gl/mathgl/mgl32"
)

// ViewsResource is the render graph resource of the shared view buffer.
const ViewsResource = "culling-views"

// Views is the view buffer every culling pass of a frame reads: index 0 is the main camera,
// the following indices are shadow cascades.
type Views struct {
	views *gpuvector.Vector[GPUView]
}

// NewViews creates a view buffer holding count views, all initially degenerate.
//
// Parameters:
//   - count: number of views, 1 to MaxViews
//
// Returns:
//   - *Views: the view buffer
//   - error: if count is out of range
func NewViews(count uint32) (*Views, error) {
	if count == 0 || count > MaxViews {
		return nil, fmt.Errorf("culling: %d views, want 1 to %d", count, MaxViews)
	}
	v := &Views{
		views: gpuvector.New[GPUView]("Culling Views", common.BufferUsageStorage,
			gpuvector.WithInitialCapacity(int(count))),
	}
	v.views.AddCount(int(count))
	return v, nil
}

// Set updates view i from its view-projection matrix. The frustum planes are extracted
// from the matrix, so they always agree with the occlusion projection.
//
// Parameters:
//   - i: view index
//   - viewProj: reverse-Z view-projection matrix
//   - kind: ViewMain or ViewCascade
func (v *Views) Set(i uint32, viewProj mgl32.Mat4, kind ViewKind) {
	f := common.ExtractFrustum(viewProj)
	v.views.Set(int(i), GPUView{
		ViewProj: viewProj,
		Planes:   f.Vec4s(),
		Kind:     kind,
	})
}

// Get returns view i.
func (v *Views) Get(i uint32) GPUView {
	return *v.views.Get(int(i))
}

// Count returns the number of views.
func (v *Views) Count() uint32 {
	return uint32(v.views.Len())
}

// Buffer returns the GPU buffer, valid after the first SyncToGPU.
func (v *Views) Buffer() common.BufferHandle {
	return v.views.Buffer()
}

// SyncToGPU uploads the views changed since the last sync.
func (v *Views) SyncToGPU(a gpuvector.Allocator) error {
	_, err := v.views.SyncToGPU(a)
	return err
}

// Release frees the GPU buffer.
func (v *Views) Release(a gpuvector.Allocator) {
	v.views.Release(a)
}
