package culling

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-render/common"
)

// MaxViews is the number of views one culling dispatch evaluates: the main camera plus up
// to seven shadow cascades.
const MaxViews = 8

// GPUDrawArgsSource is the canonical WGSL definition of the DrawArgs struct.
// Matches renderer.IndexedIndirectArgs exactly (20 bytes).
//
//go:embed assets/draw_args.wgsl
var GPUDrawArgsSource string

// GPUDrawCallDataSource is the canonical WGSL definition of the DrawCallData struct.
// Matches DrawCallData layout exactly (16 bytes).
//
//go:embed assets/draw_call_data.wgsl
var GPUDrawCallDataSource string

// DrawCallData is the side table entry of a draw call. The vertex stage reads it at
// instance_index, which is the draw's FirstInstance.
// Size: 16 bytes.
type DrawCallData struct {
	InstanceID    uint32 // offset  0: instance slot in the owner's instance buffer
	ModelID       uint32 // offset  4: model or liquid type id
	TextureOffset uint32 // offset  8: first texture index, 0 is the debug texture
	CellID        uint32 // offset 12: terrain cell or chunk id
}

// Size returns the size of the DrawCallData struct in bytes.
func (d *DrawCallData) Size() int {
	return int(unsafe.Sizeof(*d))
}

// GPUCullingDataSource is the canonical WGSL definition of the CullingData struct.
// Matches CullingData layout exactly (32 bytes).
//
//go:embed assets/culling_data.wgsl
var GPUCullingDataSource string

// CullingData is the world-space bounding volume of a draw call.
// Size: 32 bytes.
type CullingData struct {
	Center       [3]float32 // offset  0: box center
	SphereRadius float32    // offset 12: radius of the sphere enclosing the box
	Extents      [3]float32 // offset 16: half-size of the box along each axis
	_pad         float32    // offset 28: padding to 32 bytes
}

// NewCullingData builds the bounds of an axis-aligned box given by its corners.
//
// Parameters:
//   - boxMin: the minimum corner
//   - boxMax: the maximum corner
//
// Returns:
//   - CullingData: center, extents and enclosing sphere radius
func NewCullingData(boxMin, boxMax [3]float32) CullingData {
	var c CullingData
	var r2 float32
	for i := range 3 {
		c.Center[i] = (boxMin[i] + boxMax[i]) * 0.5
		c.Extents[i] = (boxMax[i] - boxMin[i]) * 0.5
		r2 += c.Extents[i] * c.Extents[i]
	}
	c.SphereRadius = sqrt32(r2)
	return c
}

// Size returns the size of the CullingData struct in bytes.
func (c *CullingData) Size() int {
	return int(unsafe.Sizeof(*c))
}

// GPUViewSource is the canonical WGSL definition of the View struct.
// Matches GPUView layout exactly (176 bytes).
//
//go:embed assets/view.wgsl
var GPUViewSource string

// ViewKind tells the culling kernel how to treat a view.
type ViewKind uint32

const (
	// ViewMain is a camera view. Occlusion culling applies.
	ViewMain ViewKind = iota

	// ViewCascade is a shadow cascade. Only frustum culling applies, since the depth pyramid
	// is built from the camera's depth.
	ViewCascade
)

// GPUView is one view the culling pass tests draws against.
// Size: 176 bytes.
type GPUView struct {
	ViewProj [16]float32   // offset   0: column-major view-projection, reverse-Z
	Planes   [6][4]float32 // offset  64: frustum planes (nx, ny, nz, d), inside positive
	Kind     ViewKind      // offset 160: ViewMain or ViewCascade
	_pad     [3]uint32     // offset 164: padding to 176 bytes
}

// Size returns the size of the GPUView struct in bytes.
func (v *GPUView) Size() int {
	return int(unsafe.Sizeof(*v))
}

// GPUCullConstantsSource is the canonical WGSL definition of the CullConstants struct.
// Matches GPUCullConstants layout exactly (32 bytes).
//
//go:embed assets/cull_constants.wgsl
var GPUCullConstantsSource string

// GPUCullConstants is the uniform block of the culling dispatch.
// Size: 32 bytes.
type GPUCullConstants struct {
	DrawCount        uint32   // offset  0: draws to test
	NumViews         uint32   // offset  4: views to test against
	WordsPerView     uint32   // offset  8: bitmask words between consecutive views
	OcclusionEnabled uint32   // offset 12: 1 when the pyramid may reject draws
	PyramidWidth     uint32   // offset 16: mip 0 width
	PyramidHeight    uint32   // offset 20: mip 0 height
	PyramidMips      uint32   // offset 24: mip count
	Mode             CullStep // offset 28: CullStepFull or CullStepRefinePrevious
}

// Size returns the size of the GPUCullConstants struct in bytes.
func (c *GPUCullConstants) Size() int {
	return int(unsafe.Sizeof(*c))
}

// Marshal serializes the constants for upload.
func (c *GPUCullConstants) Marshal() []byte {
	return common.StructToBytes(c)
}

// GPUFillConstantsSource is the canonical WGSL definition of the FillConstants struct.
// Matches GPUFillConstants layout exactly (32 bytes).
//
//go:embed assets/fill_constants.wgsl
var GPUFillConstantsSource string

// GPUFillConstants is the uniform block of one fill dispatch.
// Size: 32 bytes.
type GPUFillConstants struct {
	DrawCount       uint32    // offset  0: draws to scan
	WordsPerView    uint32    // offset  4: bitmask words between consecutive views
	ViewIndex       uint32    // offset  8: view whose bits are compacted
	DiffAgainstPrev uint32    // offset 12: 1 keeps only bits clear in the previous mask
	NumViews        uint32    // offset 16: triangle counters start at NumViews
	ArgsBase        uint32    // offset 20: first compacted record of the view
	_pad            [2]uint32 // offset 24: padding to 32 bytes
}

// Size returns the size of the GPUFillConstants struct in bytes.
func (c *GPUFillConstants) Size() int {
	return int(unsafe.Sizeof(*c))
}

// Marshal serializes the constants for upload.
func (c *GPUFillConstants) Marshal() []byte {
	return common.StructToBytes(c)
}
