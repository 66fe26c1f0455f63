package depthpyramid

import (
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
)

const (
	// MaxMips is the deepest mip chain the single-pass downsampler produces.
	MaxMips = 12

	// TileSize is the mip 0 extent one downsample workgroup reduces.
	TileSize = 32

	// groupMips is the number of mips a workgroup reduces from its tile before the last
	// group takes over.
	groupMips = 5

	// farLimit is the neutral element of the MIN reduction for texels outside a mip.
	farLimit = float32(math.MaxFloat32)
)

// Layout describes the packed mip chain stored in the pyramid buffer. Mip m is
// max(1, Width>>m) by max(1, Height>>m) texels, row-major, starting at Offsets[m].
type Layout struct {
	Width, Height uint32
	Mips          uint32
	Offsets       [MaxMips]uint32
	Texels        uint32
}

// NewLayout computes the layout for a depth target. Mip 0 is the previous power of two of
// the target per axis, so every mip texel covers whole texels of the mip below it.
//
// Parameters:
//   - depthWidth: width of the depth target in texels
//   - depthHeight: height of the depth target in texels
//
// Returns:
//   - Layout: the pyramid layout; zero when either extent is zero
func NewLayout(depthWidth, depthHeight uint32) Layout {
	if depthWidth == 0 || depthHeight == 0 {
		return Layout{}
	}
	l := Layout{
		Width:  common.PrevPowerOfTwo(depthWidth),
		Height: common.PrevPowerOfTwo(depthHeight),
	}
	l.Mips = min(MaxMips, common.Log2Floor(max(l.Width, l.Height))+1)
	for m := uint32(0); m < l.Mips; m++ {
		l.Offsets[m] = l.Texels
		w, h := l.MipExtent(m)
		l.Texels += w * h
	}
	return l
}

// MipExtent returns the size of mip m.
func (l Layout) MipExtent(m uint32) (uint32, uint32) {
	return max(1, l.Width>>m), max(1, l.Height>>m)
}

// Groups returns the downsample dispatch size: one workgroup per 32x32 mip 0 tile.
func (l Layout) Groups() (uint32, uint32) {
	return common.DivCeil(l.Width, TileSize), common.DivCeil(l.Height, TileSize)
}

// Valid reports whether the layout describes at least one texel.
func (l Layout) Valid() bool {
	return l.Mips > 0
}

// At returns the texel (x, y) of mip m, or the far limit outside the mip.
func (l Layout) At(data []float32, m, x, y uint32) float32 {
	w, h := l.MipExtent(m)
	if x >= w || y >= h {
		return farLimit
	}
	return data[l.Offsets[m]+y*w+x]
}

// MinOver returns the MIN over the inclusive texel rectangle [x0,x1]x[y0,y1] of mip m,
// clamped to the mip. This is the occluder depth the culling test compares against.
//
// Parameters:
//   - data: the packed pyramid
//   - m: mip level
//   - x0, y0, x1, y1: inclusive texel bounds
//
// Returns:
//   - float32: the farthest occluder depth in the rectangle
func (l Layout) MinOver(data []float32, m, x0, y0, x1, y1 uint32) float32 {
	w, h := l.MipExtent(m)
	x1 = min(x1, w-1)
	y1 = min(y1, h-1)
	d := farLimit
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d = min(d, data[l.Offsets[m]+y*w+x])
		}
	}
	return d
}

// Params returns the uniform block the pyramid kernels read.
func (l Layout) Params(srcWidth, srcHeight uint32) GPUPyramidParams {
	gx, gy := l.Groups()
	p := GPUPyramidParams{
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		Width:     l.Width,
		Height:    l.Height,
		Mips:      l.Mips,
		GroupsX:   gx,
		GroupsY:   gy,
	}
	p.MipOffsets = l.Offsets
	return p
}
