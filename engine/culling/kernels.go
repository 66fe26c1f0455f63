package culling

import (
	"encoding/binary"
	"errors"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/depthpyramid"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
)

var errConstants = errors.New("culling: constants binding too small")

// words views a bound storage buffer as u32 words without copying.
type words []byte

func (w words) get(i uint32) uint32 {
	return binary.LittleEndian.Uint32(w[i*4:])
}

func (w words) set(i, v uint32) {
	binary.LittleEndian.PutUint32(w[i*4:], v)
}

func (w words) add(i, v uint32) uint32 {
	old := w.get(i)
	w.set(i, old+v)
	return old
}

// cullKernel is the CPU version of cull.wgsl. Each 32-draw group builds its words in a
// local array and stores them once, like the workgroup does.
func cullKernel(d pipeline.Dispatch) error {
	consts := common.BytesToSlice[GPUCullConstants](d.Buffer(0, 0))
	if len(consts) == 0 {
		return errConstants
	}
	c := consts[0]
	views := common.BytesToSlice[GPUView](d.Buffer(0, 1))
	bounds := common.BytesToSlice[CullingData](d.Buffer(0, 2))
	bitmask := words(d.Buffer(0, 3))

	var layout depthpyramid.Layout
	var pyramid []float32
	if c.OcclusionEnabled != 0 {
		layout = depthpyramid.NewLayout(c.PyramidWidth, c.PyramidHeight)
		pyramid = common.BytesToSlice[float32](d.Buffer(0, 4))
		if uint32(len(pyramid)) < layout.Texels {
			layout = depthpyramid.Layout{}
		}
	}

	numViews := min(c.NumViews, MaxViews, uint32(len(views)))
	groups := d.Workgroups()[0]
	for group := range groups {
		var bits [MaxViews]uint32
		for li := range uint32(cullWorkgroup) {
			i := group*cullWorkgroup + li
			if i >= c.DrawCount || int(i) >= len(bounds) {
				break
			}
			for v := range numViews {
				word := v*c.WordsPerView + group
				if c.Mode == CullStepRefinePrevious && bitmask.get(word)&(1<<li) == 0 {
					continue
				}
				view := &views[v]
				if !InFrustum(view, &bounds[i]) {
					continue
				}
				if c.OcclusionEnabled != 0 && view.Kind != ViewCascade && Occluded(view, &bounds[i], layout, pyramid) {
					continue
				}
				bits[v] |= 1 << li
			}
		}
		for v := range numViews {
			bitmask.set(v*c.WordsPerView+group, bits[v])
		}
	}
	return nil
}

// fillKernel is the CPU version of fill.wgsl. Slots are claimed in draw order.
func fillKernel(d pipeline.Dispatch) error {
	consts := common.BytesToSlice[GPUFillConstants](d.Buffer(0, 0))
	if len(consts) == 0 {
		return errConstants
	}
	c := consts[0]
	draws := d.Buffer(0, 1)
	current := words(d.Buffer(0, 2))
	previous := words(d.Buffer(0, 3))
	compacted := d.Buffer(0, 4)
	counters := words(d.Buffer(0, 5))

	const stride = renderer.IndexedIndirectArgsSize
	n := min(uint64(c.DrawCount), uint64(d.Workgroups()[0])*fillWorkgroup, uint64(len(draws))/stride)
	for i := range uint32(n) {
		word := c.ViewIndex*c.WordsPerView + i/32
		bit := uint32(1) << (i % 32)
		if current.get(word)&bit == 0 {
			continue
		}
		if c.DiffAgainstPrev != 0 && previous.get(word)&bit != 0 {
			continue
		}
		src := draws[uint64(i)*stride : uint64(i+1)*stride]
		indexCount := binary.LittleEndian.Uint32(src[0:])
		instanceCount := binary.LittleEndian.Uint32(src[4:])
		if instanceCount == 0 {
			continue
		}
		slot := counters.add(c.ViewIndex, 1)
		dst := uint64(c.ArgsBase+slot) * stride
		copy(compacted[dst:dst+stride], src)
		counters.add(c.NumViews+c.ViewIndex, indexCount/3*instanceCount)
	}
	return nil
}
