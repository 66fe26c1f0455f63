package depthpyramid

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/pipeline"
)

var errParams = errors.New("depthpyramid: params binding too small")

// f32Buffer views a bound storage buffer as f32 texels without copying.
type f32Buffer []byte

func (b f32Buffer) get(i uint32) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func (b f32Buffer) set(i uint32, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

func readParams(d pipeline.Dispatch) (GPUPyramidParams, Layout, error) {
	params := common.BytesToSlice[GPUPyramidParams](d.Buffer(0, 0))
	if len(params) == 0 {
		return GPUPyramidParams{}, Layout{}, errParams
	}
	p := params[0]
	l := Layout{Width: p.Width, Height: p.Height, Mips: p.Mips, Offsets: p.MipOffsets}
	return p, l, nil
}

// at is Layout.At over the raw buffer.
func (l Layout) at(buf f32Buffer, m, x, y uint32) float32 {
	w, h := l.MipExtent(m)
	if x >= w || y >= h {
		return farLimit
	}
	return buf.get(l.Offsets[m] + y*w + x)
}

func (l Layout) store(buf f32Buffer, m, x, y uint32, v float32) {
	w, h := l.MipExtent(m)
	if m < l.Mips && x < w && y < h {
		buf.set(l.Offsets[m]+y*w+x, v)
	}
}

func (l Layout) reduceQuad(buf f32Buffer, m, x, y uint32) float32 {
	a := min(l.at(buf, m, 2*x, 2*y), l.at(buf, m, 2*x+1, 2*y))
	b := min(l.at(buf, m, 2*x, 2*y+1), l.at(buf, m, 2*x+1, 2*y+1))
	return min(a, b)
}

// copyKernel is the CPU version of copy.wgsl.
func copyKernel(d pipeline.Dispatch) error {
	p, _, err := readParams(d)
	if err != nil {
		return err
	}
	depth, dw, dh := d.Texture(0, 1)
	out := f32Buffer(d.Buffer(0, 2))
	srcW, srcH := min(p.SrcWidth, dw), min(p.SrcHeight, dh)

	for y := uint32(0); y < p.Height; y++ {
		y0 := y * srcH / p.Height
		y1 := min(((y+1)*srcH+p.Height-1)/p.Height, srcH)
		for x := uint32(0); x < p.Width; x++ {
			x0 := x * srcW / p.Width
			x1 := min(((x+1)*srcW+p.Width-1)/p.Width, srcW)
			v := farLimit
			for sy := y0; sy < y1; sy++ {
				for sx := x0; sx < x1; sx++ {
					v = min(v, depth[sy*dw+sx])
				}
			}
			out.set(y*p.Width+x, v)
		}
	}
	return nil
}

// downsampleKernel is the CPU version of downsample.wgsl. Workgroups run one after the
// other in dispatch order, so the last group observes every tile's mips 1..5.
func downsampleKernel(d pipeline.Dispatch) error {
	p, l, err := readParams(d)
	if err != nil {
		return err
	}
	buf := f32Buffer(d.Buffer(0, 1))
	counter := d.Buffer(0, 2)
	groups := d.Workgroups()

	var tile [256]float32
	for gy := uint32(0); gy < groups[1]; gy++ {
		for gx := uint32(0); gx < groups[0]; gx++ {
			for li := uint32(0); li < 256; li++ {
				x, y := gx*16+li%16, gy*16+li/16
				tile[li] = l.reduceQuad(buf, 0, x, y)
				l.store(buf, 1, x, y, tile[li])
			}
			side := uint32(8)
			for m := uint32(2); m <= groupMips; m++ {
				prev := side * 2
				for li := uint32(0); li < side*side; li++ {
					tx, ty := li%side, li/side
					i := 2*ty*prev + 2*tx
					tile[li] = min(min(tile[i], tile[i+1]), min(tile[i+prev], tile[i+prev+1]))
					l.store(buf, m, gx*side+tx, gy*side+ty, tile[li])
				}
				side /= 2
			}

			observed := binary.LittleEndian.Uint32(counter)
			binary.LittleEndian.PutUint32(counter, observed+1)
			if observed != p.GroupsX*p.GroupsY-1 {
				continue
			}
			for m := uint32(groupMips + 1); m < l.Mips; m++ {
				w, h := l.MipExtent(m)
				for i := uint32(0); i < w*h; i++ {
					l.store(buf, m, i%w, i/w, l.reduceQuad(buf, m-1, i%w, i/w))
				}
			}
		}
	}
	return nil
}
