package render

import (
	"encoding/binary"
	"fmt"
)

// FilterByStride compacts rows of width*bpp bytes spaced stride bytes apart,
// in place, and returns the compacted slice.
func FilterByStride(data []byte, width, height, stride, bpp int) ([]byte, error) {
	row := width * bpp
	if stride == row {
		return data[:row*height], nil
	}
	if stride < row || len(data) < stride*(height-1)+row {
		return nil, fmt.Errorf("render: stride %d too small or data short for %dx%d", stride, width, height)
	}
	for y := 1; y < height; y++ {
		copy(data[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return data[:row*height], nil
}

// RGBToRGBA expands RGB888 rows into dst as opaque RGBA. dst must hold
// width*height*4 bytes.
func RGBToRGBA(dst, src []byte, width, height, stride int) {
	for y := 0; y < height; y++ {
		s := src[y*stride:]
		d := dst[y*width*4:]
		for x := 0; x < width; x++ {
			d[x*4+0] = s[x*3+0]
			d[x*4+1] = s[x*3+1]
			d[x*4+2] = s[x*3+2]
			d[x*4+3] = 0xff
		}
	}
}

// DepthColormap renders little-endian 16-bit depth as RGBA using the
// cumulative histogram of non-zero samples: near is bright, far is dark,
// and zero (no reading) is black. Pixels are written as (v, v, 0, 255).
type DepthColormap struct {
	hist []uint32
	lut  []uint8
}

// NewDepthColormap allocates the histogram tables once.
func NewDepthColormap() *DepthColormap {
	return &DepthColormap{
		hist: make([]uint32, 1<<16),
		lut:  make([]uint8, 1<<16),
	}
}

// Apply writes width*height RGBA pixels into dst.
func (m *DepthColormap) Apply(dst, depth []byte, width, height, stride int) {
	m.apply(dst, depth, width, height, stride, 4)
}

// ApplyRGB writes width*height packed RGB888 pixels into dst.
func (m *DepthColormap) ApplyRGB(dst, depth []byte, width, height, stride int) {
	m.apply(dst, depth, width, height, stride, 3)
}

func (m *DepthColormap) apply(dst, depth []byte, width, height, stride, bpp int) {
	clear(m.hist)

	var points uint32
	for y := 0; y < height; y++ {
		row := depth[y*stride:]
		for x := 0; x < width; x++ {
			if v := binary.LittleEndian.Uint16(row[x*2:]); v != 0 {
				m.hist[v]++
				points++
			}
		}
	}

	for i := 1; i < len(m.hist); i++ {
		m.hist[i] += m.hist[i-1]
	}
	m.lut[0] = 0
	for i := 1; i < len(m.lut); i++ {
		if points == 0 {
			m.lut[i] = 0
			continue
		}
		v := 256 * (1 - float64(m.hist[i])/float64(points))
		if v > 255 {
			v = 255
		}
		m.lut[i] = uint8(v)
	}

	for y := 0; y < height; y++ {
		row := depth[y*stride:]
		out := dst[y*width*bpp:]
		for x := 0; x < width; x++ {
			v := m.lut[binary.LittleEndian.Uint16(row[x*2:])]
			px := out[x*bpp:]
			px[0], px[1], px[2] = v, v, 0
			if bpp == 4 {
				px[3] = 0xff
			}
		}
	}
}
