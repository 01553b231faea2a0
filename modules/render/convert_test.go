package render

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByStride(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		width  int
		height int
		stride int
		want   []byte
	}{
		{
			name: "packed rows untouched",
			data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			width: 2, height: 2, stride: 6,
			want: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		},
		{
			name: "padding stripped",
			data: []byte{1, 2, 3, 4, 5, 6, 0, 0, 7, 8, 9, 10, 11, 12, 0, 0},
			width: 2, height: 2, stride: 8,
			want: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		},
		{
			name: "last row without padding",
			data: []byte{1, 2, 3, 9, 4, 5, 6, 9, 7, 8, 9},
			width: 1, height: 3, stride: 4,
			want: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilterByStride(tt.data, tt.width, tt.height, tt.stride, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, &tt.data[0], &got[0], "compacted in place")
		})
	}
}

func TestFilterByStride_Invalid(t *testing.T) {
	_, err := FilterByStride(make([]byte, 12), 2, 2, 4, 3)
	assert.Error(t, err, "stride below row size")

	_, err = FilterByStride(make([]byte, 10), 2, 2, 8, 3)
	assert.Error(t, err, "data too short")
}

func TestRGBToRGBA(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 0xAA, 0xAA}
	dst := make([]byte, 8)

	RGBToRGBA(dst, src, 2, 1, 8)

	assert.Equal(t, []byte{1, 2, 3, 255, 4, 5, 6, 255}, dst)
}

func depthBytes(values ...uint16) []byte {
	b := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

func TestDepthColormap(t *testing.T) {
	depth := depthBytes(0, 100, 200, 200)
	m := NewDepthColormap()

	rgba := make([]byte, 4*4)
	m.Apply(rgba, depth, 4, 1, 8)

	// 3 valid samples: cdf(100)=1/3, cdf(200)=1
	assert.Equal(t, []byte{
		0, 0, 0, 255,
		170, 170, 0, 255,
		0, 0, 0, 255,
		0, 0, 0, 255,
	}, rgba)

	rgb := make([]byte, 4*3)
	m.ApplyRGB(rgb, depth, 4, 1, 8)
	assert.Equal(t, []byte{0, 0, 0, 170, 170, 0, 0, 0, 0, 0, 0, 0}, rgb)
}

func TestDepthColormap_NearIsBrighter(t *testing.T) {
	depth := depthBytes(500, 1000, 1500, 2000, 0, 0)
	m := NewDepthColormap()
	out := make([]byte, 6*3)

	m.ApplyRGB(out, depth, 3, 2, 6)

	for i := 1; i < 4; i++ {
		assert.Greater(t, out[(i-1)*3], out[i*3], "pixel %d", i)
	}
	assert.Zero(t, out[4*3], "no reading stays black")
	t.Logf("✅ colormap values: %d %d %d %d", out[0], out[3], out[6], out[9])
}

func TestDepthColormap_AllZero(t *testing.T) {
	m := NewDepthColormap()
	out := make([]byte, 2*4)
	m.Apply(out, depthBytes(0, 0), 2, 1, 4)
	assert.Equal(t, []byte{0, 0, 0, 255, 0, 0, 0, 255}, out)
}
