package streamcapture

import (
	"bytes"
	"testing"
	"testing/quick"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

func newTestFrame(pool *framepool.Pool, kind framepool.Channel, w, h int) *Frame {
	bpp := kind.BytesPerPixel()
	buf := pool.Acquire(kind, w*h*bpp)
	data := buf.Resize(w * h * bpp)
	for i := range data {
		data[i] = byte(i*7 + i/3)
	}
	return &Frame{Width: w, Height: h, Kind: kind, Stride: w * bpp, Buffer: buf, Timestamp: 1}
}

func pixel(f *Frame, x, y int) []byte {
	bpp := f.Kind.BytesPerPixel()
	off := y*f.Stride + x*bpp
	return f.Data()[off : off+bpp]
}

func TestTransform_ClockwiseMapping(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	f := newTestFrame(pool, framepool.Color, 4, 3)
	orig := append([]byte(nil), f.Data()...)
	at := func(x, y int) []byte {
		off := (y*4 + x) * 3
		return orig[off : off+3]
	}

	f.Transform(pool, Rotate90Clockwise, false)

	if f.Width != 3 || f.Height != 4 || f.Stride != 9 {
		t.Fatalf("dims after CW = %dx%d stride %d, want 3x4 stride 9", f.Width, f.Height, f.Stride)
	}
	// Source (x, y) lands at (h-1-y, x).
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if !bytes.Equal(pixel(f, 3-1-y, x), at(x, y)) {
				t.Fatalf("pixel (%d,%d) misplaced after CW", x, y)
			}
		}
	}
	t.Logf("✅ CW maps (x,y) → (h-1-y, x)")
}

func TestTransform_CounterClockwiseMapping(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	f := newTestFrame(pool, framepool.Depth, 5, 2)
	orig := append([]byte(nil), f.Data()...)

	f.Transform(pool, Rotate90CounterClockwise, false)

	if f.Width != 2 || f.Height != 5 || f.Stride != 4 {
		t.Fatalf("dims after CCW = %dx%d stride %d, want 2x5 stride 4", f.Width, f.Height, f.Stride)
	}
	// Source (x, y) lands at (y, w-1-x).
	for y := 0; y < 2; y++ {
		for x := 0; x < 5; x++ {
			off := (y*5 + x) * 2
			if !bytes.Equal(pixel(f, y, 5-1-x), orig[off:off+2]) {
				t.Fatalf("pixel (%d,%d) misplaced after CCW", x, y)
			}
		}
	}
}

// Property: CW followed by CCW restores width, height, stride and content.
func TestTransform_RoundTripRestores(t *testing.T) {
	pool := framepool.New(framepool.Config{})

	property := func(w8, h8 uint8, depth bool) bool {
		w, h := int(w8%32)+1, int(h8%32)+1
		kind := framepool.Color
		if depth {
			kind = framepool.Depth
		}
		f := newTestFrame(pool, kind, w, h)
		orig := append([]byte(nil), f.Data()...)
		stride := f.Stride

		f.Transform(pool, Rotate90Clockwise, false)
		f.Transform(pool, Rotate90CounterClockwise, false)

		ok := f.Width == w && f.Height == h && f.Stride == stride && bytes.Equal(f.Data(), orig)
		f.Recycle(pool)
		return ok
	}

	if err := quick.Check(property, nil); err != nil {
		t.Fatal(err)
	}
	t.Logf("✅ CW∘CCW is identity on dims, stride and content")
}

func TestTransform_FlipAfterRotation(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	f := newTestFrame(pool, framepool.Color, 3, 2)
	orig := append([]byte(nil), f.Data()...)

	f.Transform(pool, RotateDisable, true)

	if f.Width != 3 || f.Height != 2 {
		t.Fatalf("flip changed dims to %dx%d", f.Width, f.Height)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			off := (y*3 + x) * 3
			if !bytes.Equal(pixel(f, 2-x, y), orig[off:off+3]) {
				t.Fatalf("pixel (%d,%d) not mirrored", x, y)
			}
		}
	}

	// Flipping twice restores the frame.
	f.Transform(pool, RotateDisable, true)
	if !bytes.Equal(f.Data(), orig) {
		t.Fatal("double flip did not restore content")
	}
}

func TestTransform_RecyclesOldBuffer(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	f := newTestFrame(pool, framepool.Color, 8, 4)
	old := f.Buffer

	f.Transform(pool, Rotate90Clockwise, false)

	if f.Buffer == old {
		t.Fatal("buffer not swapped")
	}
	if got := pool.Stats(framepool.Color).Idle; got != 1 {
		t.Errorf("idle buffers = %d, want 1 (old buffer recycled)", got)
	}
}

func TestTransform_DisabledIsNoop(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	f := newTestFrame(pool, framepool.Color, 4, 4)
	buf := f.Buffer

	f.Transform(pool, RotateDisable, false)

	if f.Buffer != buf || f.Width != 4 {
		t.Fatal("disabled rotation touched the frame")
	}
}

func TestParseRotation(t *testing.T) {
	tests := []struct {
		in      string
		want    Rotation
		wantErr bool
	}{
		{"", RotateDisable, false},
		{"disable", RotateDisable, false},
		{"cw", Rotate90Clockwise, false},
		{"1", Rotate90Clockwise, false},
		{"ccw", Rotate90CounterClockwise, false},
		{"2", Rotate90CounterClockwise, false},
		{"upside-down", RotateDisable, true},
	}

	for _, tt := range tests {
		got, err := ParseRotation(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRotation(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"480p", Res480p, false},
		{"1", Res720p, false},
		{"1080p", Res1080p, false},
		{"512p", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseResolution(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseResolution(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
