package streamcapture

import (
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

// Rotation is the orientation applied to captured frames.
type Rotation int

const (
	// RotateDisable keeps the sensor orientation
	RotateDisable Rotation = iota
	// Rotate90Clockwise rotates frames 90 degrees clockwise
	Rotate90Clockwise
	// Rotate90CounterClockwise rotates frames 90 degrees counter-clockwise
	Rotate90CounterClockwise
)

// String returns a human-readable string representation of the rotation
func (r Rotation) String() string {
	switch r {
	case RotateDisable:
		return "disable"
	case Rotate90Clockwise:
		return "cw"
	case Rotate90CounterClockwise:
		return "ccw"
	default:
		return fmt.Sprintf("Rotation(%d)", int(r))
	}
}

// Valid reports whether r is a known rotation.
func (r Rotation) Valid() bool {
	return r >= RotateDisable && r <= Rotate90CounterClockwise
}

// ParseRotation maps "disable", "cw", "ccw" (or 0, 1, 2) to a Rotation.
func ParseRotation(s string) (Rotation, error) {
	switch s {
	case "", "disable", "none", "0":
		return RotateDisable, nil
	case "cw", "90", "1":
		return Rotate90Clockwise, nil
	case "ccw", "-90", "270", "2":
		return Rotate90CounterClockwise, nil
	default:
		return RotateDisable, fmt.Errorf("stream-capture: unknown rotation %q", s)
	}
}

// Transform rotates and optionally mirrors the frame in place.
//
// The result is written into a scratch buffer acquired from pool; the old
// buffer is recycled and replaced. Width and height swap for 90 degree
// rotations and the stride is recomputed as a packed row. Flip mirrors
// horizontally after the rotation.
func (f *Frame) Transform(pool *framepool.Pool, r Rotation, flip bool) {
	if f == nil || f.Buffer == nil || (r == RotateDisable && !flip) {
		return
	}

	bpp := f.Kind.BytesPerPixel()
	src := f.Buffer.Bytes()
	w, h := f.Width, f.Height
	stride := f.Stride
	if stride < w*bpp {
		stride = w * bpp
	}
	if len(src) < stride*(h-1)+w*bpp {
		return
	}

	dstW, dstH := w, h
	if r != RotateDisable {
		dstW, dstH = h, w
	}
	dstStride := dstW * bpp

	scratch := pool.Acquire(f.Kind, f.Buffer.Cap())
	dst := scratch.Resize(dstStride * dstH)

	for y := 0; y < h; y++ {
		row := src[y*stride : y*stride+w*bpp]
		for x := 0; x < w; x++ {
			var dx, dy int
			switch r {
			case Rotate90Clockwise:
				dx, dy = h-1-y, x
			case Rotate90CounterClockwise:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			if flip {
				dx = dstW - 1 - dx
			}
			copy(dst[dy*dstStride+dx*bpp:dy*dstStride+dx*bpp+bpp], row[x*bpp:x*bpp+bpp])
		}
	}

	pool.Recycle(f.Buffer)
	f.Buffer = scratch
	f.Width, f.Height = dstW, dstH
	f.Stride = dstStride
}
