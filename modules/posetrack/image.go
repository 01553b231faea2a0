package posetrack

import (
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// ImageFormat identifies the pixel layout handed to the tracker.
type ImageFormat int

const (
	// FormatRGB888 is packed 8-bit RGB (3 bytes per pixel)
	FormatRGB888 ImageFormat = iota
	// FormatDepth16 is little-endian 16-bit depth in millimetres
	FormatDepth16
)

// String returns the format name
func (f ImageFormat) String() string {
	switch f {
	case FormatRGB888:
		return "RGB888"
	case FormatDepth16:
		return "DEPTH16"
	default:
		return "unknown"
	}
}

// Image is a processing-ready image handle.
//
// Images own their pixels (they never alias pooled frame buffers) so the
// capture buffers can return to the pool as soon as the image exists.
// Release is idempotent; the optional release hook runs once.
type Image struct {
	Format    ImageFormat
	Width     int
	Height    int
	Stride    int
	Data      []byte
	Timestamp uint64
	Seq       uint64
	TraceID   string

	release  func()
	released atomic.Bool
}

// NewImage wraps pixel data. release (optional) runs on the first Release.
func NewImage(format ImageFormat, width, height, stride int, data []byte, release func()) *Image {
	return &Image{
		Format:  format,
		Width:   width,
		Height:  height,
		Stride:  stride,
		Data:    data,
		release: release,
	}
}

// NewImageFromFrame copies a captured frame into a new image.
func NewImageFromFrame(f *streamcapture.Frame) *Image {
	format := FormatRGB888
	if f.Kind == framepool.Depth {
		format = FormatDepth16
	}

	data := make([]byte, len(f.Data()))
	copy(data, f.Data())

	img := NewImage(format, f.Width, f.Height, f.Stride, data, nil)
	img.Timestamp = f.Timestamp
	img.Seq = f.Seq
	img.TraceID = f.TraceID
	return img
}

// Release frees the image.
func (img *Image) Release() {
	if img == nil || !img.released.CompareAndSwap(false, true) {
		return
	}
	if img.release != nil {
		img.release()
	}
	img.Data = nil
}

// Released reports whether Release was called.
func (img *Image) Released() bool {
	return img != nil && img.released.Load()
}

// ImagePair is the color and depth image built from one frame pair.
type ImagePair struct {
	Color *Image
	Depth *Image
}

// Release frees both images.
func (p ImagePair) Release() {
	p.Color.Release()
	p.Depth.Release()
}
