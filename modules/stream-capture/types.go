package streamcapture

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

// FPS is the frame rate requested for both streams.
const FPS = 30

// Depth stream geometry. Depth is always captured at VGA, whatever the color
// resolution.
const (
	DepthWidth  = 640
	DepthHeight = 480
)

// Resolution is an index into ResolutionList.
type Resolution int

const (
	// Res480p represents 640x480 (VGA, default)
	Res480p Resolution = iota
	// Res720p represents 1280x720 (HD)
	Res720p
	// Res1080p represents 1920x1080 (Full HD)
	Res1080p
)

// ResolutionList holds the selectable color resolutions, by Resolution index.
var ResolutionList = [...][2]int{
	{640, 480},
	{1280, 720},
	{1920, 1080},
}

// Valid reports whether r indexes ResolutionList.
func (r Resolution) Valid() bool {
	return r >= 0 && int(r) < len(ResolutionList)
}

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	if !r.Valid() {
		return 0, 0
	}
	return ResolutionList[r][0], ResolutionList[r][1]
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// ParseResolution maps "480p", "720p", "1080p" (or the index "0", "1", "2")
// to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "480p", "0":
		return Res480p, nil
	case "720p", "1":
		return Res720p, nil
	case "1080p", "2":
		return Res1080p, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
}

// PixelFormat identifies the layout of a stream's pixels.
type PixelFormat int

const (
	// FormatRGB888 is packed 8-bit RGB, 3 bytes per pixel
	FormatRGB888 PixelFormat = iota
	// FormatY16 is 16-bit little-endian depth, 2 bytes per pixel
	FormatY16
)

// String returns the format name
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB888:
		return "RGB888"
	case FormatY16:
		return "Y16"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the packed pixel size.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatY16 {
		return 2
	}
	return 3
}

// Frame is one image copied out of a frame-set into a pooled buffer.
//
// Rotation mutates a Frame in place: dimensions swap, the stride is
// recomputed and Buffer is replaced. Consumers only ever observe a Frame
// before or after a rotation, never during.
type Frame struct {
	// Seq is the monotonic sequence number of the frame-set
	Seq uint64
	// TraceID is a unique identifier shared by both frames of a pair
	TraceID string
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Kind is the channel (color or depth)
	Kind framepool.Channel
	// Stride is the row size in bytes (color = Width*3, depth = Width*2)
	Stride int
	// Buffer holds the pixel bytes; owned by whoever holds the Frame
	Buffer *framepool.Buffer
	// Timestamp is the device capture timestamp; non-zero when valid
	Timestamp uint64
	// CapturedAt is the host time the frame-set was copied
	CapturedAt time.Time
}

// Data returns the pixel bytes.
func (f *Frame) Data() []byte {
	if f == nil || f.Buffer == nil {
		return nil
	}
	return f.Buffer.Bytes()
}

// Recycle returns the frame buffer to the pool and detaches it from the frame.
func (f *Frame) Recycle(pool *framepool.Pool) {
	if f == nil || f.Buffer == nil {
		return
	}
	pool.Recycle(f.Buffer)
	f.Buffer = nil
}

// FramePair is a co-arrived color and depth frame.
type FramePair struct {
	Color *Frame
	Depth *Frame
}

// Valid reports whether both frames are present with a source timestamp.
func (p FramePair) Valid() bool {
	return p.Color != nil && p.Depth != nil &&
		p.Color.Timestamp != 0 && p.Depth.Timestamp != 0
}

// Recycle returns both buffers to the pool.
func (p FramePair) Recycle(pool *framepool.Pool) {
	p.Color.Recycle(pool)
	p.Depth.Recycle(pool)
}

// StreamProfile describes one stream mode offered by a source.
type StreamProfile struct {
	Kind   framepool.Channel
	Width  int
	Height int
	Format PixelFormat
	FPS    int
}

// String returns a compact profile description for logs
func (p StreamProfile) String() string {
	return fmt.Sprintf("%s %dx%d %s@%d", p.Kind, p.Width, p.Height, p.Format, p.FPS)
}

// AlignMode selects depth-to-color alignment.
type AlignMode int

const (
	// AlignDisabled leaves depth in its own camera space
	AlignDisabled AlignMode = iota
	// AlignD2CHardware aligns depth to color in the device
	AlignD2CHardware
)

// StreamConfig is the set of streams requested from a source.
type StreamConfig struct {
	Align AlignMode
	Color *StreamProfile
	Depth *StreamProfile
}

// EnableStream adds (or replaces) the stream for the profile's channel.
func (c *StreamConfig) EnableStream(p StreamProfile) {
	profile := p
	switch p.Kind {
	case framepool.Depth:
		c.Depth = &profile
	default:
		c.Color = &profile
	}
}

// Intrinsic holds pinhole parameters of one camera.
type Intrinsic struct {
	Fx, Fy float64
	Cx, Cy float64
	Width  int
	Height int
}

// CameraParam holds the intrinsics reported by a source.
type CameraParam struct {
	Color Intrinsic
	Depth Intrinsic
}

// Stats contains current capture statistics
type Stats struct {
	// FrameSets is the number of frame-sets received from the source
	FrameSets uint64
	// Forwarded is the number of pairs handed to the frame handler
	Forwarded uint64
	// Invalid is the number of frame-sets skipped for a missing frame or timestamp
	Invalid uint64
	// DroppedReconfig is the number of frame-sets dropped while switching config
	DroppedReconfig uint64
	// QueueEvicted is the number of frame-sets replaced by a newer one
	QueueEvicted uint64
	// FrameRate is the windowed capture rate
	FrameRate float64
	// RotateTimeMS is the windowed rotation time
	RotateTimeMS float64
	// Resolution is the color resolution
	Resolution string
	// IsConnected indicates if a source is attached and streaming
	IsConnected bool
}
