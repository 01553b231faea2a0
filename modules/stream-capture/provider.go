package streamcapture

import (
	"errors"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

// Sentinel errors returned by the capture stage and sources.
var (
	ErrNotStarted          = errors.New("stream-capture: stream not started")
	ErrAlreadyStarted      = errors.New("stream-capture: stream already started")
	ErrNotInitialized      = errors.New("stream-capture: device not initialized")
	ErrInvalidResolution   = errors.New("stream-capture: invalid resolution index")
	ErrProfileUnavailable  = errors.New("stream-capture: stream profile unavailable")
	ErrPropertyUnsupported = errors.New("stream-capture: property not supported")
)

// Property is a boolean device option set at initialization.
type Property int

const (
	// PropColorAutoExposurePriority lets exposure lower the color frame rate
	PropColorAutoExposurePriority Property = iota
	// PropColorMirror mirrors the color image in the device
	PropColorMirror
	// PropDepthMirror mirrors the depth image in the device
	PropDepthMirror
)

// String returns the property name
func (p Property) String() string {
	switch p {
	case PropColorAutoExposurePriority:
		return "color_auto_exposure_priority"
	case PropColorMirror:
		return "color_mirror"
	case PropDepthMirror:
		return "depth_mirror"
	default:
		return "unknown"
	}
}

// SubFrame is one image inside a frame-set. Data is owned by the source and
// only valid until the frame-set is closed.
type SubFrame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp uint64
	Data      []byte
}

// FrameSet is a group of co-arrived frames delivered by a source.
//
// The receiver must Close it exactly once; Close is idempotent so the
// capture mailbox and the worker may both call it safely.
type FrameSet struct {
	Color *SubFrame
	Depth *SubFrame

	release func()
	closed  atomic.Bool
}

// NewFrameSet wraps sub-frames; release (optional) runs on the first Close.
func NewFrameSet(color, depth *SubFrame, release func()) *FrameSet {
	return &FrameSet{Color: color, Depth: depth, release: release}
}

// Close returns the frame-set to the source.
func (fs *FrameSet) Close() {
	if fs == nil || !fs.closed.CompareAndSwap(false, true) {
		return
	}
	if fs.release != nil {
		fs.release()
	}
}

// Closed reports whether Close was called.
func (fs *FrameSet) Closed() bool {
	return fs != nil && fs.closed.Load()
}

// FrameSetCallback receives frame-sets on the source's own goroutine.
// It must not block.
type FrameSetCallback func(fs *FrameSet)

// Source defines the contract for a synchronized color+depth device.
//
// Implementations must guarantee:
//   - Start() returns immediately; frame-sets arrive on the callback
//   - the callback is never invoked after Stop() returns
//   - Stop() and Close() are idempotent
//   - SwitchConfig() keeps the stream running
type Source interface {
	// Name identifies the source in logs
	Name() string

	// StreamProfiles lists the modes offered for a channel.
	StreamProfiles(kind framepool.Channel) ([]StreamProfile, error)

	// Start begins streaming with cfg, delivering frame-sets to cb.
	Start(cfg StreamConfig, cb FrameSetCallback) error

	// Stop ends streaming.
	Stop() error

	// SwitchConfig changes stream modes without a restart.
	SwitchConfig(cfg StreamConfig) error

	// CameraParam returns the current intrinsics, or nil when unknown.
	CameraParam() *CameraParam

	// SetBool sets a device option. Unsupported options return
	// ErrPropertyUnsupported.
	SetBool(prop Property, v bool) error

	// EnableFrameSync asks the device to pair color and depth by timestamp.
	EnableFrameSync() error

	// Close releases the device.
	Close() error
}

// DeviceListener receives hot-plug notifications.
type DeviceListener interface {
	OnAttached(src Source)
	OnDetached()
}

// DeviceWatcher reports device attach and detach to a listener.
//
// Watch returns immediately; notifications arrive on the watcher's own
// goroutine. Close stops watching without notifying the listener; releasing
// an attached source is the listener's job.
type DeviceWatcher interface {
	Watch(l DeviceListener) error
	Close() error
}

// FindProfile returns the first profile matching the geometry, format and rate.
func FindProfile(profiles []StreamProfile, width, height int, format PixelFormat, fps int) (StreamProfile, bool) {
	for _, p := range profiles {
		if p.Width == width && p.Height == height && p.Format == format && p.FPS == fps {
			return p, true
		}
	}
	return StreamProfile{}, false
}
