package posetrack

import (
	"errors"
	"fmt"

	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// JointCount is the number of joints per body.
const JointCount = 21

// Smoothing factor bounds accepted by the tracker.
const (
	MinSmoothingFactor = 0
	MaxSmoothingFactor = 10
)

// Sentinel errors
var (
	ErrTrackerUnavailable = errors.New("posetrack: tracking runtime not initialized")
	ErrNotIdle            = errors.New("posetrack: track stage not idle")
	ErrInvalidSmoothing   = errors.New("posetrack: smoothing factor out of range")
)

// TrackMode selects how many bodies the tracker follows.
type TrackMode int

const (
	// TrackSingle follows one body (default)
	TrackSingle TrackMode = iota
	// TrackMultiple follows every visible body
	TrackMultiple
)

// String returns the mode name
func (m TrackMode) String() string {
	switch m {
	case TrackSingle:
		return "single"
	case TrackMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("TrackMode(%d)", int(m))
	}
}

// ParseTrackMode maps "single"/"multiple" (or "0"/"1") to a TrackMode.
func ParseTrackMode(s string) (TrackMode, error) {
	switch s {
	case "single", "0":
		return TrackSingle, nil
	case "multiple", "1":
		return TrackMultiple, nil
	}
	return 0, fmt.Errorf("posetrack: invalid track mode %q", s)
}

// SkeletonMode selects which images the tracker processes and which body
// list the overlay draws.
type SkeletonMode int

const (
	// Skeleton2D processes color only and draws color-space joints (default)
	Skeleton2D SkeletonMode = iota
	// Skeleton3D processes color and depth and draws projected depth-space joints
	Skeleton3D
)

// String returns the mode name
func (m SkeletonMode) String() string {
	switch m {
	case Skeleton2D:
		return "2d"
	case Skeleton3D:
		return "3d"
	default:
		return fmt.Sprintf("SkeletonMode(%d)", int(m))
	}
}

// ParseSkeletonMode maps "2d"/"3d" (or "0"/"1") to a SkeletonMode.
func ParseSkeletonMode(s string) (SkeletonMode, error) {
	switch s {
	case "2d", "2D", "0":
		return Skeleton2D, nil
	case "3d", "3D", "1":
		return Skeleton3D, nil
	}
	return 0, fmt.Errorf("posetrack: invalid skeleton mode %q", s)
}

// Joint is one body joint. In color space X and Y are pixels; in depth space
// X, Y and Z are millimetres. Score is the detection confidence.
type Joint struct {
	X, Y, Z float32
	Score   float32
}

// Body is one tracked person.
type Body struct {
	ID     int
	Joints []Joint
}

// Result is the tracker output for one image pair.
//
// A valid result owns the color image it was computed from; Release frees it.
type Result struct {
	ColorBodies []Body
	DepthBodies []Body
	Color       *Image
	Valid       bool
}

// Bodies returns the body list drawn for the skeleton mode.
func (r *Result) Bodies(mode SkeletonMode) []Body {
	if mode == Skeleton3D {
		return r.DepthBodies
	}
	return r.ColorBodies
}

// Release frees the result's color image. Idempotent.
func (r *Result) Release() {
	if r == nil {
		return
	}
	r.Color.Release()
}

// Tracker is one tracking instance. It is not reentrant: the track stage
// serializes every call.
type Tracker interface {
	SetCalibration(c streamcapture.Calibration) error
	SetMode(m TrackMode) error
	SetSmoothingFactor(f float32) error
	// Process runs tracking. depth is nil in 2D skeleton mode. A result
	// with Valid false carries nothing to draw.
	Process(color, depth *Image) (*Result, error)
	Release() error
}

// Runtime is the tracking library (license and context).
type Runtime interface {
	Init() error
	Terminate() error
	NewTracker() (Tracker, error)
}

// FrameRenderer is the direct render path used while tracking is disabled.
type FrameRenderer interface {
	// Enabled reports whether drawing is on
	Enabled() bool
	// DrawFrame renders a color frame and takes ownership of its buffer
	DrawFrame(f *streamcapture.Frame)
}

// ResultRenderer draws tracking results. It does not take ownership of the
// result.
type ResultRenderer interface {
	Enabled() bool
	DrawResult(res *Result, calib streamcapture.Calibration, mode SkeletonMode)
}
