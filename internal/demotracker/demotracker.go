// Package demotracker is a deterministic stand-in for the vendor pose
// tracking runtime.
//
// It validates the images it receives like a real tracker would, optionally
// sleeps to simulate inference latency, and reports a walking stick figure
// (one body, or two in multiple mode) anchored to the color image. In 3D mode
// joints are back-projected with the calibration using the depth image.
package demotracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// ErrReleased is returned by a tracker used after Release.
var ErrReleased = errors.New("demotracker: tracker released")

// defaultDepthM is used where the depth image has no reading.
const defaultDepthM = 2.0

// template is the figure in units of frame height, x relative to the body
// center and y from the top of the frame.
var template = [posetrack.JointCount][2]float64{
	{0, 0.12},       // nose
	{0, 0.22},       // neck
	{0, 0.50},       // pelvis
	{-0.09, 0.23},   // right shoulder
	{0.09, 0.23},    // left shoulder
	{-0.13, 0.36},   // right elbow
	{0.13, 0.36},    // left elbow
	{-0.15, 0.48},   // right wrist
	{0.15, 0.48},    // left wrist
	{-0.06, 0.50},   // right hip
	{0.06, 0.50},    // left hip
	{-0.07, 0.70},   // right knee
	{0.07, 0.70},    // left knee
	{-0.07, 0.88},   // right ankle
	{0.07, 0.88},    // left ankle
	{-0.02, 0.105},  // right eye
	{0.02, 0.105},   // left eye
	{-0.04, 0.115},  // right ear
	{0.04, 0.115},   // left ear
	{-0.09, 0.92},   // right toe
	{0.09, 0.92},    // left toe
}

// Runtime creates demo trackers.
type Runtime struct {
	latency time.Duration
	logger  *slog.Logger

	initialized atomic.Bool
	created     atomic.Uint64
	live        atomic.Int64
}

// NewRuntime creates a runtime whose trackers take latency per Process call.
func NewRuntime(latency time.Duration, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{latency: latency, logger: logger.With("component", "demotracker")}
}

// Init marks the runtime usable
func (r *Runtime) Init() error {
	r.initialized.Store(true)
	r.logger.Info("Demo tracking runtime initialized", "latency", r.latency)
	return nil
}

// Terminate marks the runtime unusable
func (r *Runtime) Terminate() error {
	r.initialized.Store(false)
	r.logger.Info("Demo tracking runtime terminated", "trackers_created", r.created.Load())
	return nil
}

// NewTracker creates a tracker with default settings.
func (r *Runtime) NewTracker() (posetrack.Tracker, error) {
	if !r.initialized.Load() {
		return nil, posetrack.ErrTrackerUnavailable
	}
	id := r.created.Add(1)
	r.live.Add(1)
	return &Tracker{
		id:          id,
		runtime:     r,
		calibration: streamcapture.DefaultCalibration,
	}, nil
}

// Live returns the number of trackers not yet released.
func (r *Runtime) Live() int64 { return r.live.Load() }

// Created returns the number of trackers created so far.
func (r *Runtime) Created() uint64 { return r.created.Load() }

// Tracker produces the demo figure. Not reentrant, like the real one.
type Tracker struct {
	id      uint64
	runtime *Runtime

	mu          sync.Mutex
	calibration streamcapture.Calibration
	mode        posetrack.TrackMode
	smoothing   float32
	prev        map[int][]posetrack.Joint
	frames      uint64
	released    bool
}

// SetCalibration sets the intrinsics used for 3D joints.
func (t *Tracker) SetCalibration(c streamcapture.Calibration) error {
	if c.Fx <= 0 || c.Fy <= 0 {
		return fmt.Errorf("demotracker: invalid focal length %vx%v", c.Fx, c.Fy)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calibration = c
	return nil
}

// SetMode selects one or two bodies.
func (t *Tracker) SetMode(m posetrack.TrackMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = m
	t.prev = nil
	return nil
}

// SetSmoothingFactor sets how strongly joints follow their previous
// position: 0 disables smoothing.
func (t *Tracker) SetSmoothingFactor(f float32) error {
	if f < posetrack.MinSmoothingFactor || f > posetrack.MaxSmoothingFactor {
		return fmt.Errorf("%w: %v", posetrack.ErrInvalidSmoothing, f)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.smoothing = f
	return nil
}

// Process validates the images and reports the figure.
func (t *Tracker) Process(color, depth *posetrack.Image) (*posetrack.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return nil, ErrReleased
	}
	if err := validate(color, posetrack.FormatRGB888, 3); err != nil {
		return nil, err
	}
	if depth != nil {
		if err := validate(depth, posetrack.FormatDepth16, 2); err != nil {
			return nil, err
		}
	}

	if t.runtime.latency > 0 {
		time.Sleep(t.runtime.latency)
	}
	t.frames++

	centers := []float64{0.5}
	if t.mode == posetrack.TrackMultiple {
		centers = []float64{1.0 / 3, 2.0 / 3}
	}

	res := &posetrack.Result{Valid: true}
	for i, c := range centers {
		id := i + 1
		joints := t.smooth(id, figure(color.Width, color.Height, c, color.Seq+uint64(i)*7))
		res.ColorBodies = append(res.ColorBodies, posetrack.Body{ID: id, Joints: joints})
		if depth != nil {
			res.DepthBodies = append(res.DepthBodies, posetrack.Body{
				ID:     id,
				Joints: t.backProject(joints, color, depth),
			})
		}
	}
	return res, nil
}

// Release frees the tracker. Idempotent.
func (t *Tracker) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	t.runtime.live.Add(-1)
	t.runtime.logger.Debug("Tracker released", "tracker", t.id, "frames", t.frames)
	return nil
}

func validate(img *posetrack.Image, format posetrack.ImageFormat, bpp int) error {
	if img == nil {
		return fmt.Errorf("demotracker: missing %s image", format)
	}
	if img.Format != format {
		return fmt.Errorf("demotracker: expected %s image, got %s", format, img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("demotracker: invalid image dimensions: %dx%d", img.Width, img.Height)
	}
	if img.Stride < img.Width*bpp || len(img.Data) < img.Stride*(img.Height-1)+img.Width*bpp {
		return fmt.Errorf("demotracker: invalid %s data size: got %d bytes for %dx%d stride %d",
			format, len(img.Data), img.Width, img.Height, img.Stride)
	}
	return nil
}

// figure lays the template out around center (fraction of the width), with
// the arms swinging by phase.
func figure(w, h int, center float64, phase uint64) []posetrack.Joint {
	fh := float64(h)
	swing := 0.04 * math.Sin(float64(phase)*0.2)

	joints := make([]posetrack.Joint, posetrack.JointCount)
	for i, p := range template {
		dx := p[0]
		switch i {
		case 5, 7:
			dx -= swing
		case 6, 8:
			dx += swing
		}
		joints[i] = posetrack.Joint{
			X:     float32(center*float64(w) + dx*fh),
			Y:     float32(p[1] * fh),
			Score: 0.9,
		}
	}
	return joints
}

// smooth blends joints with the previous output of the same body.
func (t *Tracker) smooth(id int, joints []posetrack.Joint) []posetrack.Joint {
	if t.prev == nil {
		t.prev = make(map[int][]posetrack.Joint)
	}
	prev, ok := t.prev[id]
	if ok && t.smoothing > 0 {
		alpha := 1 / (1 + t.smoothing)
		for i := range joints {
			joints[i].X = prev[i].X + alpha*(joints[i].X-prev[i].X)
			joints[i].Y = prev[i].Y + alpha*(joints[i].Y-prev[i].Y)
		}
	}
	t.prev[id] = append(prev[:0], joints...)
	return joints
}

// backProject lifts color joints to camera space using the depth at the
// matching depth pixel.
func (t *Tracker) backProject(joints []posetrack.Joint, color, depth *posetrack.Image) []posetrack.Joint {
	c := t.calibration
	out := make([]posetrack.Joint, len(joints))
	for i, j := range joints {
		dx := int(float64(j.X) * float64(depth.Width) / float64(color.Width))
		dy := int(float64(j.Y) * float64(depth.Height) / float64(color.Height))

		z := defaultDepthM
		if dx >= 0 && dx < depth.Width && dy >= 0 && dy < depth.Height {
			if mm := binary.LittleEndian.Uint16(depth.Data[dy*depth.Stride+dx*2:]); mm != 0 {
				z = float64(mm) / 1000
			}
		}

		out[i] = posetrack.Joint{
			X:     float32((float64(j.X) - c.Cx) * z / c.Fx),
			Y:     float32((float64(j.Y) - c.Cy) * z / c.Fy),
			Z:     float32(z),
			Score: j.Score,
		}
	}
	return out
}
