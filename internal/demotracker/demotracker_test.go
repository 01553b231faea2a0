package demotracker

import (
	"encoding/binary"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorImage(w, h int, seq uint64) *posetrack.Image {
	img := posetrack.NewImage(posetrack.FormatRGB888, w, h, w*3, make([]byte, w*h*3), nil)
	img.Seq = seq
	return img
}

func depthImage(w, h int, mm uint16) *posetrack.Image {
	data := make([]byte, w*h*2)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], mm)
	}
	return posetrack.NewImage(posetrack.FormatDepth16, w, h, w*2, data, nil)
}

func newTracker(t *testing.T) (*Runtime, posetrack.Tracker) {
	t.Helper()
	rt := NewRuntime(0, nil)
	require.NoError(t, rt.Init())
	tr, err := rt.NewTracker()
	require.NoError(t, err)
	return rt, tr
}

func TestRuntime_RequiresInit(t *testing.T) {
	rt := NewRuntime(0, nil)
	_, err := rt.NewTracker()
	assert.ErrorIs(t, err, posetrack.ErrTrackerUnavailable)

	require.NoError(t, rt.Init())
	tr, err := rt.NewTracker()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rt.Live())

	require.NoError(t, tr.Release())
	require.NoError(t, tr.Release(), "idempotent")
	assert.Zero(t, rt.Live())
	assert.Equal(t, uint64(1), rt.Created())

	_, err = tr.Process(colorImage(64, 48, 1), nil)
	assert.ErrorIs(t, err, ErrReleased)

	require.NoError(t, rt.Terminate())
	_, err = rt.NewTracker()
	assert.Error(t, err)
}

func TestTracker_Process2D(t *testing.T) {
	_, tr := newTracker(t)

	res, err := tr.Process(colorImage(640, 480, 1), nil)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Len(t, res.ColorBodies, 1)
	assert.Empty(t, res.DepthBodies, "no depth in 2D mode")

	b := res.ColorBodies[0]
	assert.Len(t, b.Joints, posetrack.JointCount)
	assert.InDelta(t, 320, b.Joints[1].X, 0.01, "neck centered")
	assert.InDelta(t, 0.22*480, b.Joints[1].Y, 0.01)
	for i, j := range b.Joints {
		assert.True(t, j.X > 0.1 && j.Y > 0.1, "joint %d inside the frame", i)
	}
}

func TestTracker_MultipleMode(t *testing.T) {
	_, tr := newTracker(t)
	require.NoError(t, tr.SetMode(posetrack.TrackMultiple))

	res, err := tr.Process(colorImage(600, 400, 1), nil)
	require.NoError(t, err)
	require.Len(t, res.ColorBodies, 2)
	assert.Equal(t, 1, res.ColorBodies[0].ID)
	assert.Equal(t, 2, res.ColorBodies[1].ID)
	assert.InDelta(t, 200, res.ColorBodies[0].Joints[1].X, 0.01)
	assert.InDelta(t, 400, res.ColorBodies[1].Joints[1].X, 0.01)
}

func TestTracker_Process3DProjectsBack(t *testing.T) {
	_, tr := newTracker(t)
	calib := streamcapture.DefaultCalibration
	require.NoError(t, tr.SetCalibration(calib))

	res, err := tr.Process(colorImage(640, 480, 3), depthImage(640, 480, 1500))
	require.NoError(t, err)
	require.Len(t, res.DepthBodies, 1)

	for i, j := range res.DepthBodies[0].Joints {
		assert.InDelta(t, 1.5, j.Z, 1e-6)
		c := res.ColorBodies[0].Joints[i]
		x := calib.Cx + calib.Fx*float64(j.X)/float64(j.Z)
		y := calib.Cy + calib.Fy*float64(j.Y)/float64(j.Z)
		assert.InDelta(t, c.X, x, 0.01, "joint %d x", i)
		assert.InDelta(t, c.Y, y, 0.01, "joint %d y", i)
	}
}

func TestTracker_MissingDepthUsesDefault(t *testing.T) {
	_, tr := newTracker(t)
	res, err := tr.Process(colorImage(320, 240, 1), depthImage(160, 120, 0))
	require.NoError(t, err)
	assert.InDelta(t, defaultDepthM, res.DepthBodies[0].Joints[0].Z, 1e-6)
}

func TestTracker_Validation(t *testing.T) {
	_, tr := newTracker(t)

	tests := []struct {
		name  string
		color *posetrack.Image
		depth *posetrack.Image
	}{
		{"nil color", nil, nil},
		{"wrong color format", depthImage(4, 4, 1), nil},
		{"short color data", posetrack.NewImage(posetrack.FormatRGB888, 4, 4, 12, make([]byte, 10), nil), nil},
		{"wrong depth format", colorImage(4, 4, 1), colorImage(4, 4, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Process(tt.color, tt.depth)
			assert.Error(t, err)
		})
	}

	assert.ErrorIs(t, tr.SetSmoothingFactor(11), posetrack.ErrInvalidSmoothing)
	assert.Error(t, tr.SetCalibration(streamcapture.Calibration{}))
}

func TestTracker_Smoothing(t *testing.T) {
	_, raw := newTracker(t)
	_, smoothed := newTracker(t)
	require.NoError(t, smoothed.SetSmoothingFactor(3))

	var rawX, smoothX []float32
	for seq := uint64(1); seq <= 10; seq++ {
		r, err := raw.Process(colorImage(640, 480, seq), nil)
		require.NoError(t, err)
		s, err := smoothed.Process(colorImage(640, 480, seq), nil)
		require.NoError(t, err)
		rawX = append(rawX, r.ColorBodies[0].Joints[7].X)
		smoothX = append(smoothX, s.ColorBodies[0].Joints[7].X)
	}

	assert.Equal(t, rawX[0], smoothX[0], "first frame is not smoothed")
	spread := func(xs []float32) float32 {
		lo, hi := xs[0], xs[0]
		for _, x := range xs {
			lo, hi = min(lo, x), max(hi, x)
		}
		return hi - lo
	}
	assert.Less(t, spread(smoothX), spread(rawX), "wrist swing damped")
	t.Logf("✅ wrist swing raw=%.2fpx smoothed=%.2fpx", spread(rawX), spread(smoothX))
}
