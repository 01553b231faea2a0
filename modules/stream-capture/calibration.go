package streamcapture

import (
	"log/slog"
	"math"
)

// DepthUnit is the depth value scale.
type DepthUnit int

const (
	// DepthUnit1mm means one depth unit per millimetre
	DepthUnit1mm DepthUnit = 1
)

// Calibration carries the depth camera intrinsics and stream geometry the
// tracker and the 3D overlay need.
type Calibration struct {
	Fx, Fy      float64
	Cx, Cy      float64
	ColorWidth  int
	ColorHeight int
	DepthWidth  int
	DepthHeight int
	DepthUnit   DepthUnit
}

// DefaultCalibration is used when the source reports no usable intrinsics.
var DefaultCalibration = Calibration{
	Fx: 572.08369, Fy: 575.66128,
	Cx: 320, Cy: 240,
	ColorWidth: 640, ColorHeight: 480,
	DepthWidth: 640, DepthHeight: 480,
	DepthUnit: DepthUnit1mm,
}

// DefaultRotatedCalibration is DefaultCalibration for a 90 degree rotation.
var DefaultRotatedCalibration = Calibration{
	Fx: 575.66128, Fy: 572.08369,
	Cx: 240, Cy: 320,
	ColorWidth: 480, ColorHeight: 640,
	DepthWidth: 480, DepthHeight: 640,
	DepthUnit: DepthUnit1mm,
}

// ComputeCalibration derives the calibration from the camera parameters.
//
// Rotated swaps fx/fy, cx/cy and every width/height. A nil param, or focal
// lengths and principal point that are non-positive or not finite, yield the
// matching default.
func ComputeCalibration(param *CameraParam, rotated bool) Calibration {
	fallback := DefaultCalibration
	if rotated {
		fallback = DefaultRotatedCalibration
	}

	if param == nil {
		slog.Warn("stream-capture: camera param missing, using default calibration",
			"rotated", rotated,
		)
		return fallback
	}

	c, d := param.Color, param.Depth
	cal := Calibration{
		Fx: d.Fx, Fy: d.Fy,
		Cx: d.Cx, Cy: d.Cy,
		ColorWidth: c.Width, ColorHeight: c.Height,
		DepthWidth: d.Width, DepthHeight: d.Height,
		DepthUnit: DepthUnit1mm,
	}
	if rotated {
		cal.Fx, cal.Fy = cal.Fy, cal.Fx
		cal.Cx, cal.Cy = cal.Cy, cal.Cx
		cal.ColorWidth, cal.ColorHeight = cal.ColorHeight, cal.ColorWidth
		cal.DepthWidth, cal.DepthHeight = cal.DepthHeight, cal.DepthWidth
	}

	if !usable(cal.Fx) || !usable(cal.Fy) || !usable(cal.Cx) || !usable(cal.Cy) {
		slog.Warn("stream-capture: camera intrinsics unusable, using default calibration",
			"fx", cal.Fx, "fy", cal.Fy, "cx", cal.Cx, "cy", cal.Cy,
		)
		return fallback
	}

	slog.Debug("stream-capture: calibration loaded",
		"fx", cal.Fx, "fy", cal.Fy, "cx", cal.Cx, "cy", cal.Cy,
		"color", [2]int{cal.ColorWidth, cal.ColorHeight},
		"depth", [2]int{cal.DepthWidth, cal.DepthHeight},
	)
	return cal
}

func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
