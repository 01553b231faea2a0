package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/stretchr/testify/assert"
)

func newCanvas(w, h int) *RGB {
	return NewRGB(make([]byte, w*h*3), w, h, w*3)
}

func body(id int, joints map[int]posetrack.Joint) posetrack.Body {
	b := posetrack.Body{ID: id, Joints: make([]posetrack.Joint, posetrack.JointCount)}
	for i, j := range joints {
		b.Joints[i] = j
	}
	return b
}

func assertColor(t *testing.T, want, got color.RGBA, msgAndArgs ...any) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 2, msgAndArgs...)
	assert.InDelta(t, want.G, got.G, 2, msgAndArgs...)
	assert.InDelta(t, want.B, got.B, 2, msgAndArgs...)
}

func TestParamsFor(t *testing.T) {
	tests := []struct {
		w, h int
		want Params
	}{
		{1280, 720, Params{Line: 4, Point: 5.5, FontScale: 1, FontThick: 2}},
		{720, 1280, Params{Line: 4, Point: 5.5, FontScale: 1, FontThick: 2}},
		{1920, 1080, Params{Line: 6, Point: 9, FontScale: 1.5, FontThick: 4.5}},
		{640, 480, Params{Line: 2, Point: -1, FontScale: 0.5, FontThick: 1.5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParamsFor(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestLimbColor(t *testing.T) {
	tests := []struct {
		id   int
		limb [2]int
		want color.RGBA
	}{
		{0, [2]int{1, 2}, LineColors[0]},
		{0, [2]int{1, 3}, LineColors[1]},
		{0, [2]int{1, 4}, LineColors[0]},
		{4, [2]int{3, 5}, LineColors[0]},
		{7, [2]int{1, 0}, LineColors[2]},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, limbColor(tt.id, tt.limb), "body %d limb %v", tt.id, tt.limb)
	}
}

func TestOverlay_Draw2D(t *testing.T) {
	canvas := newCanvas(640, 480)
	b := body(2, map[int]posetrack.Joint{
		JointNeck: {X: 100, Y: 100},
		2:         {X: 100, Y: 200},
	})

	NewOverlay().Draw2D(canvas, []posetrack.Body{b})

	assertColor(t, LineColors[2], canvas.RGBAAt(100, 150), "limb 1-2 drawn with the left color")
	assertColor(t, jointColor, canvas.RGBAAt(100, 100), "neck joint")
	assertColor(t, jointColor, canvas.RGBAAt(100, 200), "joint 2")
	assert.Equal(t, color.RGBA{A: 255}, canvas.RGBAAt(300, 300), "background untouched")
	assert.Equal(t, color.RGBA{A: 255}, canvas.RGBAAt(1, 1), "missing joints are not drawn")
}

func TestOverlay_Label(t *testing.T) {
	canvas := newCanvas(640, 480)
	b := body(7, map[int]posetrack.Joint{
		JointNose: {X: 200, Y: 200},
	})

	NewOverlay().Draw2D(canvas, []posetrack.Body{b})

	green := 0
	area := image.Rect(190, 140, 260, 170)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if c := canvas.RGBAAt(x, y); c.G > 200 && c.R < 50 && c.B < 50 {
				green++
			}
		}
	}
	assert.Greater(t, green, 10, "label pixels above the nose")
}

func TestOverlay_Draw3D(t *testing.T) {
	calib := streamcapture.DefaultCalibration
	canvas := newCanvas(640, 480)

	// Projects to (cx, cy) and (cx, cy+fy*0.1)
	b := body(0, map[int]posetrack.Joint{
		JointNeck: {X: 0, Y: 0, Z: 1, Score: 0.9},
		2:         {X: 0, Y: 0.1, Z: 1, Score: 0.8},
		3:         {X: 0.3, Y: 0, Z: 1, Score: 0},
	})

	NewOverlay().Draw3D(canvas, []posetrack.Body{b}, calib)

	assertColor(t, jointColor, canvas.RGBAAt(320, 240), "neck projected to the principal point")
	assertColor(t, LineColors[0], canvas.RGBAAt(320, 270), "limb 1-2")
	x, _ := Project(posetrack.Joint{X: 0.3, Y: 0, Z: 1}, calib)
	assert.Equal(t, color.RGBA{A: 255}, canvas.RGBAAt(int(x), 240), "zero score joint skipped")
}

func TestProject(t *testing.T) {
	calib := streamcapture.Calibration{Fx: 500, Fy: 400, Cx: 320, Cy: 240}
	x, y := Project(posetrack.Joint{X: 0.5, Y: -0.25, Z: 2}, calib)
	assert.InDelta(t, 445, x, 1e-9)
	assert.InDelta(t, 190, y, 1e-9)
}

func TestOverlay_ClipsOutsideFrame(t *testing.T) {
	canvas := newCanvas(64, 48)
	b := body(1, map[int]posetrack.Joint{
		JointNeck: {X: -50, Y: 20},
		2:         {X: 30, Y: 500},
		JointNose: {X: 5, Y: 5},
	})

	assert.NotPanics(t, func() {
		NewOverlay().Draw2D(canvas, []posetrack.Body{b})
	})
}
