package render

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Joint indices used by the label and the limb table.
const (
	JointNose = 0
	JointNeck = 1
)

// Limbs lists the joint pairs connected by a line.
var Limbs = [20][2]int{
	{1, 3}, {1, 4}, {3, 5}, {5, 7}, {4, 6}, {6, 8}, {1, 2}, {2, 9}, {2, 10}, {9, 11},
	{11, 13}, {10, 12}, {12, 14}, {1, 0}, {0, 15}, {15, 17}, {0, 16}, {16, 18}, {13, 19}, {14, 20},
}

// LineColors is the per-body limb palette, indexed by body id.
var LineColors = [5]color.RGBA{
	{R: 0, G: 96, B: 255, A: 255},
	{R: 0, G: 255, B: 96, A: 255},
	{R: 255, G: 72, B: 0, A: 255},
	{R: 102, G: 0, B: 255, A: 255},
	{R: 247, G: 50, B: 182, A: 255},
}

var (
	jointColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelColor = color.RGBA{G: 255, A: 255}
)

const jointRadius = 4

// Params are the stroke sizes for one output resolution. A negative Point
// fills the joint circles.
type Params struct {
	Line      float64
	Point     float64
	FontScale float64
	FontThick float64
}

// ParamsFor picks stroke sizes by pixel count, so rotated frames match too.
func ParamsFor(width, height int) Params {
	switch width * height {
	case 1280 * 720:
		return Params{Line: 4, Point: 5.5, FontScale: 1, FontThick: 2}
	case 1920 * 1080:
		return Params{Line: 6, Point: 9, FontScale: 1.5, FontThick: 4.5}
	default:
		return Params{Line: 2, Point: -1, FontScale: 0.5, FontThick: 1.5}
	}
}

// limbColor returns the line color of a limb for a body.
func limbColor(bodyID int, limb [2]int) color.RGBA {
	id := bodyID
	if id < 0 {
		id = -id
	}
	if limb[1] <= 2 || limb[1]%2 == 0 {
		return LineColors[id%len(LineColors)]
	}
	return LineColors[(id+1)%len(LineColors)]
}

type point struct {
	x, y float64
	// line: the joint may anchor a limb; dot: the joint circle is drawn
	line, dot bool
}

// Overlay draws skeletons onto RGB frames. Not safe for concurrent use.
type Overlay struct {
	ras   vector.Rasterizer
	label *image.RGBA
}

// NewOverlay creates an overlay
func NewOverlay() *Overlay {
	return &Overlay{}
}

// Draw2D draws color-space bodies. Joints near the origin are missing.
func (o *Overlay) Draw2D(dst *RGB, bodies []posetrack.Body) {
	for _, b := range bodies {
		pts := make([]point, len(b.Joints))
		for i, j := range b.Joints {
			x, y := float64(j.X), float64(j.Y)
			pts[i] = point{
				x: x, y: y,
				line: !(x < 0.1 && y < 0.1),
				dot:  x > 0.1 && y > 0.1,
			}
		}
		o.drawBody(dst, b.ID, pts)
	}
}

// Draw3D projects depth-space bodies with the calibration and draws them.
// Joints with a zero score are missing.
func (o *Overlay) Draw3D(dst *RGB, bodies []posetrack.Body, calib streamcapture.Calibration) {
	for _, b := range bodies {
		pts := make([]point, len(b.Joints))
		for i, j := range b.Joints {
			if j.Score == 0 || j.Z == 0 {
				continue
			}
			x, y := Project(j, calib)
			if !finite(x) || !finite(y) {
				continue
			}
			pts[i] = point{x: x, y: y, line: true, dot: true}
		}
		o.drawBody(dst, b.ID, pts)
	}
}

// Project maps a depth-space joint to image coordinates.
func Project(j posetrack.Joint, calib streamcapture.Calibration) (x, y float64) {
	z := float64(j.Z)
	return calib.Cx + calib.Fx*float64(j.X)/z, calib.Cy + calib.Fy*float64(j.Y)/z
}

func (o *Overlay) drawBody(dst *RGB, id int, pts []point) {
	p := ParamsFor(dst.Rect.Dx(), dst.Rect.Dy())

	for _, limb := range Limbs {
		if limb[0] >= len(pts) || limb[1] >= len(pts) {
			continue
		}
		a, b := pts[limb[0]], pts[limb[1]]
		if !a.line || !b.line {
			continue
		}
		o.line(dst, a.x, a.y, b.x, b.y, p.Line, limbColor(id, limb))
	}

	for _, pt := range pts {
		if pt.dot {
			o.circle(dst, pt.x, pt.y, jointRadius, p.Point, jointColor)
		}
	}

	if len(pts) > JointNose {
		nose := pts[JointNose]
		o.text(dst, int(nose.x)-10, int(nose.y)-40, "ID: "+strconv.Itoa(id), p.FontScale)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// line strokes a segment of the given thickness as a quad.
func (o *Overlay) line(dst *RGB, x0, y0, x1, y1, thick float64, c color.RGBA) {
	h := math.Max(thick, 1) / 2
	bounds := dst.Rect.Inset(-int(math.Ceil(h)) - 1)
	x0, y0, x1, y1, ok := clipSegment(x0, y0, x1, y1, bounds)
	if !ok {
		return
	}

	dx, dy := x1-x0, y1-y0
	n := math.Hypot(dx, dy)
	if n == 0 {
		return
	}
	nx, ny := -dy/n*h, dx/n*h

	quad := [4][2]float64{
		{x0 + nx, y0 + ny}, {x1 + nx, y1 + ny},
		{x1 - nx, y1 - ny}, {x0 - nx, y0 - ny},
	}
	o.fill(dst, c, func(ox, oy float64) {
		o.ras.MoveTo(float32(quad[0][0]-ox), float32(quad[0][1]-oy))
		for _, q := range quad[1:] {
			o.ras.LineTo(float32(q[0]-ox), float32(q[1]-oy))
		}
		o.ras.ClosePath()
	}, math.Min(x0, x1)-h, math.Min(y0, y1)-h, math.Max(x0, x1)+h, math.Max(y0, y1)+h)
}

// clipSegment cuts the segment to r (Liang-Barsky). ok is false when
// nothing of it lies inside.
func clipSegment(x0, y0, x1, y1 float64, r image.Rectangle) (cx0, cy0, cx1, cy1 float64, ok bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := x1-x0, y1-y0

	edges := [4][2]float64{
		{-dx, x0 - float64(r.Min.X)},
		{dx, float64(r.Max.X) - x0},
		{-dy, y0 - float64(r.Min.Y)},
		{dy, float64(r.Max.Y) - y0},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return x0 + t0*dx, y0 + t0*dy, x0 + t1*dx, y0 + t1*dy, true
}

// circle draws a ring of the given thickness, or a disc when thick < 0.
func (o *Overlay) circle(dst *RGB, cx, cy, r, thick float64, c color.RGBA) {
	outer, inner := r, 0.0
	if thick >= 0 {
		outer, inner = r+thick/2, math.Max(r-thick/2, 0)
	}

	o.fill(dst, c, func(ox, oy float64) {
		polygon(&o.ras, cx-ox, cy-oy, outer, false)
		if inner > 0 {
			polygon(&o.ras, cx-ox, cy-oy, inner, true)
		}
	}, cx-outer, cy-outer, cx+outer, cy+outer)
}

// polygon adds a closed 32-gon; reverse winding cuts a hole.
func polygon(ras *vector.Rasterizer, cx, cy, r float64, reverse bool) {
	const steps = 32
	for i := 0; i <= steps; i++ {
		a := 2 * math.Pi * float64(i) / steps
		if reverse {
			a = -a
		}
		x, y := float32(cx+r*math.Cos(a)), float32(cy+r*math.Sin(a))
		if i == 0 {
			ras.MoveTo(x, y)
		} else {
			ras.LineTo(x, y)
		}
	}
	ras.ClosePath()
}

// fill rasterizes the path built by addPath over its bounding box clipped to
// dst. The rasterizer origin maps to the clipped box origin, which addPath
// subtracts from its coordinates.
func (o *Overlay) fill(dst *RGB, c color.RGBA, addPath func(ox, oy float64), x0, y0, x1, y1 float64) {
	box := image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1))+1, int(math.Ceil(y1))+1)
	box = box.Intersect(dst.Rect)
	if box.Empty() {
		return
	}

	o.ras.Reset(box.Dx(), box.Dy())
	addPath(float64(box.Min.X), float64(box.Min.Y))
	o.ras.Draw(dst, box, image.NewUniform(c), image.Point{})
}

// text draws a label with its baseline origin at (x, y), scaled by an
// integer factor derived from scale.
func (o *Overlay) text(dst *RGB, x, y int, s string, scale float64) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	h := face.Height

	if o.label == nil || o.label.Rect.Dx() < w || o.label.Rect.Dy() < h {
		o.label = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	glyphs := o.label.SubImage(image.Rect(0, 0, w, h)).(*image.RGBA)
	clear(glyphs.Pix)

	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)

	k := int(math.Round(scale * 2))
	if k < 1 {
		k = 1
	}
	top := y - face.Ascent*k
	target := image.Rect(x, top, x+w*k, top+h*k)
	draw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), draw.Over, nil)
}
