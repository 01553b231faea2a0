package render

import (
	"image"
	"image/color"
)

// RGB is an in-memory image of packed 8-bit RGB pixels (RGB888).
//
// It implements draw.Image so the overlay can rasterize straight into the
// frame bytes and the sinks can encode it without a conversion.
type RGB struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewRGB wraps pix, which must hold at least stride*h bytes.
func NewRGB(pix []byte, w, h, stride int) *RGB {
	return &RGB{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, w, h)}
}

// ColorModel returns color.RGBAModel.
func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

// Bounds returns the image rectangle.
func (p *RGB) Bounds() image.Rectangle { return p.Rect }

// At returns the opaque pixel at (x, y).
func (p *RGB) At(x, y int) color.Color {
	return p.RGBAAt(x, y)
}

// RGBAAt returns the pixel at (x, y) with full alpha.
func (p *RGB) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.offset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// Set stores c at (x, y), blending straight alpha over the existing pixel.
func (p *RGB) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.offset(x, y)
	r, g, b, a := c.RGBA()
	if a == 0xffff {
		p.Pix[i], p.Pix[i+1], p.Pix[i+2] = uint8(r>>8), uint8(g>>8), uint8(b>>8)
		return
	}
	// c is alpha-premultiplied: dst = c + dst*(1-a)
	ia := 0xffff - a
	p.Pix[i] = uint8((r + uint32(p.Pix[i])*0x101*ia/0xffff) >> 8)
	p.Pix[i+1] = uint8((g + uint32(p.Pix[i+1])*0x101*ia/0xffff) >> 8)
	p.Pix[i+2] = uint8((b + uint32(p.Pix[i+2])*0x101*ia/0xffff) >> 8)
}

func (p *RGB) offset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}
