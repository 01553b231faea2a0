package render

import (
	"bufio"
	"fmt"
	"image"
	"io"

	"github.com/mattn/go-sixel"
	"golang.org/x/image/draw"
)

const cursorHome = "\033[H"

// SixelSink draws surfaces on a sixel-capable terminal, scaled down to at
// most MaxWidth pixels wide.
type SixelSink struct {
	out      *bufio.Writer
	maxWidth int
	scaled   *image.RGBA
}

// NewSixelSink creates a sink writing to w. maxWidth <= 0 keeps the
// original size.
func NewSixelSink(w io.Writer, maxWidth int) *SixelSink {
	return &SixelSink{out: bufio.NewWriter(w), maxWidth: maxWidth}
}

// Render encodes s in place of the previous picture.
func (k *SixelSink) Render(s Surface) error {
	src := s.Image()
	w, h := fitWidth(s.Width, s.Height, k.maxWidth)

	var img image.Image = src
	if w != s.Width || h != s.Height {
		if k.scaled == nil || k.scaled.Rect.Dx() != w || k.scaled.Rect.Dy() != h {
			k.scaled = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		draw.ApproxBiLinear.Scale(k.scaled, k.scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = k.scaled
	}

	enc := sixel.NewEncoder(k.out)
	enc.Dither = false
	enc.Width = w
	enc.Height = h

	if _, err := k.out.WriteString(cursorHome); err != nil {
		return fmt.Errorf("render: sixel: %w", err)
	}
	if err := enc.Encode(img); err != nil {
		return fmt.Errorf("render: sixel encode: %w", err)
	}
	return k.out.Flush()
}

// Clear draws a black picture of the given size.
func (k *SixelSink) Clear(width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	return k.Render(blank(width, height))
}

func fitWidth(w, h, maxWidth int) (int, int) {
	if maxWidth <= 0 || w <= maxWidth {
		return w, h
	}
	return maxWidth, max(1, h*maxWidth/w)
}
