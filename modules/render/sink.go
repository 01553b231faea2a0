package render

// Surface is one rendered picture: packed RGB888 rows without padding.
// Pix is only valid for the duration of Sink.Render.
type Surface struct {
	Pix     []byte
	Width   int
	Height  int
	Seq     uint64
	TraceID string
}

// Image wraps the surface pixels as a draw.Image without copying.
func (s Surface) Image() *RGB {
	return NewRGB(s.Pix, s.Width, s.Height, s.Width*3)
}

// Sink displays surfaces. The render worker is its only caller.
type Sink interface {
	// Render displays one surface
	Render(s Surface) error
	// Clear blanks an output of the given size
	Clear(width, height int) error
}

// blank returns a black surface of the given size.
func blank(width, height int) Surface {
	return Surface{Pix: make([]byte, width*height*3), Width: width, Height: height}
}
