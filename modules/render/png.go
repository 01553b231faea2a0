package render

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// FileSink writes rendered surfaces to disk as PNG or JPEG.
//
// Filename format: frame_{seq:06d}_{timestamp}.{ext}
// Example: frame_000042_20251105_234517.123.png
type FileSink struct {
	outputDir   string
	format      string
	jpegQuality int
	every       uint64

	rendered atomic.Uint64
	saved    atomic.Uint64
	dropped  atomic.Uint64

	now  func() time.Time
	rgba *image.RGBA
}

// NewFileSink creates the output directory and validates the format.
//
// Format: "png" or "jpeg"
// JPEGQuality: 1-100 (only used for JPEG)
// Every: keep one surface out of every N (N <= 1 keeps all)
func NewFileSink(outputDir, format string, jpegQuality, every int) (*FileSink, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("render: unsupported format: %s (must be png or jpeg)", format)
	}
	if format == "jpeg" && (jpegQuality < 1 || jpegQuality > 100) {
		return nil, fmt.Errorf("render: jpeg quality %d out of range 1-100", jpegQuality)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("render: failed to create output directory: %w", err)
	}
	if every < 1 {
		every = 1
	}

	return &FileSink{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
		every:       uint64(every),
		now:         time.Now,
	}, nil
}

// Render saves every Nth surface.
func (fs *FileSink) Render(s Surface) error {
	n := fs.rendered.Add(1)
	if (n-1)%fs.every != 0 {
		return nil
	}

	if len(s.Pix) < s.Width*s.Height*3 {
		fs.dropped.Add(1)
		return fmt.Errorf("render: invalid RGB data size: got %d, expected %d",
			len(s.Pix), s.Width*s.Height*3)
	}
	if fs.rgba == nil || fs.rgba.Rect.Dx() != s.Width || fs.rgba.Rect.Dy() != s.Height {
		fs.rgba = image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	}
	RGBToRGBA(fs.rgba.Pix, s.Pix, s.Width, s.Height, s.Width*3)

	filename := fmt.Sprintf("frame_%06d_%s.%s",
		s.Seq,
		fs.now().Format("20060102_150405.000"),
		fs.format)
	path := filepath.Join(fs.outputDir, filename)

	if err := fs.write(path); err != nil {
		fs.dropped.Add(1)
		return err
	}
	fs.saved.Add(1)
	return nil
}

func (fs *FileSink) write(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: failed to create file: %w", err)
	}
	defer file.Close()

	switch fs.format {
	case "png":
		if err := png.Encode(file, fs.rgba); err != nil {
			return fmt.Errorf("render: PNG encode failed: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, fs.rgba, &jpeg.Options{Quality: fs.jpegQuality}); err != nil {
			return fmt.Errorf("render: JPEG encode failed: %w", err)
		}
	}
	return file.Close()
}

// Clear is a no-op: saved files are kept.
func (fs *FileSink) Clear(width, height int) error { return nil }

// Stats returns current save statistics.
func (fs *FileSink) Stats() (saved, dropped uint64) {
	return fs.saved.Load(), fs.dropped.Load()
}
