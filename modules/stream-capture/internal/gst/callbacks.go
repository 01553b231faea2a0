package gst

import (
	"log/slog"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Sample is a copied appsink buffer (avoids an import cycle with the parent
// package, which owns the frame types).
type Sample struct {
	Width  int
	Height int
	Data   []byte
}

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	Width     int32 // Atomic: current branch width
	Height    int32 // Atomic: current branch height
	Samples   *uint64
	BytesRead *uint64
	OnSample  func(Sample)
}

// SetSize updates the geometry reported with subsequent samples.
func (c *CallbackContext) SetSize(width, height int) {
	atomic.StoreInt32(&c.Width, int32(width))
	atomic.StoreInt32(&c.Height, int32(height))
}

// OnNewSample is called by GStreamer when a new buffer reaches an appsink
//
// The buffer is copied because GStreamer reuses it. A buffer whose size does
// not match the expected geometry (caps switch in flight) is skipped.
func OnNewSample(sink *app.Sink, ctx *CallbackContext, bytesPerPixel int) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample should not kill the pipeline
		slog.Warn("gst: failed to pull sample from appsink, skipping")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: failed to get buffer from sample, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gst: empty buffer received")
		return gst.FlowOK
	}

	w := int(atomic.LoadInt32(&ctx.Width))
	h := int(atomic.LoadInt32(&ctx.Height))
	if len(data) != w*h*bytesPerPixel {
		buffer.Unmap()
		slog.Debug("gst: buffer size does not match caps, skipping",
			"size", len(data),
			"width", w,
			"height", h,
		)
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	atomic.AddUint64(ctx.Samples, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(frameData)))

	ctx.OnSample(Sample{Width: w, Height: h, Data: frameData})
	return gst.FlowOK
}
