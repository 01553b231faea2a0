package gst

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCounters holds atomic counters for different error categories
type ErrorCounters struct {
	Device     uint64
	Format     uint64
	Permission uint64
	Unknown    uint64
}

// Count increments the counter of a category.
func (c *ErrorCounters) Count(category ErrorCategory) {
	switch category {
	case ErrCategoryDevice:
		atomic.AddUint64(&c.Device, 1)
	case ErrCategoryFormat:
		atomic.AddUint64(&c.Format, 1)
	case ErrCategoryPermission:
		atomic.AddUint64(&c.Permission, 1)
	default:
		atomic.AddUint64(&c.Unknown, 1)
	}
}

// MonitorPipelineBus polls the pipeline bus until the context ends or the
// pipeline fails.
//
// Returns an error on EOS or a pipeline error, nil on cancellation.
// onPlaying runs each time the pipeline reaches PLAYING.
func MonitorPipelineBus(
	ctx context.Context,
	pipeline *gst.Pipeline,
	counters *ErrorCounters,
	onPlaying func(),
) error {
	if pipeline == nil {
		return fmt.Errorf("gst: pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gst: context cancelled, stopping pipeline monitor")
			return nil
		default:
		}

		// Short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gst: end of stream received", "uptime", time.Since(started))
			return fmt.Errorf("gst: end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Count(category)

			slog.Error("gst: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(started),
			)
			return fmt.Errorf("gst: pipeline error [%s]: %s", category.String(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, state := msg.ParseStateChanged()
				slog.Debug("gst: pipeline state changed", "from", old, "to", state)
				if state == gst.StatePlaying && onPlaying != nil {
					onPlaying()
				}
			}
		}
	}
}
