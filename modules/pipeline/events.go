package pipeline

import (
	"time"

	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// Event is a notification for the owner. The variants are DeviceStatus,
// OpenFailed and Metrics.
type Event = streamcapture.Event

// Event variants
type (
	DeviceStatus = streamcapture.DeviceStatus
	OpenFailed   = streamcapture.OpenFailed
	Metrics      = streamcapture.Metrics
)

// FrameInfo describes a captured pair handed to OnFrame callbacks. It carries
// no pixels; the buffers stay with the pipeline.
type FrameInfo struct {
	Seq        uint64
	TraceID    string
	Width      int
	Height     int
	Timestamp  uint64
	CapturedAt time.Time
}

// FrameCallback is called on the capture worker for every forwarded pair.
// It must return quickly.
type FrameCallback func(FrameInfo)
