package pipeline

import (
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// CaptureFps returns the capture frame rate.
func (p *Pipeline) CaptureFps() float64 { return p.capture.FrameRate() }

// RotateTimeMs returns the average rotation time.
func (p *Pipeline) RotateTimeMs() float64 { return p.capture.RotateTime() }

// ImgCreateTimeMs returns the average tracker image creation time.
func (p *Pipeline) ImgCreateTimeMs() float64 { return p.images.ImgCreateTime() }

// TrackFps returns the valid-result rate (0 without tracking).
func (p *Pipeline) TrackFps() float64 {
	if p.track == nil {
		return 0
	}
	return p.track.TrackFPS()
}

// TrackTimeMs returns the average Process time.
func (p *Pipeline) TrackTimeMs() float64 {
	if p.track == nil {
		return 0
	}
	return p.track.TrackTime()
}

// TotalTimeMs returns the average time of a whole track iteration.
func (p *Pipeline) TotalTimeMs() float64 {
	if p.track == nil {
		return 0
	}
	return p.track.TotalTime()
}

// DrawTimeMs returns the average skeleton draw time.
func (p *Pipeline) DrawTimeMs() float64 {
	if p.track == nil {
		return 0
	}
	return p.track.DrawTime()
}

// RenderFps returns the render rate (0 without a sink).
func (p *Pipeline) RenderFps() float64 {
	if p.render == nil {
		return 0
	}
	return p.render.RenderFPS()
}

// TrackInfo aggregates every metric.
func (p *Pipeline) TrackInfo() metrics.TrackInfo {
	return metrics.TrackInfo{
		FrameRate:          p.CaptureFps(),
		TrackRate:          p.TrackFps(),
		RenderRate:         p.RenderFps(),
		TrackTime:          p.TrackTimeMs(),
		ImgCreateTime:      p.ImgCreateTimeMs(),
		DrawSkeletonTime:   p.DrawTimeMs(),
		PoseTrackTotalTime: p.TotalTimeMs(),
		RotateTime:         p.RotateTimeMs(),
	}.Rounded()
}

// Stats is a snapshot of every stage's counters.
type Stats struct {
	Info          metrics.TrackInfo
	Capture       streamcapture.Stats
	Track         posetrack.TrackStats
	Tracking      bool
	ImagesEvicted uint64
	Rendered      uint64
	RenderFailed  uint64
	RenderEnabled bool
}

// Stats returns counters of every stage.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Info:          p.TrackInfo(),
		Capture:       p.capture.Stats(),
		Tracking:      p.Tracking(),
		ImagesEvicted: p.images.Evicted(),
	}
	if p.track != nil {
		s.Track = p.track.Stats()
	}
	if p.render != nil {
		s.Rendered = p.render.Rendered()
		s.RenderFailed = p.render.Failed()
		s.RenderEnabled = p.render.Enabled()
	}
	return s
}
