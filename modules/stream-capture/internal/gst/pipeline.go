package gst

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Element names inside the launch description.
const (
	colorCapsName = "color_caps"
	depthCapsName = "depth_caps"
	colorFlipName = "color_flip"
	depthFlipName = "depth_flip"
	colorSinkName = "color_sink"
	depthSinkName = "depth_sink"
)

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	// ColorSource is a launch fragment producing raw video, e.g.
	// "v4l2src device=/dev/video0" or "videotestsrc is-live=true"
	ColorSource string
	// DepthSource is a launch fragment producing 16-bit depth
	DepthSource string
	ColorWidth  int
	ColorHeight int
	DepthWidth  int
	DepthHeight int
	FPS         int
}

// PipelineElements holds references to GStreamer pipeline elements
// These references are needed for caps switching and cleanup
type PipelineElements struct {
	Pipeline  *gst.Pipeline
	ColorSink *app.Sink
	DepthSink *app.Sink
	ColorCaps *gst.Element
	DepthCaps *gst.Element
	ColorFlip *gst.Element
	DepthFlip *gst.Element
}

// CreatePipeline creates a two-branch color+depth pipeline
//
// Pipeline structure:
//
//	color: <source> → videoconvert → videoscale → videorate → videoflip → capsfilter(RGB) → appsink
//	depth: <source> → videoconvert → videoscale → videorate → videoflip → capsfilter(GRAY16_LE) → appsink
//
// The pipeline is configured but NOT started (state remains NULL).
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	if cfg.ColorSource == "" || cfg.DepthSource == "" {
		return nil, fmt.Errorf("gst: color and depth sources are required")
	}

	gst.Init(nil)

	launch := fmt.Sprintf(
		"%s ! %s "+
			"%s ! %s",
		cfg.ColorSource, branch(colorFlipName, colorCapsName, colorSinkName, ColorCaps(cfg.ColorWidth, cfg.ColorHeight, cfg.FPS)),
		cfg.DepthSource, branch(depthFlipName, depthCapsName, depthSinkName, DepthCaps(cfg.DepthWidth, cfg.DepthHeight, cfg.FPS)),
	)
	slog.Debug("gst: launching pipeline", "description", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gst: failed to create pipeline: %w", err)
	}

	elements := &PipelineElements{Pipeline: pipeline}

	lookups := []struct {
		name string
		dst  **gst.Element
	}{
		{colorCapsName, &elements.ColorCaps},
		{depthCapsName, &elements.DepthCaps},
		{colorFlipName, &elements.ColorFlip},
		{depthFlipName, &elements.DepthFlip},
	}
	for _, l := range lookups {
		elem, err := pipeline.GetElementByName(l.name)
		if err != nil {
			return nil, fmt.Errorf("gst: element %s not found: %w", l.name, err)
		}
		*l.dst = elem
	}

	colorSink, err := pipeline.GetElementByName(colorSinkName)
	if err != nil {
		return nil, fmt.Errorf("gst: element %s not found: %w", colorSinkName, err)
	}
	depthSink, err := pipeline.GetElementByName(depthSinkName)
	if err != nil {
		return nil, fmt.Errorf("gst: element %s not found: %w", depthSinkName, err)
	}
	elements.ColorSink = app.SinkFromElement(colorSink)
	elements.DepthSink = app.SinkFromElement(depthSink)

	for _, sink := range []*app.Sink{elements.ColorSink, elements.DepthSink} {
		sink.SetProperty("sync", false)   // No sync with clock (real-time)
		sink.SetProperty("max-buffers", 1) // Keep only latest frame
		sink.SetProperty("drop", true)     // Drop old frames
	}

	slog.Info("gst: pipeline created",
		"color", fmt.Sprintf("%dx%d", cfg.ColorWidth, cfg.ColorHeight),
		"depth", fmt.Sprintf("%dx%d", cfg.DepthWidth, cfg.DepthHeight),
		"fps", cfg.FPS,
	)
	return elements, nil
}

func branch(flip, caps, sink, capsStr string) string {
	return fmt.Sprintf(
		"videoconvert ! videoscale ! videorate drop-only=true ! videoflip name=%s method=none ! capsfilter name=%s caps=\"%s\" ! appsink name=%s ",
		flip, caps, capsStr, sink,
	)
}

// ColorCaps builds the RGB caps string for the color branch
func ColorCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// DepthCaps builds the 16-bit gray caps string for the depth branch
func DepthCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=GRAY16_LE,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// UpdateCaps replaces a capsfilter's caps while the pipeline keeps running.
func UpdateCaps(capsfilter *gst.Element, caps string) error {
	if capsfilter == nil {
		return fmt.Errorf("gst: capsfilter is nil")
	}
	return capsfilter.SetProperty("caps", gst.NewCapsFromString(caps))
}

// SetMirror toggles horizontal mirroring on a videoflip element.
func SetMirror(flip *gst.Element, mirror bool) error {
	if flip == nil {
		return fmt.Errorf("gst: videoflip is nil")
	}
	method := "none"
	if mirror {
		method = "horizontal-flip"
	}
	return flip.SetProperty("method", method)
}

// DestroyPipeline cleans up GStreamer pipeline resources
//
// Safe to call even if pipeline is already destroyed.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gst: failed to set pipeline to NULL: %w", err)
	}
	return nil
}
