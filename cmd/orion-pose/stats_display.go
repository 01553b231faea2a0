package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	labelColor  = color.New(color.FgWhite)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed, color.Bold)
)

// reportStats periodically prints the live panel
func (a *app) reportStats(ctx context.Context, w io.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(w, a)
		}
	}
}

// printLiveStats prints current statistics from all components
func printLiveStats(w io.Writer, a *app) {
	stats := a.pipeline.Stats()
	info := stats.Info
	uptime := time.Since(a.started).Round(time.Second)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╭─────────────────────────────────────────────────────────────────╮")
	headerColor.Fprintf(w, "│ Orion Pose Statistics (Uptime: %v)\n", uptime)
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")

	fmt.Fprintln(w, "│ Capture:")
	row(w, "Connected", connectedText(stats.Capture.IsConnected))
	row(w, "Resolution", stats.Capture.Resolution)
	row(w, "Frame Rate", rateText(info.FrameRate, 25, 15))
	row(w, "Frame-sets", fmt.Sprintf("%d received, %d forwarded", stats.Capture.FrameSets, stats.Capture.Forwarded))
	row(w, "Skipped", fmt.Sprintf("%d invalid, %d reconfig, %d replaced",
		stats.Capture.Invalid, stats.Capture.DroppedReconfig, stats.Capture.QueueEvicted))
	row(w, "Rotate Time", fmt.Sprintf("%6.2f ms", info.RotateTime))

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Tracking:")
	if a.runtime == nil {
		row(w, "State", warnColor.Sprint("disabled"))
	} else {
		state := stats.Track.State.String()
		if stats.Track.IsIdle {
			state = badColor.Sprintf("%s (idle)", state)
		}
		row(w, "State", state)
		row(w, "Track Rate", rateText(info.TrackRate, 15, 5))
		row(w, "Track Time", fmt.Sprintf("%6.2f ms (total %.2f ms)", info.TrackTime, info.PoseTrackTotalTime))
		row(w, "Image Create", fmt.Sprintf("%6.2f ms", info.ImgCreateTime))
		row(w, "Draw Skeleton", fmt.Sprintf("%6.2f ms", info.DrawSkeletonTime))
		row(w, "Results", fmt.Sprintf("%d valid / %d processed, %d failed, %d rebuilds",
			stats.Track.Valid, stats.Track.Processed, stats.Track.Failed, stats.Track.Rebuilds))
		row(w, "Live Trackers", fmt.Sprintf("%d", a.runtime.Live()))
	}

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Render:")
	if a.cfg.Render.Sink == config.SinkNone {
		row(w, "Sink", warnColor.Sprint("none"))
	} else {
		row(w, "Sink", a.cfg.Render.Sink)
		row(w, "Enabled", fmt.Sprintf("%v", stats.RenderEnabled))
		row(w, "Render Rate", rateText(info.RenderRate, 15, 5))
		row(w, "Rendered", fmt.Sprintf("%d (%d failed)", stats.Rendered, stats.RenderFailed))
	}
	if a.files != nil {
		saved, dropped := a.files.Stats()
		row(w, "Files", fmt.Sprintf("%d saved, %d dropped", saved, dropped))
	}

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Buffers:")
	pool := a.pipeline.Pool()
	for _, ch := range []framepool.Channel{framepool.Color, framepool.Depth} {
		ps := pool.Stats(ch)
		row(w, ch.String(), fmt.Sprintf("%d idle, %d allocated, %d reused, %d dropped",
			ps.Idle, ps.Allocations, ps.Reuses, ps.Dropped))
	}

	if a.emitter != nil {
		es := a.emitter.Stats()
		var published uint64
		for _, n := range es.Published {
			published += n
		}
		fmt.Fprintln(w, "│")
		fmt.Fprintln(w, "│ MQTT:")
		row(w, "Connected", connectedText(es.Connected))
		row(w, "Published", fmt.Sprintf("%d (%d errors)", published, es.Errors))
	}

	fmt.Fprintln(w, "╰─────────────────────────────────────────────────────────────────╯")
	fmt.Fprintln(w)
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(w io.Writer, a *app) {
	stats := a.pipeline.Stats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	headerColor.Fprintln(w, "                     Final Statistics                         ")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  Frame-sets Received:   %d\n", stats.Capture.FrameSets)
	fmt.Fprintf(w, "  Pairs Forwarded:       %d (%.1f%%)\n",
		stats.Capture.Forwarded, percent(stats.Capture.Forwarded, stats.Capture.FrameSets))
	fmt.Fprintf(w, "  Images Replaced:       %d\n", stats.ImagesEvicted)
	if a.runtime != nil {
		fmt.Fprintf(w, "  Valid Results:         %d / %d processed\n", stats.Track.Valid, stats.Track.Processed)
		fmt.Fprintf(w, "  Trackers Created:      %d\n", a.runtime.Created())
	}
	fmt.Fprintf(w, "  Rendered:              %d (%d failed)\n", stats.Rendered, stats.RenderFailed)
	if a.files != nil {
		saved, dropped := a.files.Stats()
		fmt.Fprintf(w, "  Files Saved:           %d (%d dropped)\n", saved, dropped)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)
}

func row(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "│   %-15s ", label+":")
	fmt.Fprintln(w, value)
}

func connectedText(ok bool) string {
	if ok {
		return goodColor.Sprint("yes")
	}
	return badColor.Sprint("no")
}

// rateText colors a rate green at or above good, yellow at or above fair
func rateText(fps, good, fair float64) string {
	text := fmt.Sprintf("%6.2f fps", fps)
	switch {
	case fps >= good:
		return goodColor.Sprint(text)
	case fps >= fair:
		return warnColor.Sprint(text)
	default:
		return badColor.Sprint(text)
	}
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
