package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// Version information
const version = "v0.2.0"

func main() {
	source := flag.String("source", "synthetic", "Frame source: synthetic, gst")
	colorSrc := flag.String("color-src", "v4l2src device=/dev/video0", "GStreamer color source element (gst only)")
	depthSrc := flag.String("depth-src", "v4l2src device=/dev/video2", "GStreamer depth source element (gst only)")
	resolution := flag.String("resolution", "480p", "Color resolution: 480p, 720p, 1080p")
	rotation := flag.String("rotation", "disable", "Rotation: disable, cw, ccw")
	outputDir := flag.String("output", "", "Directory to save captured frames (optional)")
	outputFormat := flag.String("format", "png", "Color output format: png, jpeg")
	jpegQuality := flag.Int("jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	maxFrames := flag.Int("max-frames", 0, "Maximum pairs to capture (0 = unlimited)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("test-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	res, err := streamcapture.ParseResolution(*resolution)
	if err != nil {
		log.Fatalf("Invalid resolution: %v", err)
	}
	rot, err := streamcapture.ParseRotation(*rotation)
	if err != nil {
		log.Fatalf("Invalid rotation: %v", err)
	}
	if *outputFormat != "png" && *outputFormat != "jpeg" {
		log.Fatalf("Invalid output format: %s (must be png or jpeg)", *outputFormat)
	}
	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	var watcher streamcapture.DeviceWatcher
	switch *source {
	case "synthetic":
		watcher = streamcapture.NewSyntheticWatcher(func() streamcapture.Source {
			return streamcapture.NewSyntheticSource("test-capture", streamcapture.FPS, nil)
		})
	case "gst":
		gw, err := streamcapture.NewGstWatcher(streamcapture.GstConfig{
			ColorSource: *colorSrc,
			DepthSource: *depthSrc,
			Reconnect:   streamcapture.DefaultReconnectConfig(),
		})
		if err != nil {
			log.Fatalf("GStreamer unavailable: %v", err)
		}
		watcher = gw
	default:
		log.Fatalf("Invalid source: %s (must be synthetic or gst)", *source)
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║        Stream Capture Test - color + depth pairs         ║\n")
	fmt.Printf("║                      Version %s                        ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Source:        %s\n", *source)
	fmt.Printf("  Resolution:    %s\n", res)
	fmt.Printf("  Rotation:      %s\n", rot)
	if *outputDir != "" {
		fmt.Printf("  Output Dir:    %s\n", *outputDir)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	fmt.Printf("\n")

	pool := framepool.New(framepool.Config{})
	events := framebus.New[streamcapture.Event](16, nil)

	stage, err := streamcapture.NewCaptureStage(streamcapture.Config{
		Pool:       pool,
		Resolution: res,
		Rotation:   rot,
		Events:     events,
	})
	if err != nil {
		log.Fatalf("Failed to create capture stage: %v", err)
	}

	// Pairs are saved off the capture worker; a busy saver drops pairs.
	pairs := framebus.New[streamcapture.FramePair](1, func(p streamcapture.FramePair) { p.Recycle(pool) })
	stage.SetFrameHandler(func(p streamcapture.FramePair) { pairs.TryPublish(p) })

	if err := stage.Open(watcher); err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	startTime := time.Now()
	var framesSaved, saveErrors atomic.Int64
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				printStats(stage.Stats(), time.Since(startTime), framesSaved.Load(), saveErrors.Load())
			}
		}
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			ev, ok := events.Poll(200 * time.Millisecond)
			if !ok {
				continue
			}
			switch e := ev.(type) {
			case streamcapture.DeviceStatus:
				slog.Info("Device status changed", "connected", e.Connected)
			case streamcapture.OpenFailed:
				slog.Error("Device open failed", "message", e.Message)
			}
		}
	}()

	frameCount := 0
loop:
	for {
		select {
		case <-sigChan:
			fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			break loop
		default:
		}

		pair, ok := pairs.Poll(200 * time.Millisecond)
		if !ok {
			continue
		}
		frameCount++

		fmt.Printf("[%s] Pair #%-6d | Seq: %-8d | Color: %dx%d | Depth: %dx%d | ts: %d\n",
			time.Now().Format("15:04:05"),
			frameCount,
			pair.Color.Seq,
			pair.Color.Width, pair.Color.Height,
			pair.Depth.Width, pair.Depth.Height,
			pair.Color.Timestamp,
		)

		if *outputDir != "" {
			if err := savePair(*outputDir, pair, *outputFormat, *jpegQuality); err != nil {
				slog.Error("Failed to save pair", "error", err, "seq", pair.Color.Seq)
				saveErrors.Add(1)
			} else {
				framesSaved.Add(1)
			}
		}
		pair.Recycle(pool)

		if *maxFrames > 0 && frameCount >= *maxFrames {
			fmt.Printf("\nReached maximum frames (%d), stopping...\n", *maxFrames)
			break loop
		}
	}

	close(stop)
	slog.Info("Closing capture...")
	if err := stage.Close(); err != nil {
		slog.Error("Error closing capture", "error", err)
	}
	pairs.Close()
	events.Close()

	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	printStats(stage.Stats(), time.Since(startTime), framesSaved.Load(), saveErrors.Load())
}

func printStats(stats streamcapture.Stats, uptime time.Duration, saved, saveErrors int64) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Capture Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frame-sets:         %6d\n", stats.FrameSets)
	fmt.Printf("│ Forwarded:          %6d\n", stats.Forwarded)
	fmt.Printf("│ Invalid:            %6d\n", stats.Invalid)
	fmt.Printf("│ Dropped (switch):   %6d\n", stats.DroppedReconfig)
	fmt.Printf("│ Queue Evicted:      %6d\n", stats.QueueEvicted)
	fmt.Printf("│ Frame Rate:         %6.2f fps\n", stats.FrameRate)
	fmt.Printf("│ Rotate Time:        %6.2f ms\n", stats.RotateTimeMS)
	fmt.Printf("│ Resolution:         %6s\n", stats.Resolution)
	fmt.Printf("│ Connected:          %6v\n", stats.IsConnected)
	if saved > 0 || saveErrors > 0 {
		fmt.Printf("│ Pairs Saved:        %6d (%d errors)\n", saved, saveErrors)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

// savePair writes the color frame as PNG or JPEG and the depth frame as a
// 16-bit grayscale PNG.
func savePair(outputDir string, pair streamcapture.FramePair, format string, jpegQuality int) error {
	base := fmt.Sprintf("pair_%06d_%d", pair.Color.Seq, pair.Color.Timestamp)

	c := pair.Color
	rgba := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	data := c.Data()
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			si := y*c.Stride + x*3
			di := y*rgba.Stride + x*4
			rgba.Pix[di+0] = data[si+0]
			rgba.Pix[di+1] = data[si+1]
			rgba.Pix[di+2] = data[si+2]
			rgba.Pix[di+3] = 255
		}
	}
	if err := writeImage(filepath.Join(outputDir, base+"_color."+format), rgba, format, jpegQuality); err != nil {
		return err
	}

	d := pair.Depth
	gray := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	depth := d.Data()
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := binary.LittleEndian.Uint16(depth[y*d.Stride+x*2:])
			binary.BigEndian.PutUint16(gray.Pix[y*gray.Stride+x*2:], v)
		}
	}
	return writeImage(filepath.Join(outputDir, base+"_depth.png"), gray, "png", 0)
}

func writeImage(path string, img image.Image, format string, jpegQuality int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}
