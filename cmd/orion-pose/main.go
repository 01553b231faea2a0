package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-care-sensor/internal/config"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: built-in synthetic demo)")
	source := flag.String("source", "", "Override capture source: synthetic, gst")
	jsonLogs := flag.Bool("json", false, "Log as JSON")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orion-pose %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath, *source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The sixel sink owns stdout.
	var logOut io.Writer = os.Stdout
	if cfg.Render.Sink == config.SinkSixel {
		logOut = os.Stderr
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(logOut, opts)
	if *jsonLogs {
		handler = slog.NewJSONHandler(logOut, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	printBanner(logOut, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger, logOut); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orion-pose failed", "error", err)
		os.Exit(1)
	}

	logger.Info("orion-pose stopped gracefully")
}

func loadConfig(path, source string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if source != "" {
		cfg.Capture.Source = source
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid -source: %w", err)
		}
	}
	return cfg, nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║        Orion Pose - Capture, Track and Render Pipeline        ║")
	fmt.Fprintf(w, "║                    Version %-34s ║\n", version)
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Instance:        %s\n", cfg.InstanceID)
	fmt.Fprintf(w, "  Source:          %s\n", cfg.Capture.Source)
	fmt.Fprintf(w, "  Resolution:      %s (rotation %s, flip %v)\n", cfg.Capture.Res, cfg.Capture.Rot, cfg.Capture.Flip)
	if cfg.Tracking.Enabled {
		fmt.Fprintf(w, "  Tracking:        %s %s (smoothing %.1f, auto start %v)\n",
			cfg.Tracking.TrackMode, cfg.Tracking.SkeletonMode, cfg.Tracking.Smoothing, cfg.Tracking.AutoStart)
	} else {
		fmt.Fprintf(w, "  Tracking:        disabled\n")
	}
	fmt.Fprintf(w, "  Render Sink:     %s\n", cfg.Render.Sink)
	if cfg.MQTT.Enabled() {
		fmt.Fprintf(w, "  MQTT Broker:     %s (control %s)\n", cfg.MQTT.Broker, cfg.MQTT.Topics.Control)
	} else {
		fmt.Fprintf(w, "  MQTT:            disabled\n")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Pipeline:")
	fmt.Fprintln(w, "  stream-capture → posetrack (images → tracker) → render")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop gracefully")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)
}
