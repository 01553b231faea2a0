// Package streamcapture acquires synchronized color and depth frames from a
// depth camera and turns them into pooled, rotated frame pairs.
//
// # Quick Start
//
//	pool := framepool.New(framepool.Config{})
//	events := framebus.New[streamcapture.Event](16, nil)
//
//	stage, err := streamcapture.NewCaptureStage(streamcapture.Config{
//	    Pool:       pool,
//	    Resolution: streamcapture.Res720p,
//	    Rotation:   streamcapture.Rotate90Clockwise,
//	    Events:     events,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stage.SetFrameHandler(func(pair streamcapture.FramePair) {
//	    defer pair.Recycle(pool)
//	    process(pair)
//	})
//
//	watcher := streamcapture.NewSyntheticWatcher(func() streamcapture.Source {
//	    return streamcapture.NewSyntheticSource("demo", 30, nil)
//	})
//	if err := stage.Open(watcher); err != nil {
//	    log.Fatal(err)
//	}
//	defer stage.Close()
//
// # Flow
//
//	Source callback ──TryPublish──▶ mailbox (1 slot, newest wins) ──▶ worker
//	                                                                    │
//	                       copy into pool buffers, rotate, flip ◀───────┘
//	                                                                    │
//	                                            FrameHandler(pair) ◀────┘
//
// The source callback never blocks: it drops frame-sets while a resolution
// switch is in progress and otherwise replaces whatever waits in the mailbox.
// The worker waits up to 300ms per poll so it notices Stop promptly.
//
// # Sources
//
//   - SyntheticSource: generated gradient and depth ramp, no hardware
//   - GstSource: two GStreamer branches (RGB + GRAY16_LE) paired by arrival,
//     attached by GstWatcher with exponential backoff after pipeline failures
//
// Hot-plug is modeled by DeviceWatcher. Attach initializes and starts the
// source (hardware depth-to-color alignment, mirrors off, frame sync on) and
// emits DeviceStatus{Connected: true}; a failure emits OpenFailed and is not
// retried here. Detach stops streaming and emits DeviceStatus{Connected: false}.
//
// # Rotation and Calibration
//
// Rotation is applied to both images after the copy. Any rotation other than
// RotateDisable swaps the calibration axes; invalid camera intrinsics fall back
// to DefaultCalibration (or DefaultRotatedCalibration).
//
// # Thread Safety
//
// All CaptureStage methods may be called from any goroutine. Lifecycle calls
// (Open, Close, SwitchConfig, attach and detach) are serialized; rotation and
// calibration have their own lock so the worker never waits on a switch.
package streamcapture
