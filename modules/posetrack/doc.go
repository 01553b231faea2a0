// Package posetrack turns captured frame pairs into tracker images, runs the
// pose tracker and feeds results to a renderer.
//
// # Stages
//
//	CaptureStage ──Update──▶ ImageStage ──Submit──▶ TrackStage ──▶ draw worker
//	                          │   (1 slot)              (1 slot)      (1 slot)
//	                          └─ tracking off: FrameRenderer.DrawFrame
//
// Every hop is a single-slot framebus.Mailbox with drop-oldest semantics:
// a slow tracker sees the newest pair, never a backlog. Whatever a mailbox
// evicts is released (frame buffers go back to the pool, images are freed).
//
// # Tracker lifecycle
//
//	Idle → Configuring → Running → Stopping → Idle
//
// Start creates one tracker and applies calibration, track mode and
// smoothing. When the color resolution of incoming images changes the
// tracker is released and recreated with the same settings before the next
// Process call. In 2D skeleton mode only the color image is processed; in 3D
// mode color and depth are.
//
// # Usage
//
//	track, _ := posetrack.NewTrackStage(posetrack.TrackConfig{
//	    Runtime:  runtime,
//	    Renderer: renderStage,
//	})
//	images, _ := posetrack.NewImageStage(posetrack.ImageStageConfig{
//	    Pool:     pool,
//	    Sink:     track,
//	    Renderer: renderStage,
//	})
//
//	if track.InitRuntime() {
//	    _ = track.Start(ctx)
//	    images.SetTracking(true)
//	}
//	_ = images.Start(ctx)
//	capture.SetFrameHandler(images.Update)
package posetrack
