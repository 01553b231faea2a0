package metrics

import "fmt"

// TrackInfo is the aggregated snapshot of every stage metric.
// Rates are frames per second, times are milliseconds, all rounded to 2 decimals.
type TrackInfo struct {
	FrameRate          float64 `json:"frame_rate"`
	TrackRate          float64 `json:"track_rate"`
	RenderRate         float64 `json:"render_rate"`
	TrackTime          float64 `json:"track_time_ms"`
	ImgCreateTime      float64 `json:"img_create_time_ms"`
	DrawSkeletonTime   float64 `json:"draw_skeleton_time_ms"`
	PoseTrackTotalTime float64 `json:"pose_track_total_time_ms"`
	RotateTime         float64 `json:"rotate_time_ms"`
}

// Rounded returns a copy with every field rounded half-up to 2 decimals.
func (t TrackInfo) Rounded() TrackInfo {
	return TrackInfo{
		FrameRate:          Round2(t.FrameRate),
		TrackRate:          Round2(t.TrackRate),
		RenderRate:         Round2(t.RenderRate),
		TrackTime:          Round2(t.TrackTime),
		ImgCreateTime:      Round2(t.ImgCreateTime),
		DrawSkeletonTime:   Round2(t.DrawSkeletonTime),
		PoseTrackTotalTime: Round2(t.PoseTrackTotalTime),
		RotateTime:         Round2(t.RotateTime),
	}
}

// String returns a compact single-line form for logs
func (t TrackInfo) String() string {
	return fmt.Sprintf(
		"frame=%.2ffps track=%.2ffps render=%.2ffps track_time=%.2fms img=%.2fms draw=%.2fms total=%.2fms rotate=%.2fms",
		t.FrameRate, t.TrackRate, t.RenderRate,
		t.TrackTime, t.ImgCreateTime, t.DrawSkeletonTime, t.PoseTrackTotalTime, t.RotateTime,
	)
}
