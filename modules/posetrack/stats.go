package posetrack

import "time"

// idleThreshold is how long a running stage may go without a processed
// image pair before it reports idle. At 30fps this is ~150 missed frames.
const idleThreshold = 5 * time.Second

// TrackStats is a snapshot of the track stage.
type TrackStats struct {
	State State

	// Processed counts Process calls; Valid those that produced a result
	Processed uint64
	Valid     uint64
	// Failed counts Process errors
	Failed uint64
	// Rebuilds counts tracker rebuilds after a resolution change
	Rebuilds uint64

	// QueueEvicted counts image pairs replaced before processing
	QueueEvicted uint64
	// ResultsEvicted counts results replaced before drawing
	ResultsEvicted uint64

	// LastProcessedAt is the time of the last Process call
	LastProcessedAt time.Time
	// LastProcessedSeq is the frame sequence of the last processed pair
	LastProcessedSeq uint64

	// IsIdle reports a running stage with no Process call for idleThreshold
	IsIdle bool

	TrackRate float64
	TrackTime float64
	TotalTime float64
	DrawTime  float64
}

// Stats returns a snapshot of the stage counters.
func (s *TrackStage) Stats() TrackStats {
	state := s.State()

	var last time.Time
	if ns := s.lastProcessedAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	ref := last
	if ref.IsZero() {
		ref = time.Unix(0, s.startedAt.Load())
	}

	return TrackStats{
		State:            state,
		Processed:        s.processed.Load(),
		Valid:            s.valid.Load(),
		Failed:           s.failed.Load(),
		Rebuilds:         s.rebuilds.Load(),
		QueueEvicted:     s.queue.Stats().Evicted,
		ResultsEvicted:   s.results.Stats().Evicted,
		LastProcessedAt:  last,
		LastProcessedSeq: s.lastProcessedSeq.Load(),
		IsIdle:           state == StateRunning && s.clock.Now().Sub(ref) > idleThreshold,
		TrackRate:        s.TrackFPS(),
		TrackTime:        s.TrackTime(),
		TotalTime:        s.TotalTime(),
		DrawTime:         s.DrawTime(),
	}
}
