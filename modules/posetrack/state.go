package posetrack

// State is the track stage lifecycle state.
//
//	Idle → Configuring → Running → Stopping → Idle
type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateRunning
	StateStopping
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
