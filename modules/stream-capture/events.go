package streamcapture

import "github.com/e7canasta/orion-care-sensor/modules/metrics"

// Event is a notification for the pipeline owner. The set of variants is
// closed: DeviceStatus, OpenFailed and Metrics.
type Event interface {
	event()
}

// DeviceStatus reports a device attach (Connected) or detach.
type DeviceStatus struct {
	Connected bool
}

// OpenFailed reports a failed device initialization. The stage does not
// retry; the owner decides.
type OpenFailed struct {
	Message string
}

// Metrics carries a refreshed metrics snapshot.
type Metrics struct {
	Info metrics.TrackInfo
}

func (DeviceStatus) event() {}
func (OpenFailed) event()   {}
func (Metrics) event()      {}
