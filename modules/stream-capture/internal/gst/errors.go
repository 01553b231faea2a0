package gst

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates a missing, busy or vanished capture device
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat indicates caps negotiation or format failures
	ErrCategoryFormat
	// ErrCategoryPermission indicates the device cannot be opened for access reasons
	ErrCategoryPermission
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"access",
		"eacces",
		"eperm",
	}
	formatKeywords = []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"no decoder",
		"missing plugin",
		"unsupported",
	}
	deviceKeywords = []string{
		"device",
		"no such file",
		"busy",
		"cannot identify",
		"could not open",
		"failed to open",
		"resource",
		"disconnected",
		"v4l2",
	}
)

// ClassifyGStreamerError analyzes a GStreamer error and categorizes it for telemetry
//
// go-gst's GError does not expose Domain(), so classification relies on
// message keywords.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug string.
// Permission is checked first, then format, then device.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
