package gstcam

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of capture errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryPermission indicates the process may not open the device
	ErrCategoryPermission ErrorCategory = iota
	// ErrCategoryBusy indicates another process holds the device
	ErrCategoryBusy
	// ErrCategoryNotFound indicates the device does not exist or was unplugged
	ErrCategoryNotFound
	// ErrCategoryFormat indicates caps negotiation or pixel format failures
	ErrCategoryFormat
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryBusy:
		return "busy"
	case ErrCategoryNotFound:
		return "not-found"
	case ErrCategoryFormat:
		return "format"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a pipeline error.
//
// go-gst's GError does not expose the error domain, so classification
// relies on the message and debug strings.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug text
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	// Most specific first: a busy device also reports "could not open"
	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, busyKeywords):
		return ErrCategoryBusy
	case containsAny(combined, notFoundKeywords):
		return ErrCategoryNotFound
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	}
	return ErrCategoryUnknown
}

var (
	permissionKeywords = []string{
		"permission denied",
		"eacces",
		"operation not permitted",
		"not authorized",
	}
	busyKeywords = []string{
		"device or resource busy",
		"ebusy",
		"busy",
		"already in use",
	}
	notFoundKeywords = []string{
		"no such file or directory",
		"no such device",
		"enoent",
		"enodev",
		"does not exist",
		"not found",
		"cannot identify device",
	}
	formatKeywords = []string{
		"not-negotiated",
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"no supported",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
