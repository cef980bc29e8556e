package dxscan

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEngineNotReady is returned by engines that are still initializing.
	// The scanner treats it as "no code found" for that frame.
	ErrEngineNotReady = errors.New("dxscan: decoder engine not initialized")

	// ErrEnumerationUnsupported is returned by platforms that cannot list devices
	ErrEnumerationUnsupported = errors.New("dxscan: device enumeration not supported")

	// ErrNoDevice is returned when no capture device matches the request
	ErrNoDevice = errors.New("dxscan: no video input device")

	// ErrNotStarted is returned when the controller loop is not running
	ErrNotStarted = errors.New("dxscan: controller not started")

	// ErrControllerClosed is returned after Close
	ErrControllerClosed = errors.New("dxscan: controller closed")
)

// MediaDevices is the platform media device API
//
// Implementations must guarantee:
//   - EnumerateDevices() does not open any device
//   - GetUserMedia() returns a stream whose tracks hold the device until stopped
//   - Stopping every track of a stream releases the hardware
type MediaDevices interface {
	// EnumerateDevices lists all media devices known to the platform.
	//
	// Returns ErrEnumerationUnsupported if the platform cannot list devices.
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)

	// GetUserMedia acquires a video-only stream matching the constraints.
	//
	// Returns an error if permission is denied, the device is busy or missing.
	GetUserMedia(ctx context.Context, c Constraints) (MediaStream, error)
}

// MediaStream is an acquired capture stream (the "video element" source)
type MediaStream interface {
	// ID uniquely identifies the stream
	ID() string
	// Tracks returns the stoppable tracks of the stream
	Tracks() []Track
	// Play begins playback; frames become available afterwards
	Play(ctx context.Context) error
	// CurrentFrame returns the latest frame, false until the first one arrives
	CurrentFrame() (Frame, bool)
}

// Track is one hardware-backed track of a MediaStream
type Track interface {
	// ID uniquely identifies the track
	ID() string
	// Stop releases the underlying hardware. Idempotent.
	Stop() error
	// Live is true until Stop is called or the source ends
	Live() bool
}

// Buffer is engine-owned pixel memory handed out by Engine.Malloc
type Buffer interface {
	Bytes() []byte
}

// Engine is the external barcode decoder boundary.
//
// The caller owns buffers: every Malloc must be matched by a Free, on success
// and failure paths alike.
type Engine interface {
	// Malloc allocates a buffer of size bytes
	Malloc(size int) (Buffer, error)

	// Free releases a buffer returned by Malloc
	Free(buf Buffer)

	// ReadBarcodeFromPixmap decodes an RGBA pixmap.
	//
	// format filters the accepted barcode format; empty accepts any.
	// Returns a ScanResult with an empty Format when no code is found, or
	// ErrEngineNotReady while the engine initializes.
	ReadBarcodeFromPixmap(buf Buffer, width, height int, tryHarder bool, format string) (ScanResult, error)
}

// Navigator sends the hosting page to a new location
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// ResultSink receives detections for the result area
type ResultSink interface {
	ShowResult(d Detection)
}

// KeyValueStore is a string preference store
type KeyValueStore interface {
	// Get returns the value and true, or false if the key is absent
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores the value
	Set(ctx context.Context, key, value string) error
}

// Clock abstracts time to keep the resume policy deterministic in tests
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}
