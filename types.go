package dxscan

import (
	"image"
	"time"
)

// Barcode formats with a search mapping.
const (
	// FormatITF is the Interleaved 2 of 5 code printed on film canisters (full DX code)
	FormatITF = "ITF"
	// FormatDXFilmEdge is the DX barcode printed along the film edge (DX number)
	FormatDXFilmEdge = "DXFilmEdge"
)

// DeviceKind mirrors the media device kinds reported by the platform
type DeviceKind int

const (
	// KindVideoInput is a camera capture node
	KindVideoInput DeviceKind = iota + 1
	// KindAudioInput is a microphone
	KindAudioInput
	// KindOther covers metadata nodes and anything the scanner cannot use
	KindOther
)

// String returns a human-readable string representation of the kind
func (k DeviceKind) String() string {
	switch k {
	case KindVideoInput:
		return "videoinput"
	case KindAudioInput:
		return "audioinput"
	default:
		return "other"
	}
}

// DeviceInfo describes one entry of the platform media device inventory
type DeviceInfo struct {
	// DeviceID is the platform identifier (e.g., "/dev/video0")
	DeviceID string `json:"deviceId"`
	// Kind is the device kind
	Kind DeviceKind `json:"-"`
	// Label is the human-readable name
	Label string `json:"label"`
}

// Constraints is the video request handed to MediaDevices.GetUserMedia
type Constraints struct {
	// DeviceID selects a specific device; empty lets the platform choose
	DeviceID string
	// FacingMode is a hint ("environment" prefers a rear camera)
	FacingMode string
}

// Frame represents a single video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains interleaved RGBA pixels (Width × Height × 4 bytes)
	Data []byte
	// DeviceID identifies the capturing device
	DeviceID string
	// TraceID is a unique identifier for tracing a frame through the loop
	TraceID string
}

// Point is a location in canvas pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is the quadrilateral enclosing a detected code
type Quad struct {
	TopLeft     Point `json:"topLeft"`
	TopRight    Point `json:"topRight"`
	BottomRight Point `json:"bottomRight"`
	BottomLeft  Point `json:"bottomLeft"`
}

// Centroid returns the mean of the four corners
func (q Quad) Centroid() Point {
	return Point{
		X: (q.TopLeft.X + q.TopRight.X + q.BottomRight.X + q.BottomLeft.X) / 4,
		Y: (q.TopLeft.Y + q.TopRight.Y + q.BottomRight.Y + q.BottomLeft.Y) / 4,
	}
}

// ScanResult is the engine output for one frame. An empty Format means no
// code was found.
type ScanResult struct {
	Format   string `json:"format"`
	Text     string `json:"text"`
	Position Quad   `json:"position"`
}

// Found reports whether the engine recognized a code
func (r ScanResult) Found() bool {
	return r.Format != ""
}

// Detection is what the result area shows after a successful scan
type Detection struct {
	// Format and Text as decoded
	Format string `json:"format"`
	Text   string `json:"text"`
	// HTML is "<format>: <escaped text>", safe to insert as markup
	HTML string `json:"html"`
	// DXExtract is the 4-digit DX extract derived from Text, when parseable
	DXExtract string `json:"dxExtract,omitempty"`
	// SearchURL is the navigation target; empty for unrecognized formats
	SearchURL string `json:"searchUrl,omitempty"`
	// Position of the code on the canvas
	Position Quad `json:"position"`
	// Label is where the decoded text was drawn on the canvas
	Label image.Point `json:"label"`
	// At is when the code was detected
	At time.Time `json:"at"`
	// TraceID of the frame the code was read from
	TraceID string `json:"traceId,omitempty"`
}

// View is the state of the scanner's page surface
type View struct {
	// Options is the device selector content
	Options []DeviceInfo `json:"options"`
	// Selected is the device selector value
	Selected string `json:"selected"`
	// Format is the format selector value (empty = any)
	Format string `json:"format"`
	// Started is true once capture was requested
	Started bool `json:"started"`
	// CanvasVisible is false while the start placeholder is shown
	CanvasVisible bool `json:"canvasVisible"`
	// Result is the last detection shown in the result area
	Result *Detection `json:"result,omitempty"`
}

// Stats contains current scanner statistics
type Stats struct {
	// Ticks is the number of render ticks executed
	Ticks uint64 `json:"ticks"`
	// FramesDrawn is the number of video frames copied into the canvas
	FramesDrawn uint64 `json:"framesDrawn"`
	// FramesDecoded is the number of frames handed to the engine
	FramesDecoded uint64 `json:"framesDecoded"`
	// GateSkips is the number of ticks skipped while the scan gate was closed
	GateSkips uint64 `json:"gateSkips"`
	// Detections is the number of codes recognized
	Detections uint64 `json:"detections"`
	// Navigations is the number of search redirects delivered
	Navigations uint64 `json:"navigations"`
	// NavigationErrors counts redirects the navigator rejected
	NavigationErrors uint64 `json:"navigationErrors"`
	// EngineNotReady counts frames dropped while the engine was initializing
	EngineNotReady uint64 `json:"engineNotReady"`
	// DecodeErrors counts engine failures other than not-ready
	DecodeErrors uint64 `json:"decodeErrors"`
	// TickPanics counts ticks that panicked and were isolated
	TickPanics uint64 `json:"tickPanics"`
	// StreamActive indicates if a capture stream is bound
	StreamActive bool `json:"streamActive"`
	// DeviceID of the active stream
	DeviceID string `json:"deviceId,omitempty"`
	// TickFPS is the measured render tick rate
	TickFPS float64 `json:"tickFps"`
	// TickFPSStdDev is the standard deviation of the instantaneous tick rate
	TickFPSStdDev float64 `json:"tickFpsStdDev"`
	// TickStable is true if the tick rate is stable
	TickStable bool `json:"tickStable"`
	// Uptime since the controller was started
	Uptime time.Duration `json:"uptime"`
}
