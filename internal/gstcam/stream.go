package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// playTimeout bounds the wait for the pipeline to reach PLAYING
const playTimeout = 5 * time.Second

// StreamStats contains capture statistics of one stream
type StreamStats struct {
	DeviceID      string
	FrameCount    uint64
	FramesDropped uint64
	BytesRead     uint64
	FPSReal       float64
	Live          bool
	Uptime        time.Duration

	ErrorsPermission uint64
	ErrorsBusy       uint64
	ErrorsNotFound   uint64
	ErrorsFormat     uint64
	ErrorsUnknown    uint64
}

// Stream is a GStreamer capture pipeline exposed as a dxscan.MediaStream
type Stream struct {
	id       string
	deviceID string
	width    int
	height   int

	elements *PipelineElements
	slot     frameSlot
	track    *track

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
	ended   atomic.Bool
	stopped atomic.Bool

	frameCount uint64
	bytesRead  uint64
	errors     [ErrCategoryUnknown + 1]uint64
}

// track is the single video track of a Stream
type track struct {
	id     string
	stream *Stream
	once   sync.Once
	err    error
}

func (t *track) ID() string { return t.id }

// Stop destroys the pipeline, releasing the device. Idempotent.
func (t *track) Stop() error {
	t.once.Do(func() { t.err = t.stream.stop() })
	return t.err
}

func (t *track) Live() bool {
	return !t.stream.stopped.Load() && !t.stream.ended.Load()
}

// openStream builds the pipeline and brings it to READY, which opens the
// device. Errors such as a busy or missing device surface here.
func openStream(cfg PipelineConfig) (*Stream, error) {
	elements, err := CreatePipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("gstcam: failed to create pipeline: %w", err)
	}

	id := uuid.New().String()
	s := &Stream{
		id:       id,
		deviceID: cfg.Device,
		width:    cfg.Width,
		height:   cfg.Height,
		elements: elements,
	}
	s.track = &track{id: id + "/video", stream: s}

	callbackCtx := &CallbackContext{
		Slot:         &s.slot,
		FrameCounter: &s.frameCount,
		BytesRead:    &s.bytesRead,
		Width:        cfg.Width,
		Height:       cfg.Height,
		DeviceID:     cfg.Device,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StateReady); err != nil {
		cause := s.popError(200 * time.Millisecond)
		_ = DestroyPipeline(elements)
		if cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("gstcam: failed to open %s: %w", deviceName(cfg.Device), err)
	}
	return s, nil
}

// ID uniquely identifies the stream
func (s *Stream) ID() string { return s.id }

// Tracks returns the stream's video track
func (s *Stream) Tracks() []dxscan.Track {
	return []dxscan.Track{s.track}
}

// Play starts the pipeline and waits for PLAYING or an error
func (s *Stream) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return fmt.Errorf("gstcam: stream stopped")
	}
	if s.cancel != nil {
		return nil
	}

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		if cause := s.popError(200 * time.Millisecond); cause != nil {
			return cause
		}
		return fmt.Errorf("gstcam: failed to start pipeline: %w", err)
	}
	if err := s.waitPlaying(ctx); err != nil {
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = time.Now()

	s.wg.Add(1)
	go s.monitorPipeline(monitorCtx)

	slog.Info("gstcam: stream playing",
		"stream_id", s.id,
		"device", deviceName(s.deviceID),
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
	)
	return nil
}

// waitPlaying pops bus messages until the pipeline reaches PLAYING
func (s *Stream) waitPlaying(ctx context.Context) error {
	bus := s.elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(playTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			return s.errorFromMessage(msg)
		case gst.MessageStateChanged:
			if msg.Source() != s.elements.Pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				slog.Debug("gstcam: pipeline reached PLAYING state", "stream_id", s.id)
				return nil
			}
		}
	}
	// Live sources may not report the transition; frames will tell
	slog.Warn("gstcam: PLAYING state not confirmed, continuing", "stream_id", s.id, "timeout", playTimeout)
	return nil
}

// popError returns the first error message on the bus, if any
func (s *Stream) popError(wait time.Duration) error {
	bus := s.elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(20 * time.Millisecond)
		if msg != nil && msg.Type() == gst.MessageError {
			return s.errorFromMessage(msg)
		}
	}
	return nil
}

func (s *Stream) errorFromMessage(msg *gst.Message) error {
	gerr := msg.ParseError()
	category := ClassifyGStreamerError(gerr)
	atomic.AddUint64(&s.errors[category], 1)

	slog.Error("gstcam: pipeline error",
		"error", gerr.Error(),
		"debug", gerr.DebugString(),
		"category", category.String(),
		"device", deviceName(s.deviceID),
	)
	return &CaptureError{Category: category, Device: s.deviceID, Message: gerr.Error()}
}

// monitorPipeline watches the bus until the stream is stopped or ends.
// There is no reconnection: an ended stream stays ended until replaced.
func (s *Stream) monitorPipeline(ctx context.Context) {
	defer s.wg.Done()

	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstcam: context cancelled, stopping pipeline monitor", "stream_id", s.id)
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.ended.Store(true)
			slog.Info("gstcam: end of stream received",
				"stream_id", s.id,
				"uptime", time.Since(s.started),
				"frames_captured", atomic.LoadUint64(&s.frameCount),
			)
			return

		case gst.MessageError:
			_ = s.errorFromMessage(msg)
			s.ended.Store(true)
			return

		case gst.MessageStateChanged:
			if msg.Source() == s.elements.Pipeline.GetName() {
				old, current := msg.ParseStateChanged()
				slog.Debug("gstcam: pipeline state changed", "from", old, "to", current)
			}
		}
	}
}

// CurrentFrame returns the newest captured frame
func (s *Stream) CurrentFrame() (dxscan.Frame, bool) {
	return s.slot.load()
}

func (s *Stream) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("gstcam: stop timeout exceeded, pipeline monitor may still be running", "stream_id", s.id)
	}

	if err := DestroyPipeline(s.elements); err != nil {
		slog.Error("gstcam: failed to destroy pipeline", "stream_id", s.id, "error", err)
		return fmt.Errorf("gstcam: %w", err)
	}

	stats := s.statsLocked()
	slog.Info("gstcam: stream stopped",
		"stream_id", s.id,
		"device", deviceName(s.deviceID),
		"frames_captured", stats.FrameCount,
		"frames_dropped", stats.FramesDropped,
		"uptime", stats.Uptime,
	)
	return nil
}

// Stats returns current stream statistics
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Stream) statsLocked() StreamStats {
	frames := atomic.LoadUint64(&s.frameCount)
	stats := StreamStats{
		DeviceID:         s.deviceID,
		FrameCount:       frames,
		FramesDropped:    s.slot.droppedCount(),
		BytesRead:        atomic.LoadUint64(&s.bytesRead),
		Live:             s.track.Live(),
		ErrorsPermission: atomic.LoadUint64(&s.errors[ErrCategoryPermission]),
		ErrorsBusy:       atomic.LoadUint64(&s.errors[ErrCategoryBusy]),
		ErrorsNotFound:   atomic.LoadUint64(&s.errors[ErrCategoryNotFound]),
		ErrorsFormat:     atomic.LoadUint64(&s.errors[ErrCategoryFormat]),
		ErrorsUnknown:    atomic.LoadUint64(&s.errors[ErrCategoryUnknown]),
	}
	if !s.started.IsZero() {
		stats.Uptime = time.Since(s.started)
		if secs := stats.Uptime.Seconds(); secs > 0 {
			stats.FPSReal = float64(frames) / secs
		}
	}
	return stats
}

// CaptureError is a classified acquisition or pipeline failure
type CaptureError struct {
	Category ErrorCategory
	Device   string
	Message  string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("gstcam: %s error on %s: %s", e.Category, deviceName(e.Device), e.Message)
}

func deviceName(device string) string {
	if device == "" {
		return "default device"
	}
	return device
}
