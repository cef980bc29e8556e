package dxscan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/pacing"
	"golang.org/x/time/rate"
)

// Option customizes a Controller
type Option func(*Controller)

// WithNavigator sets where search redirects are sent (default: LogNavigator)
func WithNavigator(n Navigator) Option {
	return func(c *Controller) { c.navigator = n }
}

// WithResultSink sets the receiver of detections for the result area
func WithResultSink(s ResultSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithPreferences sets the preference stores (default: none persisted)
func WithPreferences(p *Preferences) Option {
	return func(c *Controller) { c.prefs = p }
}

// WithClock sets the clock used for detection timestamps
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithSnapshotSaver saves the annotated canvas on each detection.
// The caller keeps ownership and closes the saver after the controller.
func WithSnapshotSaver(s *SnapshotSaver) Option {
	return func(c *Controller) { c.saver = s }
}

// Controller drives a camera barcode scan session.
//
// All session state is owned by a single loop goroutine started by Start.
// Public methods post work to that loop and wait for it, so they are safe
// for concurrent use.
type Controller struct {
	cfg       Config
	devices   MediaDevices
	engine    Engine
	navigator Navigator
	sink      ResultSink
	prefs     *Preferences
	clock     Clock
	saver     *SnapshotSaver

	// startTicks creates the render tick source; replaced in tests
	startTicks func(d time.Duration) (<-chan time.Time, func())

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	mu          sync.Mutex
	loopStarted bool
	closed      bool
	closeOnce   sync.Once

	// Loop-owned state
	loopCtx       context.Context
	options       []DeviceInfo
	selected      string
	format        string
	started       bool
	canvasVisible bool
	result        *Detection
	stream        MediaStream
	streamDevice  string
	canvas        *canvas
	gate          scanGate
	tickC         <-chan time.Time
	stopTicks     func()
	timers        map[uint64]*time.Timer
	timerSeq      uint64
	tickTimes     *pacing.Window
	stats         Stats
	startedAt     time.Time
	finalStats    *Stats // set under mu when the loop exits
	notReadyLog   rate.Sometimes
}

// New creates a scanner controller with fail-fast validation.
//
// The controller does nothing until Start is called.
func New(cfg Config, devices MediaDevices, engine Engine, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if devices == nil {
		return nil, fmt.Errorf("dxscan: media devices are required")
	}
	if engine == nil {
		return nil, fmt.Errorf("dxscan: decoder engine is required")
	}

	c := &Controller{
		cfg:         cfg,
		devices:     devices,
		engine:      engine,
		navigator:   LogNavigator{},
		startTicks:  newTickerSource,
		cmds:        make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		format:      cfg.Format,
		canvas:      newCanvas(cfg.CanvasWidth, cfg.CanvasHeight),
		gate:        scanGate{cooldown: cfg.GateCooldown},
		timers:      make(map[uint64]*time.Timer),
		tickTimes:   pacing.NewWindow(pacing.DefaultWindowSize),
		notReadyLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.prefs == nil {
		c.prefs = NewPreferences(nil, nil, c.clock)
	}

	slog.Info("dxscan: controller created",
		"canvas", fmt.Sprintf("%dx%d", cfg.CanvasWidth, cfg.CanvasHeight),
		"tick_rate", cfg.TickRate,
		"format", cfg.Format,
		"try_harder", cfg.TryHarder,
	)
	return c, nil
}

func newTickerSource(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start launches the controller loop. The loop runs until Close is called
// or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if c.loopStarted {
		return fmt.Errorf("dxscan: controller already started")
	}
	c.loopStarted = true
	c.loopCtx = ctx
	c.startedAt = time.Now()

	go c.run(ctx)

	slog.Info("dxscan: controller started")
	return nil
}

// Close stops the render loop, cancels pending timers and releases the
// camera. Idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.loopStarted
		c.mu.Unlock()

		close(c.quit)
		if started {
			<-c.done
		} else {
			close(c.done)
		}
	})
	return nil
}

// Done is closed once the controller loop has exited
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// do runs fn on the loop goroutine and waits for it to finish
func (c *Controller) do(ctx context.Context, fn func()) error {
	c.mu.Lock()
	closed, started := c.closed, c.loopStarted
	c.mu.Unlock()
	if closed {
		return ErrControllerClosed
	}
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	select {
	case c.cmds <- func() { defer close(finished); fn() }:
	case <-c.done:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrControllerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enumerate lists video input devices into the selector options and
// pre-selects the preferred device. Enumeration failures are logged and
// leave the options empty; capture still works on the default device.
func (c *Controller) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := c.do(ctx, func() {
		c.enumerate(ctx)
		out = append([]DeviceInfo(nil), c.options...)
	})
	return out, err
}

// Activate starts capture on deviceID, or on the selector value if empty.
//
// A no-op if capture was already started. Refreshes the activation
// timestamp used by AutoResume.
func (c *Controller) Activate(ctx context.Context, deviceID string) error {
	var err error
	if doErr := c.do(ctx, func() { err = c.activate(ctx, deviceID, true) }); doErr != nil {
		return doErr
	}
	return err
}

// SwitchDevice stops the current stream and starts capture on deviceID.
//
// The device is persisted as preferred and the activation timestamp is
// refreshed.
func (c *Controller) SwitchDevice(ctx context.Context, deviceID string) error {
	var err error
	if doErr := c.do(ctx, func() { err = c.switchDevice(ctx, deviceID) }); doErr != nil {
		return doErr
	}
	return err
}

// AutoResume activates the preferred device without a user gesture if it
// was explicitly activated within the resume window.
//
// Returns true if capture was started.
func (c *Controller) AutoResume(ctx context.Context) (bool, error) {
	var (
		resumed bool
		err     error
	)
	if doErr := c.do(ctx, func() { resumed, err = c.autoResume(ctx) }); doErr != nil {
		return false, doErr
	}
	return resumed, err
}

// SetFormat sets the format selector value (empty accepts any format)
func (c *Controller) SetFormat(ctx context.Context, format string) error {
	return c.do(ctx, func() {
		if c.format != format {
			slog.Info("dxscan: format changed", "from", c.format, "to", format)
		}
		c.format = format
	})
}

// View returns the current page surface state
func (c *Controller) View(ctx context.Context) (View, error) {
	var v View
	err := c.do(ctx, func() {
		v = View{
			Options:       append([]DeviceInfo(nil), c.options...),
			Selected:      c.selected,
			Format:        c.format,
			Started:       c.started,
			CanvasVisible: c.canvasVisible,
		}
		if c.result != nil {
			r := *c.result
			v.Result = &r
		}
	})
	return v, err
}

// Snapshot returns a copy of the canvas
func (c *Controller) Snapshot(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := c.do(ctx, func() { img = c.canvas.snapshot() })
	return img, err
}

// Stats returns current scanner statistics. Once the loop has exited it
// returns the statistics captured at shutdown.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, func() { s = c.snapshotStats() })
	if errors.Is(err, ErrControllerClosed) {
		c.mu.Lock()
		final := c.finalStats
		c.mu.Unlock()
		if final != nil {
			return *final, nil
		}
	}
	return s, err
}
