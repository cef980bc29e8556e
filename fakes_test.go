package dxscan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/prefs"
)

// eventLog records platform calls in order
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeTrack struct {
	id  string
	log *eventLog

	mu      sync.Mutex
	stopped bool
	stopErr error
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopErr != nil {
		return t.stopErr
	}
	if !t.stopped {
		t.stopped = true
		t.log.add("stop:" + t.id)
	}
	return nil
}

// failStop makes Stop fail and leave the track live
func (t *fakeTrack) failStop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopErr = err
}

func (t *fakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
	frame  Frame
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Play(context.Context) error { return nil }

func (s *fakeStream) CurrentFrame() (Frame, bool) { return s.frame, true }

func (s *fakeStream) live() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

type fakeDevices struct {
	log *eventLog

	mu          sync.Mutex
	devices     []DeviceInfo
	enumErr     error
	acquireErr  error
	requests    []Constraints
	streams     []*fakeStream
	overlapping bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		log: &eventLog{},
		devices: []DeviceInfo{
			{DeviceID: "mic0", Kind: KindAudioInput, Label: "Microphone"},
			{DeviceID: "cam0", Kind: KindVideoInput, Label: "Front Camera"},
			{DeviceID: "cam1", Kind: KindVideoInput, Label: "Back Camera"},
		},
	}
}

func (d *fakeDevices) EnumerateDevices(context.Context) ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	return append([]DeviceInfo(nil), d.devices...), nil
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c Constraints) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, c)
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	for _, s := range d.streams {
		if s.live() {
			d.overlapping = true
		}
	}

	id := fmt.Sprintf("stream%d", len(d.streams))
	s := &fakeStream{
		id:     id,
		tracks: []*fakeTrack{{id: id + "/video", log: d.log}},
		frame:  testFrame(300, 225),
	}
	d.streams = append(d.streams, s)
	d.log.add("acquire:" + c.DeviceID)
	return s, nil
}

func (d *fakeDevices) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDevices) lastRequest() Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func (d *fakeDevices) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

func (d *fakeDevices) liveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if s.live() {
			n++
		}
	}
	return n
}

func testFrame(w, h int) Frame {
	return Frame{
		Seq:       1,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      make([]byte, w*h*4),
		TraceID:   "trace-1",
	}
}

type fakeBuffer struct {
	data []byte
}

func (b *fakeBuffer) Bytes() []byte { return b.data }

// fakeEngine returns result for every frame and counts buffers
type fakeEngine struct {
	mu          sync.Mutex
	result      ScanResult
	err         error
	panicNext   bool
	calls       int
	outstanding int
	lastFormat  string
}

func (e *fakeEngine) Malloc(size int) (Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outstanding++
	return &fakeBuffer{data: make([]byte, size)}, nil
}

func (e *fakeEngine) Free(Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outstanding--
}

func (e *fakeEngine) ReadBarcodeFromPixmap(_ Buffer, _, _ int, _ bool, format string) (ScanResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastFormat = format
	if e.panicNext {
		e.panicNext = false
		panic("decoder crashed")
	}
	return e.result, e.err
}

func (e *fakeEngine) set(res ScanResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result, e.err = res, err
}

func (e *fakeEngine) counts() (calls, outstanding int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.outstanding
}

type fakeNavigator struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (n *fakeNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return n.err
}

func (n *fakeNavigator) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type fakeSink struct {
	mu   sync.Mutex
	dets []Detection
}

func (s *fakeSink) ShowResult(d Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dets = append(s.dets, d)
}

func (s *fakeSink) list() []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Detection(nil), s.dets...)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// harness bundles a started controller with its fakes
type harness struct {
	c        *Controller
	devices  *fakeDevices
	engine   *fakeEngine
	nav      *fakeNavigator
	sink     *fakeSink
	durable  *prefs.MemoryStore
	session  *prefs.MemoryStore
	ticks    chan time.Time
	tickTime time.Time
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GateCooldown = 50 * time.Millisecond
	cfg.NavigateDelay = 20 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, clock Clock) *harness {
	t.Helper()

	h := &harness{
		devices:  newFakeDevices(),
		engine:   &fakeEngine{},
		nav:      &fakeNavigator{},
		sink:     &fakeSink{},
		durable:  prefs.NewMemoryStore(),
		session:  prefs.NewMemoryStore(),
		ticks:    make(chan time.Time),
		tickTime: time.Now(),
	}
	if clock == nil {
		clock = SystemClock{}
	}

	c, err := New(cfg, h.devices, h.engine,
		WithNavigator(h.nav),
		WithResultSink(h.sink),
		WithClock(clock),
		WithPreferences(NewPreferences(h.durable, h.session, clock)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.startTicks = func(time.Duration) (<-chan time.Time, func()) {
		return h.ticks, func() {}
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	h.c = c
	return h
}

// tick runs one render tick and waits for it to complete
func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.tickTime = h.tickTime.Add(33 * time.Millisecond)
	select {
	case h.ticks <- h.tickTime:
	case <-time.After(2 * time.Second):
		t.Fatal("render loop not ticking")
	}
	h.stats(t)
}

func (h *harness) stats(t *testing.T) Stats {
	t.Helper()
	s, err := h.c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	return s
}

func (h *harness) view(t *testing.T) View {
	t.Helper()
	v, err := h.c.View(context.Background())
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
