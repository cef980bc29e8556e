package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/gorilla/websocket"
)

type fakeScanner struct {
	mu       sync.Mutex
	view     dxscan.View
	stats    dxscan.Stats
	err      error
	calls    []string
	activate error
}

func (f *fakeScanner) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeScanner) View(context.Context) (dxscan.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view, f.err
}

func (f *fakeScanner) Activate(_ context.Context, id string) error {
	f.record("activate:" + id)
	if f.activate != nil {
		return f.activate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view.Started = true
	return nil
}

func (f *fakeScanner) SwitchDevice(_ context.Context, id string) error {
	f.record("switch:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view.Selected = id
	return nil
}

func (f *fakeScanner) SetFormat(_ context.Context, format string) error {
	f.record("format:" + format)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view.Format = format
	return nil
}

func (f *fakeScanner) Snapshot(context.Context) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 30, 20)), f.err
}

func (f *fakeScanner) Stats(context.Context) (dxscan.Stats, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T, scanner Scanner, cfg Config) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = ":0"
	}
	s, err := New(cfg, scanner, NewHub())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_FailFast(t *testing.T) {
	if _, err := New(Config{Addr: ":0"}, nil, nil); err == nil {
		t.Error("expected error for nil scanner")
	}
	if _, err := New(Config{}, &fakeScanner{}, nil); err == nil {
		t.Error("expected error for empty address")
	}
	if _, err := New(Config{Addr: ":0", RateLimit: -1}, &fakeScanner{}, nil); err == nil {
		t.Error("expected error for negative rate")
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeScanner{}, Config{})
	rec := do(t, s, "GET", "/healthz", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "OK" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDevices(t *testing.T) {
	fs := &fakeScanner{view: dxscan.View{
		Options:  []dxscan.DeviceInfo{{DeviceID: "/dev/video0", Label: "Rear"}},
		Selected: "/dev/video0",
	}}
	s := newTestServer(t, fs, Config{})

	rec := do(t, s, "GET", "/api/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got devicesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Selected != "/dev/video0" || len(got.Options) != 1 || got.Options[0].Label != "Rear" {
		t.Errorf("devices = %+v", got)
	}
}

func TestDevices_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeScanner{}, Config{})
	rec := do(t, s, "GET", "/api/devices", "")
	if !strings.Contains(rec.Body.String(), `"options":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestActivate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no body uses selector", "", "activate:"},
		{"explicit device", `{"deviceId":"/dev/video2"}`, "activate:/dev/video2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeScanner{}
			s := newTestServer(t, fs, Config{})
			rec := do(t, s, "POST", "/api/activate", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if len(fs.calls) != 1 || fs.calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", fs.calls, tt.want)
			}
			var v dxscan.View
			if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
				t.Fatal(err)
			}
			if !v.Started {
				t.Error("view not started after activate")
			}
		})
	}
}

func TestActivate_BadBody(t *testing.T) {
	fs := &fakeScanner{}
	s := newTestServer(t, fs, Config{})
	rec := do(t, s, "POST", "/api/activate", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(fs.calls) != 0 {
		t.Errorf("scanner called: %v", fs.calls)
	}
}

func TestSwitchDeviceAndFormat(t *testing.T) {
	fs := &fakeScanner{}
	s := newTestServer(t, fs, Config{})

	if rec := do(t, s, "PUT", "/api/device", `{"deviceId":"/dev/video1"}`); rec.Code != http.StatusOK {
		t.Fatalf("device status = %d", rec.Code)
	}
	if rec := do(t, s, "PUT", "/api/format", `{"format":"ITF"}`); rec.Code != http.StatusOK {
		t.Fatalf("format status = %d", rec.Code)
	}
	want := []string{"switch:/dev/video1", "format:ITF"}
	if fmt.Sprint(fs.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", fs.calls, want)
	}
	if fs.view.Selected != "/dev/video1" || fs.view.Format != "ITF" {
		t.Errorf("view = %+v", fs.view)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method, path string
	}{
		{"GET", "/api/activate"},
		{"POST", "/api/view"},
		{"GET", "/api/device"},
		{"DELETE", "/api/format"},
	}
	for _, cfg := range []Config{{}, {RateLimit: 100, RateBurst: 100}} {
		s := newTestServer(t, &fakeScanner{}, cfg)
		for _, tt := range tests {
			if rec := do(t, s, tt.method, tt.path, ""); rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s (rate limit %v) status = %d, want 405", tt.method, tt.path, cfg.RateLimit, rec.Code)
			}
		}
	}

	s := newTestServer(t, &fakeScanner{}, Config{})
	if rec := do(t, s, "GET", "/api/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestResult(t *testing.T) {
	fs := &fakeScanner{}
	s := newTestServer(t, fs, Config{})

	if rec := do(t, s, "GET", "/api/result", ""); rec.Code != http.StatusNoContent {
		t.Errorf("empty result status = %d, want 204", rec.Code)
	}

	fs.view.Result = &dxscan.Detection{Format: "ITF", Text: "025943", HTML: "ITF: 025943", DXExtract: "2594"}
	rec := do(t, s, "GET", "/api/result", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var d dxscan.Detection
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Text != "025943" || d.DXExtract != "2594" {
		t.Errorf("result = %+v", d)
	}
}

func TestCanvas(t *testing.T) {
	s := newTestServer(t, &fakeScanner{}, Config{})
	rec := do(t, s, "GET", "/api/canvas.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Errorf("canvas size = %v", b)
	}
}

func TestStats(t *testing.T) {
	fs := &fakeScanner{stats: dxscan.Stats{Ticks: 42, Detections: 3}}
	s := newTestServer(t, fs, Config{})
	rec := do(t, s, "GET", "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Ticks != 42 || got.Detections != 3 || got.Clients != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{dxscan.ErrNotStarted, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", dxscan.ErrControllerClosed), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("dxscan: failed to acquire camera: %w", dxscan.ErrNoDevice), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer(t, &fakeScanner{err: tt.err}, Config{})
			if rec := do(t, s, "GET", "/api/view", ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeScanner{}, Config{RateLimit: 0.001, RateBurst: 2})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, s, "GET", "/api/view", "").Code
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	if fmt.Sprint(codes) != fmt.Sprint(want) {
		t.Errorf("codes = %v, want %v", codes, want)
	}

	// Health checks are not limited
	if rec := do(t, s, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.limiterFor("10.0.0.1")
	l.limiterFor("10.0.0.2")
	if n := l.size(); n != 2 {
		t.Fatalf("buckets = %d, want 2", n)
	}

	now = now.Add(limiterIdleTTL / 2)
	l.limiterFor("10.0.0.2")

	// 10.0.0.1 has been idle a full TTL, 10.0.0.2 has not
	now = now.Add(limiterIdleTTL * 3 / 4)
	l.limiterFor("10.0.0.3")
	l.mu.Lock()
	_, stale := l.buckets["10.0.0.1"]
	_, active := l.buckets["10.0.0.2"]
	l.mu.Unlock()
	if stale || !active {
		t.Errorf("after sweep: 10.0.0.1 kept = %v, 10.0.0.2 kept = %v", stale, active)
	}
	if n := l.size(); n != 2 {
		t.Errorf("buckets after idle sweep = %d, want 2", n)
	}

	// A returning client starts with a fresh bucket
	if !l.limiterFor("10.0.0.1").Allow() {
		t.Error("evicted client should get a full bucket")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := clientIP(r); got != "10.1.2.3" {
		t.Errorf("clientIP() = %q", got)
	}
	r.RemoteAddr = "unix"
	if got := clientIP(r); got != "unix" {
		t.Errorf("clientIP() = %q", got)
	}
}

func TestHub_NavigateWithoutClients(t *testing.T) {
	h := NewHub()
	if err := h.Navigate(context.Background(), "search?dx_full=1"); !errors.Is(err, ErrNoClients) {
		t.Errorf("Navigate() error = %v, want ErrNoClients", err)
	}
}

func TestHub_PushesToPage(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("page never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.ShowResult(dxscan.Detection{Format: "ITF", Text: "025943"})
	if err := hub.Navigate(context.Background(), "search?dx_full=025943"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msgs []Message
	for len(msgs) < 2 {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		msgs = append(msgs, m)
	}

	if msgs[0].Type != "result" || msgs[0].Detection == nil || msgs[0].Detection.Text != "025943" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Type != "navigate" || msgs[1].URL != "search?dx_full=025943" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if sent, dropped := hub.Counts(); sent != 2 || dropped != 0 {
		t.Errorf("counts = %d sent, %d dropped", sent, dropped)
	}
}

func TestHub_SlowClientDrops(t *testing.T) {
	hub := NewHub()
	c := &client{id: "slow", send: make(chan []byte, 1)}
	if !hub.register(c) {
		t.Fatal("register failed")
	}

	hub.ShowResult(dxscan.Detection{Text: "a"})
	hub.ShowResult(dxscan.Detection{Text: "b"})

	if sent, dropped := hub.Counts(); sent != 1 || dropped != 1 {
		t.Errorf("counts = %d sent, %d dropped; want 1, 1", sent, dropped)
	}

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("clients after Close = %d", hub.Clients())
	}
	if hub.register(&client{send: make(chan []byte)}) {
		t.Error("register succeeded after Close")
	}
}
