package dxscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const navigateTimeout = 5 * time.Second

// run is the controller loop. It owns every loop-state field of Controller.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.shutdown()
			return
		case <-ctx.Done():
			slog.Debug("dxscan: context cancelled, stopping controller loop")
			c.shutdown()
			return
		case fn := <-c.cmds:
			fn()
		case now := <-c.tickC:
			c.safeTick(now)
		}
	}
}

// post schedules fn on the loop from another goroutine; dropped after Close
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.quit:
	case <-c.done:
	}
}

// after runs fn on the loop once d has elapsed, unless the loop stops first
func (c *Controller) after(d time.Duration, fn func()) {
	c.timerSeq++
	id := c.timerSeq
	c.timers[id] = time.AfterFunc(d, func() {
		c.post(func() {
			if _, pending := c.timers[id]; !pending {
				return
			}
			delete(c.timers, id)
			fn()
		})
	})
}

func (c *Controller) shutdown() {
	slog.Info("dxscan: stopping controller")

	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	if c.stopTicks != nil {
		c.stopTicks()
		c.stopTicks = nil
		c.tickC = nil
	}
	if err := c.stopStream(); err != nil {
		c.stream = nil
		c.streamDevice = ""
	}
	c.gate.reset()
	c.started = false

	s := c.snapshotStats()
	c.mu.Lock()
	c.finalStats = &s
	c.mu.Unlock()

	slog.Info("dxscan: controller stopped",
		"ticks", s.Ticks,
		"frames_decoded", s.FramesDecoded,
		"detections", s.Detections,
		"navigations", s.Navigations,
		"navigation_errors", s.NavigationErrors,
		"uptime", s.Uptime,
	)
}

func (c *Controller) enumerate(ctx context.Context) {
	devices, err := c.devices.EnumerateDevices(ctx)
	if err != nil {
		if errors.Is(err, ErrEnumerationUnsupported) {
			slog.Info("dxscan: device enumeration not supported, using default device")
		} else {
			slog.Error("dxscan: device enumeration failed, using default device", "error", err)
		}
		return
	}

	preferred, err := c.prefs.PreferredCamera(ctx)
	if err != nil {
		slog.Warn("dxscan: preferred camera unavailable", "error", err)
	}

	c.options = c.options[:0]
	for _, d := range devices {
		if d.Kind != KindVideoInput {
			continue
		}
		c.options = append(c.options, d)
		slog.Debug("dxscan: video input found", "device_id", d.DeviceID, "label", d.Label)
		if d.DeviceID == preferred {
			c.selected = d.DeviceID
		}
	}
	if c.selected == "" && len(c.options) > 0 {
		c.selected = c.options[0].DeviceID
	}

	slog.Info("dxscan: devices enumerated",
		"video_inputs", len(c.options),
		"selected", c.selected,
	)
}

func (c *Controller) activate(ctx context.Context, deviceID string, explicit bool) error {
	if c.started {
		slog.Debug("dxscan: capture already started, ignoring activation")
		return nil
	}
	// A stream left over from a failed release must go before a new one
	if err := c.stopStream(); err != nil {
		return fmt.Errorf("dxscan: previous camera not released: %w", err)
	}
	c.started = true

	if explicit {
		if err := c.prefs.MarkActivated(ctx); err != nil {
			slog.Warn("dxscan: activation not recorded", "error", err)
		}
	}

	target := deviceID
	if target == "" {
		target = c.selected
	}
	if err := c.acquire(ctx, target); err != nil {
		c.started = false
		return err
	}
	if target != "" {
		c.selected = target
	}
	return nil
}

func (c *Controller) switchDevice(ctx context.Context, deviceID string) error {
	if err := c.stopStream(); err != nil {
		c.started = false
		return fmt.Errorf("dxscan: previous camera not released: %w", err)
	}
	c.started = true
	c.selected = deviceID

	if deviceID != "" {
		if err := c.prefs.SetPreferredCamera(ctx, deviceID); err != nil {
			slog.Warn("dxscan: preferred camera not persisted", "error", err)
		}
	}
	if err := c.prefs.MarkActivated(ctx); err != nil {
		slog.Warn("dxscan: activation not recorded", "error", err)
	}

	if err := c.acquire(ctx, deviceID); err != nil {
		c.started = false
		return err
	}
	return nil
}

func (c *Controller) autoResume(ctx context.Context) (bool, error) {
	if c.started {
		return false, nil
	}
	recent, err := c.prefs.ActivatedWithin(ctx, c.cfg.ResumeWindow)
	if err != nil {
		slog.Warn("dxscan: cannot check last activation", "error", err)
		return false, nil
	}
	if !recent {
		slog.Debug("dxscan: no recent activation, waiting for user")
		return false, nil
	}
	preferred, err := c.prefs.PreferredCamera(ctx)
	if err != nil {
		slog.Warn("dxscan: preferred camera unavailable", "error", err)
		return false, nil
	}
	if preferred == "" {
		return false, nil
	}

	slog.Info("dxscan: resuming capture on preferred camera", "device_id", preferred)
	c.selected = preferred
	if err := c.activate(ctx, preferred, false); err != nil {
		return false, err
	}
	return true, nil
}

// acquire requests a stream, binds it and starts the render ticks.
// The previous stream must already be stopped.
func (c *Controller) acquire(ctx context.Context, deviceID string) error {
	c.canvasVisible = true

	stream, err := c.devices.GetUserMedia(ctx, Constraints{
		DeviceID:   deviceID,
		FacingMode: "environment",
	})
	if err != nil {
		slog.Error("dxscan: error accessing camera", "device_id", deviceID, "error", err)
		return fmt.Errorf("dxscan: failed to acquire camera: %w", err)
	}
	if err := stream.Play(ctx); err != nil {
		if stopErr := stopTracks(stream); stopErr != nil {
			slog.Warn("dxscan: stream not released after playback failure", "error", stopErr)
		}
		slog.Error("dxscan: playback failed", "device_id", deviceID, "error", err)
		return fmt.Errorf("dxscan: failed to start playback: %w", err)
	}

	c.stream = stream
	c.streamDevice = deviceID
	if c.tickC == nil {
		c.tickC, c.stopTicks = c.startTicks(c.cfg.tickInterval())
		slog.Debug("dxscan: render loop started", "interval", c.cfg.tickInterval())
	}

	slog.Info("dxscan: capture started",
		"device_id", deviceID,
		"stream_id", stream.ID(),
		"tracks", len(stream.Tracks()),
	)
	return nil
}

// stopStream releases the bound stream. On failure the stream stays bound
// so no second device is opened while it may still be live.
func (c *Controller) stopStream() error {
	if c.stream == nil {
		return nil
	}
	if err := stopTracks(c.stream); err != nil {
		slog.Error("dxscan: capture not released", "device_id", c.streamDevice, "stream_id", c.stream.ID(), "error", err)
		return err
	}
	slog.Info("dxscan: capture stopped", "device_id", c.streamDevice, "stream_id", c.stream.ID())
	c.stream = nil
	c.streamDevice = ""
	return nil
}

func stopTracks(s MediaStream) error {
	var errs []error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("dxscan: failed to stop track %s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// safeTick isolates a tick so a failure never halts the loop
func (c *Controller) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.TickPanics++
			slog.Error("dxscan: render tick panicked", "panic", r)
		}
	}()
	c.tick(now)
}

func (c *Controller) tick(now time.Time) {
	c.stats.Ticks++
	c.tickTimes.Add(now)

	if !c.gate.isOpen() {
		c.stats.GateSkips++
		return
	}
	if c.stream == nil {
		return
	}
	frame, ok := c.stream.CurrentFrame()
	if !ok {
		return
	}
	if err := c.canvas.drawFrame(frame); err != nil {
		slog.Debug("dxscan: frame not drawn", "seq", frame.Seq, "error", err)
		return
	}
	c.stats.FramesDrawn++

	res, err := c.decode()
	if err != nil {
		if errors.Is(err, ErrEngineNotReady) {
			c.stats.EngineNotReady++
			c.notReadyLog.Do(func() {
				slog.Warn("dxscan: decoder not yet initialized, dropping frames")
			})
			return
		}
		c.stats.DecodeErrors++
		slog.Warn("dxscan: decode failed", "seq", frame.Seq, "trace_id", frame.TraceID, "error", err)
		return
	}
	if !res.Found() {
		return
	}
	c.detected(res, frame)
}

// decode marshals the canvas into an engine buffer; the buffer is freed on
// every path
func (c *Controller) decode() (ScanResult, error) {
	pix := c.canvas.pixels()
	buf, err := c.engine.Malloc(len(pix))
	if err != nil {
		return ScanResult{}, fmt.Errorf("dxscan: engine allocation failed: %w", err)
	}
	defer c.engine.Free(buf)

	copy(buf.Bytes(), pix)
	c.stats.FramesDecoded++
	return c.engine.ReadBarcodeFromPixmap(buf, c.canvas.width(), c.canvas.height(), c.cfg.TryHarder, c.format)
}

func (c *Controller) detected(res ScanResult, frame Frame) {
	generation := c.gate.close()
	c.after(c.gate.cooldown, func() {
		if c.gate.reopen(generation) {
			slog.Debug("dxscan: scan gate reopened")
		}
	})

	label := labelAnchor(res.Position, c.canvas.width(), c.canvas.height(), c.cfg.LabelMarginX, c.cfg.LabelMarginY)
	c.canvas.strokeQuad(res.Position)
	c.canvas.drawLabel(res.Text, label)

	det := Detection{
		Format:    res.Format,
		Text:      res.Text,
		HTML:      resultHTML(res.Format, res.Text),
		DXExtract: dxExtract(res.Format, res.Text),
		Position:  res.Position,
		Label:     label,
		At:        c.clock.Now(),
		TraceID:   frame.TraceID,
	}
	if target, ok := SearchURL(c.cfg.SearchPath, res.Format, res.Text); ok {
		det.SearchURL = target
	}
	c.result = &det
	c.stats.Detections++

	slog.Info("dxscan: code detected",
		"format", det.Format,
		"text", det.Text,
		"dx_extract", det.DXExtract,
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
	)

	if c.sink != nil {
		c.sink.ShowResult(det)
	}
	if c.saver != nil {
		c.saver.Save(c.canvas.snapshot(), det)
	}
	if det.SearchURL != "" {
		target := det.SearchURL
		c.after(c.cfg.NavigateDelay, func() { c.navigate(target) })
	}
}

func (c *Controller) navigate(target string) {
	ctx, cancel := context.WithTimeout(c.loopCtx, navigateTimeout)
	defer cancel()

	if err := c.navigator.Navigate(ctx, target); err != nil {
		c.stats.NavigationErrors++
		slog.Error("dxscan: navigation failed", "url", target, "error", err)
		return
	}
	c.stats.Navigations++
}

func (c *Controller) snapshotStats() Stats {
	s := c.stats
	s.StreamActive = c.stream != nil
	s.DeviceID = c.streamDevice
	if !c.startedAt.IsZero() {
		s.Uptime = time.Since(c.startedAt)
	}
	ts := c.tickTimes.Stats()
	s.TickFPS = ts.FPSMean
	s.TickFPSStdDev = ts.FPSStdDev
	s.TickStable = ts.IsStable
	return s
}
