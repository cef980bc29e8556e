// Package gstcam implements the scanner's media platform with GStreamer.
//
// Devices are listed from the V4L2 sysfs inventory. GetUserMedia builds a
// v4l2src pipeline ending in an appsink that keeps only the newest RGBA
// frame, and the returned stream exposes that frame to the render loop.
package gstcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
)

// Config contains configuration for the camera platform
type Config struct {
	// Width and Height of captured frames
	Width  int
	Height int
	// FPS caps the capture rate; 0 keeps the camera rate
	FPS int
	// Source is "v4l2src" (default) or "videotestsrc" for a synthetic camera
	Source string
	// SysfsRoot overrides the V4L2 inventory location
	SysfsRoot string
}

// Platform is a dxscan.MediaDevices backed by GStreamer
type Platform struct {
	cfg Config

	mu      sync.Mutex
	current *Stream
}

// NewPlatform creates a camera platform with fail-fast validation
func NewPlatform(cfg Config) (*Platform, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstcam: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0 || cfg.FPS > 120 {
		return nil, fmt.Errorf("gstcam: invalid FPS %d (must be 0-120)", cfg.FPS)
	}
	if cfg.Source == "" {
		cfg.Source = "v4l2src"
	}
	if cfg.Source != "v4l2src" && cfg.Source != "videotestsrc" {
		return nil, fmt.Errorf("gstcam: unsupported source %q", cfg.Source)
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = DefaultSysfsRoot
	}
	if err := checkGStreamerAvailable(cfg.Source); err != nil {
		return nil, fmt.Errorf("gstcam: GStreamer not available: %w", err)
	}

	slog.Info("gstcam: platform created",
		"source", cfg.Source,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)
	return &Platform{cfg: cfg}, nil
}

// EnumerateDevices lists V4L2 nodes. The synthetic source has one device.
func (p *Platform) EnumerateDevices(_ context.Context) ([]dxscan.DeviceInfo, error) {
	if p.cfg.Source == "videotestsrc" {
		return []dxscan.DeviceInfo{{DeviceID: "test", Kind: dxscan.KindVideoInput, Label: "Test Pattern"}}, nil
	}
	return ListDevices(p.cfg.SysfsRoot)
}

// GetUserMedia opens a capture stream.
//
// Without an explicit device, the facing-mode hint picks a camera whose
// label says it faces that way, else the first camera.
func (p *Platform) GetUserMedia(ctx context.Context, c dxscan.Constraints) (dxscan.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device := c.DeviceID
	if p.cfg.Source == "videotestsrc" {
		device = ""
	} else if device == "" {
		devices, err := ListDevices(p.cfg.SysfsRoot)
		if err != nil && !errors.Is(err, dxscan.ErrEnumerationUnsupported) {
			slog.Warn("gstcam: device inventory unavailable", "error", err)
		}
		device = pickFacing(devices, c.FacingMode)
		if err == nil && device == "" {
			return nil, dxscan.ErrNoDevice
		}
		slog.Debug("gstcam: resolved default device", "device", deviceName(device), "facing_mode", c.FacingMode)
	}

	s, err := openStream(PipelineConfig{
		Source: p.cfg.Source,
		Device: device,
		Width:  p.cfg.Width,
		Height: p.cfg.Height,
		FPS:    p.cfg.FPS,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	slog.Info("gstcam: device opened", "stream_id", s.ID(), "device", deviceName(device))
	return s, nil
}

// Stats returns statistics of the most recently opened stream
func (p *Platform) Stats() (StreamStats, bool) {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return StreamStats{}, false
	}
	return s.Stats(), true
}
