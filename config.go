package dxscan

import (
	"fmt"
	"time"
)

// Config contains configuration for the scanner controller
type Config struct {
	// CanvasWidth and CanvasHeight size the decode canvas in pixels
	CanvasWidth  int
	CanvasHeight int
	// TickRate is the render loop frequency in Hz (1 - 120)
	TickRate float64
	// Format is the initial format selector value (empty = any)
	Format string
	// TryHarder asks the engine for a slower, more thorough decode
	TryHarder bool
	// GateCooldown is how long the scan gate stays closed after a detection
	GateCooldown time.Duration
	// NavigateDelay is the pause between a detection and the redirect
	NavigateDelay time.Duration
	// ResumeWindow is how long an activation allows an automatic resume
	ResumeWindow time.Duration
	// SearchPath is the search page the redirect targets
	SearchPath string
	// LabelMarginX and LabelMarginY keep the decoded text inside the canvas
	LabelMarginX int
	LabelMarginY int
}

// DefaultConfig returns the scanner defaults
func DefaultConfig() Config {
	return Config{
		CanvasWidth:   300,
		CanvasHeight:  225,
		TickRate:      30,
		TryHarder:     true,
		GateCooldown:  time.Second,
		NavigateDelay: 500 * time.Millisecond,
		ResumeWindow:  5 * time.Minute,
		SearchPath:    "search",
		LabelMarginX:  85,
		LabelMarginY:  25,
	}
}

// Validate performs fail-fast validation of the configuration
func (c Config) Validate() error {
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("dxscan: invalid canvas %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.TickRate < 1 || c.TickRate > 120 {
		return fmt.Errorf("dxscan: invalid tick rate %.2f (must be 1-120)", c.TickRate)
	}
	if c.GateCooldown <= 0 {
		return fmt.Errorf("dxscan: gate cooldown must be positive")
	}
	if c.NavigateDelay < 0 {
		return fmt.Errorf("dxscan: navigate delay must not be negative")
	}
	if c.ResumeWindow < 0 {
		return fmt.Errorf("dxscan: resume window must not be negative")
	}
	if c.SearchPath == "" {
		return fmt.Errorf("dxscan: search path is required")
	}
	if c.LabelMarginX < 0 || c.LabelMarginY < 0 {
		return fmt.Errorf("dxscan: label margins must not be negative")
	}
	return nil
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}
