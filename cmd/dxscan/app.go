package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/config"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/gstcam"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/prefs"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/server"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/zxengine"
)

// loadConfig applies config file, dotenv, environment and flag overrides,
// validates the result and installs logging
func loadConfig(opts *rootOptions, override func(*config.Config)) (config.Config, io.Closer, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, setupLogging(cfg.Log, opts.debug), nil
}

// app holds the wired scanner and everything that must be closed with it
type app struct {
	cfg        config.Config
	platform   *gstcam.Platform
	engine     *zxengine.Engine
	controller *dxscan.Controller
	hub        *server.Hub
	saver      *dxscan.SnapshotSaver

	closers []io.Closer
}

// newApp wires platform, engine, preference stores and controller.
// A hub is created when results are pushed to attached pages.
func newApp(ctx context.Context, cfg config.Config, withHub bool) (*app, error) {
	a := &app{cfg: cfg}

	platform, err := gstcam.NewPlatform(cfg.ToCamera())
	if err != nil {
		return nil, err
	}
	a.platform = platform

	// Frames read while the engine initializes count as "no code"
	a.engine = zxengine.New()
	a.engine.InitAsync()

	store, err := a.openPreferences(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []dxscan.Option{dxscan.WithPreferences(store)}

	if withHub {
		a.hub = server.NewHub()
		opts = append(opts, dxscan.WithResultSink(a.hub))
	}
	switch cfg.Scanner.Navigator {
	case "page":
		if a.hub != nil {
			opts = append(opts, dxscan.WithNavigator(a.hub))
		} else {
			slog.Warn("dxscan: no page attached in this mode, navigation is only logged")
		}
	case "browser":
		opts = append(opts, dxscan.WithNavigator(dxscan.BrowserNavigator{BaseURL: cfg.Scanner.BaseURL}))
	}

	if cfg.Snapshot.Dir != "" {
		saver, err := dxscan.NewSnapshotSaver(cfg.ToSnapshot())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.saver = saver
		opts = append(opts, dxscan.WithSnapshotSaver(saver))
	}

	controller, err := dxscan.New(cfg.ToController(), platform, a.engine, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.controller = controller
	return a, nil
}

func (a *app) openPreferences(ctx context.Context) (*dxscan.Preferences, error) {
	var durable dxscan.KeyValueStore = prefs.NewMemoryStore()
	if path := a.cfg.Prefs.SQLitePath; path != "" {
		db, err := prefs.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		durable = db
		slog.Info("dxscan: durable preferences in sqlite", "path", path)
	}

	var session dxscan.KeyValueStore = prefs.NewMemoryStoreTTL(a.cfg.Prefs.Redis.TTL)
	if a.cfg.Prefs.Redis.Addr != "" {
		rs, err := prefs.NewRedisStore(ctx, a.cfg.ToRedis())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs)
		session = rs
		slog.Info("dxscan: session preferences in redis", "addr", a.cfg.Prefs.Redis.Addr, "session", rs.Session())
	}

	return dxscan.NewPreferences(durable, session, dxscan.SystemClock{}), nil
}

// startCapture runs the page-load sequence: enumerate devices, resume the
// last session if recent, otherwise start on device when requested
func (a *app) startCapture(ctx context.Context, device string, activate bool) error {
	options, err := a.controller.Enumerate(ctx)
	if err != nil {
		return err
	}
	slog.Info("dxscan: devices enumerated", "video_inputs", len(options))

	resumed, err := a.controller.AutoResume(ctx)
	if err != nil {
		slog.Warn("dxscan: auto-resume failed", "error", err)
	}
	if resumed || !activate {
		return nil
	}
	if err := a.controller.Activate(ctx, device); err != nil {
		return fmt.Errorf("dxscan: activation failed: %w", err)
	}
	return nil
}

// reportStats prints scanner statistics every interval until ctx ends
func (a *app) reportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.controller.Stats(ctx)
			if err != nil {
				return
			}
			a.printStats(stats)
		}
	}
}

func (a *app) printStats(stats dxscan.Stats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Scanner Statistics (Uptime: %s)\n", stats.Uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Device:             %s\n", valueOr(stats.DeviceID, "(none)"))
	fmt.Printf("│ Ticks:              %6d\n", stats.Ticks)
	fmt.Printf("│ Tick FPS:           %6.2f fps (σ %.2f, stable %v)\n", stats.TickFPS, stats.TickFPSStdDev, stats.TickStable)
	fmt.Printf("│ Frames Drawn:       %6d frames\n", stats.FramesDrawn)
	fmt.Printf("│ Frames Decoded:     %6d frames\n", stats.FramesDecoded)
	fmt.Printf("│ Gate Skips:         %6d ticks\n", stats.GateSkips)
	fmt.Printf("│ Detections:         %6d\n", stats.Detections)
	fmt.Printf("│ Navigations:        %6d\n", stats.Navigations)
	if stats.EngineNotReady > 0 || stats.DecodeErrors > 0 || stats.TickPanics > 0 || stats.NavigationErrors > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Engine Not Ready:   %6d frames\n", stats.EngineNotReady)
		fmt.Printf("│ Decode Errors:      %6d\n", stats.DecodeErrors)
		fmt.Printf("│ Tick Panics:        %6d\n", stats.TickPanics)
		fmt.Printf("│ Navigation Errors:  %6d\n", stats.NavigationErrors)
	}
	if cs, ok := a.platform.Stats(); ok {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Frames Captured:    %6d frames\n", cs.FrameCount)
		fmt.Printf("│ Capture Drops:      %6d frames\n", cs.FramesDropped)
		fmt.Printf("│ Capture FPS:        %6.2f fps\n", cs.FPSReal)
		fmt.Printf("│ Bytes Read:         %6.2f MB\n", float64(cs.BytesRead)/1024/1024)
		fmt.Printf("│ Live:               %6v\n", cs.Live)
	}
	if a.saver != nil {
		saved, dropped, failed := a.saver.Counts()
		fmt.Printf("│ Snapshots:          %6d saved, %d dropped, %d failed\n", saved, dropped, failed)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

// Close stops the controller and releases every store
func (a *app) Close() {
	if a.controller != nil {
		if err := a.controller.Close(); err != nil {
			slog.Error("dxscan: error closing controller", "error", err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.saver != nil {
		a.saver.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Error("dxscan: error closing store", "error", err)
		}
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func printBanner(cfg config.Config, mode string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              dxscan - DX Barcode Scanner                  ║\n")
	fmt.Printf("║                     Version %s                        ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Mode:          %s\n", mode)
	fmt.Printf("  Source:        %s\n", cfg.Camera.Source)
	fmt.Printf("  Capture:       %dx%d\n", cfg.Camera.Width, cfg.Camera.Height)
	fmt.Printf("  Canvas:        %dx%d @ %.0f Hz\n", cfg.Scanner.CanvasWidth, cfg.Scanner.CanvasHeight, cfg.Scanner.TickRate)
	fmt.Printf("  Format:        %s\n", valueOr(cfg.Scanner.Format, "any"))
	fmt.Printf("  Navigator:     %s\n", cfg.Scanner.Navigator)
	if cfg.Snapshot.Dir != "" {
		fmt.Printf("  Snapshots:     %s (%s)\n", cfg.Snapshot.Dir, cfg.Snapshot.Format)
	} else {
		fmt.Printf("  Snapshots:     (none)\n")
	}
	fmt.Printf("\n")
}
