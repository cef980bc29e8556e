// Package dxscan scans film DX barcodes from a live camera and redirects to
// the matching film search page.
//
// A Controller samples frames from a camera stream into a fixed-size canvas,
// hands each frame to a barcode decoder engine and, when a code of a
// recognized format is read, outlines it, shows the result and navigates to
// the search page after a short delay.
//
// # Quick Start
//
//	platform, err := gstcam.NewPlatform(gstcam.Config{Width: 640, Height: 480})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine := zxengine.New()
//	engine.InitAsync() // frames read before init count as "no code"
//
//	c, err := dxscan.New(dxscan.DefaultConfig(), platform, engine,
//	    dxscan.WithNavigator(dxscan.BrowserNavigator{BaseURL: "https://example.org/"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	c.Enumerate(ctx)
//	if resumed, _ := c.AutoResume(ctx); !resumed {
//	    c.Activate(ctx, "") // start on the selected device
//	}
//
// # Recognized Formats
//
//   - ITF: full DX code printed on the canister, searched as dx_full
//   - DXFilmEdge: DX number printed on the film edge, searched as dx_number
//
// Codes of other formats are shown but never trigger a redirect.
//
// # Scan Gate
//
// After a detection, decoding is suspended for Config.GateCooldown (1 second
// by default), so one physical code produces a single redirect.
//
// # Threading
//
// One goroutine owns all controller state: the active stream, the scan gate,
// the started flag and the canvas. Render ticks, gate and navigation timers
// and public method calls are all serialized on it. Frames are never queued:
// each tick reads the latest frame of the stream, and frames arriving while
// the engine initializes are dropped.
//
// # Resource Management
//
// Every engine buffer returned by Engine.Malloc is released with Engine.Free
// on every path. Switching devices stops all tracks of the current stream
// before requesting the next one. Close stops the render ticks, cancels
// pending timers and stops the stream.
package dxscan
