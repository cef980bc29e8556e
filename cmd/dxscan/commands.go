package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/config"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/gstcam"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/server"
	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	var sysfsRoot string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List camera devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := loadConfig(opts, func(c *config.Config) {
				if cmd.Flags().Changed("sysfs-root") {
					c.Camera.SysfsRoot = sysfsRoot
				}
			})
			if err != nil {
				return err
			}
			defer logCloser.Close()

			root := cfg.Camera.SysfsRoot
			if root == "" {
				root = gstcam.DefaultSysfsRoot
			}
			devices, err := gstcam.ListDevices(root)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tKIND\tLABEL")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.DeviceID, d.Kind, d.Label)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&sysfsRoot, "sysfs-root", gstcam.DefaultSysfsRoot, "V4L2 sysfs inventory")
	return cmd
}

type captureFlags struct {
	device        string
	format        string
	source        string
	navigator     string
	snapshotDir   string
	statsInterval time.Duration
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.device, "device", "", "Camera device (default: preferred, else the rear-facing camera)")
	cmd.Flags().StringVar(&f.format, "format", "", "Accepted barcode format (empty = any)")
	cmd.Flags().StringVar(&f.source, "source", "", "Capture source: v4l2src, videotestsrc")
	cmd.Flags().StringVar(&f.navigator, "navigator", "", "Navigation target: page, browser, log")
	cmd.Flags().StringVar(&f.snapshotDir, "snapshots", "", "Directory to save annotated detections")
	cmd.Flags().DurationVar(&f.statsInterval, "stats-interval", 30*time.Second, "Interval between stats reports (0 = off)")
}

func (f *captureFlags) apply(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("format") {
		c.Scanner.Format = f.format
	}
	if cmd.Flags().Changed("source") {
		c.Camera.Source = f.source
	}
	if cmd.Flags().Changed("navigator") {
		c.Scanner.Navigator = f.navigator
	}
	if cmd.Flags().Changed("snapshots") {
		c.Snapshot.Dir = f.snapshotDir
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	flags := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan from a camera until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := loadConfig(opts, func(c *config.Config) { flags.apply(cmd, c) })
			if err != nil {
				return err
			}
			defer logCloser.Close()

			ctx, cancel := signalContext()
			defer cancel()

			printBanner(cfg, "scan")

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.controller.Start(ctx); err != nil {
				return err
			}
			if err := a.startCapture(ctx, flags.device, true); err != nil {
				return err
			}

			fmt.Printf("Scanning... Press Ctrl+C to stop gracefully\n")
			fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

			go a.reportStats(ctx, flags.statsInterval)

			select {
			case <-ctx.Done():
				fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			case <-a.controller.Done():
				slog.Warn("dxscan: controller stopped unexpectedly")
			}

			// Readable after the loop exits on cancel
			if stats, err := a.controller.Stats(context.Background()); err == nil {
				a.printStats(stats)
			} else {
				slog.Warn("dxscan: final stats unavailable", "error", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		flags    = &captureFlags{}
		addr     string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scanner surface over HTTP and websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := loadConfig(opts, func(c *config.Config) {
				flags.apply(cmd, c)
				if cmd.Flags().Changed("addr") {
					c.Server.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer logCloser.Close()

			ctx, cancel := signalContext()
			defer cancel()

			printBanner(cfg, "serve "+cfg.Server.Addr)

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(cfg.ToServer(), a.controller, a.hub)
			if err != nil {
				return err
			}

			if err := a.controller.Start(ctx); err != nil {
				return err
			}
			// Capture starts on POST /api/activate unless resumed or forced
			if err := a.startCapture(ctx, flags.device, activate); err != nil {
				return err
			}

			go a.reportStats(ctx, flags.statsInterval)

			return srv.ListenAndServe(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&activate, "activate", false, "Start capture immediately instead of waiting for the page")
	return cmd
}
