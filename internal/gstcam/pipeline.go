package gstcam

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// PipelineConfig contains configuration for a capture pipeline
type PipelineConfig struct {
	// Source is the source element factory ("v4l2src" or "videotestsrc")
	Source string
	// Device is the V4L2 device path; empty uses the source default
	Device string
	Width  int
	Height int
	// FPS caps the frame rate when > 0
	FPS int
}

// PipelineElements holds the elements a stream needs after creation
type PipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
}

// CreatePipeline builds:
//
//	source → videoconvert → videoscale → capsfilter(RGBA W×H) → appsink
//
// The appsink keeps only the newest buffer, so a slow consumer skips
// frames instead of queueing them.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	sourceName := cfg.Source
	if sourceName == "" {
		sourceName = "v4l2src"
	}
	source, err := gst.NewElement(sourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", sourceName, err)
	}
	switch sourceName {
	case "v4l2src":
		if cfg.Device != "" {
			source.SetProperty("device", cfg.Device)
		}
	case "videotestsrc":
		source.SetProperty("is-live", true)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := buildCaps(cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	var rate *gst.Element
	if cfg.FPS > 0 {
		rate, err = gst.NewElement("videorate")
		if err != nil {
			return nil, fmt.Errorf("failed to create videorate: %w", err)
		}
		rate.SetProperty("drop-only", true)
	}

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames

	chain := []*gst.Element{source, converter, scaler}
	if rate != nil {
		chain = append(chain, rate)
	}
	chain = append(chain, capsfilter, appsink.Element)

	if err := pipeline.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("gstcam: pipeline created",
		"source", sourceName,
		"device", cfg.Device,
		"caps", capsStr,
	)

	return &PipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
		Source:   source,
	}, nil
}

// buildCaps returns the appsink caps: packed RGBA at the canvas-independent
// capture size
func buildCaps(width, height, fps int) string {
	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", width, height)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	return caps
}

// DestroyPipeline sets the pipeline to NULL, releasing the device.
// Safe to call even if pipeline is already destroyed.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// checkGStreamerAvailable is a fail-fast check run at construction time
func checkGStreamerAvailable(source string) error {
	gst.Init(nil)

	if source == "" {
		source = "v4l2src"
	}
	elem, err := gst.NewElement(source)
	if err != nil {
		return fmt.Errorf("GStreamer element %s not available (install gstreamer1.0-plugins-good): %w", source, err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
