package gstcam

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	Slot         *frameSlot
	FrameCounter *uint64 // Atomic counter for sequence numbers
	BytesRead    *uint64 // Atomic counter for bytes read
	Width        int
	Height       int
	DeviceID     string
}

// OnNewSample is called by GStreamer when a new frame is available.
//
// The frame is copied out of the GStreamer buffer (which is reused) and
// stored in the latest-frame slot. Returns gst.FlowOK even for unusable
// samples so a single bad frame never stops the pipeline.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstcam: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	if !storeFrame(ctx, frameData) {
		slog.Warn("gstcam: unexpected frame size, skipping frame",
			"size_bytes", len(frameData),
			"width", ctx.Width,
			"height", ctx.Height,
		)
	}
	return gst.FlowOK
}

// storeFrame wraps RGBA pixels in a Frame and stores it; false if the data
// does not match the negotiated size
func storeFrame(ctx *CallbackContext, data []byte) bool {
	if len(data) < ctx.Width*ctx.Height*4 {
		return false
	}

	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(data)))

	frame := dxscan.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     ctx.Width,
		Height:    ctx.Height,
		Data:      data,
		DeviceID:  ctx.DeviceID,
		TraceID:   uuid.New().String(),
	}
	ctx.Slot.store(frame)

	slog.Debug("gstcam: frame stored",
		"seq", frame.Seq,
		"size_bytes", len(data),
		"trace_id", frame.TraceID,
	)
	return true
}
