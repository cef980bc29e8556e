// Package zxengine implements the scanner's decoder engine with gozxing.
//
// The engine mirrors a native decoder boundary: pixels are copied into
// engine-owned buffers obtained from Malloc and returned with Free. Decoding
// fails with dxscan.ErrEngineNotReady until Init has completed.
package zxengine

import (
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/makiuchi-d/gozxing"
)

// buffer is engine-owned pixel memory
type buffer struct {
	data  []byte
	freed atomic.Bool
}

func (b *buffer) Bytes() []byte { return b.data }

// Engine decodes barcodes from RGBA pixmaps
type Engine struct {
	ready atomic.Bool
	once  sync.Once

	mu      sync.Mutex // readers are not safe for concurrent use
	readers []namedReader

	pool        sync.Pool
	outstanding atomic.Int64
	allocated   atomic.Uint64
	decoded     atomic.Uint64

	warned sync.Map // unsupported format names already logged
}

// New creates an engine. It must be initialized with Init before decoding.
func New() *Engine {
	return &Engine{}
}

// Init builds the readers and marks the engine ready. Idempotent.
func (e *Engine) Init() {
	e.once.Do(func() {
		e.mu.Lock()
		e.readers = newReaders()
		e.mu.Unlock()
		e.ready.Store(true)

		names := make([]string, len(e.readers))
		for i, r := range e.readers {
			names[i] = r.name
		}
		slog.Info("zxengine: decoder initialized", "formats", strings.Join(names, ","))
	})
}

// InitAsync initializes the engine in the background; frames read before it
// completes are reported as not ready
func (e *Engine) InitAsync() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Init()
	}()
	return done
}

// Ready reports whether Init has completed
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Malloc returns a buffer of size bytes
func (e *Engine) Malloc(size int) (dxscan.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("zxengine: invalid allocation size %d", size)
	}
	var data []byte
	if pooled, ok := e.pool.Get().(*[]byte); ok && cap(*pooled) >= size {
		data = (*pooled)[:size]
	} else {
		data = make([]byte, size)
	}
	e.outstanding.Add(1)
	e.allocated.Add(1)
	return &buffer{data: data}, nil
}

// Free releases a buffer returned by Malloc
func (e *Engine) Free(b dxscan.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		slog.Warn("zxengine: free of foreign buffer ignored")
		return
	}
	if !buf.freed.CompareAndSwap(false, true) {
		slog.Warn("zxengine: double free ignored")
		return
	}
	e.outstanding.Add(-1)
	data := buf.data
	buf.data = nil
	e.pool.Put(&data)
}

// Outstanding returns the number of buffers allocated and not yet freed
func (e *Engine) Outstanding() int64 {
	return e.outstanding.Load()
}

// Allocations returns the total number of Malloc calls
func (e *Engine) Allocations() uint64 {
	return e.allocated.Load()
}

// ReadBarcodeFromPixmap decodes an RGBA pixmap of width × height pixels.
//
// format selects the accepted formats ("ITF", "QRCode", "Code128", "EAN-13";
// several may be joined with "|" or ","); empty accepts all. An empty
// ScanResult means no code was found.
func (e *Engine) ReadBarcodeFromPixmap(b dxscan.Buffer, width, height int, tryHarder bool, format string) (dxscan.ScanResult, error) {
	if !e.ready.Load() {
		return dxscan.ScanResult{}, dxscan.ErrEngineNotReady
	}
	if width <= 0 || height <= 0 {
		return dxscan.ScanResult{}, fmt.Errorf("zxengine: invalid pixmap size %dx%d", width, height)
	}
	data := b.Bytes()
	if len(data) < width*height*4 {
		return dxscan.ScanResult{}, fmt.Errorf("zxengine: short pixmap: %d bytes for %dx%d", len(data), width, height)
	}

	img := &image.RGBA{
		Pix:    data,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	src := gozxing.NewLuminanceSourceFromImage(img)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return dxscan.ScanResult{}, fmt.Errorf("zxengine: binarize: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.selectReaders(format) {
		res, err := r.reader.Decode(bmp, hints)
		r.reader.Reset()
		if err != nil {
			if _, notFound := err.(gozxing.ReaderException); notFound {
				continue
			}
			return dxscan.ScanResult{}, fmt.Errorf("zxengine: %s reader: %w", r.name, err)
		}
		e.decoded.Add(1)
		return dxscan.ScanResult{
			Format:   r.name,
			Text:     res.GetText(),
			Position: quadFromPoints(res.GetResultPoints()),
		}, nil
	}
	return dxscan.ScanResult{}, nil
}

// selectReaders returns the readers matching the format filter
func (e *Engine) selectReaders(format string) []namedReader {
	if format == "" {
		return e.readers
	}
	var out []namedReader
	for _, name := range strings.FieldsFunc(format, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.TrimSpace(name)
		found := false
		for _, r := range e.readers {
			if strings.EqualFold(r.name, name) {
				out = append(out, r)
				found = true
			}
		}
		if !found {
			if _, logged := e.warned.LoadOrStore(name, true); !logged {
				slog.Warn("zxengine: format not supported, ignoring", "format", name)
			}
		}
	}
	return out
}
