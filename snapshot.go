package dxscan

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// SnapshotConfig configures saving of annotated canvases on detection
type SnapshotConfig struct {
	// Dir is the output directory, created if missing
	Dir string
	// Format is "png" or "jpeg"
	Format string
	// JPEGQuality is 1-100, only for jpeg
	JPEGQuality int
}

type snapshotJob struct {
	img *image.RGBA
	det Detection
	seq uint64
}

// SnapshotSaver writes annotated canvases to disk in the background.
//
// Save never blocks the render loop: if a write is already pending the
// snapshot is dropped and counted.
type SnapshotSaver struct {
	cfg  SnapshotConfig
	jobs chan snapshotJob
	wg   sync.WaitGroup
	once sync.Once

	seq     uint64
	saved   uint64
	dropped uint64
	failed  uint64
}

// NewSnapshotSaver validates the config, creates the directory and starts the writer
func NewSnapshotSaver(cfg SnapshotConfig) (*SnapshotSaver, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dxscan: snapshot directory is required")
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.Format != "png" && cfg.Format != "jpeg" {
		return nil, fmt.Errorf("dxscan: invalid snapshot format %q (must be png or jpeg)", cfg.Format)
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("dxscan: invalid JPEG quality %d (must be 1-100)", cfg.JPEGQuality)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("dxscan: failed to create snapshot directory: %w", err)
	}

	s := &SnapshotSaver{cfg: cfg, jobs: make(chan snapshotJob, 1)}
	s.wg.Add(1)
	go s.run()

	slog.Info("dxscan: snapshot saving enabled",
		"directory", cfg.Dir,
		"format", cfg.Format,
		"jpeg_quality", cfg.JPEGQuality,
	)
	return s, nil
}

// Save queues img for writing. img must not be modified afterwards.
func (s *SnapshotSaver) Save(img *image.RGBA, det Detection) {
	job := snapshotJob{img: img, det: det, seq: atomic.AddUint64(&s.seq, 1)}
	select {
	case s.jobs <- job:
	default:
		atomic.AddUint64(&s.dropped, 1)
		slog.Debug("dxscan: dropping snapshot, writer busy", "seq", job.seq, "trace_id", det.TraceID)
	}
}

// Counts returns saved, dropped and failed snapshot counts
func (s *SnapshotSaver) Counts() (saved, dropped, failed uint64) {
	return atomic.LoadUint64(&s.saved), atomic.LoadUint64(&s.dropped), atomic.LoadUint64(&s.failed)
}

// Close flushes the pending snapshot and stops the writer. Idempotent.
func (s *SnapshotSaver) Close() {
	s.once.Do(func() {
		close(s.jobs)
		s.wg.Wait()
	})
}

func (s *SnapshotSaver) run() {
	defer s.wg.Done()
	for job := range s.jobs {
		path, err := s.write(job)
		if err != nil {
			atomic.AddUint64(&s.failed, 1)
			slog.Error("dxscan: failed to save snapshot", "error", err, "seq", job.seq)
			continue
		}
		atomic.AddUint64(&s.saved, 1)
		slog.Debug("dxscan: snapshot saved", "path", path, "format", job.det.Format)
	}
}

func (s *SnapshotSaver) write(job snapshotJob) (string, error) {
	name := fmt.Sprintf("scan_%06d_%s_%s.%s",
		job.seq,
		job.det.At.Format("20060102_150405.000"),
		fileSafe(job.det.Format),
		s.cfg.Format,
	)
	path := filepath.Join(s.cfg.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch s.cfg.Format {
	case "png":
		if err := png.Encode(file, job.img); err != nil {
			return "", fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, job.img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
			return "", fmt.Errorf("failed to encode JPEG: %w", err)
		}
	}
	return path, nil
}

func fileSafe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
