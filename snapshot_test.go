package dxscan

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewSnapshotSaver_FailFast(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SnapshotConfig
		errMsg string
	}{
		{"no directory", SnapshotConfig{}, "directory is required"},
		{"bad format", SnapshotConfig{Dir: t.TempDir(), Format: "gif"}, "invalid snapshot format"},
		{"bad quality", SnapshotConfig{Dir: t.TempDir(), Format: "jpeg", JPEGQuality: 101}, "invalid JPEG quality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnapshotSaver(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestSnapshotSaver_Save(t *testing.T) {
	for _, format := range []string{"png", "jpeg"} {
		t.Run(format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "snaps")
			s, err := NewSnapshotSaver(SnapshotConfig{Dir: dir, Format: format})
			if err != nil {
				t.Fatal(err)
			}

			det := Detection{Format: FormatDXFilmEdge, Text: "115-10", At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			s.Save(image.NewRGBA(image.Rect(0, 0, 30, 20)), det)
			s.Close()
			s.Close()

			saved, dropped, failed := s.Counts()
			if saved+dropped != 1 || failed != 0 {
				t.Fatalf("counts = saved %d, dropped %d, failed %d", saved, dropped, failed)
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != int(saved) {
				t.Fatalf("files = %d, want %d", len(entries), saved)
			}
			if saved == 1 {
				want := "scan_000001_20240501_120000.000_DXFilmEdge." + format
				if entries[0].Name() != want {
					t.Errorf("file = %q, want %q", entries[0].Name(), want)
				}
			}
		})
	}
}

func TestFileSafe(t *testing.T) {
	if got := fileSafe("EAN-13/x y"); got != "EAN-13_x_y" {
		t.Errorf("fileSafe() = %q", got)
	}
	if got := fileSafe(""); got != "unknown" {
		t.Errorf("fileSafe(empty) = %q", got)
	}
}
