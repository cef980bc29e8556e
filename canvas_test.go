package dxscan

import (
	"image"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{0, 85, 215, 85},
		{300, 85, 215, 215},
		{150, 85, 215, 150},
		{10, 30, 20, 25}, // canvas narrower than both margins
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

// TestLabelAnchor_AlwaysInBounds checks the text anchor for detections all
// over (and beyond) a 300x225 canvas
func TestLabelAnchor_AlwaysInBounds(t *testing.T) {
	for x := -50.0; x <= 350; x += 25 {
		for y := -50.0; y <= 275; y += 25 {
			p := Point{X: x, Y: y}
			q := Quad{TopLeft: p, TopRight: p, BottomRight: p, BottomLeft: p}
			got := labelAnchor(q, 300, 225, 85, 25)
			if got.X < 85 || got.X > 215 || got.Y < 25 || got.Y > 200 {
				t.Fatalf("labelAnchor(%v) = %v, outside [85,215]x[25,200]", p, got)
			}
		}
	}
}

func TestQuad_Centroid(t *testing.T) {
	q := Quad{
		TopLeft:     Point{X: 10, Y: 20},
		TopRight:    Point{X: 30, Y: 20},
		BottomRight: Point{X: 30, Y: 40},
		BottomLeft:  Point{X: 10, Y: 40},
	}
	if got, want := q.Centroid(), (Point{X: 20, Y: 30}); got != want {
		t.Errorf("Centroid() = %v, want %v", got, want)
	}
}

func TestCanvas_DrawFrame(t *testing.T) {
	c := newCanvas(4, 2)

	t.Run("same size is copied", func(t *testing.T) {
		f := Frame{Width: 4, Height: 2, Data: make([]byte, 4*2*4)}
		for i := range f.Data {
			f.Data[i] = byte(i)
		}
		if err := c.drawFrame(f); err != nil {
			t.Fatal(err)
		}
		if c.pixels()[31] != 31 {
			t.Errorf("pixel data not copied")
		}
	})

	t.Run("other sizes are scaled", func(t *testing.T) {
		f := Frame{Width: 8, Height: 4, Data: make([]byte, 8*4*4)}
		for i := 0; i < len(f.Data); i += 4 {
			f.Data[i], f.Data[i+3] = 200, 255
		}
		if err := c.drawFrame(f); err != nil {
			t.Fatal(err)
		}
		got := c.img.RGBAAt(3, 1)
		if got.R < 198 || got.G != 0 || got.B != 0 || got.A < 253 {
			t.Errorf("scaled pixel = %v, want red", got)
		}
	})

	t.Run("invalid frames are rejected", func(t *testing.T) {
		if err := c.drawFrame(Frame{}); err == nil {
			t.Error("expected error for empty frame")
		}
		if err := c.drawFrame(Frame{Width: 4, Height: 2, Data: make([]byte, 10)}); err == nil {
			t.Error("expected error for short frame")
		}
	})
}

func TestCanvas_SnapshotIsCopy(t *testing.T) {
	c := newCanvas(2, 2)
	snap := c.snapshot()
	c.img.Pix[0] = 255
	if snap.Pix[0] != 0 {
		t.Error("snapshot shares the canvas buffer")
	}
	if snap.Rect != image.Rect(0, 0, 2, 2) {
		t.Errorf("snapshot bounds = %v", snap.Rect)
	}
}

func TestCanvas_DrawLabel(t *testing.T) {
	c := newCanvas(300, 225)
	c.drawLabel("025943", image.Point{X: 150, Y: 112})

	lit := 0
	for y := 95; y < 130; y++ {
		for x := 120; x < 180; x++ {
			if c.img.RGBAAt(x, y) == labelColor {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("no label pixels drawn around the anchor")
	}
}

func TestScanGate(t *testing.T) {
	var g scanGate
	if !g.isOpen() {
		t.Fatal("new gate should be open")
	}

	first := g.close()
	if g.isOpen() {
		t.Fatal("gate open after close")
	}
	second := g.close()
	if g.reopen(first) {
		t.Error("stale timer reopened the gate")
	}
	if !g.reopen(second) || !g.isOpen() {
		t.Error("current timer did not reopen the gate")
	}

	gen := g.close()
	g.reset()
	if !g.isOpen() {
		t.Error("gate closed after reset")
	}
	g.close()
	if g.reopen(gen) {
		t.Error("timer armed before reset reopened the gate")
	}
}
