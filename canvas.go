package dxscan

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var (
	outlineColor = color.RGBA{R: 255, A: 255}
	labelColor   = color.RGBA{G: 255, A: 255}
	shadowColor  = color.RGBA{A: 255}
)

const outlineWidth = 4

// canvas is the drawing surface frames are copied into before decoding
type canvas struct {
	img *image.RGBA
}

func newCanvas(width, height int) *canvas {
	return &canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (c *canvas) width() int  { return c.img.Rect.Dx() }
func (c *canvas) height() int { return c.img.Rect.Dy() }

// drawFrame scales a video frame onto the whole canvas
func (c *canvas) drawFrame(f Frame) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 4; len(f.Data) < want {
		return fmt.Errorf("short frame: %d bytes, want %d", len(f.Data), want)
	}
	src := &image.RGBA{
		Pix:    f.Data,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
	if src.Rect.Eq(c.img.Rect) {
		copy(c.img.Pix, src.Pix)
		return nil
	}
	draw.ApproxBiLinear.Scale(c.img, c.img.Rect, src, src.Rect, draw.Src, nil)
	return nil
}

// pixels returns the canvas RGBA buffer (getImageData equivalent)
func (c *canvas) pixels() []byte {
	return c.img.Pix
}

// snapshot returns a copy of the canvas
func (c *canvas) snapshot() *image.RGBA {
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// strokeQuad outlines the code position
func (c *canvas) strokeQuad(q Quad) {
	corners := []Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
	r := vector.NewRasterizer(c.width(), c.height())
	drawn := false
	for i, a := range corners {
		b := corners[(i+1)%len(corners)]
		if addSegment(r, a, b, outlineWidth) {
			drawn = true
		}
	}
	if drawn {
		r.Draw(c.img, c.img.Rect, image.NewUniform(outlineColor), image.Point{})
	}
}

// addSegment adds a filled rectangle of the given width around a→b
func addSegment(r *vector.Rasterizer, a, b Point, width float64) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return false
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	r.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	r.LineTo(float32(b.X+nx), float32(b.Y+ny))
	r.LineTo(float32(b.X-nx), float32(b.Y-ny))
	r.LineTo(float32(a.X-nx), float32(a.Y-ny))
	r.ClosePath()
	return true
}

// drawLabel renders text centered on at
func (c *canvas) drawLabel(text string, at image.Point) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	textWidth := font.MeasureString(face, text).Ceil()
	baseline := at.Y + (metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	x := at.X - textWidth/2

	for _, pass := range []struct {
		col    color.Color
		offset int
	}{{shadowColor, 1}, {labelColor, 0}} {
		d := &font.Drawer{
			Dst:  c.img,
			Src:  image.NewUniform(pass.col),
			Face: face,
			Dot:  fixed.P(x+pass.offset, baseline+pass.offset),
		}
		d.DrawString(text)
	}
}

// labelAnchor places the decoded text on the code's centroid, clamped so
// that it stays within [marginX, w-marginX] × [marginY, h-marginY].
func labelAnchor(q Quad, width, height, marginX, marginY int) image.Point {
	centre := q.Centroid()
	return image.Point{
		X: clamp(int(math.Round(centre.X)), marginX, width-marginX),
		Y: clamp(int(math.Round(centre.Y)), marginY, height-marginY),
	}
}

// clamp bounds v to [lo, hi]; a collapsed range yields its midpoint
func clamp(v, lo, hi int) int {
	if lo > hi {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
