package zxengine

import (
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Format names reported in scan results
const (
	FormatITF     = dxscan.FormatITF
	FormatQRCode  = "QRCode"
	FormatCode128 = "Code128"
	FormatEAN13   = "EAN-13"
)

type namedReader struct {
	name   string
	reader gozxing.Reader
}

// newReaders returns the readers in decode order. ITF comes first since it
// is the canister code the scanner is aimed at.
func newReaders() []namedReader {
	return []namedReader{
		{FormatITF, oned.NewITFReader()},
		{FormatEAN13, oned.NewEAN13Reader()},
		{FormatCode128, oned.NewCode128Reader()},
		{FormatQRCode, qrcode.NewQRCodeReader()},
	}
}

// quadFromPoints builds the code outline from result points.
//
// 1D readers report two points on the scan line, so the quad collapses to
// that segment. QR codes report the finder patterns bottom-left, top-left,
// top-right; the fourth corner is completed as a parallelogram.
func quadFromPoints(points []gozxing.ResultPoint) dxscan.Quad {
	pt := func(p gozxing.ResultPoint) dxscan.Point {
		return dxscan.Point{X: p.GetX(), Y: p.GetY()}
	}

	switch {
	case len(points) >= 4:
		return dxscan.Quad{
			BottomLeft:  pt(points[0]),
			TopLeft:     pt(points[1]),
			TopRight:    pt(points[2]),
			BottomRight: pt(points[3]),
		}
	case len(points) == 3:
		bl, tl, tr := pt(points[0]), pt(points[1]), pt(points[2])
		return dxscan.Quad{
			TopLeft:     tl,
			TopRight:    tr,
			BottomRight: dxscan.Point{X: tr.X + bl.X - tl.X, Y: tr.Y + bl.Y - tl.Y},
			BottomLeft:  bl,
		}
	case len(points) == 2:
		left, right := pt(points[0]), pt(points[1])
		return dxscan.Quad{TopLeft: left, TopRight: right, BottomRight: right, BottomLeft: left}
	case len(points) == 1:
		p := pt(points[0])
		return dxscan.Quad{TopLeft: p, TopRight: p, BottomRight: p, BottomLeft: p}
	}
	return dxscan.Quad{}
}
