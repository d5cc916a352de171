// Package annotate draws location markers onto a copy of an image.
package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/menta2k/vlm-locate/pkg/types"
)

// Options controls marker appearance
type Options struct {
	// StarSize is the outer radius in pixels; 0 derives it from the image size
	StarSize  int
	Labels    bool
	Crosshair bool
	Fill      color.NRGBA
	Outline   color.NRGBA
}

// DefaultOptions returns yellow stars with a red outline and id labels
func DefaultOptions() Options {
	return Options{
		Labels:    true,
		Crosshair: true,
		Fill:      color.NRGBA{255, 215, 0, 255},
		Outline:   color.NRGBA{220, 20, 20, 255},
	}
}

type Annotator struct {
	opts Options
}

func New(opts Options) *Annotator {
	if opts.Fill.A == 0 && opts.Outline.A == 0 {
		def := DefaultOptions()
		opts.Fill, opts.Outline = def.Fill, def.Outline
	}
	return &Annotator{opts: opts}
}

// Annotate returns img with a star centred on every detection.
// The input is never modified; with no detections img itself is returned.
func (a *Annotator) Annotate(img image.Image, dets []types.Detection) image.Image {
	if len(dets) == 0 {
		return img
	}

	dst := imaging.Clone(img)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	radius := a.radius(w, h)
	stroke := int(math.Max(2, float64(radius)/6))

	for _, d := range dets {
		drawStar(dst, d.X, d.Y, radius+stroke, a.opts.Outline)
		drawStar(dst, d.X, d.Y, radius, a.opts.Fill)
		if a.opts.Crosshair {
			cross := radius / 3
			drawHLine(dst, d.Y, d.X-cross, d.X+cross+1, a.opts.Outline)
			drawVLine(dst, d.X, d.Y-cross, d.Y+cross+1, a.opts.Outline)
		}
		if a.opts.Labels {
			drawLabel(dst, "#"+strconv.Itoa(d.ID), d.X+radius+stroke+2, d.Y-radius/2)
		}
	}
	return dst
}

func (a *Annotator) radius(w, h int) int {
	if a.opts.StarSize > 0 {
		return a.opts.StarSize
	}
	return int(math.Max(8, 0.04*float64(min(w, h))))
}

// starPoints returns the ten vertices of a five-pointed star around (cx, cy), first point up
func starPoints(cx, cy, outer float64) [10][2]float32 {
	var pts [10][2]float32
	inner := outer * 0.4
	for i := range pts {
		r := outer
		if i%2 == 1 {
			r = inner
		}
		angle := (float64(i)*36 - 90) * math.Pi / 180
		pts[i] = [2]float32{float32(cx + r*math.Cos(angle)), float32(cy + r*math.Sin(angle))}
	}
	return pts
}

// drawStar rasterizes into a local mask sized to the star, then composites it clipped to dst
func drawStar(dst *image.NRGBA, x, y, radius int, c color.NRGBA) {
	if radius <= 0 {
		return
	}
	size := 2*radius + 2
	origin := image.Pt(x-radius-1, y-radius-1)

	z := vector.NewRasterizer(size, size)
	pts := starPoints(float64(radius)+1.5, float64(radius)+1.5, float64(radius))
	z.MoveTo(pts[0][0], pts[0][1])
	for _, p := range pts[1:] {
		z.LineTo(p[0], p[1])
	}
	z.ClosePath()

	mask := image.NewAlpha(image.Rect(0, 0, size, size))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	r := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(size, size))}
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func drawLabel(dst *image.NRGBA, text string, x, y int) {
	face := basicfont.Face7x13
	base := y + face.Ascent/2
	for _, pass := range []struct {
		dx, dy int
		c      color.Color
	}{
		{1, 1, color.Black},
		{0, 0, color.White},
	} {
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(pass.c),
			Face: face,
			Dot:  fixed.P(x+pass.dx, base+pass.dy),
		}
		d.DrawString(text)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0, x1 = max(x0, b.Min.X), min(x1, b.Max.X)
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0, y1 = max(y0, b.Min.Y), min(y1, b.Max.Y)
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
