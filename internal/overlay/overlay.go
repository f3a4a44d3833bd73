// Package overlay draws detections on top of the JPEG frame they came from.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"visiontrigger/internal/pipeline"
)

var (
	targetColor = color.RGBA{0, 255, 0, 255}
	otherColor  = color.RGBA{255, 165, 0, 255}
	labelBg     = color.RGBA{0, 0, 0, 180}
)

// Options control rendering
type Options struct {
	// Target is highlighted; other labels are drawn in a secondary colour
	Target string
	// MaxWidth downscales wider frames; 0 keeps the original size
	MaxWidth int
	Quality  int
}

// Render decodes batch.Frame, draws every detection and re-encodes it
func Render(batch *pipeline.Batch, opts Options) ([]byte, error) {
	if batch == nil || len(batch.Frame) == 0 {
		return nil, fmt.Errorf("no frame to render")
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}

	img, err := jpeg.Decode(bytes.NewReader(batch.Frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Copy(rgba, image.Point{}, img, bounds, draw.Src, nil)

	for _, det := range batch.Detections {
		c := otherColor
		if det.Label == opts.Target {
			c = targetColor
		}
		drawBox(rgba, det.BBox, c, 2)
		drawLabel(rgba, det.BBox.X0, det.BBox.Y0-14, fmt.Sprintf("%s %.0f%%", det.Label, det.Confidence*100), c)
	}

	var out image.Image = rgba
	if opts.MaxWidth > 0 && bounds.Dx() > opts.MaxWidth {
		h := bounds.Dy() * opts.MaxWidth / bounds.Dx()
		scaled := image.NewRGBA(image.Rect(0, 0, opts.MaxWidth, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), rgba, bounds, draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBox(img *image.RGBA, box pipeline.BBox, c color.RGBA, thickness int) {
	r := image.Rect(box.X0, box.Y0, box.X1, box.Y1).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	for t := 0; t < thickness; t++ {
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y+t, r.Max.X, r.Min.Y+t+1),
			image.Rect(r.Min.X, r.Max.Y-t-1, r.Max.X, r.Max.Y-t),
			image.Rect(r.Min.X+t, r.Min.Y, r.Min.X+t+1, r.Max.Y),
			image.Rect(r.Max.X-t-1, r.Min.Y, r.Max.X-t, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	bg := image.Rect(x, y, x+width+4, y+14).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(labelBg), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}
