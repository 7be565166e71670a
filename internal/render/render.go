// Package render decodes, crops, blurs and annotates images.
package render

import (
	"bytes"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register the webp decoder
)

// DefaultBlurRadius is the Gaussian sigma applied to a hidden face.
const DefaultBlurRadius = 25.0

var (
	// OriginalBoxColor outlines the detector boxes.
	OriginalBoxColor = color.RGBA{B: 255, A: 255}
	// ExpandedBoxColor outlines the expanded boxes.
	ExpandedBoxColor = color.RGBA{R: 255, A: 255}
)

// Decode reads any registered image format into an NRGBA canvas anchored at (0,0).
// EXIF orientation is applied so boxes line up with what the client sees.
func Decode(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// Crop copies rect out of img.
func Crop(img image.Image, rect image.Rectangle) *image.NRGBA {
	return imaging.Crop(img, rect)
}

// BlurRegion blurs rect of img in place. The blur only samples pixels inside rect.
func BlurRegion(img *image.NRGBA, rect image.Rectangle, radius float64) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() || radius <= 0 {
		return
	}
	blurred := imaging.Blur(imaging.Crop(img, rect), radius)
	draw.Draw(img, rect, blurred, image.Point{}, draw.Src)
}

// DrawBoxes returns a copy of img with every rect outlined.
func DrawBoxes(img image.Image, rects []image.Rectangle, c color.Color, lineWidth float64) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(c)
	dc.SetLineWidth(lineWidth)
	for _, r := range rects {
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}
	return dc.Image()
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
