// Package geometry holds the face box arithmetic used by the pipeline.
package geometry

import "image"

const (
	// WidthFactor is how much wider an expanded box is than the detected face.
	WidthFactor = 1.1
	// HeightFactor is how much taller an expanded box is than the detected face.
	HeightFactor = 1.3
)

// Box is an axis aligned face box in pixel coordinates.
type Box struct {
	X, Y, W, H float64
}

// Center returns the center point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Rect rounds the box down onto the pixel grid.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.W), int(b.Y+b.H))
}

// Expand grows b around its center and clamps the result to a width x height image.
//
// The top-left corner is clamped first and the size is recomputed from the clamped
// bottom-right corner, so a box touching an edge only grows inward on that side.
func Expand(b Box, width, height int) image.Rectangle {
	cx, cy := b.Center()

	w := int(b.W * WidthFactor)
	h := int(b.H * HeightFactor)

	x := int(cx - float64(w)/2)
	y := int(cy - float64(h)/2)

	x = clamp(x, 0, width)
	y = clamp(y, 0, height)

	x2 := min(width, x+w)
	y2 := min(height, y+h)

	return image.Rectangle{
		Min: image.Pt(x, y),
		Max: image.Pt(max(x, x2), max(y, y2)),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
