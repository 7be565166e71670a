// Package detector finds faces in decoded images.
package detector

import (
	"context"
	"image"

	"github.com/example/hijab-blur/internal/geometry"
)

// Face is a single detection.
type Face struct {
	Box        geometry.Box
	Confidence float64 // 0-1
}

// Detector is the interface for face detection backends.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// FilterByConfidence keeps the faces whose confidence is at least threshold.
func FilterByConfidence(faces []Face, threshold float64) []Face {
	kept := make([]Face, 0, len(faces))
	for _, f := range faces {
		if f.Confidence >= threshold {
			kept = append(kept, f)
		}
	}
	return kept
}

// Confidences lists the confidence of every face, in order.
func Confidences(faces []Face) []float64 {
	out := make([]float64, len(faces))
	for i, f := range faces {
		out[i] = f.Confidence
	}
	return out
}
