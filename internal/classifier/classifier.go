// Package classifier talks to the remote hijab / no-hijab model.
package classifier

import (
	"context"
	"errors"
	"strings"
)

// Labels returned after normalisation.
const (
	LabelHijab   = "hijab"
	LabelNoHijab = "no-hijab"
)

// ErrInvalidResponse is returned when the model answers without a usable prediction.
var ErrInvalidResponse = errors.New("Invalid hijab model response")

// Result contains the prediction returned by the model for one face crop.
type Result struct {
	Label              string
	Confidence         float64
	ProbabilityHijab   float64
	ProbabilityNoHijab float64
}

// NoHijab reports whether the face should be blurred.
func (r *Result) NoHijab() bool {
	return r != nil && r.Label == LabelNoHijab
}

// Client exposes the subset of functionality used by the pipeline.
type Client interface {
	Classify(ctx context.Context, filename string, crop []byte) (*Result, error)
}

// NormalizeLabel turns "No Hijab" into "no-hijab".
func NormalizeLabel(label string) string {
	return strings.ReplaceAll(strings.ToLower(label), " ", "-")
}
