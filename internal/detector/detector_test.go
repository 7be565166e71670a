package detector

import (
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"

	"github.com/example/hijab-blur/internal/geometry"
)

func TestFilterByConfidence(t *testing.T) {
	faces := []Face{
		{Box: geometry.Box{X: 1}, Confidence: 0.99},
		{Box: geometry.Box{X: 2}, Confidence: 0.95},
		{Box: geometry.Box{X: 3}, Confidence: 0.9499},
		{Box: geometry.Box{X: 4}, Confidence: 0.2},
	}

	kept := FilterByConfidence(faces, 0.95)

	assert.Len(t, kept, 2)
	assert.Equal(t, 1.0, kept[0].Box.X)
	assert.Equal(t, 2.0, kept[1].Box.X)
}

func TestFilterByConfidenceAllBelowThreshold(t *testing.T) {
	kept := FilterByConfidence([]Face{{Confidence: 0.5}, {Confidence: 0.94}}, 0.95)

	assert.Empty(t, kept)
}

func TestQualityToConfidence(t *testing.T) {
	assert.Equal(t, 0.0, QualityToConfidence(-3, 5))
	assert.Equal(t, 0.0, QualityToConfidence(0, 5))
	assert.InDelta(t, 0.95, QualityToConfidence(5, 5), 0.001)
	assert.Greater(t, QualityToConfidence(10, 5), QualityToConfidence(5, 5))
	assert.Less(t, QualityToConfidence(100, 5), 1.0+1e-12)
}

func TestFromPigoUsesTopLeftCorner(t *testing.T) {
	face := fromPigo(pigo.Detection{Row: 100, Col: 80, Scale: 40, Q: 7}, 5)

	assert.Equal(t, geometry.Box{X: 60, Y: 80, W: 40, H: 40}, face.Box)
	assert.Greater(t, face.Confidence, 0.95)
}

func TestConfidences(t *testing.T) {
	assert.Equal(t, []float64{0.1, 0.7}, Confidences([]Face{{Confidence: 0.1}, {Confidence: 0.7}}))
}
