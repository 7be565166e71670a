package detector

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"

	"github.com/example/hijab-blur/internal/geometry"
)

// PigoConfig holds the cascade parameters of the pigo backend.
type PigoConfig struct {
	CascadePath  string
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	// QualityAt95 is the raw pigo score mapped to a confidence of ~0.95.
	QualityAt95 float64
}

// DefaultPigoConfig returns the parameters used by the pigo examples.
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		CascadePath:  "cascade/facefinder",
		MinSize:      20,
		MaxSize:      2000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		QualityAt95:  5.0,
	}
}

// PigoDetector runs a pigo cascade over the grayscale image.
type PigoDetector struct {
	classifier *pigo.Pigo
	cfg        PigoConfig
	mu         sync.Mutex
}

// NewPigo loads the cascade file named in cfg.
func NewPigo(cfg PigoConfig) (*PigoDetector, error) {
	cascade, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade file: %w", err)
	}
	return NewPigoFromCascade(cascade, cfg)
}

// NewPigoFromCascade unpacks an in-memory cascade.
func NewPigoFromCascade(cascade []byte, cfg PigoConfig) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade: %w", err)
	}
	if cfg.QualityAt95 <= 0 {
		cfg.QualityAt95 = DefaultPigoConfig().QualityAt95
	}
	return &PigoDetector{classifier: classifier, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nrgba := pigo.ImgToNRGBA(img)
	cols, rows := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return nil, fmt.Errorf("empty image")
	}

	params := pigo.CascadeParams{
		MinSize:     d.cfg.MinSize,
		MaxSize:     min(d.cfg.MaxSize, max(cols, rows)),
		ShiftFactor: d.cfg.ShiftFactor,
		ScaleFactor: d.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(nrgba),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	d.mu.Lock()
	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, d.cfg.IoUThreshold)
	d.mu.Unlock()

	faces := make([]Face, 0, len(dets))
	for _, det := range dets {
		faces = append(faces, fromPigo(det, d.cfg.QualityAt95))
	}
	return faces, nil
}

// fromPigo converts a center/scale detection into a top-left box.
func fromPigo(det pigo.Detection, qualityAt95 float64) Face {
	half := float64(det.Scale) / 2
	return Face{
		Box: geometry.Box{
			X: float64(det.Col) - half,
			Y: float64(det.Row) - half,
			W: float64(det.Scale),
			H: float64(det.Scale),
		},
		Confidence: QualityToConfidence(float64(det.Q), qualityAt95),
	}
}

// QualityToConfidence maps an unbounded cascade score onto [0,1].
func QualityToConfidence(q, qualityAt95 float64) float64 {
	if q <= 0 || qualityAt95 <= 0 {
		return 0
	}
	return 1 - math.Exp(-3*q/qualityAt95)
}
