// Package pipeline turns an uploaded photo into its redacted version: faces are
// detected, expanded, classified remotely and blurred when uncovered.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/artifacts"
	"github.com/example/hijab-blur/internal/classifier"
	"github.com/example/hijab-blur/internal/detector"
	"github.com/example/hijab-blur/internal/geometry"
	"github.com/example/hijab-blur/internal/logging"
	"github.com/example/hijab-blur/internal/render"
)

// DefaultConfidenceThreshold is the minimum detector confidence for a face to count.
const DefaultConfidenceThreshold = 0.95

// Config tunes a Pipeline.
type Config struct {
	ConfidenceThreshold float64
	BlurRadius          float64
	// Visualize writes the original and expanded box overlays next to the crops.
	Visualize bool
}

// DefaultConfig mirrors the hosted service.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		BlurRadius:          render.DefaultBlurRadius,
		Visualize:           true,
	}
}

// Request identifies one run.
type Request struct {
	TaskID    string
	InputPath string
	// Stamp is embedded in generated file names. Defaults to the layout clock.
	Stamp string
}

// Face is the per-face record of a run.
type Face struct {
	Index      int
	Box        geometry.Box
	Confidence float64
	Expanded   image.Rectangle
	CropPath   string
	Result     *classifier.Result
}

// Blurred reports whether the face was hidden.
func (f Face) Blurred() bool {
	return f.Result.NoHijab()
}

// Outcome describes what a run produced. Artifacts is filled even when Run fails.
type Outcome struct {
	OutputPath string
	Detected   int
	Faces      []Face
	Artifacts  []string
}

// BlurredCount returns how many faces were blurred.
func (o *Outcome) BlurredCount() int {
	n := 0
	for _, f := range o.Faces {
		if f.Blurred() {
			n++
		}
	}
	return n
}

// Pipeline wires the detector, the classifier and the blur engine together.
type Pipeline struct {
	detector   detector.Detector
	classifier classifier.Client
	layout     *artifacts.Layout
	cfg        Config
	logger     *zap.Logger
}

// New constructs a pipeline.
func New(d detector.Detector, c classifier.Client, layout *artifacts.Layout, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.BlurRadius <= 0 {
		cfg.BlurRadius = render.DefaultBlurRadius
	}
	return &Pipeline{
		detector:   d,
		classifier: c,
		layout:     layout,
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
	}
}

// Run processes the image at req.InputPath. Errors wrap ErrNoFaces or ErrClassifier
// when the run stopped for one of those reasons; anything else is unexpected.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	log := logging.WithOperation(p.logger, "pipeline.run", req.TaskID)
	out := &Outcome{}
	stamp := req.Stamp
	if stamp == "" {
		stamp = p.layout.Stamp()
	}

	img, err := loadImage(req.InputPath)
	if err != nil {
		return out, err
	}
	bounds := img.Bounds()

	faces, err := p.detector.Detect(ctx, img)
	if err != nil {
		return out, fmt.Errorf("detect faces: %w", err)
	}
	out.Detected = len(faces)
	if len(faces) == 0 {
		log.Info("no faces detected")
		return out, ErrNoFaces
	}
	log.Info("faces detected", zap.Int("count", len(faces)), zap.Float64s("probabilities", detector.Confidences(faces)))

	valid := detector.FilterByConfidence(faces, p.cfg.ConfidenceThreshold)
	if len(valid) == 0 {
		log.Info("no face above confidence threshold", zap.Float64("threshold", p.cfg.ConfidenceThreshold))
		return out, fmt.Errorf("%w with confidence >= %g", ErrNoFaces, p.cfg.ConfidenceThreshold)
	}

	out.Faces = make([]Face, len(valid))
	original := make([]image.Rectangle, len(valid))
	expanded := make([]image.Rectangle, len(valid))
	for i, f := range valid {
		original[i] = f.Box.Rect()
		expanded[i] = geometry.Expand(f.Box, bounds.Dx(), bounds.Dy())
		out.Faces[i] = Face{Index: i, Box: f.Box, Confidence: f.Confidence, Expanded: expanded[i]}
	}

	if p.cfg.Visualize {
		if err := p.visualize(out, img, original, expanded, stamp, req.TaskID, log); err != nil {
			return out, err
		}
	}

	for i := range out.Faces {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := p.classifyFace(ctx, out, &out.Faces[i], img, stamp, req.TaskID, log); err != nil {
			return out, err
		}
	}

	for _, f := range out.Faces {
		if f.Blurred() {
			render.BlurRegion(img, f.Expanded, p.cfg.BlurRadius)
		}
	}

	outputPath := p.layout.OutputPath(stamp, req.TaskID)
	if err := p.layout.SaveImage(outputPath, img); err != nil {
		return out, fmt.Errorf("save output: %w", err)
	}
	out.OutputPath = outputPath
	log.Info("output saved", zap.String("path", outputPath), zap.Int("blurred", out.BlurredCount()))
	return out, nil
}

func (p *Pipeline) visualize(out *Outcome, img image.Image, original, expanded []image.Rectangle, stamp, taskID string, log *zap.Logger) error {
	overlays := []struct {
		kind  string
		rects []image.Rectangle
		stroke color.Color
	}{
		{"original", original, render.OriginalBoxColor},
		{"expanded", expanded, render.ExpandedBoxColor},
	}
	for _, o := range overlays {
		path := p.layout.VisualizationPath(o.kind, stamp, taskID)
		if err := p.layout.SaveImage(path, render.DrawBoxes(img, o.rects, o.stroke, 2)); err != nil {
			return fmt.Errorf("save %s visualization: %w", o.kind, err)
		}
		out.Artifacts = append(out.Artifacts, path)
		log.Info("visualization saved", zap.String("kind", o.kind), zap.String("path", path))
	}
	return nil
}

func (p *Pipeline) classifyFace(ctx context.Context, out *Outcome, face *Face, img image.Image, stamp, taskID string, log *zap.Logger) error {
	if face.Expanded.Empty() {
		log.Warn("skipping face outside the image", zap.Int("face", face.Index))
		return nil
	}

	crop := render.Crop(img, face.Expanded)
	data, err := render.EncodePNG(crop)
	if err != nil {
		return fmt.Errorf("encode crop %d: %w", face.Index, err)
	}
	path := p.layout.CropPath(face.Index, stamp, taskID)
	if err := p.layout.WriteFile(path, data); err != nil {
		return fmt.Errorf("save crop %d: %w", face.Index, err)
	}
	face.CropPath = path
	out.Artifacts = append(out.Artifacts, path)
	log.Info("face cropped", zap.Int("face", face.Index), zap.String("path", path))

	res, err := p.classifier.Classify(ctx, filepath.Base(path), data)
	if err != nil {
		log.Error("hijab model failed", zap.Int("face", face.Index), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrClassifier, err)
	}
	face.Result = res
	log.Info("hijab detection result",
		zap.Int("face", face.Index),
		zap.String("label", res.Label),
		zap.Float64("confidence", res.Confidence),
		zap.Float64("probability_hijab", res.ProbabilityHijab),
		zap.Float64("probability_no_hijab", res.ProbabilityNoHijab),
	)
	return nil
}

func loadImage(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, err := render.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
