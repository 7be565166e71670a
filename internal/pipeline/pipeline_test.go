package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/artifacts"
	"github.com/example/hijab-blur/internal/classifier"
	"github.com/example/hijab-blur/internal/detector"
	"github.com/example/hijab-blur/internal/geometry"
	"github.com/example/hijab-blur/internal/render"
	"github.com/example/hijab-blur/internal/task"
)

type stubDetector struct {
	faces []detector.Face
	err   error
}

func (s *stubDetector) Detect(ctx context.Context, img image.Image) ([]detector.Face, error) {
	return s.faces, s.err
}

type stubClassifier struct {
	mu      sync.Mutex
	results []*classifier.Result
	errs    []error
	calls   []string
}

func (s *stubClassifier) Classify(ctx context.Context, filename string, crop []byte) (*classifier.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, filename)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &classifier.Result{Label: classifier.LabelHijab}, nil
}

type fixture struct {
	layout *artifacts.Layout
	input  string
	source *image.NRGBA
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	layout := artifacts.NewLayout(
		filepath.Join(root, "uploads"),
		filepath.Join(root, "vis"),
		filepath.Join(root, "crops"),
	).WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) })
	require.NoError(t, layout.Ensure())

	src := image.NewNRGBA(image.Rect(0, 0, 200, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 200; x++ {
			c := color.NRGBA{R: 20, G: 40, B: 60, A: 255}
			if (x/3+y/3)%2 == 0 {
				c = color.NRGBA{R: 230, G: 210, B: 190, A: 255}
			}
			src.SetNRGBA(x, y, c)
		}
	}
	input := layout.InputPath(layout.Stamp(), "task-1", ".png")
	require.NoError(t, layout.SaveImage(input, src))
	return &fixture{layout: layout, input: input, source: src}
}

func (f *fixture) pipeline(d detector.Detector, c classifier.Client) *Pipeline {
	return New(d, c, f.layout, DefaultConfig(), zap.NewNop())
}

func (f *fixture) run(t *testing.T, p *Pipeline) (*Outcome, error) {
	t.Helper()
	return p.Run(context.Background(), Request{TaskID: "task-1", InputPath: f.input})
}

func loadOutput(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	img, err := render.Decode(fh)
	require.NoError(t, err)
	return img
}

func face(x, y, w, h, conf float64) detector.Face {
	return detector.Face{Box: geometry.Box{X: x, Y: y, W: w, H: h}, Confidence: conf}
}

func outputs(t *testing.T, l *artifacts.Layout) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(l.UploadDir, "output_*"))
	require.NoError(t, err)
	return matches
}

func TestRunWithoutFaces(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, f.pipeline(&stubDetector{}, &stubClassifier{}))

	require.ErrorIs(t, err, ErrNoFaces)
	assert.Equal(t, "No faces detected", err.Error())
	assert.Equal(t, task.KindNoFaces, KindOf(err))
	assert.Zero(t, out.Detected)
	assert.Empty(t, outputs(t, f.layout))
}

func TestRunWithLowConfidenceFaces(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{}
	det := &stubDetector{faces: []detector.Face{face(10, 10, 40, 40, 0.9), face(100, 50, 40, 40, 0.5)}}

	out, err := f.run(t, f.pipeline(det, cls))

	require.ErrorIs(t, err, ErrNoFaces)
	assert.Equal(t, "No faces detected with confidence >= 0.95", err.Error())
	assert.Equal(t, task.KindNoFaces, KindOf(err))
	assert.Equal(t, 2, out.Detected)
	assert.Empty(t, cls.calls)
}

func TestRunClassifierFailureAbortsWholeTask(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{
		results: []*classifier.Result{{Label: classifier.LabelNoHijab}},
		errs:    []error{nil, errors.New("connection reset")},
	}
	det := &stubDetector{faces: []detector.Face{face(10, 10, 40, 40, 0.99), face(120, 60, 40, 40, 0.99)}}

	_, err := f.run(t, f.pipeline(det, cls))

	require.ErrorIs(t, err, ErrClassifier)
	assert.Equal(t, "Hijab model failed: connection reset", err.Error())
	assert.Equal(t, task.KindClassifier, KindOf(err))
	assert.Len(t, cls.calls, 2)
	assert.Empty(t, outputs(t, f.layout))
}

func TestRunClassifierInvalidPayload(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{errs: []error{classifier.ErrInvalidResponse}}
	det := &stubDetector{faces: []detector.Face{face(10, 10, 40, 40, 0.99)}}

	_, err := f.run(t, f.pipeline(det, cls))

	assert.ErrorIs(t, err, classifier.ErrInvalidResponse)
	assert.Equal(t, "Hijab model failed: Invalid hijab model response", err.Error())
}

func TestRunHijabFaceIsLeftUntouched(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{results: []*classifier.Result{{Label: classifier.LabelHijab, Confidence: 91}}}
	det := &stubDetector{faces: []detector.Face{face(60, 40, 50, 50, 0.99)}}

	out, err := f.run(t, f.pipeline(det, cls))
	require.NoError(t, err)

	assert.Zero(t, out.BlurredCount())
	got := loadOutput(t, out.OutputPath)
	assert.Equal(t, f.source.Pix, got.Pix)
}

func TestRunNoHijabFaceIsBlurred(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{results: []*classifier.Result{{Label: classifier.LabelNoHijab}}}
	det := &stubDetector{faces: []detector.Face{face(60, 40, 50, 50, 0.99)}}

	out, err := f.run(t, f.pipeline(det, cls))
	require.NoError(t, err)
	require.Len(t, out.Faces, 1)

	rect := out.Faces[0].Expanded
	assert.Equal(t, image.Rect(57, 32, 57+55, 32+65), rect)
	assert.Equal(t, 1, out.BlurredCount())

	got := loadOutput(t, out.OutputPath)
	changed := 0
	for y := 0; y < 160; y++ {
		for x := 0; x < 200; x++ {
			same := got.NRGBAAt(x, y) == f.source.NRGBAAt(x, y)
			if !image.Pt(x, y).In(rect) {
				require.Truef(t, same, "pixel outside the face changed at %d,%d", x, y)
			} else if !same {
				changed++
			}
		}
	}
	assert.Greater(t, changed, 0)
}

func TestRunWritesArtifacts(t *testing.T) {
	f := newFixture(t)
	cls := &stubClassifier{}
	det := &stubDetector{faces: []detector.Face{face(10, 10, 40, 40, 0.99), face(120, 60, 40, 40, 0.97)}}

	out, err := f.run(t, f.pipeline(det, cls))
	require.NoError(t, err)

	require.Len(t, out.Artifacts, 4)
	for _, p := range out.Artifacts {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
	assert.Equal(t, []string{
		"crop_face0_20240102_030405_task-1.png",
		"crop_face1_20240102_030405_task-1.png",
	}, cls.calls)
	assert.Equal(t, "output_20240102_030405_task-1.png", filepath.Base(out.OutputPath))
}

func TestRunWithoutVisualization(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.Visualize = false
	p := New(&stubDetector{faces: []detector.Face{face(10, 10, 40, 40, 0.99)}}, &stubClassifier{}, f.layout, cfg, zap.NewNop())

	out, err := f.run(t, p)
	require.NoError(t, err)

	assert.Len(t, out.Artifacts, 1)
}

func TestRunUndecodableInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.input, []byte("garbage"), 0o644))

	_, err := f.run(t, f.pipeline(&stubDetector{}, &stubClassifier{}))

	require.Error(t, err)
	assert.Equal(t, task.KindInternal, KindOf(err))
}

func TestRunDetectorError(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, f.pipeline(&stubDetector{err: errors.New("model crashed")}, &stubClassifier{}))

	assert.Equal(t, task.KindInternal, KindOf(err))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, task.KindNone, KindOf(nil))
	assert.Equal(t, task.KindInternal, KindOf(errors.New("x")))
}
