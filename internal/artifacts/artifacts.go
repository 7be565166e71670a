// Package artifacts owns the on-disk layout of uploads, outputs and debug images.
package artifacts

import (
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// TimestampLayout is embedded in every generated file name.
const TimestampLayout = "20060102_150405"

// Layout describes where files are written.
type Layout struct {
	UploadDir        string
	VisualizationDir string
	CroppedDir       string

	now func() time.Time
}

// NewLayout returns a layout rooted at the given directories.
func NewLayout(uploadDir, visualizationDir, croppedDir string) *Layout {
	return &Layout{
		UploadDir:        uploadDir,
		VisualizationDir: visualizationDir,
		CroppedDir:       croppedDir,
		now:              time.Now,
	}
}

// WithClock overrides the clock used for timestamps and pruning.
func (l *Layout) WithClock(now func() time.Time) *Layout {
	l.now = now
	return l
}

// Ensure creates every directory of the layout.
func (l *Layout) Ensure() error {
	for _, dir := range l.dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Stamp returns the timestamp used to name the files of one task.
func (l *Layout) Stamp() string {
	return l.now().Format(TimestampLayout)
}

// InputPath names an uploaded file. ext includes the leading dot.
func (l *Layout) InputPath(stamp, taskID, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	return filepath.Join(l.UploadDir, fmt.Sprintf("input_%s_%s%s", stamp, taskID, ext))
}

// OutputPath names the final image of a task.
func (l *Layout) OutputPath(stamp, taskID string) string {
	return filepath.Join(l.UploadDir, fmt.Sprintf("output_%s_%s.png", stamp, taskID))
}

// VisualizationPath names a debug image; kind is "original" or "expanded".
func (l *Layout) VisualizationPath(kind, stamp, taskID string) string {
	return filepath.Join(l.VisualizationDir, fmt.Sprintf("vis_%s_%s_%s.png", kind, stamp, taskID))
}

// CropPath names the crop of face idx.
func (l *Layout) CropPath(idx int, stamp, taskID string) string {
	return filepath.Join(l.CroppedDir, fmt.Sprintf("crop_face%d_%s_%s.png", idx, stamp, taskID))
}

// WriteFile stores raw bytes.
func (l *Layout) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// SaveImage encodes img in the format implied by the path extension.
func (l *Layout) SaveImage(path string, img image.Image) error {
	return imaging.Save(img, path)
}

// Remove deletes the given files, ignoring ones that are already gone.
func (l *Layout) Remove(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Prune deletes regular files older than maxAge from every directory of the layout
// and returns how many were removed.
func (l *Layout) Prune(maxAge time.Duration) (int, error) {
	cutoff := l.now().Add(-maxAge)
	removed := 0
	for _, dir := range l.dirs() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (l *Layout) dirs() []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, d := range []string{l.UploadDir, l.VisualizationDir, l.CroppedDir} {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
