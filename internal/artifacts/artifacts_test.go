package artifacts

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayout(t *testing.T, now time.Time) *Layout {
	t.Helper()
	root := t.TempDir()
	l := NewLayout(
		filepath.Join(root, "uploads"),
		filepath.Join(root, "output", "visualizations"),
		filepath.Join(root, "output", "cropped"),
	).WithClock(func() time.Time { return now })
	require.NoError(t, l.Ensure())
	return l
}

func TestFileNames(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	l := newTestLayout(t, now)
	stamp := l.Stamp()

	assert.Equal(t, "20240309_140507", stamp)
	assert.Equal(t, "input_20240309_140507_abc.jpg", filepath.Base(l.InputPath(stamp, "abc", ".jpg")))
	assert.Equal(t, "input_20240309_140507_abc.png", filepath.Base(l.InputPath(stamp, "abc", "")))
	assert.Equal(t, "output_20240309_140507_abc.png", filepath.Base(l.OutputPath(stamp, "abc")))
	assert.Equal(t, "vis_expanded_20240309_140507_abc.png", filepath.Base(l.VisualizationPath("expanded", stamp, "abc")))
	assert.Equal(t, "crop_face2_20240309_140507_abc.png", filepath.Base(l.CropPath(2, stamp, "abc")))
	assert.Equal(t, l.UploadDir, filepath.Dir(l.OutputPath(stamp, "abc")))
}

func TestSaveImageAndRemove(t *testing.T) {
	l := newTestLayout(t, time.Now())
	path := l.CropPath(0, l.Stamp(), "t1")

	require.NoError(t, l.SaveImage(path, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, l.Remove(path, "", filepath.Join(l.CroppedDir, "missing.png")))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPruneRemovesOnlyOldFiles(t *testing.T) {
	now := time.Now()
	l := newTestLayout(t, now)

	oldFile := filepath.Join(l.UploadDir, "old.png")
	freshFile := filepath.Join(l.VisualizationDir, "fresh.png")
	require.NoError(t, l.WriteFile(oldFile, []byte("x")))
	require.NoError(t, l.WriteFile(freshFile, []byte("y")))
	require.NoError(t, os.Chtimes(oldFile, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	removed, err := l.Prune(time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}
