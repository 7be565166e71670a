package pipeline

import (
	"errors"

	"github.com/example/hijab-blur/internal/task"
)

// Failure classes of a run. Wrapped errors keep these in their chain.
var (
	ErrNoFaces    = errors.New("No faces detected")
	ErrClassifier = errors.New("Hijab model failed")
)

// KindOf maps a run error to the task failure kind.
func KindOf(err error) task.ErrorKind {
	switch {
	case err == nil:
		return task.KindNone
	case errors.Is(err, ErrNoFaces):
		return task.KindNoFaces
	case errors.Is(err, ErrClassifier):
		return task.KindClassifier
	default:
		return task.KindInternal
	}
}
