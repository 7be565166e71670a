// Package task keeps the registry of submitted images and their outcome.
package task

import (
	"context"
	"errors"
	"time"
)

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ErrorKind classifies why a task failed.
type ErrorKind string

// Failure kinds surfaced to clients.
const (
	KindNone       ErrorKind = ""
	KindNoFaces    ErrorKind = "no_faces"
	KindClassifier ErrorKind = "classifier"
	KindInternal   ErrorKind = "internal"
)

// Common errors returned by stores.
var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyExists   = errors.New("task already exists")
	ErrAlreadyFinished = errors.New("task already finished")
	ErrNotTerminal     = errors.New("task update must be terminal")
)

// Task is the record of one submitted image.
type Task struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	InputPath    string     `json:"input_path"`
	OutputPath   string     `json:"output_path,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	Message      string     `json:"message,omitempty"`
	FaceCount    int        `json:"face_count"`
	BlurredCount int        `json:"blurred_count"`
	Artifacts    []string   `json:"artifacts,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// New returns a task in the processing state.
func New(id, inputPath string, now time.Time) *Task {
	return &Task{ID: id, Status: StatusProcessing, InputPath: inputPath, CreatedAt: now.UTC()}
}

// Clone returns a deep copy so readers never share memory with the store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Artifacts != nil {
		c.Artifacts = append([]string(nil), t.Artifacts...)
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// Files lists every file owned by the task.
func (t *Task) Files() []string {
	files := make([]string, 0, len(t.Artifacts)+2)
	files = append(files, t.InputPath, t.OutputPath)
	return append(files, t.Artifacts...)
}

// Store maps task ids to task records.
//
// Create inserts a processing task. Finish performs the single terminal transition and
// rejects a second one with ErrAlreadyFinished. Sweep evicts terminal tasks finished
// before the cutoff and returns them so their files can be removed.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Finish(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	Sweep(ctx context.Context, cutoff time.Time) ([]*Task, error)
}

func validateFinish(t *Task) error {
	if t == nil || !t.Status.Terminal() {
		return ErrNotTerminal
	}
	return nil
}
