package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/artifacts"
	"github.com/example/hijab-blur/internal/logging"
	"github.com/example/hijab-blur/internal/pipeline"
	"github.com/example/hijab-blur/internal/repository"
	"github.com/example/hijab-blur/internal/task"
	"github.com/example/hijab-blur/internal/worker"
)

// Errors surfaced to the transport layer.
var (
	ErrBusy          = errors.New("too many images in progress, retry later")
	ErrAuditDisabled = errors.New("audit log is disabled")
	ErrNotReady      = errors.New("task has no output")
)

// Runner executes the image pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Scheduler queues background jobs.
type Scheduler interface {
	Submit(job worker.Job) error
}

// AuditRepository defines the persistence operations needed by the use case.
type AuditRepository interface {
	SaveLog(ctx context.Context, log *repository.TaskLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Options tunes task lifecycle.
type Options struct {
	// Retention is how long finished tasks and their files are kept.
	Retention time.Duration
	// EvictOnRetrieval drops a task as soon as its output has been read.
	EvictOnRetrieval bool
}

// Upload is one submitted image.
type Upload struct {
	ClientID string
	Data     []byte
	// Ext is the file extension of the sniffed content type, including the dot.
	Ext string
}

// TaskUseCase encapsulates the submit/poll flow.
type TaskUseCase struct {
	store     task.Store
	scheduler Scheduler
	runner    Runner
	layout    *artifacts.Layout
	audit     AuditRepository
	opts      Options
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewTaskUseCase constructs a new use case instance. audit may be nil.
func NewTaskUseCase(store task.Store, scheduler Scheduler, runner Runner, layout *artifacts.Layout, audit AuditRepository, opts Options, logger *zap.Logger) *TaskUseCase {
	return &TaskUseCase{
		store:     store,
		scheduler: scheduler,
		runner:    runner,
		layout:    layout,
		audit:     audit,
		opts:      opts,
		logger:    logger.Named("task_usecase"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit stores the upload, registers a processing task and queues it.
func (uc *TaskUseCase) Submit(ctx context.Context, up Upload) (string, error) {
	taskID := uc.newID()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit", taskID)

	stamp := uc.layout.Stamp()
	inputPath := uc.layout.InputPath(stamp, taskID, up.Ext)
	if err := uc.layout.WriteFile(inputPath, up.Data); err != nil {
		wrapped := logging.NewOperationError("usecase.save_upload", taskID, err)
		opLogger.Error("failed to save upload", zap.Error(wrapped))
		return "", wrapped
	}

	t := task.New(taskID, inputPath, uc.now())
	if err := uc.store.Create(ctx, t); err != nil {
		_ = uc.layout.Remove(inputPath)
		wrapped := logging.NewOperationError("usecase.create_task", taskID, err)
		opLogger.Error("failed to register task", zap.Error(wrapped))
		return "", wrapped
	}

	job := worker.JobFunc{
		JobID: taskID,
		Fn: func(ctx context.Context) error {
			return uc.process(ctx, t, stamp, up.ClientID)
		},
	}
	if err := uc.scheduler.Submit(job); err != nil {
		if delErr := uc.store.Delete(context.WithoutCancel(ctx), taskID); delErr != nil {
			opLogger.Warn("failed to drop rejected task", zap.Error(delErr))
		}
		_ = uc.layout.Remove(inputPath)
		opLogger.Warn("task rejected", zap.Error(err))
		if errors.Is(err, worker.ErrQueueFull) {
			return "", fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return "", logging.NewOperationError("usecase.enqueue", taskID, err)
	}

	opLogger.Info("task queued", zap.String("input", inputPath), zap.Int("bytes", len(up.Data)))
	return taskID, nil
}

// process runs the pipeline and records the single terminal transition of t.
func (uc *TaskUseCase) process(ctx context.Context, t *task.Task, stamp, clientID string) (err error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.process", t.ID)
	start := uc.now()
	var outcome *pipeline.Outcome

	defer func() {
		var runErr error
		if r := recover(); r != nil {
			opLogger.Error("processing panicked", zap.Any("panic", r))
			runErr = fmt.Errorf("panic: %v", r)
		} else {
			runErr = err
		}
		err = uc.finish(context.WithoutCancel(ctx), t, outcome, runErr, start, clientID)
	}()

	outcome, err = uc.runner.Run(ctx, pipeline.Request{TaskID: t.ID, InputPath: t.InputPath, Stamp: stamp})
	return err
}

func (uc *TaskUseCase) finish(ctx context.Context, t *task.Task, outcome *pipeline.Outcome, runErr error, start time.Time, clientID string) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.finish", t.ID)
	finished := t.Clone()
	now := uc.now().UTC()
	finished.FinishedAt = &now

	if runErr == nil && outcome == nil {
		runErr = errors.New("pipeline returned no outcome")
	}
	if outcome != nil {
		finished.FaceCount = len(outcome.Faces)
		finished.BlurredCount = outcome.BlurredCount()
		finished.Artifacts = append([]string(nil), outcome.Artifacts...)
	}

	if runErr != nil {
		finished.Status = task.StatusError
		finished.ErrorKind = pipeline.KindOf(runErr)
		finished.Message = runErr.Error()
		if finished.ErrorKind == task.KindInternal {
			finished.Message = "Processing failed: " + runErr.Error()
		}
		opLogger.Warn("task failed", zap.String("kind", string(finished.ErrorKind)), zap.String("message", finished.Message))
	} else {
		finished.Status = task.StatusCompleted
		finished.OutputPath = outcome.OutputPath
		opLogger.Info("task completed", zap.String("output", finished.OutputPath), zap.Int("blurred", finished.BlurredCount))
	}

	if err := uc.store.Finish(ctx, finished); err != nil {
		wrapped := logging.NewOperationError("usecase.finish_task", t.ID, err)
		opLogger.Error("failed to record task outcome", zap.Error(wrapped))
		return wrapped
	}

	if uc.audit != nil {
		entry := &repository.TaskLog{
			TaskID:       t.ID,
			ClientID:     clientID,
			Status:       string(finished.Status),
			ErrorKind:    string(finished.ErrorKind),
			Message:      finished.Message,
			FaceCount:    finished.FaceCount,
			BlurredCount: finished.BlurredCount,
			OutputPath:   finished.OutputPath,
			ProcessingMs: now.Sub(start).Milliseconds(),
			CreatedAt:    now,
		}
		if err := uc.audit.SaveLog(ctx, entry); err != nil {
			opLogger.Error("failed to persist task log", zap.Error(err))
		}
	}
	return nil
}

// GetResult returns a copy of the task record.
func (uc *TaskUseCase) GetResult(ctx context.Context, taskID string) (*task.Task, error) {
	return uc.store.Get(ctx, taskID)
}

// ReadOutput loads the final image of a completed task and evicts the task when
// configured to.
func (uc *TaskUseCase) ReadOutput(ctx context.Context, t *task.Task) ([]byte, error) {
	if t.Status != task.StatusCompleted || t.OutputPath == "" {
		return nil, ErrNotReady
	}
	data, err := os.ReadFile(t.OutputPath)
	if err != nil {
		return nil, logging.NewOperationError("usecase.read_output", t.ID, err)
	}

	if uc.opts.EvictOnRetrieval {
		opLogger := logging.WithOperation(uc.logger, "usecase.evict", t.ID)
		if err := uc.store.Delete(ctx, t.ID); err != nil {
			opLogger.Warn("failed to evict task", zap.Error(err))
		} else if err := uc.layout.Remove(t.Files()...); err != nil {
			opLogger.Warn("failed to remove task files", zap.Error(err))
		}
	}
	return data, nil
}
