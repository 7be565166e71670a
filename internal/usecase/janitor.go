package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepReport counts what one sweep removed.
type SweepReport struct {
	Tasks int
	Files int
}

// Sweep evicts finished tasks older than the retention window together with their files,
// then prunes orphaned files of the same age.
func (uc *TaskUseCase) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if uc.opts.Retention <= 0 {
		return report, nil
	}

	evicted, err := uc.store.Sweep(ctx, uc.now().Add(-uc.opts.Retention))
	if err != nil {
		return report, err
	}
	report.Tasks = len(evicted)
	for _, t := range evicted {
		if err := uc.layout.Remove(t.Files()...); err != nil {
			uc.logger.Warn("failed to remove task files", zap.String("task_id", t.ID), zap.Error(err))
		}
	}

	pruned, err := uc.layout.Prune(uc.opts.Retention)
	report.Files = pruned
	return report, err
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (uc *TaskUseCase) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || uc.opts.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := uc.Sweep(ctx)
			if err != nil {
				uc.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if report.Tasks > 0 || report.Files > 0 {
				uc.logger.Info("sweep finished", zap.Int("tasks", report.Tasks), zap.Int("files", report.Files))
			}
		}
	}
}
