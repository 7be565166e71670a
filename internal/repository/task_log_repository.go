package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hijab-blur/internal/retry"
)

// TaskLog is the persisted outcome of a finished task.
type TaskLog struct {
	ID           uint      `gorm:"primaryKey"`
	TaskID       string    `gorm:"column:task_id;uniqueIndex;size:64"`
	ClientID     string    `gorm:"column:client_id;size:128;index"`
	Status       string    `gorm:"column:status;size:16;index"`
	ErrorKind    string    `gorm:"column:error_kind;size:32"`
	Message      string    `gorm:"column:message;type:text"`
	FaceCount    int       `gorm:"column:face_count"`
	BlurredCount int       `gorm:"column:blurred_count"`
	OutputPath   string    `gorm:"column:output_path;type:text"`
	ProcessingMs int64     `gorm:"column:processing_ms"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (TaskLog) TableName() string {
	return "task_logs"
}

// MetricsAggregation is the raw result of the metrics query.
type MetricsAggregation struct {
	TotalCount          int64
	CompletedCount      int64
	NoFacesCount        int64
	ClassifierFailCount int64
	FacesTotal          int64
	BlurredTotal        int64
	AverageProcessingMs float64
}

// TaskLogRepository provides persistence APIs for task logs.
type TaskLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewTaskLogRepository creates a new repository instance.
func NewTaskLogRepository(db *gorm.DB, logger *zap.Logger) *TaskLogRepository {
	return &TaskLogRepository{
		db:     db,
		logger: logger.Named("task_log_repository"),
		policy: retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *TaskLogRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&TaskLog{})
	})
}

// SaveLog persists a task log entry.
func (r *TaskLogRepository) SaveLog(ctx context.Context, log *TaskLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.TaskID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByTaskID retrieves the log of one task.
func (r *TaskLogRepository) FindByTaskID(ctx context.Context, taskID string) (*TaskLog, error) {
	var log TaskLog
	err := r.executeWithRetry(ctx, "repository.find_by_task_id", taskID, func() error {
		return r.db.WithContext(ctx).First(&log, "task_id = ?", taskID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every stored log.
func (r *TaskLogRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&TaskLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COUNT(*) FILTER (WHERE status = 'completed') AS completed_count, " +
				"COUNT(*) FILTER (WHERE error_kind = 'no_faces') AS no_faces_count, " +
				"COUNT(*) FILTER (WHERE error_kind = 'classifier') AS classifier_fail_count, " +
				"COALESCE(SUM(face_count), 0) AS faces_total, " +
				"COALESCE(SUM(blurred_count), 0) AS blurred_total, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_ms",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *TaskLogRepository) executeWithRetry(ctx context.Context, operation, taskID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, taskID, fn)
}
