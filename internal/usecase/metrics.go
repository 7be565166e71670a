package usecase

import "context"

// MetricsSummary represents aggregated task insights.
type MetricsSummary struct {
	TotalTasks                 int64   `json:"total_tasks"`
	CompletedTasks             int64   `json:"completed_tasks"`
	NoFaceTasks                int64   `json:"no_face_tasks"`
	ClassifierFailures         int64   `json:"classifier_failures"`
	SuccessRate                float64 `json:"success_rate"`
	FacesDetected              int64   `json:"faces_detected"`
	FacesBlurred               int64   `json:"faces_blurred"`
	BlurRate                   float64 `json:"blur_rate"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates task metrics from persisted logs.
func (uc *TaskUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.audit == nil {
		return nil, ErrAuditDisabled
	}
	aggregation, err := uc.audit.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalTasks:                 aggregation.TotalCount,
		CompletedTasks:             aggregation.CompletedCount,
		NoFaceTasks:                aggregation.NoFacesCount,
		ClassifierFailures:         aggregation.ClassifierFailCount,
		FacesDetected:              aggregation.FacesTotal,
		FacesBlurred:               aggregation.BlurredTotal,
		AverageProcessingLatencyMs: aggregation.AverageProcessingMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}
	if aggregation.FacesTotal > 0 {
		summary.BlurRate = float64(aggregation.BlurredTotal) / float64(aggregation.FacesTotal)
	}

	return summary, nil
}
