package usecase

import "context"

// MetricsSummary represents aggregated diagnosis insights.
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	MalignantRequests int64   `json:"malignant_requests"`
	MalignancyRate    float64 `json:"malignancy_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates diagnosis metrics from persisted records.
func (uc *DiagnosisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:     aggregation.TotalCount,
		MalignantRequests: aggregation.MalignantCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.TotalCount > 0 {
		summary.MalignancyRate = float64(aggregation.MalignantCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
