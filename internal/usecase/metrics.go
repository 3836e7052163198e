package usecase

import "context"

// MetricsSummary represents aggregated scan insights.
type MetricsSummary struct {
	TotalScans       int64   `json:"total_scans"`
	CameraScans      int64   `json:"camera_scans"`
	UploadScans      int64   `json:"upload_scans"`
	DistinctPayloads int64   `json:"distinct_payloads"`
	RepeatRate       float64 `json:"repeat_rate"`
}

// GetMetricsSummary aggregates scan metrics from persisted logs.
func (uc *ScanUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScans:       aggregation.TotalCount,
		CameraScans:      aggregation.CameraCount,
		UploadScans:      aggregation.UploadCount,
		DistinctPayloads: aggregation.DistinctPayloads,
	}

	if aggregation.TotalCount > 0 {
		summary.RepeatRate = float64(aggregation.TotalCount-aggregation.DistinctPayloads) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
