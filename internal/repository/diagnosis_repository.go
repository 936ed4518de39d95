package repository

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DiagnosisRepository provides persistence APIs for diagnosis records.
type DiagnosisRepository struct {
	db *gorm.DB
	retrier
}

// NewDiagnosisRepository creates a new repository instance.
func NewDiagnosisRepository(db *gorm.DB, logger *zap.Logger) *DiagnosisRepository {
	return &DiagnosisRepository{db: db, retrier: newRetrier(logger.Named("diagnosis_repository"))}
}

// AutoMigrate ensures the schema is available.
func (r *DiagnosisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Diagnosis{})
}

// Save persists a diagnosis record.
func (r *DiagnosisRepository) Save(ctx context.Context, d *Diagnosis) error {
	return r.executeWithRetry(ctx, "diagnosis_repository.save", d.RequestID, func() error {
		return r.db.WithContext(ctx).Create(d).Error
	})
}

// FindByRequestID retrieves a diagnosis by its request identifier.
func (r *DiagnosisRepository) FindByRequestID(ctx context.Context, requestID string) (*Diagnosis, error) {
	var d Diagnosis
	if err := r.db.WithContext(ctx).First(&d, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByUsername retrieves the most recent diagnoses for one user.
func (r *DiagnosisRepository) ListByUsername(ctx context.Context, username string, limit int) ([]*Diagnosis, error) {
	var out []*Diagnosis
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MetricsAggregation holds the raw aggregates used for the metrics summary.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	MalignantCount    int64   `gorm:"column:malignant_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
}

// AggregateMetrics computes diagnosis aggregates across all records.
func (r *DiagnosisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&Diagnosis{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN label = 1 THEN 1 ELSE 0 END), 0) AS malignant_count, " +
			"COALESCE(AVG(confidence), 0) AS average_confidence").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
