package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/camqr/internal/logging"
)

// Scan sources.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
)

// ScanLog represents a persisted QR scan.
type ScanLog struct {
	ID         uint      `gorm:"primaryKey"`
	ScanID     string    `gorm:"column:scan_id;uniqueIndex;size:64"`
	SessionID  string    `gorm:"column:session_id;index;size:64"`
	OperatorID string    `gorm:"column:operator_id;size:64"`
	Source     string    `gorm:"column:source;size:16"`
	Format     string    `gorm:"column:format;size:32"`
	Payload    string    `gorm:"column:payload;type:text"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ScanLog) TableName() string {
	return "scan_logs"
}

// MetricsAggregation holds raw counters computed by the database.
type MetricsAggregation struct {
	TotalCount       int64
	CameraCount      int64
	UploadCount      int64
	DistinctPayloads int64
}

// ScanRepository provides persistence APIs for scan logs.
type ScanRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	return &ScanRepository{
		db:             db,
		logger:         logger.Named("scan_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ScanLog{})
}

// SaveLog persists a scan log entry.
func (r *ScanRepository) SaveLog(ctx context.Context, log *ScanLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByScanID retrieves a scan log by its public identifier.
func (r *ScanRepository) FindByScanID(ctx context.Context, scanID string) (*ScanLog, error) {
	var log ScanLog
	err := r.executeWithRetry(ctx, "repository.find_by_scan_id", "", func() error {
		return r.db.WithContext(ctx).First(&log, "scan_id = ?", scanID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListRecent returns the newest scan logs first.
func (r *ScanRepository) ListRecent(ctx context.Context, limit int) ([]*ScanLog, error) {
	var logs []*ScanLog
	err := r.executeWithRetry(ctx, "repository.list_recent", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes scan counters.
func (r *ScanRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ScanLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN source = 'camera' THEN 1 ELSE 0 END), 0) AS camera_count, " +
				"COALESCE(SUM(CASE WHEN source = 'upload' THEN 1 ELSE 0 END), 0) AS upload_count, " +
				"COUNT(DISTINCT sha1_hash) AS distinct_payloads",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *ScanRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.RetriedOperationError(operation, sessionID, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == attempts-1 {
			wrapped := logging.RetriedOperationError(operation, sessionID, attempt+1, err)
			r.logger.Error("database operation failed", logging.ErrorFields(wrapped)...)
			return wrapped
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}
