package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
	"github.com/example/camqr/internal/observable"
	"github.com/example/camqr/internal/repository"
	"github.com/example/camqr/internal/scanner"
)

var (
	// ErrNoCode is returned when an uploaded image holds no QR code.
	ErrNoCode = errors.New("no qr code found")
	// ErrInvalidImage is returned when an upload cannot be decoded as an image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNotFound is returned when no scan matches.
	ErrNotFound = errors.New("scan not found")
)

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	SaveLog(ctx context.Context, log *repository.ScanLog) error
	FindByScanID(ctx context.Context, scanID string) (*repository.ScanLog, error)
	ListRecent(ctx context.Context, limit int) ([]*repository.ScanLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ContentSource is a scan session whose decoded text can be followed.
type ContentSource interface {
	ID() string
	Content() *observable.Value[scanner.DecodedText]
}

// ScanUseCase records scans from live sessions and uploads.
type ScanUseCase struct {
	repo           ScanRepository
	latest         LatestStore
	decoder        barcode.Decoder
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewScanUseCase constructs a new use case instance.
func NewScanUseCase(repo ScanRepository, latest LatestStore, decoder barcode.Decoder, logger *zap.Logger) *ScanUseCase {
	return &ScanUseCase{
		repo:           repo,
		latest:         latest,
		decoder:        decoder,
		logger:         logger.Named("scan_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Follow records every newly published payload of session until ctx ends.
func (uc *ScanUseCase) Follow(ctx context.Context, session ContentSource) error {
	updates, cancel := session.Content().Subscribe()
	defer cancel()

	opLogger := logging.WithOperation(uc.logger, "usecase.follow", session.ID())
	opLogger.Info("following scan session")
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-updates:
			if !ok {
				return nil
			}
			if !text.Valid {
				continue
			}
			log, err := uc.record(ctx, session.ID(), "", repository.SourceCamera, barcode.FormatQRCode, text.Text)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				opLogger.Error("failed to record scan", zap.Error(err))
				continue
			}
			opLogger.Info("scan recorded", zap.String("scan_id", log.ScanID))
		}
	}
}

// DecodeImage finds the first QR code in an uploaded image and records it.
func (uc *ScanUseCase) DecodeImage(ctx context.Context, operatorID string, imageBytes []byte) (*repository.ScanLog, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	frame := camera.NewFrame(img, 0, uc.now(), nil)
	defer frame.Close()
	codes, err := uc.decoder.Process(ctx, frame)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", "", err)
		uc.logger.Error("decoder failed", append(logging.ErrorFields(wrapped), zap.String("operator_id", operatorID))...)
		return nil, wrapped
	}
	text, ok := barcode.FirstQR(codes)
	if !ok {
		return nil, ErrNoCode
	}
	return uc.record(ctx, "", operatorID, repository.SourceUpload, barcode.FormatQRCode, text)
}

func (uc *ScanUseCase) record(ctx context.Context, sessionID, operatorID, source string, format barcode.Format, payload string) (*repository.ScanLog, error) {
	hash := sha1.Sum([]byte(payload))
	log := &repository.ScanLog{
		ScanID:     uuid.NewString(),
		SessionID:  sessionID,
		OperatorID: operatorID,
		Source:     source,
		Format:     format.String(),
		Payload:    payload,
		SHA1Hash:   hex.EncodeToString(hash[:]),
		CreatedAt:  uc.now(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		return nil, logging.NewOperationError("usecase.save_log", sessionID, err)
	}

	if err := uc.withRedisRetry(ctx, sessionID, "cache.set.latest", func() error {
		return uc.latest.SetLatest(ctx, log)
	}); err != nil {
		return nil, err
	}
	return log, nil
}

// Latest returns the most recent scan, preferring the cache.
func (uc *ScanUseCase) Latest(ctx context.Context) (*repository.ScanLog, error) {
	var cached *repository.ScanLog
	err := uc.withRedisRetry(ctx, "", "cache.get.latest", func() error {
		scan, err := uc.latest.GetLatest(ctx)
		cached = scan
		return err
	})
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		logging.WithOperation(uc.logger, "usecase.latest", "").Warn("failed to read cache", zap.Error(err))
	}

	logs, err := uc.repo.ListRecent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, ErrNotFound
	}
	return logs[0], nil
}

// GetResult loads one scan by id.
func (uc *ScanUseCase) GetResult(ctx context.Context, scanID string) (*repository.ScanLog, error) {
	log, err := uc.repo.FindByScanID(ctx, scanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return log, err
}

// History returns recent scans. limit is clamped to [1, 100]; zero means 20.
func (uc *ScanUseCase) History(ctx context.Context, limit int) ([]*repository.ScanLog, error) {
	switch {
	case limit == 0:
		limit = 20
	case limit < 1:
		limit = 1
	case limit > 100:
		limit = 100
	}
	return uc.repo.ListRecent(ctx, limit)
}

func (uc *ScanUseCase) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, sessionID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.RetriedOperationError(operation, sessionID, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, ErrCacheMiss) {
			return logging.RetriedOperationError(operation, sessionID, attempt+1, err)
		}
		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			wrapped := logging.RetriedOperationError(operation, sessionID, attempt+1, err)
			uc.logger.Error("redis operation failed", logging.ErrorFields(wrapped)...)
			return wrapped
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}
