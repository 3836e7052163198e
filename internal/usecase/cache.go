package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/camqr/internal/repository"
)

const latestScanKey = "scan:latest"

// ErrCacheMiss is returned by LatestStore.GetLatest when nothing is cached.
var ErrCacheMiss = errors.New("latest scan not cached")

// LatestStore keeps the most recent scan for reads that skip the database.
type LatestStore interface {
	SetLatest(ctx context.Context, scan *repository.ScanLog) error
	GetLatest(ctx context.Context) (*repository.ScanLog, error)
}

// cachedScan is the JSON document stored under latestScanKey.
type cachedScan struct {
	ScanID     string    `json:"scan_id"`
	SessionID  string    `json:"session_id,omitempty"`
	OperatorID string    `json:"operator_id,omitempty"`
	Source     string    `json:"source"`
	Format     string    `json:"format"`
	Payload    string    `json:"payload"`
	Hash       string    `json:"sha1_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

func toCachedScan(log *repository.ScanLog) cachedScan {
	return cachedScan{
		ScanID:     log.ScanID,
		SessionID:  log.SessionID,
		OperatorID: log.OperatorID,
		Source:     log.Source,
		Format:     log.Format,
		Payload:    log.Payload,
		Hash:       log.SHA1Hash,
		CreatedAt:  log.CreatedAt,
	}
}

func (c cachedScan) scanLog() *repository.ScanLog {
	return &repository.ScanLog{
		ScanID:     c.ScanID,
		SessionID:  c.SessionID,
		OperatorID: c.OperatorID,
		Source:     c.Source,
		Format:     c.Format,
		Payload:    c.Payload,
		SHA1Hash:   c.Hash,
		CreatedAt:  c.CreatedAt,
	}
}

// RedisLatestStore stores the latest scan as JSON in Redis with a TTL.
type RedisLatestStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLatestStore returns a store writing through client. A ttl of zero
// keeps the entry until it is overwritten.
func NewRedisLatestStore(client redis.Cmdable, ttl time.Duration) *RedisLatestStore {
	return &RedisLatestStore{client: client, ttl: ttl}
}

// SetLatest replaces the cached scan.
func (s *RedisLatestStore) SetLatest(ctx context.Context, scan *repository.ScanLog) error {
	data, err := json.Marshal(toCachedScan(scan))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, latestScanKey, data, s.ttl).Err()
}

// GetLatest returns the cached scan or ErrCacheMiss.
func (s *RedisLatestStore) GetLatest(ctx context.Context) (*repository.ScanLog, error) {
	data, err := s.client.Get(ctx, latestScanKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var cached cachedScan
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return cached.scanLog(), nil
}
