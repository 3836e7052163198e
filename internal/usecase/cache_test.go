package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/camqr/internal/repository"
)

// fakeRedis implements the two commands RedisLatestStore issues; any other
// call panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unexpected value type"))
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisLatestStoreRoundTripsScan(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisLatestStore(client, 6*time.Hour)

	scan := &repository.ScanLog{
		ScanID:     "scan-1",
		SessionID:  "session-1",
		Source:     repository.SourceCamera,
		Format:     "qr_code",
		Payload:    "HELLO",
		SHA1Hash:   "abc",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		OperatorID: "",
	}
	if err := store.SetLatest(context.Background(), scan); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}
	if ttl := client.ttls[latestScanKey]; ttl != 6*time.Hour {
		t.Fatalf("expected configured ttl, got %v", ttl)
	}

	got, err := store.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got.ScanID != scan.ScanID || got.Payload != scan.Payload || got.SHA1Hash != scan.SHA1Hash || !got.CreatedAt.Equal(scan.CreatedAt) {
		t.Fatalf("unexpected cached scan: %+v", got)
	}
}

func TestRedisLatestStoreMiss(t *testing.T) {
	store := NewRedisLatestStore(newFakeRedis(), time.Hour)
	if _, err := store.GetLatest(context.Background()); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisLatestStoreRejectsCorruptEntry(t *testing.T) {
	client := newFakeRedis()
	client.values[latestScanKey] = "{not json"
	store := NewRedisLatestStore(client, time.Hour)
	if _, err := store.GetLatest(context.Background()); err == nil || errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
