package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envWith(values map[string]string) LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", envWith(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Decoder.Kind != "local" || cfg.Camera.Mode != "scan" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 15*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.Server.ShutdownTimeout.Duration())
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camqr.toml")
	content := `
[server]
addr = ":9090"
shutdown_timeout = "3s"

[camera]
source = "dir"
dir = "/var/lib/camqr/frames"
settle = "250ms"
consume = true

[decoder]
kind = "grpc"
addr = "decoder:50051"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load("", envWith(map[string]string{
		PathEnv:      path,
		"CAMQR_ADDR": ":7070",
		"REDIS_ADDR": "cache:6379",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("expected env to win, got %s", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 3*time.Second {
		t.Fatalf("expected file timeout, got %v", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.Camera.Settle.Duration() != 250*time.Millisecond || !cfg.Camera.Consume {
		t.Fatalf("unexpected camera config %+v", cfg.Camera)
	}
	if cfg.Decoder.Kind != "grpc" || cfg.Decoder.Addr != "decoder:50051" {
		t.Fatalf("unexpected decoder config %+v", cfg.Decoder)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("unexpected redis addr %s", cfg.Redis.Addr)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	_, err := Load("", envWith(map[string]string{
		"CAMQR_CAMERA_SOURCE": "rtsp",
		"CAMQR_DECODER":       "cloud",
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"camera.source", "decoder.kind"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestInvalidEnvNumber(t *testing.T) {
	if _, err := Load("", envWith(map[string]string{"CAMQR_WEBCAM_DEVICE": "front"})); err == nil {
		t.Fatal("expected error for non-numeric device")
	}
}

func TestLatestTTL(t *testing.T) {
	cfg, err := Load("", envWith(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.LatestTTL.Duration() != 24*time.Hour {
		t.Fatalf("unexpected default latest ttl %v", cfg.Redis.LatestTTL.Duration())
	}

	path := filepath.Join(t.TempDir(), "camqr.toml")
	if err := os.WriteFile(path, []byte("[redis]\nlatest_ttl = \"90m\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(path, envWith(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.LatestTTL.Duration() != 90*time.Minute {
		t.Fatalf("expected ttl from file, got %v", cfg.Redis.LatestTTL.Duration())
	}

	cfg, err = Load(path, envWith(map[string]string{"CAMQR_LATEST_TTL": "5m"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.LatestTTL.Duration() != 5*time.Minute {
		t.Fatalf("expected env ttl to win, got %v", cfg.Redis.LatestTTL.Duration())
	}

	if _, err := Load("", envWith(map[string]string{"CAMQR_LATEST_TTL": "-1s"})); err == nil {
		t.Fatal("expected negative ttl to be rejected")
	}
}
