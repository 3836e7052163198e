// Package config loads service settings from defaults, an optional TOML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PathEnv names the TOML file to load.
const PathEnv = "CAMQR_CONFIG"

// Config holds all settings for the scanner service and the decoder daemon.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	Camera   CameraConfig   `toml:"camera"`
	Decoder  DecoderConfig  `toml:"decoder"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings for the scan log.
type DatabaseConfig struct {
	DSN             string   `toml:"dsn"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
}

// RedisConfig holds the latest-scan cache settings.
type RedisConfig struct {
	Addr      string   `toml:"addr"`
	LatestTTL Duration `toml:"latest_ttl"`
}

// AuthConfig holds JWT settings for operator routes.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	JWTAudience string `toml:"jwt_audience"`
}

// CameraConfig selects and tunes the camera provider.
type CameraConfig struct {
	Source      string   `toml:"source"` // "dir" or "webcam"
	Mode        string   `toml:"mode"`   // "scan" or "preview"
	Dir         string   `toml:"dir"`
	Settle      Duration `toml:"settle"`
	Consume     bool     `toml:"consume"`
	BackDevice  int      `toml:"back_device"`
	FrontDevice int      `toml:"front_device"`
}

// DecoderConfig selects the barcode decoder.
type DecoderConfig struct {
	Kind       string `toml:"kind"` // "local" or "grpc"
	Addr       string `toml:"addr"`
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: Duration(15 * time.Second)},
		Database: DatabaseConfig{
			DSN:             "host=postgres user=postgres password=postgres dbname=camqr port=5432 sslmode=disable",
			MaxIdleConns:    5,
			MaxOpenConns:    10,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Redis:   RedisConfig{Addr: "redis:6379", LatestTTL: Duration(24 * time.Hour)},
		Auth:    AuthConfig{JWTSecret: "dev-secret"},
		Camera:  CameraConfig{Source: "dir", Mode: "scan", Dir: "frames", Settle: Duration(100 * time.Millisecond)},
		Decoder: DecoderConfig{Kind: "local", Addr: "decoderd:50051", ListenAddr: ":50051"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LookupEnvFunc exposes environment lookups for testability.
type LookupEnvFunc func(string) (string, bool)

// Load builds the configuration. A path of "" falls back to $CAMQR_CONFIG;
// when neither is set no file is read.
func Load(path string, lookup LookupEnvFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()

	if path == "" {
		path, _ = lookup(PathEnv)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupEnvFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CAMQR_ADDR", &c.Server.Addr)
	str("DATABASE_DSN", &c.Database.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_AUDIENCE", &c.Auth.JWTAudience)
	str("CAMQR_CAMERA_SOURCE", &c.Camera.Source)
	str("CAMQR_CAMERA_MODE", &c.Camera.Mode)
	str("CAMQR_CAMERA_DIR", &c.Camera.Dir)
	str("CAMQR_DECODER", &c.Decoder.Kind)
	str("DECODER_ADDR", &c.Decoder.Addr)
	str("CAMQR_DECODER_LISTEN", &c.Decoder.ListenAddr)
	str("CAMQR_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("CAMQR_WEBCAM_DEVICE"); ok && v != "" {
		device, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAMQR_WEBCAM_DEVICE: %w", err)
		}
		c.Camera.BackDevice = device
	}
	if v, ok := lookup("CAMQR_SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAMQR_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.Server.ShutdownTimeout = Duration(d)
	}
	if v, ok := lookup("CAMQR_LATEST_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAMQR_LATEST_TTL: %w", err)
		}
		c.Redis.LatestTTL = Duration(d)
	}
	return nil
}

// Validate rejects unknown enum values.
func (c Config) Validate() error {
	var errs []error
	switch c.Camera.Source {
	case "dir", "webcam":
	default:
		errs = append(errs, fmt.Errorf("camera.source %q must be dir or webcam", c.Camera.Source))
	}
	switch c.Camera.Mode {
	case "scan", "preview":
	default:
		errs = append(errs, fmt.Errorf("camera.mode %q must be scan or preview", c.Camera.Mode))
	}
	switch c.Decoder.Kind {
	case "local", "grpc":
	default:
		errs = append(errs, fmt.Errorf("decoder.kind %q must be local or grpc", c.Decoder.Kind))
	}
	if c.Redis.LatestTTL < 0 {
		errs = append(errs, errors.New("redis.latest_ttl must not be negative"))
	}
	if c.Camera.Source == "dir" && c.Camera.Dir == "" {
		errs = append(errs, errors.New("camera.dir is required for the dir source"))
	}
	return errors.Join(errs...)
}
