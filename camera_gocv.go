//go:build gocv

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/camera/webcam"
	"github.com/example/camqr/internal/config"
)

func newWebcamProvider(cfg config.CameraConfig, zapLogger *zap.Logger) (camera.Provider, string, error) {
	device := cfg.BackDevice
	if cfg.Mode == "preview" {
		device = cfg.FrontDevice
	}
	provider := webcam.NewProvider(webcam.Options{
		BackDevice:  cfg.BackDevice,
		FrontDevice: cfg.FrontDevice,
	}, zapLogger)
	return provider, fmt.Sprintf("/dev/video%d", device), nil
}
