//go:build !gocv

package main

import (
	"errors"

	"go.uber.org/zap"

	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/config"
)

func newWebcamProvider(cfg config.CameraConfig, zapLogger *zap.Logger) (camera.Provider, string, error) {
	return nil, "", errors.New("webcam source requires a build with -tags gocv")
}
