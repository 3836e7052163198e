// Command decoderd serves barcode decoding over gRPC for camqr instances
// configured with decoder.kind = "grpc".
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/config"
	"github.com/example/camqr/internal/decoderrpc"
	"github.com/example/camqr/internal/logging"
)

func main() {
	cfg, err := config.Load("", nil)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	listener, err := net.Listen("tcp", cfg.Decoder.ListenAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Decoder.ListenAddr), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := grpc.NewServer()
	decoderrpc.Register(server, barcode.NewZXingDecoder(logger), logger)

	logger.Info("decoderd listening", zap.String("addr", listener.Addr().String()))
	if err := serve(ctx, server, listener, cfg.Server.ShutdownTimeout.Duration(), logger); err != nil {
		logger.Fatal("decoder server failed", zap.Error(err))
	}
}

// serve runs server until ctx is cancelled, then drains in-flight calls for
// at most shutdownTimeout before forcing a stop.
func serve(ctx context.Context, server *grpc.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down decoder server")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out; forcing")
		server.Stop()
	}
	return <-errCh
}
