package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/camqr/internal/auth"
	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/camera/dirsource"
	"github.com/example/camqr/internal/config"
	"github.com/example/camqr/internal/decoderrpc"
	"github.com/example/camqr/internal/handlers"
	"github.com/example/camqr/internal/logging"
	"github.com/example/camqr/internal/permissions"
	"github.com/example/camqr/internal/repository"
	"github.com/example/camqr/internal/scanner"
	"github.com/example/camqr/internal/usecase"
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

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database, logger)
	repo := repository.NewScanRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)

	decoder, closeDecoder := initDecoder(ctx, cfg.Decoder, logger)
	defer closeDecoder()

	latest := usecase.NewRedisLatestStore(redisClient, cfg.Redis.LatestTTL.Duration())
	uc := usecase.NewScanUseCase(repo, latest, decoder, logger)

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	if err != nil {
		logger.Fatal("invalid auth configuration", zap.Error(err))
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	routes := handlers.Routes{Scans: uc, Auth: authenticator.Middleware(), Logger: logger}
	scanDone := startScanSession(runCtx, cfg.Camera, decoder, uc, &routes, logger)

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.Addr), zap.Error(err))
	}
	server := &http.Server{Handler: newRouter(routes)}

	logger.Info("camqr listening", zap.String("addr", listener.Addr().String()))
	serveErr := runServer(runCtx, server, listener, cfg.Server.ShutdownTimeout.Duration(), logger)
	stop()
	<-scanDone
	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initDecoder(ctx context.Context, cfg config.DecoderConfig, zapLogger *zap.Logger) (barcode.Decoder, func()) {
	if cfg.Kind != "grpc" {
		return barcode.NewZXingDecoder(zapLogger), func() {}
	}
	decoder, conn, err := decoderrpc.Dial(ctx, cfg.Addr, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to decoder", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return decoder, func() { conn.Close() }
}

// startScanSession binds the camera for the lifetime of ctx when camera
// permission is granted and fills in the live routes. The returned channel
// closes once the camera has been released.
func startScanSession(ctx context.Context, cfg config.CameraConfig, decoder barcode.Decoder, uc *usecase.ScanUseCase, routes *handlers.Routes, zapLogger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})

	provider, device, err := newCameraProvider(cfg, zapLogger)
	if err != nil {
		zapLogger.Warn("camera disabled", zap.Error(err))
		close(done)
		return done
	}

	access := permissions.ProbeCamera(permissions.Probe{Device: device})
	if !access.Granted() {
		zapLogger.Warn("camera permission not granted; serving uploads only",
			zap.String("status", string(access.Status)),
			zap.String("message", access.Message),
			zap.String("guidance", access.Guidance),
		)
		close(done)
		return done
	}

	controller := scanner.NewController(decoder, zapLogger)
	snapshot := &camera.SnapshotSurface{}
	routes.Session = controller
	routes.Preview = snapshot

	requests, cancelRequests := controller.SurfaceRequest().Subscribe()
	go func() {
		defer cancelRequests()
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-requests:
				if req != nil {
					req.Provide(snapshot)
				}
			}
		}
	}()

	go func() {
		if err := uc.Follow(ctx, controller); err != nil {
			zapLogger.Error("scan follower stopped", zap.Error(err))
		}
	}()

	go func() {
		defer close(done)
		bind := controller.Bind
		if cfg.Mode == "preview" {
			bind = controller.BindPreview
		}
		if err := bind(ctx, provider); err != nil {
			zapLogger.Error("camera session failed", logging.ErrorFields(err)...)
		}
	}()

	return done
}

func newCameraProvider(cfg config.CameraConfig, zapLogger *zap.Logger) (camera.Provider, string, error) {
	if cfg.Source == "webcam" {
		return newWebcamProvider(cfg, zapLogger)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, "", err
	}
	provider := dirsource.NewProvider(dirsource.Options{
		Dir:     cfg.Dir,
		Settle:  cfg.Settle.Duration(),
		Consume: cfg.Consume,
	}, zapLogger)
	return provider, cfg.Dir, nil
}

// runServer serves on listener until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout.
func runServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out; closing", zap.Error(err))
		server.Close()
	}
	return <-errCh
}

func newRouter(routes handlers.Routes) *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, routes)
	return r
}
