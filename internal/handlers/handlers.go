package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/camqr/internal/auth"
	"github.com/example/camqr/internal/observable"
	"github.com/example/camqr/internal/repository"
	"github.com/example/camqr/internal/scanner"
	"github.com/example/camqr/internal/usecase"
)

// MaxUploadSize caps the image accepted by POST /scan/decode.
const MaxUploadSize = 10 << 20

var allowedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
}

// ScanService is the use case surface the HTTP layer needs.
type ScanService interface {
	DecodeImage(ctx context.Context, operatorID string, imageBytes []byte) (*repository.ScanLog, error)
	Latest(ctx context.Context) (*repository.ScanLog, error)
	GetResult(ctx context.Context, scanID string) (*repository.ScanLog, error)
	History(ctx context.Context, limit int) ([]*repository.ScanLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Session is the live scan session exposed over HTTP.
type Session interface {
	ID() string
	Content() *observable.Value[scanner.DecodedText]
	Completed() *observable.Value[bool]
	Stats() scanner.Stats
}

// Snapshot holds the most recent preview image.
type Snapshot interface {
	Latest() image.Image
}

// Routes bundles what RegisterRoutes wires. Session and Preview may be nil
// when no camera is bound.
type Routes struct {
	Scans   ScanService
	Session Session
	Preview Snapshot
	Auth    gin.HandlerFunc
	Logger  *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, routes Routes) {
	logger := routes.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/scan/state", func(c *gin.Context) {
		if routes.Session == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not bound"})
			return
		}
		c.JSON(http.StatusOK, snapshotState(routes.Session))
	})

	router.GET("/scan/events", func(c *gin.Context) {
		if routes.Session == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not bound"})
			return
		}
		streamState(c, routes.Session, logger)
	})

	router.GET("/scan/preview.jpg", func(c *gin.Context) {
		var img image.Image
		if routes.Preview != nil {
			img = routes.Preview.Latest()
		}
		if img == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no preview frame yet"})
			return
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			logger.Error("failed to encode preview", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode preview"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
	})

	protected := router.Group("/scan")
	if routes.Auth != nil {
		protected.Use(routes.Auth)
	}

	protected.POST("/decode", func(c *gin.Context) {
		operatorID, ok := auth.GetOperatorID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "operator identity required"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+(1<<20))
		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		if _, ok := allowedImageTypes[file.Header.Get("Content-Type")]; !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if _, ok := allowedImageTypes[http.DetectContentType(data)]; !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}

		log, err := routes.Scans.DecodeImage(c.Request.Context(), operatorID, data)
		switch {
		case errors.Is(err, usecase.ErrNoCode):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no qr code found"})
			return
		case errors.Is(err, usecase.ErrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image"})
			return
		case err != nil:
			logger.Error("decode upload failed", zap.Error(err), zap.String("operator_id", operatorID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "decode failed"})
			return
		}

		c.JSON(http.StatusOK, scanJSON(log))
	})

	protected.GET("/latest", func(c *gin.Context) {
		log, err := routes.Scans.Latest(c.Request.Context())
		if err != nil {
			writeLookupError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, scanJSON(log))
	})

	protected.GET("/history", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = parsed
		}

		logs, err := routes.Scans.History(c.Request.Context(), limit)
		if err != nil {
			logger.Error("history lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		items := make([]gin.H, 0, len(logs))
		for _, log := range logs {
			items = append(items, scanJSON(log))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		scanID := c.Param("id")
		if scanID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := routes.Scans.GetResult(c.Request.Context(), scanID)
		if err != nil {
			writeLookupError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, scanJSON(log))
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := routes.Scans.GetMetricsSummary(c.Request.Context())
		if err != nil {
			logger.Error("metrics lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func writeLookupError(c *gin.Context, logger *zap.Logger, err error) {
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	logger.Error("scan lookup failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
}

func scanJSON(log *repository.ScanLog) gin.H {
	return gin.H{
		"scan_id":     log.ScanID,
		"session_id":  log.SessionID,
		"operator_id": log.OperatorID,
		"source":      log.Source,
		"format":      log.Format,
		"payload":     log.Payload,
		"sha1_hash":   log.SHA1Hash,
		"created_at":  log.CreatedAt,
	}
}
