// Package scanner binds a camera to barcode analysis for the lifetime of a
// context and publishes the latest QR payload to observers.
package scanner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/camqr/internal/barcode"
	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
	"github.com/example/camqr/internal/observable"
)

// DecodedText is the last published QR payload. Valid is false until a QR
// code has been seen.
type DecodedText struct {
	Text  string
	Valid bool
}

// Stats counts per-frame outcomes. These are diagnostics only; observers of
// Content and Completed cannot tell a decode failure from an empty frame.
type Stats struct {
	Frames         uint64
	EmptyFrames    uint64
	DecodeFailures uint64
	QRHits         uint64
	Binds          uint64
}

// Controller is a scan session: one preview output, at most one active
// binding, and the observable decode state.
type Controller struct {
	id       string
	decoder  barcode.Decoder
	logger   *zap.Logger
	analysis camera.AnalysisConfig

	preview        *camera.Preview
	surfaceRequest *observable.Value[*camera.SurfaceRequest]
	content        *observable.Value[DecodedText]
	completed      *observable.Value[bool]

	bindMu sync.Mutex
	active *session

	frames         atomic.Uint64
	emptyFrames    atomic.Uint64
	decodeFailures atomic.Uint64
	qrHits         atomic.Uint64
	binds          atomic.Uint64
}

type session struct {
	cancel  context.CancelFunc
	done    chan struct{}
	decodes sync.WaitGroup
}

// Option customises a Controller.
type Option func(*Controller)

// WithAnalysisConfig overrides the analysis target resolution and backpressure.
func WithAnalysisConfig(cfg camera.AnalysisConfig) Option {
	return func(c *Controller) { c.analysis = cfg }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// NewController builds a scan session around decoder.
func NewController(decoder barcode.Decoder, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		id:             uuid.NewString(),
		decoder:        decoder,
		analysis:       camera.DefaultAnalysisConfig(),
		preview:        camera.NewPreview(),
		surfaceRequest: observable.New[*camera.SurfaceRequest](nil),
		content:        observable.New(DecodedText{}),
		completed:      observable.New(false),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithOperation(logger.Named("scanner"), "scanner.session", c.id)
	c.preview.SetSurfaceProvider(func(req *camera.SurfaceRequest) {
		c.surfaceRequest.Set(req)
	})
	return c
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// SurfaceRequest is the latest request for a preview surface.
func (c *Controller) SurfaceRequest() *observable.Value[*camera.SurfaceRequest] {
	return c.surfaceRequest
}

// Content is the last published QR payload.
func (c *Controller) Content() *observable.Value[DecodedText] { return c.content }

// Completed turns true once any frame has finished processing.
func (c *Controller) Completed() *observable.Value[bool] { return c.completed }

// Stats returns a snapshot of the frame counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Frames:         c.frames.Load(),
		EmptyFrames:    c.emptyFrames.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		QRHits:         c.qrHits.Load(),
		Binds:          c.binds.Load(),
	}
}

// Bind acquires the camera from provider, binds the preview and a QR
// analysis output to the back lens, and blocks until ctx is cancelled. The
// caller must have camera permission.
//
// Cancellation is normal teardown and returns nil. UnbindAll runs exactly
// once per call, including when ctx ends while the camera is still being
// acquired. A previous binding on the same controller is torn down first.
func (c *Controller) Bind(ctx context.Context, provider camera.Provider) error {
	return c.bind(ctx, provider, camera.LensBack, true)
}

// BindPreview is Bind without analysis: only the preview is bound, to the
// front lens, and no frame is decoded.
func (c *Controller) BindPreview(ctx context.Context, provider camera.Provider) error {
	return c.bind(ctx, provider, camera.LensFront, false)
}

func (c *Controller) bind(parent context.Context, provider camera.Provider, lens camera.Selector, analyze bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s := c.replaceSession(cancel)
	defer close(s.done)

	cam, err := c.acquire(ctx, provider)
	if err != nil {
		return logging.NewOperationError("scanner.acquire_camera", c.id, err)
	}
	if cam == nil {
		return nil
	}
	defer func() {
		cam.UnbindAll()
		// No frame is handed over after UnbindAll; drain decodes already
		// running so a replacement session never sees their results.
		s.decodes.Wait()
		c.logger.Info("camera unbound", zap.Stringer("lens", lens))
	}()
	if ctx.Err() != nil {
		return nil
	}

	outputs := []camera.Output{c.preview}
	if analyze {
		analysis := camera.NewAnalysis(c.analysis)
		analysis.SetAnalyzer(func(frame *camera.Frame) { c.analyze(ctx, s, frame) })
		outputs = append(outputs, analysis)
	}
	if err := cam.Bind(ctx, lens, outputs...); err != nil {
		return logging.NewOperationError("scanner.bind_camera", c.id, err)
	}
	c.binds.Add(1)
	c.logger.Info("camera bound",
		zap.Stringer("lens", lens),
		zap.Bool("analysis", analyze),
		zap.Int("target_width", c.analysis.TargetResolution.Width),
		zap.Int("target_height", c.analysis.TargetResolution.Height),
		zap.Stringer("backpressure", c.analysis.Backpressure))

	<-ctx.Done()
	return nil
}

// replaceSession registers a new session, then cancels the one it replaces
// and waits for its teardown. The lock only covers the swap, so concurrent
// binds queue behind each other's done channels.
func (c *Controller) replaceSession(cancel context.CancelFunc) *session {
	s := &session{cancel: cancel, done: make(chan struct{})}

	c.bindMu.Lock()
	prev := c.active
	c.active = s
	c.bindMu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return s
}

// acquire waits for the provider without letting scope cancellation abandon
// a camera that is about to be handed over. A nil camera with a nil error
// means the provider produced nothing.
func (c *Controller) acquire(ctx context.Context, provider camera.Provider) (camera.Camera, error) {
	type acquired struct {
		cam camera.Camera
		err error
	}
	result := make(chan acquired, 1)
	go func() {
		cam, err := provider.Acquire(context.WithoutCancel(ctx))
		result <- acquired{cam: cam, err: err}
	}()

	select {
	case r := <-result:
		return r.cam, r.err
	case <-ctx.Done():
		c.logger.Debug("scope cancelled while acquiring camera")
		r := <-result
		if r.err != nil {
			c.logger.Warn("camera acquisition failed after cancellation", zap.Error(r.err))
			return nil, nil
		}
		return r.cam, nil
	}
}

func (c *Controller) analyze(ctx context.Context, s *session, frame *camera.Frame) {
	c.frames.Add(1)
	if frame.Image == nil {
		c.emptyFrames.Add(1)
		frame.Close()
		c.completed.Set(true)
		return
	}

	s.decodes.Add(1)
	go func() {
		defer s.decodes.Done()
		defer func() {
			frame.Close()
			c.completed.Set(true)
		}()

		codes, err := c.decoder.Process(ctx, frame)
		if err != nil {
			c.decodeFailures.Add(1)
			c.logger.Debug("decode failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
			return
		}
		if text, ok := barcode.FirstQR(codes); ok {
			c.qrHits.Add(1)
			if c.content.Set(DecodedText{Text: text, Valid: true}) {
				c.logger.Info("qr code decoded", zap.Uint64("seq", frame.Seq), zap.Int("length", len(text)))
			}
		}
	}()
}
