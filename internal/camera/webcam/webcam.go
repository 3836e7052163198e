//go:build gocv

// Package webcam captures frames from a local video device through OpenCV.
// Build with -tags gocv; OpenCV must be installed.
package webcam

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
)

// Options configures device selection.
type Options struct {
	// BackDevice and FrontDevice are OpenCV device indices.
	BackDevice  int
	FrontDevice int
}

// Provider hands out the process-wide webcam.
type Provider struct {
	opts   Options
	logger *zap.Logger

	once sync.Once
	cam  *Camera
}

// NewProvider returns a webcam provider.
func NewProvider(opts Options, logger *zap.Logger) *Provider {
	return &Provider{opts: opts, logger: logger.Named("webcam")}
}

// Acquire returns the webcam. Devices are opened on Bind.
func (p *Provider) Acquire(ctx context.Context) (camera.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.once.Do(func() {
		p.cam = &Camera{opts: p.opts, logger: p.logger}
	})
	return p.cam, nil
}

// Camera is an OpenCV capture device.
type Camera struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	active *capture
}

type capture struct {
	binding *camera.Binding
	device  *gocv.VideoCapture
	stop    chan struct{}
	done    chan struct{}
}

// Bind opens the device for lens and starts capturing into outputs.
func (c *Camera) Bind(ctx context.Context, lens camera.Selector, outputs ...camera.Output) error {
	c.UnbindAll()

	deviceID := c.opts.BackDevice
	if lens == camera.LensFront {
		deviceID = c.opts.FrontDevice
	}
	device, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return logging.NewOperationError("webcam.bind", "", errors.Join(camera.ErrPermissionDenied, err))
	}

	binding, err := camera.NewBinding(lens, outputs...)
	if err != nil {
		device.Close()
		return err
	}
	res := binding.Resolution()
	device.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	device.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))

	cp := &capture{binding: binding, device: device, stop: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	c.active = cp
	c.mu.Unlock()

	c.logger.Info("webcam bound", zap.Int("device", deviceID), zap.Stringer("lens", lens))
	go c.loop(ctx, cp)
	return nil
}

// UnbindAll stops capture and closes the device.
func (c *Camera) UnbindAll() {
	c.mu.Lock()
	cp := c.active
	c.active = nil
	c.mu.Unlock()
	if cp == nil {
		return
	}
	close(cp.stop)
	<-cp.done
	c.logger.Info("webcam unbound", zap.Uint64("frames", cp.binding.Delivered()))
}

func (c *Camera) loop(ctx context.Context, cp *capture) {
	defer close(cp.done)
	defer cp.device.Close()
	defer cp.binding.Detach()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cp.stop:
			return
		default:
		}

		mat := gocv.NewMat()
		if ok := cp.device.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			cp.binding.Deliver(camera.NewFrame(nil, 0, time.Now(), nil))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			c.logger.Debug("frame conversion failed", zap.Error(err))
			img = nil
		}
		cp.binding.Deliver(camera.NewFrame(img, 0, time.Now(), func() { mat.Close() }))
	}
}
