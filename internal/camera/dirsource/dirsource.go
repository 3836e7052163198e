// Package dirsource is a camera that captures frames from image files
// dropped into a watched directory.
package dirsource

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/example/camqr/internal/camera"
	"github.com/example/camqr/internal/logging"
)

const minPollInterval = time.Millisecond

// Options configures a directory camera.
type Options struct {
	// Dir is watched for new or rewritten image files.
	Dir string
	// Settle is how long a file must stay quiet before it becomes a frame.
	Settle time.Duration
	// Consume removes a file once its frame is released.
	Consume bool
}

// Provider hands out the single directory camera for Dir.
type Provider struct {
	opts   Options
	logger *zap.Logger

	mu  sync.Mutex
	cam *Camera
}

// NewProvider returns a provider for opts.Dir.
func NewProvider(opts Options, logger *zap.Logger) *Provider {
	if opts.Settle <= 0 {
		opts.Settle = 100 * time.Millisecond
	}
	return &Provider{opts: opts, logger: logger.Named("dirsource")}
}

// Acquire returns the directory camera, creating it on first use.
func (p *Provider) Acquire(ctx context.Context) (camera.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cam != nil {
		return p.cam, nil
	}

	info, err := os.Stat(p.opts.Dir)
	if err != nil {
		return nil, logging.NewOperationError("dirsource.acquire", "", err)
	}
	if !info.IsDir() {
		return nil, logging.NewOperationError("dirsource.acquire", "", fmt.Errorf("%s is not a directory", p.opts.Dir))
	}
	p.cam = &Camera{opts: p.opts, logger: p.logger}
	return p.cam, nil
}

// Camera turns files written into a directory into frames.
type Camera struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	active *watch
}

type watch struct {
	binding *camera.Binding
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// Bind replaces any current binding and starts watching the directory.
func (c *Camera) Bind(ctx context.Context, lens camera.Selector, outputs ...camera.Output) error {
	c.UnbindAll()

	binding, err := camera.NewBinding(lens, outputs...)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		binding.Detach()
		return logging.NewOperationError("dirsource.bind", "", err)
	}
	if err := watcher.Add(c.opts.Dir); err != nil {
		watcher.Close()
		binding.Detach()
		return logging.NewOperationError("dirsource.bind", "", err)
	}

	w := &watch{binding: binding, watcher: watcher, stop: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	c.active = w
	c.mu.Unlock()

	c.logger.Info("directory camera bound",
		zap.String("dir", c.opts.Dir),
		zap.Stringer("lens", lens),
		zap.Bool("analysis", binding.HasAnalysis()))
	go c.loop(ctx, w)
	return nil
}

// UnbindAll stops the current watch and detaches its outputs.
func (c *Camera) UnbindAll() {
	c.mu.Lock()
	w := c.active
	c.active = nil
	c.mu.Unlock()
	if w == nil {
		return
	}
	close(w.stop)
	<-w.done
	c.logger.Info("directory camera unbound", zap.Uint64("frames", w.binding.Delivered()))
}

func (c *Camera) loop(ctx context.Context, w *watch) {
	defer close(w.done)
	defer w.binding.Detach()
	defer w.watcher.Close()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(pollInterval(c.opts.Settle))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isImageFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watcher error", zap.Error(err))
		case now := <-ticker.C:
			for path, queuedAt := range pending {
				if now.Sub(queuedAt) >= c.opts.Settle {
					delete(pending, path)
					w.binding.Deliver(c.capture(path))
				}
			}
		}
	}
}

// pollInterval is how often pending files are checked against settle.
func pollInterval(settle time.Duration) time.Duration {
	if tick := settle / 4; tick >= minPollInterval {
		return tick
	}
	return minPollInterval
}

// capture reads path into a frame. A file that cannot be decoded yields a
// frame without image data.
func (c *Camera) capture(path string) *camera.Frame {
	var release func()
	if c.opts.Consume {
		release = func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				c.logger.Warn("failed to remove consumed frame", zap.String("path", path), zap.Error(err))
			}
		}
	}

	img, err := decodeFile(path)
	if err != nil {
		c.logger.Debug("frame has no usable image data", zap.String("path", path), zap.Error(err))
		return camera.NewFrame(nil, 0, time.Now(), release)
	}
	return camera.NewFrame(img, 0, time.Now(), release)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	default:
		return false
	}
}
