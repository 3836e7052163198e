package camera

import (
	"image"
	"sync"

	"github.com/google/uuid"
)

// Selector picks the lens a camera binds to.
type Selector int

const (
	// LensBack is the rear-facing camera.
	LensBack Selector = iota
	// LensFront is the user-facing camera.
	LensFront
)

func (s Selector) String() string {
	switch s {
	case LensFront:
		return "front"
	default:
		return "back"
	}
}

// Size is a resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// Output is a use case that can be bound to a camera: *Preview or *Analysis.
type Output interface {
	outputKind() string
}

// Surface is a destination for preview images.
type Surface interface {
	Render(img image.Image)
}

// SurfaceRequest asks the preview consumer for a surface to draw into. A new
// request is issued on every bind and supersedes the previous one.
type SurfaceRequest struct {
	ID         string
	Resolution Size
	Lens       Selector

	mu      sync.RWMutex
	surface Surface
}

func newSurfaceRequest(resolution Size, lens Selector) *SurfaceRequest {
	return &SurfaceRequest{ID: uuid.NewString(), Resolution: resolution, Lens: lens}
}

// Provide attaches the surface the camera should render into.
func (r *SurfaceRequest) Provide(s Surface) {
	r.mu.Lock()
	r.surface = s
	r.mu.Unlock()
}

// Surface returns the provided surface, or nil.
func (r *SurfaceRequest) Surface() Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.surface
}

// Preview streams camera images to a consumer-provided surface.
type Preview struct {
	mu       sync.Mutex
	provider func(*SurfaceRequest)
}

// NewPreview returns a preview output without a surface provider.
func NewPreview() *Preview {
	return &Preview{}
}

// SetSurfaceProvider registers the callback that receives surface requests.
func (p *Preview) SetSurfaceProvider(fn func(*SurfaceRequest)) {
	p.mu.Lock()
	p.provider = fn
	p.mu.Unlock()
}

func (p *Preview) requestSurface(resolution Size, lens Selector) *SurfaceRequest {
	req := newSurfaceRequest(resolution, lens)
	p.mu.Lock()
	fn := p.provider
	p.mu.Unlock()
	if fn != nil {
		fn(req)
	}
	return req
}

func (*Preview) outputKind() string { return "preview" }

// SnapshotSurface keeps the most recently rendered image.
type SnapshotSurface struct {
	mu     sync.RWMutex
	latest image.Image
}

// Render stores img as the latest snapshot.
func (s *SnapshotSurface) Render(img image.Image) {
	s.mu.Lock()
	s.latest = img
	s.mu.Unlock()
}

// Latest returns the last rendered image, or nil.
func (s *SnapshotSurface) Latest() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
