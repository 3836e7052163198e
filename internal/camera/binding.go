package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNoOutputs is returned when a bind names no outputs.
	ErrNoOutputs = errors.New("camera: no outputs to bind")
	// ErrDuplicateAnalysis is returned when more than one analysis output is bound.
	ErrDuplicateAnalysis = errors.New("camera: at most one analysis output may be bound")
)

type previewTarget struct {
	preview *Preview
	request *SurfaceRequest
}

// Binding routes captured frames to the outputs of one Bind call. Camera
// implementations create a Binding per Bind, call Deliver for each captured
// frame, and Detach on unbind.
type Binding struct {
	lens       Selector
	resolution Size
	previews   []previewTarget
	analysis   *Analysis

	seq      atomic.Uint64
	detached atomic.Bool
	once     sync.Once
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewBinding validates outputs, starts the analysis consumer and issues a
// surface request to every preview.
func NewBinding(lens Selector, outputs ...Output) (*Binding, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	b := &Binding{
		lens:       lens,
		resolution: DefaultAnalysisConfig().TargetResolution,
		done:       make(chan struct{}),
	}
	var previews []*Preview
	for _, out := range outputs {
		switch o := out.(type) {
		case *Preview:
			if o == nil {
				return nil, fmt.Errorf("camera: nil preview output")
			}
			previews = append(previews, o)
		case *Analysis:
			if o == nil {
				return nil, fmt.Errorf("camera: nil analysis output")
			}
			if b.analysis != nil {
				return nil, ErrDuplicateAnalysis
			}
			b.analysis = o
			b.resolution = o.Config().TargetResolution
		default:
			return nil, fmt.Errorf("camera: unsupported output %T", out)
		}
	}

	for _, p := range previews {
		b.previews = append(b.previews, previewTarget{preview: p, request: p.requestSurface(b.resolution, lens)})
	}
	if b.analysis != nil {
		b.analysis.attach(&b.wg)
	}
	return b, nil
}

// Lens returns the bound lens.
func (b *Binding) Lens() Selector { return b.lens }

// Resolution is the capture resolution implementations should aim for.
func (b *Binding) Resolution() Size { return b.resolution }

// HasAnalysis reports whether an analysis output is bound.
func (b *Binding) HasAnalysis() bool { return b.analysis != nil }

// SurfaceRequests returns the requests issued to bound previews.
func (b *Binding) SurfaceRequests() []*SurfaceRequest {
	reqs := make([]*SurfaceRequest, 0, len(b.previews))
	for _, p := range b.previews {
		reqs = append(reqs, p.request)
	}
	return reqs
}

// Deliver hands a captured frame to the bound outputs. Ownership of f passes
// to the binding.
func (b *Binding) Deliver(f *Frame) {
	if b.detached.Load() {
		f.Close()
		return
	}
	f.Seq = b.seq.Add(1)

	if f.Image != nil {
		for _, p := range b.previews {
			if s := p.request.Surface(); s != nil {
				s.Render(f.Image)
			}
		}
	}

	if b.analysis == nil {
		f.Close()
		return
	}
	b.analysis.offer(f)
}

// Delivered returns the number of frames handed to Deliver while attached.
func (b *Binding) Delivered() uint64 {
	return b.seq.Load()
}

// Detach stops routing frames and waits for the analysis consumer to exit.
// It is idempotent.
func (b *Binding) Detach() {
	b.once.Do(func() {
		b.detached.Store(true)
		if b.analysis != nil {
			b.analysis.detach()
		}
		b.wg.Wait()
		close(b.done)
	})
}

// Done is closed after Detach completes.
func (b *Binding) Done() <-chan struct{} {
	return b.done
}
