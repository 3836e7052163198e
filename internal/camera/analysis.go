package camera

import "sync"

// Backpressure selects what happens when frames arrive faster than the
// analyzer releases them.
type Backpressure int

const (
	// KeepOnlyLatest holds one pending frame. A newer frame replaces it and
	// the replaced frame is released unanalyzed.
	KeepOnlyLatest Backpressure = iota
	// BlockProducer stalls delivery until the analyzer has released the
	// frame it holds, so at most one frame is outstanding.
	BlockProducer
)

func (b Backpressure) String() string {
	if b == BlockProducer {
		return "block_producer"
	}
	return "keep_only_latest"
}

// AnalysisConfig configures an analysis output.
type AnalysisConfig struct {
	TargetResolution Size
	Backpressure     Backpressure
}

// DefaultAnalysisConfig targets 1280x720 and keeps only the latest frame.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		TargetResolution: Size{Width: 1280, Height: 720},
		Backpressure:     KeepOnlyLatest,
	}
}

// Analyzer consumes one frame. It must Close the frame when done with it,
// possibly from another goroutine; no further frame is handed over until then.
type Analyzer func(*Frame)

// AnalysisStats counts frames seen by an analysis output.
type AnalysisStats struct {
	Delivered uint64
	Analyzed  uint64
	Dropped   uint64
}

// Analysis hands camera frames to an Analyzer one at a time.
type Analysis struct {
	cfg AnalysisConfig

	mu       sync.Mutex
	cond     *sync.Cond
	analyzer Analyzer
	pending  *Frame
	inflight *Frame
	gen      uint64
	attached bool
	stop     chan struct{}
	stats    AnalysisStats
}

// NewAnalysis returns an analysis output. A zero TargetResolution falls back
// to the default.
func NewAnalysis(cfg AnalysisConfig) *Analysis {
	if cfg.TargetResolution == (Size{}) {
		cfg.TargetResolution = DefaultAnalysisConfig().TargetResolution
	}
	a := &Analysis{cfg: cfg}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Config returns the analysis configuration.
func (a *Analysis) Config() AnalysisConfig {
	return a.cfg
}

// SetAnalyzer registers the per-frame callback. Frames handed over while no
// analyzer is set are released immediately.
func (a *Analysis) SetAnalyzer(fn Analyzer) {
	a.mu.Lock()
	a.analyzer = fn
	a.mu.Unlock()
}

// Stats returns a snapshot of the frame counters.
func (a *Analysis) Stats() AnalysisStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (*Analysis) outputKind() string { return "analysis" }

// attach starts a consumer goroutine tracked by wg.
func (a *Analysis) attach(wg *sync.WaitGroup) {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.attached = true
	a.stop = make(chan struct{})
	stop := a.stop
	a.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.run(gen, stop)
	}()
}

// detach stops the consumer and releases any pending frame. A frame already
// handed to the analyzer stays the analyzer's to release.
func (a *Analysis) detach() {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return
	}
	a.attached = false
	close(a.stop)
	pending := a.pending
	a.pending = nil
	a.cond.Broadcast()
	a.mu.Unlock()

	if pending != nil {
		pending.Close()
	}
}

// offer delivers a frame according to the backpressure strategy.
func (a *Analysis) offer(f *Frame) {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		f.Close()
		return
	}
	a.stats.Delivered++

	var dropped *Frame
	switch a.cfg.Backpressure {
	case BlockProducer:
		gen := a.gen
		for (a.pending != nil || a.inflight != nil) && a.attached && a.gen == gen {
			a.cond.Wait()
		}
		if !a.attached || a.gen != gen {
			a.mu.Unlock()
			f.Close()
			return
		}
	default:
		if a.pending != nil {
			dropped = a.pending
			a.stats.Dropped++
		}
	}
	a.pending = f
	a.cond.Broadcast()
	a.mu.Unlock()

	if dropped != nil {
		dropped.Close()
	}
}

func (a *Analysis) run(gen uint64, stop <-chan struct{}) {
	for {
		a.mu.Lock()
		for a.pending == nil && a.attached && a.gen == gen {
			a.cond.Wait()
		}
		if !a.attached || a.gen != gen {
			a.mu.Unlock()
			return
		}
		f := a.pending
		a.pending = nil
		fn := a.analyzer
		if fn != nil {
			a.inflight = f
		}
		a.stats.Analyzed++
		a.cond.Broadcast()
		a.mu.Unlock()

		if fn == nil {
			f.Close()
			continue
		}
		fn(f)

		select {
		case <-f.Done():
			a.settle(f)
		case <-stop:
			a.settle(f)
			return
		}
	}
}

// settle clears f as the in-flight frame and wakes blocked producers.
func (a *Analysis) settle(f *Frame) {
	a.mu.Lock()
	if a.inflight == f {
		a.inflight = nil
	}
	a.cond.Broadcast()
	a.mu.Unlock()
}
