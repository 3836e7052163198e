package camera

import (
	"image"
	"sync"
	"testing"
	"time"
)

type recordingAnalyzer struct {
	mu     sync.Mutex
	frames []*Frame
	handed chan *Frame
}

func newRecordingAnalyzer() *recordingAnalyzer {
	return &recordingAnalyzer{handed: make(chan *Frame, 16)}
}

func (r *recordingAnalyzer) analyze(f *Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.handed <- f
}

func (r *recordingAnalyzer) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-r.handed:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer was not handed a frame")
		return nil
	}
}

func (r *recordingAnalyzer) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.handed:
		t.Fatalf("unexpected frame %d handed to analyzer", f.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func testFrame() *Frame {
	return NewFrame(image.NewGray(image.Rect(0, 0, 4, 4)), 0, time.Now(), nil)
}

func TestKeepOnlyLatestReplacesPendingFrame(t *testing.T) {
	analysis := NewAnalysis(DefaultAnalysisConfig())
	rec := newRecordingAnalyzer()
	analysis.SetAnalyzer(rec.analyze)

	binding, err := NewBinding(LensBack, analysis)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer binding.Detach()

	first := testFrame()
	binding.Deliver(first)
	inFlight := rec.next(t)
	if inFlight != first {
		t.Fatal("expected first frame to be analyzed")
	}

	second, third := testFrame(), testFrame()
	binding.Deliver(second)
	binding.Deliver(third)
	rec.expectIdle(t)

	if !second.Closed() {
		t.Fatal("expected replaced pending frame to be released")
	}
	if third.Closed() {
		t.Fatal("expected latest pending frame to be kept")
	}

	first.Close()
	if got := rec.next(t); got != third {
		t.Fatalf("expected latest frame after release, got seq %d", got.Seq)
	}
	third.Close()

	stats := analysis.Stats()
	if stats.Delivered != 3 || stats.Analyzed != 2 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBlockProducerWaitsForRelease(t *testing.T) {
	analysis := NewAnalysis(AnalysisConfig{Backpressure: BlockProducer})
	if got := analysis.Config().TargetResolution; got != (Size{Width: 1280, Height: 720}) {
		t.Fatalf("expected default resolution, got %+v", got)
	}
	rec := newRecordingAnalyzer()
	analysis.SetAnalyzer(rec.analyze)

	binding, err := NewBinding(LensBack, analysis)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer binding.Detach()

	first := testFrame()
	binding.Deliver(first)
	rec.next(t)

	delivered := make(chan struct{})
	second := testFrame()
	go func() {
		binding.Deliver(second)
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("expected producer to block while the analyzer holds a frame")
	case <-time.After(50 * time.Millisecond):
	}
	rec.expectIdle(t)

	first.Close()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not resume after release")
	}
	if got := rec.next(t); got != second {
		t.Fatal("expected second frame to be analyzed next")
	}

	third := testFrame()
	blocked := make(chan struct{})
	go func() {
		binding.Deliver(third)
		close(blocked)
	}()
	select {
	case <-blocked:
		t.Fatal("expected producer to block on the second frame")
	case <-time.After(50 * time.Millisecond):
	}
	second.Close()
	<-blocked
	if got := rec.next(t); got != third {
		t.Fatal("expected third frame to be analyzed")
	}
	third.Close()

	if dropped := analysis.Stats().Dropped; dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
}

func TestBlockProducerUnblocksOnDetach(t *testing.T) {
	analysis := NewAnalysis(AnalysisConfig{Backpressure: BlockProducer})
	rec := newRecordingAnalyzer()
	analysis.SetAnalyzer(rec.analyze)

	binding, err := NewBinding(LensBack, analysis)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	held := testFrame()
	binding.Deliver(held)
	rec.next(t)

	waiting := testFrame()
	delivered := make(chan struct{})
	go func() {
		binding.Deliver(waiting)
		close(delivered)
	}()
	time.Sleep(20 * time.Millisecond)

	binding.Detach()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("producer stayed blocked after detach")
	}
	if !waiting.Closed() {
		t.Fatal("expected the blocked frame to be released on detach")
	}
	held.Close()
}

func TestDetachReleasesPendingFrame(t *testing.T) {
	analysis := NewAnalysis(DefaultAnalysisConfig())
	rec := newRecordingAnalyzer()
	analysis.SetAnalyzer(rec.analyze)

	binding, err := NewBinding(LensBack, analysis)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	first := testFrame()
	binding.Deliver(first)
	rec.next(t)
	pending := testFrame()
	binding.Deliver(pending)

	binding.Detach()
	binding.Detach()

	if !pending.Closed() {
		t.Fatal("expected pending frame to be released on detach")
	}
	if first.Closed() {
		t.Fatal("in-flight frame belongs to the analyzer")
	}

	late := testFrame()
	binding.Deliver(late)
	if !late.Closed() {
		t.Fatal("expected frame delivered after detach to be released")
	}
	select {
	case <-binding.Done():
	default:
		t.Fatal("expected done to be closed")
	}
}

func TestFrameCloseIsIdempotent(t *testing.T) {
	releases := 0
	f := NewFrame(nil, 90, time.Now(), func() { releases++ })
	f.Close()
	f.Close()
	if releases != 1 {
		t.Fatalf("expected one release, got %d", releases)
	}
	if !f.Closed() {
		t.Fatal("expected frame to report closed")
	}
}

func TestZeroFrameCloses(t *testing.T) {
	var f Frame
	if f.Closed() {
		t.Fatal("zero frame reported closed")
	}
	f.Close()
	f.Close()
	select {
	case <-f.Done():
	default:
		t.Fatal("expected Done to be closed after Close")
	}
}
