package camera

import (
	"errors"
	"image"
	"testing"
	"time"
)

func TestNewBindingValidatesOutputs(t *testing.T) {
	if _, err := NewBinding(LensBack); !errors.Is(err, ErrNoOutputs) {
		t.Fatalf("expected ErrNoOutputs, got %v", err)
	}
	a := NewAnalysis(DefaultAnalysisConfig())
	b := NewAnalysis(DefaultAnalysisConfig())
	if _, err := NewBinding(LensBack, a, b); !errors.Is(err, ErrDuplicateAnalysis) {
		t.Fatalf("expected ErrDuplicateAnalysis, got %v", err)
	}
}

func TestPreviewReceivesSurfaceRequestAndFrames(t *testing.T) {
	preview := NewPreview()
	var requests []*SurfaceRequest
	snapshot := &SnapshotSurface{}
	preview.SetSurfaceProvider(func(req *SurfaceRequest) {
		requests = append(requests, req)
		req.Provide(snapshot)
	})

	binding, err := NewBinding(LensFront, preview)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer binding.Detach()

	if len(requests) != 1 {
		t.Fatalf("expected one surface request, got %d", len(requests))
	}
	req := requests[0]
	if req.ID == "" || req.Lens != LensFront {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Resolution != (Size{Width: 1280, Height: 720}) {
		t.Fatalf("unexpected resolution: %+v", req.Resolution)
	}

	img := image.NewGray(image.Rect(0, 0, 2, 2))
	f := NewFrame(img, 0, time.Now(), nil)
	binding.Deliver(f)

	if snapshot.Latest() != image.Image(img) {
		t.Fatal("expected preview surface to render frame")
	}
	if !f.Closed() {
		t.Fatal("expected frame without analysis to be released")
	}
	if binding.Delivered() != 1 {
		t.Fatalf("expected one delivered frame, got %d", binding.Delivered())
	}
}

func TestRebindIssuesFreshSurfaceRequest(t *testing.T) {
	preview := NewPreview()
	var ids []string
	preview.SetSurfaceProvider(func(req *SurfaceRequest) { ids = append(ids, req.ID) })

	for i := 0; i < 2; i++ {
		binding, err := NewBinding(LensBack, preview)
		if err != nil {
			t.Fatalf("bind: %v", err)
		}
		binding.Detach()
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct requests, got %v", ids)
	}
}
