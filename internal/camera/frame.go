package camera

import (
	"image"
	"sync"
	"time"
)

// Frame is one captured image handed to the analysis pipeline.
//
// A frame owns a capture buffer until Close is called. Close is idempotent;
// the release hook runs once. The zero Frame is usable and has no release
// hook.
type Frame struct {
	// Image is nil when the camera delivered no usable image data.
	Image image.Image
	// RotationDegrees is the clockwise rotation needed to display Image upright.
	RotationDegrees int
	Timestamp       time.Time
	// Seq is assigned by the binding on delivery.
	Seq uint64

	once    sync.Once
	init    sync.Once
	done    chan struct{}
	release func()
}

// NewFrame wraps img in a frame. release may be nil.
func NewFrame(img image.Image, rotationDegrees int, ts time.Time, release func()) *Frame {
	return &Frame{
		Image:           img,
		RotationDegrees: rotationDegrees,
		Timestamp:       ts,
		done:            make(chan struct{}),
		release:         release,
	}
}

// Close releases the frame buffer.
func (f *Frame) Close() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
		close(f.doneCh())
	})
}

// Done is closed once the frame has been released.
func (f *Frame) Done() <-chan struct{} {
	return f.doneCh()
}

func (f *Frame) doneCh() chan struct{} {
	f.init.Do(func() {
		if f.done == nil {
			f.done = make(chan struct{})
		}
	})
	return f.done
}

// Closed reports whether Close has been called.
func (f *Frame) Closed() bool {
	select {
	case <-f.doneCh():
		return true
	default:
		return false
	}
}
