package camera

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by Bind when the platform refuses camera access.
var ErrPermissionDenied = errors.New("camera permission denied")

// Provider resolves the process-wide camera.
type Provider interface {
	// Acquire blocks until the camera is ready. It must return in bounded
	// time even if ctx is never cancelled: the scan controller waits for a
	// late camera in order to release it, and later binds queue behind it.
	Acquire(ctx context.Context) (Camera, error)
}

// Camera binds outputs to a lens.
type Camera interface {
	// Bind attaches outputs to the selected lens for as long as ctx lives.
	// Binding again replaces the previous binding.
	Bind(ctx context.Context, lens Selector, outputs ...Output) error
	// UnbindAll detaches every output. It is safe to call when nothing is bound.
	UnbindAll()
}
