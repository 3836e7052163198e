// Package permissions probes whether this process may open the camera. The
// scan controller never asks for permission; callers gate Bind on the probe.
package permissions

import (
	"os"
	"strings"
)

// Status enumerates coarse permission results.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusGranted        Status = "granted"
	StatusDenied         Status = "denied"
	StatusPromptRequired Status = "prompt"
	StatusUnavailable    Status = "unavailable"
)

// OverrideEnv forces the camera permission state.
const OverrideEnv = "CAMQR_CAMERA_PERMISSION"

// ProbeResult is the outcome of a permission probe.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// Granted reports whether the camera may be bound.
func (p ProbeResult) Granted() bool {
	return p.Status == StatusGranted
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// StatFunc exposes device probing for testability.
type StatFunc func(string) (os.FileInfo, error)

// Probe bundles the lookups used by ProbeCamera.
type Probe struct {
	LookupEnv LookupEnvFunc
	Stat      StatFunc
	// Device is the capture source that must be readable, such as a video
	// device node or the watched frame directory.
	Device string
}

// ProbeCamera reports camera permission. The env override wins; otherwise a
// readable device means granted.
func ProbeCamera(p Probe) ProbeResult {
	lookup := p.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if value, ok := lookup(OverrideEnv); ok {
		return interpretPermissionFlag("camera", value)
	}

	if p.Device == "" {
		return ProbeResult{Status: StatusUnknown, Message: "no camera device configured"}
	}
	stat := p.Stat
	if stat == nil {
		stat = os.Stat
	}
	if _, err := stat(p.Device); err != nil {
		switch {
		case os.IsPermission(err):
			return ProbeResult{Status: StatusDenied, Message: "camera device is not readable", Guidance: "add the service user to the video group or set " + OverrideEnv}
		case os.IsNotExist(err):
			return ProbeResult{Status: StatusUnavailable, Message: "camera device " + p.Device + " not found"}
		default:
			return ProbeResult{Status: StatusUnknown, Message: err.Error()}
		}
	}
	return ProbeResult{Status: StatusGranted, Message: "camera device " + p.Device + " is accessible"}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "unset " + OverrideEnv + " or grant device access to re-test"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission must be granted before scanning"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " unavailable on this host"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}
