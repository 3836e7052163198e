package permissions

import (
	"io/fs"
	"os"
	"testing"
)

func envWith(values map[string]string) LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestOverrideWins(t *testing.T) {
	cases := map[string]Status{
		"granted":     StatusGranted,
		" YES ":       StatusGranted,
		"denied":      StatusDenied,
		"ask":         StatusPromptRequired,
		"unsupported": StatusUnavailable,
		"maybe":       StatusUnknown,
	}
	for value, want := range cases {
		res := ProbeCamera(Probe{
			LookupEnv: envWith(map[string]string{OverrideEnv: value}),
			Stat: func(string) (os.FileInfo, error) {
				t.Fatal("stat must not be consulted when overridden")
				return nil, nil
			},
			Device: "/dev/video0",
		})
		if res.Status != want {
			t.Fatalf("value %q: expected %s, got %s", value, want, res.Status)
		}
	}
}

func TestDeviceProbe(t *testing.T) {
	noEnv := envWith(nil)

	res := ProbeCamera(Probe{LookupEnv: noEnv, Device: t.TempDir()})
	if !res.Granted() {
		t.Fatalf("expected readable directory to be granted, got %+v", res)
	}

	res = ProbeCamera(Probe{LookupEnv: noEnv, Stat: func(string) (os.FileInfo, error) { return nil, fs.ErrPermission }, Device: "/dev/video0"})
	if res.Status != StatusDenied || res.Guidance == "" {
		t.Fatalf("expected denied with guidance, got %+v", res)
	}

	res = ProbeCamera(Probe{LookupEnv: noEnv, Stat: func(string) (os.FileInfo, error) { return nil, fs.ErrNotExist }, Device: "/dev/video9"})
	if res.Status != StatusUnavailable {
		t.Fatalf("expected unavailable, got %+v", res)
	}

	res = ProbeCamera(Probe{LookupEnv: noEnv})
	if res.Status != StatusUnknown {
		t.Fatalf("expected unknown without device, got %+v", res)
	}
}
