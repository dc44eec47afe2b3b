package sandbox

import "context"

// Generic and Hardened name the two backends the registry ships with;
// sandbox.backend in configuration selects between them.
const (
	Generic  = "generic"
	Hardened = "hardened"
)

// DockerBackend runs executions on a plain Docker daemon with no alternate
// OCI runtime: the default backend, suitable whenever the host does not
// provide (or need) a user-space-kernel sandbox.
type DockerBackend struct {
	*coreRuntime
}

// NewDockerBackend constructs a DockerBackend against the local Docker
// daemon. It does not verify the daemon is reachable; that surfaces
// naturally on the first Execute, the same way the hardened backend's
// mandatory pre-check surfaces a missing runtime.
func NewDockerBackend(cfg Config, metrics MetricsRecorder) (*DockerBackend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	drv, err := newDockerDriver()
	if err != nil {
		return nil, err
	}
	return &DockerBackend{coreRuntime: newCoreRuntime(cfg, drv, metrics)}, nil
}

var _ Backend = (*DockerBackend)(nil)

// HardenedBackend additionally runs every container under gVisor (the
// "runsc" OCI runtime), refusing to construct at all if the daemon does
// not have that runtime registered.
type HardenedBackend struct {
	*coreRuntime
}

// NewHardenedBackend constructs a HardenedBackend, checking runtime
// availability against ctx before returning.
func NewHardenedBackend(ctx context.Context, cfg Config, metrics MetricsRecorder) (*HardenedBackend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	drv, err := newHardenedDriver()
	if err != nil {
		return nil, err
	}
	if err := drv.available(ctx); err != nil {
		return nil, err
	}
	return &HardenedBackend{coreRuntime: newCoreRuntime(cfg, drv, metrics)}, nil
}

var _ Backend = (*HardenedBackend)(nil)
