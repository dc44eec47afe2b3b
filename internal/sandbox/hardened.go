package sandbox

import (
	"context"
	"fmt"
)

// hardenedRuntimeName is the OCI runtime name this driver requests from the
// Docker daemon. The daemon must have it registered (e.g. via
// `--add-runtime runsc=/usr/bin/runsc`) or container creation fails.
const hardenedRuntimeName = "runsc"

// hardenedDriver wraps a dockerDriver and forces every container onto the
// gVisor user-space-kernel runtime, refusing to run at all if the daemon
// does not expose it. Its only Docker API call of its own is the daemon
// Info query in available: container creation/wait/logs/kill/remove are
// identical to the generic backend, the only difference is the OCI runtime
// named in HostConfig.Runtime.
type hardenedDriver struct {
	*dockerDriver
}

func newHardenedDriver() (*hardenedDriver, error) {
	base, err := newDockerDriver()
	if err != nil {
		return nil, err
	}
	return &hardenedDriver{dockerDriver: base}, nil
}

func (h *hardenedDriver) name() string { return "hardened" }

// available checks both that the daemon is reachable (inherited) and that
// it actually has the hardened runtime registered. This runs once, at
// backend construction, not per execution.
func (h *hardenedDriver) available(ctx context.Context) error {
	if err := h.dockerDriver.available(ctx); err != nil {
		return err
	}
	info, err := h.dockerDriver.api.Info(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not query docker daemon info: %v", ErrRuntimeUnavailable, err)
	}
	if _, ok := info.Runtimes[hardenedRuntimeName]; !ok {
		return fmt.Errorf("%w: daemon does not have the %q runtime registered", ErrRuntimeUnavailable, hardenedRuntimeName)
	}
	return nil
}

func (h *hardenedDriver) create(ctx context.Context, spec containerSpec) (string, error) {
	spec.Runtime = hardenedRuntimeName
	id, err := h.dockerDriver.create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("sandbox: hardened runtime: %w", err)
	}
	return id, nil
}
