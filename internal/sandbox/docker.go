package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerAPI is the subset of the Docker SDK's client.APIClient this package
// depends on, narrowed so unit tests can fake it without a real daemon.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Ping(ctx context.Context) (ping struct{ APIVersion string }, err error)
	Info(ctx context.Context) (system.Info, error)
	Close() error
}

// containerSpec is the backend-agnostic description of one container run,
// assembled by coreRuntime and turned into Docker-specific types by a
// dockerDriver (or a hardenedDriver wrapping one).
type containerSpec struct {
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string

	Network  string
	User     string
	ReadOnly bool

	MemoryLimitBytes int64
	CPUQuota         int64
	CPUPeriod        int64
	PIDsLimit        int64
	TmpfsSizeBytes   int64

	Binds []mount.Mount

	// Runtime, when non-empty, selects an alternate OCI runtime (e.g.
	// "runsc" for gVisor) instead of the daemon's default.
	Runtime string

	Labels map[string]string
}

// driver creates, waits on, and tears down one containerSpec. dockerDriver
// implements it directly against the Docker API; hardenedDriver wraps a
// dockerDriver and forces an alternate OCI runtime.
type driver interface {
	// available returns ErrRuntimeUnavailable (wrapped) if this driver's
	// required runtime is not usable on this host.
	available(ctx context.Context) error
	create(ctx context.Context, spec containerSpec) (containerID string, err error)
	wait(ctx context.Context, containerID string) (exitCode int, err error)
	logs(ctx context.Context, containerID string) (stdout, stderr string, err error)
	kill(ctx context.Context, containerID string) error
	remove(ctx context.Context, containerID string) error
	name() string
}

// dockerDriver drives the generic container backend: a plain Docker daemon
// with no alternate OCI runtime.
type dockerDriver struct {
	api dockerAPI
}

// newDockerDriver constructs a dockerDriver against the local Docker
// daemon, using whatever connection the DOCKER_HOST environment (or the
// platform default) resolves to.
func newDockerDriver() (*dockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: connect to docker daemon: %w", err)
	}
	return &dockerDriver{api: dockerClient{cli}}, nil
}

func (d *dockerDriver) name() string { return "generic" }

func (d *dockerDriver) available(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker daemon unreachable: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

func (d *dockerDriver) create(ctx context.Context, spec containerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}

	host := &container.HostConfig{
		NetworkMode:    container.NetworkMode(spec.Network),
		ReadonlyRootfs: spec.ReadOnly,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("rw,noexec,nosuid,size=%d", spec.TmpfsSizeBytes),
		},
		Mounts: spec.Binds,
		Resources: container.Resources{
			Memory:     spec.MemoryLimitBytes,
			MemorySwap: spec.MemoryLimitBytes,
			CPUPeriod:  spec.CPUPeriod,
			CPUQuota:   spec.CPUQuota,
			PidsLimit:  &spec.PIDsLimit,
		},
		Runtime: spec.Runtime,
	}

	resp, err := d.api.ContainerCreate(ctx, cfg, host, &network.NetworkingConfig{}, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	return resp.ID, nil
}

func (d *dockerDriver) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 1, fmt.Errorf("sandbox: wait for container: %w", err)
		}
		return 0, nil
	case status := <-statusCh:
		if status.Error != nil {
			return 1, fmt.Errorf("sandbox: container reported error: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *dockerDriver) logs(ctx context.Context, containerID string) (string, string, error) {
	rc, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("sandbox: fetch logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil && err != io.EOF {
		return "", "", fmt.Errorf("sandbox: demultiplex logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (d *dockerDriver) kill(ctx context.Context, containerID string) error {
	if err := d.api.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		return fmt.Errorf("sandbox: kill container: %w", err)
	}
	return nil
}

func (d *dockerDriver) remove(ctx context.Context, containerID string) error {
	if err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("sandbox: remove container: %w", err)
	}
	return nil
}

// dockerClient adapts *client.Client (the real SDK client) to dockerAPI,
// since the SDK's Ping returns a types.Ping rather than our narrowed shape.
type dockerClient struct {
	*client.Client
}

func (c dockerClient) Ping(ctx context.Context) (struct{ APIVersion string }, error) {
	p, err := c.Client.Ping(ctx)
	if err != nil {
		return struct{ APIVersion string }{}, err
	}
	return struct{ APIVersion string }{APIVersion: p.APIVersion}, nil
}
