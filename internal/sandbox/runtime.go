package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

// scriptFileName is the single file written into the read-only shared/
// mount; backends run it as the container's entrypoint argument.
const scriptFileName = "script.py"

// metricsFileName is the one dotfile name output/ treats specially: if
// present it is parsed as JSON and forwarded to the caller, rather than
// listed as an opaque artifact.
const metricsFileName = ".metrics.json"

// coreRuntime implements Backend on top of a driver, owning everything a
// concrete driver should never have to think about: scratch directories,
// the execution-id tracking map, the timeout/force-kill race, and output
// capture. DockerBackend and HardenedBackend are both a coreRuntime plus a
// driver; neither reimplements this logic.
type coreRuntime struct {
	cfg         Config
	drv         driver
	scratchRoot string

	mu      sync.Mutex
	running map[string]string // execution id -> container id

	// slots bounds how many executions run concurrently; Execute acquires
	// one slot before creating a container and releases it once the
	// container is fully torn down, so a burst of tool calls queues
	// rather than overwhelming the container engine.
	slots *semaphore.Weighted

	metrics MetricsRecorder
}

// MetricsRecorder receives sandbox execution observations. It is satisfied
// by the observability package's Recorder; tests and callers that don't
// care about metrics can pass nil.
type MetricsRecorder interface {
	RecordSandboxExecution(backend string, duration time.Duration, outcome string)
}

func newCoreRuntime(cfg Config, drv driver, metrics MetricsRecorder) *coreRuntime {
	root := cfg.scratchRoot
	if root == "" {
		root = os.TempDir()
	}
	return &coreRuntime{
		cfg:         cfg,
		drv:         drv,
		scratchRoot: root,
		running:     make(map[string]string),
		slots:       semaphore.NewWeighted(cfg.MaxConcurrentExecutions),
		metrics:     metrics,
	}
}

// Execute implements Backend. It blocks until a concurrency slot is free
// before creating any container, so a burst of calls queues instead of all
// hitting the container engine at once.
func (rt *coreRuntime) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := rt.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("sandbox: waiting for an execution slot: %w", err)
	}
	defer rt.slots.Release(1)

	execID := uuid.NewString()[:12]
	timeout := rt.cfg.clampTimeout(req.Timeout)

	scratch, err := newScratchDir(rt.scratchRoot, execID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: prepare scratch directory: %w", err)
	}
	defer scratch.remove()

	if err := scratch.writeScript(req.Script); err != nil {
		return nil, fmt.Errorf("sandbox: write script: %w", err)
	}

	spec := containerSpec{
		Image:            rt.cfg.Image,
		Cmd:              []string{"python3", filepath.Join("/shared", scriptFileName)},
		Env:              envSlice(req.Env),
		Network:          rt.cfg.Network,
		User:             rt.cfg.User,
		ReadOnly:         true,
		MemoryLimitBytes: rt.cfg.MemoryLimitBytes,
		CPUQuota:         cpuQuota(rt.cfg.CPULimit),
		CPUPeriod:        CPUPeriod,
		PIDsLimit:        rt.cfg.PIDsLimit,
		TmpfsSizeBytes:   rt.cfg.TmpfsSizeBytes,
		Labels:           map[string]string{rt.cfg.Label: "true", "mcp-gateway.execution-id": execID},
		Binds: []mount.Mount{
			{Type: mount.TypeBind, Source: scratch.sharedDir, Target: "/shared", ReadOnly: true},
			{Type: mount.TypeBind, Source: scratch.outputDir, Target: "/output", ReadOnly: false},
		},
	}

	start := time.Now()
	result, err := rt.run(ctx, execID, spec, timeout)
	duration := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrExecutionTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	if rt.metrics != nil {
		rt.metrics.RecordSandboxExecution(rt.drv.name(), duration, outcome)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = duration
	result.OutputFiles, err = scratch.listOutputFiles()
	if err != nil {
		return nil, fmt.Errorf("sandbox: list output files: %w", err)
	}
	result.Metrics = scratch.readMetrics()

	return result, nil
}

// run performs the create/track/wait/collect/untrack sequence for one
// execution, delegating the actual container lifecycle to rt.drv. The
// container is tracked under execID from the moment it is created until
// either normal completion or the timeout's force-kill removes it — never
// both, since insert/remove are both taken under rt.mu.
func (rt *coreRuntime) run(ctx context.Context, execID string, spec containerSpec, timeout time.Duration) (*Result, error) {
	containerID, err := rt.drv.create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	rt.track(execID, containerID)

	// The wait is detached from ctx's cancellation: once the container has
	// started, a caller going away does not cut the run short; only the
	// timeout plus grace does.
	deadline := timeout + ExecutionGrace
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	type waitOutcome struct {
		exitCode int
		err      error
	}
	doneCh := make(chan waitOutcome, 1)
	go func() {
		code, werr := rt.drv.wait(waitCtx, containerID)
		doneCh <- waitOutcome{exitCode: code, err: werr}
	}()

	select {
	case outcome := <-doneCh:
		rt.untrack(execID)
		if outcome.err != nil {
			_ = rt.drv.remove(context.Background(), containerID)
			return nil, fmt.Errorf("sandbox: %w", outcome.err)
		}
		stdout, stderr, err := rt.drv.logs(context.Background(), containerID)
		if err != nil {
			logging.Warnw("sandbox: fetch logs failed", "execution_id", execID, "error", err)
		}
		if err := rt.drv.remove(context.Background(), containerID); err != nil {
			logging.Warnw("sandbox: remove container failed", "execution_id", execID, "error", err)
		}
		return &Result{Stdout: stdout, Stderr: stderr, ExitCode: outcome.exitCode}, nil

	case <-waitCtx.Done():
		rt.forceKill(execID)
		return nil, ErrExecutionTimeout
	}
}

// forceKill is invoked on the timeout path: it removes the execution from
// the tracking map under lock, then kills and removes the container. If
// the container has already been untracked by a concurrent normal
// completion, it is a no-op, so the two paths can never race to
// double-remove the same container.
func (rt *coreRuntime) forceKill(execID string) {
	rt.mu.Lock()
	containerID, ok := rt.running[execID]
	if ok {
		delete(rt.running, execID)
	}
	rt.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.drv.kill(ctx, containerID); err != nil {
		logging.Warnw("sandbox: force-kill failed", "execution_id", execID, "container_id", containerID, "error", err)
	}
	if err := rt.drv.remove(ctx, containerID); err != nil {
		logging.Warnw("sandbox: force-remove after timeout failed", "execution_id", execID, "container_id", containerID, "error", err)
	}
}

func (rt *coreRuntime) track(execID, containerID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.running[execID] = containerID
}

func (rt *coreRuntime) untrack(execID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.running, execID)
}

// Cleanup implements Backend: it drains the tracking map and force-removes
// every container still in it, for use at process shutdown. Containers are
// torn down concurrently, since at shutdown there is no reason to make one
// slow engine call block the rest.
func (rt *coreRuntime) Cleanup(ctx context.Context) error {
	rt.mu.Lock()
	remaining := make(map[string]string, len(rt.running))
	for k, v := range rt.running {
		remaining[k] = v
	}
	rt.running = make(map[string]string)
	rt.mu.Unlock()

	// A plain Group, not WithContext: one container's removal failing must
	// not cancel the others still being torn down.
	var g errgroup.Group
	for execID, containerID := range remaining {
		execID, containerID := execID, containerID
		g.Go(func() error {
			if err := rt.drv.kill(ctx, containerID); err != nil {
				logging.Warnw("sandbox: cleanup kill failed", "execution_id", execID, "error", err)
			}
			if err := rt.drv.remove(ctx, containerID); err != nil {
				logging.Warnw("sandbox: cleanup remove failed", "execution_id", execID, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// trackedCount reports how many executions are currently tracked; used by
// tests that assert the map is empty after a timeout or cleanup.
func (rt *coreRuntime) trackedCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.running)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// scratchDir is the per-execution "shared/" + "output/" directory pair
// mounted into the container.
type scratchDir struct {
	root      string
	sharedDir string
	outputDir string
}

func newScratchDir(root, execID string) (*scratchDir, error) {
	base := filepath.Join(root, "mcp-gateway-sandbox-"+execID)
	shared := filepath.Join(base, "shared")
	output := filepath.Join(base, "output")
	for _, dir := range []string{shared, output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &scratchDir{root: base, sharedDir: shared, outputDir: output}, nil
}

func (s *scratchDir) writeScript(script string) error {
	return os.WriteFile(filepath.Join(s.sharedDir, scriptFileName), []byte(script), 0o644)
}

func (s *scratchDir) remove() {
	if err := os.RemoveAll(s.root); err != nil {
		logging.Warnw("sandbox: scratch directory cleanup failed", "path", s.root, "error", err)
	}
}

// listOutputFiles enumerates regular, non-dotfile entries of output/: the
// exported artifact names the caller's script produced. Dotfiles (today,
// only .metrics.json) are reserved and never listed as artifacts.
func (s *scratchDir) listOutputFiles() ([]string, error) {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// readMetrics leniently parses output/.metrics.json, if present. A
// malformed blob is logged and treated as absent; it is never fatal to the
// execution, since the script's actual result has already succeeded.
func (s *scratchDir) readMetrics() map[string]any {
	raw, err := os.ReadFile(filepath.Join(s.outputDir, metricsFileName))
	if err != nil {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		logging.Warnw("sandbox: malformed .metrics.json ignored", "error", err)
		return nil
	}
	return parsed
}
