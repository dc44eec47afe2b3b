package sandbox

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a test double for the driver interface, letting tests
// control exactly how long "wait" blocks without touching a real daemon.
type fakeDriver struct {
	mu         sync.Mutex
	created    []containerSpec
	killed     []string
	removed    []string
	nextID     int
	waitDelay  time.Duration
	waitExit   int
	waitErr    error
	createErr  error
}

func (f *fakeDriver) name() string { return "fake" }

func (f *fakeDriver) available(_ context.Context) error { return nil }

func (f *fakeDriver) create(_ context.Context, spec containerSpec) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, spec)
	return "container-" + string(rune('a'+f.nextID)), nil
}

func (f *fakeDriver) wait(ctx context.Context, _ string) (int, error) {
	select {
	case <-time.After(f.waitDelay):
		return f.waitExit, f.waitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeDriver) logs(_ context.Context, _ string) (string, string, error) {
	return "stdout\n", "", nil
}

func (f *fakeDriver) kill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeDriver) remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{Image: "python:3.12-slim", scratchRoot: t.TempDir()}
	cfg.applyDefaults()
	return cfg
}

func TestCoreRuntime_ExecuteSuccess(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{waitExit: 0}
	rt := newCoreRuntime(testConfig(t), drv, nil)

	res, err := rt.Execute(context.Background(), Request{Script: "print('hi')", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "stdout\n", res.Stdout)
	assert.Equal(t, 0, rt.trackedCount())
}

func TestCoreRuntime_TimeoutForceKillsAndUntracks(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{waitDelay: time.Hour} // never returns within the test timeout
	cfg := testConfig(t)
	rt := newCoreRuntime(cfg, drv, nil)

	start := time.Now()
	_, err := rt.Execute(context.Background(), Request{Script: "import time; time.sleep(10)", Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Less(t, elapsed, 50*time.Millisecond+ExecutionGrace+2*time.Second)
	assert.Equal(t, 0, rt.trackedCount())

	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.Len(t, drv.killed, 1)
	assert.Len(t, drv.removed, 1)
}

func TestCoreRuntime_Cleanup_DrainsTrackingMap(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{}
	rt := newCoreRuntime(testConfig(t), drv, nil)

	rt.track("exec-1", "container-1")
	rt.track("exec-2", "container-2")
	require.Equal(t, 2, rt.trackedCount())

	err := rt.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rt.trackedCount())

	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.ElementsMatch(t, []string{"container-1", "container-2"}, drv.killed)
	assert.ElementsMatch(t, []string{"container-1", "container-2"}, drv.removed)
}

func TestCoreRuntime_WaitErrorSurfacesAsError(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{waitErr: errors.New("engine unreachable")}
	rt := newCoreRuntime(testConfig(t), drv, nil)

	_, err := rt.Execute(context.Background(), Request{Script: "x = 1", Timeout: time.Second})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExecutionTimeout)
}

type recordingMetrics struct {
	mu      sync.Mutex
	backend string
	outcome string
}

func (r *recordingMetrics) RecordSandboxExecution(backend string, _ time.Duration, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = backend
	r.outcome = outcome
}

func TestCoreRuntime_RecordsMetricsOnTimeout(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{waitDelay: time.Hour}
	rec := &recordingMetrics{}
	rt := newCoreRuntime(testConfig(t), drv, rec)

	_, err := rt.Execute(context.Background(), Request{Script: "sleep", Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrExecutionTimeout)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "fake", rec.backend)
	assert.Equal(t, "timeout", rec.outcome)
}

func TestCoreRuntime_BoundsConcurrentExecutions(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{waitDelay: 100 * time.Millisecond}
	cfg := testConfig(t)
	cfg.MaxConcurrentExecutions = 1
	rt := newCoreRuntime(cfg, drv, nil)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rt.Execute(context.Background(), Request{Script: "noop", Timeout: time.Second})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// With one slot, the second execution cannot start until the first
	// container's wait has returned, so the pair takes at least two
	// wait delays rather than running concurrently.
	assert.GreaterOrEqual(t, time.Since(start), 2*drv.waitDelay)
}

func TestScratchDir_OutputFilesHideDotfiles(t *testing.T) {
	t.Parallel()
	sd, err := newScratchDir(t.TempDir(), "exec-1")
	require.NoError(t, err)
	defer sd.remove()

	require.NoError(t, os.WriteFile(sd.outputDir+"/a.png", []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(sd.outputDir+"/.metrics.json", []byte(`{"queries":[]}`), 0o644))

	files, err := sd.listOutputFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png"}, files)

	metrics := sd.readMetrics()
	require.NotNil(t, metrics)
	assert.Contains(t, metrics, "queries")
}
