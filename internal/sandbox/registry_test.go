package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(_ context.Context, _ Config, _ MetricsRecorder) (Backend, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		info      *Info
		wantPanic string
	}{
		{name: "nil info", info: nil, wantPanic: "sandbox: backend info cannot be nil"},
		{name: "empty name", info: &Info{Name: "", Factory: noopFactory}, wantPanic: "sandbox: backend name cannot be empty"},
		{name: "nil factory", info: &Info{Name: "x", Factory: nil}, wantPanic: "sandbox: backend factory cannot be nil"},
		{name: "negative priority", info: &Info{Name: "x", Priority: -1, Factory: noopFactory}, wantPanic: "sandbox: backend priority must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := NewRegistry()
			assert.PanicsWithValue(t, tt.wantPanic, func() {
				reg.Register(tt.info)
			})
		})
	}
}

func TestRegistry_ValidRegistrationSucceeds(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	require.NotPanics(t, func() {
		reg.Register(&Info{Name: "test-rt", Priority: 100, Factory: noopFactory})
	})
	got := reg.Get("test-rt")
	require.NotNil(t, got)
	assert.Equal(t, "test-rt", got.Name)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	info := &Info{Name: "dup", Priority: 100, Factory: noopFactory}
	reg.Register(info)
	assert.PanicsWithValue(t, "sandbox: backend already registered: dup", func() {
		reg.Register(info)
	})
}

func TestRegistry_New_UnknownNameIsStartupError(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_, err := reg.New(context.Background(), "nonexistent", Config{Image: "img"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "nonexistent"`)
}

func TestRegistry_ByPriority(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(&Info{Name: "high", Priority: 300, Factory: noopFactory})
	reg.Register(&Info{Name: "low", Priority: 50, Factory: noopFactory})
	reg.Register(&Info{Name: "mid", Priority: 150, Factory: noopFactory})

	ordered := reg.ByPriority()
	require.Len(t, ordered, 3)
	assert.Equal(t, "low", ordered[0].Name)
	assert.Equal(t, "mid", ordered[1].Name)
	assert.Equal(t, "high", ordered[2].Name)
}

func TestDefaultRegistry_HasBothBackends(t *testing.T) {
	t.Parallel()
	assert.True(t, DefaultRegistry.IsRegistered(Generic))
	assert.True(t, DefaultRegistry.IsRegistered(Hardened))
}
