package sandbox

import (
	"fmt"
	"time"
)

// CPUPeriod is the fixed CFS scheduling period used to derive a container's
// CPU quota: quota = CPUPeriod * cpuLimit, so a CPULimit of 1.5 yields one
// and a half cores of wall-clock CPU time per period.
const CPUPeriod = 100_000 // microseconds

// Config configures a Backend. Only the timeout is chosen per request, and
// only within the bounds set here (a caller cannot ask for a longer
// timeout than MaxTimeout).
type Config struct {
	// Image is the container image every execution runs under.
	Image string
	// Network is the Docker network new containers are attached to.
	// Empty is replaced by "none", which gives the container no network
	// at all; no named gateway network is created or selected by default.
	Network string
	// MemoryLimitBytes bounds the container's RAM; 0 is replaced by the
	// 512 MiB default.
	MemoryLimitBytes int64
	// CPULimit bounds CPU as a fraction of a core (1.0 = one core).
	CPULimit float64
	// PIDsLimit bounds the number of processes/threads the container may
	// create, guarding against fork bombs.
	PIDsLimit int64
	// TmpfsSizeBytes bounds the in-memory /tmp mounted read-write.
	TmpfsSizeBytes int64
	// DefaultTimeout is used when a request does not specify one.
	DefaultTimeout time.Duration
	// MaxTimeout caps any request's timeout, regardless of what it asks for.
	MaxTimeout time.Duration
	// MaxConcurrentExecutions bounds how many containers a backend runs at
	// once; additional Execute calls block until a slot frees up rather
	// than piling unbounded load on the container engine.
	MaxConcurrentExecutions int64
	// User is the non-root "uid:gid" the container process runs as.
	User string
	// Label is attached to every container this backend creates, so that
	// Cleanup (and an operator doing manual forensics) can find them.
	Label string

	// scratchRoot overrides the directory execution scratch directories are
	// created under; unset means os.TempDir(). Only tests set this.
	scratchRoot string
}

// DefaultConfig returns a Config with conservative defaults applied on top
// of the zero value; Image is left empty.
func DefaultConfig() Config {
	return Config{
		Network:                 "none",
		MemoryLimitBytes:        512 * 1024 * 1024,
		CPULimit:                1.0,
		PIDsLimit:               64,
		TmpfsSizeBytes:          64 * 1024 * 1024,
		DefaultTimeout:          30 * time.Second,
		MaxTimeout:              5 * time.Minute,
		MaxConcurrentExecutions: 8,
		User:                    "65534:65534",
		Label:                   "mcp-gateway.sandbox=true",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = d.MemoryLimitBytes
	}
	if c.CPULimit == 0 {
		c.CPULimit = d.CPULimit
	}
	if c.PIDsLimit == 0 {
		c.PIDsLimit = d.PIDsLimit
	}
	if c.TmpfsSizeBytes == 0 {
		c.TmpfsSizeBytes = d.TmpfsSizeBytes
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.MaxConcurrentExecutions == 0 {
		c.MaxConcurrentExecutions = d.MaxConcurrentExecutions
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.Label == "" {
		c.Label = d.Label
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("sandbox: image is required")
	}
	return nil
}

// cpuQuota returns the CFS quota (microseconds per CPUPeriod) for limit.
func cpuQuota(limit float64) int64 {
	return int64(limit * CPUPeriod)
}

// clampTimeout returns requested bounded to (0, cfg.MaxTimeout], falling
// back to cfg.DefaultTimeout when requested is unset.
func (c Config) clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = c.DefaultTimeout
	}
	if requested > c.MaxTimeout {
		requested = c.MaxTimeout
	}
	return requested
}
