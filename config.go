package fwbuild

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds the configuration for the operation coordinator
type Config struct {
	// LockTimeout bounds project lock acquisition
	LockTimeout time.Duration

	// PortWaitTimeout bounds how long a request waits for a busy port while
	// still holding its project lock. On expiry the project lock is released
	// and the request fails with PortBusy.
	PortWaitTimeout time.Duration

	// MonitorTimeout ends a monitor session after a fixed duration.
	// Zero means the session runs until cancelled or the port closes.
	MonitorTimeout time.Duration

	// StateDir holds the persisted lock table
	StateDir string

	// Persist controls whether locks are written to the lock table so they
	// survive process crashes and are visible to other processes
	Persist bool

	Logger *log.Logger
}

// Option is a functional option for configuring the coordinator
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		LockTimeout:     30 * time.Second,
		PortWaitTimeout: 10 * time.Second,
		MonitorTimeout:  0,
		StateDir:        defaultStateDir(),
		Persist:         true,
		Logger:          log.New(os.Stderr),
	}
}

// defaultStateDir places the lock table under the user cache directory,
// falling back to the system temp dir when none is available
func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "fwbuild")
	}
	return filepath.Join(os.TempDir(), "fwbuild")
}

// WithLockTimeout sets the project lock acquisition timeout
func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		c.LockTimeout = d
		return nil
	}
}

// WithPortWaitTimeout sets how long to wait for a busy port
func WithPortWaitTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		c.PortWaitTimeout = d
		return nil
	}
}

// WithMonitorTimeout ends monitor sessions after d. Zero disables the limit.
func WithMonitorTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrInvalidTimeout
		}
		c.MonitorTimeout = d
		return nil
	}
}

// WithStateDir sets the directory for the persisted lock table
func WithStateDir(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return ErrStateDirUnavailable
		}
		c.StateDir = dir
		return nil
	}
}

// WithoutPersistence keeps all lock state in-process. Locks no longer
// survive crashes or coordinate across processes; intended for tests.
func WithoutPersistence() Option {
	return func(c *Config) error {
		c.Persist = false
		return nil
	}
}

// WithLogger sets the structured logger used by the coordinator
func WithLogger(logger *log.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.Logger = logger
		return nil
	}
}
