package fwbuild

import (
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestWithLockTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr bool
	}{
		{"1s (valid)", time.Second, false},
		{"30s (valid)", 30 * time.Second, false},
		{"1ms (valid)", time.Millisecond, false},
		{"0 (invalid)", 0, true},
		{"-1s (negative)", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			opt := WithLockTimeout(tt.timeout)
			err := opt(&config)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithLockTimeout(%v) error = %v, wantErr %v", tt.timeout, err, tt.wantErr)
			}
			if err == nil && config.LockTimeout != tt.timeout {
				t.Errorf("LockTimeout = %v, want %v", config.LockTimeout, tt.timeout)
			}
		})
	}
}

func TestWithPortWaitTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr bool
	}{
		{"10s (valid)", 10 * time.Second, false},
		{"0 (invalid)", 0, true},
		{"-5s (negative)", -5 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			err := WithPortWaitTimeout(tt.timeout)(&config)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithPortWaitTimeout(%v) error = %v, wantErr %v", tt.timeout, err, tt.wantErr)
			}
		})
	}
}

func TestWithMonitorTimeout(t *testing.T) {
	config := DefaultConfig()
	if err := WithMonitorTimeout(0)(&config); err != nil {
		t.Errorf("WithMonitorTimeout(0) should be valid (no limit), got %v", err)
	}
	if err := WithMonitorTimeout(-time.Second)(&config); err == nil {
		t.Error("WithMonitorTimeout(-1s) should fail")
	}
	if err := WithMonitorTimeout(time.Minute)(&config); err != nil || config.MonitorTimeout != time.Minute {
		t.Errorf("MonitorTimeout = %v (err %v), want 1m", config.MonitorTimeout, err)
	}
}

func TestWithStateDir(t *testing.T) {
	config := DefaultConfig()
	if err := WithStateDir("")(&config); err == nil {
		t.Error("WithStateDir(\"\") should fail")
	}
	dir := t.TempDir()
	if err := WithStateDir(dir)(&config); err != nil || config.StateDir != dir {
		t.Errorf("StateDir = %q (err %v), want %q", config.StateDir, err, dir)
	}
}

func TestWithLogger(t *testing.T) {
	config := DefaultConfig()
	if err := WithLogger(nil)(&config); err == nil {
		t.Error("WithLogger(nil) should fail")
	}
	logger := log.New(nil)
	if err := WithLogger(logger)(&config); err != nil || config.Logger != logger {
		t.Errorf("WithLogger failed: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.LockTimeout != 30*time.Second {
		t.Errorf("LockTimeout = %v, want 30s", config.LockTimeout)
	}
	if config.PortWaitTimeout != 10*time.Second {
		t.Errorf("PortWaitTimeout = %v, want 10s", config.PortWaitTimeout)
	}
	if config.MonitorTimeout != 0 {
		t.Errorf("MonitorTimeout = %v, want 0 (unlimited)", config.MonitorTimeout)
	}
	if !config.Persist {
		t.Error("Persist should default to true")
	}
	if config.StateDir == "" {
		t.Error("StateDir should have a default")
	}
	if config.Logger == nil {
		t.Error("Logger should have a default")
	}
}

func TestWithoutPersistence(t *testing.T) {
	config := DefaultConfig()
	if err := WithoutPersistence()(&config); err != nil {
		t.Fatalf("WithoutPersistence failed: %v", err)
	}
	if config.Persist {
		t.Error("Persist should be false")
	}
}
