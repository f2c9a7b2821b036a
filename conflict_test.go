package fwbuild

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribePortBusy(t *testing.T) {
	err := fmt.Errorf("deploy: %w", &PortBusyError{
		Port:      "/dev/ttyUSB0",
		Holder:    "r1",
		Occupancy: Monitoring,
		Waited:    10 * time.Second,
	})

	report, ok := Describe(err)
	require.True(t, ok)
	assert.Equal(t, ResourcePort, report.Kind)
	assert.Equal(t, "/dev/ttyUSB0", report.Resource)
	assert.Equal(t, "r1", report.Holder)
	assert.Equal(t, Monitoring, report.Occupancy)
	assert.Equal(t, 10*time.Second, report.Waited)
	assert.Contains(t, report.Suggestion, "monitor session")

	s := report.String()
	assert.Contains(t, s, "/dev/ttyUSB0")
	assert.Contains(t, s, "monitoring")
	assert.Contains(t, s, "r1")
}

func TestDescribeLockTimeoutProject(t *testing.T) {
	err := &LockTimeoutError{
		Key:        "/home/user/proj",
		Holder:     "r9",
		QueueDepth: 2,
		Waited:     30 * time.Second,
	}

	report, ok := Describe(err)
	require.True(t, ok)
	assert.Equal(t, ResourceProject, report.Kind)
	assert.Equal(t, "/home/user/proj", report.Resource)
	assert.Equal(t, "r9", report.Holder)
	assert.Equal(t, 2, report.QueueDepth)
	assert.Contains(t, report.Suggestion, "project lock")

	s := report.String()
	assert.Contains(t, s, "2 queued")
	assert.Contains(t, s, "30s")
}

func TestDescribeLockTimeoutPortKey(t *testing.T) {
	report, ok := Describe(&LockTimeoutError{Key: "/dev/ttyACM0", Holder: "r3"})
	require.True(t, ok)
	assert.Equal(t, ResourcePort, report.Kind)
}

func TestDescribeNonConflict(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("plain failure"),
		ErrBuildFailed,
		ErrInvalidReference,
	} {
		report, ok := Describe(err)
		assert.False(t, ok)
		assert.Nil(t, report)
	}
}

func TestConflictReportUnknownHolder(t *testing.T) {
	report, ok := Describe(&PortBusyError{Port: "/dev/ttyUSB0", Occupancy: Deploying})
	require.True(t, ok)
	assert.Contains(t, report.String(), "unknown")
}
