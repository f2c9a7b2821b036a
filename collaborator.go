package fwbuild

import (
	"context"
	"time"
)

// BuildArtifact is a handle to compiled firmware, owned by the request that
// produced it and referenced (not copied) by that request's deploy phase.
type BuildArtifact struct {
	Path        string
	Environment string
	Size        int64
	BuiltAt     time.Time
}

// DeployResult describes a completed firmware write
type DeployResult struct {
	Port         PortKey
	BytesWritten int64
	Duration     time.Duration
}

// Builder compiles a project into a firmware artifact
type Builder interface {
	Build(ctx context.Context, project ProjectKey) (*BuildArtifact, error)
}

// Deployer writes a firmware artifact to a serial port
type Deployer interface {
	Deploy(ctx context.Context, port PortKey, artifact *BuildArtifact) (*DeployResult, error)
}

// MonitorOpener opens a line-oriented monitor session on a serial port
type MonitorOpener interface {
	OpenMonitor(ctx context.Context, port PortKey) (MonitorSession, error)
}

// MonitorSession is an open serial monitor. ReadLine blocks until a full
// line arrives or the session closes, in which case it returns an error
// wrapping ErrMonitorClosed (or the underlying connection error).
type MonitorSession interface {
	ReadLine() (string, error)
	Close() error
}

// MonitorSink receives monitor output as it arrives. Implementations must
// be safe to call from the coordinator's read loop.
type MonitorSink interface {
	Line(timestamp time.Time, text string)
}

// MonitorSinkFunc adapts a function to the MonitorSink interface
type MonitorSinkFunc func(timestamp time.Time, text string)

func (f MonitorSinkFunc) Line(timestamp time.Time, text string) { f(timestamp, text) }
