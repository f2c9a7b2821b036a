package fwbuild

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProjectKey is the canonical identifier for a buildable project: the
// symlink-resolved absolute path of the project directory. Two references to
// the same directory always produce the same key.
type ProjectKey string

// PortKey is the canonical identifier for a physical serial port: the
// symlink-resolved device path (e.g. /dev/ttyUSB0). By-id aliases and
// case variants fold to the same key.
type PortKey string

// Phase is a bitmask of the operation phases a request asks for
type Phase uint8

const (
	PhaseBuild Phase = 1 << iota
	PhaseDeploy
	PhaseMonitor
)

// Has reports whether the phase set includes p
func (p Phase) Has(q Phase) bool { return p&q != 0 }

func (p Phase) String() string {
	if p == 0 {
		return "none"
	}
	var s string
	add := func(name string) {
		if s != "" {
			s += "+"
		}
		s += name
	}
	if p.Has(PhaseBuild) {
		add("build")
	}
	if p.Has(PhaseDeploy) {
		add("deploy")
	}
	if p.Has(PhaseMonitor) {
		add("monitor")
	}
	return s
}

// needsPort reports whether the phase set requires a serial port
func (p Phase) needsPort() bool { return p.Has(PhaseDeploy) || p.Has(PhaseMonitor) }

// RequestStatus is the lifecycle status of a request
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is one client-initiated build/deploy/monitor operation. A request
// owns its locks for its whole lifetime; the coordinator mutates the status
// and the phase timestamps, nothing else does.
type Request struct {
	ID      string
	Project ProjectKey
	Port    PortKey
	Phases  Phase

	// Artifact is set by the Build phase, or pre-populated to reuse a
	// previously built firmware for a deploy-only request.
	Artifact *BuildArtifact

	CreatedAt time.Time

	// Status and phase timestamps are written by the coordinator while
	// status displays read them, so both sit behind mu.
	mu     sync.RWMutex
	status RequestStatus
	marks  map[string]time.Time
}

// NewRequest creates a request with a fresh unique id
func NewRequest(project ProjectKey, port PortKey, phases Phase) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Project:   project,
		Port:      port,
		Phases:    phases,
		status:    StatusPending,
		CreatedAt: time.Now(),
		marks:     make(map[string]time.Time),
	}
}

// Status returns the request's lifecycle status
func (r *Request) Status() RequestStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Request) setStatus(s RequestStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *Request) mark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marks == nil {
		r.marks = make(map[string]time.Time)
	}
	r.marks[name] = time.Now()
}

// Mark returns the timestamp recorded when the request entered the named
// coordinator state, and whether it was recorded at all.
func (r *Request) Mark(name string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.marks[name]
	return t, ok
}

// Elapsed returns the time since the request was created
func (r *Request) Elapsed() time.Duration {
	return time.Since(r.CreatedAt)
}
