package fwbuild

import (
	"sync"
	"time"
)

// Occupancy is the current usage state of a serial port
type Occupancy int

const (
	Free Occupancy = iota
	Building
	Deploying
	Monitoring
)

func (o Occupancy) String() string {
	switch o {
	case Free:
		return "free"
	case Building:
		return "building"
	case Deploying:
		return "deploying"
	case Monitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// PortState is the tracked state of one known port. Occupancy other than
// Free implies Owner is set and that request holds the port lock.
type PortState struct {
	Occupancy      Occupancy
	Owner          string
	LastTransition time.Time
}

// PortStateTracker maintains the occupancy of each known serial port,
// consistent with lock ownership in the registry. Only the coordinator
// transitions states, and only while holding the port's lock; Reset is
// reserved for the startup crash-recovery sweep.
type PortStateTracker struct {
	mu       sync.Mutex
	states   map[PortKey]PortState
	registry *LockRegistry
}

// NewPortStateTracker creates a tracker backed by the given registry for
// lock-ownership checks
func NewPortStateTracker(registry *LockRegistry) *PortStateTracker {
	return &PortStateTracker{
		states:   make(map[PortKey]PortState),
		registry: registry,
	}
}

// State returns the tracked state of port; unknown ports are Free
func (t *PortStateTracker) State(port PortKey) PortState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[port]
}

// allowed occupancy edges. Free->Building is deliberately absent: building
// pertains to the project, a build never occupies a port. Free->Monitoring
// covers monitor-only requests, which skip the deploy phase entirely.
var allowedTransitions = map[Occupancy][]Occupancy{
	Free:       {Deploying, Monitoring},
	Deploying:  {Monitoring, Free},
	Monitoring: {Free},
}

// Transition moves port to next on behalf of requestID. The caller must
// hold the port's lock; anything else fails with InvalidTransition.
func (t *PortStateTracker) Transition(port PortKey, requestID string, next Occupancy) error {
	holder, held := t.registry.Holder(string(port))
	if !held || holder != requestID {
		return &InvalidTransitionError{
			Port:   port,
			To:     next,
			Reason: "caller does not hold the port lock",
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.states[port]
	if !edgeAllowed(current.Occupancy, next) {
		return &InvalidTransitionError{
			Port:   port,
			From:   current.Occupancy,
			To:     next,
			Reason: "edge not allowed",
		}
	}

	owner := requestID
	if next == Free {
		owner = ""
	}
	t.states[port] = PortState{
		Occupancy:      next,
		Owner:          owner,
		LastTransition: time.Now(),
	}
	return nil
}

func edgeAllowed(from, to Occupancy) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Reset forces port back to Free without an owning request. Used only by
// the crash-recovery sweep, never by normal operation flow.
func (t *PortStateTracker) Reset(port PortKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[port] = PortState{
		Occupancy:      Free,
		LastTransition: time.Now(),
	}
}
