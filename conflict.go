package fwbuild

import (
	"errors"
	"fmt"
	"time"
)

// ResourceKind tells which resource dimension a conflict is about
type ResourceKind int

const (
	ResourceProject ResourceKind = iota
	ResourcePort
)

func (k ResourceKind) String() string {
	if k == ResourcePort {
		return "port"
	}
	return "project"
}

// ConflictReport is a structured, user-facing description of lock or port
// contention: which resource, who holds it, how long the caller waited, and
// what to do about it.
type ConflictReport struct {
	Resource   string
	Kind       ResourceKind
	Holder     string
	Occupancy  Occupancy
	Waited     time.Duration
	QueueDepth int
	Suggestion string
}

// Describe translates a contention error into a ConflictReport. It returns
// false for anything that is not a LockTimeout or PortBusy; those errors are
// not conflicts and should surface verbatim. Pure translation, no side
// effects.
func Describe(err error) (*ConflictReport, bool) {
	var pb *PortBusyError
	if errors.As(err, &pb) {
		suggestion := fmt.Sprintf("another operation is using port %s; wait for it to finish or specify a different port", pb.Port)
		if pb.Occupancy == Monitoring {
			suggestion = fmt.Sprintf("a monitor session is attached to port %s; stop it or specify a different port", pb.Port)
		}
		return &ConflictReport{
			Resource:   string(pb.Port),
			Kind:       ResourcePort,
			Holder:     pb.Holder,
			Occupancy:  pb.Occupancy,
			Waited:     pb.Waited,
			Suggestion: suggestion,
		}, true
	}

	var lt *LockTimeoutError
	if errors.As(err, &lt) {
		kind := ResourceProject
		if classifyKey(lt.Key) == KeyTypePort {
			kind = ResourcePort
		}
		return &ConflictReport{
			Resource:   lt.Key,
			Kind:       kind,
			Holder:     lt.Holder,
			Waited:     lt.Waited,
			QueueDepth: lt.QueueDepth,
			Suggestion: fmt.Sprintf("another request holds the %s lock; retry later or raise the lock timeout", kind),
		}, true
	}

	return nil, false
}

func (r *ConflictReport) String() string {
	holder := r.Holder
	if holder == "" {
		holder = "unknown"
	}
	s := fmt.Sprintf("%s %s is held by request %s", r.Kind, r.Resource, holder)
	if r.Kind == ResourcePort && r.Occupancy != Free {
		s += fmt.Sprintf(" (%s)", r.Occupancy)
	}
	if r.Waited > 0 {
		s += fmt.Sprintf(", waited %s", r.Waited.Round(time.Millisecond))
	}
	if r.QueueDepth > 0 {
		s += fmt.Sprintf(", %d queued", r.QueueDepth)
	}
	return s + "\n" + r.Suggestion
}
