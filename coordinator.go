package fwbuild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// Coordinator state machine states, one per request phase.
const (
	StatePending              statekit.StateID = "pending"
	StateAcquiringProjectLock statekit.StateID = "acquiring-project-lock"
	StateBuilding             statekit.StateID = "building"
	StateAcquiringPortLock    statekit.StateID = "acquiring-port-lock"
	StateDeploying            statekit.StateID = "deploying"
	StateMonitoring           statekit.StateID = "monitoring"
	StateReleasing            statekit.StateID = "releasing"
	StateSucceeded            statekit.StateID = "succeeded"
	StateFailed               statekit.StateID = "failed"
	StateCancelled            statekit.StateID = "cancelled"
)

// Events driving the request state machine.
const (
	eventStart         statekit.EventType = "START"
	eventProjectLocked statekit.EventType = "PROJECT_LOCKED"
	eventBuilt         statekit.EventType = "BUILT"
	eventNoPortNeeded  statekit.EventType = "NO_PORT_NEEDED"
	eventPortLocked    statekit.EventType = "PORT_LOCKED"
	eventMonitorOnly   statekit.EventType = "MONITOR_ONLY"
	eventDeployed      statekit.EventType = "DEPLOYED"
	eventDeployDone    statekit.EventType = "DEPLOY_DONE"
	eventMonitorEnded  statekit.EventType = "MONITOR_ENDED"
	eventFail          statekit.EventType = "FAIL"
	eventCancel        statekit.EventType = "CANCEL"
	eventReleasedOK    statekit.EventType = "RELEASED_OK"
	eventReleasedFail  statekit.EventType = "RELEASED_FAIL"
	eventReleasedCanc  statekit.EventType = "RELEASED_CANCELLED"
)

// runContext is the (empty) context carried by the state machine; all
// request data lives on the Request itself.
type runContext struct{}

// newRequestMachine builds the per-request phase machine. Every active state
// can fail or be cancelled into Releasing; Releasing always runs, so no lock
// outlives its request.
func newRequestMachine() (*statekit.Interpreter[runContext], error) {
	machine, err := statekit.NewMachine[runContext]("request").
		WithInitial(StatePending).
		State(StatePending).
		On(eventStart).Target(StateAcquiringProjectLock).
		Done().
		State(StateAcquiringProjectLock).
		On(eventProjectLocked).Target(StateBuilding).
		On(eventFail).Target(StateReleasing).
		On(eventCancel).Target(StateReleasing).
		Done().
		State(StateBuilding).
		On(eventBuilt).Target(StateAcquiringPortLock).
		On(eventNoPortNeeded).Target(StateReleasing).
		On(eventFail).Target(StateReleasing).
		On(eventCancel).Target(StateReleasing).
		Done().
		State(StateAcquiringPortLock).
		On(eventPortLocked).Target(StateDeploying).
		On(eventMonitorOnly).Target(StateMonitoring).
		On(eventFail).Target(StateReleasing).
		On(eventCancel).Target(StateReleasing).
		Done().
		State(StateDeploying).
		On(eventDeployed).Target(StateMonitoring).
		On(eventDeployDone).Target(StateReleasing).
		On(eventFail).Target(StateReleasing).
		On(eventCancel).Target(StateReleasing).
		Done().
		State(StateMonitoring).
		On(eventMonitorEnded).Target(StateReleasing).
		On(eventFail).Target(StateReleasing).
		On(eventCancel).Target(StateReleasing).
		Done().
		State(StateReleasing).
		On(eventReleasedOK).Target(StateSucceeded).
		On(eventReleasedFail).Target(StateFailed).
		On(eventReleasedCanc).Target(StateCancelled).
		Done().
		State(StateSucceeded).
		Final().
		Done().
		State(StateFailed).
		Final().
		Done().
		State(StateCancelled).
		Final().
		Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build request machine: %w", err)
	}
	return statekit.NewInterpreter(machine), nil
}

// Coordinator orchestrates the build -> deploy -> monitor phase sequence for
// each request, acquiring and holding the appropriate locks across phase
// boundaries. The lock registry and port state tracker are the only shared
// mutable state; all lock acquisition follows the global project-before-port
// order.
type Coordinator struct {
	cfg      Config
	registry *LockRegistry
	tracker  *PortStateTracker
	table    *LockTable // nil when persistence is off

	builder  Builder
	deployer Deployer
	monitor  MonitorOpener
}

// NewCoordinator wires a coordinator from the given collaborators. When
// persistence is enabled (the default) it opens the lock table and runs the
// crash-recovery sweep before accepting any request.
func NewCoordinator(builder Builder, deployer Deployer, monitor MonitorOpener, opts ...Option) (*Coordinator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	var table *LockTable
	if cfg.Persist {
		var err error
		table, err = NewLockTable(cfg.StateDir)
		if err != nil {
			return nil, err
		}
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: NewLockRegistry(table),
		table:    table,
		builder:  builder,
		deployer: deployer,
		monitor:  monitor,
	}
	c.tracker = NewPortStateTracker(c.registry)

	if table != nil {
		if _, err := c.RecoverStale(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry exposes the lock registry for status display
func (c *Coordinator) Registry() *LockRegistry { return c.registry }

// Table returns the persisted lock table, or nil when persistence is off
func (c *Coordinator) Table() *LockTable { return c.table }

// PortState returns the tracked state of a port
func (c *Coordinator) PortState(port PortKey) PortState { return c.tracker.State(port) }

// RecoverStale sweeps the persisted lock table for records whose owning
// process no longer exists, forcing them unheld and resetting the matching
// port states. It runs at startup, never concurrently with live requests.
func (c *Coordinator) RecoverStale() ([]LockRecord, error) {
	if c.table == nil {
		return nil, nil
	}
	reclaimed, err := c.table.Sweep()
	if err != nil {
		return nil, err
	}
	for _, rec := range reclaimed {
		c.cfg.Logger.Warn("reclaimed stale lock",
			"key", rec.Key,
			"type", rec.KeyType,
			"holder", rec.Holder,
			"pid", rec.PID,
			"age", rec.Age().Round(time.Second))
		if rec.KeyType == KeyTypePort {
			c.tracker.Reset(PortKey(rec.Key))
		}
	}
	return reclaimed, nil
}

// run carries the mutable state of one Run invocation
type run struct {
	req         *Request
	interp      *statekit.Interpreter[runContext]
	projectHeld bool
	portHeld    bool
	failure     error
	cancelled   bool
}

func (r *run) send(req *Request, e statekit.EventType) {
	r.interp.Send(statekit.Event{Type: e})
	req.mark(string(r.interp.State().Value))
}

// Run executes one request to completion. Locks are acquired in project-
// before-port order, held continuously across phase boundaries, and always
// released in reverse order on the way out, whatever the exit path.
func (c *Coordinator) Run(ctx context.Context, req *Request, sink MonitorSink) error {
	if req.Phases == 0 {
		return fmt.Errorf("%w: request has no phases", ErrInvalidConfig)
	}
	if req.Phases.needsPort() && req.Port == "" {
		return fmt.Errorf("%w: deploy/monitor requires a port", ErrInvalidReference)
	}
	if req.Phases.Has(PhaseDeploy) && !req.Phases.Has(PhaseBuild) && req.Artifact == nil {
		return ErrNoArtifact
	}

	interp, err := newRequestMachine()
	if err != nil {
		return err
	}
	interp.Start()

	r := &run{req: req, interp: interp}
	req.setStatus(StatusRunning)
	r.send(req, eventStart)

	logger := c.cfg.Logger.With("request", req.ID, "project", req.Project, "phases", req.Phases.String())
	logger.Debug("request started")

	err = c.runPhases(ctx, r, sink)
	return c.release(r, err)
}

// runPhases walks the request through its phases up to (but not including)
// Releasing. The returned error, if any, is the failure to surface after
// release.
func (c *Coordinator) runPhases(ctx context.Context, r *run, sink MonitorSink) error {
	req := r.req
	logger := c.cfg.Logger.With("request", req.ID)

	// The coordinator knows which keys are projects and which are ports;
	// tell the table so its records carry the right type for the sweep.
	if c.table != nil {
		c.table.noteKind(string(req.Project), KeyTypeProject)
		if req.Phases.needsPort() {
			c.table.noteKind(string(req.Port), KeyTypePort)
		}
	}

	// Project lock first, always.
	if err := c.registry.Acquire(ctx, string(req.Project), req.ID, c.cfg.LockTimeout); err != nil {
		r.noteFailure(ctx, err)
		return err
	}
	r.projectHeld = true
	r.send(req, eventProjectLocked)
	logger.Debug("project lock acquired", "key", req.Project)

	// Build phase. Requests without a build phase pass straight through;
	// deploy-only requests arrive here with a reused artifact.
	if req.Phases.Has(PhaseBuild) {
		artifact, err := c.builder.Build(ctx, req.Project)
		if err != nil {
			r.noteFailure(ctx, err)
			return err
		}
		req.Artifact = artifact
		logger.Info("build complete", "artifact", artifact.Path, "size", artifact.Size)
	}

	if !req.Phases.needsPort() {
		r.send(req, eventNoPortNeeded)
		return nil
	}
	r.send(req, eventBuilt)

	// Port lock second. The wait is bounded while the project lock is still
	// held, so a busy port cannot starve unrelated work on this project
	// indefinitely: on expiry everything is released and the request fails
	// with PortBusy.
	waitStart := time.Now()
	if err := c.registry.Acquire(ctx, string(req.Port), req.ID, c.cfg.PortWaitTimeout); err != nil {
		r.noteFailure(ctx, c.asPortBusy(req.Port, err, waitStart))
		return r.failure
	}
	r.portHeld = true

	// The lock is ours, so any non-Free occupancy is stale state that the
	// sweep has not caught yet. Surface it instead of deploying blind.
	if st := c.tracker.State(req.Port); st.Occupancy != Free {
		err := &PortBusyError{Port: req.Port, Holder: st.Owner, Occupancy: st.Occupancy}
		r.noteFailure(ctx, err)
		return err
	}

	if req.Phases.Has(PhaseDeploy) {
		r.send(req, eventPortLocked)
		if err := c.tracker.Transition(req.Port, req.ID, Deploying); err != nil {
			r.noteFailure(ctx, err)
			return err
		}
		result, err := c.deployer.Deploy(ctx, req.Port, req.Artifact)
		if err != nil {
			r.noteFailure(ctx, err)
			return err
		}
		logger.Info("deploy complete", "port", req.Port, "bytes", result.BytesWritten, "duration", result.Duration.Round(time.Millisecond))

		if !req.Phases.Has(PhaseMonitor) {
			r.send(req, eventDeployDone)
			return nil
		}
		if err := c.tracker.Transition(req.Port, req.ID, Monitoring); err != nil {
			r.noteFailure(ctx, err)
			return err
		}
		r.send(req, eventDeployed)
	} else {
		// Monitor-only request
		if err := c.tracker.Transition(req.Port, req.ID, Monitoring); err != nil {
			r.noteFailure(ctx, err)
			return err
		}
		r.send(req, eventMonitorOnly)
	}

	if err := c.runMonitor(ctx, req, sink); err != nil {
		r.noteFailure(ctx, err)
		return err
	}
	r.send(req, eventMonitorEnded)
	return nil
}

// runMonitor streams lines from the port into the sink until the session
// ends, the monitor timeout elapses, or ctx is cancelled. A timeout or a
// clean close is a normal session end, not a failure.
func (c *Coordinator) runMonitor(ctx context.Context, req *Request, sink MonitorSink) error {
	mctx := ctx
	if c.cfg.MonitorTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, c.cfg.MonitorTimeout)
		defer cancel()
	}

	session, err := c.monitor.OpenMonitor(mctx, req.Port)
	if err != nil {
		return err
	}

	type lineResult struct {
		text string
		err  error
	}
	lines := make(chan lineResult)
	go func() {
		for {
			text, err := session.ReadLine()
			select {
			case lines <- lineResult{text, err}:
				if err != nil {
					return
				}
			case <-mctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-mctx.Done():
			session.Close()
			if ctx.Err() != nil {
				// Parent cancellation, not the monitor timeout
				return ctx.Err()
			}
			return nil
		case res := <-lines:
			if res.err != nil {
				session.Close()
				if errors.Is(res.err, ErrMonitorClosed) {
					return nil
				}
				return res.err
			}
			if sink != nil {
				sink.Line(time.Now(), res.text)
			}
		}
	}
}

// release is the single exit path: port state back to Free, port lock
// released, then project lock, in that order, whatever happened before.
func (c *Coordinator) release(r *run, phaseErr error) error {
	req := r.req
	logger := c.cfg.Logger.With("request", req.ID)

	if r.portHeld {
		if st := c.tracker.State(req.Port); st.Occupancy != Free && st.Owner == req.ID {
			if err := c.tracker.Transition(req.Port, req.ID, Free); err != nil {
				logger.Error("port state release failed", "port", req.Port, "err", err)
			}
		}
		if err := c.registry.Release(string(req.Port), req.ID); err != nil {
			logger.Error("port lock release failed", "port", req.Port, "err", err)
		}
	}
	if r.projectHeld {
		if err := c.registry.Release(string(req.Project), req.ID); err != nil {
			logger.Error("project lock release failed", "project", req.Project, "err", err)
		}
	}

	switch {
	case r.cancelled:
		r.send(req, eventReleasedCanc)
		req.setStatus(StatusCancelled)
		logger.Info("request cancelled")
	case phaseErr != nil:
		r.send(req, eventReleasedFail)
		req.setStatus(StatusFailed)
		logger.Error("request failed", "err", phaseErr)
	default:
		r.send(req, eventReleasedOK)
		req.setStatus(StatusSucceeded)
		logger.Info("request succeeded", "elapsed", req.Elapsed().Round(time.Millisecond))
	}
	return phaseErr
}

// noteFailure records the failure and drives the machine into Releasing,
// distinguishing cancellation from genuine failure.
func (r *run) noteFailure(ctx context.Context, err error) {
	r.failure = err
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		r.cancelled = true
		r.send(r.req, eventCancel)
		return
	}
	r.send(r.req, eventFail)
}

// asPortBusy converts a port lock acquisition failure into a PortBusyError
// carrying the occupant's identity, leaving cancellation errors untouched.
func (c *Coordinator) asPortBusy(port PortKey, err error, waitStart time.Time) error {
	var lt *LockTimeoutError
	if !errors.As(err, &lt) {
		return err
	}
	st := c.tracker.State(port)
	holder := st.Owner
	if holder == "" {
		holder = lt.Holder
	}
	return &PortBusyError{
		Port:      port,
		Holder:    holder,
		Occupancy: st.Occupancy,
		Waited:    time.Since(waitStart),
	}
}
