// Package fwbuild coordinates concurrent firmware build, deploy, and serial
// monitor operations against embedded devices attached to a single build host.
//
// Multiple client invocations may run simultaneously against the same host.
// The package guarantees that no two operations corrupt a project's build
// output or collide on a physical serial port, while unrelated projects and
// ports proceed fully in parallel.
//
// # Basic Usage
//
// Wire a coordinator from your build/deploy/monitor collaborators and run a
// request through it:
//
//	coord, err := fwbuild.NewCoordinator(builder, deployer, monitor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	project, _ := fwbuild.ResolveProject("./firmware/blink")
//	port, _ := fwbuild.ResolvePort("/dev/ttyUSB0")
//
//	req := fwbuild.NewRequest(project, port, fwbuild.PhaseBuild|fwbuild.PhaseDeploy)
//	err = coord.Run(ctx, req, nil)
//
// # Locking Model
//
// Every request takes an exclusive lock on its project, and requests that
// deploy or monitor additionally take an exclusive lock on the port. Locks
// are always acquired project-before-port and released in reverse order, so
// multi-resource requests cannot deadlock. Locks are held continuously
// across phase boundaries: nobody can interleave a build and a deploy on the
// same target. Waiters are served first-come-first-served.
//
// # Resource Identity
//
// ResolveProject and ResolvePort normalize raw references into canonical
// keys, folding symlinks, by-id aliases and case variants, so two clients
// naming the same resource differently still contend on the same lock:
//
//	key, err := fwbuild.ResolvePort("/dev/serial/by-id/usb-Espressif_...")
//	// key == "/dev/ttyACM0"
//
// # Configuration Options
//
// Use functional options for custom configuration:
//
//	coord, err := fwbuild.NewCoordinator(builder, deployer, monitor,
//	    fwbuild.WithLockTimeout(time.Minute),
//	    fwbuild.WithPortWaitTimeout(5*time.Second),
//	    fwbuild.WithStateDir("/var/lib/fwbuild"),
//	)
//
// # Crash Recovery
//
// Granted locks are recorded in a lock table file that is authoritative
// across processes: an acquire does not complete while another live
// process still holds the key's record, so simultaneous invocations from
// separate terminals contend on the same locks. At startup the coordinator
// sweeps
// the table for records whose owning process no longer exists, forces them
// unheld, and resets the matching port states. The sweep is the only
// mechanism that clears lock state without an explicit release, and it
// never runs concurrently with live requests.
//
// # Error Handling
//
// Contention surfaces as ErrLockTimeout or ErrPortBusy; translate either
// into a user-facing report with Describe:
//
//	if report, ok := fwbuild.Describe(err); ok {
//	    fmt.Println(report)
//	}
//
// ErrNotLockHolder indicates a double release and is always a bug, never a
// user error. Collaborator failures (build, deploy, connection) surface
// verbatim; locks are released on every exit path regardless.
package fwbuild
