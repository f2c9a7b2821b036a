// Package toolchain adapts the PlatformIO CLI to the coordinator's Builder
// and Deployer interfaces. Toolchain output is streamed into the structured
// log as it arrives; a watchdog kills invocations that go silent, which is
// how a wedged upload to an unresponsive board typically presents.
package toolchain

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	fwbuild "github.com/allbin/fwbuild"
)

// DefaultIdleTimeout is how long a pio invocation may produce no output
// before the watchdog kills it.
const DefaultIdleTimeout = 120 * time.Second

const artifactName = "firmware.bin"

// Runner executes pio subprocesses with output streaming and an idle
// watchdog. The zero value is not usable; embed it via PIOBuilder or
// PIODeployer.
type Runner struct {
	Logger      *log.Logger
	IdleTimeout time.Duration
}

// run executes pio with args in dir, streaming every output line through the
// logger. It fails when the process exits non-zero, the context is cancelled,
// or the watchdog fires.
func (r *Runner) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "pio", args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pio: %w", err)
	}

	activity := make(chan struct{}, 1)
	note := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	var g errgroup.Group
	g.Go(func() error { return r.scan(stdout, note) })
	g.Go(func() error { return r.scan(stderr, note) })

	var killed atomic.Bool
	watchdogDone := make(chan struct{})
	if r.IdleTimeout > 0 {
		go func() {
			timer := time.NewTimer(r.IdleTimeout)
			defer timer.Stop()
			for {
				select {
				case <-watchdogDone:
					return
				case <-activity:
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(r.IdleTimeout)
				case <-timer.C:
					r.Logger.Warn("toolchain produced no output, killing", "idle", r.IdleTimeout)
					killed.Store(true)
					cmd.Process.Kill()
					return
				}
			}
		}()
	}

	scanErr := g.Wait()
	waitErr := cmd.Wait()
	close(watchdogDone)

	if killed.Load() {
		return fmt.Errorf("pio produced no output for %s and was killed", r.IdleTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("pio %v: %w", args, waitErr)
	}
	return scanErr
}

func (r *Runner) scan(pipe io.Reader, note func()) error {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		note()
		r.Logger.Debug(scanner.Text())
	}
	return scanner.Err()
}

// PIOBuilder compiles projects with `pio run`. It implements
// fwbuild.Builder.
type PIOBuilder struct {
	Runner

	// Environment selects the PlatformIO environment; empty builds the
	// project default.
	Environment string
}

// NewPIOBuilder returns a builder logging through logger
func NewPIOBuilder(environment string, logger *log.Logger) *PIOBuilder {
	return &PIOBuilder{
		Runner:      Runner{Logger: logger, IdleTimeout: DefaultIdleTimeout},
		Environment: environment,
	}
}

func (b *PIOBuilder) Build(ctx context.Context, project fwbuild.ProjectKey) (*fwbuild.BuildArtifact, error) {
	args := []string{"run"}
	if b.Environment != "" {
		args = append(args, "-e", b.Environment)
	}

	b.Logger.Info("building", "project", project, "environment", b.Environment)
	if err := b.run(ctx, string(project), args...); err != nil {
		return nil, fmt.Errorf("%w: %v", fwbuild.ErrBuildFailed, err)
	}

	return b.findArtifact(project)
}

// findArtifact locates the compiled firmware under .pio/build. Without an
// explicit environment the newest firmware.bin across environments wins.
func (b *PIOBuilder) findArtifact(project fwbuild.ProjectKey) (*fwbuild.BuildArtifact, error) {
	buildDir := filepath.Join(string(project), ".pio", "build")

	if b.Environment != "" {
		path := filepath.Join(buildDir, b.Environment, artifactName)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", fwbuild.ErrNoArtifact, path)
		}
		return &fwbuild.BuildArtifact{
			Path:        path,
			Environment: b.Environment,
			Size:        info.Size(),
			BuiltAt:     info.ModTime(),
		}, nil
	}

	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fwbuild.ErrNoArtifact, err)
	}
	var newest *fwbuild.BuildArtifact
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(buildDir, e.Name(), artifactName)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if newest == nil || info.ModTime().After(newest.BuiltAt) {
			newest = &fwbuild.BuildArtifact{
				Path:        path,
				Environment: e.Name(),
				Size:        info.Size(),
				BuiltAt:     info.ModTime(),
			}
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: no %s under %s", fwbuild.ErrNoArtifact, artifactName, buildDir)
	}
	return newest, nil
}

// PIODeployer uploads firmware with `pio run -t upload`. On an upload
// failure it resets the USB device once and retries, which recovers boards
// stuck in a bad bootloader state. It implements fwbuild.Deployer.
type PIODeployer struct {
	Runner

	Environment string

	// DisableUSBReset turns off the reset-and-retry recovery path
	DisableUSBReset bool
}

// NewPIODeployer returns a deployer logging through logger
func NewPIODeployer(environment string, logger *log.Logger) *PIODeployer {
	return &PIODeployer{
		Runner:      Runner{Logger: logger, IdleTimeout: DefaultIdleTimeout},
		Environment: environment,
	}
}

func (d *PIODeployer) Deploy(ctx context.Context, port fwbuild.PortKey, artifact *fwbuild.BuildArtifact) (*fwbuild.DeployResult, error) {
	if artifact == nil {
		return nil, fwbuild.ErrNoArtifact
	}

	projectDir := projectDirOf(artifact)
	args := []string{"run", "-t", "upload", "--upload-port", string(port)}
	env := d.Environment
	if env == "" {
		env = artifact.Environment
	}
	if env != "" {
		args = append(args, "-e", env)
	}

	d.Logger.Info("deploying", "port", port, "artifact", artifact.Path)
	start := time.Now()

	err := d.run(ctx, projectDir, args...)
	if err != nil && ctx.Err() == nil && !d.DisableUSBReset {
		d.Logger.Warn("upload failed, resetting USB device and retrying", "port", port, "err", err)
		if rerr := ResetUSBDevice(string(port)); rerr != nil {
			d.Logger.Warn("usb reset unavailable", "port", port, "err", rerr)
		} else {
			err = d.run(ctx, projectDir, args...)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fwbuild.ErrDeployFailed, err)
	}

	return &fwbuild.DeployResult{
		Port:         port,
		BytesWritten: artifact.Size,
		Duration:     time.Since(start),
	}, nil
}

// projectDirOf walks up from the artifact path to the project root, which
// contains the .pio directory the artifact lives under.
func projectDirOf(artifact *fwbuild.BuildArtifact) string {
	dir := filepath.Dir(artifact.Path)
	for dir != "/" && dir != "." {
		if filepath.Base(dir) == ".pio" {
			return filepath.Dir(dir)
		}
		dir = filepath.Dir(dir)
	}
	return filepath.Dir(artifact.Path)
}
