/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	fwbuild "github.com/allbin/fwbuild"
	"github.com/allbin/fwbuild/internal/tui/models"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [project]",
	Short: "Attach a serial monitor to a device",
	Long: `Attach a line-oriented serial monitor to a device.

The monitor holds the port lock for the whole session, so nobody can deploy
over a device you are watching. Press q or ctrl+c to detach.

By default output is shown in an interactive view; --plain streams raw lines
to stdout instead, which suits logging and scripting.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, err := resolveProjectArg(args)
		exitOnError(err)

		portRef, _ := cmd.Flags().GetString("port")
		if portRef == "" {
			fmt.Fprintln(os.Stderr, "Error: --port is required")
			os.Exit(1)
		}
		port, err := fwbuild.ResolvePort(portRef)
		exitOnError(err)

		baud, _ := cmd.Flags().GetInt("baud")
		plain, _ := cmd.Flags().GetBool("plain")

		builder, deployer, opener := pioCollaborators("", baud)
		c, err := newCoordinator(builder, deployer, opener)
		exitOnError(err)

		ctx, cancel := signalContext()
		defer cancel()

		req := fwbuild.NewRequest(project, port, fwbuild.PhaseMonitor)
		if plain {
			exitOnError(c.Run(ctx, req, plainSink()))
			return
		}
		exitOnError(runMonitorTUI(ctx, cancel, c, req, baud))
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringP("port", "p", "", "serial port to monitor (device path or name)")
	monitorCmd.Flags().IntP("baud", "b", 115200, "baud rate")
	monitorCmd.Flags().Bool("plain", false, "stream raw lines to stdout instead of the interactive view")
}

// plainSink writes timestamped lines to stdout
func plainSink() fwbuild.MonitorSink {
	return fwbuild.MonitorSinkFunc(func(ts time.Time, text string) {
		fmt.Printf("%s %s\n", ts.Format("15:04:05.000"), text)
	})
}

// runMonitorTUI runs the request with the interactive monitor view attached.
// Quitting the view cancels the request, which releases its locks before the
// program returns.
func runMonitorTUI(ctx context.Context, cancel context.CancelFunc, c *fwbuild.Coordinator, req *fwbuild.Request, baud int) error {
	model := models.NewMonitorModel(string(req.Port), baud, cancel)
	program := tea.NewProgram(model, tea.WithAltScreen())

	sink := fwbuild.MonitorSinkFunc(func(ts time.Time, text string) {
		program.Send(models.LineMsg{Timestamp: ts, Text: text})
	})

	done := make(chan error, 1)
	go func() {
		err := c.Run(ctx, req, sink)
		done <- err
		program.Send(models.DoneMsg{Err: err})
	}()

	// Feed phase changes to the status bar
	go func() {
		last := ""
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				phase := phaseOf(c, req)
				if phase != last {
					last = phase
					program.Send(models.PhaseMsg{Phase: phase})
				}
			}
		}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return err
	}
	cancel()
	if err := <-done; err != nil && req.Status() != fwbuild.StatusCancelled {
		return err
	}
	return nil
}

// phaseOf reports the user-visible phase of a running request
func phaseOf(c *fwbuild.Coordinator, req *fwbuild.Request) string {
	if req.Port != "" {
		if st := c.PortState(req.Port); st.Owner == req.ID {
			return st.Occupancy.String()
		}
	}
	switch req.Status() {
	case fwbuild.StatusRunning:
		if req.Phases.Has(fwbuild.PhaseBuild) {
			if _, built := req.Mark(string(fwbuild.StateAcquiringPortLock)); !built {
				return "building"
			}
		}
		return "waiting"
	case fwbuild.StatusFailed:
		return "failed"
	default:
		return req.Status().String()
	}
}
