/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	fwbuild "github.com/allbin/fwbuild"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [project]",
	Short: "Build, deploy and monitor in one go",
	Long: `Build firmware, deploy it to a device and attach a monitor, as one
request.

The project lock is held from the start of the build, and the port lock from
the start of the deploy until the monitor detaches. Detaching with q or
ctrl+c releases everything.`,
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

		environment, _ := cmd.Flags().GetString("environment")
		baud, _ := cmd.Flags().GetInt("baud")
		plain, _ := cmd.Flags().GetBool("plain")

		builder, deployer, opener := pioCollaborators(environment, baud)
		c, err := newCoordinator(builder, deployer, opener)
		exitOnError(err)

		ctx, cancel := signalContext()
		defer cancel()

		req := fwbuild.NewRequest(project, port, fwbuild.PhaseBuild|fwbuild.PhaseDeploy|fwbuild.PhaseMonitor)
		if plain {
			exitOnError(c.Run(ctx, req, plainSink()))
			return
		}
		exitOnError(runMonitorTUI(ctx, cancel, c, req, baud))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("port", "p", "", "serial port to deploy to and monitor")
	runCmd.Flags().StringP("environment", "e", "", "PlatformIO environment to build")
	runCmd.Flags().IntP("baud", "b", 115200, "baud rate for the monitor")
	runCmd.Flags().Bool("plain", false, "stream raw lines to stdout instead of the interactive view")
}
