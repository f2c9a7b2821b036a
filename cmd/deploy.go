/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	fwbuild "github.com/allbin/fwbuild"
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy [project]",
	Short: "Build and deploy firmware to a device",
	Long: `Build firmware for a project and deploy it to a device over a serial
port.

The port lock is taken after the build completes and held through the whole
upload, so a deploy never interleaves with another operation on the same
device. With --firmware the build is skipped and the given binary is
deployed as-is.`,
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
		firmware, _ := cmd.Flags().GetString("firmware")

		builder, deployer, opener := pioCollaborators(environment, 0)
		c, err := newCoordinator(builder, deployer, opener)
		exitOnError(err)

		ctx, cancel := signalContext()
		defer cancel()

		phases := fwbuild.PhaseBuild | fwbuild.PhaseDeploy
		var artifact *fwbuild.BuildArtifact
		if firmware != "" {
			info, err := os.Stat(firmware)
			exitOnError(err)
			phases = fwbuild.PhaseDeploy
			artifact = &fwbuild.BuildArtifact{
				Path:        firmware,
				Environment: environment,
				Size:        info.Size(),
				BuiltAt:     info.ModTime(),
			}
		}

		req := fwbuild.NewRequest(project, port, phases)
		req.Artifact = artifact
		exitOnError(c.Run(ctx, req, nil))

		fmt.Printf("Deployed %s to %s in %s\n",
			req.Artifact.Path, port, req.Elapsed().Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringP("port", "p", "", "serial port to deploy to (device path or name)")
	deployCmd.Flags().StringP("environment", "e", "", "PlatformIO environment to build")
	deployCmd.Flags().String("firmware", "", "deploy this prebuilt firmware instead of building")
}
