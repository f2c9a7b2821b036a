/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	fwbuild "github.com/allbin/fwbuild"
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build [project]",
	Short: "Build firmware for a project",
	Long: `Build firmware for a project using the PlatformIO toolchain.

The project directory defaults to the current directory. The build holds an
exclusive lock on the project, so concurrent builds of the same project are
serialized while builds of other projects proceed in parallel.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, err := resolveProjectArg(args)
		exitOnError(err)

		environment, _ := cmd.Flags().GetString("environment")
		builder, deployer, opener := pioCollaborators(environment, 0)

		c, err := newCoordinator(builder, deployer, opener)
		exitOnError(err)

		ctx, cancel := signalContext()
		defer cancel()

		req := fwbuild.NewRequest(project, "", fwbuild.PhaseBuild)
		exitOnError(c.Run(ctx, req, nil))

		fmt.Printf("Built %s (%d bytes)\n", req.Artifact.Path, req.Artifact.Size)
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("environment", "e", "", "PlatformIO environment to build")
}
