/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fwbuild "github.com/allbin/fwbuild"
	"github.com/allbin/fwbuild/internal/monitor"
	"github.com/allbin/fwbuild/internal/toolchain"
)

var logger *log.Logger

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fwbuild",
	Short: "Build, deploy and monitor firmware without stepping on yourself",
	Long: `fwbuild coordinates concurrent firmware operations against embedded
devices connected over serial ports.

Every build takes an exclusive lock on its project and every deploy or
monitor takes an exclusive lock on its port, so parallel invocations from
multiple terminals never corrupt a build directory or interleave writes on
the same device. Operations on different projects and different ports run
fully in parallel.

Locks are persisted to disk and swept at startup, so a crashed invocation
never leaves a project or port wedged.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("state-dir", "", "directory for the persisted lock table (default: user cache dir)")
	rootCmd.PersistentFlags().Duration("lock-timeout", 30*time.Second, "how long to wait for a project lock")
	rootCmd.PersistentFlags().Duration("port-wait-timeout", 10*time.Second, "how long to wait for a busy port")
	rootCmd.PersistentFlags().Bool("no-persist", false, "keep lock state in-process only")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show debug output, including toolchain output")

	viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	viper.BindPFlag("lock-timeout", rootCmd.PersistentFlags().Lookup("lock-timeout"))
	viper.BindPFlag("port-wait-timeout", rootCmd.PersistentFlags().Lookup("port-wait-timeout"))
	viper.BindPFlag("no-persist", rootCmd.PersistentFlags().Lookup("no-persist"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	viper.SetEnvPrefix("FWBUILD")
	viper.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".fwbuild")
		viper.SetConfigType("yaml")
		viper.ReadInConfig()
	}

	logger = log.New(os.Stderr)
	if viper.GetBool("verbose") {
		logger.SetLevel(log.DebugLevel)
	}
}

// newCoordinator builds a coordinator from the persistent flags
func newCoordinator(builder fwbuild.Builder, deployer fwbuild.Deployer, opener fwbuild.MonitorOpener) (*fwbuild.Coordinator, error) {
	opts := []fwbuild.Option{fwbuild.WithLogger(logger)}

	if d := viper.GetDuration("lock-timeout"); d > 0 {
		opts = append(opts, fwbuild.WithLockTimeout(d))
	}
	if d := viper.GetDuration("port-wait-timeout"); d > 0 {
		opts = append(opts, fwbuild.WithPortWaitTimeout(d))
	}
	if dir := viper.GetString("state-dir"); dir != "" {
		opts = append(opts, fwbuild.WithStateDir(dir))
	}
	if viper.GetBool("no-persist") {
		opts = append(opts, fwbuild.WithoutPersistence())
	}

	return fwbuild.NewCoordinator(builder, deployer, opener, opts...)
}

// pioCollaborators wires the PlatformIO toolchain and serial monitor for the
// commands that run real operations.
func pioCollaborators(environment string, baud int) (fwbuild.Builder, fwbuild.Deployer, fwbuild.MonitorOpener) {
	return toolchain.NewPIOBuilder(environment, logger),
		toolchain.NewPIODeployer(environment, logger),
		monitor.NewOpener(baud)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitOnError prints a friendly conflict report when the error is lock or
// port contention, the bare error otherwise, and exits non-zero.
func exitOnError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	}
	if report, ok := fwbuild.Describe(err); ok {
		fmt.Fprintln(os.Stderr, report.String())
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// resolveProjectArg canonicalizes the project argument, defaulting to the
// current directory.
func resolveProjectArg(args []string) (fwbuild.ProjectKey, error) {
	ref := "."
	if len(args) > 0 {
		ref = args[0]
	}
	return fwbuild.ResolveProject(ref)
}
