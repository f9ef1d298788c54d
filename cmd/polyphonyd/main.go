// Command polyphonyd demonstrates the fiber runtime end to end: each
// subcommand drives the scheduler through one of the scenarios the
// runtime's testable properties are built around, the way
// recera-vango's cmd/vango wires one cobra command per user-facing
// workflow.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/polyphony-run/polyphony/config"
	"github.com/polyphony-run/polyphony/fiber"
)

var (
	verbose    bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "polyphonyd",
		Short: "polyphonyd runs demonstration scenarios against the fiber scheduler",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "emit structured scheduler logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a scheduler defaults file (YAML), see config.Load")

	rootCmd.AddCommand(
		newSpinSuspendCommand(),
		newInterruptCommand(),
		newMoveOnAfterCommand(),
		newCancelAfterCommand(),
		newSnoozeRoundRobinCommand(),
		newPipeCommand(),
		newSuperviseCommand(),
		newSuperviseRestartCommand(),
		newAfterCommand(),
		newThrottledLoopCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// schedulerOptions loads the scheduler defaults named by --config (the
// zero path means "built-in defaults plus POLYPHONY_* env vars only")
// and turns them into the fiber.Option list every scenario command
// passes to fiber.Run, so a single config file governs every
// subcommand's poll timeout the way jkilzi-assisted-migration-agent's
// single Configuration governs every one of its services.
func schedulerOptions() ([]fiber.Option, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return []fiber.Option{
		fiber.WithLogger(newLogger()),
		fiber.WithPollTimeout(cfg.PollTimeout),
		fiber.WithSpinLoopRate(cfg.SpinLoopRate),
		fiber.WithMailboxBuffer(cfg.MailboxBuffer),
	}, nil
}
