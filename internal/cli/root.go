// Package cli implements the sha2file command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/eargollo/sha2file/internal/config"
	"github.com/eargollo/sha2file/internal/logging"
	"github.com/eargollo/sha2file/pkg/digest"
)

// Version is set by the main package at build time.
var Version = "dev"

var (
	// ErrUsage indicates a command usage failure.
	ErrUsage = errors.New("usage error")
	// ErrFailed indicates that some files failed to hash or verify. The
	// details have already been printed.
	ErrFailed = errors.New("one or more files failed")
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrUsage) {
		return 2
	}
	return 1
}

// app carries state shared by all commands.
type app struct {
	out    io.Writer
	errOut io.Writer

	debug     bool
	algorithm digest.Variant
	cfg       *config.Config
	log       *log.Logger
}

// NewRootCommand creates the sha2file command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, algorithm: config.DefaultAlgorithm}
	root := &cobra.Command{
		Use:           "sha2file",
		Short:         "Compute and verify SHA-2 digests of files",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().VarP(&a.algorithm, "algorithm", "a", "SHA-2 variant: sha224, sha256, sha384 or sha512")

	root.AddCommand(
		a.newSumCommand(),
		a.newCheckCommand(),
		a.newServeCommand(),
		a.newRunsCommand(),
	)
	return root
}

// setup loads .env and the environment, then installs the logger. Flags win
// over the environment.
func (a *app) setup(cmd *cobra.Command) error {
	logging.Setup(a.errOut, a.debug)
	a.log = logging.For("cli")

	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return usageError(err)
	}
	a.cfg = cfg
	if !cmd.Flags().Changed("algorithm") {
		a.algorithm = cfg.Algorithm()
	}
	return nil
}

func usageError(err error) error {
	return fmt.Errorf("%w: %w", ErrUsage, err)
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// Run executes the command line and returns a process exit code. SIGINT and
// SIGTERM cancel the command's context.
func Run(args []string, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		// cobra reports unknown subcommands as plain errors.
		if strings.HasPrefix(err.Error(), "unknown command") {
			err = usageError(err)
		}
		if !errors.Is(err, ErrFailed) {
			_, _ = fmt.Fprintf(errOut, "sha2file: %v\n", err)
		}
		return ExitCode(err)
	}
	return 0
}
