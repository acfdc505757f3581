// Package cli builds the proxycache command line, grounded on the
// teacher's cmd package: a RootCommandFactory wraps a cobra.Command
// builder, and CommandFunc/exitError propagate a subcommand's exit code
// out through cobra's RunE (cmd/commandfactory.go, cmd/cobra.go).
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/larkspur-labs/proxycache"
	"github.com/larkspur-labs/proxycache/internal/plog"
)

// CommandFunc is a subcommand body. A non-zero exitCode always ends the
// process with that code; err, if non-nil, is printed first.
type CommandFunc func(cmd *cobra.Command, args []string) (exitCode int, err error)

// exitError carries a CommandFunc's exit code out through cobra's
// Execute(), which only ever returns an error.
type exitError struct {
	ExitCode int
	Err      error
}

func (e *exitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exiting with status %d", e.ExitCode)
	}
	return e.Err.Error()
}

// wrapCommandFunc adapts a CommandFunc into cobra's RunE signature.
func wrapCommandFunc(f CommandFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		status, err := f(cmd, args)
		if status != 0 {
			if err == nil {
				cmd.SilenceErrors = true
			}
			return &exitError{ExitCode: status, Err: err}
		}
		return err
	}
}

// rootCommandFactory mirrors the teacher's RootCommandFactory: a
// constructor plus a chain of option functions applied at Build time.
type rootCommandFactory struct {
	constructor func() *cobra.Command
	options     []func(*cobra.Command)
}

func newRootCommandFactory(fn func() *cobra.Command) *rootCommandFactory {
	return &rootCommandFactory{constructor: fn}
}

func (f *rootCommandFactory) use(fn func(*cobra.Command)) {
	f.options = append(f.options, fn)
}

func (f *rootCommandFactory) build() *cobra.Command {
	root := f.constructor()
	for _, opt := range f.options {
		opt(root)
	}
	return root
}

var factory = newRootCommandFactory(func() *cobra.Command {
	return &cobra.Command{
		Use:   "proxycache",
		Short: "A caching, optionally TLS-intercepting forward HTTP proxy",
		Long: `proxycache is a forward HTTP proxy that caches GET responses by
host+path, colors the links in cached HTML green or red by whether
their target is cached, and can optionally intercept CONNECT tunnels with a locally
trusted CA to cache HTTPS traffic too.

Use 'proxycache run' to start it in the foreground.`,
		SilenceUsage: true,
	}
})

func init() {
	factory.use(func(root *cobra.Command) {
		root.AddCommand(newRunCommand())
	})
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		port       int
		intercept  bool
		caCert     string
		caKey      string
		filterFile string
		adminAddr  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy in the foreground",
		RunE: wrapCommandFunc(func(cmd *cobra.Command, args []string) (int, error) {
			cfg, err := proxycache.LoadConfig(configPath)
			if err != nil {
				return 1, err
			}

			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("intercept") {
				cfg.Intercept = intercept
			}
			if cmd.Flags().Changed("ca-cert") {
				cfg.CACertPath = caCert
			}
			if cmd.Flags().Changed("ca-key") {
				cfg.CAKeyPath = caKey
			}
			if cmd.Flags().Changed("filter-file") {
				cfg.FilterFile = filterFile
			}
			if cmd.Flags().Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}

			if err := cfg.Validate(); err != nil {
				return 1, err
			}

			logger, err := plog.New(debug)
			if err != nil {
				return 1, fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			p, err := proxycache.New(cfg, logger)
			if err != nil {
				return 1, err
			}

			if err := p.Run(context.Background()); err != nil {
				logger.Error("proxycache exited with error", zap.Error(err))
				return 1, err
			}
			return 0, nil
		}),
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config file)")
	cmd.Flags().BoolVar(&intercept, "intercept", false, "intercept CONNECT tunnels with a local CA")
	cmd.Flags().StringVar(&caCert, "ca-cert", "", "path to the interception CA certificate")
	cmd.Flags().StringVar(&caKey, "ca-key", "", "path to the interception CA private key")
	cmd.Flags().StringVar(&filterFile, "filter-file", "", "path to a host filter list")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "address for the admin HTTP surface (empty disables it)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	return cmd
}

// Main is the entry point for cmd/proxycache. It always terminates the
// process: a CommandFunc's exit code propagates via os.Exit, matching
// the teacher's own Main() in cmd/main.go.
func Main() {
	bootLogger, _ := plog.New(false)

	// Size GOMAXPROCS to the container's cgroup CPU quota, if any.
	undo, err := maxprocs.Set(maxprocs.Logger(bootLogger.Sugar().Infof))
	defer undo()
	if err != nil {
		bootLogger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	// Size the Go heap limit to the container's cgroup memory quota (or
	// system memory, if uncontained).
	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(bootLogger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)

	if err := factory.build().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode)
		}
		os.Exit(1)
	}
}
