package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/playtrack/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run without a valid config
// file. They still get a CLIContext, with a nil Cfg.
const skipConfigAnnotation = "skipConfig"

// dotEnvFile is loaded from the working directory before config resolution.
const dotEnvFile = ".env"

// CLIFlags mirrors the persistent flags after parsing.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what every subcommand needs: the resolved config, the
// override layers that produced it and a logger built from both.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Flags   CLIFlags
	Logger  *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run hook.
// A missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("playtrack: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "playtrack",
		Short:   "Game library tracker",
		Long:    "Tracks play sessions, keeps save folders in sync with the cloud and imports games from the cloud catalog.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSessionCmds()...)
	cmd.AddCommand(newTrackingCmd())
	cmd.AddCommand(newGamesCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newDriftCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newCredentialsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the configuration from the file, environment and
// CLI layers and builds the logger. Commands annotated with
// skipConfigAnnotation only get flags and a logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	cc := &CLIContext{
		Env:   config.ReadEnvOverrides(),
		CLI:   cliOverrides(cmd, flags),
		Flags: flags,
	}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.CfgPath = config.ConfigPath(cc.Env, cc.CLI)
		cc.Logger = buildLogger(nil, flags)

		return cc, nil
	}

	cfg, path, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.CfgPath = path
	cc.Logger = buildLogger(cfg, flags)

	cc.Logger.Debug("config resolved", slog.String("path", path))

	return cc, nil
}

// cliOverrides collects the flags that take part in config resolution.
// Only flags the user actually set override the file.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("tracking"); f != nil && f.Changed {
		on, err := cmd.Flags().GetBool("tracking")
		if err == nil {
			cli.AutoTracking = &on
		}
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cli.Listen = f.Value.String()
	}

	return cli
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		level = parseLevel(cfg.Logging.LogLevel)
		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(newLogHandler(os.Stderr, level, format, isTerminal(os.Stderr)))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogHandler picks text or JSON output. "auto" writes text to a terminal
// and JSON otherwise, so a daemon under a service manager logs structured
// lines.
func newLogHandler(w io.Writer, level slog.Level, format string, terminal bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !terminal) {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
