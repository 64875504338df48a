package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/motion-uploader/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagWatchDir   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg and resolvedCfgPath are set by PersistentPreRunE. The path is
// where the refresh token is written back.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// skipConfigPrefix marks commands that run without a config file. Shell
// completion scripts must be generated on machines that are not set up yet.
const skipConfigPrefix = "motion-uploader completion"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "motion-uploader",
		Short: "Upload motion camera stills to OneDrive",
		Long: "Watches a motion camera's output directory, uploads settled stills to " +
			"OneDrive under a per-camera folder and deletes them locally once stored.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if strings.HasPrefix(cmd.CommandPath(), skipConfigPrefix) {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagWatchDir, "watch-dir", "", "directory scanned for camera stills")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newServiceCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass --watch-dir to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("watch-dir") {
		cli.WatchDir = &flagWatchDir
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// bootstrapLogger is used while the config itself is being loaded, so only
// the CLI flags decide its level.
func bootstrapLogger() *slog.Logger {
	return newLogger(os.Stderr, nil, flagVerbose, flagQuiet, false)
}

// buildLogger creates the logger for a command from the resolved config and
// CLI flags.
func buildLogger() *slog.Logger {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)

	return newLogger(os.Stderr, resolvedCfg, flagVerbose, flagQuiet, tty)
}

// newLogger picks the level and handler. Config-file log level provides the
// baseline; --verbose and --quiet override it because CLI flags always win.
// log_format "auto" writes text to a terminal and JSON otherwise, which suits
// journald and log shippers.
func newLogger(w io.Writer, cfg *config.Config, verbose, quiet, tty bool) *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat
		if format == "auto" {
			format = "json"
			if tty {
				format = "text"
			}
		}
	}

	if verbose {
		level = slog.LevelDebug
	}

	if quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
