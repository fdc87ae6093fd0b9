// Package cmd implements the beacon command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/internal/config"
	"github.com/3leaps/beacon/internal/observability"
)

var (
	cfgFile  string
	logLevel string
	verbose  bool
)

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Autonomous monitoring agent",
	Long: `beacon watches configured data sources on a heartbeat, runs refresh jobs,
and asks a reasoning service for a summary of what changed. Operators talk to
it over Discord or the local console.

Examples:
  beacon run                     # Start the agent loop
  beacon jobs list               # Show the job catalog
  beacon jobs exec default -p    # Run the default pipeline once
  beacon state show              # Inspect persisted agent state`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		observability.InitCLILogger(config.AppName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./beacon.yaml or <user config dir>/beacon/beacon.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI output")
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return 0
	}
	observability.CLILogger.Debug("command failed", zap.Error(err))
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	return ExitCode(err)
}

// loadConfig resolves configuration with the --config and --log-level flags
// applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}
	return config.LoadFile(commandContext(cmd), cfgFile, overrides...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// ExitError carries a process exit code through a command's error return.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps err to a process exit code; errors without one exit 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee.Code != 0 {
		return ee.Code
	}
	return 1
}
