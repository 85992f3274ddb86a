package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	LogFormat   string // "text" | "json"
	ConfigPath  string
	SessionRoot string
	Workdir     string
	Session     string // session id; defaults to the current session
	MetricsOut  string

	// IDs overrides session id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs engine.IDGenerator

	// Now overrides the wall clock (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the orchestrate CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command bound to opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "obot orchestrate - schedule/process navigation with reversible history",
		Long: `Drive a coding agent through the five schedules (Knowledge, Plan,
Implement, Scale, Production) and their three processes, recording every
transition as a flow code and every workspace change as a restorable state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.LogFormat != "" && !isValidFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format on stderr (text|json)")
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default <workdir>/.obot/orchestrate.yaml)")
	pf.StringVar(&opts.SessionRoot, "session-root", "", "directory holding sessions")
	pf.StringVarP(&opts.Workdir, "workdir", "C", "", "working directory the agent edits")
	pf.StringVarP(&opts.Session, "session", "s", "", "session id (default: current session)")
	pf.StringVar(&opts.MetricsOut, "metrics-out", "", "write session metrics in Prometheus text format to this file")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewProcessCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewTerminateCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewFlowCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
