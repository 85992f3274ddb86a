package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// sessionCommand builds a command that runs fn against the selected session.
func sessionCommand(rootOpts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *engine.Session, args []string) (any, error)) *cobra.Command {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.RunE = func(c *cobra.Command, args []string) error {
		e, err := newEnv(rootOpts, c)
		if err != nil {
			return err
		}
		ctx, stop := commandContext(c)
		defer stop()
		return e.withSession(ctx, func(s *engine.Session) (any, error) {
			return fn(ctx, s, args)
		})
	}
	return cmd
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return sessionCommand(rootOpts, &cobra.Command{
		Use:   "schedule <id|name>",
		Short: "Select a schedule",
		Long: `Select the next schedule, by number (1-5, S3) or name (implement).

Example:
  orchestrate schedule knowledge
  orchestrate schedule 2`,
		Args: cobra.ExactArgs(1),
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		sid, err := parseSchedule(args[0])
		if err != nil {
			return nil, err
		}
		if err := s.SelectSchedule(ctx, sid); err != nil {
			return nil, err
		}
		return newStatusView(s), nil
	})
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	return sessionCommand(rootOpts, &cobra.Command{
		Use:   "process <id|name>",
		Short: "Start a process of the current schedule",
		Long: `Start a process of the current schedule, by number (1-3, P2) or
name (research). The agent works on it until "complete" or "cancel".`,
		Args: cobra.ExactArgs(1),
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		pid, err := parseProcess(s.State().Schedule, args[0])
		if err != nil {
			return nil, err
		}
		if err := s.SelectProcess(ctx, pid); err != nil {
			return nil, err
		}
		return newStatusView(s), nil
	})
}

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	Diff  string
	Error string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{}
	var cmd *cobra.Command
	cmd = sessionCommand(rootOpts, &cobra.Command{
		Use:   "complete",
		Short: "Report the running process as finished",
		Long: `Report the running process as finished and commit a new state.

Without --diff the change is captured from the working directory. A diff
given with --diff is taken relative to the session head; when the working
directory still holds the head, the diff is also applied to it. With
--error the process is recorded as failed (flow code suffix X).

Example:
  orchestrate complete
  orchestrate complete --diff change.patch
  git diff | orchestrate complete --diff -
  orchestrate complete --error E010`,
		Args: cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		diff, err := readDiff(cmd.InOrStdin(), opts.Diff)
		if err != nil {
			return nil, err
		}
		var failure *model.ErrorCode
		if opts.Error != "" {
			code := model.ErrorCode(strings.ToUpper(opts.Error))
			if !code.Valid() {
				return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown error code %q", opts.Error))
			}
			failure = &code
		}
		node, err := s.ProcessCompleted(ctx, diff, failure)
		if err != nil {
			return nil, err
		}
		return CompleteView{Node: newNodeView(node), FlowCode: s.FlowCode()}, nil
	})

	cmd.Flags().StringVar(&opts.Diff, "diff", "", "unified diff file to commit (- for stdin)")
	cmd.Flags().StringVar(&opts.Error, "error", "", "record the process as failed with this error code")

	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return sessionCommand(rootOpts, &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the running process",
		Long: `Abandon the running process. No state is committed and the working
directory is rolled back to the session head.`,
		Args: cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		if err := s.CancelProcess(ctx); err != nil {
			return nil, err
		}
		return newStatusView(s), nil
	})
}

// NewTerminateCommand creates the terminate command and its subcommands.
func NewTerminateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Terminate the current schedule or the prompt",
	}

	cmd.AddCommand(sessionCommand(rootOpts, &cobra.Command{
		Use:   "schedule",
		Short: "Terminate the current schedule and write its checkpoint",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		ref, err := s.TerminateSchedule(ctx)
		if err != nil {
			return nil, err
		}
		return newCheckpointView(ref), nil
	}))

	cmd.AddCommand(sessionCommand(rootOpts, &cobra.Command{
		Use:   "prompt",
		Short: "Terminate the prompt and freeze the flow code",
		Long: `Terminate the prompt. Every schedule must have been terminated at
least once, with Production last.`,
		Args: cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		if err := s.TerminatePrompt(ctx); err != nil {
			return nil, err
		}
		return newStatusView(s), nil
	}))

	return cmd
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return sessionCommand(rootOpts, &cobra.Command{
		Use:   "resume <retry|skip|abort|investigate>",
		Short: "Apply a continuation directive to a suspended session",
		Long: `Apply a continuation directive to a suspended session:

  retry        lift the suspension and repeat the last successful call
  skip         lift the suspension and move to the nearest valid step
  abort        write a final checkpoint and keep the session frozen
  investigate  write investigation.json for the agent; stay suspended`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"retry", "skip", "abort", "investigate"},
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		d, err := engine.ParseDirective(args[0])
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "parse directive", err)
		}
		if err := s.Resume(ctx, d); err != nil {
			if errors.Is(err, engine.ErrNotSuspended) {
				return nil, WrapExitError(ExitCommandError, "resume", err)
			}
			return nil, err
		}
		return newStatusView(s), nil
	})
}

// parseSchedule accepts 3, S3 or a schedule name. Out-of-range numbers are
// passed through so the navigator reports them.
func parseSchedule(arg string) (model.ScheduleID, error) {
	if n, ok := parseIndex(arg, 'S'); ok {
		return model.ScheduleID(n), nil
	}
	for _, s := range model.Schedules() {
		if strings.EqualFold(s.Name, arg) {
			return s.ID, nil
		}
	}
	return 0, NewExitError(ExitCommandError, fmt.Sprintf("unknown schedule %q", arg))
}

// parseProcess accepts 2, P2 or a process name of schedule sid.
func parseProcess(sid model.ScheduleID, arg string) (model.ProcessID, error) {
	if n, ok := parseIndex(arg, 'P'); ok {
		return model.ProcessID(n), nil
	}
	if s, ok := model.LookupSchedule(sid); ok {
		for _, p := range s.Processes {
			if strings.EqualFold(p.Name, arg) {
				return p.ID, nil
			}
		}
	}
	return 0, NewExitError(ExitCommandError, fmt.Sprintf("unknown process %q", arg))
}

func parseIndex(arg string, prefix byte) (int, bool) {
	if len(arg) > 1 && (arg[0] == prefix || arg[0] == prefix+'a'-'A') {
		arg = arg[1:]
	}
	n, err := strconv.Atoi(arg)
	return n, err == nil
}

// readDiff loads --diff. An empty path means capture from the workdir.
func readDiff(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return nil, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read diff", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
