package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/restore"
)

// RestoreOptions holds flags for the restore command.
type RestoreOptions struct {
	*RootOptions
	Into string
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "restore <state-id|latest>",
		Short: "Rebuild the tree of a committed state",
		Long: `Rebuild the working tree as it was after a committed state, into a
separate directory. State 0 is the session baseline. The fewest patches are
applied: from the nearest checkpoint, or from what the directory already
holds.

The same logic ships inside each session as a standalone restore.sh.

Example:
  orchestrate restore 4 --into /tmp/at-4
  orchestrate restore latest`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		e, err := newEnv(opts.RootOptions, c)
		if err != nil {
			return err
		}
		ctx, stop := commandContext(c)
		defer stop()
		return e.withSession(ctx, func(s *engine.Session) (any, error) {
			return runRestore(ctx, e, s, opts.Into, args[0])
		})
	}

	cmd.Flags().StringVarP(&opts.Into, "into", "o", "restored", "directory to restore into")

	return cmd
}

func runRestore(ctx context.Context, e *env, s *engine.Session, into, arg string) (any, error) {
	target := len(s.Log())
	if arg != "latest" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid state id %q", arg))
		}
		target = n
	}
	dir, err := filepath.Abs(into)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve restore directory", err)
	}

	res, err := s.Restore(ctx, target, dir)
	if restore.IsVerification(err) {
		// The tree is in place; the mismatch is reported, not fatal.
		e.logger.Warn("restored tree not verified", slog.Any("error", err))
		return newRestoreView(res, dir), nil
	}
	if errors.Is(err, restore.ErrNoSuchState) {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("restore %d", target), err)
	}
	if err != nil {
		return nil, err
	}
	return newRestoreView(res, dir), nil
}
