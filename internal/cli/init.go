package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/config"
	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	WriteConfig bool
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init [prompt...]",
		Short: "Start a session for the working directory",
		Long: `Start an orchestration session. The current content of the working
directory becomes the baseline checkpoint, and the new session becomes the
current one for later commands.

Example:
  orchestrate init "add a response cache"
  orchestrate init -C ./service --write-config`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, strings.Join(args, " "), cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.WriteConfig, "write-config", false, "write the effective configuration to <workdir>/.obot/orchestrate.yaml if absent")

	return cmd
}

func runInit(opts *InitOptions, prompt string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return e.out.Fail(WrapExitError(ExitCommandError, "create session root", err))
	}
	if opts.WriteConfig {
		if err := writeConfig(e.cfg); err != nil {
			return e.out.Fail(WrapExitError(ExitCommandError, "write config", err))
		}
	}

	s, err := engine.Create(ctx, e.root, e.cfg.Workdir, prompt, e.sessionOptions()...)
	if err != nil {
		return e.out.Fail(err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			e.logger.Error("error closing session", slog.Any("error", cerr))
		}
	}()
	e.writeMetrics(s)

	if err := e.setCurrent(s.ID()); err != nil {
		return e.out.Fail(WrapExitError(ExitCommandError, "record current session", err))
	}
	return e.out.Success(newSessionView(s))
}

// writeConfig stores cfg at its default location unless a file exists.
func writeConfig(cfg config.Config) error {
	path := config.Path(cfg.Workdir)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
