package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/config"
	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/store"
)

// currentFile names the file in the session root holding the id of the
// session commands act on by default.
const currentFile = "current"

// env is the resolved runtime of one command invocation.
type env struct {
	opts   *RootOptions
	cfg    config.Config
	root   string
	logger *slog.Logger
	out    *OutputFormatter
}

func newEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	out := formatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, "load config", err))
	}
	root, err := cfg.ResolvedSessionRoot()
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, "resolve session root", err))
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log).With(slog.String("component", "cli"))
	logger.Debug("configuration loaded",
		slog.String("workdir", cfg.Workdir),
		slog.String("session_root", root))

	return &env{opts: opts, cfg: cfg, root: root, logger: logger, out: out}, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	workdir := opts.Workdir
	if workdir == "" {
		workdir = "."
	}
	path, required := opts.ConfigPath, opts.ConfigPath != ""
	if !required {
		path = config.Path(workdir)
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return config.Config{}, err
	}

	if opts.Workdir != "" {
		cfg.Workdir = opts.Workdir
	}
	if opts.SessionRoot != "" {
		abs, err := filepath.Abs(opts.SessionRoot)
		if err != nil {
			return config.Config{}, err
		}
		cfg.SessionRoot = abs
	}
	if opts.MetricsOut != "" {
		cfg.MetricsOut = opts.MetricsOut
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, c config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	ho := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// commandContext returns the command context, cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (e *env) sessionOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(e.logger.With(slog.String("component", "engine"))),
		engine.WithIgnore(e.cfg.Ignore...),
		engine.WithDiffContext(e.cfg.DiffContext),
		engine.WithCompression(e.cfg.Compression),
		engine.WithWorkers(e.cfg.Workers),
	}
	if e.opts.IDs != nil {
		opts = append(opts, engine.WithIDGenerator(e.opts.IDs))
	}
	if e.opts.Now != nil {
		opts = append(opts, engine.WithNow(e.opts.Now))
	}
	return opts
}

// sessionDir resolves --session, or the current session.
func (e *env) sessionDir() (string, error) {
	id := e.opts.Session
	if id == "" {
		data, err := os.ReadFile(filepath.Join(e.root, currentFile))
		if errors.Is(err, fs.ErrNotExist) {
			return "", NewExitError(ExitCommandError, `no current session: run "orchestrate init" or pass --session`)
		}
		if err != nil {
			return "", WrapExitError(ExitCommandError, "read current session", err)
		}
		id = strings.TrimSpace(string(data))
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid session id %q", id))
	}

	dir := filepath.Join(e.root, id)
	if _, err := os.Stat(store.DBPath(dir)); err != nil {
		return "", WrapExitError(ExitCommandError, fmt.Sprintf("session %s not found under %s", id, e.root), err)
	}
	return dir, nil
}

// setCurrent points the session root at id.
func (e *env) setCurrent(id string) error {
	tmp, err := os.CreateTemp(e.root, ".current-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(e.root, currentFile))
}

func (e *env) open(ctx context.Context) (*engine.Session, error) {
	dir, err := e.sessionDir()
	if err != nil {
		return nil, err
	}
	opts := append(e.sessionOptions(), engine.WithInvestigator(newInvestigator(dir, e.logger)))
	return engine.Open(ctx, dir, opts...)
}

// withSession opens the selected session, runs fn and reports its result.
// Critical violations carry the suspension record in the error details.
func (e *env) withSession(ctx context.Context, fn func(*engine.Session) (any, error)) error {
	s, err := e.open(ctx)
	if err != nil {
		return e.out.Fail(err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			e.logger.Error("error closing session", slog.Any("error", cerr))
		}
	}()

	data, err := fn(s)
	e.writeMetrics(s)
	if err != nil {
		ce, exit := describe(err)
		if rec, ok := s.Suspension(); ok && engine.IsCritical(err) {
			ce.Details = newSuspensionView(rec)
		}
		_ = e.out.Error(ce)
		return WrapExitError(exit, ce.Code, err)
	}
	return e.out.Success(data)
}

// writeMetrics dumps the session registry to --metrics-out. The registry
// covers the current invocation only.
func (e *env) writeMetrics(s *engine.Session) {
	if e.cfg.MetricsOut == "" {
		return
	}
	if err := s.Metrics().WriteFile(e.cfg.MetricsOut); err != nil {
		e.logger.Warn("metrics not written", slog.String("path", e.cfg.MetricsOut), slog.Any("error", err))
	}
}
