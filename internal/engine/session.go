package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cadenroberts/OllamaBot-sub000/internal/metrics"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
	"github.com/cadenroberts/OllamaBot-sub000/internal/restore"
	"github.com/cadenroberts/OllamaBot-sub000/internal/store"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// navigatorKey is the session_state key of the navigator snapshot.
const navigatorKey = "navigator"

// Session is one orchestration run: a Navigator over a store.Store, with
// its own event bus and metrics registry. All methods are safe for
// concurrent use; navigator calls are serialized.
type Session struct {
	mu sync.Mutex

	store   *store.Store
	nav     *Navigator
	bus     *Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	base    *slog.Logger

	workdir     string
	scan        tree.ScanOptions
	diffContext int
}

// Create starts a session for workdir under root/<session-id>. The current
// workdir content becomes the baseline checkpoint.
func Create(ctx context.Context, root, workdir, prompt string, opts ...Option) (*Session, error) {
	cfg := newSettings(opts)

	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, model.NewSystemError(model.ErrWorkspaceUnavailable, "resolve "+workdir, err)
	}
	scan := tree.ScanOptions{Ignore: tree.NewIgnore(cfg.ignore...), Workers: cfg.workers}
	baseline, err := scanWorkdir(ctx, abs, scan)
	if err != nil {
		return nil, err
	}

	id := cfg.ids.Generate()
	diffContext := cfg.diffContext
	meta := store.Meta{
		SessionID:   id,
		Workdir:     abs,
		CreatedAt:   cfg.now().UTC(),
		Prompt:      prompt,
		Ignore:      cfg.ignore,
		DiffContext: &diffContext,
	}
	st, err := store.Create(ctx, filepath.Join(root, id), meta, baseline,
		store.WithLogger(cfg.logger), store.WithCompression(cfg.compression))
	if err != nil {
		return nil, err
	}
	if err := restore.WriteScript(st.Dir()); err != nil {
		st.Close()
		return nil, model.NewSystemError(model.ErrPersistenceFailed, "write "+restore.ScriptName, err)
	}

	s := newSession(st, cfg, abs, scan, cfg.diffContext)
	s.metrics.CheckpointsTotal.WithLabelValues(string(model.CheckpointBase)).Inc()
	if err := s.saveNavigator(ctx); err != nil {
		st.Close()
		return nil, err
	}
	s.logger.Info("session created",
		slog.String("workdir", abs),
		slog.Int("files", len(baseline)),
		slog.String("files_hash", baseline.Hash()))
	return s, nil
}

// Open reopens the session stored in dir. The navigator comes back from its
// snapshot when that snapshot matches the log, and is rebuilt from the log
// otherwise. A snapshot whose flow code contradicts the log suspends the
// session with E009.
func Open(ctx context.Context, dir string, opts ...Option) (*Session, error) {
	cfg := newSettings(opts)
	st, err := store.Open(ctx, dir, store.WithLogger(cfg.logger), store.WithCompression(cfg.compression))
	if err != nil {
		return nil, err
	}

	meta := st.Meta()
	ignore := append(append([]string(nil), meta.Ignore...), cfg.ignore...)
	diffContext := cfg.diffContext
	if meta.DiffContext != nil {
		diffContext = *meta.DiffContext
	}
	scan := tree.ScanOptions{Ignore: tree.NewIgnore(ignore...), Workers: cfg.workers}

	s := newSession(st, cfg, meta.Workdir, scan, diffContext)
	if err := s.loadNavigator(ctx); err != nil {
		st.Close()
		return nil, err
	}

	script := filepath.Join(st.Dir(), restore.ScriptName)
	if _, err := os.Stat(script); errors.Is(err, fs.ErrNotExist) {
		if err := restore.WriteScript(st.Dir()); err != nil {
			s.logger.Warn("restore script not regenerated", slog.Any("error", err))
		}
	}
	return s, nil
}

func newSession(st *store.Store, cfg settings, workdir string, scan tree.ScanOptions, diffContext int) *Session {
	logger := cfg.logger.With(slog.String("session", st.Meta().SessionID))
	bus := cfg.bus
	if bus == nil {
		bus = NewBus()
	}
	m := cfg.metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Session{
		store:       st,
		bus:         bus,
		metrics:     m,
		logger:      logger.With(slog.String("component", "session")),
		base:        logger,
		workdir:     workdir,
		scan:        scan,
		diffContext: diffContext,
	}
	s.nav = NewNavigator(st,
		WithLogger(logger),
		WithEventBus(bus),
		WithInvestigator(cfg.investigator))
	bus.Tap(s.observe)
	m.HeadNode.Set(float64(st.HeadID()))
	return s
}

// observe feeds bus events into the metrics registry.
func (s *Session) observe(e Event) {
	switch e.Kind {
	case EventTransitionCommitted:
		s.metrics.ObserveTransition(int(e.Transition.Schedule), string(e.Transition.Outcome), e.Node)
	case EventViolationRaised:
		s.metrics.ViolationsTotal.WithLabelValues(string(e.Suspension.Code)).Inc()
	case EventCheckpointWritten:
		s.metrics.CheckpointsTotal.WithLabelValues(string(e.Checkpoint.Kind)).Inc()
	}
}

func (s *Session) loadNavigator(ctx context.Context) error {
	log := s.store.Transitions()
	value, index, ok, err := s.store.LoadState(ctx, navigatorKey)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("navigator snapshot missing, rebuilding from log")
		s.nav.Rebuild(log, s.store.Checkpoints())
		return s.saveNavigator(ctx)
	}

	var snap Snapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		s.logger.Warn("navigator snapshot unreadable, rebuilding from log", slog.Any("error", err))
		s.nav.Rebuild(log, s.store.Checkpoints())
		return s.saveNavigator(ctx)
	}
	if index != s.store.HeadID() {
		// The last append committed but its snapshot did not.
		s.logger.Warn("navigator snapshot is stale, rebuilding from log",
			slog.Int("snapshot_index", index), slog.Int("head", s.store.HeadID()))
		s.nav.Rebuild(log, s.store.Checkpoints())
		return s.saveNavigator(ctx)
	}

	if err := s.nav.Load(snap, log); err != nil {
		var ne *NavigationError
		if !errors.As(err, &ne) {
			return err
		}
		s.nav.Rebuild(log, s.store.Checkpoints())
		s.nav.ctl.raise(componentFlowCodec, ne.Code, s.nav.State(), ne.Call, ne.Message)
		return s.saveNavigator(ctx)
	}
	return nil
}

func (s *Session) saveNavigator(ctx context.Context) error {
	data, err := json.Marshal(s.nav.Snapshot())
	if err != nil {
		return model.NewSystemError(model.ErrPersistenceFailed, "encode navigator snapshot", err)
	}
	return s.store.SaveState(ctx, navigatorKey, data)
}

// apply runs one navigator call and persists the resulting snapshot.
// System errors come back before anything is saved. When the snapshot
// cannot be saved and no node was appended, the call is undone.
func (s *Session) apply(ctx context.Context, op func() error) error {
	before := s.nav.Snapshot()
	head := s.store.HeadID()

	opErr := op()
	if opErr != nil && !IsCritical(opErr) {
		if code, ok := model.SystemCode(opErr); ok {
			s.metrics.SystemErrorsTotal.WithLabelValues(string(code)).Inc()
		}
		return opErr
	}

	if err := s.saveNavigator(ctx); err != nil {
		if s.store.HeadID() == head {
			if lerr := s.nav.Load(before, s.store.Transitions()); lerr != nil {
				s.logger.Error("navigator not rolled back", slog.Any("error", lerr))
			}
			return err
		}
		s.logger.Warn("navigator snapshot not saved; it will be rebuilt from the log on reopen", slog.Any("error", err))
	}
	return opErr
}

// SelectSchedule enters schedule id.
func (s *Session) SelectSchedule(ctx context.Context, id model.ScheduleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, func() error { return s.nav.SelectSchedule(id) })
}

// SelectProcess starts process id of the current schedule.
func (s *Session) SelectProcess(ctx context.Context, id model.ProcessID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, func() error { return s.nav.SelectProcess(id) })
}

// ProcessCompleted is the agent's completion signal. A nil diff means the
// agent edited the working directory in place: the diff is captured from
// the workdir against the session head. An explicit diff is also written to
// the workdir when the workdir still holds the previous head. A non-nil
// failure records the process as ended in error.
func (s *Session) ProcessCompleted(ctx context.Context, diff []byte, failure *model.ErrorCode) (model.StateNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending string
	switch {
	case diff == nil && s.running():
		captured, err := s.capture(ctx)
		if err != nil {
			return model.StateNode{}, s.systemErr(err)
		}
		diff = captured
	case s.running():
		current, err := scanWorkdir(ctx, s.workdir, s.scan)
		if err != nil {
			return model.StateNode{}, s.systemErr(err)
		}
		if head := s.store.Head().Hash(); current.Hash() == head {
			pending = head
		}
	}

	start := time.Now()
	var node model.StateNode
	err := s.apply(ctx, func() error {
		var err error
		node, err = s.nav.TerminateProcess(ctx, diff, failure)
		return err
	})
	if err != nil {
		return node, err
	}
	s.metrics.AppendSeconds.Observe(time.Since(start).Seconds())

	if pending != "" && node.FilesHash != pending {
		if err := tree.Sync(ctx, s.workdir, s.store.Head(), s.scan); err != nil {
			s.logger.Warn("reported diff not written to workdir",
				slog.Int("node", node.ID), slog.Any("error", err))
		}
	}
	return node, nil
}

// CancelProcess abandons the running process and rolls the working
// directory back to the session head.
func (s *Session) CancelProcess(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		if err := tree.Sync(ctx, s.workdir, s.store.Head(), s.scan); err != nil {
			return s.systemErr(workspaceErr(ctx, "roll back "+s.workdir, err))
		}
	}
	return s.apply(ctx, s.nav.CancelProcess)
}

// TerminateSchedule ends the current schedule and writes its checkpoint.
func (s *Session) TerminateSchedule(ctx context.Context) (model.CheckpointRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ref model.CheckpointRef
	err := s.apply(ctx, func() error {
		var err error
		ref, err = s.nav.TerminateSchedule(ctx)
		return err
	})
	return ref, err
}

// TerminatePrompt ends the session and freezes its flow code.
func (s *Session) TerminatePrompt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, func() error { return s.nav.TerminatePrompt(ctx) })
}

// Resume applies a continuation directive to the suspended navigator.
func (s *Session) Resume(ctx context.Context, d Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.apply(ctx, func() error { return s.nav.Resume(ctx, d) })
	if err == nil || IsCritical(err) {
		s.metrics.DirectivesTotal.WithLabelValues(string(d)).Inc()
	}
	return err
}

// Restore writes the tree of node target into dir. It works on a snapshot
// of the log, so it does not block navigator calls.
func (s *Session) Restore(ctx context.Context, target int, dir string) (*restore.Result, error) {
	s.mu.Lock()
	snap := s.store.Snapshot()
	s.mu.Unlock()

	e := restore.New(snap, dir, restore.WithLogger(s.base), restore.WithScanOptions(s.scan))
	res, err := e.Restore(ctx, target)
	if res != nil {
		s.metrics.ObserveRestore(string(res.Strategy), res.Patches(), res.Verified, res.Duration)
	}
	return res, err
}

func (s *Session) running() bool {
	_, suspended := s.nav.Suspension()
	return !suspended && s.nav.State().Running != 0
}

// capture diffs the working directory against the head tree.
func (s *Session) capture(ctx context.Context) ([]byte, error) {
	current, err := scanWorkdir(ctx, s.workdir, s.scan)
	if err != nil {
		return nil, err
	}
	p, err := patch.Capture(ctx, s.store.Head(), current, patch.CaptureOptions{Context: s.diffContext, Workers: s.scan.Workers})
	if err != nil {
		return nil, workspaceErr(ctx, "capture diff", err)
	}
	data, err := p.Bytes()
	if err != nil {
		return nil, model.NewSystemError(model.ErrPatchRejected, "render captured diff", err)
	}
	s.logger.Debug("workspace captured", slog.Int("files", len(p.Files)), slog.Int("bytes", len(data)))
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Session) systemErr(err error) error {
	if code, ok := model.SystemCode(err); ok {
		s.metrics.SystemErrorsTotal.WithLabelValues(string(code)).Inc()
	}
	return err
}

func scanWorkdir(ctx context.Context, dir string, opts tree.ScanOptions) (tree.Tree, error) {
	t, err := tree.Scan(ctx, dir, opts)
	if err != nil {
		return nil, workspaceErr(ctx, "scan "+dir, err)
	}
	return t, nil
}

func workspaceErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return model.NewSystemError(model.ErrCancelled, op, ctx.Err())
	}
	return model.NewSystemError(model.ErrWorkspaceUnavailable, op, err)
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.store.Meta().SessionID
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.store.Dir()
}

// Workdir returns the tracked working directory.
func (s *Session) Workdir() string {
	return s.workdir
}

// Meta returns the session metadata.
func (s *Session) Meta() store.Meta {
	return s.store.Meta()
}

// State returns the navigator's last valid position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.State()
}

// Suspension returns the active suspension record, if any.
func (s *Session) Suspension() (SuspensionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.Suspension()
}

// Terminated lists schedules terminated at least once.
func (s *Session) Terminated() []model.ScheduleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.Terminated()
}

// FlowCode returns the running (or frozen) flow code.
func (s *Session) FlowCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.FlowCode()
}

// Log returns the committed state nodes.
func (s *Session) Log() []model.StateNode {
	return s.store.Log()
}

// Checkpoints returns the checkpoint index.
func (s *Session) Checkpoints() []model.CheckpointRef {
	return s.store.Checkpoints()
}

// Events returns the session's event bus.
func (s *Session) Events() *Bus {
	return s.bus
}

// Metrics returns the session's metrics registry.
func (s *Session) Metrics() *metrics.Metrics {
	return s.metrics
}

// Verify replays the whole log against the checkpoints.
func (s *Session) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.NewSystemError(model.ErrCancelled, "verify", err)
	}
	if err := s.store.Verify(); err != nil {
		return fmt.Errorf("verify session %s: %w", s.ID(), err)
	}
	return nil
}

// Close releases the store and closes the event bus.
func (s *Session) Close() error {
	s.bus.Close()
	return s.store.Close()
}
