package restore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// Source is the read-only session data restoration works from.
// *store.Snapshot implements it.
type Source interface {
	Nodes() []model.StateNode
	Checkpoints() []model.CheckpointRef
	OpenCheckpoint(model.CheckpointRef) (tree.Tree, error)
}

// Strategy names the route a restore took.
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategyCheckpoint Strategy = "checkpoint"
	StrategyBackward   Strategy = "backward"
	StrategyForward    Strategy = "forward"
)

// Result describes a completed restore.
type Result struct {
	Target   int
	Strategy Strategy

	// Checkpoint is the archive unpacked, nil when the restore walked from
	// the current tree.
	Checkpoint *model.CheckpointRef

	Forward  int
	Backward int

	FilesHash string
	Verified  bool
	Duration  time.Duration
}

// Patches is the number of diffs applied.
func (r *Result) Patches() int {
	return r.Forward + r.Backward
}

// Engine restores one directory. It remembers which node the directory holds
// so consecutive restores can walk diffs instead of unpacking archives.
type Engine struct {
	src    Source
	dir    string
	scan   tree.ScanOptions
	logger *slog.Logger

	// current is the node id the directory holds, -1 when unknown.
	current int
	tree    tree.Tree
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithScanOptions sets the ignore rules and worker count used to read and
// write the directory.
func WithScanOptions(opts tree.ScanOptions) Option {
	return func(e *Engine) {
		e.scan = opts
	}
}

// New returns an Engine that restores into dir from src.
func New(src Source, dir string, opts ...Option) *Engine {
	e := &Engine{
		src:     src,
		dir:     dir,
		scan:    tree.ScanOptions{Ignore: tree.NewIgnore()},
		logger:  slog.Default(),
		current: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "restore"))
	return e
}

// Current returns the node id the directory is known to hold, or -1.
func (e *Engine) Current() int {
	return e.current
}

// Head returns the id of the last node in the source.
func (e *Engine) Head() int {
	return len(e.src.Nodes())
}

// expectedHash is the files hash recorded for id; id 0 is the baseline.
func (e *Engine) expectedHash(id int) string {
	if id == 0 {
		for _, c := range e.src.Checkpoints() {
			if c.Index == 0 {
				return c.FilesHash
			}
		}
		return ""
	}
	return e.src.Nodes()[id-1].FilesHash
}

// Restore makes the directory hold the tree of node target (0 = baseline).
//
// A *VerificationError is returned together with a non-nil Result when the
// restored tree does not hash to the recorded value; the directory has still
// been written.
func (e *Engine) Restore(ctx context.Context, target int) (*Result, error) {
	start := time.Now()
	head := e.Head()
	if target < 0 || target > head {
		return nil, fmt.Errorf("restore %d: %w (head is %d)", target, ErrNoSuchState, head)
	}

	if e.current < 0 {
		if err := e.locate(ctx, target); err != nil {
			return nil, err
		}
	}

	p := e.plan(target)
	restored, err := e.execute(ctx, p, target)
	if err != nil && p.strategy != StrategyCheckpoint {
		e.logger.Warn("walk from current tree failed, falling back to checkpoint",
			slog.Int("from", e.current), slog.Int("target", target), slog.Any("error", err))
		p = e.checkpointPlan(target)
		restored, err = e.execute(ctx, p, target)
	}
	if err != nil {
		return nil, err
	}

	if err := tree.Sync(ctx, e.dir, restored, e.scan); err != nil {
		e.current = -1
		return nil, fmt.Errorf("restore %d: write tree: %w", target, err)
	}
	e.current = target
	e.tree = restored

	written, err := tree.Scan(ctx, e.dir, e.scan)
	if err != nil {
		return nil, fmt.Errorf("restore %d: rescan: %w", target, err)
	}

	res := &Result{
		Target:     target,
		Strategy:   p.strategy,
		Checkpoint: p.checkpoint,
		Forward:    p.forward(),
		Backward:   p.backward(),
		FilesHash:  written.Hash(),
		Duration:   time.Since(start),
	}
	want := e.expectedHash(target)
	res.Verified = res.FilesHash == want

	e.logger.Info("restored",
		slog.Int("target", target),
		slog.String("strategy", string(res.Strategy)),
		slog.Int("forward", res.Forward),
		slog.Int("backward", res.Backward),
		slog.Bool("verified", res.Verified))

	if !res.Verified {
		return res, &VerificationError{Target: target, Expected: want, Actual: res.FilesHash}
	}
	return res, nil
}

// locate scans the directory and, when its content matches a recorded
// node, adopts the matching node nearest to target as the current position.
func (e *Engine) locate(ctx context.Context, target int) error {
	t, err := tree.Scan(ctx, e.dir, e.scan)
	if err != nil {
		// A missing directory is restored from a checkpoint.
		e.logger.Debug("restore directory unreadable", slog.Any("error", err))
		return nil
	}
	h := t.Hash()

	best := -1
	for id := 0; id <= e.Head(); id++ {
		if e.expectedHash(id) != h {
			continue
		}
		if best < 0 || abs(id-target) < abs(best-target) {
			best = id
		}
	}
	if best >= 0 {
		e.current = best
		e.tree = t
	}
	return nil
}

type plan struct {
	strategy   Strategy
	checkpoint *model.CheckpointRef
	from       int
	steps      []step
}

type step struct {
	node    int
	reverse bool
}

func (p plan) forward() int {
	n := 0
	for _, s := range p.steps {
		if !s.reverse {
			n++
		}
	}
	return n
}

func (p plan) backward() int {
	return len(p.steps) - p.forward()
}

func (e *Engine) checkpointPlan(target int) plan {
	var base model.CheckpointRef
	for _, c := range e.src.Checkpoints() {
		if c.Index <= target && c.Index >= base.Index {
			base = c
		}
	}
	p := plan{strategy: StrategyCheckpoint, checkpoint: &base, from: base.Index}
	for id := base.Index + 1; id <= target; id++ {
		p.steps = append(p.steps, step{node: id})
	}
	return p
}

// plan picks the route with the fewest patch applications.
func (e *Engine) plan(target int) plan {
	best := e.checkpointPlan(target)
	if e.current < 0 {
		return best
	}

	walk := plan{from: e.current}
	switch {
	case e.current == target:
		walk.strategy = StrategyNone
	case e.current > target:
		walk.strategy = StrategyBackward
		for id := e.current; id > target; id-- {
			walk.steps = append(walk.steps, step{node: id, reverse: true})
		}
	default:
		walk.strategy = StrategyForward
		for id := e.current + 1; id <= target; id++ {
			walk.steps = append(walk.steps, step{node: id})
		}
	}
	if len(walk.steps) < len(best.steps) || walk.strategy == StrategyNone {
		return walk
	}
	return best
}

func (e *Engine) execute(ctx context.Context, p plan, target int) (tree.Tree, error) {
	var t tree.Tree
	if p.checkpoint != nil {
		var err error
		t, err = e.src.OpenCheckpoint(*p.checkpoint)
		if err != nil {
			return nil, fmt.Errorf("restore %d: %w", target, err)
		}
	} else {
		t = e.tree
	}

	nodes := e.src.Nodes()
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := nodes[s.node-1]
		diff := n.DiffForward
		if s.reverse {
			diff = n.DiffBackward
		}
		next, err := patch.Apply(t, diff)
		if err != nil {
			return nil, fmt.Errorf("restore %d: node %d: %w", target, s.node, err)
		}
		t = next
	}
	return t, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
