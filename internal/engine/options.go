package engine

import (
	"log/slog"
	"time"

	"github.com/cadenroberts/OllamaBot-sub000/internal/metrics"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
)

// DefaultCompression is the gzip level of checkpoint archives.
const DefaultCompression = 6

// Option configures a Navigator or a Session. Options a Navigator has no
// use for are ignored by NewNavigator.
type Option func(*settings)

type settings struct {
	logger       *slog.Logger
	bus          *Bus
	investigator Investigator
	ids          IDGenerator
	metrics      *metrics.Metrics
	ignore       []string
	diffContext  int
	compression  int
	workers      int
	now          func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:      slog.Default(),
		ids:         UUIDv7Generator{},
		diffContext: patch.DefaultContext,
		compression: DefaultCompression,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventBus publishes events on b instead of a private bus.
func WithEventBus(b *Bus) Option {
	return func(s *settings) {
		s.bus = b
	}
}

// WithInvestigator sets the collaborator that receives Investigate
// directives. Without one, Investigate only logs.
func WithInvestigator(i Investigator) Option {
	return func(s *settings) {
		s.investigator = i
	}
}

// WithIDGenerator sets the session id source. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *settings) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithIgnore adds path patterns excluded from workspace scans, on top of
// tree.DefaultIgnore(). Patterns are stored in meta.json and reapplied on
// reopen.
func WithIgnore(patterns ...string) Option {
	return func(s *settings) {
		s.ignore = append(s.ignore, patterns...)
	}
}

// WithDiffContext sets the context lines of captured diffs.
func WithDiffContext(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.diffContext = n
		}
	}
}

// WithCompression sets the gzip level of checkpoint archives.
func WithCompression(level int) Option {
	return func(s *settings) {
		s.compression = level
	}
}

// WithWorkers bounds parallel file reads and diffs. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *settings) {
		s.workers = n
	}
}

// WithNow sets the wall clock used for session metadata.
func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
