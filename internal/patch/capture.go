package patch

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// DefaultContext is the number of unchanged lines kept around each change.
const DefaultContext = 3

// CaptureOptions configures Capture.
type CaptureOptions struct {
	// Context lines per hunk. Negative means DefaultContext.
	Context int

	// Workers bounds concurrent per-file diffing. Zero means GOMAXPROCS.
	Workers int
}

// Capture computes the patch taking from to to. Files are diffed
// concurrently and merged in path order, so the result is deterministic.
func Capture(ctx context.Context, from, to tree.Tree, opts CaptureOptions) (*Patch, error) {
	n := opts.Context
	if n < 0 {
		n = DefaultContext
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	changes := from.Compare(to)
	paths := make([]string, 0, len(changes.Added)+len(changes.Modified)+len(changes.Removed))
	paths = append(paths, changes.Added...)
	paths = append(paths, changes.Modified...)
	paths = append(paths, changes.Removed...)
	sort.Strings(paths)

	files := make([]*File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, inFrom := from[p]
			b, inTo := to[p]
			files[i] = diffFile(p, a, b, inFrom, inTo, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Patch{Files: files}, nil
}

func diffFile(p string, a, b []byte, inFrom, inTo bool, n int) *File {
	f := &File{Path: p, Op: OpModify}
	switch {
	case !inFrom:
		f.Op = OpCreate
	case !inTo:
		f.Op = OpDelete
	}

	al, bl := splitLines(a), splitLines(b)
	if len(al) == 0 && len(bl) == 0 {
		return f
	}

	m := difflib.NewMatcher(al, bl)
	for _, group := range m.GetGroupedOpCodes(n) {
		first, last := group[0], group[len(group)-1]
		h := hunk{
			origStart: first.I1 + 1,
			origLines: last.I2 - first.I1,
			newStart:  first.J1 + 1,
			newLines:  last.J2 - first.J1,
		}
		if h.origLines == 0 {
			h.origStart--
		}
		if h.newLines == 0 {
			h.newStart--
		}

		for _, c := range group {
			if c.Tag == 'e' {
				for _, s := range al[c.I1:c.I2] {
					h.lines = append(h.lines, toLine(' ', s))
				}
				continue
			}
			if c.Tag == 'r' || c.Tag == 'd' {
				for _, s := range al[c.I1:c.I2] {
					h.lines = append(h.lines, toLine('-', s))
				}
			}
			if c.Tag == 'r' || c.Tag == 'i' {
				for _, s := range bl[c.J1:c.J2] {
					h.lines = append(h.lines, toLine('+', s))
				}
			}
		}
		f.hunks = append(f.hunks, h)
	}
	return f
}

func toLine(op byte, s string) line {
	text, hadEOL := strings.CutSuffix(s, "\n")
	return line{op: op, text: text, noEOL: !hadEOL}
}
