package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// RejectError reports a file diff that does not apply to the tree.
type RejectError struct {
	Path string

	// Hunk is the 1-based hunk index, or 0 when the whole file was rejected.
	Hunk int

	Reason string
}

func (e *RejectError) Error() string {
	if e.Hunk > 0 {
		return fmt.Sprintf("patch %s: hunk %d rejected: %s", e.Path, e.Hunk, e.Reason)
	}
	return fmt.Sprintf("patch %s: rejected: %s", e.Path, e.Reason)
}

// IsReject reports whether err is (or wraps) a RejectError.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// Apply returns a copy of t with the patch applied. t is never modified. Any
// rejected hunk fails the whole patch.
func (p *Patch) Apply(t tree.Tree) (tree.Tree, error) {
	out := t.Clone()
	if p.Empty() {
		return out, nil
	}
	for _, f := range p.Files {
		if err := f.apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *File) apply(t tree.Tree) error {
	current, exists := t[f.Path]
	switch f.Op {
	case OpCreate:
		if exists {
			return &RejectError{Path: f.Path, Reason: "file already exists"}
		}
	default:
		if !exists {
			return &RejectError{Path: f.Path, Reason: "file does not exist"}
		}
	}

	result, err := f.applyHunks(current)
	if err != nil {
		return err
	}

	if f.Op == OpDelete {
		if len(result) != 0 {
			return &RejectError{Path: f.Path, Reason: "deletion leaves content behind"}
		}
		delete(t, f.Path)
		return nil
	}
	t[f.Path] = result
	return nil
}

func (f *File) applyHunks(content []byte) ([]byte, error) {
	src := splitLines(content)
	out := make([]string, 0, len(src))
	cursor := 0

	for i, h := range f.hunks {
		reject := func(format string, args ...any) error {
			return &RejectError{Path: f.Path, Hunk: i + 1, Reason: fmt.Sprintf(format, args...)}
		}

		orig, repl := h.sides()
		if len(orig) != h.origLines || len(repl) != h.newLines {
			return nil, reject("header counts -%d +%d do not match body -%d +%d",
				h.origLines, h.newLines, len(orig), len(repl))
		}

		// "-k,0" inserts after line k.
		start := h.origStart - 1
		if h.origLines == 0 {
			start = h.origStart
		}
		if start < cursor {
			return nil, reject("hunk starts at line %d, before the end of the previous hunk", h.origStart)
		}
		if start+len(orig) > len(src) {
			return nil, reject("hunk extends past end of file (%d lines)", len(src))
		}
		for j, want := range orig {
			if src[start+j] != want {
				return nil, reject("line %d does not match", start+j+1)
			}
		}

		out = append(out, src[cursor:start]...)
		out = append(out, repl...)
		cursor = start + len(orig)
	}
	out = append(out, src[cursor:]...)

	if len(out) == 0 {
		return []byte{}, nil
	}
	return []byte(strings.Join(out, "")), nil
}

// Apply parses and applies data to t.
func Apply(t tree.Tree, data []byte) (tree.Tree, error) {
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return p.Apply(t)
}
