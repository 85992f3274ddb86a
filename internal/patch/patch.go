package patch

import (
	"bytes"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const (
	devNull         = "/dev/null"
	gitHeaderPrefix = "diff --git "
)

// Op is what a file diff does to its path.
type Op int

const (
	OpModify Op = iota
	OpCreate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "modify"
	}
}

// Patch is an ordered list of file diffs.
type Patch struct {
	Files []*File
}

// File is the diff of a single path.
type File struct {
	Path  string
	Op    Op
	hunks []hunk
}

type hunk struct {
	origStart, origLines int
	newStart, newLines   int
	lines                []line
}

// line is one body line of a hunk. noEOL marks that the line is the last in
// its file(s) and has no trailing newline: for a context line on both sides,
// otherwise on the side the line belongs to.
type line struct {
	op    byte
	text  string
	noEOL bool
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Files) == 0
}

// Paths lists the paths touched by the patch in patch order.
func (p *Patch) Paths() []string {
	out := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		out = append(out, f.Path)
	}
	return out
}

// Parse reads a unified diff. Blank input yields an empty patch.
func Parse(data []byte) (*Patch, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Patch{}, nil
	}
	fds, err := diff.NewMultiFileDiffReader(bytes.NewReader(data)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	p := &Patch{}
	for _, fd := range fds {
		f, err := fromFileDiff(fd)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		p.Files = append(p.Files, f)
	}
	if len(p.Files) == 0 {
		return nil, fmt.Errorf("parse diff: no file changes found")
	}
	return p, nil
}

func fromFileDiff(fd *diff.FileDiff) (*File, error) {
	// Headerless entries only name their path on the diff --git line.
	if len(fd.Hunks) == 0 {
		if a, b, ok := gitHeaderNames(fd.Extended); ok {
			if fd.OrigName != devNull {
				fd.OrigName = a
			}
			if fd.NewName != devNull {
				fd.NewName = b
			}
		}
	}

	f := &File{Op: OpModify}
	name := fd.NewName
	switch {
	case fd.OrigName == devNull && fd.NewName == devNull:
		return nil, fmt.Errorf("parse diff: both sides are %s", devNull)
	case fd.OrigName == devNull || hasExtended(fd, "new file mode"):
		f.Op = OpCreate
	case fd.NewName == devNull || hasExtended(fd, "deleted file mode"):
		f.Op = OpDelete
		name = fd.OrigName
	}
	if name == "" || name == devNull {
		name = fd.OrigName
	}

	p, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	f.Path = p

	for i, h := range fd.Hunks {
		lines, err := decodeBody(h)
		if err != nil {
			return nil, fmt.Errorf("parse diff %s hunk %d: %w", p, i+1, err)
		}
		f.hunks = append(f.hunks, hunk{
			origStart: int(h.OrigStartLine),
			origLines: int(h.OrigLines),
			newStart:  int(h.NewStartLine),
			newLines:  int(h.NewLines),
			lines:     lines,
		})
	}

	// Mode-only or rename-only entries carry no content change.
	if len(f.hunks) == 0 && f.Op == OpModify {
		return nil, nil
	}
	return f, nil
}

func hasExtended(fd *diff.FileDiff, prefix string) bool {
	for _, x := range fd.Extended {
		if strings.HasPrefix(x, prefix) {
			return true
		}
	}
	return false
}

// gitHeaderNames reads both names off a "diff --git" line, unquoting
// C-quoted names.
func gitHeaderNames(extended []string) (a, b string, ok bool) {
	if len(extended) == 0 || !strings.HasPrefix(extended[0], gitHeaderPrefix) {
		return "", "", false
	}
	a, rest, ok := nextName(extended[0][len(gitHeaderPrefix):])
	if !ok || !strings.HasPrefix(rest, " ") {
		return "", "", false
	}
	b, rest, ok = nextName(rest[1:])
	if !ok || rest != "" {
		return "", "", false
	}
	return a, b, true
}

func nextName(s string) (name, rest string, ok bool) {
	if !strings.HasPrefix(s, `"`) {
		if i := strings.IndexByte(s, ' '); i >= 0 {
			return s[:i], s[i:], true
		}
		return s, "", true
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			name, err := strconv.Unquote(s[:i+1])
			if err != nil {
				return "", "", false
			}
			return name, s[i+1:], true
		}
	}
	return "", "", false
}

// quoteName C-quotes a diff file name when it holds whitespace, quotes,
// backslashes or non-ASCII bytes, so patch(1) reads it back whole.
func quoteName(name string) string {
	plain := true
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= ' ' || c == '"' || c == '\\' || c >= 0x7f {
			plain = false
			break
		}
	}
	if plain {
		return name
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\n':
			b.WriteString(`\n`)
		case c < ' ' || c >= 0x7f:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// cleanPath strips one leading component (like patch -p1) and rejects paths
// that escape the tree.
func cleanPath(name string) (string, error) {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	p := path.Clean(name)
	if p == "." || p == "" || path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("parse diff: invalid path %q", name)
	}
	return p, nil
}

// decodeBody splits a go-diff hunk body into lines, folding the
// "\ No newline at end of file" markers back onto the lines they annotate.
func decodeBody(h *diff.Hunk) ([]line, error) {
	body := h.Body
	origNoEOLAt := int(h.OrigNoNewlineAt)

	var lines []line
	for pos := 0; pos < len(body); {
		var raw []byte
		eol := true
		if end := bytes.IndexByte(body[pos:], '\n'); end >= 0 {
			raw = body[pos : pos+end]
			pos += end + 1
		} else {
			raw = body[pos:]
			pos = len(body)
			eol = false
		}

		l := line{op: ' '}
		if len(raw) > 0 {
			l.op = raw[0]
			l.text = string(raw[1:])
		}
		switch l.op {
		case ' ', '-', '+':
		default:
			return nil, fmt.Errorf("unexpected line prefix %q", l.op)
		}
		switch {
		case !eol:
			l.noEOL = true
		case l.op == '-' && origNoEOLAt > 0 && pos == origNoEOLAt:
			l.noEOL = true
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// encodeBody is the inverse of decodeBody.
func encodeBody(lines []line) (body []byte, origNoEOLAt int32) {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteByte(l.op)
		buf.WriteString(l.text)
		if l.noEOL && l.op != '-' {
			continue
		}
		buf.WriteByte('\n')
		if l.noEOL {
			origNoEOLAt = int32(buf.Len())
		}
	}
	return buf.Bytes(), origNoEOLAt
}

// sides returns the original and replacement content of a hunk, one entry per
// line with its newline (if any) attached.
func (h hunk) sides() (orig, repl []string) {
	for _, l := range h.lines {
		text := l.text
		if !l.noEOL {
			text += "\n"
		}
		switch l.op {
		case ' ':
			orig = append(orig, text)
			repl = append(repl, text)
		case '-':
			orig = append(orig, text)
		case '+':
			repl = append(repl, text)
		}
	}
	return orig, repl
}

// Bytes renders the patch in git form.
func (p *Patch) Bytes() ([]byte, error) {
	if p.Empty() {
		return nil, nil
	}
	fds := make([]*diff.FileDiff, 0, len(p.Files))
	for _, f := range p.Files {
		fds = append(fds, f.toFileDiff())
	}
	out, err := diff.PrintMultiFileDiff(fds)
	if err != nil {
		return nil, fmt.Errorf("print diff: %w", err)
	}
	return out, nil
}

// emptyBlob is the abbreviated git object id of the empty blob.
const emptyBlob = "e69de29"

func (f *File) toFileDiff() *diff.FileDiff {
	orig, repl := quoteName("a/"+f.Path), quoteName("b/"+f.Path)
	fd := &diff.FileDiff{
		OrigName: orig,
		NewName:  repl,
		Extended: []string{gitHeaderPrefix + orig + " " + repl},
	}
	switch f.Op {
	case OpCreate:
		fd.OrigName = devNull
		fd.Extended = append(fd.Extended, "new file mode 100644")
		if len(f.hunks) == 0 {
			fd.Extended = append(fd.Extended, "index 0000000.."+emptyBlob)
		}
	case OpDelete:
		fd.NewName = devNull
		fd.Extended = append(fd.Extended, "deleted file mode 100644")
		if len(f.hunks) == 0 {
			fd.Extended = append(fd.Extended, "index "+emptyBlob+"..0000000")
		}
	}

	for _, h := range f.hunks {
		body, origAt := encodeBody(h.lines)
		fd.Hunks = append(fd.Hunks, &diff.Hunk{
			OrigStartLine:   int32(h.origStart),
			OrigLines:       int32(h.origLines),
			NewStartLine:    int32(h.newStart),
			NewLines:        int32(h.newLines),
			OrigNoNewlineAt: origAt,
			Body:            body,
		})
	}
	return fd
}

// splitLines splits content into lines, each keeping its trailing newline.
// The last line has none when content does not end in a newline.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	parts := strings.SplitAfter(string(content), "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
