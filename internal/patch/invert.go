package patch

// Invert returns the patch that undoes p: applying p and then its inverse
// leaves a tree unchanged.
func (p *Patch) Invert() *Patch {
	out := &Patch{Files: make([]*File, 0, len(p.Files))}
	for _, f := range p.Files {
		out.Files = append(out.Files, f.invert())
	}
	return out
}

func (f *File) invert() *File {
	inv := &File{Path: f.Path, Op: f.Op}
	switch f.Op {
	case OpCreate:
		inv.Op = OpDelete
	case OpDelete:
		inv.Op = OpCreate
	}

	for _, h := range f.hunks {
		inv.hunks = append(inv.hunks, hunk{
			origStart: h.newStart,
			origLines: h.newLines,
			newStart:  h.origStart,
			newLines:  h.origLines,
			lines:     invertLines(h.lines),
		})
	}
	return inv
}

// invertLines swaps removals and additions. Within each run of changed lines
// the removals are emitted first, matching how diff tools order them.
func invertLines(lines []line) []line {
	out := make([]line, 0, len(lines))
	for i := 0; i < len(lines); {
		if lines[i].op == ' ' {
			out = append(out, lines[i])
			i++
			continue
		}

		j := i
		for j < len(lines) && lines[j].op != ' ' {
			j++
		}
		run := lines[i:j]
		for _, l := range run {
			if l.op == '+' {
				out = append(out, line{op: '-', text: l.text, noEOL: l.noEOL})
			}
		}
		for _, l := range run {
			if l.op == '-' {
				out = append(out, line{op: '+', text: l.text, noEOL: l.noEOL})
			}
		}
		i = j
	}
	return out
}

// Invert parses data and renders its inverse.
func Invert(data []byte) ([]byte, error) {
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return p.Invert().Bytes()
}
