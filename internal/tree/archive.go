package tree

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// WriteArchive writes t as a gzip-compressed tar stream. Entries are sorted
// and carry fixed metadata. level is a compress/gzip level.
func WriteArchive(w io.Writer, t Tree, level int) error {
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	tw := tar.NewWriter(gz)
	epoch := time.Unix(0, 0).UTC()

	for _, p := range t.Paths() {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     p,
			Mode:     0o644,
			Size:     int64(len(t[p])),
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
		if _, err := tw.Write(t[p]); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// ReadArchive reads a stream written by WriteArchive (or by tar -czf).
// Directory entries are skipped; links and entries escaping the archive root
// are rejected.
func ReadArchive(r io.Reader) (Tree, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("unarchive: %w", err)
	}
	defer gz.Close()

	out := make(Tree)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unarchive: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return nil, fmt.Errorf("unarchive %s: unsupported entry type %q", hdr.Name, hdr.Typeflag)
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("unarchive: entry %q escapes archive root", hdr.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("unarchive %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}
