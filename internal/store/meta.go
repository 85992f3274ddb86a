package store

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

//go:embed meta.cue
var metaSchema string

// Meta is the content of meta.json.
type Meta struct {
	FormatVersion string    `json:"format_version"`
	EngineVersion string    `json:"engine_version"`
	SessionID     string    `json:"session_id"`
	Workdir       string    `json:"workdir"`
	CreatedAt     time.Time `json:"created_at"`
	Prompt        string    `json:"prompt,omitempty"`
	Ignore        []string  `json:"ignore,omitempty"`
	// DiffContext is nil for sessions that recorded no setting.
	DiffContext   *int      `json:"diff_context,omitempty"`
}

// ValidateMeta checks raw meta.json bytes against the embedded CUE schema.
func ValidateMeta(data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(metaSchema, cue.Filename("meta.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile meta schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(MetaFile))
	if err := v.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", MetaFile, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Meta")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %w", MetaFile, err)
	}
	return nil
}

func marshalMeta(m Meta) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("read %s: %w", MetaFile, err)
	}
	if err := ValidateMeta(data); err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("decode %s: %w", MetaFile, err)
	}
	if m.FormatVersion != model.FormatVersion {
		return Meta{}, fmt.Errorf("%s: unsupported format version %q", MetaFile, m.FormatVersion)
	}
	return m, nil
}
