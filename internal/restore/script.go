package restore

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed restore.sh
var script []byte

// ScriptName is the file name of the standalone restore script.
const ScriptName = "restore.sh"

// Script returns the standalone restore script.
func Script() []byte {
	out := make([]byte, len(script))
	copy(out, script)
	return out
}

// WriteScript installs restore.sh into a session directory.
func WriteScript(sessionDir string) error {
	path := filepath.Join(sessionDir, ScriptName)
	if err := os.WriteFile(path, script, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", ScriptName, err)
	}
	return nil
}
