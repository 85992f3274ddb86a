package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Relative paths inside a session directory.
const (
	MetaFile       = "meta.json"
	FlowCodeFile   = "flow.code"
	StatesDir      = "states"
	RecurrenceFile = "states/recurrence.json"
	CheckpointsDir = "checkpoints"
	DiffsDir       = "actions/diffs"
	BaseCheckpoint = "checkpoints/base.tar.gz"
)

// ActionID is the zero-padded identifier of the diff pair written by node id.
func ActionID(id int) string {
	return fmt.Sprintf("%04d", id)
}

// StateFileName is the relative path of node id's state file.
func StateFileName(id int, sid model.ScheduleID, pid model.ProcessID) string {
	return fmt.Sprintf("%s/%04d_S%dP%d.state", StatesDir, id, int(sid), int(pid))
}

// ForwardDiffName is the relative path of a forward diff.
func ForwardDiffName(actionID string) string {
	return DiffsDir + "/" + actionID + ".diff"
}

// ReverseDiffName is the relative path of an inverse diff.
func ReverseDiffName(actionID string) string {
	return DiffsDir + "/" + actionID + ".reverse.diff"
}

// checkpointName picks the archive path for a checkpoint at index. The first
// termination of a schedule gets the plain name; later ones are suffixed with
// the node index.
func checkpointName(kind model.CheckpointKind, sid model.ScheduleID, index int, repeat bool) string {
	switch {
	case kind == model.CheckpointBase:
		return BaseCheckpoint
	case kind == model.CheckpointFinal:
		return fmt.Sprintf("%s/final_%04d.tar.gz", CheckpointsDir, index)
	case repeat:
		return fmt.Sprintf("%s/S%d_complete_%04d.tar.gz", CheckpointsDir, int(sid), index)
	default:
		return fmt.Sprintf("%s/S%d_complete.tar.gz", CheckpointsDir, int(sid))
	}
}

func makeLayout(dir string) error {
	for _, sub := range []string{StatesDir, CheckpointsDir, DiffsDir} {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, fsyncs
// it, renames it over path and fsyncs the directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	cleanupTmp = false

	return syncDir(dir)
}

func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}

	return nil
}

func (s *Store) abs(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}
