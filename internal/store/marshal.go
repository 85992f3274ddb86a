package store

import (
	"encoding/json"
	"fmt"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// marshalStateFile renders the .state file of a node as canonical JSON. The
// file references its diffs by path; their content lives under actions/diffs.
func marshalStateFile(n model.StateNode) ([]byte, error) {
	actions := n.ActionIDs
	if actions == nil {
		actions = []string{}
	}
	diffs := make([]any, 0, len(actions))
	for _, id := range actions {
		diffs = append(diffs, map[string]any{
			"action_id": id,
			"forward":   ForwardDiffName(id),
			"reverse":   ReverseDiffName(id),
		})
	}

	obj := map[string]any{
		"format_version": model.FormatVersion,
		"id":             n.ID,
		"prev":           n.ID - 1,
		"schedule":       n.Schedule,
		"process":        n.Process,
		"step":           model.StepName(n.Schedule, n.Process),
		"outcome":        n.Outcome,
		"error_code":     n.ErrorCode,
		"files_hash":     n.FilesHash,
		"parent_hash":    n.ParentHash,
		"node_hash":      n.NodeHash,
		"action_ids":     actions,
		"diff_id":        model.DiffID(n.DiffForward),
		"diffs":          diffs,
	}
	data, err := model.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal state %d: %w", n.ID, err)
	}
	return append(data, '\n'), nil
}

// stateFile is the decoded form of a .state file.
type stateFile struct {
	FormatVersion string           `json:"format_version"`
	ID            int              `json:"id"`
	Prev          int              `json:"prev"`
	Schedule      model.ScheduleID `json:"schedule"`
	Process       model.ProcessID  `json:"process"`
	Outcome       model.Outcome    `json:"outcome"`
	ErrorCode     model.ErrorCode  `json:"error_code"`
	FilesHash     string           `json:"files_hash"`
	ParentHash    string           `json:"parent_hash"`
	NodeHash      string           `json:"node_hash"`
	ActionIDs     []string         `json:"action_ids"`
	DiffID        string           `json:"diff_id"`
}

func unmarshalStateFile(data []byte) (stateFile, error) {
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return stateFile{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if sf.FormatVersion != model.FormatVersion {
		return stateFile{}, fmt.Errorf("unmarshal state: unsupported format version %q", sf.FormatVersion)
	}
	return sf, nil
}

// marshalRecurrence renders states/recurrence.json: the predecessor and
// successor of every node plus the hashes binding them, and the checkpoint
// index. prev 0 is the baseline checkpoint; next 0 marks the head.
func marshalRecurrence(nodes []model.StateNode, checkpoints []model.CheckpointRef) ([]byte, error) {
	entries := make([]any, 0, len(nodes))
	for i, n := range nodes {
		next := 0
		if i+1 < len(nodes) {
			next = nodes[i+1].ID
		}
		entries = append(entries, map[string]any{
			"id":          n.ID,
			"prev":        n.ID - 1,
			"next":        next,
			"transition":  n.Transition().String(),
			"files_hash":  n.FilesHash,
			"parent_hash": n.ParentHash,
			"node_hash":   n.NodeHash,
		})
	}
	ckpts := make([]any, 0, len(checkpoints))
	for _, c := range checkpoints {
		ckpts = append(ckpts, map[string]any{
			"index":      c.Index,
			"schedule":   c.Schedule,
			"kind":       string(c.Kind),
			"path":       c.Path,
			"files_hash": c.FilesHash,
		})
	}
	obj := map[string]any{
		"format_version": model.FormatVersion,
		"head":           len(nodes),
		"nodes":          entries,
		"checkpoints":    ckpts,
	}
	data, err := model.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal recurrence: %w", err)
	}
	return append(data, '\n'), nil
}
