package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/restore"
)

// SessionView is printed by init.
type SessionView struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	Workdir   string    `json:"workdir"`
	Prompt    string    `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newSessionView(s *engine.Session) SessionView {
	meta := s.Meta()
	return SessionView{
		ID:        s.ID(),
		Dir:       s.Dir(),
		Workdir:   s.Workdir(),
		Prompt:    meta.Prompt,
		CreatedAt: meta.CreatedAt,
	}
}

func (v SessionView) String() string {
	return fmt.Sprintf("Session %s\n  dir:     %s\n  workdir: %s", v.ID, v.Dir, v.Workdir)
}

// SuspensionView is a suspension record plus its remediation hint.
type SuspensionView struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	Component      string `json:"violating_component"`
	Message        string `json:"message"`
	Attempted      string `json:"attempted"`
	LastValid      string `json:"last_valid"`
	FrozenFlowCode string `json:"frozen_flow_code"`
	Aborted        bool   `json:"aborted,omitempty"`
}

func newSuspensionView(rec engine.SuspensionRecord) *SuspensionView {
	return &SuspensionView{
		Code:           string(rec.Code),
		Description:    rec.Code.Description(),
		Component:      rec.Component,
		Message:        rec.Message,
		Attempted:      rec.Attempted.String(),
		LastValid:      rec.LastValid.String(),
		FrozenFlowCode: rec.FrozenFlowCode,
		Aborted:        rec.Aborted,
	}
}

func (v *SuspensionView) String() string {
	state := "suspended"
	if v.Aborted {
		state = "aborted"
	}
	return fmt.Sprintf("%s [%s] %s\n  attempted:  %s\n  last valid: %s\n  flow code:  %s",
		state, v.Code, v.Message, v.Attempted, v.LastValid, orDash(v.FrozenFlowCode))
}

// StatusView is printed by status and by every navigation command.
type StatusView struct {
	Session     string          `json:"session"`
	Phase       engine.Phase    `json:"phase"`
	State       string          `json:"state"`
	Schedule    string          `json:"schedule,omitempty"`
	Running     string          `json:"running,omitempty"`
	FlowCode    string          `json:"flow_code"`
	Terminated  []int           `json:"terminated"`
	Head        int             `json:"head"`
	Checkpoints int             `json:"checkpoints"`
	Suspension  *SuspensionView `json:"suspension,omitempty"`
}

func newStatusView(s *engine.Session) StatusView {
	st := s.State()
	v := StatusView{
		Session:     s.ID(),
		Phase:       st.Phase,
		State:       st.String(),
		FlowCode:    s.FlowCode(),
		Terminated:  []int{},
		Head:        len(s.Log()),
		Checkpoints: len(s.Checkpoints()),
	}
	if st.Schedule != 0 {
		v.Schedule = scheduleLabel(st.Schedule)
	}
	if st.Running != 0 {
		v.Running = model.StepName(st.Schedule, st.Running)
	}
	for _, sid := range s.Terminated() {
		v.Terminated = append(v.Terminated, int(sid))
	}
	if rec, ok := s.Suspension(); ok {
		v.Suspension = newSuspensionView(rec)
	}
	return v
}

func (v StatusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", v.Session)
	fmt.Fprintf(&b, "  state:      %s\n", v.State)
	if v.Running != "" {
		fmt.Fprintf(&b, "  running:    %s\n", v.Running)
	}
	fmt.Fprintf(&b, "  flow code:  %s\n", orDash(v.FlowCode))
	terminated := make([]string, len(v.Terminated))
	for i, sid := range v.Terminated {
		terminated[i] = model.ScheduleID(sid).String()
	}
	fmt.Fprintf(&b, "  terminated: %s\n", orDash(strings.Join(terminated, " ")))
	fmt.Fprintf(&b, "  head:       %d (%d checkpoints)", v.Head, v.Checkpoints)
	if v.Suspension != nil {
		fmt.Fprintf(&b, "\n  %s", strings.ReplaceAll(v.Suspension.String(), "\n", "\n  "))
	}
	return b.String()
}

// NodeView is one committed state node.
type NodeView struct {
	ID        int    `json:"id"`
	Step      string `json:"step"`
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	ErrorCode string `json:"error_code,omitempty"`
	FilesHash string `json:"files_hash"`
	NodeHash  string `json:"node_hash"`
}

func newNodeView(n model.StateNode) NodeView {
	return NodeView{
		ID:        n.ID,
		Step:      n.Schedule.String() + n.Process.String(),
		Name:      model.StepName(n.Schedule, n.Process),
		Outcome:   string(n.Outcome),
		ErrorCode: string(n.ErrorCode),
		FilesHash: n.FilesHash,
		NodeHash:  n.NodeHash,
	}
}

func (v NodeView) String() string {
	out := fmt.Sprintf("%04d %-5s %-9s %s  %s", v.ID, v.Step, v.Outcome, short(v.FilesHash), v.Name)
	if v.ErrorCode != "" {
		out += " (" + v.ErrorCode + ")"
	}
	return out
}

// CompleteView is printed by complete.
type CompleteView struct {
	Node     NodeView `json:"node"`
	FlowCode string   `json:"flow_code"`
}

func (v CompleteView) String() string {
	return fmt.Sprintf("%s\nflow code: %s", v.Node, v.FlowCode)
}

// CheckpointView is one checkpoint archive.
type CheckpointView struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Schedule  string `json:"schedule,omitempty"`
	Path      string `json:"path"`
	FilesHash string `json:"files_hash"`
}

func newCheckpointView(c model.CheckpointRef) CheckpointView {
	v := CheckpointView{Index: c.Index, Kind: string(c.Kind), Path: c.Path, FilesHash: c.FilesHash}
	if c.Schedule != 0 {
		v.Schedule = c.Schedule.String()
	}
	return v
}

func (v CheckpointView) String() string {
	return fmt.Sprintf("%04d %-8s %s  %s", v.Index, v.Kind, short(v.FilesHash), v.Path)
}

// LogView is printed by log.
type LogView struct {
	FlowCode    string           `json:"flow_code"`
	Nodes       []NodeView       `json:"nodes"`
	Checkpoints []CheckpointView `json:"checkpoints"`
}

func (v LogView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flow code: %s\n", orDash(v.FlowCode))
	fmt.Fprintf(&b, "states (%d):\n", len(v.Nodes))
	for _, n := range v.Nodes {
		fmt.Fprintf(&b, "  %s\n", n)
	}
	fmt.Fprintf(&b, "checkpoints (%d):", len(v.Checkpoints))
	for _, c := range v.Checkpoints {
		fmt.Fprintf(&b, "\n  %s", c)
	}
	return b.String()
}

// RestoreView is printed by restore.
type RestoreView struct {
	Target     int    `json:"target"`
	Dir        string `json:"dir"`
	Strategy   string `json:"strategy"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Forward    int    `json:"forward"`
	Backward   int    `json:"backward"`
	FilesHash  string `json:"files_hash"`
	Verified   bool   `json:"verified"`
	DurationMS int64  `json:"duration_ms"`
}

func newRestoreView(res *restore.Result, dir string) RestoreView {
	v := RestoreView{
		Target:     res.Target,
		Dir:        dir,
		Strategy:   string(res.Strategy),
		Forward:    res.Forward,
		Backward:   res.Backward,
		FilesHash:  res.FilesHash,
		Verified:   res.Verified,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Checkpoint != nil {
		v.Checkpoint = res.Checkpoint.Path
	}
	return v
}

func (v RestoreView) String() string {
	how := v.Strategy
	if v.Checkpoint != "" {
		how += " from " + v.Checkpoint
	}
	verified := "verified"
	if !v.Verified {
		verified = "NOT verified"
	}
	return fmt.Sprintf("Restored state %d into %s\n  via %s, %d forward / %d backward patches\n  files hash %s (%s)",
		v.Target, v.Dir, how, v.Forward, v.Backward, short(v.FilesHash), verified)
}

// FlowView is printed by flow decode.
type FlowView struct {
	Code        string   `json:"code"`
	Transitions []string `json:"transitions"`
	Steps       []string `json:"steps"`
}

func (v FlowView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d transitions)", v.Code, len(v.Transitions))
	for i, tr := range v.Transitions {
		fmt.Fprintf(&b, "\n  %2d %-6s %s", i+1, tr, v.Steps[i])
	}
	return b.String()
}

// CatalogView is printed by catalog.
type CatalogView struct {
	Schedules []ScheduleView `json:"schedules"`
}

// ScheduleView is one catalog schedule.
type ScheduleView struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Processes []ProcessView `json:"processes"`
}

// ProcessView is one catalog process.
type ProcessView struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Consultation string `json:"consultation"`
}

func newCatalogView() CatalogView {
	var v CatalogView
	for _, s := range model.Schedules() {
		sv := ScheduleView{ID: int(s.ID), Name: s.Name}
		for _, p := range s.Processes {
			sv.Processes = append(sv.Processes, ProcessView{
				ID:           int(p.ID),
				Name:         p.Name,
				Consultation: p.Consultation.String(),
			})
		}
		v.Schedules = append(v.Schedules, sv)
	}
	return v
}

func (v CatalogView) String() string {
	var b strings.Builder
	for i, s := range v.Schedules {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "S%d %s", s.ID, s.Name)
		for _, p := range s.Processes {
			fmt.Fprintf(&b, "\n  P%d %s", p.ID, p.Name)
			if p.Consultation != model.ConsultNone.String() {
				fmt.Fprintf(&b, " (human consultation: %s)", p.Consultation)
			}
		}
	}
	return b.String()
}

func scheduleLabel(sid model.ScheduleID) string {
	if s, ok := model.LookupSchedule(sid); ok {
		return fmt.Sprintf("%s %s", sid, s.Name)
	}
	return sid.String()
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
