package model

import "fmt"

// ScheduleID identifies one of the five workflow schedules (1-5).
type ScheduleID int

// ProcessID identifies one of the three processes within a schedule (1-3).
// Zero means "no process".
type ProcessID int

// Schedule identifiers in catalog order.
const (
	Knowledge ScheduleID = iota + 1
	Plan
	Implement
	Scale
	Production
)

// NumSchedules and NumProcesses bound the catalog.
const (
	NumSchedules = 5
	NumProcesses = 3
)

// Consultation describes whether a process pauses for a human.
type Consultation int

const (
	ConsultNone Consultation = iota
	ConsultOptional
	ConsultMandatory
)

func (c Consultation) String() string {
	switch c {
	case ConsultOptional:
		return "optional"
	case ConsultMandatory:
		return "mandatory"
	default:
		return "none"
	}
}

// Process is an immutable catalog entry.
type Process struct {
	ID           ProcessID    `json:"id"`
	Name         string       `json:"name"`
	Consultation Consultation `json:"consultation"`
}

// RequiresHumanConsultation reports whether the process may hand control to a
// human collaborator. Only Plan.P2 (optional) and Implement.P3 (mandatory) do.
func (p Process) RequiresHumanConsultation() bool {
	return p.Consultation != ConsultNone
}

// Schedule is an immutable catalog entry with exactly three processes.
type Schedule struct {
	ID        ScheduleID `json:"id"`
	Name      string     `json:"name"`
	Processes [NumProcesses]Process
}

// catalog is indexed by ScheduleID-1. Returned by value so callers can never
// mutate it.
var catalog = [NumSchedules]Schedule{
	{ID: Knowledge, Name: "Knowledge", Processes: [NumProcesses]Process{
		{ID: 1, Name: "Inventory"},
		{ID: 2, Name: "Research"},
		{ID: 3, Name: "Crystallize"},
	}},
	{ID: Plan, Name: "Plan", Processes: [NumProcesses]Process{
		{ID: 1, Name: "Outline"},
		{ID: 2, Name: "Consult", Consultation: ConsultOptional},
		{ID: 3, Name: "Finalize"},
	}},
	{ID: Implement, Name: "Implement", Processes: [NumProcesses]Process{
		{ID: 1, Name: "Draft"},
		{ID: 2, Name: "Verify"},
		{ID: 3, Name: "Review", Consultation: ConsultMandatory},
	}},
	{ID: Scale, Name: "Scale", Processes: [NumProcesses]Process{
		{ID: 1, Name: "Profile"},
		{ID: 2, Name: "Refactor"},
		{ID: 3, Name: "Benchmark"},
	}},
	{ID: Production, Name: "Production", Processes: [NumProcesses]Process{
		{ID: 1, Name: "Analyze"},
		{ID: 2, Name: "Systemize"},
		{ID: 3, Name: "Harmonize"},
	}},
}

// Valid reports whether id names a catalog schedule.
func (id ScheduleID) Valid() bool {
	return id >= 1 && id <= NumSchedules
}

// Valid reports whether id names a process (1-3).
func (id ProcessID) Valid() bool {
	return id >= 1 && id <= NumProcesses
}

func (id ScheduleID) String() string {
	return fmt.Sprintf("S%d", int(id))
}

func (id ProcessID) String() string {
	return fmt.Sprintf("P%d", int(id))
}

// Schedules returns the full catalog in order.
func Schedules() []Schedule {
	out := make([]Schedule, NumSchedules)
	copy(out, catalog[:])
	return out
}

// LookupSchedule returns the catalog entry for id.
func LookupSchedule(id ScheduleID) (Schedule, bool) {
	if !id.Valid() {
		return Schedule{}, false
	}
	return catalog[id-1], true
}

// LookupProcess returns the catalog entry for process pid of schedule sid.
func LookupProcess(sid ScheduleID, pid ProcessID) (Process, bool) {
	s, ok := LookupSchedule(sid)
	if !ok || !pid.Valid() {
		return Process{}, false
	}
	return s.Processes[pid-1], true
}

// StepName renders "Schedule.Process" for logs, e.g. "Plan.Consult".
func StepName(sid ScheduleID, pid ProcessID) string {
	p, ok := LookupProcess(sid, pid)
	if !ok {
		return fmt.Sprintf("%s%s", sid, pid)
	}
	return catalog[sid-1].Name + "." + p.Name
}
