package model

// Version constants for persisted formats.
const (
	// FormatVersion tags every persisted session file (meta.json, *.state,
	// recurrence.json). Readers reject files carrying a newer major version.
	FormatVersion = "1"

	// EngineVersion is the orchestrate engine version.
	EngineVersion = "0.1.0"
)
