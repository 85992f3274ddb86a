// Package model defines the foundational types for obot orchestrate.
//
// This package contains the static schedule/process catalog, transitions,
// state nodes, checkpoint references and the error-code catalog. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Catalog data is immutable and defined at compile time
//   - State node ids are a logical index, never wall-clock timestamps
//   - All JSON tags use snake_case
//   - Node identity hashes use RFC 8785 canonical JSON with domain separation
package model
