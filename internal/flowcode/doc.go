// Package flowcode encodes and decodes the compact textual history of an
// orchestration session.
//
// A flow code is a run of schedule blocks. Each block opens with S and the
// schedule digit, followed by P and one digit per process run in that
// schedule entry. An X after a digit marks that process as errored:
//
//	S1P123S2P12123  Knowledge P1-P3, then Plan P1, P2, P1, P2, P3
//	S3P12X2         Implement P1, P2 (errored), P2
//
// The textual form does not carry error codes, so a decoded error
// transition always has an empty Code.
//
// Decode enforces the process adjacency table, which makes it usable both to
// validate externally supplied codes and as an oracle for the navigator.
package flowcode
