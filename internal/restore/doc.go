// Package restore reconstructs the working tree of any historical state node.
//
// Restoration needs only the stored checkpoints, the unified diffs and a hash
// function. No model inference is involved, and the same algorithm is
// shipped as a POSIX shell script (restore.sh) next to every session.
//
// The engine picks the cheapest route by patch count: unpack the nearest
// checkpoint at or before the target and replay forward diffs, or walk
// from the tree currently in the directory by applying reverse diffs (when
// the target is behind) or forward diffs (when it is ahead). Ties go to the
// checkpoint.
package restore
