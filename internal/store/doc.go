// Package store provides the durable, append-only session log.
//
// A session directory holds:
//
//	meta.json                          session metadata (CUE-validated on open)
//	session.db                         SQLite index of nodes, checkpoints and state
//	flow.code                          running flow code, regenerable from the log
//	states/NNNN_S<s>P<p>.state         one canonical JSON file per StateNode
//	states/recurrence.json             prev/next links and hashes
//	actions/diffs/NNNN.diff            forward diff of node NNNN
//	actions/diffs/NNNN.reverse.diff    inverse of the forward diff
//	checkpoints/base.tar.gz            tree at session creation (index 0)
//	checkpoints/S<s>_complete.tar.gz   tree after schedule s terminated
//
// # Commit Order
//
// Append writes the diff and state files first (each fsync'd and renamed into
// place), then commits the node row to SQLite. The SQLite commit is the commit
// point: files beyond the committed head are orphans of an interrupted append
// and are pruned on Open. flow.code and recurrence.json are derived and
// rewritten after every commit.
//
// # Database Configuration
//
//   - WAL mode: readers never block the single writer
//   - synchronous=FULL: a committed node survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Node identity is a content hash over canonical JSON that binds each node to
// its parent, see model.NodeHash.
package store
