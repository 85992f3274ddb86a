package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

const testSessionID = "01890a5d-ac96-774b-bcce-b302099a8057"

func testMeta() Meta {
	return Meta{
		SessionID: testSessionID,
		Workdir:   "/work",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Prompt:    "add a cache",
	}
}

func baselineTree() tree.Tree {
	return tree.Tree{
		"main.go":   []byte("package main\n\nfunc main() {}\n"),
		"README.md": []byte("# demo\n"),
	}
}

// createTestStore creates a new session in a temp dir.
func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "session")
	s, err := Create(context.Background(), dir, testMeta(), baselineTree())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func completed(sid model.ScheduleID, pid model.ProcessID) model.Transition {
	return model.Transition{Schedule: sid, Process: pid, Outcome: model.OutcomeCompleted}
}

// readmeDiff replaces the README body with text, given its current body.
func readmeDiff(from, to string) []byte {
	return []byte("diff --git a/README.md b/README.md\n--- a/README.md\n+++ b/README.md\n@@ -1,1 +1,1 @@\n-" + from + "\n+" + to + "\n")
}

func newFileDiff(name, content string) []byte {
	return []byte("diff --git a/" + name + " b/" + name + "\nnew file mode 100644\n--- /dev/null\n+++ b/" + name + "\n@@ -0,0 +1,1 @@\n+" + content + "\n")
}
