package patch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

const editDiff = `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1,3 +1,3 @@
 one
-two
+2
 three
diff --git a/new.txt b/new.txt
new file mode 100644
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,1 @@
+hi
`

func baseTree() tree.Tree {
	return tree.Tree{
		"a.txt":   []byte("one\ntwo\nthree\n"),
		"old.txt": []byte("bye\n"),
	}
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(editDiff))
	require.NoError(t, err)
	require.Len(t, p.Files, 2)
	assert.Equal(t, []string{"a.txt", "new.txt"}, p.Paths())
	assert.Equal(t, OpModify, p.Files[0].Op)
	assert.Equal(t, OpCreate, p.Files[1].Op)
}

func TestParseBlank(t *testing.T) {
	p, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestParseRejectsEscapingPath(t *testing.T) {
	_, err := Parse([]byte("--- a/../../etc/passwd\n+++ b/../../etc/passwd\n@@ -1,1 +1,1 @@\n-x\n+y\n"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	base := baseTree()
	got, err := Apply(base, []byte(editDiff))
	require.NoError(t, err)

	assert.Equal(t, "one\n2\nthree\n", string(got["a.txt"]))
	assert.Equal(t, "hi\n", string(got["new.txt"]))
	assert.Equal(t, "bye\n", string(got["old.txt"]))

	assert.Equal(t, "one\ntwo\nthree\n", string(base["a.txt"]), "input tree is not modified")
	assert.NotContains(t, base, "new.txt")
}

func TestApplyRejects(t *testing.T) {
	tests := []struct {
		name string
		tree tree.Tree
		diff string
	}{
		{
			name: "context mismatch",
			tree: tree.Tree{"a.txt": []byte("one\nTWO\nthree\n")},
			diff: editDiff,
		},
		{
			name: "create existing",
			tree: tree.Tree{"a.txt": []byte("one\ntwo\nthree\n"), "new.txt": []byte("x\n")},
			diff: editDiff,
		},
		{
			name: "modify missing",
			tree: tree.Tree{},
			diff: editDiff,
		},
		{
			name: "offset hunk",
			tree: tree.Tree{"a.txt": []byte("zero\none\ntwo\nthree\n")},
			diff: editDiff,
		},
		{
			name: "newline drift",
			tree: tree.Tree{"a.txt": []byte("one\ntwo\nthree")},
			diff: editDiff,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.tree, []byte(tt.diff))
			require.Error(t, err)
			assert.True(t, IsReject(err))
		})
	}
}

func TestApplyDelete(t *testing.T) {
	d := "diff --git a/old.txt b/old.txt\ndeleted file mode 100644\n--- a/old.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-bye\n"
	got, err := Apply(baseTree(), []byte(d))
	require.NoError(t, err)
	assert.NotContains(t, got, "old.txt")
}

func TestInvertUndoes(t *testing.T) {
	base := baseTree()
	forward, err := Apply(base, []byte(editDiff))
	require.NoError(t, err)

	inverse, err := Invert([]byte(editDiff))
	require.NoError(t, err)

	back, err := Apply(forward, inverse)
	require.NoError(t, err)
	assert.True(t, base.Equal(back))
}

func TestInvertTwiceIsIdentity(t *testing.T) {
	p, err := Parse([]byte(editDiff))
	require.NoError(t, err)

	once, err := p.Bytes()
	require.NoError(t, err)
	twice, err := p.Invert().Invert().Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestInvertOrdersRemovalsFirst(t *testing.T) {
	inverse, err := Invert([]byte(editDiff))
	require.NoError(t, err)
	assert.Contains(t, string(inverse), " one\n-2\n+two\n three\n")
	assert.Contains(t, string(inverse), "deleted file mode 100644\n--- a/new.txt\n+++ /dev/null\n")
}

func captureCases() []struct {
	name     string
	from, to tree.Tree
} {
	return []struct {
		name     string
		from, to tree.Tree
	}{
		{"edit middle", tree.Tree{"f": []byte("a\nb\nc\nd\ne\nf\ng\nh\ni\nj\n")}, tree.Tree{"f": []byte("a\nb\nc\nd\nE\nf\ng\nh\ni\nj\n")}},
		{"two hunks", tree.Tree{"f": []byte("1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n")}, tree.Tree{"f": []byte("0\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n")}},
		{"create", tree.Tree{}, tree.Tree{"dir/new.go": []byte("package dir\n")}},
		{"delete", tree.Tree{"gone": []byte("x\ny\n")}, tree.Tree{}},
		{"add trailing newline", tree.Tree{"f": []byte("a\nb")}, tree.Tree{"f": []byte("a\nb\n")}},
		{"drop trailing newline", tree.Tree{"f": []byte("a\nb\n")}, tree.Tree{"f": []byte("a\nb")}},
		{"change last line without newline", tree.Tree{"f": []byte("a\nb")}, tree.Tree{"f": []byte("a\nc")}},
		{"append to unterminated file", tree.Tree{"f": []byte("a")}, tree.Tree{"f": []byte("a\nb\nc")}},
		{"create empty file", tree.Tree{}, tree.Tree{"empty": {}}},
		{"delete empty file", tree.Tree{"empty": {}}, tree.Tree{}},
		{"empty to content", tree.Tree{"f": {}}, tree.Tree{"f": []byte("x\n")}},
		{"blank lines", tree.Tree{"f": []byte("\n\n\nx\n")}, tree.Tree{"f": []byte("\n\ny\n\nx\n")}},
		{"space in name", tree.Tree{"d/x y.txt": []byte("a\n")}, tree.Tree{"d/x y.txt": []byte("b\n")}},
		{"create empty with space", tree.Tree{}, tree.Tree{"x y.txt": {}}},
		{"delete empty with space", tree.Tree{"x y.txt": {}}, tree.Tree{}},
		{"quote and backslash", tree.Tree{}, tree.Tree{`q"b\s.txt`: []byte("z\n")}},
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	for _, tc := range captureCases() {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Capture(context.Background(), tc.from, tc.to, CaptureOptions{Context: DefaultContext, Workers: 2})
			require.NoError(t, err)

			// Render and re-parse so the text form is what gets exercised.
			text, err := p.Bytes()
			require.NoError(t, err)
			reparsed, err := Parse(text)
			require.NoError(t, err, "diff:\n%s", text)

			got, err := reparsed.Apply(tc.from)
			require.NoError(t, err, "diff:\n%s", text)
			assert.Equal(t, tc.to.Hash(), got.Hash(), "diff:\n%s", text)

			back, err := reparsed.Invert().Apply(got)
			require.NoError(t, err)
			assert.Equal(t, tc.from.Hash(), back.Hash())
		})
	}
}

func TestCaptureIdenticalTreesIsEmpty(t *testing.T) {
	p, err := Capture(context.Background(), baseTree(), baseTree(), CaptureOptions{Context: -1})
	require.NoError(t, err)
	assert.True(t, p.Empty())

	text, err := p.Bytes()
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestCaptureRendersGitHeaders(t *testing.T) {
	to := baseTree()
	to["a.txt"] = []byte("one\n2\nthree\n")
	to["new.txt"] = []byte("hi\n")

	p, err := Capture(context.Background(), baseTree(), to, CaptureOptions{Context: 3})
	require.NoError(t, err)
	text, err := p.Bytes()
	require.NoError(t, err)

	assert.Contains(t, string(text), "diff --git a/a.txt b/a.txt\n--- a/a.txt\n+++ b/a.txt\n")
	assert.Contains(t, string(text), " one\n-two\n+2\n three\n")
	assert.Contains(t, string(text), "new file mode 100644\n--- /dev/null\n+++ b/new.txt\n")
	assert.Contains(t, string(text), "+hi\n")
}

func TestCaptureQuotesNamesWithSpaces(t *testing.T) {
	to := tree.Tree{"x y.txt": []byte("hi\n"), "empty file": {}}

	p, err := Capture(context.Background(), tree.Tree{}, to, CaptureOptions{Context: 3})
	require.NoError(t, err)
	text, err := p.Bytes()
	require.NoError(t, err)

	assert.Contains(t, string(text), "diff --git \"a/x y.txt\" \"b/x y.txt\"\n")
	assert.Contains(t, string(text), "--- /dev/null\n+++ \"b/x y.txt\"\n")
	assert.Contains(t, string(text), "diff --git \"a/empty file\" \"b/empty file\"\nnew file mode 100644\n")

	reparsed, err := Parse(text)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x y.txt", "empty file"}, reparsed.Paths())
}

func TestGitHeaderNames(t *testing.T) {
	tests := []struct {
		line string
		a, b string
		ok   bool
	}{
		{"diff --git a/f b/f", "a/f", "b/f", true},
		{`diff --git "a/x y" "b/x y"`, "a/x y", "b/x y", true},
		{`diff --git "a/t\tab" "b/t\tab"`, "a/t\tab", "b/t\tab", true},
		{`diff --git "a/caf\303\251" "b/caf\303\251"`, "a/café", "b/café", true},
		{"diff --git a/x y b/x y", "", "", false},
		{`diff --git "a/open`, "", "", false},
		{"index 0000000..e69de29", "", "", false},
	}
	for _, tt := range tests {
		a, b, ok := gitHeaderNames([]string{tt.line})
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.a, a, tt.line)
		assert.Equal(t, tt.b, b, tt.line)
	}
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "b/plain.txt", quoteName("b/plain.txt"))
	assert.Equal(t, `"b/x y.txt"`, quoteName("b/x y.txt"))
	assert.Equal(t, `"b/q\"\\"`, quoteName(`b/q"\`))
	assert.Equal(t, `"b/caf\303\251"`, quoteName("b/café"))
}

func TestCaptureMarksMissingNewline(t *testing.T) {
	p, err := Capture(context.Background(), tree.Tree{"f": []byte("a\nb")}, tree.Tree{"f": []byte("a\nc")}, CaptureOptions{Context: 3})
	require.NoError(t, err)
	text, err := p.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(text), "-b\n\\ No newline at end of file\n+c\n\\ No newline at end of file\n")
}

func TestCaptureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Capture(ctx, tree.Tree{}, tree.Tree{"a": []byte("x")}, CaptureOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
