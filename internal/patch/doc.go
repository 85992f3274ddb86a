// Package patch parses, applies, inverts and generates unified diffs over
// tree.Tree snapshots.
//
// Diffs are parsed with sourcegraph/go-diff and always rendered back in git
// form ("diff --git a/p b/p" with a/ and b/ prefixes), so every stored diff can
// be applied with `patch -p1`. Application is strict: hunks must match at the
// exact line numbers in their headers, with no fuzz or offset search.
package patch
