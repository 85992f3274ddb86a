// Package tree holds an in-memory snapshot of a tracked working directory.
//
// A Tree maps slash-separated relative paths to file contents. Its hash is
// the SHA-256 of a sha256sum-style manifest ("<hex>  <path>\n" per file,
// sorted bytewise by path), so a plain shell pipeline can reproduce it:
//
//	find . -type f | sed 's|^\./||' | LC_ALL=C sort | xargs sha256sum | sha256sum
//
// Only regular files are tracked. Modes, timestamps and empty directories
// are not part of a Tree.
package tree
