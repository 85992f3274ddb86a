package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainStateNode = "orchestrate/state-node/v1"
	DomainDiff      = "orchestrate/diff/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DiffID returns the content address of a unified diff.
func DiffID(diff []byte) string {
	return hashWithDomain(DomainDiff, diff)
}

// NodeHash computes the content-addressed identity of a state node. It binds
// the node to its predecessor through parentHash, so rewriting any earlier
// node changes every later hash.
func NodeHash(n StateNode) (string, error) {
	obj := map[string]any{
		"id":           n.ID,
		"schedule":     n.Schedule,
		"process":      n.Process,
		"outcome":      n.Outcome,
		"error_code":   n.ErrorCode,
		"files_hash":   n.FilesHash,
		"parent_hash":  n.ParentHash,
		"diff_forward": DiffID(n.DiffForward),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("NodeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainStateNode, canonical), nil
}

// MustNodeHash is like NodeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNodeHash(n StateNode) string {
	h, err := NodeHash(n)
	if err != nil {
		panic(err)
	}
	return h
}
