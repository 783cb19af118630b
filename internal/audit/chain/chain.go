// Package chain implements the stateless hash chain engine. Each record's
// digest is SHA-256 over its canonical encoding concatenated with the
// previous record's digest, so the same computation serves both append and
// verification.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"chainlog/internal/audit/canonical"
	"chainlog/internal/audit/models"
)

// Genesis is the previous-hash sentinel for the first record in a log: an
// all-zero digest of the same length as every real hash.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// DigestHexLen is the length of a hex-encoded chain digest.
const DigestHexLen = sha256.Size * 2

// Engine computes chain digests. It holds no state; one instance can be
// shared by the ingest and verify paths.
type Engine struct{}

// New returns a chain engine.
func New() *Engine {
	return &Engine{}
}

// ComputeHash returns the hex digest of canonicalBytes concatenated with the
// previous record's hex hash.
func (e *Engine) ComputeHash(canonicalBytes []byte, prevHash string) string {
	h := sha256.New()
	h.Write(canonicalBytes)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// HashRecord computes the digest for a record from its hashed fields and its
// PrevHash. The record's stored Hash is ignored.
func (e *Engine) HashRecord(r *models.Record) string {
	return e.ComputeHash(canonical.Encode(r), r.PrevHash)
}

// ValidHash reports whether s is syntactically a chain digest.
func ValidHash(s string) bool {
	if len(s) != DigestHexLen {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) == -1
}
