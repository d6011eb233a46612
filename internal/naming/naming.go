// Package naming derives stable logical names for declared resources.
// Repeated sub-resources sharing a base name (e.g. several policy
// attachments on one role) get a deterministic content-hash suffix so they
// never collide and re-running the same program yields the same names.
package naming

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

const suffixLen = 8

// Assigner hands out logical names for one run. It is safe for concurrent
// use and must not be shared across runs.
type Assigner struct {
	mu    sync.Mutex
	cache map[string]string // content hash -> assigned suffix
}

func NewAssigner() *Assigner {
	return &Assigner{cache: make(map[string]string)}
}

// Assign returns the base name unchanged. Used for resources declared
// exactly once.
func (a *Assigner) Assign(base string) string {
	return base
}

// AssignWithSuffix returns base plus a truncated content-hash suffix derived
// from identifyingContent. Equal content always yields the same name within
// and across runs; distinct content yields distinct names.
func (a *Assigner) AssignWithSuffix(base, identifyingContent string) string {
	sum := sha1.Sum([]byte(identifyingContent))
	digest := hex.EncodeToString(sum[:])

	a.mu.Lock()
	suffix, ok := a.cache[digest]
	if !ok {
		suffix = digest[:suffixLen]
		a.cache[digest] = suffix
	}
	a.mu.Unlock()

	return base + "-" + suffix
}
