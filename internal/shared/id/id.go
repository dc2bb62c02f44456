// Package id provides centralized ID generation for the update engine.
//
// All recovery-relevant artifacts (snapshots, updates, error entries) carry
// prefixed ULIDs so log lines stay readable and lexicographically sortable
// by creation time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SnapshotID identifies a container snapshot.
type SnapshotID string

// UpdateID identifies a single pipeline execution.
type UpdateID string

// ErrorID identifies an error log entry.
type ErrorID string

const (
	SnapshotPrefix = "snap"
	UpdatePrefix   = "upd"
	ErrorPrefix    = "err"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSnapshotID generates a new snapshot ID.
func NewSnapshotID() SnapshotID {
	return SnapshotID(Default().GenerateWithPrefix(SnapshotPrefix))
}

// NewUpdateID generates a new update ID.
func NewUpdateID() UpdateID {
	return UpdateID(Default().GenerateWithPrefix(UpdatePrefix))
}

// NewErrorID generates a new error entry ID.
func NewErrorID() ErrorID {
	return ErrorID(Default().GenerateWithPrefix(ErrorPrefix))
}
