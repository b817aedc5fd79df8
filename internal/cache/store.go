// Copyright Contributors to the Sykli project

// Package cache defines the content-addressed cache contract used by
// the scheduler to skip re-executing tasks whose fingerprint has
// already produced outputs.
package cache

import (
	"context"
	"io"
	"time"

	"github.com/yairfalse/sykli/internal/fingerprint"
)

// Record is the metadata stored alongside a cached task's outputs.
type Record struct {
	Fingerprint string
	TaskName    string
	Outputs     []string // relative output names, in declaration order
	CreatedAt   time.Time
	DurationMS  int64
}

// Writer accumulates a task's declared outputs under a pending
// fingerprint entry. Callers must call Commit on success; an entry
// that is never committed is never visible to Lookup or Materialize,
// and Abort deletes what was written for it.
type Writer interface {
	// Create opens outputName for writing within this entry.
	Create(outputName string) (io.WriteCloser, error)
	// Commit finalizes the entry, making it visible to Lookup/Materialize.
	Commit(ctx context.Context, rec Record) error
	// Abort discards everything written so far.
	Abort() error
}

// Store is the cache contract. Implementations must make Lookup safe
// to call concurrently with OpenForWrite for the same fingerprint
// (single-flighting concurrent producers is the implementation's
// responsibility, not the caller's).
type Store interface {
	// Lookup reports whether fp has a committed entry and returns its record.
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (Record, bool, error)
	// OpenForWrite begins a new entry for fp. If a commit for fp races
	// in concurrently, implementations may coalesce the two callers
	// (single-flight) rather than doing the work twice.
	OpenForWrite(ctx context.Context, fp fingerprint.Fingerprint) (Writer, error)
	// Materialize copies a committed entry's outputs into destDir,
	// preserving relative paths.
	Materialize(ctx context.Context, fp fingerprint.Fingerprint, destDir string) (Record, error)
}
