// Copyright Contributors to the Sykli project

// Package fsstore implements cache.Store on the local filesystem: each
// entry lives under <root>/<fp[:2]>/<fp>/, written to a sibling
// .tmp-<fp>-* directory of its own and committed with a single atomic rename so a
// crash mid-write never leaves a partial entry visible to Lookup.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/sykli/internal/cache"
	"github.com/yairfalse/sykli/internal/fingerprint"
)

const metadataFile = "record.json"

// Store is a filesystem-backed cache.Store rooted at Dir.
type Store struct {
	Dir string

	group singleflight.Group
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) entryDir(fp fingerprint.Fingerprint) string {
	hex := fp.String()
	return filepath.Join(s.Dir, hex[:2], hex)
}

func (s *Store) tempDir(fp fingerprint.Fingerprint) string {
	hex := fp.String()
	return filepath.Join(s.Dir, hex[:2], ".tmp-"+hex)
}

// Lookup reports whether fp has a committed entry.
func (s *Store) Lookup(_ context.Context, fp fingerprint.Fingerprint) (cache.Record, bool, error) {
	rec, err := readRecord(s.entryDir(fp))
	if os.IsNotExist(err) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, err
	}
	return rec, true, nil
}

// OpenForWrite begins a new pending entry in a temp directory of its
// own beside the entry. Concurrent writers for the same fingerprint
// never touch each other's files; Commit coalesces them so only one
// entry lands and the rest see the winner's result via Lookup.
func (s *Store) OpenForWrite(_ context.Context, fp fingerprint.Fingerprint) (cache.Writer, error) {
	base := s.tempDir(fp)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(filepath.Dir(base), filepath.Base(base)+"-")
	if err != nil {
		return nil, fmt.Errorf("fsstore: create temp dir: %w", err)
	}
	return &writer{store: s, fp: fp, dir: dir}, nil
}

// Materialize copies a committed entry's outputs into destDir.
func (s *Store) Materialize(_ context.Context, fp fingerprint.Fingerprint, destDir string) (cache.Record, error) {
	src := s.entryDir(fp)
	rec, err := readRecord(src)
	if err != nil {
		return cache.Record{}, fmt.Errorf("fsstore: materialize: %w", err)
	}
	for _, name := range rec.Outputs {
		if err := copyFile(filepath.Join(src, name), filepath.Join(destDir, name)); err != nil {
			return cache.Record{}, fmt.Errorf("fsstore: materialize %s: %w", name, err)
		}
	}
	return rec, nil
}

type writer struct {
	store *Store
	fp    fingerprint.Fingerprint
	dir   string
}

func (w *writer) Create(outputName string) (io.WriteCloser, error) {
	path := filepath.Join(w.dir, outputName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Commit writes the record metadata and atomically renames the temp
// directory into place. Concurrent commits for the same fingerprint
// are coalesced through the store's singleflight.Group so only one
// rename happens; the rest observe its outcome.
func (w *writer) Commit(ctx context.Context, rec cache.Record) error {
	rec.Fingerprint = w.fp.String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("fsstore: marshal record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("fsstore: write record: %w", err)
	}

	key := w.fp.String()
	_, err, _ = w.store.group.Do(key, func() (any, error) {
		dest := w.store.entryDir(w.fp)
		if _, statErr := os.Stat(dest); statErr == nil {
			// Another commit already landed this fingerprint; ours is redundant.
			return nil, os.RemoveAll(w.dir)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		return nil, os.Rename(w.dir, dest)
	})
	// A writer whose commit was coalesced into another's still holds its
	// own temp directory; the leader's was renamed away already.
	_ = os.RemoveAll(w.dir)
	return err
}

func (w *writer) Abort() error {
	return os.RemoveAll(w.dir)
}

func readRecord(dir string) (cache.Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return cache.Record{}, err
	}
	var rec cache.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return cache.Record{}, fmt.Errorf("fsstore: unmarshal record: %w", err)
	}
	return rec, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
