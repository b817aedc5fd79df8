// Copyright Contributors to the Sykli project

// Package fingerprint computes deterministic cache keys for task
// nodes: a digest over image, command, sorted env pairs, sorted
// input (path, content-hash) pairs, sorted output names, and sorted
// upstream-artifact fingerprints.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Fingerprint is a 256-bit cache key.
type Fingerprint [32]byte

// String returns the lowercase hex form used as the on-disk cache key.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Input is a single (repo-relative path, content digest) pair.
type Input struct {
	Path   string
	Digest string // hex sha256 of file content
}

// Spec bundles every cache-relevant field of a concrete task node.
type Spec struct {
	Image            string
	Command          string
	Env              map[string]string
	Inputs           []Input
	OutputNames      []string
	UpstreamFingerprints []Fingerprint
}

// Compute folds Spec into a single Fingerprint. Sorting every
// variable-ordered collection first makes the result invariant to
// declaration order; every field is written length-prefixed into one
// SHA-256, which removes ambiguity from concatenating variable-length
// strings (e.g. env "AB"+"C" vs "A"+"BC").
func Compute(s Spec) Fingerprint {
	h := sha256.New()

	writeField(h, "image", s.Image)
	writeField(h, "command", s.Command)

	envKeys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		writeField(h, "env.k", k)
		writeField(h, "env.v", s.Env[k])
	}

	inputs := append([]Input(nil), s.Inputs...)
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Path < inputs[j].Path })
	for _, in := range inputs {
		writeField(h, "input.path", in.Path)
		writeField(h, "input.digest", in.Digest)
	}

	outputs := append([]string(nil), s.OutputNames...)
	sort.Strings(outputs)
	for _, o := range outputs {
		writeField(h, "output", o)
	}

	ups := append([]Fingerprint(nil), s.UpstreamFingerprints...)
	sort.Slice(ups, func(i, j int) bool {
		return string(ups[i][:]) < string(ups[j][:])
	})
	for _, u := range ups {
		writeField(h, "upstream", u.String())
	}

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// writeField hashes a length-prefixed (name, value) pair so that
// concatenation boundaries never collide across differing splits.
func writeField(h hash.Hash, name, value string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(name)))
	h.Write(lenBuf[:])
	h.Write([]byte(name))
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
	h.Write(lenBuf[:])
	h.Write([]byte(value))
}

// Cacheable reports whether a task with the given declared inputs
// participates in the cache at all: an empty input set means the
// task is never cacheable.
func Cacheable(inputPatterns []string) bool {
	return len(inputPatterns) > 0
}
