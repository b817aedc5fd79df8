// Copyright Contributors to the Sykli project

// Package target defines the execution target capability set: a
// minimal required Execute capability, plus optional Lifecycle,
// Storage, and Secrets capabilities that drivers opt into by
// implementing the corresponding interface.
package target

import (
	"context"
	"io"

	"github.com/yairfalse/sykli/internal/pipeline"
)

// Mount describes a path made visible inside a task's execution
// environment, sourced from a named resource.
type Mount struct {
	Resource string
	Path     string
}

// Service is a sidecar container started alongside a task.
type Service struct {
	Name  string
	Image string
}

// Spec is everything a driver needs to run one task.
type Spec struct {
	TaskName    string
	Command     string
	Image       string
	Workdir     string
	Env         map[string]string
	Mounts      []Mount
	CacheMounts []Mount
	Services    []Service
	TimeoutSecs int
	K8s         *pipeline.K8sOptions
	K8sRaw      string
}

// Result is what running a Spec produced.
type Result struct {
	ExitCode       int
	Stdout         string
	Stderr         string
	ProducedOutputs map[string]string // declared output name -> materialized path
}

// Driver is the single required capability: something that can
// execute a task spec and report its outcome.
type Driver interface {
	Name() string
	Execute(ctx context.Context, spec Spec) (Result, error)
}

// Lifecycle adds setup/teardown hooks run once around an entire
// pipeline execution.
type Lifecycle interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// Storage provides artifact and cache-volume management. Drivers that
// don't implement it report not-supported, and the scheduler falls
// back to local filesystem artifact passing.
type Storage interface {
	// ArtifactWriter opens a writer for a produced artifact.
	ArtifactWriter(ctx context.Context, taskName, artifactName string) (io.WriteCloser, error)
	// ArtifactPath returns the driver-native location of a produced artifact.
	ArtifactPath(taskName, artifactName string) string
	// CopyArtifact materializes an upstream artifact at dst.
	CopyArtifact(ctx context.Context, src, dst string) error
}

// Secrets resolves secret values through the target's native store
// (e.g. a Kubernetes Secret object). Drivers without a native store
// don't implement it; the secret resolver then skips this step and
// goes on to the bare-name process environment.
type Secrets interface {
	ResolveSecret(ctx context.Context, name string) (string, error)
}

// HasLifecycle reports whether d implements Lifecycle.
func HasLifecycle(d Driver) (Lifecycle, bool) {
	l, ok := d.(Lifecycle)
	return l, ok
}

// HasStorage reports whether d implements Storage.
func HasStorage(d Driver) (Storage, bool) {
	s, ok := d.(Storage)
	return s, ok
}

// HasSecrets reports whether d implements Secrets.
func HasSecrets(d Driver) (Secrets, bool) {
	s, ok := d.(Secrets)
	return s, ok
}

// ErrSecretNotSupported is returned by a driver whose Secrets
// capability cannot resolve a particular name's kind of backing
// store, distinguishing it from ErrSecretNotFound.
var ErrSecretNotSupported = secretErr("secret source not supported")

// ErrSecretNotFound indicates the driver's native store has no value for the name.
var ErrSecretNotFound = secretErr("secret not found")

type secretErr string

func (e secretErr) Error() string { return string(e) }
