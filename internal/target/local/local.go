// Copyright Contributors to the Sykli project

// Package local implements the "local" target driver: tasks run as
// direct child processes of the engine via os/exec, with Resources
// mapped straight onto host directories.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yairfalse/sykli/internal/target"
)

// Driver runs tasks as local OS processes, rooted under Dir for
// mount/output resolution.
type Driver struct {
	Dir string
}

// New returns a local Driver rooted at dir.
func New(dir string) *Driver {
	return &Driver{Dir: dir}
}

func (d *Driver) Name() string { return "local" }

// Execute shells out to /bin/sh -c <command>, with the working
// directory set to spec.Workdir under Dir (or Dir itself), and mounts
// bound in as environment-visible paths rather than filesystem
// namespace remaps (a host process has no container boundary to
// enforce with).
func (d *Driver) Execute(ctx context.Context, spec target.Spec) (target.Result, error) {
	if spec.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSecs)*time.Second)
		defer cancel()
	}

	workdir := d.Dir
	if spec.Workdir != "" {
		workdir = filepath.Join(d.Dir, spec.Workdir)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return target.Result{}, fmt.Errorf("local: prepare workdir: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", spec.Command) //nolint:gosec // command is the pipeline author's declared task command
	cmd.Dir = workdir
	cmd.Env = mergedEnv(spec.Env, d.Dir, spec.Mounts, spec.CacheMounts)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := target.Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ProducedOutputs: map[string]string{},
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case ctx.Err() == context.DeadlineExceeded:
		return result, ctx.Err()
	default:
		return result, fmt.Errorf("local: exec: %w", runErr)
	}

	return result, nil
}

func mergedEnv(env map[string]string, root string, mounts, cacheMounts []target.Mount) []string {
	out := os.Environ()
	for _, m := range mounts {
		out = append(out, fmt.Sprintf("SYKLI_MOUNT_%s=%s", envKey(m.Resource), filepath.Join(root, m.Resource)))
	}
	for _, m := range cacheMounts {
		out = append(out, fmt.Sprintf("SYKLI_CACHE_%s=%s", envKey(m.Resource), filepath.Join(root, ".cache", m.Resource)))
	}
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// ArtifactPath returns artifactName's location under taskName's
// directory in Dir's .artifacts tree.
func (d *Driver) ArtifactPath(taskName, artifactName string) string {
	return filepath.Join(d.Dir, ".artifacts", taskName, artifactName)
}

// ArtifactWriter opens a writer at ArtifactPath, creating parent
// directories as needed. Implements target.Storage.
func (d *Driver) ArtifactWriter(ctx context.Context, taskName, artifactName string) (io.WriteCloser, error) {
	path := d.ArtifactPath(taskName, artifactName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("local: prepare artifact dir: %w", err)
	}
	return os.Create(path)
}

// CopyArtifact copies the file at src to dst, creating dst's parent
// directory as needed. Implements target.Storage.
func (d *Driver) CopyArtifact(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("local: prepare artifact dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("local: open artifact source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("local: create artifact dest: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("local: copy artifact: %w", err)
	}
	return nil
}

// ResolveSecret looks name up in the engine's own process environment,
// the same store local tasks themselves inherit. Implements target.Secrets.
func (d *Driver) ResolveSecret(ctx context.Context, name string) (string, error) {
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", target.ErrSecretNotFound
}

func envKey(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		} else if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}
