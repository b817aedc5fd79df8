// Copyright Contributors to the Sykli project

// Package docker implements the "docker" target driver: tasks run as
// a created-started-waited container per execution, grounded on the
// Docker Engine API client.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/yairfalse/sykli/internal/target"
)

// Driver runs tasks in Docker containers. Dir roots host-side mount
// sources; Labels are attached to every created container for
// cleanup/inspection.
type Driver struct {
	api    *client.Client
	Dir    string
	Labels map[string]string
}

// New dials the Docker daemon, trying the environment-configured host
// first and reporting an error if it cannot be reached — unlike a
// multi-host fallback dance, the engine has exactly one daemon to
// target per run.
func New(dir string) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker: daemon unreachable: %w", err)
	}
	return &Driver{api: cli, Dir: dir, Labels: map[string]string{"sykli.managed": "true"}}, nil
}

func (d *Driver) Name() string { return "docker" }

func (d *Driver) Teardown(ctx context.Context) error {
	return d.api.Close()
}

// Execute creates a container from spec.Image running spec.Command
// under /bin/sh, binds every declared mount, streams demuxed
// stdout/stderr, and removes the container once it exits.
func (d *Driver) Execute(ctx context.Context, spec target.Spec) (target.Result, error) {
	if spec.Image == "" {
		return target.Result{}, fmt.Errorf("docker: task %q has no image", spec.TaskName)
	}
	if spec.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSecs)*time.Second)
		defer cancel()
	}

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        []string{"/bin/sh", "-c", spec.Command},
		Env:        envSlice(spec.Env),
		WorkingDir: spec.Workdir,
		Labels:     d.Labels,
	}
	hostCfg := &container.HostConfig{
		Mounts: d.buildMounts(spec),
	}

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return target.Result{}, fmt.Errorf("docker: create container: %w", err)
	}
	id := created.ID
	defer func() {
		_ = d.api.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}()

	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return target.Result{}, fmt.Errorf("docker: start container: %w", err)
	}

	statusCh, errCh := d.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return target.Result{}, fmt.Errorf("docker: wait container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := d.collectLogs(ctx, id)
	if err != nil {
		return target.Result{}, fmt.Errorf("docker: collect logs: %w", err)
	}

	return target.Result{
		ExitCode:        exitCode,
		Stdout:          stdout,
		Stderr:          stderr,
		ProducedOutputs: map[string]string{},
	}, nil
}

func (d *Driver) collectLogs(ctx context.Context, id string) (string, string, error) {
	logs, err := d.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

func (d *Driver) buildMounts(spec target.Spec) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(spec.Mounts)+len(spec.CacheMounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: filepath.Join(d.Dir, m.Resource),
			Target: m.Path,
		})
	}
	for _, m := range spec.CacheMounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: filepath.Join(d.Dir, ".cache", m.Resource),
			Target: m.Path,
		})
	}
	return mounts
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// ArtifactWriter satisfies target.Storage by writing to a host path
// under Dir; docker bind mounts make the container's outputs directly
// visible there, so no container-to-host copy step is needed.
func (d *Driver) ArtifactWriter(ctx context.Context, taskName, artifactName string) (io.WriteCloser, error) {
	path := d.ArtifactPath(taskName, artifactName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// ArtifactPath returns the host-side path backing a task's artifact.
func (d *Driver) ArtifactPath(taskName, artifactName string) string {
	return filepath.Join(d.Dir, taskName, artifactName)
}

// CopyArtifact copies src to dst on the host side of the bind mount.
func (d *Driver) CopyArtifact(ctx context.Context, src, dst string) error {
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
