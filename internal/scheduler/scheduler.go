// Copyright Contributors to the Sykli project

// Package scheduler runs an elaborated graph: a bounded pool of
// workers draws ready tasks from a frontier, the scheduler loop is
// the single owner of all graph state, and workers report completions
// back over a bounded channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/sykli/internal/cache"
	"github.com/yairfalse/sykli/internal/elaborate"
	"github.com/yairfalse/sykli/internal/fingerprint"
	"github.com/yairfalse/sykli/internal/logging"
	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
	"github.com/yairfalse/sykli/internal/secret"
	"github.com/yairfalse/sykli/internal/target"
)

// Scheduler executes an elaborated Graph to completion.
type Scheduler struct {
	Graph         *elaborate.Graph
	Drivers       map[string]target.Driver
	DefaultTarget string
	Cache         cache.Store
	Secrets       *secret.Resolver
	Concurrency   int
	WorkspaceDir  string
	PipelineEnv   map[string]string

	sf          singleflight.Group
	mu          sync.Mutex
	fingerprints map[string]fingerprint.Fingerprint
}

// Run executes every node in s.Graph and returns the sealed RunRecord.
func (s *Scheduler) Run(ctx context.Context, runID string) (*manifest.RunRecord, error) {
	log := logging.FromContext(ctx).WithValues("run_id", runID, "pipeline", s.Graph.PipelineName)
	s.fingerprints = make(map[string]fingerprint.Fingerprint)

	rec := &manifest.RunRecord{
		RunID:     runID,
		Pipeline:  s.Graph.PipelineName,
		StartedAt: time.Now().UTC(),
	}

	results := make(map[string]manifest.TaskResult, len(s.Graph.Order))
	indegree := make(map[string]int, len(s.Graph.Order))
	var frontier []string

	for _, name := range s.Graph.Order {
		n := s.Graph.Nodes[name]
		if n.Pruned {
			results[name] = manifest.TaskResult{TaskName: name, Status: "skipped", Reason: n.PruneReason}
			continue
		}
		indegree[name] = len(s.Graph.ActiveDependsOn(name))
		if indegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}

	type completion struct {
		name   string
		result manifest.TaskResult
	}

	sem := make(chan struct{}, s.Concurrency)
	completions := make(chan completion, s.Concurrency)
	inFlight := 0
	aborted := false
	var runErr error

	launch := func(name string) {
		sem <- struct{}{}
		inFlight++
		go func() {
			res := s.runNode(ctx, name)
			// Free the slot before reporting, so the loop never sees
			// inFlight == 0 while the semaphore still looks full.
			<-sem
			completions <- completion{name: name, result: res}
		}()
	}

	for len(frontier) > 0 || inFlight > 0 {
		for len(frontier) > 0 && len(sem) < cap(sem) {
			name := frontier[0]
			frontier = frontier[1:]

			if aborted {
				results[name] = manifest.TaskResult{TaskName: name, Status: "skipped", Reason: "aborted"}
				s.admitDependents(name, indegree, results, &frontier)
				continue
			}
			if skip, reason := s.inheritedSkip(name, results); skip {
				results[name] = manifest.TaskResult{TaskName: name, Status: "skipped", Reason: reason}
				s.admitDependents(name, indegree, results, &frontier)
				continue
			}
			launch(name)
		}

		if inFlight == 0 {
			break
		}

		c := <-completions
		inFlight--
		results[c.name] = c.result
		log.V(1).Info("task completed", "task", c.name, "status", c.result.Status)

		if c.result.Status == "failed" {
			onFail := s.onFailFor(c.name)
			if onFail == pipeline.OnFailFail || onFail == pipeline.OnFailDefault {
				aborted = true
				if runErr == nil {
					runErr = fmt.Errorf("task %q failed: %s", c.name, c.result.Reason)
				}
			}
		}

		s.admitDependents(c.name, indegree, results, &frontier)
	}

	rec.FinishedAt = time.Now().UTC()
	rec.Status = "success"
	for _, res := range results {
		rec.Tasks = append(rec.Tasks, res)
	}
	sort.Slice(rec.Tasks, func(i, j int) bool {
		return indexOf(s.Graph.Order, rec.Tasks[i].TaskName) < indexOf(s.Graph.Order, rec.Tasks[j].TaskName)
	})
	if runErr != nil {
		rec.Status = "failed"
	}
	if ctx.Err() != nil {
		rec.Status = "cancelled"
	}

	return rec, runErr
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

// admitDependents decrements the in-degree of every dependent of name
// and pushes newly-ready ones onto the frontier.
func (s *Scheduler) admitDependents(name string, indegree map[string]int, results map[string]manifest.TaskResult, frontier *[]string) {
	for _, dep := range s.Graph.Dependents(name) {
		if _, done := results[dep]; done {
			continue
		}
		indegree[dep]--
		if indegree[dep] == 0 {
			*frontier = append(*frontier, dep)
		}
	}
}

// inheritedSkip reports whether name must be skipped because a
// predecessor failed with on_fail=skip, or because a predecessor gate
// timed out, and has not yet been marked skipped itself (skip cascades
// transitively down the DAG). A gate's gated_timeout is a failed
// synonym for successor admission: it always cascades, regardless of
// on_fail, since gates have no on_fail of their own.
func (s *Scheduler) inheritedSkip(name string, results map[string]manifest.TaskResult) (bool, string) {
	node := s.Graph.Nodes[name]
	for _, dep := range node.DependsOn {
		depResult, ok := results[dep]
		if !ok {
			continue
		}
		if depResult.Status == "gated_timeout" {
			return true, "upstream_gate_timeout"
		}
		if depResult.Status == "skipped" && (depResult.Reason == "upstream_failed" || depResult.Reason == "upstream_gate_timeout") {
			return true, depResult.Reason
		}
		if depResult.Status == "failed" && s.onFailFor(dep) == pipeline.OnFailSkip {
			return true, "upstream_failed"
		}
	}
	return false, ""
}

func (s *Scheduler) onFailFor(name string) pipeline.OnFail {
	n, ok := s.Graph.Nodes[name]
	if !ok || n.Kind != elaborate.NodeTask {
		return pipeline.OnFailDefault
	}
	return n.Task.OnFail
}

// runNode dispatches to gate or task execution depending on node kind.
func (s *Scheduler) runNode(ctx context.Context, name string) manifest.TaskResult {
	start := time.Now().UTC()
	node := s.Graph.Nodes[name]

	if node.Kind == elaborate.NodeGate {
		return s.runGate(ctx, name, node, start)
	}
	return s.runTask(ctx, name, node, start)
}

func (s *Scheduler) runGate(ctx context.Context, name string, node *elaborate.Node, start time.Time) manifest.TaskResult {
	ok, timedOut, err := resolveGate(ctx, node.Gate)
	finish := time.Now().UTC()
	base := manifest.TaskResult{TaskName: name, StartedAt: start, FinishedAt: finish, DurationMS: finish.Sub(start).Milliseconds()}

	switch {
	case err != nil:
		base.Status = "failed"
		base.Reason = err.Error()
	case timedOut:
		base.Status = "gated_timeout"
		base.Reason = "gated_timeout"
	case ok:
		base.Status = "success"
	default:
		base.Status = "failed"
		base.Reason = "gate_denied"
	}
	return base
}

func (s *Scheduler) runTask(ctx context.Context, name string, node *elaborate.Node, start time.Time) manifest.TaskResult {
	task := node.Task

	drv, err := s.driverFor(task)
	if err != nil {
		return failedResult(name, start, "driver_setup", err)
	}

	fp, inputs, err := s.computeFingerprint(task, node)
	if err != nil {
		return failedResult(name, start, "fingerprint", err)
	}
	s.storeFingerprint(name, fp)

	maxAttempts := task.Retry + 1
	var last manifest.TaskResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return failedResult(name, start, "cancelled", ctx.Err())
			case <-time.After(backoff(attempt - 1)):
			}
		}

		last = s.attempt(ctx, name, task, drv, fp, inputs, attempt, start)
		if last.Status == "success" || last.Status == "cached" {
			return last
		}
		if ctx.Err() != nil {
			last.Reason = "cancelled"
			return last
		}
	}
	return last
}

func (s *Scheduler) attempt(ctx context.Context, name string, task pipeline.Task, drv target.Driver, fp fingerprint.Fingerprint, inputs []fingerprint.Input, attempt int, start time.Time) manifest.TaskResult {
	cacheable := fingerprint.Cacheable(task.Inputs)

	if cacheable && attempt == 1 {
		if rec, hit, err := s.Cache.Lookup(ctx, fp); err == nil && hit {
			if _, mErr := s.Cache.Materialize(ctx, fp, s.WorkspaceDir); mErr == nil {
				finish := time.Now().UTC()
				return manifest.TaskResult{
					TaskName: name, Status: "cached", Cached: true, Attempt: attempt,
					StartedAt: start, FinishedAt: finish, DurationMS: finish.Sub(start).Milliseconds(),
					ExitCode: 0, Reason: rec.TaskName,
				}
			}
		}
	}

	env, err := s.prepareEnv(ctx, task, drv)
	if err != nil {
		return failedResult(name, start, "secret_unavailable", err)
	}

	if err := s.materializeInputFrom(ctx, drv, task); err != nil {
		return failedResult(name, start, "artifact_copy", err)
	}

	spec := target.Spec{
		TaskName:    name,
		Command:     task.Command,
		Image:       task.Container,
		Workdir:     task.Workdir,
		Env:         env,
		Mounts:      toTargetMounts(task.Mounts),
		CacheMounts: toTargetCacheMounts(task.CacheMounts),
		TimeoutSecs: task.TimeoutSecs,
		K8s:         task.K8s,
		K8sRaw:      task.K8sRaw,
	}

	execResult, err := drv.Execute(ctx, spec)
	finish := time.Now().UTC()
	result := manifest.TaskResult{
		TaskName: name, Attempt: attempt, StartedAt: start, FinishedAt: finish,
		DurationMS: finish.Sub(start).Milliseconds(),
	}
	if err != nil {
		result.Status = "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			result.Reason = "timeout"
		} else {
			result.Reason = err.Error()
		}
		return result
	}

	result.ExitCode = execResult.ExitCode
	result.Stdout = execResult.Stdout
	result.Stderr = execResult.Stderr

	if execResult.ExitCode != 0 {
		result.Status = "failed"
		result.Reason = "exec_failure"
		return result
	}

	result.Status = "success"

	if cacheable {
		_ = s.commitCache(ctx, name, task, fp, inputs)
	}
	return result
}

// commitCache single-flights the cache write per fingerprint so
// concurrent workers that raced to the same fingerprint (e.g. two
// matrix expansions with identical inputs) only write once.
func (s *Scheduler) commitCache(ctx context.Context, name string, task pipeline.Task, fp fingerprint.Fingerprint, inputs []fingerprint.Input) error {
	_, err, _ := s.sf.Do(fp.String(), func() (any, error) {
		w, err := s.Cache.OpenForWrite(ctx, fp)
		if err != nil {
			return nil, err
		}
		outputs := make([]string, 0, len(task.Outputs))
		for outName, relPath := range task.Outputs {
			if err := s.copyOutput(w, outName, relPath); err != nil {
				_ = w.Abort()
				return nil, err
			}
			outputs = append(outputs, outName)
		}
		sort.Strings(outputs)
		return nil, w.Commit(ctx, cache.Record{TaskName: name, Outputs: outputs})
	})
	return err
}

// copyOutput streams a task's declared output file at relPath (under
// the workspace) into the cache entry's writer under outName.
func (s *Scheduler) copyOutput(w cache.Writer, outName, relPath string) error {
	src, err := os.Open(filepath.Join(s.WorkspaceDir, relPath))
	if err != nil {
		return fmt.Errorf("open output %q: %w", outName, err)
	}
	defer src.Close()

	dst, err := w.Create(outName)
	if err != nil {
		return fmt.Errorf("create cache entry %q: %w", outName, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy output %q: %w", outName, err)
	}
	return dst.Close()
}

func (s *Scheduler) driverFor(task pipeline.Task) (target.Driver, error) {
	name := task.Target
	if name == "" {
		name = s.DefaultTarget
	}
	drv, ok := s.Drivers[name]
	if !ok {
		return nil, fmt.Errorf("no driver registered for target %q", name)
	}
	return drv, nil
}

func (s *Scheduler) computeFingerprint(task pipeline.Task, node *elaborate.Node) (fingerprint.Fingerprint, []fingerprint.Input, error) {
	inputs, err := fingerprint.ResolveInputs(s.WorkspaceDir, task.Inputs)
	if err != nil {
		return fingerprint.Fingerprint{}, nil, err
	}

	outputNames := make([]string, 0, len(task.Outputs))
	for name := range task.Outputs {
		outputNames = append(outputNames, name)
	}

	var upstream []fingerprint.Fingerprint
	for _, dep := range node.DependsOn {
		if fp, ok := s.loadFingerprint(dep); ok {
			upstream = append(upstream, fp)
		}
	}

	fp := fingerprint.Compute(fingerprint.Spec{
		Image:                task.Container,
		Command:              task.Command,
		Env:                  task.Env,
		Inputs:               inputs,
		OutputNames:          outputNames,
		UpstreamFingerprints: upstream,
	})
	return fp, inputs, nil
}

func (s *Scheduler) storeFingerprint(name string, fp fingerprint.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[name] = fp
}

func (s *Scheduler) loadFingerprint(name string) (fingerprint.Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[name]
	return fp, ok
}

func (s *Scheduler) prepareEnv(ctx context.Context, task pipeline.Task, drv target.Driver) (map[string]string, error) {
	env := make(map[string]string, len(s.PipelineEnv)+len(task.Env)+len(task.Secrets))
	for k, v := range s.PipelineEnv {
		env[k] = v
	}
	for k, v := range task.Env {
		env[k] = v
	}

	if len(task.Secrets) > 0 {
		refs := make(map[string]pipeline.SecretRef, len(task.SecretRefs))
		for _, r := range task.SecretRefs {
			refs[r.Name] = r
		}
		resolved, err := s.Secrets.Resolve(ctx, task.Secrets, refs, drv)
		if err != nil {
			return nil, err
		}
		for k, v := range resolved {
			env[k] = v
		}
	}
	return env, nil
}

// materializeInputFrom copies upstream artifacts into this task's
// working tree, in parallel across entries. A driver with a native
// Storage capability handles the copy itself; otherwise the engine
// falls back to a plain filesystem copy rooted at WorkspaceDir.
func (s *Scheduler) materializeInputFrom(ctx context.Context, drv target.Driver, task pipeline.Task) error {
	if len(task.InputFrom) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range task.InputFrom {
		in := in
		g.Go(func() error {
			if storage, ok := target.HasStorage(drv); ok {
				src := storage.ArtifactPath(in.Task, in.Artifact)
				return storage.CopyArtifact(gctx, src, in.Destination)
			}
			src := filepath.Join(s.WorkspaceDir, in.Task, in.Artifact)
			dst := filepath.Join(s.WorkspaceDir, in.Destination)
			return copyLocalArtifact(src, dst)
		})
	}
	return g.Wait()
}

func copyLocalArtifact(src, dst string) error {
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

func failedResult(name string, start time.Time, reason string, err error) manifest.TaskResult {
	finish := time.Now().UTC()
	return manifest.TaskResult{
		TaskName: name, Status: "failed", Reason: fmt.Sprintf("%s: %v", reason, err),
		StartedAt: start, FinishedAt: finish, DurationMS: finish.Sub(start).Milliseconds(),
	}
}

func toTargetMounts(mounts []pipeline.Mount) []target.Mount {
	out := make([]target.Mount, len(mounts))
	for i, m := range mounts {
		out[i] = target.Mount{Resource: m.Resource, Path: m.Path}
	}
	return out
}

func toTargetCacheMounts(mounts []pipeline.CacheMount) []target.Mount {
	out := make([]target.Mount, len(mounts))
	for i, m := range mounts {
		out[i] = target.Mount{Resource: m.Cache, Path: m.Path}
	}
	return out
}
