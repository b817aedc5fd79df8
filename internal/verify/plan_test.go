// Copyright Contributors to the Sykli project

package verify

import (
	"testing"

	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
)

var (
	linuxNode = RemoteNode{Name: "linux-1", Address: "10.0.0.1:7469", Labels: []string{"linux", "amd64"}}
	darwinNode = RemoteNode{Name: "mac-1", Address: "10.0.0.2:7469", Labels: []string{"darwin", "arm64"}}
)

func reasonFor(p Plan, name string) (string, bool) {
	for _, e := range p.Entries {
		if e.Task == name {
			return e.Reason, true
		}
	}
	for _, s := range p.Skipped {
		if s.Task == name {
			return s.Reason, false
		}
	}
	return "", false
}

func TestComputePlanTaskNotFound(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "ghost", Status: "success"}}}
	p := ComputePlan(run, map[string]pipeline.Task{}, nil, []RemoteNode{linuxNode})
	reason, entered := reasonFor(p, "ghost")
	if entered || reason != "task_not_found" {
		t.Errorf("expected ghost skipped as task_not_found, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanSkippedTaskStaysSkipped(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "skipped"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	p := ComputePlan(run, tasks, nil, []RemoteNode{linuxNode})
	reason, entered := reasonFor(p, "t")
	if entered || reason != "skipped" {
		t.Errorf("expected t skipped as skipped, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanCachedNeverVerified(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "cached", Cached: true}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	p := ComputePlan(run, tasks, nil, []RemoteNode{linuxNode})
	reason, entered := reasonFor(p, "t")
	if entered || reason != "cached" {
		t.Errorf("expected cached task skipped as cached, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanVerifyNever(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t", Verify: pipeline.VerifyNever}}
	p := ComputePlan(run, tasks, []string{"linux"}, []RemoteNode{darwinNode})
	reason, entered := reasonFor(p, "t")
	if entered || reason != "verify_never" {
		t.Errorf("expected verify_never skip, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanNoRemoteNodes(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t", Verify: pipeline.VerifyAlways}}
	p := ComputePlan(run, tasks, []string{"linux"}, nil)
	reason, entered := reasonFor(p, "t")
	if entered || reason != "no_remote_nodes" {
		t.Errorf("expected no_remote_nodes skip, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanVerifyAlwaysDispatchesToFirstNode(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t", Verify: pipeline.VerifyAlways}}
	p := ComputePlan(run, tasks, []string{"linux"}, []RemoteNode{linuxNode, darwinNode})
	if len(p.Entries) != 1 || p.Entries[0].Reason != "explicit_verify" || p.Entries[0].Node.Name != linuxNode.Name {
		t.Fatalf("expected explicit_verify on the first remote node, got %+v", p.Entries)
	}
}

func TestComputePlanCrossPlatformPicksDifferentPlatform(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t", Verify: pipeline.VerifyCrossPlatform}}
	p := ComputePlan(run, tasks, []string{"linux", "amd64"}, []RemoteNode{linuxNode, darwinNode})
	if len(p.Entries) != 1 || p.Entries[0].Node.Name != darwinNode.Name || p.Entries[0].Reason != "cross_platform" {
		t.Fatalf("expected cross_platform entry on the darwin node, got %+v", p.Entries)
	}
}

func TestComputePlanCrossPlatformSkipsWhenOnlySamePlatform(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t", Verify: pipeline.VerifyCrossPlatform}}
	p := ComputePlan(run, tasks, []string{"linux", "amd64"}, []RemoteNode{linuxNode})
	reason, entered := reasonFor(p, "t")
	if entered || reason != "same_platform" {
		t.Errorf("expected same_platform skip, got reason=%q entered=%v", reason, entered)
	}
}

func TestComputePlanFailedTaskPrefersDifferentPlatformNode(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "failed"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	p := ComputePlan(run, tasks, []string{"linux", "amd64"}, []RemoteNode{linuxNode, darwinNode})
	if len(p.Entries) != 1 || p.Entries[0].Node.Name != darwinNode.Name || p.Entries[0].Reason != "retry_on_different_platform" {
		t.Fatalf("expected retry_on_different_platform on the darwin node, got %+v", p.Entries)
	}
}

func TestComputePlanFailedTaskFallsBackToFirstNodeWhenAllSamePlatform(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "failed"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	otherLinux := RemoteNode{Name: "linux-2", Address: "10.0.0.3:7469", Labels: []string{"linux", "amd64"}}
	p := ComputePlan(run, tasks, []string{"linux", "amd64"}, []RemoteNode{linuxNode, otherLinux})
	if len(p.Entries) != 1 || p.Entries[0].Node.Name != linuxNode.Name || p.Entries[0].Reason != "retry_on_different_platform" {
		t.Fatalf("expected a fallback to remoteNodes[0], got %+v", p.Entries)
	}
}

func TestComputePlanDefaultSuccessCrossPlatform(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{{TaskName: "t", Status: "success"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	p := ComputePlan(run, tasks, []string{"linux"}, []RemoteNode{darwinNode})
	if len(p.Entries) != 1 || p.Entries[0].Reason != "cross_platform" {
		t.Fatalf("expected a default success on a different-platform node to still verify, got %+v", p.Entries)
	}
}

// TestComputePlanIsPure asserts ComputePlan's determinism invariant:
// identical inputs must yield identical outputs.
func TestComputePlanIsPure(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{
		{TaskName: "a", Status: "success"},
		{TaskName: "b", Status: "failed"},
		{TaskName: "c", Status: "cached", Cached: true},
	}}
	tasks := map[string]pipeline.Task{
		"a": {Name: "a"},
		"b": {Name: "b"},
		"c": {Name: "c"},
	}
	nodes := []RemoteNode{linuxNode, darwinNode}

	first := ComputePlan(run, tasks, []string{"linux"}, nodes)
	second := ComputePlan(run, tasks, []string{"linux"}, nodes)

	if len(first.Entries) != len(second.Entries) || len(first.Skipped) != len(second.Skipped) {
		t.Fatalf("ComputePlan is not deterministic: %+v vs %+v", first, second)
	}
	for i := range first.Entries {
		if first.Entries[i] != second.Entries[i] {
			t.Errorf("entry %d differs across runs: %+v vs %+v", i, first.Entries[i], second.Entries[i])
		}
	}
}

// TestComputePlanPartitionsExactly verifies entries and skipped are
// disjoint by task name and jointly exhaustive over run.Tasks.
func TestComputePlanPartitionsExactly(t *testing.T) {
	run := manifest.RunRecord{Tasks: []manifest.TaskResult{
		{TaskName: "a", Status: "success"},
		{TaskName: "b", Status: "failed"},
		{TaskName: "c", Status: "skipped"},
		{TaskName: "ghost", Status: "success"},
	}}
	tasks := map[string]pipeline.Task{
		"a": {Name: "a", Verify: pipeline.VerifyNever},
		"b": {Name: "b"},
		"c": {Name: "c"},
	}
	p := ComputePlan(run, tasks, []string{"linux"}, []RemoteNode{darwinNode})

	seen := map[string]int{}
	for _, e := range p.Entries {
		seen[e.Task]++
	}
	for _, s := range p.Skipped {
		seen[s.Task]++
	}
	if len(seen) != len(run.Tasks) {
		t.Fatalf("expected every task to appear exactly once across entries+skipped, got %v", seen)
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("task %q appeared %d times, expected exactly 1", name, count)
		}
	}
	if len(p.Entries)+len(p.Skipped) != len(run.Tasks) {
		t.Errorf("|entries|+|skipped| = %d, want %d", len(p.Entries)+len(p.Skipped), len(run.Tasks))
	}
}
