// Copyright Contributors to the Sykli project

// Package verify implements the Verify Planner and Coordinator: a
// pure decision table that selects which completed tasks get re-run
// on a remote peer, and a client that ships those tasks and merges
// their results back.
package verify

import (
	"sort"

	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
)

// RemoteNode is one peer engine instance available for verification.
type RemoteNode struct {
	Name    string
	Address string // host:port the coordinator dials
	Labels  []string
}

// Entry is one task selected for remote re-execution.
type Entry struct {
	Task   string
	Node   RemoteNode
	Reason string // cross_platform | retry_on_different_platform | explicit_verify
}

// Skip is one task excluded from the plan.
type Skip struct {
	Task   string
	Reason string // cached | skipped | verify_never | no_remote_nodes | same_platform | task_not_found
}

// Plan is the Verify Planner's output: entries to dispatch and tasks
// skipped, in original task order, partitioning run.Tasks by name.
type Plan struct {
	Entries     []Entry
	Skipped     []Skip
	LocalLabels []string
	RemoteNodes []RemoteNode
}

// platformLabels is the closed set of labels considered for
// cross-platform comparison.
var platformLabels = map[string]bool{
	"darwin": true, "linux": true, "unix": true, "windows": true,
	"arm64": true, "amd64": true,
}

// ComputePlan is the pure decision function plan(run, tasks,
// local_labels, remote_nodes) → Plan. tasks maps task name to its
// elaborated spec, so verify mode can be read for tasks the run
// manifest doesn't carry it on directly. The decision table is
// evaluated top to bottom; the first matching row wins.
func ComputePlan(run manifest.RunRecord, tasks map[string]pipeline.Task, localLabels []string, remoteNodes []RemoteNode) Plan {
	p := Plan{LocalLabels: localLabels, RemoteNodes: remoteNodes}
	localSet := platformSet(localLabels)

	for _, tr := range run.Tasks {
		task, known := tasks[tr.TaskName]

		switch {
		case !known:
			p.Skipped = append(p.Skipped, Skip{tr.TaskName, "task_not_found"})
		case tr.Status == "skipped":
			p.Skipped = append(p.Skipped, Skip{tr.TaskName, "skipped"})
		case tr.Cached:
			p.Skipped = append(p.Skipped, Skip{tr.TaskName, "cached"})
		case task.Verify == pipeline.VerifyNever:
			p.Skipped = append(p.Skipped, Skip{tr.TaskName, "verify_never"})
		case len(remoteNodes) == 0:
			p.Skipped = append(p.Skipped, Skip{tr.TaskName, "no_remote_nodes"})
		case task.Verify == pipeline.VerifyAlways:
			p.Entries = append(p.Entries, Entry{tr.TaskName, remoteNodes[0], "explicit_verify"})
		case task.Verify == pipeline.VerifyCrossPlatform:
			if node, ok := differentPlatform(localSet, remoteNodes); ok {
				p.Entries = append(p.Entries, Entry{tr.TaskName, node, "cross_platform"})
			} else {
				p.Skipped = append(p.Skipped, Skip{tr.TaskName, "same_platform"})
			}
		case tr.Status == "failed":
			if node, ok := differentPlatform(localSet, remoteNodes); ok {
				p.Entries = append(p.Entries, Entry{tr.TaskName, node, "retry_on_different_platform"})
			} else {
				p.Entries = append(p.Entries, Entry{tr.TaskName, remoteNodes[0], "retry_on_different_platform"})
			}
		default:
			if node, ok := differentPlatform(localSet, remoteNodes); ok {
				p.Entries = append(p.Entries, Entry{tr.TaskName, node, "cross_platform"})
			} else {
				p.Skipped = append(p.Skipped, Skip{tr.TaskName, "same_platform"})
			}
		}
	}
	return p
}

// platformSet filters labels down to the closed platform-label
// vocabulary and returns them as a sorted-set comparison key.
func platformSet(labels []string) string {
	var kept []string
	for _, l := range labels {
		if platformLabels[l] {
			kept = append(kept, l)
		}
	}
	sort.Strings(kept)
	out := ""
	for _, k := range kept {
		out += k + ","
	}
	return out
}

// differentPlatform returns the first remote node whose platform
// labels differ from localSet, in declaration order.
func differentPlatform(localSet string, nodes []RemoteNode) (RemoteNode, bool) {
	for _, n := range nodes {
		if platformSet(n.Labels) != localSet {
			return n, true
		}
	}
	return RemoteNode{}, false
}
