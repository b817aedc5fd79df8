// Copyright Contributors to the Sykli project

package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
)

func peerAddress(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestCoordinatorRunMergesMatchedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RunTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(RunTaskResponse{TaskName: req.Task.Name, Status: "success"})
	}))
	defer srv.Close()

	c := NewCoordinator(t.TempDir(), nil)
	p := Plan{Entries: []Entry{{Task: "t", Node: RemoteNode{Name: "peer-1", Address: peerAddress(t, srv)}, Reason: "explicit_verify"}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	results := map[string]manifest.TaskResult{"t": {TaskName: "t", Status: "success"}}

	c.Run(context.Background(), p, tasks, results)

	got := results["t"].Verify
	if got == nil || got.Status != "matched" {
		t.Fatalf("expected a matched verify result, got %+v", got)
	}
	if got.Node != "peer-1" {
		t.Errorf("expected node name peer-1, got %q", got.Node)
	}
}

func TestCoordinatorRunMergesMismatchedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RunTaskResponse{Status: "failed", Reason: "exec_failure"})
	}))
	defer srv.Close()

	c := NewCoordinator(t.TempDir(), nil)
	p := Plan{Entries: []Entry{{Task: "t", Node: RemoteNode{Name: "peer-1", Address: peerAddress(t, srv)}}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	results := map[string]manifest.TaskResult{"t": {TaskName: "t", Status: "success"}}

	c.Run(context.Background(), p, tasks, results)

	got := results["t"].Verify
	if got == nil || got.Status != "mismatched" {
		t.Fatalf("expected a mismatched verify result, got %+v", got)
	}
}

func TestCoordinatorRunUnreachableNodeDoesNotFailRun(t *testing.T) {
	c := NewCoordinator(t.TempDir(), nil)
	p := Plan{Entries: []Entry{{Task: "t", Node: RemoteNode{Name: "ghost", Address: "127.0.0.1:1"}}}}
	tasks := map[string]pipeline.Task{"t": {Name: "t"}}
	results := map[string]manifest.TaskResult{"t": {TaskName: "t", Status: "success"}}

	c.Run(context.Background(), p, tasks, results)

	got := results["t"].Verify
	if got == nil || got.Status != "unreachable" {
		t.Fatalf("expected an unreachable verify result, got %+v", got)
	}
	if got.Reason == "" {
		t.Error("expected a non-empty reason describing the dial failure")
	}
}

func TestCoordinatorRunUnknownTaskIsSkipped(t *testing.T) {
	c := NewCoordinator(t.TempDir(), nil)
	p := Plan{Entries: []Entry{{Task: "ghost", Node: RemoteNode{Name: "peer-1", Address: "127.0.0.1:1"}}}}
	results := map[string]manifest.TaskResult{}

	c.Run(context.Background(), p, map[string]pipeline.Task{}, results)

	if _, ok := results["ghost"]; ok {
		t.Error("expected no result to be recorded for a task absent from the tasks map")
	}
}

func TestCoordinatorCollectArtifactsReadsInputFrom(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "build"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "build", "app.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCoordinator(workspace, nil)
	task := pipeline.Task{
		Name:      "test",
		InputFrom: []pipeline.InputFrom{{Task: "build", Artifact: "app.bin", Destination: "app.bin"}},
	}
	artifacts, err := c.collectArtifacts(task)
	if err != nil {
		t.Fatalf("collectArtifacts: %v", err)
	}
	if string(artifacts["app.bin"]) != "payload" {
		t.Errorf("expected artifact content %q, got %q", "payload", artifacts["app.bin"])
	}
}

func TestCoordinatorCollectArtifactsEmptyWhenNoInputFrom(t *testing.T) {
	c := NewCoordinator(t.TempDir(), nil)
	artifacts, err := c.collectArtifacts(pipeline.Task{Name: "t"})
	if err != nil {
		t.Fatalf("collectArtifacts: %v", err)
	}
	if artifacts != nil {
		t.Errorf("expected nil artifacts map for a task with no input_from, got %v", artifacts)
	}
}
