// Copyright Contributors to the Sykli project

package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/yairfalse/sykli/internal/pipeline"
	"github.com/yairfalse/sykli/internal/target"
)

type stubDriver struct {
	result target.Result
	err    error
}

func (d *stubDriver) Name() string { return "stub" }
func (d *stubDriver) Execute(ctx context.Context, spec target.Spec) (target.Result, error) {
	return d.result, d.err
}

func postTask(t *testing.T, srv *httptest.Server, name string, req RunTaskRequest) RunTaskResponse {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(srv.URL+"/v1/verify/tasks/"+name, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out RunTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHandleRunTaskSuccess(t *testing.T) {
	drv := &stubDriver{result: target.Result{ExitCode: 0, Stdout: "ok"}}
	s := NewServer(drv, t.TempDir())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp := postTask(t, srv, "build", RunTaskRequest{Task: pipeline.Task{Name: "build"}})
	if resp.Status != "success" {
		t.Errorf("expected success, got %+v", resp)
	}
}

func TestHandleRunTaskExecFailure(t *testing.T) {
	drv := &stubDriver{result: target.Result{ExitCode: 1, Stderr: "boom"}}
	s := NewServer(drv, t.TempDir())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp := postTask(t, srv, "build", RunTaskRequest{Task: pipeline.Task{Name: "build"}})
	if resp.Status != "failed" || resp.Reason != "exec_failure" {
		t.Errorf("expected a failed/exec_failure response, got %+v", resp)
	}
}

func TestHandleRunTaskNameMismatchRejected(t *testing.T) {
	drv := &stubDriver{result: target.Result{ExitCode: 0}}
	s := NewServer(drv, t.TempDir())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	body, _ := json.Marshal(RunTaskRequest{Task: pipeline.Task{Name: "other"}})
	resp, err := http.Post(srv.URL+"/v1/verify/tasks/build", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 on a path/body task name mismatch, got %d", resp.StatusCode)
	}
}

func TestHandleRunTaskMaterializesArtifactsBeforeExecute(t *testing.T) {
	workspace := t.TempDir()
	drv := &stubDriver{result: target.Result{ExitCode: 0}}
	s := NewServer(drv, workspace)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	req := RunTaskRequest{
		Task:      pipeline.Task{Name: "test"},
		Artifacts: map[string][]byte{"app.bin": []byte("payload")},
	}
	postTask(t, srv, "test", req)

	got, err := os.ReadFile(filepath.Join(workspace, "app.bin"))
	if err != nil {
		t.Fatalf("expected shipped artifact to be materialized: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("materialized content mismatch: %q", got)
	}
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(&stubDriver{}, t.TempDir())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
