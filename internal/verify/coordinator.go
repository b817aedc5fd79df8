// Copyright Contributors to the Sykli project

package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
)

// Coordinator dispatches a Plan's entries to their target peers and
// merges the results back onto the local run. A Coordinator failure
// to reach a node is recorded on the merged result rather than
// propagated, so it never fails the local run.
type Coordinator struct {
	HTTPClient   *http.Client
	WorkspaceDir string
	PipelineEnv  map[string]string
}

// NewCoordinator returns a Coordinator rooted at workspaceDir, used to
// resolve the input_from artifacts shipped alongside each task.
func NewCoordinator(workspaceDir string, pipelineEnv map[string]string) *Coordinator {
	return &Coordinator{
		HTTPClient:   &http.Client{Timeout: 5 * time.Minute},
		WorkspaceDir: workspaceDir,
		PipelineEnv:  pipelineEnv,
	}
}

// Run dispatches every entry in p and writes the merged
// manifest.VerifyResult onto the corresponding entry of results.
func (c *Coordinator) Run(ctx context.Context, p Plan, tasks map[string]pipeline.Task, results map[string]manifest.TaskResult) {
	for _, entry := range p.Entries {
		task, ok := tasks[entry.Task]
		if !ok {
			continue
		}

		verify, err := c.dispatch(ctx, entry, task)
		if err != nil {
			verify = &manifest.VerifyResult{Status: "unreachable", Node: entry.Node.Name, Reason: err.Error()}
		}

		tr := results[entry.Task]
		tr.Verify = verify
		results[entry.Task] = tr
	}
}

func (c *Coordinator) dispatch(ctx context.Context, entry Entry, task pipeline.Task) (*manifest.VerifyResult, error) {
	artifacts, err := c.collectArtifacts(task)
	if err != nil {
		return nil, fmt.Errorf("collect artifacts: %w", err)
	}

	req := RunTaskRequest{
		Task:      task,
		Env:       c.PipelineEnv,
		Artifacts: artifacts,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("http://%s/v1/verify/tasks/%s", entry.Node.Address, task.Name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", entry.Node.Address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}

	var peerResp RunTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&peerResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	status := "matched"
	if peerResp.Status != "success" {
		status = "mismatched"
	}
	return &manifest.VerifyResult{Status: status, Node: entry.Node.Name, Reason: peerResp.Reason}, nil
}

// collectArtifacts reads every input_from source the task declares
// off the local workspace, keyed by its destination path so the peer
// materializes them exactly where the task expects to find them.
func (c *Coordinator) collectArtifacts(task pipeline.Task) (map[string][]byte, error) {
	if len(task.InputFrom) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(task.InputFrom))
	for _, in := range task.InputFrom {
		src := filepath.Join(c.WorkspaceDir, in.Task, in.Artifact)
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s/%s: %w", in.Task, in.Artifact, err)
		}
		out[in.Destination] = data
	}
	return out, nil
}
