// Copyright Contributors to the Sykli project

package verify

import "github.com/yairfalse/sykli/internal/pipeline"

// RunTaskRequest is the wire payload the Coordinator ships to a peer's
// single-task endpoint: the task spec, the pipeline's default env, and
// any input_from artifacts it needs materialized before it runs.
// Artifacts are keyed by destination path relative to the peer's
// workspace root; encoding/json base64-encodes the []byte values.
type RunTaskRequest struct {
	RunID     string            `json:"run_id"`
	Task      pipeline.Task     `json:"task"`
	Env       map[string]string `json:"env"`
	Artifacts map[string][]byte `json:"artifacts,omitempty"`
}

// RunTaskResponse carries the peer's TaskResult back. Its fields are a
// subset of manifest.TaskResult's, under the same JSON names.
type RunTaskResponse struct {
	TaskName   string `json:"task_name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}
