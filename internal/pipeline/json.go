// Copyright Contributors to the Sykli project

package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire is the top-level pipeline JSON envelope:
//
//	{ "tasks": [...], "gates": [...], "templates": [...], "defaults": {...} }
//
// Decode normalizes it into a Pipeline.
type Wire struct {
	Name      string            `json:"name"`
	Tasks     []json.RawMessage `json:"tasks"`
	Gates     []Gate            `json:"gates,omitempty"`
	Groups    []Group           `json:"groups,omitempty"`
	Templates []json.RawMessage `json:"templates,omitempty"`
	Resources []Resource        `json:"resources,omitempty"`
	Defaults  Defaults          `json:"defaults,omitempty"`
}

// Decode parses pipeline JSON and applies the wire normalizations:
// retry:0 ≡ absent, provides with empty value ≡ value omitted,
// depends_on deduplicated order-preserving. Unknown fields on each
// task are preserved in Task.Extra.
func Decode(data []byte) (*Pipeline, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("pipeline_parse: %w", err)
	}

	p := &Pipeline{
		Name:      w.Name,
		Groups:    w.Groups,
		Gates:     w.Gates,
		Templates: w.Templates,
		Resources: w.Resources,
		Defaults:  w.Defaults,
	}

	for i, raw := range w.Tasks {
		t, extra, err := decodeTask(raw)
		if err != nil {
			return nil, fmt.Errorf("pipeline_parse: task[%d]: %w", i, err)
		}
		normalizeTask(&t)
		t.Extra = extra
		p.Tasks = append(p.Tasks, t)
	}

	return p, nil
}

var knownTaskFields = map[string]bool{
	"name": true, "command": true, "container": true, "mounts": true,
	"cache_mounts": true, "workdir": true, "env": true, "inputs": true,
	"outputs": true, "input_from": true, "depends_on": true, "when": true,
	"matrix": true, "retry": true, "timeout_seconds": true, "services": true,
	"secrets": true, "secret_refs": true, "target": true, "k8s": true,
	"k8s_raw": true, "provides": true, "needs": true, "covers": true,
	"intent": true, "criticality": true, "on_fail": true, "select_mode": true,
	"verify": true, "after_group": true,
}

func decodeTask(raw json.RawMessage) (Task, map[string]json.RawMessage, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return Task{}, nil, err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range all {
		if !knownTaskFields[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}
	return t, extra, nil
}

func normalizeTask(t *Task) {
	if t.Retry < 0 {
		t.Retry = 0
	}
	t.DependsOn = dedupeOrdered(t.DependsOn)

	for i := range t.Provides {
		t.Provides[i].Value = strings.TrimSpace(t.Provides[i].Value)
	}
}

func dedupeOrdered(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
