// Copyright Contributors to the Sykli project

// Package pipeline defines the declarative pipeline data model: the
// normalized form produced by decoding pipeline JSON (see
// Wire in json.go), before the graph elaborator turns it into
// a concrete DAG.
package pipeline

import "encoding/json"

// VerifyMode controls whether and how a task is re-run on a
// platform-distinct remote node.
type VerifyMode string

const (
	VerifyNever         VerifyMode = "never"
	VerifyAlways        VerifyMode = "always"
	VerifyCrossPlatform VerifyMode = "cross_platform"
)

// OnFail governs successor admission after a task exhausts its retries.
type OnFail string

const (
	OnFailDefault OnFail = "" // treated as "fail"
	OnFailFail    OnFail = "fail"
	OnFailSkip    OnFail = "skip"
	OnFailAnalyze OnFail = "analyze"
)

// Mount describes a resource mounted into a task's container at Path.
type Mount struct {
	Resource string `json:"resource"`
	Path     string `json:"path"`
}

// CacheMount describes a named cache mounted into a task's container.
type CacheMount struct {
	Cache string `json:"cache"`
	Path  string `json:"path"`
}

// InputFrom names an artifact produced by an upstream task that this
// task consumes, implying a dependency edge.
type InputFrom struct {
	Task        string `json:"task"`
	Artifact    string `json:"artifact"`
	Destination string `json:"destination"`
}

// Service is a sidecar container started alongside a task.
type Service struct {
	Image    string `json:"image"`
	Hostname string `json:"hostname"`
}

// SecretRef is a typed secret source override.
type SecretRef struct {
	Name   string `json:"name"`
	Source string `json:"source"` // "env" | "file" | "vault"
	// Key is the env var name, file path, or vault path, depending on Source.
	Key string `json:"key"`
}

// Capability is a provides/needs entry: a named dependency with an
// optional value used only for telemetry, not edge matching.
type Capability struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Condition is a structured predicate tree node, mirroring
// internal/condition's Node but decoded straight off the wire so the
// elaborator can choose between this and a raw string expression.
type Condition struct {
	// Leaves.
	Branch  string `json:"branch,omitempty"`
	Tag     string `json:"tag,omitempty"`
	HasTag  bool   `json:"has_tag,omitempty"`
	Event   string `json:"event,omitempty"`
	InCI    bool   `json:"in_ci,omitempty"`
	Field   string `json:"field,omitempty"`
	Op      string `json:"op,omitempty"` // "==" | "!="
	Value   string `json:"value,omitempty"`

	// Combinators.
	And []Condition `json:"and,omitempty"`
	Or  []Condition `json:"or,omitempty"`
	Not *Condition  `json:"not,omitempty"`
}

// When is either a string DSL expression or a structured Condition tree.
type When struct {
	Expr      string     `json:"-"`
	Condition *Condition `json:"-"`
}

// UnmarshalJSON accepts either a JSON string or a structured object.
func (w *When) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		w.Expr = s
		return nil
	}
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	w.Condition = &c
	return nil
}

// MarshalJSON round-trips whichever form was set.
func (w When) MarshalJSON() ([]byte, error) {
	if w.Condition != nil {
		return json.Marshal(w.Condition)
	}
	return json.Marshal(w.Expr)
}

// IsZero reports whether no condition was set at all.
func (w When) IsZero() bool {
	return w.Expr == "" && w.Condition == nil
}

// Task is a single task declaration.
type Task struct {
	Name         string            `json:"name"`
	Command      string            `json:"command"`
	Container    string            `json:"container,omitempty"`
	Mounts       []Mount           `json:"mounts,omitempty"`
	CacheMounts  []CacheMount      `json:"cache_mounts,omitempty"`
	Workdir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Inputs       []string          `json:"inputs,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	InputFrom    []InputFrom       `json:"input_from,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	When         *When             `json:"when,omitempty"`
	Matrix       Matrix            `json:"matrix,omitempty"`
	Retry        int               `json:"retry,omitempty"`
	TimeoutSecs  int               `json:"timeout_seconds,omitempty"`
	Services     []Service         `json:"services,omitempty"`
	Secrets      []string          `json:"secrets,omitempty"`
	SecretRefs   []SecretRef       `json:"secret_refs,omitempty"`
	Target       string            `json:"target,omitempty"`
	K8s          *K8sOptions       `json:"k8s,omitempty"`
	K8sRaw       string            `json:"k8s_raw,omitempty"`
	Provides     []Capability      `json:"provides,omitempty"`
	Needs        []Capability      `json:"needs,omitempty"`
	Covers       []string          `json:"covers,omitempty"`
	Intent       string            `json:"intent,omitempty"`
	Criticality  string            `json:"criticality,omitempty"`
	OnFail       OnFail            `json:"on_fail,omitempty"`
	SelectMode   string            `json:"select_mode,omitempty"`
	Verify       VerifyMode        `json:"verify,omitempty"`
	AfterGroup   []string          `json:"after_group,omitempty"`

	// Extra preserves unknown fields verbatim for forward compatibility.
	Extra map[string]json.RawMessage `json:"-"`
}

// GroupKind distinguishes the four group forms a task group can take.
type GroupKind string

const (
	GroupParallel   GroupKind = "parallel"
	GroupChain      GroupKind = "chain"
	GroupMatrix     GroupKind = "matrix"
	GroupMatrixMap  GroupKind = "matrix_map"
)

// Group is a named set of tasks with parallel/chain/matrix semantics.
type Group struct {
	Name    string    `json:"name"`
	Kind    GroupKind `json:"kind"`
	Members []string  `json:"members,omitempty"`   // parallel, chain
	Task    *Task     `json:"task,omitempty"`       // matrix, matrix_map template
}

// GateStrategy selects how a Gate is resolved.
type GateStrategy string

const (
	GateEnv    GateStrategy = "env"
	GateFile   GateStrategy = "file"
	GateManual GateStrategy = "manual"
)

// Gate is a named approval pseudo-task.
type Gate struct {
	Name        string       `json:"name"`
	Strategy    GateStrategy `json:"strategy"`
	TimeoutSecs int          `json:"timeout_seconds"`
	DependsOn   []string     `json:"depends_on,omitempty"`

	EnvVar  string `json:"env_var,omitempty"`
	Path    string `json:"path,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// Resource is a named directory or cache declared at the pipeline level.
type Resource struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "directory" | "cache"
}

// Defaults holds pipeline-level defaults applied to every task.
type Defaults struct {
	Target string            `json:"target,omitempty"`
	K8s    *K8sOptions       `json:"k8s,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

// Pipeline is the fully decoded, normalized pipeline description ready
// for elaboration.
type Pipeline struct {
	Name      string          `json:"name"`
	Tasks     []Task          `json:"tasks"`
	Groups    []Group         `json:"groups,omitempty"`
	Gates     []Gate          `json:"gates,omitempty"`
	Templates []json.RawMessage `json:"templates,omitempty"` // opaque to the engine
	Resources []Resource      `json:"resources,omitempty"`
	Defaults  Defaults        `json:"defaults,omitempty"`
}
