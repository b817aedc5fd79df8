// Copyright Contributors to the Sykli project

package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// K8sOptions is the minimal, validated Kubernetes resource shorthand
// available on a task, grounded on the upstream Go SDK's K8sOptions
// (sdk/go/target.go in the retrieval pack), plus typed node selectors
// and tolerations. A raw JSON overlay on Task.K8sRaw is decoded into
// this same shape (fields it does not have are ignored) and merged in
// after these typed fields, which win on overlap.
type K8sOptions struct {
	// Memory sets both request and limit (e.g., "4Gi", "512Mi").
	Memory string `json:"memory,omitempty"`
	// CPU sets both request and limit (e.g., "2", "500m").
	CPU string `json:"cpu,omitempty"`
	// GPU requests NVIDIA GPUs (e.g., 1, 2).
	GPU int `json:"gpu,omitempty"`
	// NodeSelector constrains scheduling to matching nodes.
	NodeSelector map[string]string `json:"node_selector,omitempty"`
	// Tolerations is preserved verbatim and passed through to the k8s driver.
	Tolerations []json.RawMessage `json:"tolerations,omitempty"`
}

// K8sValidationError describes a single invalid K8sOptions field.
type K8sValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e K8sValidationError) Error() string {
	return fmt.Sprintf("k8s.%s: %s (got %q)", e.Field, e.Message, e.Value)
}

var (
	// Memory: Ki, Mi, Gi, Ti, Pi, Ei (binary) or k, M, G, T, P, E (decimal).
	k8sMemoryPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(Ki|Mi|Gi|Ti|Pi|Ei|k|M|G|T|P|E)?$`)
	// CPU: whole numbers, decimals, or millicores (e.g., "100m", "0.5", "2").
	k8sCPUPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?m?$`)
)

// ValidateK8sOptions validates K8s options and returns every violation found.
func ValidateK8sOptions(opts *K8sOptions) []error {
	if opts == nil {
		return nil
	}

	var errs []error
	if opts.Memory != "" {
		if err := validateK8sMemory("memory", opts.Memory); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.CPU != "" {
		if err := validateK8sCPU("cpu", opts.CPU); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.GPU < 0 {
		errs = append(errs, K8sValidationError{Field: "gpu", Value: fmt.Sprint(opts.GPU), Message: "must be non-negative"})
	}
	return errs
}

func validateK8sMemory(field, value string) error {
	if !k8sMemoryPattern.MatchString(value) {
		suggestion := ""
		lower := strings.ToLower(value)
		switch {
		case strings.HasSuffix(lower, "gb"):
			suggestion = " (did you mean 'Gi'?)"
		case strings.HasSuffix(lower, "mb"):
			suggestion = " (did you mean 'Mi'?)"
		case strings.HasSuffix(lower, "kb"):
			suggestion = " (did you mean 'Ki'?)"
		}
		return K8sValidationError{
			Field:   field,
			Value:   value,
			Message: "invalid memory format, use Ki/Mi/Gi/Ti (e.g., '512Mi', '4Gi')" + suggestion,
		}
	}
	return nil
}

func validateK8sCPU(field, value string) error {
	if !k8sCPUPattern.MatchString(value) {
		return K8sValidationError{
			Field:   field,
			Value:   value,
			Message: "invalid CPU format, use cores or millicores (e.g., '500m', '0.5', '2')",
		}
	}
	return nil
}

// MergeK8sOptions merges pipeline defaults with task-specific options.
// Non-zero task fields win; GPU==0 means "not set" and defers to defaults.
func MergeK8sOptions(defaults, task *K8sOptions) *K8sOptions {
	if defaults == nil {
		return task
	}
	if task == nil {
		cp := *defaults
		return &cp
	}

	result := *defaults
	if task.Memory != "" {
		result.Memory = task.Memory
	}
	if task.CPU != "" {
		result.CPU = task.CPU
	}
	if task.GPU > 0 {
		result.GPU = task.GPU
	}
	if len(task.NodeSelector) > 0 {
		result.NodeSelector = task.NodeSelector
	}
	if len(task.Tolerations) > 0 {
		result.Tolerations = task.Tolerations
	}
	return &result
}

// ParseK8sRawOptions decodes a Task.K8sRaw JSON overlay into the same
// shorthand shape as K8sOptions, so the k8s driver can build resource
// requirements from either source uniformly.
func ParseK8sRawOptions(raw string) (*K8sOptions, error) {
	var opts K8sOptions
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("k8s_raw: %w", err)
	}
	return &opts, nil
}

// MergeK8sRaw overlays a parsed K8sRaw JSON document onto typed
// K8sOptions. Typed fields take precedence over the overlay for any
// field both sources set, matching the upstream SDK's documented
// "K8sOptions fields take precedence over K8sRaw" rule.
func MergeK8sRaw(typed *K8sOptions, raw string) (*K8sOptions, error) {
	overlay, err := ParseK8sRawOptions(raw)
	if err != nil {
		return nil, err
	}
	if typed == nil {
		return overlay, nil
	}
	return MergeK8sOptions(overlay, typed), nil
}
