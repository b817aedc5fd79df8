// Copyright Contributors to the Sykli project

// Package k8s implements the "k8s" target driver: each task execution
// becomes a single-container, no-retry Kubernetes Job, polled to
// completion and torn down once its logs are collected, grounded on
// the Job/Pod-building idiom of a controller that builds batchv1.Job
// objects directly from a task spec.
package k8s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/yairfalse/sykli/internal/pipeline"
	"github.com/yairfalse/sykli/internal/target"
)

const pollInterval = 2 * time.Second

// Driver runs tasks as Kubernetes Jobs in Namespace.
type Driver struct {
	clientset *kubernetes.Clientset
	Namespace string
}

// New builds a Driver from the ambient kubeconfig (in-cluster config
// when running inside a pod, otherwise $KUBECONFIG or ~/.kube/config).
func New(namespace string) (*Driver, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("k8s: load config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s: build clientset: %w", err)
	}
	return &Driver{clientset: clientset, Namespace: namespace}, nil
}

func loadConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func (d *Driver) Name() string { return "k8s" }

// ResolveSecret reads a Secret named name from the Job's namespace,
// returning its "value" key (or, if that key is absent, its sole key
// when the Secret carries exactly one). Implements target.Secrets.
func (d *Driver) ResolveSecret(ctx context.Context, name string) (string, error) {
	secret, err := d.clientset.CoreV1().Secrets(d.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", target.ErrSecretNotFound
		}
		return "", err
	}
	if v, ok := secret.Data["value"]; ok {
		return string(v), nil
	}
	if len(secret.Data) == 1 {
		for _, v := range secret.Data {
			return string(v), nil
		}
	}
	return "", target.ErrSecretNotFound
}

// Execute builds and runs a Job for spec, waits for it to reach a
// terminal phase, collects its single pod's logs, and deletes the Job
// (with its pods, via background propagation) before returning.
func (d *Driver) Execute(ctx context.Context, spec target.Spec) (target.Result, error) {
	if spec.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSecs)*time.Second)
		defer cancel()
	}

	job := buildJob(d.Namespace, spec)
	jobs := d.clientset.BatchV1().Jobs(d.Namespace)

	created, err := jobs.Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return target.Result{}, fmt.Errorf("k8s: create job: %w", err)
	}
	defer func() {
		policy := metav1.DeletePropagationBackground
		_ = jobs.Delete(context.Background(), created.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
	}()

	exitCode, err := d.awaitCompletion(ctx, created.Name)
	if err != nil {
		return target.Result{}, err
	}

	stdout, err := d.collectLogs(ctx, created.Name)
	if err != nil {
		return target.Result{}, fmt.Errorf("k8s: collect logs: %w", err)
	}

	return target.Result{
		ExitCode:        exitCode,
		Stdout:          stdout,
		ProducedOutputs: map[string]string{},
	}, nil
}

func (d *Driver) awaitCompletion(ctx context.Context, jobName string) (int, error) {
	jobs := d.clientset.BatchV1().Jobs(d.Namespace)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			job, err := jobs.Get(ctx, jobName, metav1.GetOptions{})
			if err != nil {
				return 0, fmt.Errorf("k8s: get job: %w", err)
			}
			if job.Status.Succeeded > 0 {
				return 0, nil
			}
			if job.Status.Failed > 0 {
				return 1, nil
			}
		}
	}
}

func (d *Driver) collectLogs(ctx context.Context, jobName string) (string, error) {
	pods, err := d.clientset.CoreV1().Pods(d.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		return "", err
	}
	if len(pods.Items) == 0 {
		return "", nil
	}
	req := d.clientset.CoreV1().Pods(d.Namespace).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{})
	stream, err := req.Stream(ctx)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildJob mirrors the no-retry, single-container, owner-free Job
// shape: BackoffLimit 0 because the scheduler owns retries itself,
// RestartPolicyNever because a failed attempt is reported, not
// restarted in place.
func buildJob(namespace string, spec target.Spec) *batchv1.Job {
	opts := resolveK8sOptions(spec)

	container := corev1.Container{
		Name:         "task",
		Image:        spec.Image,
		Command:      []string{"/bin/sh", "-c", spec.Command},
		WorkingDir:   spec.Workdir,
		Env:          envVars(spec.Env),
		VolumeMounts: volumeMounts(spec),
	}
	applyResources(&container, opts)

	podSpec := corev1.PodSpec{
		Containers:    []corev1.Container{container},
		Volumes:       volumes(spec),
		RestartPolicy: corev1.RestartPolicyNever,
	}
	applyScheduling(&podSpec, opts)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: "sykli-" + sanitizeName(spec.TaskName) + "-",
			Namespace:    namespace,
			Labels: map[string]string{
				"app":        "sykli",
				"sykli/task": sanitizeName(spec.TaskName),
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: int32Ptr(0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": "sykli", "sykli/task": sanitizeName(spec.TaskName)},
				},
				Spec: podSpec,
			},
		},
	}
}

// resolveK8sOptions merges spec's typed K8s shorthand with its raw
// overlay, typed fields taking precedence over raw for anything both
// set. A raw overlay that fails to parse is ignored, falling back to
// the typed options alone.
func resolveK8sOptions(spec target.Spec) *pipeline.K8sOptions {
	if spec.K8sRaw == "" {
		return spec.K8s
	}
	merged, err := pipeline.MergeK8sRaw(spec.K8s, spec.K8sRaw)
	if err != nil {
		return spec.K8s
	}
	return merged
}

func envVars(env map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}

func volumes(spec target.Spec) []corev1.Volume {
	var out []corev1.Volume
	for _, m := range spec.Mounts {
		out = append(out, corev1.Volume{
			Name:         volumeName(m.Resource),
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
	}
	return out
}

func volumeMounts(spec target.Spec) []corev1.VolumeMount {
	var out []corev1.VolumeMount
	for _, m := range spec.Mounts {
		out = append(out, corev1.VolumeMount{Name: volumeName(m.Resource), MountPath: m.Path})
	}
	return out
}

func volumeName(resourceName string) string {
	return "res-" + sanitizeName(resourceName)
}

func applyResources(c *corev1.Container, opts *pipeline.K8sOptions) {
	if opts == nil {
		return
	}
	limits := corev1.ResourceList{}
	requests := corev1.ResourceList{}
	if opts.Memory != "" {
		if q, err := resource.ParseQuantity(opts.Memory); err == nil {
			limits[corev1.ResourceMemory] = q
			requests[corev1.ResourceMemory] = q
		}
	}
	if opts.CPU != "" {
		if q, err := resource.ParseQuantity(opts.CPU); err == nil {
			limits[corev1.ResourceCPU] = q
			requests[corev1.ResourceCPU] = q
		}
	}
	if opts.GPU > 0 {
		q := resource.MustParse(fmt.Sprint(opts.GPU))
		limits[corev1.ResourceName("nvidia.com/gpu")] = q
	}
	if len(limits) > 0 || len(requests) > 0 {
		c.Resources = corev1.ResourceRequirements{Limits: limits, Requests: requests}
	}
}

// applyScheduling wires NodeSelector and Tolerations from opts onto
// podSpec. A toleration that fails to unmarshal as a corev1.Toleration
// is skipped rather than failing the whole Job.
func applyScheduling(podSpec *corev1.PodSpec, opts *pipeline.K8sOptions) {
	if opts == nil {
		return
	}
	if len(opts.NodeSelector) > 0 {
		podSpec.NodeSelector = opts.NodeSelector
	}
	for _, raw := range opts.Tolerations {
		var t corev1.Toleration
		if err := json.Unmarshal(raw, &t); err == nil {
			podSpec.Tolerations = append(podSpec.Tolerations, t)
		}
	}
}

func sanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c-'A'+'a')
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "task"
	}
	return string(out)
}

func int32Ptr(i int32) *int32 { return &i }
