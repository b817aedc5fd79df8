// Copyright Contributors to the Sykli project

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yairfalse/sykli/internal/cache/fsstore"
	"github.com/yairfalse/sykli/internal/condition"
	"github.com/yairfalse/sykli/internal/config"
	"github.com/yairfalse/sykli/internal/elaborate"
	"github.com/yairfalse/sykli/internal/logging"
	"github.com/yairfalse/sykli/internal/manifest"
	"github.com/yairfalse/sykli/internal/pipeline"
	"github.com/yairfalse/sykli/internal/scheduler"
	"github.com/yairfalse/sykli/internal/secret"
	"github.com/yairfalse/sykli/internal/target"
	"github.com/yairfalse/sykli/internal/target/docker"
	"github.com/yairfalse/sykli/internal/target/k8s"
	"github.com/yairfalse/sykli/internal/target/local"
	"github.com/yairfalse/sykli/internal/verify"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runPipelineFile, "pipeline", "pipeline.json", "Path to the pipeline JSON file")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum number of tasks running at once (default: SYKLI_CONCURRENCY or GOMAXPROCS)")
	runCmd.Flags().BoolVar(&runExplain, "explain", false, "Print the elaborated plan and exit without running anything")
	runCmd.Flags().BoolVar(&runVerify, "verify", false, "Run the verify planner and coordinator after completion")
	runCmd.Flags().StringVar(&runTarget, "target", "", "Default target driver (default: SYKLI_TARGET or \"local\")")
}

var (
	runPipelineFile string
	runConcurrency  int
	runExplain      bool
	runVerify       bool
	runTarget       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Elaborate and run a pipeline",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := logging.New(os.Getenv("SYKLI_DEBUG") != "")
	if err != nil {
		return invocationError(err)
	}
	ctx := logging.Into(cmd.Context(), log)

	data, err := os.ReadFile(runPipelineFile)
	if err != nil {
		return invocationError(fmt.Errorf("read pipeline: %w", err))
	}
	p, err := pipeline.Decode(data)
	if err != nil {
		return invocationError(fmt.Errorf("decode pipeline: %w", err))
	}

	graph, err := elaborate.Elaborate(p, buildConditionContext())
	if err != nil {
		return elaborationError(err)
	}

	if runExplain {
		return explainGraph(graph)
	}

	workspaceDir, err := os.Getwd()
	if err != nil {
		return invocationError(err)
	}

	cfg := config.Load()

	store, err := fsstore.New(cfg.CacheDir)
	if err != nil {
		return invocationError(fmt.Errorf("open cache: %w", err))
	}

	targetName := runTarget
	if targetName == "" {
		targetName = cfg.Target
	}

	drivers, err := buildDrivers(workspaceDir)
	if err != nil {
		return taskFailure(err)
	}

	concurrency := runConcurrency
	if concurrency == 0 {
		concurrency = cfg.Concurrency
	}

	vaultClient := secret.NewVaultClient(os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN"))

	sched := &scheduler.Scheduler{
		Graph:         graph,
		Drivers:       drivers,
		DefaultTarget: targetName,
		Cache:         store,
		Secrets:       secret.New(vaultClient),
		Concurrency:   concurrency,
		WorkspaceDir:  workspaceDir,
		PipelineEnv:   p.Defaults.Env,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received signal, cancelling run")
		cancel()
	}()

	runID := uuid.NewString()
	rec, runErr := sched.Run(runCtx, runID)
	if rec == nil {
		return taskFailure(runErr)
	}

	if runVerify {
		runVerifyPass(ctx, rec, p, workspaceDir)
	}

	history := manifest.NewHistory(cfg.HistoryDir, config.DefaultHistorySize)
	if err := history.Append(*rec); err != nil {
		log.Error(err, "failed to append run history")
	}

	printRunSummary(rec)

	switch {
	case runCtx.Err() != nil:
		return cancelledError(runCtx.Err())
	case runErr != nil:
		return taskFailure(runErr)
	}
	return nil
}

func buildConditionContext() condition.Context {
	return condition.Context{
		Branch: os.Getenv("SYKLI_BRANCH"),
		Tag:    os.Getenv("SYKLI_TAG"),
		Event:  os.Getenv("SYKLI_EVENT"),
		InCI:   os.Getenv("CI") != "",
	}
}

func buildDrivers(workspaceDir string) (map[string]target.Driver, error) {
	drivers := map[string]target.Driver{
		"local": local.New(workspaceDir),
	}

	if drv, err := docker.New(workspaceDir); err == nil {
		drivers["docker"] = drv
	}

	if ns := os.Getenv("SYKLI_K8S_NAMESPACE"); ns != "" {
		if drv, err := k8s.New(ns); err == nil {
			drivers["k8s"] = drv
		}
	}

	return drivers, nil
}

func runVerifyPass(ctx context.Context, rec *manifest.RunRecord, p *pipeline.Pipeline, workspaceDir string) {
	log := logging.FromContext(ctx)
	nodes, err := loadRemoteNodes()
	if err != nil {
		log.Error(err, "failed to load remote node inventory, skipping verification")
		return
	}

	tasks := make(map[string]pipeline.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks[t.Name] = t
	}

	plan := verify.ComputePlan(*rec, tasks, localPlatformLabels(), nodes)
	if len(plan.Entries) == 0 {
		return
	}

	results := make(map[string]manifest.TaskResult, len(rec.Tasks))
	for _, tr := range rec.Tasks {
		results[tr.TaskName] = tr
	}

	coord := verify.NewCoordinator(workspaceDir, p.Defaults.Env)
	coord.Run(ctx, plan, tasks, results)

	for i, tr := range rec.Tasks {
		if updated, ok := results[tr.TaskName]; ok {
			rec.Tasks[i] = updated
		}
	}
}

// localPlatformLabels reports this host's platform labels in the
// closed vocabulary the verify planner compares against.
func localPlatformLabels() []string {
	return []string{runtime.GOOS, runtime.GOARCH}
}

func loadRemoteNodes() ([]verify.RemoteNode, error) {
	path := os.Getenv("SYKLI_REMOTE_NODES")
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var nodes []verify.RemoteNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func explainGraph(graph *elaborate.Graph) error {
	type explainNode struct {
		Name      string   `json:"name"`
		Kind      string   `json:"kind"`
		DependsOn []string `json:"depends_on,omitempty"`
		Pruned    bool     `json:"pruned,omitempty"`
		Reason    string   `json:"prune_reason,omitempty"`
	}
	out := make([]explainNode, 0, len(graph.Order))
	for _, name := range graph.Order {
		n := graph.Nodes[name]
		out = append(out, explainNode{
			Name: name, Kind: string(n.Kind), DependsOn: n.DependsOn,
			Pruned: n.Pruned, Reason: n.PruneReason,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printRunSummary(rec *manifest.RunRecord) {
	fmt.Fprintf(os.Stdout, "run %s: %s (%d tasks)\n", rec.RunID, rec.Status, len(rec.Tasks))
	for _, tr := range rec.Tasks {
		fmt.Fprintf(os.Stdout, "  %-30s %-10s %s\n", tr.TaskName, tr.Status, tr.Reason)
	}
}
