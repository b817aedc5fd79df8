// Copyright Contributors to the Sykli project

package elaborate

import (
	"testing"

	"github.com/yairfalse/sykli/internal/condition"
	"github.com/yairfalse/sykli/internal/pipeline"
)

func TestMatrixExpansionCount(t *testing.T) {
	dims := pipeline.Matrix{
		{Name: "os", Values: []string{"linux", "darwin"}},
		{Name: "arch", Values: []string{"amd64", "arm64"}},
	}
	task := pipeline.Task{Name: "build", Command: "make", Matrix: dims}

	p := &pipeline.Pipeline{Name: "p", Tasks: []pipeline.Task{task}}
	graph, err := Elaborate(p, condition.Context{})
	if err != nil {
		t.Fatalf("Elaborate: %v", err)
	}

	want := matrixCount(dims)
	if len(graph.Order) != want {
		t.Fatalf("expected %d expanded nodes, got %d: %v", want, len(graph.Order), graph.Order)
	}

	seen := make(map[string]bool, len(graph.Order))
	for _, name := range graph.Order {
		if seen[name] {
			t.Errorf("duplicate expanded task name %q", name)
		}
		seen[name] = true
	}

	wantNames := []string{"build-linux-amd64", "build-linux-arm64", "build-darwin-amd64", "build-darwin-arm64"}
	for _, name := range wantNames {
		if _, ok := graph.Get(name); !ok {
			t.Errorf("expected expanded node %q, not found", name)
		}
	}
}

func TestCycleDetection(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "p",
		Tasks: []pipeline.Task{
			{Name: "a", Command: "echo a", DependsOn: []string{"b"}},
			{Name: "b", Command: "echo b", DependsOn: []string{"a"}},
		},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	errs, ok := err.(*Errors)
	if !ok {
		t.Fatalf("expected *Errors, got %T", err)
	}
	found := false
	for _, v := range errs.Violations {
		if v.Kind == ErrCycle {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ErrCycle violation, got %v", errs.Violations)
	}
}

func TestSelfEdgeIsACycle(t *testing.T) {
	p := &pipeline.Pipeline{
		Name:  "p",
		Tasks: []pipeline.Task{{Name: "a", Command: "echo a", DependsOn: []string{"a"}}},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected a cycle error for a self-edge")
	}
}

func TestUnknownDependsOn(t *testing.T) {
	p := &pipeline.Pipeline{
		Name:  "p",
		Tasks: []pipeline.Task{{Name: "a", Command: "echo a", DependsOn: []string{"missing"}}},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected an unknown-depends-on error")
	}
}

func TestDuplicateTaskName(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "p",
		Tasks: []pipeline.Task{
			{Name: "a", Command: "echo 1"},
			{Name: "a", Command: "echo 2"},
		},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected a duplicate-name error")
	}
}

func TestCapabilityResolutionAddsEdge(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "p",
		Tasks: []pipeline.Task{
			{Name: "build", Command: "make", Provides: []pipeline.Capability{{Name: "binary"}}},
			{Name: "test", Command: "make test", Needs: []pipeline.Capability{{Name: "binary"}}},
		},
	}
	graph, err := Elaborate(p, condition.Context{})
	if err != nil {
		t.Fatalf("Elaborate: %v", err)
	}
	testNode, _ := graph.Get("test")
	if !containsString(testNode.DependsOn, "build") {
		t.Errorf("expected test to depend on build via needs/provides, got %v", testNode.DependsOn)
	}
}

func TestMissingCapabilityIsAnError(t *testing.T) {
	p := &pipeline.Pipeline{
		Name:  "p",
		Tasks: []pipeline.Task{{Name: "test", Command: "make test", Needs: []pipeline.Capability{{Name: "binary"}}}},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected a missing-capability error")
	}
}

func TestWhenPrunesOnFalseCondition(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "p",
		Tasks: []pipeline.Task{
			{Name: "deploy", Command: "deploy.sh", When: &pipeline.When{Expr: "branch == 'main'"}},
		},
	}
	graph, err := Elaborate(p, condition.Context{Branch: "feature"})
	if err != nil {
		t.Fatalf("Elaborate: %v", err)
	}
	n, _ := graph.Get("deploy")
	if !n.Pruned {
		t.Error("expected deploy to be pruned when branch != main")
	}
	if n.PruneReason != PruneReasonConditionFalse {
		t.Errorf("expected prune reason %q, got %q", PruneReasonConditionFalse, n.PruneReason)
	}
}

func TestWhenCommutativity(t *testing.T) {
	ctx := condition.Context{Branch: "main", Event: "push"}
	buildTask := func(expr string) pipeline.Task {
		return pipeline.Task{Name: "t", Command: "echo", When: &pipeline.When{Expr: expr}}
	}

	forward, err := Elaborate(&pipeline.Pipeline{Name: "p", Tasks: []pipeline.Task{buildTask("branch == 'main' && event == 'push'")}}, ctx)
	if err != nil {
		t.Fatal(err)
	}
	reversed, err := Elaborate(&pipeline.Pipeline{Name: "p", Tasks: []pipeline.Task{buildTask("event == 'push' && branch == 'main'")}}, ctx)
	if err != nil {
		t.Fatal(err)
	}

	fNode, _ := forward.Get("t")
	rNode, _ := reversed.Get("t")
	if fNode.Pruned != rNode.Pruned {
		t.Errorf("when(A && B) pruned=%v but when(B && A) pruned=%v", fNode.Pruned, rNode.Pruned)
	}
}

func TestUndeclaredMountIsAnError(t *testing.T) {
	p := &pipeline.Pipeline{
		Name:  "p",
		Tasks: []pipeline.Task{{Name: "a", Command: "echo", Mounts: []pipeline.Mount{{Resource: "nope", Path: "/x"}}}},
	}
	_, err := Elaborate(p, condition.Context{})
	if err == nil {
		t.Fatal("expected an undeclared-mount error")
	}
}

func TestAfterGroupAddsEdgesToEveryMember(t *testing.T) {
	p := &pipeline.Pipeline{
		Name: "p",
		Tasks: []pipeline.Task{
			{Name: "lint", Command: "lint.sh"},
			{Name: "unit", Command: "unit.sh"},
			{Name: "deploy", Command: "deploy.sh", AfterGroup: []string{"checks"}},
		},
		Groups: []pipeline.Group{
			{Name: "checks", Kind: pipeline.GroupParallel, Members: []string{"lint", "unit"}},
		},
	}
	graph, err := Elaborate(p, condition.Context{})
	if err != nil {
		t.Fatalf("Elaborate: %v", err)
	}
	deploy, _ := graph.Get("deploy")
	for _, want := range []string{"lint", "unit"} {
		if !containsString(deploy.DependsOn, want) {
			t.Errorf("expected deploy to depend on %q via after_group, got %v", want, deploy.DependsOn)
		}
	}
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
