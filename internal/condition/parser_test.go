// Copyright Contributors to the Sykli project

package condition

import "testing"

func TestEval(t *testing.T) {
	ctx := Context{Branch: "main", Tag: "", Event: "push", InCI: true}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"equal match", "branch == 'main'", true},
		{"equal mismatch", "branch == 'develop'", false},
		{"not equal", "tag != ''", false},
		{"not equal true", "event != 'pull_request'", true},
		{"branch shorthand match", "branch:main", true},
		{"branch shorthand glob", "branch:rel*", false},
		{"conjunction both true", "branch == 'main' && event == 'push'", true},
		{"conjunction one false", "branch == 'main' && event == 'pull_request'", false},
		{"disjunction one true", "branch == 'develop' || event == 'push'", true},
		{"disjunction both false", "branch == 'develop' || event == 'pull_request'", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, ctx)
			if err != nil {
				t.Fatalf("Eval(%q) returned error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalParseErrors(t *testing.T) {
	exprs := []string{
		"",
		"branch === 'main'",
		"branch == ",
		"(branch == 'main')",
		"branch == 'main' &",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			if _, err := Eval(expr, Context{}); err == nil {
				t.Errorf("Eval(%q) expected a parse error, got none", expr)
			}
		})
	}
}

func TestEvalCommutativity(t *testing.T) {
	ctx := Context{Branch: "main", Event: "push"}
	a := "branch == 'main'"
	b := "event == 'push'"

	ab, err := Eval(a+" && "+b, ctx)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Eval(b+" && "+a, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("conjunction not commutative: (A&&B)=%v (B&&A)=%v", ab, ba)
	}

	orAB, err := Eval(a+" || "+b, ctx)
	if err != nil {
		t.Fatal(err)
	}
	orBA, err := Eval(b+" || "+a, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if orAB != orBA {
		t.Errorf("disjunction not commutative: (A||B)=%v (B||A)=%v", orAB, orBA)
	}
}

func TestNotNegates(t *testing.T) {
	ctx := Context{Branch: "main"}
	n := Not(Branch("main"))
	if n.Eval(ctx) {
		t.Error("Not(Branch(\"main\")).Eval should be false when branch is main")
	}
	if !Not(Branch("develop")).Eval(ctx) {
		t.Error("Not(Branch(\"develop\")).Eval should be true when branch is main")
	}
}

func TestLiteralLeaf(t *testing.T) {
	if !Literal(true).Eval(Context{}) {
		t.Error("Literal(true) must always evaluate true")
	}
	if Literal(false).Eval(Context{}) {
		t.Error("Literal(false) must always evaluate false")
	}
}

func TestMatchGlob(t *testing.T) {
	ctx := Context{Branch: "release-1.2"}
	if !Branch("release-*").Eval(ctx) {
		t.Error("expected glob prefix match")
	}
	if Branch("release-*").Eval(Context{Branch: "main"}) {
		t.Error("expected glob mismatch")
	}
}
