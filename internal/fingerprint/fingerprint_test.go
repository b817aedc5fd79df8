// Copyright Contributors to the Sykli project

package fingerprint

import "testing"

func TestComputeDeterministic(t *testing.T) {
	spec := Spec{
		Image:   "golang:1.25",
		Command: "go build ./...",
		Env:     map[string]string{"CGO_ENABLED": "0"},
		Inputs:  []Input{{Path: "main.go", Digest: "abc"}},
	}
	a := Compute(spec)
	b := Compute(spec)
	if a != b {
		t.Fatalf("Compute is not deterministic: %s != %s", a, b)
	}
}

func TestComputeCommutative(t *testing.T) {
	forward := Spec{
		Image: "alpine",
		Env:   map[string]string{"A": "1", "B": "2"},
		Inputs: []Input{
			{Path: "a.go", Digest: "1"},
			{Path: "b.go", Digest: "2"},
		},
		OutputNames: []string{"bin", "report"},
	}
	reversed := Spec{
		Image: "alpine",
		Env:   map[string]string{"B": "2", "A": "1"},
		Inputs: []Input{
			{Path: "b.go", Digest: "2"},
			{Path: "a.go", Digest: "1"},
		},
		OutputNames: []string{"report", "bin"},
	}
	if Compute(forward) != Compute(reversed) {
		t.Error("Compute must be invariant to map/slice declaration order")
	}
}

func TestComputeSensitiveToContent(t *testing.T) {
	base := Spec{Image: "alpine", Command: "build"}
	changed := base
	changed.Command = "build --release"
	if Compute(base) == Compute(changed) {
		t.Error("differing commands must not collide")
	}
}

func TestComputeFieldBoundaryCollision(t *testing.T) {
	// "AB"+"C" vs "A"+"BC" must not collide once concatenated naively;
	// the length-prefixed field writer guards against this.
	a := Spec{Env: map[string]string{"AB": "C"}}
	b := Spec{Env: map[string]string{"A": "BC"}}
	if Compute(a) == Compute(b) {
		t.Error("expected distinct fingerprints across a field-boundary shift")
	}
}

func TestComputeUpstreamOrderInvariant(t *testing.T) {
	up1 := Compute(Spec{Image: "one"})
	up2 := Compute(Spec{Image: "two"})

	forward := Compute(Spec{Image: "combined", UpstreamFingerprints: []Fingerprint{up1, up2}})
	reversed := Compute(Spec{Image: "combined", UpstreamFingerprints: []Fingerprint{up2, up1}})
	if forward != reversed {
		t.Error("upstream fingerprint order must not affect the result")
	}
}

func TestCacheable(t *testing.T) {
	if Cacheable(nil) {
		t.Error("a task with no declared inputs must not be cacheable")
	}
	if !Cacheable([]string{"**/*.go"}) {
		t.Error("a task with declared inputs must be cacheable")
	}
}

func TestFingerprintStringRoundTrip(t *testing.T) {
	fp := Compute(Spec{Image: "x"})
	if fp.String() == "" {
		t.Error("String() must not be empty")
	}
	if fp.IsZero() {
		t.Error("a computed fingerprint should not be the zero value")
	}
	var zero Fingerprint
	if !zero.IsZero() {
		t.Error("zero value must report IsZero")
	}
}
