package selector

import (
	"testing"

	"blockci-q/internal/loader"
	"blockci-q/internal/model"
)

const doc = `
pipelines:
  default:
    - step:
        script: ["echo default"]
  branches:
    main:
      - step:
          script: ["echo main"]
  custom:
    release:
      - step:
          script: ["echo release"]
`

func mustDoc(t *testing.T) *model.Document {
	t.Helper()
	d, err := loader.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

func TestSelect_CustomWinsOverBranch(t *testing.T) {
	d := mustDoc(t)
	got, err := Select(d, model.SelectionIntent{Custom: "release", Branch: "main"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Label != "custom/release" {
		t.Fatalf("expected custom/release, got %s", got.Label)
	}
}

func TestSelect_BranchFallsBackToDefault(t *testing.T) {
	d := mustDoc(t)
	got, err := Select(d, model.SelectionIntent{Branch: "develop"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Label != "default" {
		t.Fatalf("expected fallback to default, got %s", got.Label)
	}
}

func TestSelect_BranchMatch(t *testing.T) {
	d := mustDoc(t)
	got, err := Select(d, model.SelectionIntent{Branch: "main"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Label != "branches/main" {
		t.Fatalf("expected branches/main, got %s", got.Label)
	}
}

func TestSelect_PipelineFeatureErrors(t *testing.T) {
	d := mustDoc(t)
	if _, err := Select(d, model.SelectionIntent{Pipeline: "feature"}); err == nil {
		t.Fatal("expected error for pipeline id other than \"default\"")
	}
}

func TestSelect_PipelineDefaultAccepted(t *testing.T) {
	d := mustDoc(t)
	got, err := Select(d, model.SelectionIntent{Pipeline: "default"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Label != "default" {
		t.Fatalf("expected default, got %s", got.Label)
	}
}

func TestSelect_NoIntentUsesDefault(t *testing.T) {
	d := mustDoc(t)
	got, err := Select(d, model.SelectionIntent{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Label != "default" {
		t.Fatalf("expected default, got %s", got.Label)
	}
}

func TestSelect_UnknownCustomErrors(t *testing.T) {
	d := mustDoc(t)
	if _, err := Select(d, model.SelectionIntent{Custom: "nope"}); err == nil {
		t.Fatal("expected error for unknown custom pipeline")
	}
}

func TestList_SortedLabels(t *testing.T) {
	d := mustDoc(t)
	labels := List(d)
	want := []string{"branches/main", "custom/release", "default"}
	if len(labels) != len(want) {
		t.Fatalf("got %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("got %v, want %v", labels, want)
		}
	}
}
