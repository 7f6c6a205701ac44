package validate

import (
	"strings"
	"testing"

	"blockci-q/internal/loader"
	"blockci-q/internal/model"
)

func mustParse(t *testing.T, doc string) *model.Document {
	t.Helper()
	d, err := loader.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

func TestDocument_EmptyPipelineWarns(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default: []
`)
	r := Document(doc)
	if !r.OK() {
		t.Fatalf("expected no errors, got %v", r.Errors)
	}
	if !containsSubstring(r.Warnings, "empty") {
		t.Errorf("expected empty-pipeline warning, got %v", r.Warnings)
	}
}

func TestDocument_UnsupportedSizeErrors(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default:
    - step:
        size: "3x"
        script: ["true"]
`)
	r := Document(doc)
	if r.OK() {
		t.Fatal("expected a size validation error")
	}
}

func TestDocument_ZeroMaxTimeErrors(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default:
    - step:
        maxTime: 0
        script: ["true"]
`)
	r := Document(doc)
	if r.OK() {
		t.Fatal("expected a maxTime validation error")
	}
}

func TestDocument_UndeclaredCacheErrors(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default:
    - step:
        caches: [mystery-cache]
        script: ["true"]
`)
	r := Document(doc)
	if r.OK() {
		t.Fatal("expected an undeclared-cache validation error")
	}
}

func TestDocument_BuiltinAndDeclaredCachesAccepted(t *testing.T) {
	doc := mustParse(t, `
definitions:
  caches:
    mycache: .mycache
pipelines:
  default:
    - step:
        caches: [node, mycache]
        script: ["true"]
`)
	r := Document(doc)
	if !r.OK() {
		t.Fatalf("expected no errors, got %v", r.Errors)
	}
}

func TestDocument_ParallelGroupSizeWarnings(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default:
    - parallel:
        steps:
          - step:
              script: ["true"]
`)
	r := Document(doc)
	if !r.OK() {
		t.Fatalf("single-step parallel group should run, got errors %v", r.Errors)
	}
	if !containsSubstring(r.Warnings, "only one step") {
		t.Errorf("expected single-step warning, got %v", r.Warnings)
	}
}

func TestDocument_CustomPipelineNameWarning(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  custom:
    "not a valid name!":
      - step:
          script: ["true"]
`)
	r := Document(doc)
	if !containsSubstring(r.Warnings, "does not match") {
		t.Errorf("expected custom pipeline name warning, got %v", r.Warnings)
	}
}

func TestDocument_ImageUsernameWithoutPasswordWarns(t *testing.T) {
	doc := mustParse(t, `
pipelines:
  default:
    - step:
        image:
          name: myregistry/image:tag
          username: bob
        script: ["true"]
`)
	r := Document(doc)
	if !containsSubstring(r.Warnings, "without a password") {
		t.Errorf("expected username-without-password warning, got %v", r.Warnings)
	}
}

func containsSubstring(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
