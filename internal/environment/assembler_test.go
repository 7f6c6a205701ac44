package environment

import (
	"testing"

	"blockci-q/internal/model"
)

func TestAssemble_RightBiasedMerge(t *testing.T) {
	sources := Sources{
		Process:        map[string]string{"FOO": "process"},
		DotEnv:         map[string]string{"FOO": "dotenv"},
		UserEnvFile:    map[string]string{"FOO": "userfile"},
		DotPipelines:   map[string]string{"FOO": "dotpipelines"},
		RunnerDefaults: map[string]string{"FOO": "runner"},
		StepVariables:  map[string]string{"FOO": "step"},
	}
	merged, _ := Assemble(sources, model.PipelineContext{}, "step-uuid", ParallelInfo{})
	if merged["FOO"] != "step" {
		t.Fatalf("expected step-local value to win, got %q", merged["FOO"])
	}
}

func TestAssemble_SystemVariablesOverrideUserInput(t *testing.T) {
	sources := Sources{
		StepVariables: map[string]string{"BITBUCKET_BRANCH": "user-supplied"},
	}
	ctx := model.PipelineContext{Branch: "main"}
	merged, _ := Assemble(sources, ctx, "step-uuid", ParallelInfo{})
	if merged["BITBUCKET_BRANCH"] != "main" {
		t.Fatalf("expected system value to win, got %q", merged["BITBUCKET_BRANCH"])
	}
}

func TestAssemble_ParallelMarkersOnlyInsideGroup(t *testing.T) {
	merged, _ := Assemble(Sources{}, model.PipelineContext{}, "step-uuid", ParallelInfo{})
	if _, ok := merged["PARALLEL_STEP"]; ok {
		t.Fatalf("expected no PARALLEL_STEP outside a parallel group")
	}

	merged, _ = Assemble(Sources{}, model.PipelineContext{}, "step-uuid", ParallelInfo{InGroup: true, Count: 3})
	if merged["PARALLEL_STEP"] != "true" {
		t.Fatalf("expected PARALLEL_STEP=true inside a parallel group")
	}
	if merged["PARALLEL_STEP_COUNT"] != "3" {
		t.Fatalf("expected PARALLEL_STEP_COUNT=3, got %q", merged["PARALLEL_STEP_COUNT"])
	}
}

func TestAssemble_InvalidNamesSurfacedNotFiltered(t *testing.T) {
	sources := Sources{StepVariables: map[string]string{"not-a-valid-name": "x"}}
	merged, invalid := Assemble(sources, model.PipelineContext{}, "step-uuid", ParallelInfo{})
	if _, ok := merged["not-a-valid-name"]; !ok {
		t.Fatalf("expected invalid name to still be present in merged env")
	}
	found := false
	for _, n := range invalid {
		if n == "not-a-valid-name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected invalid name to be reported, got %v", invalid)
	}
}

func TestReadDotEnvFile_MissingFileReturnsEmpty(t *testing.T) {
	m, err := ReadDotEnvFile("/nonexistent/.env")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}
