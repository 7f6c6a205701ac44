package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultImage != "atlassian/default-image:4" {
		t.Fatalf("unexpected default image: %q", cfg.DefaultImage)
	}
	if cfg.SizeMemory["2x"] != "8g" {
		t.Fatalf("unexpected size_memory[2x]: %q", cfg.SizeMemory["2x"])
	}
	if cfg.SizeCPU["4x"] != "8" {
		t.Fatalf("unexpected size_cpu[4x]: %q", cfg.SizeCPU["4x"])
	}
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "default_image: myorg/custom-image:1\n"
	if err := os.WriteFile(filepath.Join(dir, ".bitbucket-pipelines-local.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultImage != "myorg/custom-image:1" {
		t.Fatalf("expected project file to override default image, got %q", cfg.DefaultImage)
	}
}

func TestLoad_EnvVarOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := "default_image: myorg/custom-image:1\n"
	os.WriteFile(filepath.Join(dir, ".bitbucket-pipelines-local.yml"), []byte(content), 0o644)

	t.Setenv("BBPL_DOCKER_IMAGE", "myorg/env-image:2")
	cfg, err := Load(dir, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultImage != "myorg/env-image:2" {
		t.Fatalf("expected env var to override project file, got %q", cfg.DefaultImage)
	}
}

func TestLoad_CallerOverrideWinsOverEverything(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BBPL_DOCKER_IMAGE", "myorg/env-image:2")

	cfg, err := Load(dir, Overrides{DefaultImage: "myorg/override:3"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultImage != "myorg/override:3" {
		t.Fatalf("expected caller override to win, got %q", cfg.DefaultImage)
	}
}

func TestLoad_MissingFilesAreNotErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist"), Overrides{}); err != nil {
		t.Fatalf("expected missing project dir/file to be a non-error, got %v", err)
	}
}

func TestLoad_ProjectFilePopulatesDefaultVars(t *testing.T) {
	dir := t.TempDir()
	content := "variables:\n  GREETING: hello\n  REGION: us-east-1\n"
	if err := os.WriteFile(filepath.Join(dir, ".bitbucket-pipelines-local.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultVars["GREETING"] != "hello" || cfg.DefaultVars["REGION"] != "us-east-1" {
		t.Fatalf("unexpected DefaultVars: %v", cfg.DefaultVars)
	}
}

func TestLoad_CallerOverrideSetsEnvFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), Overrides{EnvFile: "/tmp/custom.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnvFile != "/tmp/custom.env" {
		t.Fatalf("expected EnvFile override, got %q", cfg.EnvFile)
	}
}

func TestLoad_ArtifactsDisabledDefaultsFalseAndIsOverridable(t *testing.T) {
	cfg, err := Load(t.TempDir(), Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArtifactsDisabled {
		t.Fatal("expected artifacts_disabled to default to false")
	}

	disabled := true
	cfg, err = Load(t.TempDir(), Overrides{ArtifactsDisabled: &disabled})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ArtifactsDisabled {
		t.Fatal("expected caller override to disable artifacts")
	}
}
