package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSave_CopiesMatchedFiles(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "target"), 0o755)
	os.WriteFile(filepath.Join(src, "target", "app.jar"), []byte("jar-bytes"), 0o644)
	os.WriteFile(filepath.Join(src, "README.md"), []byte("docs"), 0o644)

	base := t.TempDir()
	store, err := New(base, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Save([]string{"target/*.jar"}, src, "build"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "build", "target", "app.jar"))
	if err != nil {
		t.Fatalf("expected artifact copied, got: %v", err)
	}
	if string(data) != "jar-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(base, "build", "README.md")); !os.IsNotExist(err) {
		t.Fatal("expected non-matched file to be absent")
	}
}

func TestSave_WritesMetadata(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "out.txt"), []byte("hello"), 0o644)

	base := t.TempDir()
	store, _ := New(base, false)
	if err := store.Save([]string{"*.txt"}, src, "Build And Test"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "build_and_test", ".metadata.json"))
	if err != nil {
		t.Fatalf("expected metadata file, got: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.StepName != "Build And Test" {
		t.Fatalf("unexpected step name in metadata: %q", meta.StepName)
	}
	if len(meta.Files) != 1 || meta.Files[0] != "out.txt" {
		t.Fatalf("unexpected files in metadata: %v", meta.Files)
	}
	if meta.TotalSize != 5 {
		t.Fatalf("unexpected total size: %d", meta.TotalSize)
	}
}

func TestSave_SkipsHiddenAndDirMatches(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, ".git"), 0o755)
	os.WriteFile(filepath.Join(src, ".git", "config"), []byte("x"), 0o644)
	os.MkdirAll(filepath.Join(src, "dist"), 0o755)

	base := t.TempDir()
	store, _ := New(base, false)
	if err := store.Save([]string{"**/*"}, src, "step"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "step", ".git")); !os.IsNotExist(err) {
		t.Fatal("expected hidden directory contents to be skipped")
	}
	if _, err := os.Stat(filepath.Join(base, "step", "dist")); !os.IsNotExist(err) {
		t.Fatal("expected directory matches to be skipped")
	}
}

func TestSave_NoPatternsIsNoOp(t *testing.T) {
	base := t.TempDir()
	store, _ := New(base, false)
	if err := store.Save(nil, t.TempDir(), "step"); err != nil {
		t.Fatalf("expected no-op, got: %v", err)
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Fatalf("expected no directories created, got %v", entries)
	}
}

func TestSave_DisabledStoreIsNoOp(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("x"), 0o644)

	base := filepath.Join(t.TempDir(), "artifacts")
	store, err := New(base, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Save([]string{"*.txt"}, src, "step"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(base); !os.IsNotExist(err) {
		t.Fatal("expected disabled store to never create its base dir")
	}
}

func TestRestore_CopiesFilesIntoTarget(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "bin.out"), []byte("binary"), 0o644)

	base := t.TempDir()
	store, _ := New(base, false)
	store.Save([]string{"*.out"}, src, "compile")

	target := t.TempDir()
	if err := store.Restore(target, "compile"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "bin.out"))
	if err != nil {
		t.Fatalf("expected restored file, got: %v", err)
	}
	if string(data) != "binary" {
		t.Fatalf("unexpected restored content %q", data)
	}
}

func TestRestore_AllStepsWhenNameEmpty(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0o644)

	base := t.TempDir()
	store, _ := New(base, false)
	store.Save([]string{"a.txt"}, src, "one")
	store.Save([]string{"b.txt"}, src, "two")

	target := t.TempDir()
	if err := store.Restore(target, ""); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "a.txt")); err != nil {
		t.Fatalf("expected a.txt restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "b.txt")); err != nil {
		t.Fatalf("expected b.txt restored: %v", err)
	}
}

func TestRestore_MissingStepIsNotAnError(t *testing.T) {
	store, _ := New(t.TempDir(), false)
	if err := store.Restore(t.TempDir(), "never-saved"); err != nil {
		t.Fatalf("expected missing step restore to be non-fatal, got: %v", err)
	}
}

func TestClear_RemovesAllStepDirectories(t *testing.T) {
	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644)

	base := t.TempDir()
	store, _ := New(base, false)
	store.Save([]string{"a.txt"}, src, "one")

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Fatalf("expected empty artifact base after Clear, got %v", entries)
	}
}

func TestClear_DisabledIsNoOp(t *testing.T) {
	store, _ := New(t.TempDir(), true)
	if err := store.Clear(); err != nil {
		t.Fatalf("expected disabled Clear to be a no-op, got: %v", err)
	}
}

func TestSanitizeStepName(t *testing.T) {
	cases := map[string]string{
		"Build & Test":     "build_test",
		"deploy:prod":      "deploy_prod",
		"__leading":        "leading",
		"trailing__":       "trailing",
		"already-ok_name":  "already-ok_name",
		"":                 "step",
	}
	for in, want := range cases {
		if got := SanitizeStepName(in); got != want {
			t.Errorf("SanitizeStepName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeStepName_Idempotent(t *testing.T) {
	names := []string{"Build & Test", "deploy:prod", "plain"}
	for _, n := range names {
		once := SanitizeStepName(n)
		twice := SanitizeStepName(once)
		if once != twice {
			t.Errorf("SanitizeStepName not idempotent for %q: %q vs %q", n, once, twice)
		}
	}
}
