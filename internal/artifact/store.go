// Package artifact implements the per-step artifact store from spec
// §4.6: files matched by glob in a step's working directory are copied
// into a per-step directory, and can be restored into a later step's
// workspace.
package artifact

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"blockci-q/internal/model"
)

// Metadata is the sidecar record written alongside a step's artifact
// directory.
type Metadata struct {
	StepName  string    `json:"stepName"`
	Timestamp time.Time `json:"timestamp"`
	Patterns  []string  `json:"patterns"`
	Files     []string  `json:"files"`
	TotalSize int64     `json:"totalSize"`
}

// Store manages artifacts under BaseDir.
type Store struct {
	BaseDir  string
	Disabled bool
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string, disabled bool) (*Store, error) {
	if !disabled {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, model.Wrap(model.KindFilesystem, err)
		}
	}
	return &Store{BaseDir: baseDir, Disabled: disabled}, nil
}

var nonWordRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
var underscoreRun = regexp.MustCompile(`_+`)

// SanitizeStepName turns an arbitrary step name into a directory-safe
// token: runs of characters outside [A-Za-z0-9_-] become '_', runs of
// '_' collapse, leading/trailing '_' are trimmed, and the result is
// lowercased. It is idempotent (spec invariant 6).
func SanitizeStepName(name string) string {
	s := nonWordRun.ReplaceAllString(name, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = strings.ToLower(s)
	if s == "" {
		return "step"
	}
	return s
}

func (s *Store) stepDir(stepName string) string {
	return filepath.Join(s.BaseDir, SanitizeStepName(stepName))
}

// Save matches patterns against sourceDir and copies every matched
// regular, non-hidden file into the step's artifact directory.
func (s *Store) Save(patterns []string, sourceDir, stepName string) error {
	if s.Disabled || len(patterns) == 0 {
		return nil
	}

	stepDir := s.stepDir(stepName)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return model.Wrap(model.KindFilesystem, err)
	}

	fsys := os.DirFS(sourceDir)
	var files []string
	var totalSize int64
	seen := map[string]bool{}

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return model.Wrapf(model.KindFilesystem, "artifact pattern %q: %v", pattern, err)
		}
		for _, rel := range matches {
			if seen[rel] || isHidden(rel) {
				continue
			}
			info, err := fs.Stat(fsys, rel)
			if err != nil || info.IsDir() || !info.Mode().IsRegular() {
				continue
			}
			seen[rel] = true

			src := filepath.Join(sourceDir, rel)
			dst := filepath.Join(stepDir, rel)
			if err := copyFile(src, dst); err != nil {
				return model.Wrap(model.KindFilesystem, err)
			}
			files = append(files, rel)
			totalSize += info.Size()
		}
	}

	meta := Metadata{
		StepName:  stepName,
		Timestamp: time.Now().UTC(),
		Patterns:  patterns,
		Files:     files,
		TotalSize: totalSize,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return model.Wrap(model.KindFilesystem, err)
	}
	return model.Wrap(model.KindFilesystem, os.WriteFile(filepath.Join(stepDir, ".metadata.json"), data, 0o644))
}

// Restore copies every file from a step's artifact directory (or every
// step's directory when stepName is empty) into targetDir, preserving
// relative paths. Per-file copy failures are skipped silently; the only
// error returned is a failure to list the artifact base directory (a
// missing base directory is not an error).
func (s *Store) Restore(targetDir, stepName string) error {
	if s.Disabled {
		return nil
	}

	var dirs []string
	if stepName != "" {
		dirs = []string{s.stepDir(stepName)}
	} else {
		entries, err := os.ReadDir(s.BaseDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return model.Wrap(model.KindFilesystem, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(s.BaseDir, e.Name()))
			}
		}
	}

	for _, dir := range dirs {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || info.Name() == ".metadata.json" {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return nil
			}
			dst := filepath.Join(targetDir, rel)
			os.MkdirAll(filepath.Dir(dst), 0o755)
			copyFile(path, dst) // errors swallowed: non-fatal restore
			return nil
		})
	}
	return nil
}

// Clear removes every per-step artifact directory. A no-op when the
// store is disabled by configuration.
func (s *Store) Clear() error {
	if s.Disabled {
		return nil
	}
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.Wrap(model.KindFilesystem, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.BaseDir, e.Name())); err != nil {
			return model.Wrap(model.KindFilesystem, err)
		}
	}
	return nil
}

func isHidden(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
