// Package config loads the runner's effective configuration, layering
// built-in defaults under a global file, a project file, BBPL_-prefixed
// environment variables, and caller overrides, the way spec §4.10
// describes. Grounded on buildkite-cli's internal/config/localconfig.go
// (viper.New + ReadInConfig per layer), generalized from that package's
// single-file read into a five-layer merge.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"blockci-q/internal/model"
)

// Overrides are caller-supplied values that win over every other layer.
type Overrides struct {
	DockerHost        string
	DefaultImage      string
	LogLevel          string
	Verbose           *bool
	EnvFile           string
	ArtifactsDisabled *bool
}

func defaults() map[string]any {
	home, _ := os.UserHomeDir()
	return map[string]any{
		"docker_host":   "/var/run/docker.sock",
		"default_image": "atlassian/default-image:4",
		"network_name":  "bbpl-local",
		"log_level":     "info",
		"verbose":       false,
		"size_memory": map[string]any{
			"1x": "4g", "2x": "8g", "4x": "16g", "8x": "32g", "16x": "64g",
		},
		"size_cpu": map[string]any{
			"1x": "2", "2x": "4", "4x": "8", "8x": "16", "16x": "32",
		},
		"cache_base_dir":     filepath.Join(home, ".bitbucket-pipelines-local", "cache"),
		"artifact_base_dir":  filepath.Join(home, ".bitbucket-pipelines-local", "artifacts"),
		"history_path":       filepath.Join(home, ".bitbucket-pipelines-local", "history.jsonl"),
		"keys_dir":           filepath.Join(home, ".bitbucket-pipelines-local", "keys"),
		"env_file":           "",
		"variables":          map[string]any{},
		"artifacts_disabled": false,
	}
}

// Load builds the effective RunnerConfig for a run rooted at projectDir.
func Load(projectDir string, overrides Overrides) (*model.RunnerConfig, error) {
	v := viper.New()
	if err := v.MergeConfigMap(defaults()); err != nil {
		return nil, model.Wrap(model.KindIO, err)
	}

	vars := map[string]string{}
	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFileLayer(v, filepath.Join(home, ".bitbucket-pipelines-local", "config.yml"), vars); err != nil {
			return nil, err
		}
	}
	if err := mergeFileLayer(v, filepath.Join(projectDir, ".bitbucket-pipelines-local.yml"), vars); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("BBPL")
	v.AutomaticEnv()
	_ = v.BindEnv("log_level", "BBPL_LOG_LEVEL")
	_ = v.BindEnv("default_image", "BBPL_DOCKER_IMAGE")
	_ = v.BindEnv("verbose", "BBPL_VERBOSE")
	_ = v.BindEnv("docker_host", "BBPL_DOCKER_HOST")

	if overrides.DockerHost != "" {
		v.Set("docker_host", overrides.DockerHost)
	}
	if overrides.DefaultImage != "" {
		v.Set("default_image", overrides.DefaultImage)
	}
	if overrides.LogLevel != "" {
		v.Set("log_level", overrides.LogLevel)
	}
	if overrides.Verbose != nil {
		v.Set("verbose", *overrides.Verbose)
	}
	if overrides.EnvFile != "" {
		v.Set("env_file", overrides.EnvFile)
	}
	if overrides.ArtifactsDisabled != nil {
		v.Set("artifacts_disabled", *overrides.ArtifactsDisabled)
	}

	cfg := &model.RunnerConfig{
		DockerHost:        v.GetString("docker_host"),
		DefaultImage:      v.GetString("default_image"),
		NetworkName:       v.GetString("network_name"),
		SizeMemory:        toStringMap(v.GetStringMap("size_memory")),
		SizeCPU:           toStringMap(v.GetStringMap("size_cpu")),
		CacheBaseDir:      v.GetString("cache_base_dir"),
		ArtifactBaseDir:   v.GetString("artifact_base_dir"),
		HistoryPath:       v.GetString("history_path"),
		KeysDir:           v.GetString("keys_dir"),
		LogLevel:          v.GetString("log_level"),
		Verbose:           v.GetBool("verbose"),
		EnvFile:           v.GetString("env_file"),
		DefaultVars:       vars,
		ArtifactsDisabled: v.GetBool("artifacts_disabled"),
	}
	return cfg, nil
}

// mergeFileLayer reads path's YAML, if present, and merges it over v's
// current state. A missing file is not an error: every layer is optional.
// Viper lowercases every key, so the file's variables block is re-read
// here and merged into vars with its names' case intact.
func mergeFileLayer(v *viper.Viper, path string, vars map[string]string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	layer := viper.New()
	layer.SetConfigFile(path)
	if err := layer.ReadInConfig(); err != nil {
		return model.Wrapf(model.KindParse, "reading config %s: %v", path, err)
	}
	var raw struct {
		Variables map[string]any `yaml:"variables"`
	}
	if data, err := os.ReadFile(path); err == nil && yaml.Unmarshal(data, &raw) == nil {
		for k, val := range toStringMap(raw.Variables) {
			vars[k] = val
		}
	}
	return v.MergeConfigMap(layer.AllSettings())
}

func toStringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
