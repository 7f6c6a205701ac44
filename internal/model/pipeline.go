// Package model holds the canonical, normalized representation of a
// pipeline document. Values here are produced once by the loader and are
// treated as read-only for the remainder of a run.
package model

import "fmt"

// Document is the root of a parsed pipeline document.
type Document struct {
	Image       *Image         `yaml:"image,omitempty"`
	Options     *GlobalOptions `yaml:"options,omitempty"`
	Clone       *CloneSettings `yaml:"clone,omitempty"`
	Definitions *Definitions   `yaml:"definitions,omitempty"`
	Pipelines   *Pipelines     `yaml:"pipelines"`
}

// GlobalOptions overrides defaults applied to every step of every pipeline.
type GlobalOptions struct {
	MaxTime *float64 `yaml:"maxTime,omitempty"`
	Size    string   `yaml:"size,omitempty"`
	Docker  bool     `yaml:"docker,omitempty"`
}

// CloneSettings controls how the workspace is seeded before a run.
type CloneSettings struct {
	Enabled       bool `yaml:"enabled"`
	Depth         any  `yaml:"depth,omitempty"`
	LFS           bool `yaml:"lfs,omitempty"`
	SkipSSLVerify bool `yaml:"skipSslVerify,omitempty"`
}

// Definitions holds named caches, services, and reusable steps shared
// across pipelines in the document.
type Definitions struct {
	Caches   map[string]string            `yaml:"caches,omitempty"`
	Services map[string]ServiceDefinition `yaml:"services,omitempty"`
	Steps    map[string]*Step             `yaml:"steps,omitempty"`
}

// ServiceDefinition describes a sidecar container started alongside any
// step that names it under Step.Services.
type ServiceDefinition struct {
	Image     *Image            `yaml:"image,omitempty"`
	Memory    int64             `yaml:"memory,omitempty"`
	Type      string            `yaml:"type,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty"`
	Ports     []string          `yaml:"ports,omitempty"`
}

// Pipelines groups the five selectable collections.
type Pipelines struct {
	Default      Pipeline            `yaml:"default,omitempty"`
	Branches     map[string]Pipeline `yaml:"branches,omitempty"`
	Tags         map[string]Pipeline `yaml:"tags,omitempty"`
	PullRequests map[string]Pipeline `yaml:"pullrequests,omitempty"`
	Custom       map[string]Pipeline `yaml:"custom,omitempty"`
}

// Pipeline is an ordered sequence of steps and parallel groups.
type Pipeline []PipelineItem

// ItemKind tags a PipelineItem as a Step or a ParallelGroup. The
// discrimination happens once, at load time (see PipelineItem.UnmarshalYAML),
// rather than being re-derived by every consumer.
type ItemKind int

const (
	ItemStep ItemKind = iota
	ItemParallel
)

type PipelineItem struct {
	Kind     ItemKind
	Step     *Step
	Parallel *ParallelGroup
}

// ParallelGroup runs its steps concurrently.
type ParallelGroup struct {
	FailFast bool    `yaml:"failFast"`
	Steps    []*Step `yaml:"steps"`
}

// Step is a single container-backed unit of work.
type Step struct {
	Name        string            `yaml:"name,omitempty"`
	Image       *Image            `yaml:"image,omitempty"`
	Size        string            `yaml:"size,omitempty"`
	MaxTime     *float64          `yaml:"maxTime,omitempty"`
	Script      []string          `yaml:"script"`
	Caches      []string          `yaml:"caches,omitempty"`
	Artifacts   *Artifacts        `yaml:"artifacts,omitempty"`
	Services    []string          `yaml:"services,omitempty"`
	Trigger     string            `yaml:"trigger,omitempty"`
	Condition   *Condition        `yaml:"condition,omitempty"`
	AfterScript []string          `yaml:"afterScript,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Deployment  string            `yaml:"deployment,omitempty"`
}

// Artifacts describes files a step produces for later steps to consume.
type Artifacts struct {
	Paths    []string `yaml:"paths"`
	Download bool     `yaml:"download"`
}

// Condition narrows execution to a changeset.
type Condition struct {
	IncludePaths []string `yaml:"includePaths,omitempty"`
	ExcludePaths []string `yaml:"excludePaths,omitempty"`
}

// SupportedSizes is the closed set of step-size tokens.
var SupportedSizes = map[string]bool{
	"1x": true, "2x": true, "4x": true, "8x": true, "16x": true,
}

// SupportedTriggers is the closed set of trigger tokens.
var SupportedTriggers = map[string]bool{
	"automatic": true, "manual": true,
}

// BuiltinCachePaths maps a predefined cache name to its workspace-relative
// (or home-relative, via "~") path.
var BuiltinCachePaths = map[string]string{
	"node":      "node_modules",
	"npm":       "~/.npm",
	"yarn":      "~/.cache/yarn",
	"pip-cache": "~/.cache/pip",
	"composer":  "vendor",
	"gradle":    "~/.gradle/caches",
	"maven":     "~/.m2/repository",
	"docker":    "/var/lib/docker",
}

// Label returns the selector-facing label for a named pipeline
// ("default", "branches/<name>", "tags/<name>", "custom/<name>").
func Label(group, name string) string {
	if group == "default" {
		return "default"
	}
	return fmt.Sprintf("%s/%s", group, name)
}
