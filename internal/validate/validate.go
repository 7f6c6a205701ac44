// Package validate enforces schema and cross-field constraints on a
// normalized model.Document, returning both hard errors (which must be
// empty for a run to proceed) and non-fatal warnings.
package validate

import (
	"fmt"
	"regexp"

	"blockci-q/internal/model"
)

// Result holds the outcome of validating a document.
type Result struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the document has no hard errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

var customNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type validator struct {
	Result
	definedCaches map[string]bool
}

// Document validates doc and every pipeline it declares.
func Document(doc *model.Document) Result {
	v := &validator{definedCaches: map[string]bool{}}
	for name := range model.BuiltinCachePaths {
		v.definedCaches[name] = true
	}

	if doc.Pipelines == nil {
		v.Errors = append(v.Errors, "pipelines is required")
		return v.Result
	}

	if doc.Definitions != nil {
		for name := range doc.Definitions.Caches {
			v.definedCaches[name] = true
		}
		for name, svc := range doc.Definitions.Services {
			v.validateService(name, svc)
		}
	}

	if doc.Image != nil {
		v.validateImage("image", doc.Image)
	}

	if doc.Pipelines.Default != nil {
		v.validatePipeline("default", doc.Pipelines.Default)
	}
	for name, p := range doc.Pipelines.Branches {
		v.validatePipeline("branches/"+name, p)
	}
	for name, p := range doc.Pipelines.Tags {
		v.validatePipeline("tags/"+name, p)
	}
	for name, p := range doc.Pipelines.PullRequests {
		v.validatePipeline("pullrequests/"+name, p)
	}
	for name, p := range doc.Pipelines.Custom {
		if !customNamePattern.MatchString(name) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("custom pipeline name %q does not match [A-Za-z0-9_-]+", name))
		}
		v.validatePipeline("custom/"+name, p)
	}

	if doc.Pipelines.Default == nil && len(doc.Pipelines.Branches) == 0 &&
		len(doc.Pipelines.Tags) == 0 && len(doc.Pipelines.PullRequests) == 0 &&
		len(doc.Pipelines.Custom) == 0 {
		v.Warnings = append(v.Warnings, "document declares no pipelines")
	}

	return v.Result
}

func (v *validator) validatePipeline(label string, p model.Pipeline) {
	if len(p) == 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("pipeline %q is empty", label))
		return
	}
	for i, item := range p {
		itemLabel := fmt.Sprintf("%s[%d]", label, i)
		switch item.Kind {
		case model.ItemStep:
			v.validateStep(itemLabel, item.Step)
		case model.ItemParallel:
			v.validateParallel(itemLabel, item.Parallel)
		default:
			v.Errors = append(v.Errors, fmt.Sprintf("%s: neither a step nor a parallel group", itemLabel))
		}
	}
}

func (v *validator) validateParallel(label string, g *model.ParallelGroup) {
	if len(g.Steps) == 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: parallel group must contain at least one step", label))
		return
	}
	if len(g.Steps) == 1 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: parallel group has only one step", label))
	}
	if len(g.Steps) > 10 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: parallel group has more than 10 steps", label))
	}
	for i, s := range g.Steps {
		v.validateStep(fmt.Sprintf("%s.steps[%d]", label, i), s)
	}
}

func (v *validator) validateStep(label string, s *model.Step) {
	if s == nil {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: step is nil", label))
		return
	}
	if len(s.Script) == 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: script must be non-empty", label))
	}
	if len(s.Script) > 100 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: script has more than 100 lines", label))
	}

	if s.Size != "" && !model.SupportedSizes[s.Size] {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: unsupported size %q", label, s.Size))
	}

	if s.MaxTime != nil {
		if *s.MaxTime <= 0 {
			v.Errors = append(v.Errors, fmt.Sprintf("%s: maxTime must be positive", label))
		} else if *s.MaxTime > 120 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s: maxTime exceeds 120 minutes", label))
		}
	}

	if s.Trigger != "" && !model.SupportedTriggers[s.Trigger] {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: unsupported trigger %q", label, s.Trigger))
	}

	if s.Artifacts != nil && len(s.Artifacts.Paths) == 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: artifacts.paths must be non-empty", label))
	}

	for _, name := range s.Caches {
		if !v.definedCaches[name] {
			v.Errors = append(v.Errors, fmt.Sprintf("%s: cache %q is neither predefined nor declared under definitions.caches", label, name))
		}
	}

	if s.Image != nil {
		v.validateImage(label+".image", s.Image)
	}

	if s.Name != "" && len(s.Name) > 50 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: step name longer than 50 characters", label))
	}
}

func (v *validator) validateImage(label string, img *model.Image) {
	if img.Name == "" {
		v.Errors = append(v.Errors, fmt.Sprintf("%s: image name must be non-empty", label))
	}
	if img.Username != "" && img.Password == "" {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: image username set without a password", label))
	}
}

func (v *validator) validateService(name string, svc model.ServiceDefinition) {
	if svc.Image == nil || svc.Image.Name == "" {
		v.Errors = append(v.Errors, fmt.Sprintf("definitions.services.%s: image is required", name))
	}
}
