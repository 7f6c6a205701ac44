// Package selector resolves a caller's selection intent to exactly one
// pipeline within a document.
package selector

import (
	"sort"

	"blockci-q/internal/model"
)

// Selected is the resolved pipeline plus the label it was selected under.
type Selected struct {
	Label    string
	Pipeline model.Pipeline
}

// Select applies the resolution order from spec §4.3: custom name wins
// outright, then branch (falling back to default), then the literal
// pipeline id "default", then default itself.
func Select(doc *model.Document, intent model.SelectionIntent) (*Selected, error) {
	if doc.Pipelines == nil {
		return nil, model.Wrapf(model.KindSelection, "document declares no pipelines")
	}
	p := doc.Pipelines

	if intent.Custom != "" {
		pipeline, ok := p.Custom[intent.Custom]
		if !ok {
			return nil, model.Wrapf(model.KindSelection, "custom pipeline %q not found", intent.Custom)
		}
		return &Selected{Label: model.Label("custom", intent.Custom), Pipeline: pipeline}, nil
	}

	if intent.Branch != "" {
		if pipeline, ok := p.Branches[intent.Branch]; ok {
			return &Selected{Label: model.Label("branches", intent.Branch), Pipeline: pipeline}, nil
		}
		if p.Default != nil {
			return &Selected{Label: "default", Pipeline: p.Default}, nil
		}
		return nil, model.Wrapf(model.KindSelection, "no pipeline for branch %q and no default pipeline", intent.Branch)
	}

	if intent.Pipeline != "" {
		if intent.Pipeline != "default" {
			return nil, model.Wrapf(model.KindSelection, "unsupported pipeline id %q; only \"default\" is accepted", intent.Pipeline)
		}
		if p.Default == nil {
			return nil, model.Wrapf(model.KindSelection, "no default pipeline declared")
		}
		return &Selected{Label: "default", Pipeline: p.Default}, nil
	}

	if p.Default == nil {
		return nil, model.Wrapf(model.KindSelection, "no default pipeline declared")
	}
	return &Selected{Label: "default", Pipeline: p.Default}, nil
}

// List returns every selectable pipeline label, sorted, in the form
// "default", "branches/<name>", "tags/<name>", "custom/<name>".
func List(doc *model.Document) []string {
	if doc.Pipelines == nil {
		return nil
	}
	var labels []string
	p := doc.Pipelines
	if p.Default != nil {
		labels = append(labels, "default")
	}
	for name := range p.Branches {
		labels = append(labels, model.Label("branches", name))
	}
	for name := range p.Tags {
		labels = append(labels, model.Label("tags", name))
	}
	for name := range p.Custom {
		labels = append(labels, model.Label("custom", name))
	}
	sort.Strings(labels)
	return labels
}
