package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML discriminates a normalized pipeline item between a Step
// and a ParallelGroup exactly once, at load time (see
// internal/loader.normalize, which has already stripped the "step" and
// "parallel" wrapper keys by the time this runs).
func (it *PipelineItem) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("pipeline item must be a mapping, got %v", node.Kind)
	}

	hasKey := func(name string) bool {
		for i := 0; i < len(node.Content); i += 2 {
			if node.Content[i].Value == name {
				return true
			}
		}
		return false
	}

	switch {
	case hasKey("steps"):
		var group ParallelGroup
		if err := node.Decode(&group); err != nil {
			return err
		}
		if len(group.Steps) == 0 {
			return fmt.Errorf("parallel group must contain at least one step")
		}
		it.Kind = ItemParallel
		it.Parallel = &group
		return nil
	case hasKey("script"):
		var step Step
		if err := node.Decode(&step); err != nil {
			return err
		}
		it.Kind = ItemStep
		it.Step = &step
		return nil
	default:
		return fmt.Errorf("pipeline item is neither a step nor a parallel group")
	}
}
