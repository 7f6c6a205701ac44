// Package scheduler walks a pipeline's items in order, dispatching
// parallel groups concurrently with fail-fast cancellation, the way
// spec §4.8 describes. It knows nothing about containers or caches —
// callers supply an Exec function that actually runs a step.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"blockci-q/internal/model"
)

// ParallelInfo tells an Exec call its placement inside a parallel group,
// if any; step execution uses this to populate PARALLEL_STEP* variables.
type ParallelInfo struct {
	InGroup bool
	Index   int
	Count   int
}

// Exec runs one step to completion. A non-nil error signals an
// infrastructure failure (the step's own script failure must instead be
// reflected in the returned StepResult's State).
type Exec func(ctx context.Context, step *model.Step, info ParallelInfo) (model.StepResult, error)

// Scheduler walks a pipeline, sequentially, short-circuiting on the
// first failing item.
type Scheduler struct {
	Exec Exec

	// Spacing is the pause between successive top-level items (spec
	// §4.8's 100ms pacing so container teardown settles before the next
	// step starts). Sleep is overridable in tests.
	Spacing time.Duration
	Sleep   func(time.Duration)
}

// New builds a Scheduler with spec's default 100ms inter-item spacing.
func New(exec Exec) *Scheduler {
	return &Scheduler{Exec: exec, Spacing: 100 * time.Millisecond, Sleep: time.Sleep}
}

// Run walks pipeline in order. It stops at the first item whose result
// is unsuccessful and reports that item's label in FailedAt.
func (s *Scheduler) Run(ctx context.Context, pipelineName string, runID string, pipeline model.Pipeline) model.ExecutionResult {
	result := model.ExecutionResult{
		RunID:        runID,
		PipelineName: pipelineName,
		StartedAt:    time.Now().UTC(),
		Success:      true,
	}

	for i, item := range pipeline {
		if i > 0 && s.Spacing > 0 {
			s.Sleep(s.Spacing)
		}

		itemResult := s.runItem(ctx, item)
		result.Items = append(result.Items, itemResult)

		if !itemResult.Success() {
			result.Success = false
			result.FailedAt = itemLabel(item, i)
			break
		}
		if ctx.Err() != nil {
			result.Success = false
			result.FailedAt = itemLabel(item, i)
			break
		}
	}

	result.Duration = time.Since(result.StartedAt)
	return result
}

func (s *Scheduler) runItem(ctx context.Context, item model.PipelineItem) model.ItemResult {
	if item.Kind == model.ItemStep {
		res, err := s.Exec(ctx, item.Step, ParallelInfo{})
		if err != nil && res.State == "" {
			res = model.StepResult{Name: item.Step.Name, State: model.StateFailed, Error: err.Error()}
		}
		return model.ItemResult{Kind: model.ItemStep, Step: &res}
	}
	group := s.runParallel(ctx, item.Parallel)
	return model.ItemResult{Kind: model.ItemParallel, Group: &group}
}

// runParallel dispatches every step in group concurrently via
// errgroup.WithContext. When FailFast is set, the first failing or
// erroring child cancels the group's context; children still in flight
// when that happens are reported as CANCELLED rather than FAILED.
func (s *Scheduler) runParallel(ctx context.Context, group *model.ParallelGroup) model.GroupResult {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(groupCtx)
	results := make([]model.StepResult, len(group.Steps))
	count := len(group.Steps)

	for i, step := range group.Steps {
		i, step := i, step
		g.Go(func() error {
			info := ParallelInfo{InGroup: true, Index: i, Count: count}
			res, err := s.Exec(gctx, step, info)

			// A child torn down because a sibling tripped fail-fast sees
			// its own operation fail with context.Canceled, regardless of
			// what State the caller's Exec already stamped on res (it has
			// no way to tell "my own run failed" from "I was cancelled").
			// A step timing out on its own budget surfaces as
			// context.DeadlineExceeded instead and is left as FAILED.
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				res = model.StepResult{Name: step.Name, State: model.StateCancelled, ExitCode: 1, Error: "execution failed / cancelled"}
			case err != nil && res.State == "":
				res = model.StepResult{Name: step.Name, State: model.StateFailed, Error: err.Error()}
			}
			results[i] = res

			if !res.Success() && group.FailFast {
				return fmt.Errorf("step %q failed", step.Name)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res.State == "" {
			results[i] = model.StepResult{Name: group.Steps[i].Name, State: model.StateCancelled, ExitCode: 1, Error: "execution failed / cancelled"}
		}
	}

	return model.GroupResult{FailFast: group.FailFast, Children: results}
}

func itemLabel(item model.PipelineItem, index int) string {
	if item.Kind == model.ItemStep {
		if item.Step.Name != "" {
			return item.Step.Name
		}
		return fmt.Sprintf("step[%d]", index)
	}
	return fmt.Sprintf("parallel[%d]", index)
}
