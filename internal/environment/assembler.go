// Package environment assembles the effective environment for a step
// from the layered sources in spec §4.4, giving reserved system variables
// the final word regardless of what a user supplied under the same name.
package environment

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"blockci-q/internal/model"
)

// Sources bundles the layered inputs, in the order spec §4.4 lists them.
// Each map layer overrides the ones before it; System always wins last.
type Sources struct {
	Process        map[string]string
	DotEnv         map[string]string
	UserEnvFile    map[string]string
	DotPipelines   map[string]string
	RunnerDefaults map[string]string
	StepVariables  map[string]string
}

// ParallelInfo describes the parallel-group placement of a step, if any.
type ParallelInfo struct {
	InGroup bool
	Count   int
}

var validNamePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Assemble computes the effective environment for one step. It returns
// the merged map plus the list of variable names that fail the
// "valid name" pattern — those are surfaced to the caller, not filtered.
func Assemble(sources Sources, ctx model.PipelineContext, stepUUID string, parallel ParallelInfo) (map[string]string, []string) {
	merged := map[string]string{}
	layer := func(m map[string]string) {
		for k, v := range m {
			merged[k] = v
		}
	}

	system := systemVariables(ctx, stepUUID, parallel)

	layer(sources.Process)
	layer(sources.DotEnv)
	layer(sources.UserEnvFile)
	layer(sources.DotPipelines)
	layer(sources.RunnerDefaults)
	layer(system)
	layer(sources.StepVariables)
	// System variables always win over user input for reserved names:
	// step-local variables are layered last above, so re-apply the
	// reserved set on top to guarantee it cannot be shadowed.
	layer(system)

	var invalid []string
	for name := range merged {
		if !validNamePattern.MatchString(strings.ToUpper(name)) {
			invalid = append(invalid, name)
		}
	}
	return merged, invalid
}

// systemVariables computes the reserved, per-step values from spec §4.4.
func systemVariables(ctx model.PipelineContext, stepUUID string, parallel ParallelInfo) map[string]string {
	vars := map[string]string{
		"BITBUCKET_WORKSPACE":              ctx.RepoSlug,
		"BITBUCKET_REPO_SLUG":              ctx.RepoSlug,
		"BITBUCKET_REPO_UUID":              ctx.RepoUUID,
		"BITBUCKET_REPO_FULL_NAME":         ctx.RepoFullName,
		"BITBUCKET_BUILD_NUMBER":           fmt.Sprintf("%d", ctx.BuildNumber),
		"BITBUCKET_COMMIT":                 ctx.Commit,
		"BITBUCKET_BRANCH":                 ctx.Branch,
		"BITBUCKET_TAG":                    ctx.Tag,
		"BITBUCKET_BOOKMARK":               ctx.Bookmark,
		"BITBUCKET_PR_ID":                  ctx.PRID,
		"BITBUCKET_PR_DESTINATION_BRANCH":  ctx.PRDestination,
		"BITBUCKET_DEPLOYMENT_ENVIRONMENT": ctx.DeploymentEnv,
		"BITBUCKET_PIPELINE_UUID":          ctx.PipelineUUID,
		"BITBUCKET_STEP_UUID":              stepUUID,
		"BITBUCKET_STEP_TRIGGERER_UUID":    ctx.TriggererUUID,
		"BITBUCKET_CLONE_DIR":              "/opt/atlassian/pipelines/agent/build",
		"BBPL_LOCAL_RUN":                   "true",
		"BBPL_LOCAL_RUN_ID":                ctx.RunID,
		"BBPL_EXEC_ID":                     uuid.NewString(),
		"BBPL_EXEC_TIMESTAMP":              time.Now().UTC().Format(time.RFC3339),
	}
	if parallel.InGroup {
		vars["PARALLEL_STEP"] = "true"
		vars["PARALLEL_STEP_COUNT"] = fmt.Sprintf("%d", parallel.Count)
	}
	return vars
}

// ProcessEnv captures the current process environment as a map.
func ProcessEnv() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// ReadDotEnvFile reads a simple KEY=VALUE file, skipping blank lines and
// lines starting with '#'. Returns an empty map if the file is absent.
func ReadDotEnvFile(path string) (map[string]string, error) {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, model.Wrap(model.KindIO, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		out[k] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, model.Wrap(model.KindIO, err)
	}
	return out, nil
}
