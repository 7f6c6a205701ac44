// Package engine is the façade that wires the Document Loader,
// Validator, Pipeline Selector, Runner Configuration, Environment
// Assembler, Cache Store, Artifact Store, Runtime Driver, Scheduler and
// Run History into one setup → run → cleanup lifecycle. Adapted from
// internal/core/runner.go's job-orchestration shape (queue, run, record)
// generalized to the full pipeline-document lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blockci-q/internal/artifact"
	"blockci-q/internal/cache"
	"blockci-q/internal/config"
	"blockci-q/internal/environment"
	"blockci-q/internal/history"
	"blockci-q/internal/loader"
	"blockci-q/internal/model"
	"blockci-q/internal/runtime"
	"blockci-q/internal/scheduler"
	"blockci-q/internal/selector"
	"blockci-q/internal/validate"
)

// Engine is one façade instance, rooted at a workspace directory.
type Engine struct {
	WorkspaceDir string
	Config       *model.RunnerConfig
	Log          *zap.SugaredLogger

	doc *model.Document

	driver    *runtime.Driver
	cacheSt   *cache.Store
	artifacts *artifact.Store
	ledger    *history.Ledger
}

// New builds an Engine rooted at workspaceDir, loading configuration and
// connecting every subsystem. A ledger that fails to open is a warning,
// not a fatal error (history is optional, per spec §4.11).
func New(workspaceDir string, overrides config.Overrides) (*Engine, error) {
	logger, err := newLogger(overrides)
	if err != nil {
		return nil, err
	}
	log := logger.Sugar()

	cfg, err := config.Load(workspaceDir, overrides)
	if err != nil {
		return nil, err
	}

	driver, err := runtime.New(cfg.DockerHost)
	if err != nil {
		return nil, err
	}

	cacheSt, err := cache.New(cfg.CacheBaseDir)
	if err != nil {
		return nil, err
	}

	artifacts, err := artifact.New(cfg.ArtifactBaseDir, cfg.ArtifactsDisabled)
	if err != nil {
		return nil, err
	}

	var ledger *history.Ledger
	if l, err := history.Open(cfg.HistoryPath, cfg.KeysDir); err != nil {
		log.Warnw("cannot open run history, continuing without it", "error", err)
	} else {
		ledger = l
	}

	return &Engine{
		WorkspaceDir: workspaceDir,
		Config:       cfg,
		Log:          log,
		driver:       driver,
		cacheSt:      cacheSt,
		artifacts:    artifacts,
		ledger:       ledger,
	}, nil
}

func newLogger(overrides config.Overrides) (*zap.Logger, error) {
	verbose := overrides.Verbose != nil && *overrides.Verbose
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level.SetLevel(zap.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level.SetLevel(zap.InfoLevel)
	}
	return zapConfig.Build()
}

// LoadDocument loads and normalizes the pipeline document at path.
func (e *Engine) LoadDocument(path string) error {
	doc, err := loader.Load(path)
	if err != nil {
		return err
	}
	e.doc = doc
	return nil
}

// Validate runs the Validator over the loaded document.
func (e *Engine) Validate() (validate.Result, error) {
	if e.doc == nil {
		return validate.Result{}, model.Wrapf(model.KindValidation, "no document loaded")
	}
	return validate.Document(e.doc), nil
}

// ListPipelines returns every selectable pipeline label.
func (e *Engine) ListPipelines() ([]string, error) {
	if e.doc == nil {
		return nil, model.Wrapf(model.KindValidation, "no document loaded")
	}
	return selector.List(e.doc), nil
}

// ClearCache removes cached content; clearCaches and clearArtifacts are
// independently toggleable.
func (e *Engine) ClearCache(clearCaches, clearArtifacts bool) error {
	if clearCaches {
		if err := e.cacheSt.Clear(""); err != nil {
			return err
		}
	}
	if clearArtifacts {
		if err := e.artifacts.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// Run selects a pipeline per intent and executes it end to end,
// restoring caches/artifacts before each step and saving them after a
// successful one, recording history as it goes, and sweeping containers
// and networks on the way out regardless of outcome.
func (e *Engine) Run(ctx context.Context, intent model.SelectionIntent, dryRun bool) (model.ExecutionResult, error) {
	if e.doc == nil {
		return model.ExecutionResult{}, model.Wrapf(model.KindValidation, "no document loaded")
	}
	if res := validate.Document(e.doc); !res.OK() {
		return model.ExecutionResult{}, model.Wrapf(model.KindValidation, "document has %d validation errors: %s", len(res.Errors), strings.Join(res.Errors, "; "))
	}

	sel, err := selector.Select(e.doc, intent)
	if err != nil {
		return model.ExecutionResult{}, err
	}

	runID := uuid.NewString()
	pctx := e.buildContext(intent, runID)

	var networkID string
	if !dryRun {
		networkID, err = e.driver.EnsureNetwork(ctx, e.Config.NetworkName)
		if err != nil {
			return model.ExecutionResult{}, err
		}
	}
	defer func() {
		if !dryRun {
			e.driver.Cleanup(context.Background())
			_ = e.driver.RemoveNetwork(context.Background(), networkID)
		}
	}()

	// options.maxTime is a whole-run cancellation trigger, not just a
	// per-step cap (stepTimeout still applies it per step too, so a
	// single slow step is caught early rather than waiting for the run
	// budget to expire).
	runCtx := ctx
	if global := e.globalMaxTime(); global != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*global)*time.Minute)
		defer cancel()
	}

	exec := e.makeExec(pctx, runID, networkID, dryRun)
	sched := scheduler.New(exec)
	result := sched.Run(runCtx, sel.Label, runID, sel.Pipeline)

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Success = false
		if result.FailedAt == "" {
			result.FailedAt = sel.Label
		}
		e.recordRunClosing(runID, sel.Label, false)
		return result, model.Wrapf(model.KindTimeout, "run exceeded global maxTime of %.0f minutes", *e.globalMaxTime())
	}

	e.recordRunClosing(runID, sel.Label, result.Success)
	return result, nil
}

func (e *Engine) buildContext(intent model.SelectionIntent, runID string) model.PipelineContext {
	branch := intent.Branch
	if branch == "" {
		branch = "local"
	}
	repoSlug := filepath.Base(e.WorkspaceDir)
	return model.PipelineContext{
		WorkspaceDir:  e.WorkspaceDir,
		RepoSlug:      repoSlug,
		RepoUUID:      "00000000-0000-0000-0000-000000000000",
		RepoFullName:  repoSlug + "/" + repoSlug,
		BuildNumber:   time.Now().UnixMilli(),
		Commit:        "local-commit",
		Branch:        branch,
		PipelineUUID:  uuid.NewString(),
		TriggererUUID: "00000000-0000-0000-0000-000000000000",
		RunID:         runID,
	}
}

// makeExec builds the scheduler.Exec closure that actually runs a step:
// restore, run, save, record.
func (e *Engine) makeExec(pctx model.PipelineContext, runID, networkID string, dryRun bool) scheduler.Exec {
	return func(ctx context.Context, step *model.Step, info scheduler.ParallelInfo) (model.StepResult, error) {
		start := time.Now().UTC()
		name := step.Name
		if name == "" {
			name = "unnamed-step"
		}
		e.Log.Infow("step starting", "step", name, "runID", runID)

		if dryRun {
			res := model.StepResult{Name: name, State: model.StateSucceeded, Output: strings.Join(step.Script, "\n"), StartedAt: start, Duration: time.Since(start), DryRun: true}
			e.recordStep(runID, res)
			return res, nil
		}

		for _, cacheName := range step.Caches {
			target := cache.ResolvePath(cacheName, e.WorkspaceDir)
			if e.cacheSt.Restore(cacheName, target) {
				e.Log.Infow("cache restored", "step", name, "cache", cacheName)
			}
		}
		if err := e.artifacts.Restore(e.WorkspaceDir, ""); err != nil {
			e.Log.Warnw("artifact restore failed", "step", name, "error", err)
		}

		dotEnv, err := environment.ReadDotEnvFile(filepath.Join(e.WorkspaceDir, ".env"))
		if err != nil {
			e.Log.Warnw("cannot read .env", "error", err)
		}
		var userEnv map[string]string
		if e.Config.EnvFile != "" {
			userEnv, err = environment.ReadDotEnvFile(e.Config.EnvFile)
			if err != nil {
				e.Log.Warnw("cannot read user env file", "path", e.Config.EnvFile, "error", err)
			}
		}
		dotPipelines, err := environment.ReadDotEnvFile(filepath.Join(e.WorkspaceDir, ".env.pipelines"))
		if err != nil {
			e.Log.Warnw("cannot read .env.pipelines", "error", err)
		}

		env, invalidNames := environment.Assemble(environment.Sources{
			Process:        environment.ProcessEnv(),
			DotEnv:         dotEnv,
			UserEnvFile:    userEnv,
			DotPipelines:   dotPipelines,
			RunnerDefaults: e.Config.DefaultVars,
			StepVariables:  step.Variables,
		}, pctx, uuid.NewString(), environment.ParallelInfo{InGroup: info.InGroup, Count: info.Count})
		for _, n := range invalidNames {
			e.Log.Warnw("environment variable name does not match BBPL naming rules", "step", name, "name", n)
		}

		handles := e.startServices(ctx, networkID, step, env)
		defer e.stopServices(ctx, handles)

		timeout := stepTimeout(step.MaxTime, e.globalMaxTime())

		output, exitCode, err := e.driver.RunStep(ctx, runtime.StepRunRequest{
			Image:        e.resolveImage(step),
			WorkspaceDir: e.WorkspaceDir,
			Env:          env,
			MemoryLimit:  e.Config.SizeMemory[sizeOrDefault(step.Size)],
			CPULimit:     e.Config.SizeCPU[sizeOrDefault(step.Size)],
			NetworkID:    networkID,
			Script:       step.Script,
			AfterScript:  step.AfterScript,
			Timeout:      timeout,
		})

		res := model.StepResult{
			Name:      name,
			State:     model.StateSucceeded,
			ExitCode:  exitCode,
			Output:    output,
			StartedAt: start,
			Duration:  time.Since(start),
		}
		if err != nil {
			res.State = model.StateFailed
			res.Error = err.Error()
		} else if exitCode != 0 {
			res.State = model.StateFailed
			res.Error = fmt.Sprintf("script exited with status %d", exitCode)
		}

		if res.Success() {
			if step.Artifacts != nil {
				_ = e.artifacts.Save(step.Artifacts.Paths, e.WorkspaceDir, name)
			}
			for _, cacheName := range step.Caches {
				source := cache.ResolvePath(cacheName, e.WorkspaceDir)
				_ = e.cacheSt.Save(cacheName, source)
			}
		}

		e.recordStep(runID, res)
		e.Log.Infow("step finished", "step", name, "state", res.State, "duration", res.Duration)
		return res, err
	}
}

func (e *Engine) resolveImage(step *model.Step) string {
	if step.Image != nil && step.Image.Name != "" {
		return step.Image.Name
	}
	if e.doc.Image != nil && e.doc.Image.Name != "" {
		return e.doc.Image.Name
	}
	return e.Config.DefaultImage
}

func sizeOrDefault(size string) string {
	if size == "" {
		return "1x"
	}
	return size
}

func (e *Engine) globalMaxTime() *float64 {
	if e.doc.Options == nil {
		return nil
	}
	return e.doc.Options.MaxTime
}

// stepTimeout is the lesser of the step's own maxTime (default 30
// minutes) and the document's global options.maxTime, per spec §5.
func stepTimeout(stepMaxTime, globalMaxTime *float64) time.Duration {
	timeout := 30 * time.Minute
	if stepMaxTime != nil {
		timeout = time.Duration(*stepMaxTime) * time.Minute
	}
	if globalMaxTime != nil {
		if global := time.Duration(*globalMaxTime) * time.Minute; global < timeout {
			timeout = global
		}
	}
	return timeout
}

func (e *Engine) startServices(ctx context.Context, networkID string, step *model.Step, env map[string]string) []*runtime.ServiceHandle {
	if networkID == "" || e.doc.Definitions == nil {
		return nil
	}
	var handles []*runtime.ServiceHandle
	for _, name := range step.Services {
		svc, ok := e.doc.Definitions.Services[name]
		if !ok {
			continue
		}
		h, err := e.driver.StartService(ctx, networkID, name, &svc, env)
		if err != nil {
			e.Log.Warnw("service failed to start", "service", name, "error", err)
			continue
		}
		handles = append(handles, h)
	}
	return handles
}

func (e *Engine) stopServices(ctx context.Context, handles []*runtime.ServiceHandle) {
	for _, h := range handles {
		e.driver.StopService(ctx, h)
	}
}

func (e *Engine) recordStep(runID string, res model.StepResult) {
	if e.ledger == nil {
		return
	}
	entry, err := history.NewStepEntry(e.ledger.NextIndex(), runID, res.Name, string(res.State), res.ExitCode, res.Success(), e.ledger.LastHash())
	if err != nil {
		e.Log.Warnw("cannot build history entry", "error", err)
		return
	}
	if err := e.ledger.Append(entry); err != nil {
		e.Log.Warnw("cannot append history entry", "error", err)
	}
}

func (e *Engine) recordRunClosing(runID, pipeline string, success bool) {
	if e.ledger == nil {
		return
	}
	entry, err := history.NewRunEntry(e.ledger.NextIndex(), runID, pipeline, success, e.ledger.LastHash())
	if err != nil {
		e.Log.Warnw("cannot build run-closing history entry", "error", err)
		return
	}
	if err := e.ledger.Append(entry); err != nil {
		e.Log.Warnw("cannot append run-closing history entry", "error", err)
	}
}

// Cleanup sweeps any leftover containers/networks the driver tracks. Run
// already sweeps on return; this is for callers that abort a run early.
func (e *Engine) Cleanup(ctx context.Context) {
	e.driver.Cleanup(ctx)
}

// HistoryEntries returns every recorded run-history entry along with
// the result of verifying the chain, or (nil, nil) if history is
// disabled for this engine.
func (e *Engine) HistoryEntries() ([]*history.Entry, error) {
	if e.ledger == nil {
		return nil, nil
	}
	return e.ledger.Entries, e.ledger.Verify()
}
