package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavetsu14/dockhand/internal/artifact"
	"github.com/pavetsu14/dockhand/internal/docker"
	"github.com/pavetsu14/dockhand/internal/workflow"
	"github.com/pavetsu14/dockhand/internal/workspace"
)

// Run and step statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Names of the implicit steps every run starts with.
const (
	StepCheckout   = "checkout"
	StepBuildImage = "build-image"
)

// Engine abstracts the container operations a run needs.
type Engine interface {
	BuildImage(ctx context.Context, spec docker.BuildSpec, onOutput docker.OutputCallback) error
	RunToCompletion(ctx context.Context, spec docker.RunSpec, onOutput docker.OutputCallback) (int64, error)
}

// Cloner abstracts source checkout.
type Cloner interface {
	Clone(ctx context.Context, repoURL, branch, commit, dest string) error
}

// Request describes one pipeline run.
type Request struct {
	Workflow *workflow.Workflow
	Event    workflow.Event
	// SourceDir, when set, is used as the workspace instead of cloning
	// Event.RepoURL. Intended for one-shot local runs.
	SourceDir string
}

// StepResult records the outcome of a single step.
type StepResult struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	ExitCode  int64             `json:"exit_code"`
	Error     string            `json:"error,omitempty"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
	Artifacts []artifact.Record `json:"artifacts,omitempty"`
}

// Result summarizes a whole run. Status is succeeded only when every step
// exited zero; the first failure short-circuits the rest.
type Result struct {
	RunID    string         `json:"run_id"`
	Workflow string         `json:"workflow"`
	Event    workflow.Event `json:"event"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Steps    []StepResult   `json:"steps"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
}

// Runner executes workflows as ordered, fail-fast step sequences on a single
// host. Exactly one run executes at a time per Runner caller; the Runner
// itself holds no cross-run state.
type Runner struct {
	engine    Engine
	cloner    Cloner
	store     artifact.Store
	workspace *workspace.Manager
	logger    *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(engine Engine, cloner Cloner, store artifact.Store, ws *workspace.Manager, logger *slog.Logger) *Runner {
	return &Runner{engine: engine, cloner: cloner, store: store, workspace: ws, logger: logger}
}

// Run executes the request and always returns a populated Result; the error
// mirrors Result.Error for callers that only care about pass/fail.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{
		RunID:    uuid.NewString(),
		Workflow: req.Workflow.Name,
		Event:    req.Event,
		Status:   StatusRunning,
		Started:  time.Now().UTC(),
	}
	log := r.logger.With("run_id", res.RunID, "workflow", res.Workflow)
	log.Info("run started", "event", req.Event.Kind, "branch", req.Event.Branch)

	err := r.execute(ctx, req, &res, log)
	res.Finished = time.Now().UTC()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		log.Error("run failed", "error", err)
		return res, err
	}
	res.Status = StatusSucceeded
	log.Info("run succeeded", "duration", res.Finished.Sub(res.Started))
	return res, nil
}

func (r *Runner) execute(ctx context.Context, req Request, res *Result, log *slog.Logger) error {
	wf := req.Workflow

	workdir := req.SourceDir
	if workdir == "" {
		checkout := r.beginStep(res, StepCheckout)
		if strings.TrimSpace(req.Event.RepoURL) == "" {
			return r.failStep(res, checkout, wf, fmt.Errorf("no repository URL in event and no source directory"))
		}
		dir, err := r.workspace.Prepare(res.RunID)
		if err != nil {
			return r.failStep(res, checkout, wf, err)
		}
		defer func() {
			if err := r.workspace.Cleanup(dir); err != nil {
				log.Error("workspace cleanup failed", "error", err)
			}
		}()
		if err := r.cloner.Clone(ctx, req.Event.RepoURL, req.Event.Branch, req.Event.Commit, dir); err != nil {
			return r.failStep(res, checkout, wf, err)
		}
		workdir = dir
		r.finishStep(res, checkout, 0)
		log.Info("source checked out", "repo_url", req.Event.RepoURL, "path", dir)
	}

	build := r.beginStep(res, StepBuildImage)
	buildSpec := docker.BuildSpec{
		ContextDir: filepath.Join(workdir, wf.Image.BuildContext()),
		Dockerfile: wf.Image.DockerfileName(),
		Tag:        wf.Image.Tag,
	}
	onBuildOutput := func(line string) {
		log.Debug("image build output", "line", strings.TrimSpace(line))
	}
	if err := r.engine.BuildImage(ctx, buildSpec, onBuildOutput); err != nil {
		return r.failStep(res, build, wf, err)
	}
	r.finishStep(res, build, 0)
	log.Info("image built", "tag", wf.Image.Tag)

	for i, step := range wf.Steps {
		sr := r.beginStep(res, step.Name)
		exitCode, err := r.runStep(ctx, res.RunID, workdir, wf, step, log)
		if err != nil {
			sr.ExitCode = exitCode
			return r.failStepFrom(res, sr, wf.Steps[i+1:], err)
		}

		records, err := r.publishArtifacts(ctx, res.RunID, workdir, step, log)
		sr.Artifacts = records
		if err != nil {
			return r.failStepFrom(res, sr, wf.Steps[i+1:], err)
		}
		r.finishStep(res, sr, exitCode)
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, runID, workdir string, wf *workflow.Workflow, step workflow.Step, log *slog.Logger) (int64, error) {
	cmd, err := workflow.SplitCommand(step.Run)
	if err != nil {
		return 0, err
	}

	var binds []string
	for _, m := range step.Mounts {
		hostPath, err := r.workspace.EnsureMountPath(workdir, m.Host)
		if err != nil {
			return 0, err
		}
		binds = append(binds, hostPath+":"+m.Container)
	}

	env := make([]string, 0, len(step.Env))
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}

	spec := docker.RunSpec{
		Name:  containerName(runID, step.Name),
		Image: wf.Image.Tag,
		Cmd:   cmd,
		Env:   env,
		Binds: binds,
	}
	stepLog := log.With("step", step.Name)
	stepLog.Info("step container starting", "image", spec.Image)
	exitCode, err := r.engine.RunToCompletion(ctx, spec, func(line string) {
		stepLog.Debug("step output", "line", line)
	})
	if err != nil {
		return exitCode, err
	}
	if exitCode != 0 {
		return exitCode, fmt.Errorf("exited with status %d", exitCode)
	}
	return 0, nil
}

func (r *Runner) publishArtifacts(ctx context.Context, runID, workdir string, step workflow.Step, log *slog.Logger) ([]artifact.Record, error) {
	var records []artifact.Record
	for _, art := range step.Artifacts {
		rec, err := r.store.Put(ctx, runID, art.Name, filepath.Join(workdir, art.Path))
		if err != nil {
			if errors.Is(err, artifact.ErrSourceMissing) {
				return records, fmt.Errorf("artifact %q: %w", art.Name, err)
			}
			return records, fmt.Errorf("publish artifact %q: %w", art.Name, err)
		}
		records = append(records, rec)
		log.Info("artifact published", "name", rec.Name, "size", rec.Size)
	}
	return records, nil
}

func (r *Runner) beginStep(res *Result, name string) *StepResult {
	res.Steps = append(res.Steps, StepResult{
		Name:    name,
		Status:  StatusRunning,
		Started: time.Now().UTC(),
	})
	return &res.Steps[len(res.Steps)-1]
}

func (r *Runner) finishStep(res *Result, sr *StepResult, exitCode int64) {
	sr.Status = StatusSucceeded
	sr.ExitCode = exitCode
	sr.Finished = time.Now().UTC()
}

// failStep marks the step failed and every remaining declared step skipped.
func (r *Runner) failStep(res *Result, sr *StepResult, wf *workflow.Workflow, err error) error {
	return r.failStepFrom(res, sr, wf.Steps, err)
}

func (r *Runner) failStepFrom(res *Result, sr *StepResult, remaining []workflow.Step, err error) error {
	sr.Status = StatusFailed
	sr.Error = err.Error()
	sr.Finished = time.Now().UTC()
	failed := sr.Name
	now := time.Now().UTC()
	for _, step := range remaining {
		res.Steps = append(res.Steps, StepResult{
			Name:     step.Name,
			Status:   StatusSkipped,
			Started:  now,
			Finished: now,
		})
	}
	return fmt.Errorf("step %q: %w", failed, err)
}

func containerName(runID, stepName string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, stepName)
	return "dockhand-" + runID + "-" + sanitized
}
