package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavetsu14/dockhand/internal/artifact"
	"github.com/pavetsu14/dockhand/internal/docker"
	"github.com/pavetsu14/dockhand/internal/workflow"
	"github.com/pavetsu14/dockhand/internal/workspace"
)

type fakeEngine struct {
	buildErr  error
	buildSpec docker.BuildSpec
	builds    int

	// keyed by container command's first token
	exitCodes map[string]int64
	runErrs   map[string]error
	runs      []docker.RunSpec
	// onRun fires before each step container, to mutate the workspace the
	// way a real step would.
	onRun func(spec docker.RunSpec)
}

func (e *fakeEngine) BuildImage(ctx context.Context, spec docker.BuildSpec, onOutput docker.OutputCallback) error {
	e.builds++
	e.buildSpec = spec
	if onOutput != nil {
		onOutput("Step 1/1 : FROM scratch")
	}
	return e.buildErr
}

func (e *fakeEngine) RunToCompletion(ctx context.Context, spec docker.RunSpec, onOutput docker.OutputCallback) (int64, error) {
	e.runs = append(e.runs, spec)
	if e.onRun != nil {
		e.onRun(spec)
	}
	key := ""
	if len(spec.Cmd) > 0 {
		key = spec.Cmd[0]
	}
	if err := e.runErrs[key]; err != nil {
		return 0, err
	}
	return e.exitCodes[key], nil
}

type fakeCloner struct {
	calls int
	err   error
	// files written into the destination to simulate checked out sources
	files map[string]string
}

func (c *fakeCloner) Clone(ctx context.Context, repoURL, branch, commit, dest string) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	for name, content := range c.files {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func testWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:  "docs",
		On:    workflow.Trigger{Push: &workflow.PushTrigger{Branches: []string{"main"}}},
		Image: workflow.Image{Tag: "eis_toolkit", Dockerfile: "Dockerfile-docs"},
		Steps: []workflow.Step{
			{
				Name: "build-docs",
				Run:  "mkdocs build",
				Env:  map[string]string{"ENABLE_PDF_EXPORT": "1"},
				Mounts: []workflow.Mount{
					{Host: "site/pdf", Container: "/docs/site/pdf"},
				},
				Artifacts: []workflow.Artifact{
					{Name: "document.pdf", Path: "site/pdf/document.pdf"},
				},
			},
			{Name: "test", Run: "pytest -v"},
		},
	}
}

func newTestRunner(t *testing.T, engine *fakeEngine, cloner *fakeCloner) (*Runner, *artifact.FSStore) {
	t.Helper()
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(engine, cloner, store, ws, logger), store
}

func stepByName(t *testing.T, res Result, name string) StepResult {
	t.Helper()
	for _, sr := range res.Steps {
		if sr.Name == name {
			return sr
		}
	}
	t.Fatalf("step %q not in result", name)
	return StepResult{}
}

func TestRunSucceeds(t *testing.T) {
	engine := &fakeEngine{}
	engine.onRun = func(spec docker.RunSpec) {
		// only the docs step has a bind mount; drop the artifact there
		if len(spec.Binds) == 0 {
			return
		}
		host := strings.SplitN(spec.Binds[0], ":", 2)[0]
		require.NoError(t, os.WriteFile(filepath.Join(host, "document.pdf"), []byte("%PDF-1.7"), 0o644))
	}
	runner, store := newTestRunner(t, engine, &fakeCloner{})
	src := t.TempDir()

	res, err := runner.Run(context.Background(), Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: src,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepBuildImage, res.Steps[0].Name)
	for _, sr := range res.Steps {
		assert.Equal(t, StatusSucceeded, sr.Status, sr.Name)
	}

	// image built once from the workspace, with the declared dockerfile
	assert.Equal(t, 1, engine.builds)
	assert.Equal(t, "eis_toolkit", engine.buildSpec.Tag)
	assert.Equal(t, "Dockerfile-docs", engine.buildSpec.Dockerfile)
	assert.Equal(t, src, engine.buildSpec.ContextDir)

	// each declared step ran in its own container instance
	require.Len(t, engine.runs, 2)
	assert.NotEqual(t, engine.runs[0].Name, engine.runs[1].Name)
	assert.Contains(t, engine.runs[0].Env, "ENABLE_PDF_EXPORT=1")
	assert.Empty(t, engine.runs[1].Env)
	assert.Empty(t, engine.runs[1].Binds)

	// the published artifact is a byte-exact copy
	rc, err := store.Open(context.Background(), res.RunID, "document.pdf")
	require.NoError(t, err)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), stored)

	docs := stepByName(t, res, "build-docs")
	require.Len(t, docs.Artifacts, 1)
	assert.Equal(t, "document.pdf", docs.Artifacts[0].Name)
}

func TestRunChecksOutWhenNoSourceDir(t *testing.T) {
	engine := &fakeEngine{}
	cloner := &fakeCloner{files: map[string]string{"Dockerfile-docs": "FROM scratch"}}
	runner, _ := newTestRunner(t, engine, cloner)

	wf := testWorkflow()
	wf.Steps = []workflow.Step{{Name: "test", Run: "pytest -v"}}
	res, err := runner.Run(context.Background(), Request{
		Workflow: wf,
		Event: workflow.Event{
			Kind:    workflow.EventPush,
			Branch:  "main",
			RepoURL: "https://example.com/repo.git",
			Commit:  "abc123",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, cloner.calls)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepCheckout, res.Steps[0].Name)
	assert.Equal(t, StatusSucceeded, res.Steps[0].Status)
}

func TestRunFailsWithoutRepoOrSource(t *testing.T) {
	engine := &fakeEngine{}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	res, err := runner.Run(context.Background(), Request{
		Workflow: testWorkflow(),
		Event:    workflow.Event{Kind: workflow.EventPush, Branch: "main"},
	})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, stepByName(t, res, StepCheckout).Status)
	assert.Equal(t, 0, engine.builds)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "build-docs").Status)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "test").Status)
}

func TestRunBuildFailureSkipsAllSteps(t *testing.T) {
	engine := &fakeEngine{buildErr: fmt.Errorf("no such dockerfile")}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	res, err := runner.Run(context.Background(), Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such dockerfile")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, stepByName(t, res, StepBuildImage).Status)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "build-docs").Status)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "test").Status)
	assert.Empty(t, engine.runs)
}

func TestRunStepFailureSkipsRemaining(t *testing.T) {
	engine := &fakeEngine{exitCodes: map[string]int64{"mkdocs": 2}}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	res, err := runner.Run(context.Background(), Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "build-docs"`)
	assert.Contains(t, err.Error(), "exited with status 2")

	docs := stepByName(t, res, "build-docs")
	assert.Equal(t, StatusFailed, docs.Status)
	assert.Equal(t, int64(2), docs.ExitCode)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "test").Status)

	// the test step container never ran
	require.Len(t, engine.runs, 1)
	assert.Equal(t, "mkdocs", engine.runs[0].Cmd[0])
}

func TestRunMissingArtifactFailsStep(t *testing.T) {
	// the docs step exits 0 but never writes document.pdf
	engine := &fakeEngine{}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	res, err := runner.Run(context.Background(), Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `artifact "document.pdf"`)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StatusFailed, stepByName(t, res, "build-docs").Status)
	assert.Equal(t, StatusSkipped, stepByName(t, res, "test").Status)

	// no later container started after the artifact capture failed
	require.Len(t, engine.runs, 1)
}

func TestRunRejectsEscapingMount(t *testing.T) {
	engine := &fakeEngine{}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	wf := testWorkflow()
	wf.Steps[0].Mounts[0].Host = "../outside"
	res, err := runner.Run(context.Background(), Request{
		Workflow:  wf,
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the workspace")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, engine.runs)
}

func TestRunRelativeSourceDirGetsAbsoluteBinds(t *testing.T) {
	t.Chdir(t.TempDir())

	engine := &fakeEngine{}
	engine.onRun = func(spec docker.RunSpec) {
		if len(spec.Binds) == 0 {
			return
		}
		host := strings.SplitN(spec.Binds[0], ":", 2)[0]
		require.NoError(t, os.WriteFile(filepath.Join(host, "document.pdf"), []byte("%PDF-1.7"), 0o644))
	}
	runner, _ := newTestRunner(t, engine, &fakeCloner{})

	res, err := runner.Run(context.Background(), Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: ".",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)

	// a relative bind source would be parsed by the daemon as a volume name
	require.NotEmpty(t, engine.runs[0].Binds)
	host := strings.SplitN(engine.runs[0].Binds[0], ":", 2)[0]
	assert.True(t, filepath.IsAbs(host), "bind source %q must be absolute", host)
}

func TestRunIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	engine.onRun = func(spec docker.RunSpec) {
		if len(spec.Binds) == 0 {
			return
		}
		host := strings.SplitN(spec.Binds[0], ":", 2)[0]
		require.NoError(t, os.WriteFile(filepath.Join(host, "document.pdf"), []byte("same bytes"), 0o644))
	}
	runner, store := newTestRunner(t, engine, &fakeCloner{})
	req := Request{
		Workflow:  testWorkflow(),
		Event:     workflow.Event{Kind: workflow.EventPush, Branch: "main"},
		SourceDir: t.TempDir(),
	}

	first, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	for _, res := range []Result{first, second} {
		rc, err := store.Open(context.Background(), res.RunID, "document.pdf")
		require.NoError(t, err)
		stored, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, []byte("same bytes"), stored)
	}
}
