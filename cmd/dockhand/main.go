package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/pavetsu14/dockhand/internal/artifact"
	"github.com/pavetsu14/dockhand/internal/config"
	"github.com/pavetsu14/dockhand/internal/docker"
	"github.com/pavetsu14/dockhand/internal/git"
	"github.com/pavetsu14/dockhand/internal/history"
	"github.com/pavetsu14/dockhand/internal/logger"
	"github.com/pavetsu14/dockhand/internal/pipeline"
	"github.com/pavetsu14/dockhand/internal/server"
	"github.com/pavetsu14/dockhand/internal/workflow"
	"github.com/pavetsu14/dockhand/internal/workspace"
)

var CLI struct {
	Workflow string `short:"w" help:"Workflow file path" default:"dockhand.yaml"`
	Verbose  bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Event  string `help:"Trigger event kind" enum:"push,pull_request" default:"push"`
		Branch string `help:"Branch the event refers to" default:"main"`
		Repo   string `help:"Repository URL to clone (defaults to running against --source)"`
		Commit string `help:"Commit to pin the checkout to"`
		Source string `help:"Local source directory used when no --repo is given" default:"."`
	} `cmd:"" help:"Execute the workflow once for a synthetic trigger event"`

	Validate struct{} `cmd:"" help:"Parse and validate the workflow file"`

	Serve struct{} `cmd:"" help:"Run the trigger intake daemon"`

	History struct {
		ID    string `arg:"" optional:"" help:"Show a single run by id"`
		Limit int    `help:"Number of runs to list" default:"20"`
	} `cmd:"" help:"Inspect recorded pipeline runs"`
}

func main() {
	_ = godotenv.Load()
	ctx := kong.Parse(&CLI)

	cfg := config.LoadRunnerConfig()
	log := logger.New("dockhand", logger.Level(cfg.Environment, CLI.Verbose))
	slog.SetDefault(log)

	var err error
	switch ctx.Command() {
	case "run":
		err = commandRun(log, cfg)
	case "validate":
		err = commandValidate(log)
	case "serve":
		err = commandServe(log, cfg)
	case "history", "history <id>":
		err = commandHistory(cfg)
	default:
		err = fmt.Errorf("unknown command: %s", ctx.Command())
	}
	if err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func commandValidate(log *slog.Logger) error {
	wf, err := workflow.Load(CLI.Workflow)
	if err != nil {
		return err
	}
	log.Info("workflow is valid", "name", wf.Name, "steps", len(wf.Steps))
	return nil
}

func commandRun(log *slog.Logger, cfg config.RunnerConfig) error {
	wf, err := workflow.Load(CLI.Workflow)
	if err != nil {
		return err
	}

	ev := workflow.Event{
		Kind:    CLI.Run.Event,
		Branch:  CLI.Run.Branch,
		RepoURL: CLI.Run.Repo,
		Commit:  CLI.Run.Commit,
	}
	ev.Normalize()
	if !wf.On.Matches(ev) {
		log.Info("event does not match workflow triggers, nothing to do",
			"event", ev.Kind, "branch", ev.Branch)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	runner, store, _, cleanup, err := buildRunner(runCtx, log, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	req := pipeline.Request{Workflow: wf, Event: ev}
	if CLI.Run.Repo == "" {
		req.SourceDir = CLI.Run.Source
	}

	res, runErr := runner.Run(runCtx, req)
	if err := store.Save(context.WithoutCancel(runCtx), history.FromResult(res)); err != nil {
		log.Error("failed to record run history", "run_id", res.RunID, "error", err)
	}
	printJSON(res)
	return runErr
}

func commandServe(log *slog.Logger, cfg config.RunnerConfig) error {
	wf, err := workflow.Load(CLI.Workflow)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, store, dockerClient, cleanup, err := buildRunner(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	run := func(runCtx context.Context, ev workflow.Event) (pipeline.Result, error) {
		timeoutCtx, cancel := context.WithTimeout(runCtx, cfg.RunTimeout)
		defer cancel()
		res, runErr := runner.Run(timeoutCtx, pipeline.Request{Workflow: wf, Event: ev})
		if err := store.Save(context.WithoutCancel(runCtx), history.FromResult(res)); err != nil {
			log.Error("failed to record run history", "run_id", res.RunID, "error", err)
		}
		return res, runErr
	}

	var router *server.Router
	worker := server.NewWorker(run, log, func(status string) {
		router.RecordRunResult(status)
	})
	router = server.New(log, wf.On, worker, dockerClient, store)
	go worker.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "workflow", wf.Name)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func commandHistory(cfg config.RunnerConfig) error {
	store, err := history.NewSQLiteStore(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if CLI.History.ID != "" {
		rec, err := store.Get(ctx, CLI.History.ID)
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	records, err := store.Recent(ctx, CLI.History.Limit)
	if err != nil {
		return err
	}
	printJSON(records)
	return nil
}

// buildRunner assembles the pipeline runner and the history store. The
// returned cleanup closes everything the runner holds open.
func buildRunner(ctx context.Context, log *slog.Logger, cfg config.RunnerConfig) (*pipeline.Runner, *history.SQLiteStore, *docker.Client, func(), error) {
	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := dockerClient.Ping(ctx); err != nil {
		_ = dockerClient.Close()
		return nil, nil, nil, nil, fmt.Errorf("docker ping: %w", err)
	}

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		_ = dockerClient.Close()
		return nil, nil, nil, nil, err
	}

	artifactStore, err := newArtifactStore(ctx, cfg.ArtifactStore)
	if err != nil {
		_ = dockerClient.Close()
		return nil, nil, nil, nil, err
	}

	historyStore, err := history.NewSQLiteStore(cfg.HistoryPath)
	if err != nil {
		_ = dockerClient.Close()
		return nil, nil, nil, nil, err
	}

	runner := pipeline.NewRunner(dockerClient, git.NewClient(cfg.GitTimeout), artifactStore, ws, log)
	cleanup := func() {
		_ = historyStore.Close()
		_ = dockerClient.Close()
	}
	return runner, historyStore, dockerClient, cleanup, nil
}

func newArtifactStore(ctx context.Context, cfg config.ArtifactStoreConfig) (artifact.Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return artifact.NewFSStore(cfg.Dir)
	case "s3":
		return artifact.NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}
