package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavetsu14/dockhand/internal/pipeline"
	"github.com/pavetsu14/dockhand/internal/workflow"
)

// RunFunc executes one pipeline run for an accepted event.
type RunFunc func(ctx context.Context, ev workflow.Event) (pipeline.Result, error)

// queuedEvent carries the per-branch push generation it was submitted with,
// so the consumer can drop it when a newer push has arrived since.
type queuedEvent struct {
	ev  workflow.Event
	gen uint64
}

// Worker serializes pipeline runs: one ephemeral execution at a time, in
// arrival order. A superseding push to a branch retires the obsolete work for
// that branch, matching how a hosting CI system retires obsolete runs: an
// in-flight run is cancelled and a still-queued event is dropped before it
// starts.
type Worker struct {
	run      RunFunc
	logger   *slog.Logger
	onResult func(status string)

	queue chan queuedEvent

	mu            sync.Mutex
	generations   map[string]uint64
	currentKey    string
	currentCancel context.CancelFunc
}

// NewWorker creates a worker with a bounded queue.
func NewWorker(run RunFunc, logger *slog.Logger, onResult func(status string)) *Worker {
	return &Worker{
		run:         run,
		logger:      logger,
		onResult:    onResult,
		generations: make(map[string]uint64),
		queue:       make(chan queuedEvent, 16),
	}
}

// Submit enqueues an event for execution. A push event supersedes earlier
// pushes to the same branch: the in-flight run is cancelled and queued ones
// are marked stale.
func (w *Worker) Submit(ev workflow.Event) error {
	var gen uint64
	if ev.Kind == workflow.EventPush {
		key := supersedeKey(ev)
		w.mu.Lock()
		w.generations[key]++
		gen = w.generations[key]
		if w.currentCancel != nil && w.currentKey == key {
			w.logger.Info("cancelling superseded run", "key", key)
			w.currentCancel()
		}
		w.mu.Unlock()
	}
	select {
	case w.queue <- queuedEvent{ev: ev, gen: gen}:
		return nil
	default:
		return fmt.Errorf("run queue is full")
	}
}

// Start consumes the queue until ctx is cancelled. Call it from a goroutine.
func (w *Worker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qe := <-w.queue:
			if w.stale(qe) {
				w.logger.Info("dropping superseded queued event", "branch", qe.ev.Branch)
				continue
			}
			w.process(ctx, qe.ev)
		}
	}
}

// stale reports whether a newer push for the same branch was submitted after
// this event was queued.
func (w *Worker) stale(qe queuedEvent) bool {
	if qe.ev.Kind != workflow.EventPush {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return qe.gen < w.generations[supersedeKey(qe.ev)]
}

func (w *Worker) process(ctx context.Context, ev workflow.Event) {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.currentKey = supersedeKey(ev)
	w.currentCancel = cancel
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.currentKey = ""
		w.currentCancel = nil
		w.mu.Unlock()
	}()

	res, err := w.run(runCtx, ev)
	if w.onResult != nil {
		w.onResult(res.Status)
	}
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			w.logger.Info("run superseded", "run_id", res.RunID, "branch", ev.Branch)
			return
		}
		w.logger.Error("run failed", "run_id", res.RunID, "error", err)
		return
	}
	w.logger.Info("run completed", "run_id", res.RunID, "status", res.Status)
}

func supersedeKey(ev workflow.Event) string {
	return ev.Kind + "/" + ev.Branch
}
