package artifact

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrSourceMissing indicates the file to publish was absent on the host.
var ErrSourceMissing = errors.New("artifact source file not found")

// ErrNotFound indicates the requested artifact is not in the store.
var ErrNotFound = errors.New("artifact not found")

// Record describes one stored artifact.
type Record struct {
	RunID    string    `json:"run_id"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Store captures files produced by pipeline runs. Once published an artifact
// is owned by the store and never mutated.
type Store interface {
	// Put copies the file at sourcePath into the store under the run and
	// name. It returns ErrSourceMissing when the file does not exist.
	Put(ctx context.Context, runID, name, sourcePath string) (Record, error)
	// Open returns the stored bytes for reading.
	Open(ctx context.Context, runID, name string) (io.ReadCloser, error)
	// List returns all artifacts recorded for the run.
	List(ctx context.Context, runID string) ([]Record, error)
}
