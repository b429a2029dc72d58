package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FSStore is a filesystem-backed artifact store laid out as
// <root>/<run-id>/<artifact-name>.
type FSStore struct {
	root string
	mu   sync.Mutex
}

// NewFSStore creates the store root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put copies sourcePath into the store. The stored bytes are an exact copy;
// a second Put for the same run and name overwrites with identical content
// on an unchanged workspace, keeping re-runs idempotent.
func (s *FSStore) Put(ctx context.Context, runID, name, sourcePath string) (Record, error) {
	if err := validateKey(runID, name); err != nil {
		return Record{}, err
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
		}
		return Record{}, fmt.Errorf("open artifact source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Record{}, fmt.Errorf("stat artifact source: %w", err)
	}
	if info.IsDir() {
		return Record{}, fmt.Errorf("artifact source %s is a directory", sourcePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create run directory: %w", err)
	}
	dest := filepath.Join(runDir, name)
	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return Record{}, fmt.Errorf("create artifact file: %w", err)
	}
	written, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return Record{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return Record{}, fmt.Errorf("finalize artifact: %w", err)
	}

	rec := Record{RunID: runID, Name: name, Size: written, StoredAt: info.ModTime().UTC()}
	return rec, nil
}

// Open returns the stored artifact bytes.
func (s *FSStore) Open(ctx context.Context, runID, name string) (io.ReadCloser, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, runID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, runID, name)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// List returns artifacts stored for the run, in directory order.
func (s *FSStore) List(ctx context.Context, runID string) ([]Record, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}
	entries, err := os.ReadDir(filepath.Join(s.root, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		records = append(records, Record{
			RunID:    runID,
			Name:     entry.Name(),
			Size:     info.Size(),
			StoredAt: info.ModTime().UTC(),
		})
	}
	return records, nil
}

func validateKey(runID, name string) error {
	if runID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if name == "" {
		return fmt.Errorf("artifact name cannot be empty")
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("artifact name %q must not contain path separators", name)
	}
	return nil
}
