package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	loom "github.com/everydev1618/goloom"
)

// FileStore persists each run as one JSON document in a directory. It is
// the no-database option for embedders and tests.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SaveRun writes the run document atomically via a temp file rename.
func (s *FileStore) SaveRun(ctx context.Context, st *loom.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loom.Serialize(st)
	if err != nil {
		return err
	}
	tmp := s.path(st.ID) + ".tmp"
	if err := os.WriteFile(tmp, doc, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(st.ID))
}

// LoadRun reads and decodes one run document.
func (s *FileStore) LoadRun(ctx context.Context, id string) (*loom.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return loom.Deserialize(data)
}

// ListRuns scans the directory. Status and timestamps come from a partial
// decode of each document plus file metadata.
func (s *FileStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var infos []RunInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var env struct {
			State struct {
				ID     string      `json:"id"`
				Status loom.Status `json:"status"`
			} `json:"state"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.State.ID == "" {
			continue
		}
		info := RunInfo{ID: env.State.ID, Status: env.State.Status}
		if fi, err := entry.Info(); err == nil {
			info.UpdatedAt = fi.ModTime()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteRun removes a run document.
func (s *FileStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}

// Close is a no-op; files are closed per operation.
func (s *FileStore) Close() error {
	return nil
}
