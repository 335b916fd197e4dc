package schedule_store

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
)

// FileStore keeps all dates in one JSON file, rewritten atomically on every update.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) read() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.path)
	}
	dates := map[string]string{}
	if len(b) == 0 {
		return dates, nil
	}
	if err := json.Unmarshal(b, &dates); err != nil {
		return nil, errors.Wrapf(err, "decode %s", f.path)
	}
	return dates, nil
}

func (f *FileStore) LastFiredDate(_ context.Context, eventID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates, err := f.read()
	if err != nil {
		return "", err
	}
	return dates[eventID], nil
}

func (f *FileStore) SetLastFiredDate(_ context.Context, eventID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates, err := f.read()
	if err != nil {
		return err
	}
	dates[eventID] = date
	b, err := json.MarshalIndent(dates, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(utilities.WriteFileAtomic(f.path, b, 0o644), "write %s", f.path)
}
