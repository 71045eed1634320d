package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "statusloop/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.schedule.json (full schedule-state record)
//   - <prefix>.logs.json     (bounded recent log prefix)
//
// Both are written via temp-file + rename so a crashed write never
// leaves a reader with a torn record.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	logsPath  string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		statePath: prefix + ".schedule.json",
		logsPath:  prefix + ".logs.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadState(ctx context.Context) (*StateRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec StateRecord
	if err := readJSON(s.statePath, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *fileStore) SaveState(ctx context.Context, rec StateRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.statePath, rec)
}

func (s *fileStore) LoadLogs(ctx context.Context) (*LogRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec LogRecord
	if err := readJSON(s.logsPath, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *fileStore) SaveLogs(ctx context.Context, rec LogRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.logsPath, rec)
}

func readJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
