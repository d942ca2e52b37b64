package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// fileDocument is the on-disk layout: one JSON document holding every case.
type fileDocument struct {
	Cases map[string]Case `json:"cases"`
}

// FileStore persists cases to a single JSON file. A corrupt or unreadable
// file is logged and treated as an empty store rather than failing startup.
type FileStore struct {
	path    string
	factory Factory
	logger  *slog.Logger

	mu    sync.Mutex
	cases map[string]Case
}

func NewFileStore(log *slog.Logger, path string, factory Factory) *FileStore {
	s := &FileStore{
		path:    path,
		factory: factory,
		logger:  log.With(slog.String("service", "case_store")),
		cases:   make(map[string]Case),
	}
	s.load()
	return s
}

func (s *FileStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("case store unreadable, starting empty",
				slog.String("path", s.path), slog.Any("error", err))
		}
		return
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("case store corrupt, starting empty",
			slog.String("path", s.path), slog.Any("error", err))
		return
	}
	if doc.Cases != nil {
		s.cases = doc.Cases
	}
}

// save writes via a temp file and rename so a crash mid-write never leaves
// a truncated store behind. Caller holds s.mu.
func (s *FileStore) save() error {
	doc := fileDocument{Cases: s.cases}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal case store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cases-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write case store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close case store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace case store: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (Case, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, false, nil
	}
	return c.Clone(), true, nil
}

func (s *FileStore) Create(_ context.Context, id string) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cases[id]; ok {
		return c.Clone(), nil
	}
	c := s.factory(id)
	s.cases[id] = c
	if err := s.save(); err != nil {
		delete(s.cases, id)
		return Case{}, err
	}
	return c.Clone(), nil
}

func (s *FileStore) Update(_ context.Context, id string, fn Mutator) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	next := c.Clone()
	if err := fn(&next); err != nil {
		return Case{}, err
	}
	next.LastUpdated = time.Now().UTC()
	s.cases[id] = next
	if err := s.save(); err != nil {
		s.cases[id] = c
		return Case{}, err
	}
	return next.Clone(), nil
}

func (s *FileStore) ListAll(_ context.Context) ([]Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
