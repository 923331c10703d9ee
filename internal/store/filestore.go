package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Gateway = (*FileStore)(nil)

// fileSnapshot is the on-disk JSON layout of a FileStore.
type fileSnapshot struct {
	Services []models.ServiceDefinition             `json:"services"`
	History  map[string][]models.HealthCheckResult `json:"history"`
	Config   map[string]string                      `json:"config"`
}

// FileStore keeps everything in memory and writes a JSON snapshot through to a
// single file after each mutation. An empty path keeps the store memory-only.
// A mutation whose write fails leaves the in-memory state unchanged.
type FileStore struct {
	path       string
	maxHistory int

	mu   sync.RWMutex
	data fileSnapshot
}

// NewFileStore loads path if it exists and returns the store.
func NewFileStore(path string, maxHistory int) (*FileStore, error) {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	s := &FileStore{
		path:       path,
		maxHistory: maxHistory,
		data: fileSnapshot{
			History: make(map[string][]models.HealthCheckResult),
			Config:  make(map[string]string),
		},
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if s.data.History == nil {
		s.data.History = make(map[string][]models.HealthCheckResult)
	}
	if s.data.Config == nil {
		s.data.Config = make(map[string]string)
	}
	return s, nil
}

// commit writes next and adopts it as the current state only if the write
// succeeds. Caller holds s.mu and must not share backing arrays or maps
// between next and s.data for the parts it changed.
func (s *FileStore) commit(next fileSnapshot) error {
	if err := s.write(&next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// write stores snap atomically. Caller holds s.mu.
func (s *FileStore) write(snap *fileSnapshot) error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) indexOf(name string) int {
	for i := range s.data.Services {
		if s.data.Services[i].Name == name {
			return i
		}
	}
	return -1
}

func (s *FileStore) ListServices(_ context.Context) ([]models.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ServiceDefinition, 0, len(s.data.Services))
	for _, d := range s.data.Services {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *FileStore) GetService(_ context.Context, name string) (*models.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(name)
	if i < 0 {
		return nil, nil
	}
	d := s.data.Services[i].Clone()
	return &d, nil
}

func (s *FileStore) AddService(_ context.Context, d *models.ServiceDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(d.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrServiceExists, d.Name)
	}
	next := s.data
	next.Services = append(slices.Clone(s.data.Services), d.Clone())
	return s.commit(next)
}

func (s *FileStore) UpdateService(_ context.Context, d *models.ServiceDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(d.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, d.Name)
	}
	updated := d.Clone()
	updated.CreatedAt = s.data.Services[i].CreatedAt
	next := s.data
	next.Services = slices.Clone(s.data.Services)
	next.Services[i] = updated
	return s.commit(next)
}

func (s *FileStore) DeleteService(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	next := s.data
	next.Services = slices.Delete(slices.Clone(s.data.Services), i, i+1)
	next.History = maps.Clone(s.data.History)
	delete(next.History, name)
	return s.commit(next)
}

func (s *FileStore) SaveCheckResult(_ context.Context, name string, r *models.HealthCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(name) < 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	old := s.data.History[name]
	h := make([]models.HealthCheckResult, 0, len(old)+1)
	h = append(append(h, old...), *r)
	if over := len(h) - s.maxHistory; over > 0 {
		h = h[over:]
	}
	next := s.data
	next.History = maps.Clone(s.data.History)
	next.History[name] = h
	return s.commit(next)
}

func (s *FileStore) GetHistory(_ context.Context, name string, limit int) ([]models.HealthCheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.data.History[name]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.HealthCheckResult(nil), h...), nil
}

func (s *FileStore) GetConfig(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.Config[key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *FileStore) SaveConfig(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data
	next.Config = maps.Clone(s.data.Config)
	next.Config[key] = string(value)
	return s.commit(next)
}

// Close writes a final snapshot.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(&s.data)
}
