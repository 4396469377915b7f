package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/soltixdb/gridcat/internal/models"
)

// fileDocument is the TOML layout of a FileStore
type fileDocument struct {
	LastUpdate *time.Time                 `toml:"last_update,omitempty"`
	Datasets   []models.DatasetDefinition `toml:"datasets"`
}

// FileStore keeps state in a single TOML file, rewritten atomically on
// every change
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *FileStore) readOrEmpty() (*fileDocument, error) {
	doc, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return &fileDocument{}, nil
	}
	return doc, err
}

func (s *FileStore) write(doc *fileDocument) error {
	if doc.Datasets == nil {
		doc.Datasets = []models.DatasetDefinition{}
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode definitions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) LoadDefinitions(ctx context.Context) ([]models.DatasetDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoDefinitions
	}
	if err != nil {
		return nil, err
	}
	return doc.Datasets, nil
}

func (s *FileStore) SaveDefinitions(ctx context.Context, defs []models.DatasetDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readOrEmpty()
	if err != nil {
		return err
	}
	doc.Datasets = cloneDefinitions(defs)
	return s.write(doc)
}

func (s *FileStore) LastUpdateTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readOrEmpty()
	if err != nil || doc.LastUpdate == nil {
		return time.Time{}, err
	}
	return *doc.LastUpdate, nil
}

func (s *FileStore) SetLastUpdateTime(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readOrEmpty()
	if err != nil {
		return err
	}
	t = t.UTC()
	doc.LastUpdate = &t
	return s.write(doc)
}

func (s *FileStore) Close() error { return nil }
