package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// TokenStore holds one token. Get reports false when nothing is stored.
type TokenStore interface {
	Get() (string, bool, error)
	Set(value string) error
	Clear() error
}

type MemoryStore struct {
	mutex sync.RWMutex
	value string
	set   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.value, s.set, nil
}

func (s *MemoryStore) Set(value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.value, s.set = value, true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.value, s.set = "", false
	return nil
}

// FileStore keeps entries in a YAML file of string keys and values. Several
// stores may share one file under different keys, e.g. the CSRF token and
// the auth token.
type FileStore struct {
	path string
	key  string
}

// fileLocks serialises read-modify-write cycles per file within the process.
var fileLocks sync.Map

func NewFileStore(path, key string) *FileStore {
	return &FileStore{path: path, key: key}
}

func (s *FileStore) lock() func() {
	v, _ := fileLocks.LoadOrStore(s.path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *FileStore) Get() (string, bool, error) {
	defer s.lock()()

	entries, err := s.read()
	if err != nil {
		return "", false, err
	}
	value, ok := entries[s.key]
	return value, ok, nil
}

func (s *FileStore) Set(value string) error {
	defer s.lock()()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[s.key] = value
	return s.write(entries)
}

func (s *FileStore) Clear() error {
	defer s.lock()()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[s.key]; !ok {
		return nil
	}
	delete(entries, s.key)
	return s.write(entries)
}

func (s *FileStore) read() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string]string) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
