package transcript

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON document per session under a directory.
type FileStore struct {
	dir string
	key string
	mu  sync.Mutex
}

func NewFileStore(dir, key string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileStore{dir: dir, key: key}, nil
}

func (s *FileStore) path(session string) string {
	return filepath.Join(s.dir, fileName(session))
}

// fileName escapes session into a single path element that sessionFromName
// reverses, so "webui:a" and "webui_a" never share a file.
func fileName(session string) string {
	return url.QueryEscape(normalizeSession(session)) + ".json"
}

func sessionFromName(name string) string {
	base := strings.TrimSuffix(name, ".json")
	if session, err := url.QueryUnescape(base); err == nil {
		return session
	}
	return base
}

func (s *FileStore) Load(session string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(session))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return decode(data)
}

func (s *FileStore) Save(session string, msgs []Message) error {
	data, err := encode(s.key, session, msgs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(session)
	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(session)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
