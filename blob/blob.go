// Package blob keeps raw audio replies on disk behind file:// URLs for the
// lifetime of one run, so the UI and the player can refer to a reply without
// holding its bytes.
package blob

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob: not found")

type Store struct {
	dir string

	mu    sync.Mutex
	paths map[string]string // url -> path
}

// New creates a store under parent (os.TempDir() when empty). Every store gets
// its own directory, removed by Close.
func New(parent string) (*Store, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "talkback-")
	if err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return &Store{dir: dir, paths: make(map[string]string)}, nil
}

func (s *Store) Dir() string { return s.dir }

// Put writes data atomically and returns its file:// URL.
func (s *Store) Put(data []byte, mimeType string) (string, error) {
	name := uuid.NewString() + "." + Extension(mimeType)
	finalPath := filepath.Join(s.dir, name)

	tmp := finalPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	u := (&url.URL{Scheme: "file", Path: filepath.ToSlash(finalPath)}).String()
	s.mu.Lock()
	s.paths[u] = finalPath
	s.mu.Unlock()
	return u, nil
}

func (s *Store) lookup(u string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[u]
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}

func (s *Store) Open(u string) (io.ReadSeekCloser, error) {
	p, err := s.lookup(u)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Revoke deletes one blob. Revoking an unknown URL is a no-op.
func (s *Store) Revoke(u string) {
	s.mu.Lock()
	p, ok := s.paths[u]
	delete(s.paths, u)
	s.mu.Unlock()
	if ok {
		_ = os.Remove(p)
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.paths = make(map[string]string)
	s.mu.Unlock()
	return os.RemoveAll(s.dir)
}

// Extension maps an audio MIME type to a file extension, "bin" when unknown.
func Extension(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/webm":
		return "webm"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/aac", "audio/mp4", "audio/x-m4a":
		return "m4a"
	}
	return "bin"
}
