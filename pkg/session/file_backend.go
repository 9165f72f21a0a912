package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a user id contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a file name.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileRepository stores one JSON document per user.
// Storage layout:
//
//	<base-dir>/
//	  ├── <user-id>.json
//	  └── ...
type FileRepository struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileRepository creates a file-backed repository.
// If baseDir is empty, uses ~/.cardiobot/sessions.
func NewFileRepository(baseDir string) (*FileRepository, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cardiobot", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileRepository{baseDir: baseDir}, nil
}

func (f *FileRepository) path(userID string) (string, error) {
	if err := validatePathComponent(userID); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	return filepath.Join(f.baseDir, userID+".json"), nil
}

// Get implements Repository.
func (f *FileRepository) Get(ctx context.Context, userID string) (*Session, error) {
	return getOrNew(ctx, f, userID)
}

// Lookup implements Repository.
func (f *FileRepository) Lookup(_ context.Context, userID string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}
	p, err := f.path(userID)
	if err != nil {
		return nil, err
	}
	return readSessionFile(p)
}

func readSessionFile(p string) (*Session, error) {
	data, err := os.ReadFile(p) // #nosec G304 - user id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", filepath.Base(p), err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	return &s, nil
}

// Save implements Repository. The file is replaced atomically.
func (f *FileRepository) Save(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	p, err := f.path(s.UserID)
	if err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(f.baseDir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (f *FileRepository) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	p, err := f.path(userID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List implements Repository. Unreadable files are skipped.
func (f *FileRepository) List(_ context.Context) ([]*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var out []*Session
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		s, err := readSessionFile(filepath.Join(f.baseDir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Close implements Repository.
func (f *FileRepository) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
