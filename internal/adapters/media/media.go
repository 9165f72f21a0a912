// Package media stages downloaded voice and image payloads in temporary
// files whose lifetime is bound to one callback.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// DefaultMaxBytes bounds a single artifact.
const DefaultMaxBytes = 20 * 1024 * 1024

// Temp file name prefix; Purge only touches files carrying it.
const filePrefix = "cardiobot-"

// ErrTooLarge is returned when a payload exceeds the configured limit.
var ErrTooLarge = errors.New("media too large")

// Kind of media.
type Kind string

const (
	KindVoice Kind = "voice"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// Artifact is a staged payload. It is valid only inside the callback passed
// to Store.With.
type Artifact struct {
	Kind Kind
	Path string
	Size int64
}

// Bytes reads the artifact back.
func (a Artifact) Bytes() ([]byte, error) {
	return os.ReadFile(a.Path)
}

// HumanSize formats the size for user receipts, e.g. "48 kB".
func (a Artifact) HumanSize() string {
	return humanize.Bytes(uint64(a.Size))
}

// Store creates artifacts under one directory.
type Store struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

// NewStore creates the directory if needed. An empty dir uses os.TempDir.
func NewStore(dir string, maxBytes int64, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cardiobot-media")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, logger: logger}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// With copies r into a temporary file, runs fn with it and deletes the file
// when fn returns, on success, error, panic or context expiry alike.
func (s *Store) With(ctx context.Context, kind Kind, ext string, r io.Reader, fn func(context.Context, Artifact) error) error {
	f, err := os.CreateTemp(s.dir, filePrefix+string(kind)+"-*"+sanitizeExt(ext))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove media artifact", zap.String("path", path), zap.Error(err))
		}
	}()

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", kind, closeErr)
	}
	if n > s.maxBytes {
		return fmt.Errorf("%w: limit %s", ErrTooLarge, humanize.Bytes(uint64(s.maxBytes)))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Debug("staged media artifact",
		zap.String("kind", string(kind)),
		zap.String("size", humanize.Bytes(uint64(n))))

	return fn(ctx, Artifact{Kind: kind, Path: path, Size: n})
}

// Purge removes artifacts older than age left behind by a crashed process.
func (s *Store) Purge(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read media dir: %w", err)
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	ext = strings.TrimPrefix(filepath.Base(ext), ".")
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}
