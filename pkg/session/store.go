package session

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned by Lookup when no session is stored.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageClosed is returned when operating on a closed repository.
	ErrStorageClosed = errors.New("session repository is closed")
)

// Repository stores sessions keyed by user id.
// Implementations must be safe for concurrent use. They return copies:
// mutating a loaded Session has no effect until Save.
type Repository interface {
	// Get returns the user's session, or a fresh idle one when none is stored.
	Get(ctx context.Context, userID string) (*Session, error)

	// Lookup returns the stored session or ErrSessionNotFound.
	Lookup(ctx context.Context, userID string) (*Session, error)

	// Save stores the session and stamps UpdatedAt.
	Save(ctx context.Context, s *Session) error

	// Delete removes the user's session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error

	// List returns every stored session.
	List(ctx context.Context) ([]*Session, error)

	// Close releases any resources held by the repository.
	Close() error
}

// getOrNew implements Get on top of Lookup.
func getOrNew(ctx context.Context, r Repository, userID string) (*Session, error) {
	s, err := r.Lookup(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return New(userID), nil
	}
	return s, err
}
