package session

import (
	"context"
	"sync"
)

// Serializer runs work for one user at a time, in arrival order, while
// different users proceed concurrently.
type Serializer struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer {
	return &Serializer{locks: make(map[string]*userLock)}
}

// Do runs fn once every earlier Do for the same user has returned. Waiters
// are admitted first-come first-served. It returns ctx.Err() without running
// fn if ctx ends while waiting.
func (s *Serializer) Do(ctx context.Context, userID string, fn func(context.Context) error) error {
	l := s.acquireRef(userID)
	defer s.releaseRef(userID, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

func (s *Serializer) acquireRef(userID string) *userLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		s.locks[userID] = l
	}
	l.refs++
	return l
}

func (s *Serializer) releaseRef(userID string, l *userLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
}

// Active returns the number of users with work running or queued.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
