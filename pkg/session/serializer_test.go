package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSerializer_OneAtATimePerUser(t *testing.T) {
	s := NewSerializer()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "u1", func(context.Context) error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, 0, s.Active())
}

func TestSerializer_UsersIndependent(t *testing.T) {
	s := NewSerializer()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "slow", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "fast", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent user was blocked")
	}
	close(release)
}

func TestSerializer_ContextCancelledWhileWaiting(t *testing.T) {
	s := NewSerializer()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "u", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	err := s.Do(ctx, "u", func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	close(release)
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	stale := New("stale")
	stale.Enter("awaiting_login_password")
	require.NoError(t, repo.Save(ctx, stale))
	require.NoError(t, repo.Save(ctx, New("fresh")))

	sw, err := NewSweeper(repo, time.Hour, "@every 1h", zap.NewNop())
	require.NoError(t, err)

	var remaining int
	sw.OnSweep(func(n int) { remaining = n })

	sw.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	removed, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, remaining)

	sw.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, remaining)

	sw.Start()
	sw.Stop(ctx)
}

// agedRepository reports every session as three hours old, except the users
// in touched, whose stored copy reads as fresh.
type agedRepository struct {
	*MemoryRepository
	touched map[string]bool
}

func (r *agedRepository) age(s *Session) *Session {
	s.UpdatedAt = s.UpdatedAt.Add(-3 * time.Hour)
	return s
}

func (r *agedRepository) List(ctx context.Context) ([]*Session, error) {
	list, err := r.MemoryRepository.List(ctx)
	for _, s := range list {
		r.age(s)
	}
	return list, err
}

func (r *agedRepository) Lookup(ctx context.Context, userID string) (*Session, error) {
	s, err := r.MemoryRepository.Lookup(ctx, userID)
	if err != nil || r.touched[userID] {
		return s, err
	}
	return r.age(s), nil
}

func TestSweeper_RechecksBeforeDelete(t *testing.T) {
	ctx := context.Background()
	repo := &agedRepository{MemoryRepository: NewMemoryRepository(), touched: map[string]bool{"active": true}}

	active := New("active")
	active.Enter("awaiting_case_text")
	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, New("idle")))

	sw, err := NewSweeper(repo, time.Hour, "", zap.NewNop())
	require.NoError(t, err)

	removed, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := repo.MemoryRepository.Lookup(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, State("awaiting_case_text"), got.State)
	_, err = repo.MemoryRepository.Lookup(ctx, "idle")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweeper_WaitsForInFlightEvent(t *testing.T) {
	ctx := context.Background()
	repo := &agedRepository{MemoryRepository: NewMemoryRepository(), touched: map[string]bool{}}
	require.NoError(t, repo.Save(ctx, New("u1")))

	ser := NewSerializer()
	sw, err := NewSweeper(repo, time.Hour, "", zap.NewNop())
	require.NoError(t, err)
	sw.UseSerializer(ser)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = ser.Do(ctx, "u1", func(context.Context) error {
			close(holding)
			<-release
			// The event saved the session while the sweep was queued.
			repo.touched["u1"] = true
			return nil
		})
	}()
	<-holding

	done := make(chan int)
	go func() {
		n, _ := sw.Sweep(ctx)
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("sweep deleted a session with an event in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)

	assert.Equal(t, 0, <-done)
	_, err = repo.MemoryRepository.Lookup(ctx, "u1")
	assert.NoError(t, err)
}

func TestNewSweeper_Validation(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := NewSweeper(repo, 0, "", zap.NewNop())
	assert.Error(t, err)
	_, err = NewSweeper(repo, time.Hour, "every tuesday", zap.NewNop())
	assert.Error(t, err)
}
