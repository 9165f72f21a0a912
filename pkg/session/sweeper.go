package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the idle sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper periodically deletes sessions that have been untouched for longer
// than the idle TTL, abandoning any half-finished flow they hold.
type Sweeper struct {
	repo    Repository
	ttl     time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
	now     func() time.Time
	onSweep func(remaining int)

	serializer *Serializer
}

// NewSweeper schedules sweeps on the given cron expression.
func NewSweeper(repo Repository, ttl time.Duration, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("idle ttl must be positive, got %s", ttl)
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("session sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// OnSweep registers a callback receiving the number of sessions left after
// each sweep.
func (s *Sweeper) OnSweep(fn func(remaining int)) {
	s.onSweep = fn
}

// UseSerializer makes each deletion wait for the user's in-flight event, the
// same serializer the dispatcher holds.
func (s *Sweeper) UseSerializer(ser *Serializer) {
	s.serializer = ser
}

// Sweep deletes expired sessions now and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, sess := range sessions {
		if sess.UpdatedAt.After(cutoff) {
			continue
		}
		ok, err := s.expire(ctx, sess.UserID, cutoff)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}

	if s.onSweep != nil {
		s.onSweep(len(sessions) - removed)
	}
	if removed > 0 {
		s.logger.Info("session sweep finished", zap.Int("removed", removed))
	}
	return removed, nil
}

// expire deletes the session if it is still stale. The List snapshot may be
// older than a save made by a concurrent event.
func (s *Sweeper) expire(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	var removed bool
	run := func(ctx context.Context) error {
		cur, err := s.repo.Lookup(ctx, userID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload session %s: %w", userID, err)
		}
		if cur.UpdatedAt.After(cutoff) {
			return nil
		}
		if err := s.repo.Delete(ctx, userID); err != nil {
			return fmt.Errorf("delete session %s: %w", userID, err)
		}
		removed = true
		s.logger.Debug("expired idle session",
			zap.String("user_id", userID),
			zap.Stringer("state", cur.State),
		)
		return nil
	}

	if s.serializer == nil {
		return removed, run(ctx)
	}
	return removed, s.serializer.Do(ctx, userID, run)
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
