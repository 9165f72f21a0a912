package completion

import (
	"context"
	"sync"
)

// ReplyFunc computes a reply for a recorded request.
type ReplyFunc func(ctx context.Context, req Request) (*Response, error)

// Scripted is an in-memory Gateway that plays back queued replies and records
// every request. It backs tests and offline runs.
type Scripted struct {
	mu       sync.Mutex
	replies  []ReplyFunc
	calls    []Request
	index    int
	fallback ReplyFunc
}

// NewScripted creates an empty scripted gateway. Once the queue is exhausted
// it answers with an empty, finished response.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Name returns the backend name.
func (s *Scripted) Name() string {
	return "scripted"
}

// Complete records req and plays the next queued reply.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var fn ReplyFunc
	if s.index < len(s.replies) {
		fn = s.replies[s.index]
		s.index++
	} else {
		fn = s.fallback
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, wrapContextError(s.Name(), err)
	}
	if fn == nil {
		return &Response{FinishReason: FinishStop}, nil
	}
	return fn(ctx, req)
}

// AddResponse queues a finished reply with the given content.
func (s *Scripted) AddResponse(content string) *Scripted {
	return s.AddReply(content, FinishStop)
}

// AddReply queues a reply with an explicit finish reason.
func (s *Scripted) AddReply(content string, finish FinishReason) *Scripted {
	return s.AddFunc(func(context.Context, Request) (*Response, error) {
		return &Response{Content: content, FinishReason: finish}, nil
	})
}

// AddError queues a failure.
func (s *Scripted) AddError(err error) *Scripted {
	return s.AddFunc(func(context.Context, Request) (*Response, error) {
		return nil, err
	})
}

// AddFunc queues a computed reply.
func (s *Scripted) AddFunc(fn ReplyFunc) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, fn)
	return s
}

// SetFallback sets the reply used once the queue is exhausted.
func (s *Scripted) SetFallback(fn ReplyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
}

// Calls returns a copy of all recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]Request, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// Stall returns a ReplyFunc that blocks until ctx is done and then fails
// the way a network backend would.
func Stall() ReplyFunc {
	return func(ctx context.Context, _ Request) (*Response, error) {
		<-ctx.Done()
		return nil, wrapContextError("scripted", ctx.Err())
	}
}
