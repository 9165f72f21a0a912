// Package session holds per-user dialogue state: the current flow step, the
// fields captured so far, a pending image-analysis preamble and the logged-in
// operator. Sessions are created lazily and owned by a Repository.
package session

import (
	"maps"
	"time"
)

// State is the dialogue step a session is waiting on. The zero value is Idle.
type State string

// Idle means no flow is active.
const Idle State = ""

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return string(s)
}

// Principal is an authenticated operator.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session is one user's dialogue record.
type Session struct {
	UserID          string            `json:"user_id"`
	State           State             `json:"state,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	PendingPreamble *string           `json:"pending_preamble,omitempty"`
	Principal       *Principal        `json:"principal,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// New returns an idle session for userID.
func New(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:    userID,
		Fields:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsIdle reports whether no flow is active.
func (s *Session) IsIdle() bool {
	return s.State == Idle
}

// Enter moves the session to state, keeping captured fields.
func (s *Session) Enter(state State) {
	s.State = state
}

// Field returns a captured field.
func (s *Session) Field(key string) string {
	return s.Fields[key]
}

// SetField captures a field.
func (s *Session) SetField(key, value string) {
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	s.Fields[key] = value
}

// Reset clears captured fields and returns to Idle. The preamble and the
// principal survive.
func (s *Session) Reset() {
	s.State = Idle
	s.Fields = make(map[string]string)
}

// TakeFields returns the captured fields and resets the session in one step.
func (s *Session) TakeFields() map[string]string {
	fields := s.Fields
	s.Reset()
	if fields == nil {
		fields = make(map[string]string)
	}
	return fields
}

// SetPreamble records an analysis to merge into the next text event.
func (s *Session) SetPreamble(analysis string) {
	s.PendingPreamble = &analysis
}

// TakePreamble returns and clears the pending preamble.
func (s *Session) TakePreamble() (string, bool) {
	if s.PendingPreamble == nil {
		return "", false
	}
	p := *s.PendingPreamble
	s.PendingPreamble = nil
	return p, true
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Fields = maps.Clone(s.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	if s.PendingPreamble != nil {
		p := *s.PendingPreamble
		c.PendingPreamble = &p
	}
	if s.Principal != nil {
		p := *s.Principal
		c.Principal = &p
	}
	return &c
}
