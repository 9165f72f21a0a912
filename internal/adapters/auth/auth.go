// Package auth authenticates and registers operators against the records
// store. Passwords are stored as bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/pkg/session"
)

var (
	// ErrInvalidCredentials covers both an unknown e-mail and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicate means the e-mail or CRM is already registered.
	ErrDuplicate = errors.New("operator already registered")
)

// Registration holds the fields captured by the registration flow.
type Registration struct {
	Name     string
	CRM      string
	Email    string
	Password string
}

// OperatorStore is the subset of records.Store the service needs.
type OperatorStore interface {
	CreateOperator(ctx context.Context, o records.Operator) (records.Operator, error)
	OperatorByEmail(ctx context.Context, email string) (records.Operator, error)
}

// Service implements authentication and registration.
type Service struct {
	store   OperatorStore
	cost    int
	compare func(hash, password []byte) error

	// unknownHash is compared against when the e-mail is not registered so
	// both failures cost one bcrypt comparison.
	unknownHash []byte
}

// NewService creates a Service. cost <= 0 uses bcrypt.DefaultCost.
func NewService(store OperatorStore, cost int) *Service {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("unregistered-operator"), cost)
	if err != nil {
		// Only an out-of-range cost fails, and cost is clamped above.
		panic(fmt.Sprintf("auth: hash placeholder password: %v", err))
	}
	return &Service{
		store:       store,
		cost:        cost,
		compare:     bcrypt.CompareHashAndPassword,
		unknownHash: hash,
	}
}

// Authenticate returns the principal for valid credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*session.Principal, error) {
	op, err := s.store.OperatorByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, records.ErrNotFound) {
		_ = s.compare(s.unknownHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up operator: %w", err)
	}

	if err := s.compare([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return principalOf(op), nil
}

// Register creates an operator and returns its principal.
func (s *Service) Register(ctx context.Context, r Registration) (*session.Principal, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op, err := s.store.CreateOperator(ctx, records.Operator{
		Name:         strings.TrimSpace(r.Name),
		CRM:          r.CRM,
		Email:        normalizeEmail(r.Email),
		PasswordHash: string(hash),
	})
	if errors.Is(err, records.ErrDuplicate) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create operator: %w", err)
	}
	return principalOf(op), nil
}

func principalOf(op records.Operator) *session.Principal {
	return &session.Principal{ID: op.ID, Name: op.Name, Email: op.Email}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
