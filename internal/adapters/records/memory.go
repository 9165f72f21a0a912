package records

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	patients  map[string]Patient // by CPF
	analyses  map[string]Analysis
	operators map[string]Operator // by e-mail
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:  make(map[string]Patient),
		analyses:  make(map[string]Analysis),
		operators: make(map[string]Operator),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreatePatient(_ context.Context, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[p.CPF]; ok {
		return Patient{}, ErrDuplicate
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.now().UTC()
	s.patients[p.CPF] = p
	return p, nil
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, cpf string) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[cpf]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Exists(ctx context.Context, cpf string) (bool, error) {
	_, err := s.FindByIdentifier(ctx, cpf)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, a Analysis) (Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CaseID == "" {
		a.CaseID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.analyses[a.CaseID] = a
	return a, nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, caseID string) (Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analyses[caseID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) LinkAnalysis(_ context.Context, caseID, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.analyses[caseID]
	if !ok {
		return ErrNotFound
	}
	a.PatientID = patientID
	s.analyses[caseID] = a
	return nil
}

func (s *MemoryStore) OperatorAnalyses(_ context.Context, operatorID string, limit int) ([]Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Analysis
	for _, a := range s.analyses {
		if a.OperatorID == operatorID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Analysis) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateOperator(_ context.Context, o Operator) (Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operators[o.Email]; ok {
		return Operator{}, ErrDuplicate
	}
	for _, existing := range s.operators {
		if existing.CRM == o.CRM {
			return Operator{}, ErrDuplicate
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = s.now().UTC()
	s.operators[o.Email] = o
	return o, nil
}

func (s *MemoryStore) OperatorByEmail(_ context.Context, email string) (Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.operators[email]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) Close() error { return nil }
