package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore collection names.
const (
	collectionPatients  = "patients"
	collectionAnalyses  = "analyses"
	collectionOperators = "operators"
)

// FirestoreStore keeps records in Google Cloud Firestore. Patients are keyed
// by CPF, operators by e-mail and analyses by case id, so uniqueness comes
// from document creation.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

// FirestoreConfig configures NewFirestoreStore.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirestoreStore connects to Firestore. Without a credentials file it uses
// Application Default Credentials (or FIRESTORE_EMULATOR_HOST).
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, now: time.Now}, nil
}

func (s *FirestoreStore) CreatePatient(ctx context.Context, p Patient) (Patient, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.now().UTC()

	if _, err := s.client.Collection(collectionPatients).Doc(p.CPF).Create(ctx, p); err != nil {
		return Patient{}, classifyFirestore("create patient", err)
	}
	return p, nil
}

func (s *FirestoreStore) FindByIdentifier(ctx context.Context, cpf string) (Patient, error) {
	snap, err := s.client.Collection(collectionPatients).Doc(cpf).Get(ctx)
	if err != nil {
		return Patient{}, classifyFirestore("find patient", err)
	}
	var p Patient
	if err := snap.DataTo(&p); err != nil {
		return Patient{}, fmt.Errorf("failed to unmarshal patient %s: %w", cpf, err)
	}
	return p, nil
}

func (s *FirestoreStore) Exists(ctx context.Context, cpf string) (bool, error) {
	_, err := s.client.Collection(collectionPatients).Doc(cpf).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) SaveAnalysis(ctx context.Context, a Analysis) (Analysis, error) {
	if a.CaseID == "" {
		a.CaseID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if _, err := s.client.Collection(collectionAnalyses).Doc(a.CaseID).Set(ctx, a); err != nil {
		return Analysis{}, classifyFirestore("save analysis", err)
	}
	return a, nil
}

func (s *FirestoreStore) GetAnalysis(ctx context.Context, caseID string) (Analysis, error) {
	snap, err := s.client.Collection(collectionAnalyses).Doc(caseID).Get(ctx)
	if err != nil {
		return Analysis{}, classifyFirestore("get analysis", err)
	}
	var a Analysis
	if err := snap.DataTo(&a); err != nil {
		return Analysis{}, fmt.Errorf("failed to unmarshal analysis %s: %w", caseID, err)
	}
	return a, nil
}

func (s *FirestoreStore) LinkAnalysis(ctx context.Context, caseID, patientID string) error {
	_, err := s.client.Collection(collectionAnalyses).Doc(caseID).Update(ctx, []firestore.Update{
		{Path: "patient_id", Value: patientID},
	})
	if err != nil {
		return classifyFirestore("link analysis", err)
	}
	return nil
}

func (s *FirestoreStore) OperatorAnalyses(ctx context.Context, operatorID string, limit int) ([]Analysis, error) {
	q := s.client.Collection(collectionAnalyses).
		Where("operator_id", "==", operatorID).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []Analysis
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list analyses: %w", err)
		}
		var a Analysis
		if err := snap.DataTo(&a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis %s: %w", snap.Ref.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// CreateOperator checks the CRM and creates the operator document in one
// transaction.
func (s *FirestoreStore) CreateOperator(ctx context.Context, o Operator) (Operator, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = s.now().UTC()

	coll := s.client.Collection(collectionOperators)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(coll.Where("crm", "==", o.CRM).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return ErrDuplicate
		}
		return tx.Create(coll.Doc(o.Email), o)
	})
	if err != nil {
		return Operator{}, classifyFirestore("create operator", err)
	}
	return o, nil
}

func (s *FirestoreStore) OperatorByEmail(ctx context.Context, email string) (Operator, error) {
	snap, err := s.client.Collection(collectionOperators).Doc(email).Get(ctx)
	if err != nil {
		return Operator{}, classifyFirestore("find operator", err)
	}
	var o Operator
	if err := snap.DataTo(&o); err != nil {
		return Operator{}, fmt.Errorf("failed to unmarshal operator: %w", err)
	}
	return o, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func classifyFirestore(op string, err error) error {
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}
