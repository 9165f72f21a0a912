// Package records persists operators, patient records and saved analyses.
// Patients are identified by CPF; analyses are keyed by case id and may be
// saved unlinked and attached to a patient later.
package records

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a patient, operator or analysis does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique identifier is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// Patient is a patient record.
type Patient struct {
	ID         string     `json:"id" firestore:"id"`
	OperatorID string     `json:"operator_id,omitempty" firestore:"operator_id"`
	Name       string     `json:"name" firestore:"name"`
	CPF        string     `json:"cpf" firestore:"cpf"`
	Phone      string     `json:"phone,omitempty" firestore:"phone"`
	BirthDate  *time.Time `json:"birth_date,omitempty" firestore:"birth_date"`
	Age        *int       `json:"age,omitempty" firestore:"age"`
	CreatedAt  time.Time  `json:"created_at" firestore:"created_at"`
}

// Analysis is a saved pipeline result.
type Analysis struct {
	CaseID     string    `json:"case_id" firestore:"case_id"`
	OperatorID string    `json:"operator_id,omitempty" firestore:"operator_id"`
	PatientID  string    `json:"patient_id,omitempty" firestore:"patient_id"`
	Pipeline   string    `json:"pipeline" firestore:"pipeline"`
	CaseText   string    `json:"case_text" firestore:"case_text"`
	Report     string    `json:"report" firestore:"report"`
	CreatedAt  time.Time `json:"created_at" firestore:"created_at"`
}

// Operator is a registered clinician.
type Operator struct {
	ID           string    `json:"id" firestore:"id"`
	Name         string    `json:"name" firestore:"name"`
	CRM          string    `json:"crm" firestore:"crm"`
	Email        string    `json:"email" firestore:"email"`
	PasswordHash string    `json:"-" firestore:"password_hash"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
}

// Store is the persistence boundary.
type Store interface {
	// CreatePatient stores a new patient. The CPF must be unique.
	CreatePatient(ctx context.Context, p Patient) (Patient, error)
	FindByIdentifier(ctx context.Context, cpf string) (Patient, error)
	Exists(ctx context.Context, cpf string) (bool, error)

	SaveAnalysis(ctx context.Context, a Analysis) (Analysis, error)
	GetAnalysis(ctx context.Context, caseID string) (Analysis, error)
	// LinkAnalysis attaches a saved analysis to a patient.
	LinkAnalysis(ctx context.Context, caseID, patientID string) error
	// OperatorAnalyses returns an operator's analyses, newest first.
	OperatorAnalyses(ctx context.Context, operatorID string, limit int) ([]Analysis, error)

	// CreateOperator stores a new operator. E-mail and CRM must be unique.
	CreateOperator(ctx context.Context, o Operator) (Operator, error)
	OperatorByEmail(ctx context.Context, email string) (Operator, error)

	Close() error
}

// Health-check hook shared by the backends that talk to a server.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store when it supports it.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
