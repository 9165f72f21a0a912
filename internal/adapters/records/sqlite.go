package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS operators (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	crm TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	operator_id TEXT,
	name TEXT NOT NULL,
	cpf TEXT NOT NULL UNIQUE,
	phone TEXT,
	birth_date TEXT,
	age INTEGER,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
	case_id TEXT PRIMARY KEY,
	operator_id TEXT,
	patient_id TEXT,
	pipeline TEXT NOT NULL,
	case_text TEXT NOT NULL,
	report TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_operator ON analyses(operator_id, created_at);
`

// SQLiteStore keeps records in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) CreatePatient(ctx context.Context, p Patient) (Patient, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.now().UTC()

	var birth sql.NullString
	if p.BirthDate != nil {
		birth = sql.NullString{String: p.BirthDate.Format(time.DateOnly), Valid: true}
	}
	var age sql.NullInt64
	if p.Age != nil {
		age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, operator_id, name, cpf, phone, birth_date, age, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OperatorID, p.Name, p.CPF, p.Phone, birth, age, formatTime(p.CreatedAt))
	if err != nil {
		return Patient{}, classifySQLite("create patient", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindByIdentifier(ctx context.Context, cpf string) (Patient, error) {
	var (
		p       Patient
		phone   sql.NullString
		opID    sql.NullString
		birth   sql.NullString
		age     sql.NullInt64
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, operator_id, name, cpf, phone, birth_date, age, created_at FROM patients WHERE cpf = ?`, cpf).
		Scan(&p.ID, &opID, &p.Name, &p.CPF, &phone, &birth, &age, &created)
	if err != nil {
		return Patient{}, classifySQLite("find patient", err)
	}

	p.OperatorID = opID.String
	p.Phone = phone.String
	if birth.Valid {
		if t, err := time.Parse(time.DateOnly, birth.String); err == nil {
			p.BirthDate = &t
		}
	}
	if age.Valid {
		n := int(age.Int64)
		p.Age = &n
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, cpf string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM patients WHERE cpf = ?`, cpf).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a Analysis) (Analysis, error) {
	if a.CaseID == "" {
		a.CaseID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (case_id, operator_id, patient_id, pipeline, case_text, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(case_id) DO UPDATE SET
		 	operator_id = excluded.operator_id,
		 	patient_id = excluded.patient_id,
		 	pipeline = excluded.pipeline,
		 	case_text = excluded.case_text,
		 	report = excluded.report`,
		a.CaseID, a.OperatorID, a.PatientID, a.Pipeline, a.CaseText, a.Report, formatTime(a.CreatedAt))
	if err != nil {
		return Analysis{}, classifySQLite("save analysis", err)
	}
	return a, nil
}

const analysisColumns = `case_id, operator_id, patient_id, pipeline, case_text, report, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var (
		a             Analysis
		opID, patient sql.NullString
		created       string
	)
	if err := row.Scan(&a.CaseID, &opID, &patient, &a.Pipeline, &a.CaseText, &a.Report, &created); err != nil {
		return Analysis{}, err
	}
	a.OperatorID = opID.String
	a.PatientID = patient.String
	a.CreatedAt = parseTime(created)
	return a, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, caseID string) (Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE case_id = ?`, caseID)
	a, err := scanAnalysis(row)
	if err != nil {
		return Analysis{}, classifySQLite("get analysis", err)
	}
	return a, nil
}

func (s *SQLiteStore) LinkAnalysis(ctx context.Context, caseID, patientID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE analyses SET patient_id = ? WHERE case_id = ?`, patientID, caseID)
	if err != nil {
		return classifySQLite("link analysis", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) OperatorAnalyses(ctx context.Context, operatorID string, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE operator_id = ? ORDER BY created_at DESC LIMIT ?`,
		operatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateOperator(ctx context.Context, o Operator) (Operator, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (id, name, crm, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.CRM, o.Email, o.PasswordHash, formatTime(o.CreatedAt))
	if err != nil {
		return Operator{}, classifySQLite("create operator", err)
	}
	return o, nil
}

func (s *SQLiteStore) OperatorByEmail(ctx context.Context, email string) (Operator, error) {
	var (
		o       Operator
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, crm, email, password_hash, created_at FROM operators WHERE email = ?`, email).
		Scan(&o.ID, &o.Name, &o.CRM, &o.Email, &o.PasswordHash, &created)
	if err != nil {
		return Operator{}, classifySQLite("find operator", err)
	}
	o.CreatedAt = parseTime(created)
	return o, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func classifySQLite(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrDuplicate
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Fixed-width so that created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTimeLayout, s)
	return t
}
