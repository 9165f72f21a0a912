// Package dialogue is the per-user conversation state machine. Each non-idle
// state expects exactly one field; invalid input re-issues the same prompt
// and leaves the session untouched, while the last step of a flow clears the
// captured fields and returns the flow's side effect in one transition.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/observability"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// ErrIdle is returned by Handle when plain input arrives for an idle session.
// Idle input is classified by the dispatcher, not by the state machine.
var ErrIdle = errors.New("no active flow")

// Transition outcomes, as recorded in metrics.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
	OutcomeCommand   = "command"
)

// Config holds step thresholds.
type Config struct {
	MinPasswordLength   int
	MinNameLength       int
	MinSuggestionLength int
	Admission           pipeline.Admission
	Pipelines           []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength:   8,
		MinNameLength:       3,
		MinSuggestionLength: 20,
		Admission:           pipeline.DefaultAdmission(),
		Pipelines:           pipeline.DefaultCatalog().Names(),
	}
}

// RecordIndex answers whether a patient record exists.
type RecordIndex interface {
	Exists(ctx context.Context, identifier string) (bool, error)
}

// Transition is the result of handling one input.
type Transition struct {
	From    session.State
	To      session.State
	Reply   Reply
	Effect  Effect
	Invalid *ValidationError
	Outcome string
}

// Machine applies inputs to sessions. It holds no per-user state and is safe
// for concurrent use; callers serialize access to each session.
type Machine struct {
	cfg        Config
	records    RecordIndex
	validators map[session.State]Validator
}

// NewMachine creates a state machine. records may be nil, in which case
// link identifiers are accepted without an existence check.
func NewMachine(cfg Config, records RecordIndex) *Machine {
	def := DefaultConfig()
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = def.MinPasswordLength
	}
	if cfg.MinNameLength <= 0 {
		cfg.MinNameLength = def.MinNameLength
	}
	if cfg.MinSuggestionLength <= 0 {
		cfg.MinSuggestionLength = def.MinSuggestionLength
	}
	if cfg.Admission == (pipeline.Admission{}) {
		cfg.Admission = def.Admission
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = def.Pipelines
	}

	m := &Machine{cfg: cfg, records: records}
	m.validators = m.buildValidators(time.Now)
	return m
}

func (m *Machine) buildValidators(now func() time.Time) map[session.State]Validator {
	name := TextField{MinLength: m.cfg.MinNameLength, MaxLength: 120, DisallowControlChars: true}
	cpf := Digits{MinDigits: 11, MaxDigits: 11}

	return map[session.State]Validator{
		AwaitingLoginEmail:    Email{},
		AwaitingLoginPassword: TextField{MinLength: 1},

		AwaitingRegisterName:     name,
		AwaitingRegisterID:       CRM{},
		AwaitingRegisterEmail:    Email{},
		AwaitingRegisterPassword: TextField{MinLength: m.cfg.MinPasswordLength, MaxLength: 72},

		AwaitingNewRecordName:       name,
		AwaitingNewRecordID:         cpf,
		AwaitingNewRecordPhone:      Digits{MinDigits: 10, MaxDigits: 11},
		AwaitingNewRecordBirthOrAge: BirthOrAge{Now: now},

		AwaitingCaseText:       m.caseText(false),
		AwaitingSuggestionText: TextField{MinLength: m.cfg.MinSuggestionLength},

		AwaitingSaveDecision: Choice{
			DataSave: DataSave, "s": DataSave, "yes": DataSave, "y": DataSave, "1": DataSave,
			DataDiscard: DataDiscard, "no": DataDiscard, "n": DataDiscard, "2": DataDiscard,
		},
		AwaitingLinkChoice: Choice{
			DataNew: DataNew, "1": DataNew,
			DataLink: DataLink, "existing": DataLink, "2": DataLink,
			DataUnlinked: DataUnlinked, "3": DataUnlinked,
		},
		AwaitingLinkIdentifier: cpf,
	}
}

// caseText admits case text typed in the guided flow. The image preamble is
// merged only when the pipeline runs, so its presence is passed in.
func (m *Machine) caseText(preamblePending bool) Validator {
	threshold := m.cfg.Admission.MinLength
	if preamblePending {
		threshold = m.cfg.Admission.MinLengthWithPreamble
	}
	return ValidatorFunc(func(s string) (string, error) {
		s = strings.TrimSpace(s)
		if err := m.cfg.Admission.AdmitOperatorText(s, preamblePending); err != nil {
			return "", fmt.Errorf("too short: minimum %d characters", threshold)
		}
		return s, nil
	})
}

var stateFields = map[session.State]string{
	AwaitingLoginEmail:          FieldEmail,
	AwaitingLoginPassword:       FieldPassword,
	AwaitingRegisterName:        FieldName,
	AwaitingRegisterID:          FieldCRM,
	AwaitingRegisterEmail:       FieldEmail,
	AwaitingRegisterPassword:    FieldPassword,
	AwaitingNewRecordName:       FieldName,
	AwaitingNewRecordID:         FieldCPF,
	AwaitingNewRecordPhone:      FieldPhone,
	AwaitingNewRecordBirthOrAge: FieldBirth,
	AwaitingCaseText:            FieldCaseText,
	AwaitingSuggestionText:      FieldCaseText,
	AwaitingSaveDecision:        "save_decision",
	AwaitingLinkChoice:          "link_choice",
	AwaitingLinkIdentifier:      FieldRecordRef,
}

// next is the following step of linear flows.
var next = map[session.State]session.State{
	AwaitingLoginEmail:     AwaitingLoginPassword,
	AwaitingRegisterName:   AwaitingRegisterID,
	AwaitingRegisterID:     AwaitingRegisterEmail,
	AwaitingRegisterEmail:  AwaitingRegisterPassword,
	AwaitingNewRecordName:  AwaitingNewRecordID,
	AwaitingNewRecordID:    AwaitingNewRecordPhone,
	AwaitingNewRecordPhone: AwaitingNewRecordBirthOrAge,
}

// Handle applies one input to sess. Commands (input starting with "/") are
// accepted in any state; other input requires an active flow.
//
// The returned error is ErrIdle or a RecordIndex failure; validation
// failures are reported in Transition.Invalid instead.
func (m *Machine) Handle(ctx context.Context, sess *session.Session, input string) (Transition, error) {
	var (
		t   Transition
		err error
	)
	if cmd, args, ok := ParseCommand(input); ok {
		t = m.command(sess, cmd, args)
	} else if sess.IsIdle() {
		return Transition{}, ErrIdle
	} else {
		t, err = m.step(ctx, sess, input)
		if err != nil {
			return Transition{}, err
		}
	}
	observability.RecordFlowTransition(t.From.String(), t.Outcome)
	return t, nil
}

func (m *Machine) step(ctx context.Context, sess *session.Session, input string) (Transition, error) {
	state := sess.State
	v, ok := m.validators[state]
	if !ok {
		return Transition{}, fmt.Errorf("state %q has no validator", state)
	}
	if state == AwaitingCaseText && sess.PendingPreamble != nil {
		v = m.caseText(true)
	}

	value, err := v.Validate(input)
	if err != nil {
		return m.reprompt(state, &ValidationError{Field: stateFields[state], Reason: err.Error()}), nil
	}

	t := Transition{From: state, Outcome: OutcomeAdvanced}

	switch state {
	case AwaitingLoginPassword:
		f := complete(sess, FieldPassword, value)
		t.Effect = Login{Email: f[FieldEmail], Password: f[FieldPassword]}

	case AwaitingRegisterPassword:
		f := complete(sess, FieldPassword, value)
		t.Effect = Register{Name: f[FieldName], CRM: f[FieldCRM], Email: f[FieldEmail], Password: f[FieldPassword]}

	case AwaitingNewRecordBirthOrAge:
		f := complete(sess, FieldBirth, value)
		rec := NewRecord{Name: f[FieldName], CPF: f[FieldCPF], Phone: f[FieldPhone]}
		rec.BirthDate, rec.Age = ParseBirthOrAge(f[FieldBirth])
		t.Effect = CreateRecord{Record: rec, Analysis: pendingFrom(f)}

	case AwaitingCaseText:
		f := complete(sess, FieldCaseText, value)
		t.Effect = RunPipeline{Pipeline: f[FieldPipeline], CaseText: f[FieldCaseText]}

	case AwaitingSuggestionText:
		f := complete(sess, FieldCaseText, value)
		t.Effect = Suggest{Text: f[FieldCaseText]}

	case AwaitingSaveDecision:
		if value == DataDiscard {
			sess.Reset()
			t.To = session.Idle
			t.Outcome = OutcomeCompleted
			t.Reply = Reply{Text: textDiscarded}
			return t, nil
		}
		sess.Enter(AwaitingLinkChoice)

	case AwaitingLinkChoice:
		switch value {
		case DataUnlinked:
			f := sess.TakeFields()
			t.Effect = SaveAnalysis{Analysis: analysisFrom(f)}
		case DataNew, DataLink:
			if sess.Principal == nil {
				return m.reject(state, textLoginToLink), nil
			}
			if value == DataNew {
				sess.Enter(AwaitingNewRecordName)
			} else {
				sess.Enter(AwaitingLinkIdentifier)
			}
		}

	case AwaitingLinkIdentifier:
		if m.records != nil {
			exists, err := m.records.Exists(ctx, value)
			if err != nil {
				return Transition{}, fmt.Errorf("look up record %s: %w", value, err)
			}
			if !exists {
				t := m.reject(state, textRecordNotFound)
				t.Invalid = &ValidationError{Field: FieldRecordRef, Reason: "no such record"}
				t.Outcome = OutcomeInvalid
				return t, nil
			}
		}
		f := sess.TakeFields()
		t.Effect = SaveAnalysis{Analysis: analysisFrom(f), Identifier: value}

	default:
		n, ok := next[state]
		if !ok {
			return Transition{}, fmt.Errorf("state %q has no successor", state)
		}
		sess.SetField(stateFields[state], value)
		sess.Enter(n)
	}

	t.To = sess.State
	if t.Effect != nil {
		t.Outcome = OutcomeCompleted
	} else {
		t.Reply = m.Prompt(sess.State)
	}
	return t, nil
}

// complete stores the last field and takes every captured field, leaving the
// session idle.
func complete(sess *session.Session, key, value string) map[string]string {
	sess.SetField(key, value)
	return sess.TakeFields()
}

func (m *Machine) reprompt(state session.State, invalid *ValidationError) Transition {
	return Transition{
		From:    state,
		To:      state,
		Reply:   m.Prompt(state),
		Invalid: invalid,
		Outcome: OutcomeInvalid,
	}
}

func (m *Machine) reject(state session.State, msg string) Transition {
	return Transition{
		From:    state,
		To:      state,
		Reply:   joinReplies(msg, m.Prompt(state)),
		Outcome: OutcomeRejected,
	}
}

// OfferSave starts the post-run confirmation for a successful analysis.
func (m *Machine) OfferSave(sess *session.Session, a PendingAnalysis) Transition {
	from := sess.State
	sess.Reset()
	sess.SetField(fieldAnalysisCaseID, a.CaseID)
	sess.SetField(fieldAnalysisPipeline, a.Pipeline)
	sess.SetField(fieldAnalysisCaseText, a.CaseText)
	sess.SetField(fieldAnalysisReport, a.Report)
	sess.Enter(AwaitingSaveDecision)

	return Transition{
		From:    from,
		To:      AwaitingSaveDecision,
		Reply:   m.Prompt(AwaitingSaveDecision),
		Outcome: OutcomeAdvanced,
	}
}

func analysisFrom(f map[string]string) PendingAnalysis {
	return PendingAnalysis{
		CaseID:   f[fieldAnalysisCaseID],
		Pipeline: f[fieldAnalysisPipeline],
		CaseText: f[fieldAnalysisCaseText],
		Report:   f[fieldAnalysisReport],
	}
}

// pendingFrom returns the analysis carried by a record flow, if any.
func pendingFrom(f map[string]string) *PendingAnalysis {
	if f[fieldAnalysisReport] == "" {
		return nil
	}
	a := analysisFrom(f)
	return &a
}
