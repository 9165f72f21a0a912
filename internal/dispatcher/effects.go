package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/adapters/auth"
	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/observability"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// apply executes the terminal side effect of a flow. The session is already
// Idle and its captured fields are gone.
func (d *Dispatcher) apply(ctx context.Context, sess *session.Session, effect dialogue.Effect) error {
	d.logger.Debug("applying effect",
		zap.String("user_id", sess.UserID),
		zap.String("effect", effect.Kind()))

	switch e := effect.(type) {
	case dialogue.Login:
		return d.login(ctx, sess, e)
	case dialogue.Register:
		return d.register(ctx, sess, e)
	case dialogue.CreateRecord:
		return d.createRecord(ctx, sess, e)
	case dialogue.RunPipeline:
		if d.blocked(sess, e.CaseText) {
			return d.reply(ctx, sess.UserID, dialogue.Reply{Text: textCaseBlocked})
		}
		text := e.CaseText
		if preamble, ok := sess.TakePreamble(); ok {
			text = pipeline.WithPreamble(preamble, text)
		}
		return d.analyze(ctx, sess, e.Pipeline, text)
	case dialogue.Suggest:
		if d.blocked(sess, e.Text) {
			return d.reply(ctx, sess.UserID, dialogue.Reply{Text: textCaseBlocked})
		}
		return d.suggest(ctx, sess, e.Text)
	case dialogue.SaveAnalysis:
		return d.saveAnalysis(ctx, sess, e)
	case dialogue.History:
		return d.history(ctx, sess, e)
	case dialogue.ShowCase:
		return d.showCase(ctx, sess, e)
	default:
		return fmt.Errorf("unhandled effect %T", effect)
	}
}

func (d *Dispatcher) login(ctx context.Context, sess *session.Session, e dialogue.Login) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	p, err := d.deps.Auth.Authenticate(actx, e.Email, e.Password)
	observability.RecordAdapterCall(AdapterAuth, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterAuth, err)
	}
	sess.Principal = p
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textLoggedIn, p.Name)})
}

func (d *Dispatcher) register(ctx context.Context, sess *session.Session, e dialogue.Register) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	p, err := d.deps.Auth.Register(actx, auth.Registration{
		Name:     e.Name,
		CRM:      e.CRM,
		Email:    e.Email,
		Password: e.Password,
	})
	observability.RecordAdapterCall(AdapterAuth, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterAuth, err)
	}
	sess.Principal = p
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textRegistered, p.Name)})
}

func operatorID(sess *session.Session) string {
	if sess.Principal == nil {
		return ""
	}
	return sess.Principal.ID
}

func (d *Dispatcher) createRecord(ctx context.Context, sess *session.Session, e dialogue.CreateRecord) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	patient, err := d.deps.Records.CreatePatient(actx, records.Patient{
		OperatorID: operatorID(sess),
		Name:       e.Record.Name,
		CPF:        e.Record.CPF,
		Phone:      e.Record.Phone,
		BirthDate:  e.Record.BirthDate,
		Age:        e.Record.Age,
	})
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, err)
	}

	text := fmt.Sprintf(textRecordCreated, patient.Name, patient.CPF)
	if e.Analysis != nil {
		if err := d.store(actx, sess, *e.Analysis, patient.ID); err != nil {
			return err
		}
		text += "\n" + fmt.Sprintf(textAnalysisLinked, e.Analysis.CaseID)
	}
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: text})
}

func (d *Dispatcher) saveAnalysis(ctx context.Context, sess *session.Session, e dialogue.SaveAnalysis) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	if e.Identifier == "" {
		if err := d.store(actx, sess, e.Analysis, ""); err != nil {
			return err
		}
		return d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textAnalysisSaved, e.Analysis.CaseID)})
	}

	patient, err := d.deps.Records.FindByIdentifier(actx, e.Identifier)
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, err)
	}
	if err := d.store(actx, sess, e.Analysis, patient.ID); err != nil {
		return err
	}
	return d.reply(ctx, sess.UserID, dialogue.Reply{
		Text: fmt.Sprintf(textAnalysisLinked, e.Analysis.CaseID) + "\n" + fmt.Sprintf(textPatientLine, patient.Name),
	})
}

// store saves the analysis unlinked and then links it when patientID is set.
func (d *Dispatcher) store(ctx context.Context, sess *session.Session, a dialogue.PendingAnalysis, patientID string) error {
	_, err := d.deps.Records.SaveAnalysis(ctx, records.Analysis{
		CaseID:     a.CaseID,
		OperatorID: operatorID(sess),
		Pipeline:   a.Pipeline,
		CaseText:   a.CaseText,
		Report:     a.Report,
	})
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, &caseError{CaseID: a.CaseID, Err: err})
	}
	if patientID == "" {
		return nil
	}

	err = d.deps.Records.LinkAnalysis(ctx, a.CaseID, patientID)
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, &caseError{CaseID: a.CaseID, Err: err})
	}
	return nil
}

// HistoryLimit is the number of analyses listed by /history.
const HistoryLimit = 5

func (d *Dispatcher) history(ctx context.Context, sess *session.Session, e dialogue.History) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	list, err := d.deps.Records.OperatorAnalyses(actx, e.OperatorID, HistoryLimit)
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, err)
	}
	if len(list) == 0 {
		return d.reply(ctx, sess.UserID, dialogue.Reply{Text: textNoHistory})
	}

	var b strings.Builder
	b.WriteString(textHistoryHeader)
	for _, a := range list {
		linked := ""
		if a.PatientID != "" {
			linked = " 🔗"
		}
		fmt.Fprintf(&b, "\n• %s  %s  %s%s\n  %s", a.CaseID, a.CreatedAt.Format("02/01/2006 15:04"), a.Pipeline, linked, excerpt(a.CaseText, 80))
	}
	b.WriteString("\n\n" + textHistoryFooter)
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: b.String()})
}

// showCase delivers a saved report. Analyses of other operators are reported
// as missing.
func (d *Dispatcher) showCase(ctx context.Context, sess *session.Session, e dialogue.ShowCase) error {
	actx, cancel := d.adapterCtx(ctx)
	defer cancel()

	a, err := d.deps.Records.GetAnalysis(actx, e.CaseID)
	if errors.Is(err, records.ErrNotFound) || (err == nil && a.OperatorID != e.OperatorID) {
		observability.RecordAdapterCall(AdapterRecords, statusOf(nil))
		return d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textCaseNotFound, e.CaseID)})
	}
	observability.RecordAdapterCall(AdapterRecords, statusOf(err))
	if err != nil {
		return adapterFailure(AdapterRecords, &caseError{CaseID: e.CaseID, Err: err})
	}

	return d.deliver(ctx, sess.UserID, fmt.Sprintf("📋 SAVED REPORT\nCase: %s\nDate: %s\n\n%s\n\n%s",
		a.CaseID, a.CreatedAt.Format("02/01/2006 15:04"), a.Report, pipeline.Disclaimer))
}

func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
