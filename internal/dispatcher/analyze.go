package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// DefaultOperatorName is used in prompts for guests.
const DefaultOperatorName = "Attending physician"

// caseError ties a failure to the case it happened in.
type caseError struct {
	CaseID string
	Err    error
}

func (e *caseError) Error() string { return fmt.Sprintf("case %s: %v", e.CaseID, e.Err) }
func (e *caseError) Unwrap() error { return e.Err }

func operatorName(p *session.Principal) string {
	if p == nil || p.Name == "" {
		return DefaultOperatorName
	}
	return "Dr. " + p.Name
}

// analyze runs a pipeline on text, delivers the report and offers to save it.
func (d *Dispatcher) analyze(ctx context.Context, sess *session.Session, name, text string) error {
	res, err := d.run(ctx, sess, name, text)
	if err != nil {
		return err
	}

	if err := d.deliver(ctx, sess.UserID, reportText(res)); err != nil {
		return err
	}

	t := d.deps.Machine.OfferSave(sess, dialogue.PendingAnalysis{
		CaseID:   res.CaseID,
		Pipeline: res.Pipeline,
		CaseText: text,
		Report:   res.FinalText,
	})
	return d.reply(ctx, sess.UserID, t.Reply)
}

// suggest runs the quick suggestion pipeline. Suggestions are not saved.
func (d *Dispatcher) suggest(ctx context.Context, sess *session.Session, text string) error {
	res, err := d.run(ctx, sess, pipeline.SuggestPipeline, text)
	if err != nil {
		return err
	}
	return d.deliver(ctx, sess.UserID, "💡 CLINICAL SUGGESTIONS\n\n"+res.FinalText+"\n\n"+pipeline.Disclaimer)
}

func (d *Dispatcher) run(ctx context.Context, sess *session.Session, name, text string) (pipeline.Result, error) {
	p, err := d.deps.Runner.Pipeline(name)
	if err != nil {
		return pipeline.Result{}, err
	}

	notice := fmt.Sprintf("🔬 Analysing the case with: %s.\n⏳ This can take a few minutes.", strings.Join(p.Roles(), ", "))
	if pipeline.HasPreamble(text) {
		notice += "\n🖼️ The previous image analysis is included."
	}
	if err := d.reply(ctx, sess.UserID, dialogue.Reply{Text: notice}); err != nil {
		return pipeline.Result{}, err
	}

	res, err := d.deps.Runner.Run(ctx, pipeline.Input{
		Pipeline:     p.Name,
		CaseText:     text,
		OperatorName: operatorName(sess.Principal),
	})
	if err != nil {
		return res, &caseError{CaseID: res.CaseID, Err: err}
	}

	d.logger.Info("case analysed",
		zap.String("user_id", sess.UserID),
		zap.String("case_id", res.CaseID),
		zap.String("pipeline", res.Pipeline))
	return res, nil
}

func reportText(res pipeline.Result) string {
	return fmt.Sprintf("📋 CASE REPORT\nCase: %s\nDate: %s\n\n%s\n\n%s",
		res.CaseID, res.Timestamp.Format("02/01/2006 15:04"), res.FinalText, pipeline.Disclaimer)
}
