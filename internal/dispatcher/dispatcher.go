// Package dispatcher routes inbound channel events. Each event is classified
// against the sender's session: an active flow takes precedence, then a
// pending image preamble is merged into idle text, which either runs the
// analysis pipeline or gets a short conversational reply.
//
// Events for one user are processed one at a time in arrival order; events
// for different users run concurrently.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/adapters/auth"
	"github.com/clinicapro/cardiobot/internal/adapters/imaging"
	"github.com/clinicapro/cardiobot/internal/adapters/media"
	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/guard"
	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/chunk"
	"github.com/clinicapro/cardiobot/pkg/observability"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// DefaultAdapterTimeout bounds each transcription, imaging, records and auth call.
const DefaultAdapterTimeout = 90 * time.Second

// Routes, as recorded in metrics.
const (
	RouteFlow     = "flow"
	RouteCommand  = "command"
	RoutePipeline = "pipeline"
	RouteFallback = "fallback"
	RouteMedia    = "media"
	RouteStale    = "stale"
	RouteBlocked  = "blocked"
	RouteError    = "error"
)

// Runner runs analysis pipelines.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
	Admission() pipeline.Admission
	Pipeline(name string) (*pipeline.Pipeline, error)
}

// Transcriber turns a staged audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Authenticator checks and registers operators.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*session.Principal, error)
	Register(ctx context.Context, r auth.Registration) (*session.Principal, error)
}

// Records is the persistence surface the dispatcher uses.
type Records interface {
	CreatePatient(ctx context.Context, p records.Patient) (records.Patient, error)
	FindByIdentifier(ctx context.Context, cpf string) (records.Patient, error)
	SaveAnalysis(ctx context.Context, a records.Analysis) (records.Analysis, error)
	GetAnalysis(ctx context.Context, caseID string) (records.Analysis, error)
	LinkAnalysis(ctx context.Context, caseID, patientID string) error
	OperatorAnalyses(ctx context.Context, operatorID string, limit int) ([]records.Analysis, error)
}

// Fallback answers short idle messages.
type Fallback interface {
	Reply(ctx context.Context, message string, principal *session.Principal) (string, error)
}

// Screener flags text that tries to steer the model instead of describing a
// case.
type Screener interface {
	Screen(text string) guard.Result
}

// Stager holds downloaded media in scoped temporary files.
type Stager interface {
	With(ctx context.Context, kind media.Kind, ext string, r io.Reader, fn func(context.Context, media.Artifact) error) error
}

// Deps are the dispatcher's collaborators. Transcriber, Analyzer and Stager
// may be nil, in which case the matching events are declined. A nil Guard
// admits all case text. Serializer is shared with the session sweeper; nil
// gives the dispatcher its own.
type Deps struct {
	Sessions    session.Repository
	Machine     *dialogue.Machine
	Runner      Runner
	Auth        Authenticator
	Records     Records
	Fallback    Fallback
	Transcriber Transcriber
	Analyzer    imaging.Analyzer
	Stager      Stager
	Guard       Screener
	Sender      Sender
	Serializer  *session.Serializer
}

// Config tunes delivery and timeouts.
type Config struct {
	ChunkCeiling   int
	AdapterTimeout time.Duration
}

// Dispatcher classifies events and executes the resulting actions.
type Dispatcher struct {
	deps       Deps
	cfg        Config
	serializer *session.Serializer
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("dispatcher: session repository is required")
	case deps.Machine == nil:
		return nil, errors.New("dispatcher: state machine is required")
	case deps.Runner == nil:
		return nil, errors.New("dispatcher: pipeline runner is required")
	case deps.Auth == nil:
		return nil, errors.New("dispatcher: auth adapter is required")
	case deps.Records == nil:
		return nil, errors.New("dispatcher: records adapter is required")
	case deps.Fallback == nil:
		return nil, errors.New("dispatcher: fallback responder is required")
	case deps.Sender == nil:
		return nil, errors.New("dispatcher: sender is required")
	}
	if cfg.ChunkCeiling <= 0 {
		cfg.ChunkCeiling = chunk.DefaultCeiling
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ser := deps.Serializer
	if ser == nil {
		ser = session.NewSerializer()
	}
	return &Dispatcher{
		deps:       deps,
		cfg:        cfg,
		serializer: ser,
		logger:     logger,
	}, nil
}

// Dispatch processes one event. It blocks until earlier events from the same
// user have been handled. The returned error is a repository or delivery
// failure; flow and adapter failures are reported to the user instead.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return errors.New("dispatcher: event without user id")
	}
	return d.serializer.Do(ctx, ev.UserID, func(ctx context.Context) error {
		sess, err := d.deps.Sessions.Get(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		from := sess.State
		route, err := d.handle(ctx, sess, ev)
		if err != nil {
			route = RouteError
			d.fail(ctx, sess, from, err)
		}
		observability.RecordEvent(string(ev.Kind), route)

		if err := d.deps.Sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

// Pending returns the number of users with an event in flight.
func (d *Dispatcher) Pending() int {
	return d.serializer.Active()
}

func (d *Dispatcher) handle(ctx context.Context, sess *session.Session, ev Event) (string, error) {
	switch ev.Kind {
	case KindText:
		return d.handleText(ctx, sess, ev.Text)
	case KindCallback:
		if sess.IsIdle() {
			if _, _, ok := dialogue.ParseCommand(ev.Text); !ok {
				return RouteStale, d.reply(ctx, sess.UserID, dialogue.Reply{Text: textStaleButton})
			}
		}
		return d.handleText(ctx, sess, ev.Text)
	case KindVoice, KindAudioFile:
		return d.handleVoice(ctx, sess, ev)
	case KindImage:
		return RouteMedia, d.handleImage(ctx, sess, ev)
	default:
		return "", fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
}

// handleText applies the classification precedence to text input.
func (d *Dispatcher) handleText(ctx context.Context, sess *session.Session, text string) (string, error) {
	_, _, isCommand := dialogue.ParseCommand(text)

	if isCommand || !sess.IsIdle() {
		route := RouteFlow
		if isCommand {
			route = RouteCommand
		}
		return route, d.step(ctx, sess, text)
	}

	raw := text
	preamble, hasPreamble := sess.TakePreamble()
	if hasPreamble {
		text = pipeline.WithPreamble(preamble, text)
	}

	// The analysis stays pending until case text actually reaches a pipeline.
	if err := d.deps.Runner.Admission().Admit(text); err != nil {
		if hasPreamble {
			sess.SetPreamble(preamble)
		}
		return RouteFallback, d.fallback(ctx, sess, raw)
	}
	if d.blocked(sess, raw) {
		if hasPreamble {
			sess.SetPreamble(preamble)
		}
		return RouteBlocked, d.reply(ctx, sess.UserID, dialogue.Reply{Text: textCaseBlocked})
	}
	return RoutePipeline, d.analyze(ctx, sess, "", text)
}

// blocked screens operator text before it reaches a prompt.
func (d *Dispatcher) blocked(sess *session.Session, text string) bool {
	if d.deps.Guard == nil {
		return false
	}
	res := d.deps.Guard.Screen(text)
	if !res.Blocked {
		return false
	}
	d.logger.Warn("case text blocked",
		zap.String("user_id", sess.UserID),
		zap.String("category", string(res.Category)),
		zap.Strings("matched", res.Matched),
		zap.Float64("score", res.Score))
	return true
}

// step feeds input to the state machine and executes any resulting effect.
func (d *Dispatcher) step(ctx context.Context, sess *session.Session, input string) error {
	t, err := d.deps.Machine.Handle(ctx, sess, input)
	if err != nil {
		return adapterFailure(AdapterRecords, err)
	}
	if t.Invalid != nil {
		d.logger.Debug("invalid step input",
			zap.String("user_id", sess.UserID),
			zap.String("state", t.From.String()),
			zap.String("field", t.Invalid.Field),
			zap.String("reason", t.Invalid.Reason))
	}
	if t.Reply.Text != "" {
		if err := d.reply(ctx, sess.UserID, t.Reply); err != nil {
			return err
		}
	}
	if t.Effect != nil {
		return d.apply(ctx, sess, t.Effect)
	}
	return nil
}

func (d *Dispatcher) fallback(ctx context.Context, sess *session.Session, text string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
	defer cancel()

	reply, err := d.deps.Fallback.Reply(ctx, text, sess.Principal)
	observability.RecordAdapterCall(AdapterFallback, statusOf(err))
	if err != nil {
		// The responder still returns a canned reply.
		d.logger.Warn("fallback reply failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: reply})
}

// fail reports an error to the user and returns the session to Idle.
func (d *Dispatcher) fail(ctx context.Context, sess *session.Session, from session.State, err error) {
	fields := []zap.Field{
		zap.String("user_id", sess.UserID),
		zap.String("state", from.String()),
		zap.Error(err),
	}
	var ce *caseError
	if errors.As(err, &ce) {
		fields = append(fields, zap.String("case_id", ce.CaseID))
	}
	var stage *pipeline.StageFailure
	if errors.As(err, &stage) {
		fields = append(fields, zap.String("stage", string(stage.Stage)))
	}
	d.logger.Error("event handling failed", fields...)

	sess.Reset()
	if serr := d.reply(ctx, sess.UserID, dialogue.Reply{Text: userMessageFor(err)}); serr != nil {
		d.logger.Error("failed to deliver error message", zap.String("user_id", sess.UserID), zap.Error(serr))
	}
}

// adapterCtx bounds one external call.
func (d *Dispatcher) adapterCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.cfg.AdapterTimeout)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
