package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/adapters/imaging"
	"github.com/clinicapro/cardiobot/internal/adapters/media"
	"github.com/clinicapro/cardiobot/internal/adapters/transcribe"
	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/pkg/observability"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// handleVoice transcribes the recording and feeds the transcript back as a
// text event.
func (d *Dispatcher) handleVoice(ctx context.Context, sess *session.Session, ev Event) (string, error) {
	if d.deps.Transcriber == nil || d.deps.Stager == nil || ev.Payload == nil {
		return RouteMedia, d.reply(ctx, sess.UserID, dialogue.Reply{Text: textVoiceUnavailable})
	}

	kind := media.KindVoice
	if ev.Kind == KindAudioFile {
		kind = media.KindAudio
	}

	var transcript string
	err := d.deps.Stager.With(ctx, kind, ev.Ext, ev.Payload, func(ctx context.Context, a media.Artifact) error {
		if err := d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textVoiceReceived, a.HumanSize())}); err != nil {
			return err
		}

		tctx, cancel := d.adapterCtx(ctx)
		defer cancel()

		text, err := d.deps.Transcriber.Transcribe(tctx, a.Path)
		observability.RecordAdapterCall(AdapterTranscription, statusOf(err))
		transcript = text
		return err
	})
	// The minimum length is for case descriptions; flow steps such as an
	// e-mail or a CPF are short and get their own validation.
	if errors.Is(err, transcribe.ErrTooShort) && !sess.IsIdle() && transcript != "" {
		err = nil
	}
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return RouteMedia, adapterFailure(AdapterMedia, err)
		}
		return RouteMedia, adapterFailure(AdapterTranscription, err)
	}

	if err := d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textTranscript, transcribe.Excerpt(transcript))}); err != nil {
		return RouteMedia, err
	}
	return d.handleText(ctx, sess, transcript)
}

// handleImage analyses the image, delivers the report and keeps the analysis
// as a preamble for the next case text.
func (d *Dispatcher) handleImage(ctx context.Context, sess *session.Session, ev Event) error {
	if d.deps.Analyzer == nil || d.deps.Stager == nil || ev.Payload == nil {
		return d.reply(ctx, sess.UserID, dialogue.Reply{Text: textImageUnavailable})
	}

	subject := imaging.SubjectFromCaption(ev.Caption)

	var result *imaging.Result
	err := d.deps.Stager.With(ctx, media.KindImage, ev.Ext, ev.Payload, func(ctx context.Context, a media.Artifact) error {
		if err := d.reply(ctx, sess.UserID, dialogue.Reply{Text: fmt.Sprintf(textImageReceived, subject.Title(), a.HumanSize())}); err != nil {
			return err
		}
		data, err := a.Bytes()
		if err != nil {
			return err
		}

		actx, cancel := d.adapterCtx(ctx)
		defer cancel()

		result, err = d.deps.Analyzer.Analyze(actx, imaging.Request{
			Image:   data,
			Subject: subject,
			Context: ev.Caption,
		})
		observability.RecordAdapterCall(AdapterImaging, statusOf(err))
		return err
	})
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return adapterFailure(AdapterMedia, err)
		}
		return adapterFailure(AdapterImaging, err)
	}

	d.logger.Info("image analysed",
		zap.String("user_id", sess.UserID),
		zap.String("subject", string(subject)),
		zap.Int("tokens", result.TokensUsed))

	report := fmt.Sprintf("📊 %s ANALYSIS\n\n%s", subject.Title(), result.Text)
	if err := d.deliver(ctx, sess.UserID, report); err != nil {
		return err
	}

	sess.SetPreamble(result.Text)

	if !sess.IsIdle() {
		prompt := d.deps.Machine.Prompt(sess.State)
		prompt.Text = textImageKept + "\n\n" + prompt.Text
		return d.reply(ctx, sess.UserID, prompt)
	}
	return d.reply(ctx, sess.UserID, dialogue.Reply{Text: textImageIntegrate})
}
