package dispatcher

import (
	"errors"
	"fmt"

	"github.com/clinicapro/cardiobot/internal/adapters/auth"
	"github.com/clinicapro/cardiobot/internal/adapters/media"
	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/internal/adapters/transcribe"
	"github.com/clinicapro/cardiobot/internal/completion"
	"github.com/clinicapro/cardiobot/internal/pipeline"
)

// Adapter names used in errors, logs and metrics.
const (
	AdapterTranscription = "transcription"
	AdapterImaging       = "imaging"
	AdapterRecords       = "records"
	AdapterAuth          = "auth"
	AdapterMedia         = "media"
	AdapterFallback      = "fallback"
)

// AdapterFailure is an error from an external collaborator. It aborts the
// current flow.
type AdapterFailure struct {
	Adapter string
	Err     error
}

func (e *AdapterFailure) Error() string {
	return fmt.Sprintf("%s adapter: %v", e.Adapter, e.Err)
}

func (e *AdapterFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the adapter call exceeded its bound.
func (e *AdapterFailure) Timeout() bool {
	return completion.IsTimeout(e.Err)
}

func adapterFailure(adapter string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterFailure{Adapter: adapter, Err: err}
}

// userMessageFor translates a failure into a short user-facing message.
func userMessageFor(err error) string {
	var stage *pipeline.StageFailure
	if errors.As(err, &stage) {
		if stage.Timeout() {
			return "⏱️ The analysis took too long and was stopped. Please try again in a few minutes."
		}
		return "❌ The analysis could not be completed. Please try again or rephrase the case."
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "❌ Invalid e-mail or password. Use /login to try again."
	case errors.Is(err, auth.ErrDuplicate):
		return "❌ This e-mail or CRM is already registered. Use /login instead."
	case errors.Is(err, records.ErrDuplicate):
		return "❌ A patient record with this CPF already exists. Use \"link existing\" next time."
	case errors.Is(err, records.ErrNotFound):
		return "❌ Patient record not found."
	case errors.Is(err, transcribe.ErrTooShort):
		return "🎙️ The recording was too short to describe a case. Please record again with more detail."
	case errors.Is(err, media.ErrTooLarge):
		return "📦 The file is too large. Please send a smaller one."
	case errors.Is(err, pipeline.ErrCaseTooShort):
		return "✍️ The case description is too short. Add age, complaint, vital signs and history."
	}

	var af *AdapterFailure
	if errors.As(err, &af) {
		if af.Timeout() {
			return fmt.Sprintf("⏱️ The %s service did not answer in time. Please try again.", af.Adapter)
		}
		switch af.Adapter {
		case AdapterTranscription:
			return "❌ Could not transcribe the audio. Please try again or type the case."
		case AdapterImaging:
			return "❌ Could not analyse the image. Please send it again or describe it in text."
		case AdapterRecords:
			return "❌ Could not save the record. Please try again later."
		case AdapterAuth:
			return "❌ The login service is unavailable. Please try again later."
		}
	}
	return "❌ Something went wrong. Please try again."
}
