// Package transcribe turns voice notes into text with OpenAI Whisper.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/clinicapro/cardiobot/internal/completion"
)

// Defaults.
const (
	DefaultModel     = openai.Whisper1
	DefaultLanguage  = "pt"
	DefaultMinLength = 20
	excerptLength    = 200
)

// ErrTooShort means the transcript is too short to describe a case; the user
// should record again.
var ErrTooShort = errors.New("transcript too short")

// AudioClient is the subset of *openai.Client used here.
type AudioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Whisper transcribes audio files.
type Whisper struct {
	client    AudioClient
	model     string
	language  string
	minLength int
}

// Option configures Whisper.
type Option func(*Whisper)

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(w *Whisper) {
		if model != "" {
			w.model = model
		}
	}
}

// WithLanguage sets the language hint (ISO-639-1).
func WithLanguage(lang string) Option {
	return func(w *Whisper) {
		if lang != "" {
			w.language = lang
		}
	}
}

// WithMinLength sets the shortest accepted transcript in characters.
func WithMinLength(n int) Option {
	return func(w *Whisper) {
		if n > 0 {
			w.minLength = n
		}
	}
}

// New creates a Whisper transcriber for the given API key.
func New(apiKey, baseURL string, opts ...Option) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewWithClient(openai.NewClientWithConfig(cfg), opts...)
}

// NewWithClient creates a Whisper transcriber over an existing client.
func NewWithClient(client AudioClient, opts ...Option) *Whisper {
	w := &Whisper{
		client:    client,
		model:     DefaultModel,
		language:  DefaultLanguage,
		minLength: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Transcribe reads the audio file at path and returns its transcript.
// Errors are *completion.Error for backend failures or ErrTooShort.
func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", completion.WrapOpenAIError("whisper", err)
	}

	text := strings.TrimSpace(resp.Text)
	if utf8.RuneCountInString(text) < w.minLength {
		return text, fmt.Errorf("%w: %d characters, minimum %d", ErrTooShort, utf8.RuneCountInString(text), w.minLength)
	}
	return text, nil
}

// Excerpt returns the first 200 characters of a transcript, with an ellipsis
// when it was cut.
func Excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptLength]) + "..."
}
