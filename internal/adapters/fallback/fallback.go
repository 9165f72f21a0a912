// Package fallback answers short idle messages that are not case
// descriptions with a brief conversational reply.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicapro/cardiobot/internal/completion"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// Generation parameters.
const (
	temperature = 0.7
	maxTokens   = 200
)

const operatorPrompt = `You are the assistant of the CardioBot cardiology service, talking to %s, who is logged in.
- Be friendly, professional and helpful.
- For a casual greeting, answer warmly and outline what you can do.
- For short clinical data, politely ask for more detail.
- Explain that they can send a voice note describing the consultation, a case description for a
  full cardiology analysis, an ECG or X-ray photo for integrated analysis, or use /analyze for
  guided entry.
Keep it brief: at most 4 lines.`

const guestPrompt = `You are the assistant of the CardioBot cardiology service. The user is NOT logged in yet.
- Be friendly, professional and conversational.
- If they say they already have an account, tell them to use /login.
- If they ask about features, answer normally and mention at the end that logging in is needed
  to keep records.
- Vary your answers; do not repeat the same message.
Keep it brief: at most 3 lines.`

// Static replies used when the backend fails.
const (
	cannedOperator = "Send me a case description (age, complaint, vital signs, history), a voice note or an ECG photo, or use /help."
	cannedGuest    = "Hello! Use /login or /register to get started, or /help to see what I can do."
)

// Responder produces fallback replies.
type Responder struct {
	gateway completion.Gateway
}

// New creates a Responder.
func New(gateway completion.Gateway) *Responder {
	return &Responder{gateway: gateway}
}

// Reply answers message. principal is nil for guests. When the backend fails
// a static reply is returned together with the error so the caller can log it.
func (r *Responder) Reply(ctx context.Context, message string, principal *session.Principal) (string, error) {
	system := guestPrompt
	canned := cannedGuest
	if principal != nil {
		system = fmt.Sprintf(operatorPrompt, "Dr. "+principal.Name)
		canned = cannedOperator
	}

	req := completion.UserPrompt(system, message, temperature)
	req.MaxTokens = maxTokens

	resp, err := r.gateway.Complete(ctx, req)
	if err != nil {
		return canned, err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return canned, nil
	}
	return text, nil
}
