package dispatcher

import (
	"context"
	"io"

	"github.com/clinicapro/cardiobot/internal/dialogue"
)

// Kind is the type of an inbound event.
type Kind string

const (
	KindText      Kind = "text"
	KindVoice     Kind = "voice"
	KindAudioFile Kind = "audio_file"
	KindImage     Kind = "image"
	KindCallback  Kind = "callback"
)

// Event is one inbound message from a channel. It is consumed once.
type Event struct {
	Kind   Kind
	UserID string
	// Text is the message text, or the button data for callbacks.
	Text string
	// Payload is the media content for voice, audio and image events.
	Payload io.Reader
	// Ext is the media file extension, e.g. ".ogg" or ".jpg".
	Ext     string
	Caption string
}

// Outbound is one message to deliver.
type Outbound struct {
	UserID  string
	Text    string
	Buttons []dialogue.Button
}

// Sender delivers messages to the channel.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Outbound) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Outbound) error {
	return f(ctx, msg)
}
