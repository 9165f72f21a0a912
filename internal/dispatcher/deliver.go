package dispatcher

import (
	"context"
	"fmt"

	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/pkg/chunk"
)

// reply sends a short message, chunked if it happens to be long. Buttons are
// attached to the last chunk.
func (d *Dispatcher) reply(ctx context.Context, userID string, r dialogue.Reply) error {
	return d.send(ctx, userID, r.Text, r.Buttons)
}

// deliver sends long output as numbered chunks.
func (d *Dispatcher) deliver(ctx context.Context, userID, text string) error {
	return d.send(ctx, userID, text, nil)
}

func (d *Dispatcher) send(ctx context.Context, userID, text string, buttons []dialogue.Button) error {
	if text == "" {
		return nil
	}
	seq, err := chunk.Split(text, d.cfg.ChunkCeiling)
	if err != nil {
		return fmt.Errorf("split output: %w", err)
	}
	for c := range seq {
		msg := Outbound{UserID: userID, Text: c.Text()}
		if c.Index == c.Total {
			msg.Buttons = buttons
		}
		if err := d.deps.Sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", c.Index, c.Total, err)
		}
	}
	return nil
}
