package console

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/dispatcher"
)

type scriptedLines struct {
	lines   []string
	history []string
	closed  bool
}

func (s *scriptedLines) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedLines) AppendHistory(item string) { s.history = append(s.history, item) }

func (s *scriptedLines) Close() error {
	s.closed = true
	return nil
}

type recordingDispatcher struct {
	events   []dispatcher.Event
	payloads []string
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev dispatcher.Event) error {
	r.events = append(r.events, ev)
	if ev.Payload != nil {
		data, err := io.ReadAll(ev.Payload)
		if err != nil {
			return err
		}
		r.payloads = append(r.payloads, string(data))
	}
	return nil
}

func TestSendNumbersButtons(t *testing.T) {
	var out bytes.Buffer
	c := New("", &out, nil)

	err := c.Send(context.Background(), dispatcher.Outbound{
		Text: "💾 Do you want to save this analysis?",
		Buttons: []dialogue.Button{
			{Label: "Save", Data: dialogue.DataSave},
			{Label: "Discard", Data: dialogue.DataDiscard},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[1] Save")
	assert.Contains(t, out.String(), "[2] Discard")
	assert.Equal(t, DefaultUserID, c.UserID())

	ev, closer, err := c.Event("2")
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, dispatcher.KindCallback, ev.Kind)
	assert.Equal(t, dialogue.DataDiscard, ev.Text)

	// Buttons are consumed by the press.
	ev, _, err = c.Event("2")
	require.NoError(t, err)
	assert.Equal(t, dispatcher.KindText, ev.Kind)
	assert.Equal(t, "2", ev.Text)
}

func TestEvent(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "ecg.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0o600))

	c := New("op", io.Discard, nil)

	t.Run("text", func(t *testing.T) {
		ev, _, err := c.Event("  Patient, 58, chest pain  ")
		require.NoError(t, err)
		assert.Equal(t, dispatcher.Event{Kind: dispatcher.KindText, UserID: "op", Text: "Patient, 58, chest pain"}, ev)
	})

	t.Run("blank", func(t *testing.T) {
		ev, _, err := c.Event("   ")
		require.NoError(t, err)
		assert.Empty(t, ev.Kind)
	})

	t.Run("image with caption", func(t *testing.T) {
		ev, closer, err := c.Event(":image " + img + " rx tórax")
		require.NoError(t, err)
		require.NotNil(t, closer)
		defer closer.Close()
		assert.Equal(t, dispatcher.KindImage, ev.Kind)
		assert.Equal(t, ".jpg", ev.Ext)
		assert.Equal(t, "rx tórax", ev.Caption)
	})

	t.Run("voice", func(t *testing.T) {
		ev, closer, err := c.Event(":voice " + img)
		require.NoError(t, err)
		defer closer.Close()
		assert.Equal(t, dispatcher.KindVoice, ev.Kind)
		assert.Empty(t, ev.Caption)
	})

	t.Run("errors", func(t *testing.T) {
		_, _, err := c.Event(":quit")
		assert.ErrorIs(t, err, ErrQuit)

		_, _, err = c.Event(":voice")
		assert.Error(t, err)

		_, _, err = c.Event(":voice " + filepath.Join(dir, "missing.ogg"))
		assert.Error(t, err)

		_, _, err = c.Event(":video x.mp4")
		assert.Error(t, err)
	})
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	note := filepath.Join(dir, "note.ogg")
	require.NoError(t, os.WriteFile(note, []byte("OggS"), 0o600))

	var out bytes.Buffer
	c := New("", &out, nil)
	lines := &scriptedLines{lines: []string{"/help", "", ":bogus", ":voice " + note, ":quit", "never read"}}
	d := &recordingDispatcher{}

	require.NoError(t, c.Serve(context.Background(), lines, d))

	require.Len(t, d.events, 2)
	assert.Equal(t, "/help", d.events[0].Text)
	assert.Equal(t, dispatcher.KindVoice, d.events[1].Kind)
	assert.Equal(t, []string{"OggS"}, d.payloads)
	assert.Equal(t, []string{"/help", ":voice " + note}, lines.history)
	assert.Equal(t, []string{"never read"}, lines.lines)
	assert.True(t, lines.closed)
	assert.Contains(t, out.String(), "unknown console command")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lines := &scriptedLines{lines: []string{"hello"}}
	d := &recordingDispatcher{}
	require.NoError(t, New("", io.Discard, nil).Serve(ctx, lines, d))
	assert.Empty(t, d.events)
}

func TestComplete(t *testing.T) {
	assert.Equal(t, []string{"/login", "/logout"}, complete("/lo"))
	assert.Equal(t, []string{":image "}, complete(":im"))
	assert.Equal(t, []string{"/cancel", "/case "}, complete("/ca"))
	assert.Empty(t, complete("xyz"))
}
