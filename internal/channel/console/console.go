// Package console is an interactive operator channel for a terminal. Lines
// typed at the prompt become dispatcher events and replies are printed with
// their buttons numbered, so a button is pressed by typing its number.
//
// Media is attached with colon commands:
//
//	:voice <path>             a voice note
//	:audio <path>             an audio file
//	:image <path> [caption]   an ECG, X-ray or echo image
//	:quit                     leave the console
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/dialogue"
	"github.com/clinicapro/cardiobot/internal/dispatcher"
)

// DefaultUserID identifies the console operator's session.
const DefaultUserID = "console"

const prompt = "cardiobot> "

// ErrQuit is returned by Event for the quit command.
var ErrQuit = errors.New("console: quit")

// Dispatcher consumes events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatcher.Event) error
}

// LineReader reads edited lines. *liner.State implements it.
type LineReader interface {
	Prompt(p string) (string, error)
	AppendHistory(item string)
	Close() error
}

// Console renders outbound messages and turns input lines into events.
type Console struct {
	userID string
	out    io.Writer
	logger *zap.Logger

	mu      sync.Mutex
	buttons []dialogue.Button
}

// New creates a console writing to out.
func New(userID string, out io.Writer, logger *zap.Logger) *Console {
	if userID == "" {
		userID = DefaultUserID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{userID: userID, out: out, logger: logger}
}

// UserID returns the session key of the console operator.
func (c *Console) UserID() string {
	return c.userID
}

// Send implements dispatcher.Sender. Buttons of the latest message replace
// any offered earlier.
func (c *Console) Send(_ context.Context, msg dispatcher.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.out, "\n%s\n", msg.Text); err != nil {
		return err
	}
	if len(msg.Buttons) == 0 {
		return nil
	}
	c.buttons = msg.Buttons
	for i, b := range msg.Buttons {
		if _, err := fmt.Fprintf(c.out, "  [%d] %s\n", i+1, b.Label); err != nil {
			return err
		}
	}
	return nil
}

// Event converts one input line. The returned closer, when not nil, releases
// the media payload and must be closed after dispatch. A blank line yields a
// zero Event with an empty Kind.
func (c *Console) Event(line string) (dispatcher.Event, io.Closer, error) {
	line = strings.TrimSpace(line)
	ev := dispatcher.Event{UserID: c.userID}
	if line == "" {
		return dispatcher.Event{}, nil, nil
	}

	if !strings.HasPrefix(line, ":") {
		if data, ok := c.press(line); ok {
			ev.Kind = dispatcher.KindCallback
			ev.Text = data
			return ev, nil, nil
		}
		ev.Kind = dispatcher.KindText
		ev.Text = line
		return ev, nil, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "q", "quit", "exit":
		return dispatcher.Event{}, nil, ErrQuit
	case "voice":
		ev.Kind = dispatcher.KindVoice
	case "audio":
		ev.Kind = dispatcher.KindAudioFile
	case "image":
		ev.Kind = dispatcher.KindImage
	default:
		return dispatcher.Event{}, nil, fmt.Errorf("unknown console command %q", name)
	}

	path, caption, _ := strings.Cut(rest, " ")
	if path == "" {
		return dispatcher.Event{}, nil, fmt.Errorf(":%s needs a file path", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return dispatcher.Event{}, nil, fmt.Errorf("open media: %w", err)
	}
	ev.Payload = f
	ev.Ext = filepath.Ext(path)
	if ev.Kind == dispatcher.KindImage {
		ev.Caption = strings.TrimSpace(caption)
	}
	return ev, f, nil
}

// press maps a typed number to the data of the offered button.
func (c *Console) press(line string) (string, bool) {
	n, err := strconv.Atoi(line)
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.buttons) {
		return "", false
	}
	data := c.buttons[n-1].Data
	c.buttons = nil
	return data, true
}

// Run reads lines until EOF, Ctrl-C, :quit or ctx is cancelled.
func (c *Console) Run(ctx context.Context, d Dispatcher) error {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	l.SetCompleter(complete)
	return c.Serve(ctx, l, d)
}

// Serve is Run over an arbitrary line reader. It closes r when done.
func (c *Console) Serve(ctx context.Context, r LineReader, d Dispatcher) error {
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := r.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}

		ev, closer, err := c.Event(line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
			continue
		}
		if ev.Kind == "" {
			continue
		}
		r.AppendHistory(line)

		err = d.Dispatch(ctx, ev)
		if closer != nil {
			closer.Close()
		}
		if err != nil {
			c.logger.Error("dispatch failed", zap.String("user_id", c.userID), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return nil
			}
		}
	}
}

var completions = []string{
	"/" + dialogue.CmdStart,
	"/" + dialogue.CmdHelp,
	"/" + dialogue.CmdAbout,
	"/" + dialogue.CmdCancel,
	"/" + dialogue.CmdLogin,
	"/" + dialogue.CmdRegister,
	"/" + dialogue.CmdLogout,
	"/" + dialogue.CmdNewRecord,
	"/" + dialogue.CmdAnalyze,
	"/" + dialogue.CmdSuggest,
	"/" + dialogue.CmdHistory,
	"/" + dialogue.CmdCase + " ",
	":voice ",
	":audio ",
	":image ",
	":quit",
}

func complete(line string) []string {
	var out []string
	for _, c := range completions {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}
