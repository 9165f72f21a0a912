package dialogue

import (
	"fmt"
	"slices"
	"strings"

	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// Commands.
const (
	CmdStart     = "start"
	CmdHelp      = "help"
	CmdAbout     = "about"
	CmdCancel    = "cancel"
	CmdLogin     = "login"
	CmdRegister  = "register"
	CmdLogout    = "logout"
	CmdNewRecord = "newrecord"
	CmdAnalyze   = "analyze"
	CmdSuggest   = "suggest"
	CmdHistory   = "history"
	CmdCase      = "case"
)

// flowCommands start a flow or fire an effect and are refused while another
// flow is active.
var flowCommands = map[string]bool{
	CmdLogin:     true,
	CmdRegister:  true,
	CmdNewRecord: true,
	CmdAnalyze:   true,
	CmdSuggest:   true,
	CmdHistory:   true,
	CmdCase:      true,
}

// ParseCommand splits "/name@bot args" into its lower-case name and the
// trimmed argument text.
func ParseCommand(input string) (name, args string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(input[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (m *Machine) command(sess *session.Session, cmd, args string) Transition {
	from := sess.State
	t := Transition{From: from, To: from, Outcome: OutcomeCommand}

	if flowCommands[cmd] && !sess.IsIdle() {
		t.Reply = joinReplies(textFlowActive, m.Prompt(from))
		t.Outcome = OutcomeRejected
		return t
	}

	switch cmd {
	case CmdCancel:
		if sess.IsIdle() {
			t.Reply = Reply{Text: textNothingToCancel}
			return t
		}
		sess.Reset()
		t.Reply = Reply{Text: textCancelled}
		t.Outcome = OutcomeCancelled

	case CmdHelp, CmdAbout:
		text := textHelp
		if cmd == CmdAbout {
			text = textAbout
		}
		t.Reply = Reply{Text: text}
		if !sess.IsIdle() {
			t.Reply = joinReplies(text, m.Prompt(from))
		}

	case CmdStart:
		if !sess.IsIdle() {
			t.Reply = joinReplies(textFlowActive, m.Prompt(from))
			t.Outcome = OutcomeRejected
			return t
		}
		t.Reply = greeting(sess.Principal)

	case CmdLogout:
		if sess.Principal == nil {
			t.Reply = Reply{Text: textNotLoggedIn}
			return t
		}
		sess.Principal = nil
		sess.PendingPreamble = nil
		sess.Reset()
		t.Reply = Reply{Text: textLoggedOut}

	case CmdLogin, CmdRegister:
		if sess.Principal != nil {
			t.Reply = Reply{Text: fmt.Sprintf(textAlreadyLoggedIn, sess.Principal.Name)}
			t.Outcome = OutcomeRejected
			return t
		}
		state := AwaitingLoginEmail
		if cmd == CmdRegister {
			state = AwaitingRegisterName
		}
		t = m.start(sess, state)

	case CmdNewRecord:
		if sess.Principal == nil {
			t.Reply = Reply{Text: textLoginRequired}
			t.Outcome = OutcomeRejected
			return t
		}
		t = m.start(sess, AwaitingNewRecordName)

	case CmdAnalyze:
		name := strings.ToLower(args)
		if name == "" {
			name = pipeline.CardioPipeline
		}
		if !slices.Contains(m.cfg.Pipelines, name) {
			t.Reply = Reply{Text: fmt.Sprintf(textUnknownPipeline, name, strings.Join(m.cfg.Pipelines, ", "))}
			t.Outcome = OutcomeRejected
			return t
		}
		t = m.start(sess, AwaitingCaseText)
		sess.SetField(FieldPipeline, name)

	case CmdSuggest:
		t = m.start(sess, AwaitingSuggestionText)

	case CmdHistory, CmdCase:
		if sess.Principal == nil {
			t.Reply = Reply{Text: textLoginRequired}
			t.Outcome = OutcomeRejected
			return t
		}
		if cmd == CmdHistory {
			t.Effect = History{OperatorID: sess.Principal.ID}
			break
		}
		if args == "" {
			t.Reply = Reply{Text: textCaseUsage}
			t.Outcome = OutcomeRejected
			return t
		}
		t.Effect = ShowCase{OperatorID: sess.Principal.ID, CaseID: args}

	default:
		t.Reply = Reply{Text: textUnknownCommand}
		if !sess.IsIdle() {
			t.Reply = joinReplies(textUnknownCommand, m.Prompt(from))
		}
	}

	t.To = sess.State
	return t
}

func (m *Machine) start(sess *session.Session, state session.State) Transition {
	from := sess.State
	sess.Reset()
	sess.Enter(state)
	return Transition{
		From:    from,
		To:      state,
		Reply:   m.Prompt(state),
		Outcome: OutcomeAdvanced,
	}
}
