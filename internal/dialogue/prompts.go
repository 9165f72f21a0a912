package dialogue

import (
	"fmt"

	"github.com/clinicapro/cardiobot/pkg/session"
)

// Button is an inline choice. Pressing it sends Data as the next input.
type Button struct {
	Label string
	Data  string
}

// Reply is what the channel shows the user.
type Reply struct {
	Text    string
	Buttons []Button
}

// Button data.
const (
	DataLogin    = "/login"
	DataRegister = "/register"
	DataSave     = "save"
	DataDiscard  = "discard"
	DataNew      = "new"
	DataLink     = "link"
	DataUnlinked = "unlinked"
)

var prompts = map[session.State]Reply{
	AwaitingLoginEmail:    {Text: "🔐 Login\n\nEnter your e-mail:"},
	AwaitingLoginPassword: {Text: "🔑 Enter your password:"},

	AwaitingRegisterName:     {Text: "📝 Registration\n\nEnter your full name:"},
	AwaitingRegisterID:       {Text: "🩺 Enter your CRM (e.g. 123456/SP):"},
	AwaitingRegisterEmail:    {Text: "📧 Enter your e-mail:"},
	AwaitingRegisterPassword: {Text: "🔑 Choose a password (at least %d characters):"},

	AwaitingNewRecordName:       {Text: "🗂️ New patient record\n\nEnter the patient's full name:"},
	AwaitingNewRecordID:         {Text: "🪪 Enter the patient's CPF (11 digits):"},
	AwaitingNewRecordPhone:      {Text: "📞 Enter the patient's phone with area code:"},
	AwaitingNewRecordBirthOrAge: {Text: "🎂 Enter the birth date (dd/mm/yyyy) or the age in years:"},

	AwaitingCaseText: {Text: "🫀 Describe the case: age, sex, main complaint, onset, vital signs, " +
		"comorbidities and findings (at least %d characters)."},
	AwaitingSuggestionText: {Text: "💡 Describe the case you want suggestions for (at least %d characters)."},

	AwaitingSaveDecision: {
		Text: "💾 Do you want to save this analysis?",
		Buttons: []Button{
			{Label: "💾 Save", Data: DataSave},
			{Label: "🗑️ Discard", Data: DataDiscard},
		},
	},
	AwaitingLinkChoice: {
		Text: "🔗 How should the analysis be stored?",
		Buttons: []Button{
			{Label: "🆕 New patient record", Data: DataNew},
			{Label: "🔎 Link to existing record", Data: DataLink},
			{Label: "📄 Save without record", Data: DataUnlinked},
		},
	},
	AwaitingLinkIdentifier: {Text: "🔎 Enter the CPF of the existing patient record:"},
}

// Informational texts.
const (
	textHelp = `📖 Commands

/start - greeting
/login - log in
/register - create an account
/logout - log out
/analyze [pipeline] - guided case analysis
/suggest - quick clinical suggestions
/newrecord - create a patient record
/history - your latest saved analyses
/case <id> - show a saved analysis
/cancel - abandon the current step
/help - this message
/about - about the assistant

You can also send:
• a case description (analysed directly)
• a voice message describing the consultation
• a photo of an ECG, X-ray or echocardiogram (add "xray" or "echo" to the caption)`

	textAbout = `🫀 CardioBot

A multi-specialist cardiology decision-support assistant. Cases pass through a chain of specialist
roles and a coordinator who writes a structured SOAP report.

` + "It is a support tool: every suggestion must be validated by the attending physician."

	textGreetingGuest    = "👋 Hello! I am CardioBot, a cardiology decision-support assistant.\n\nLog in or create an account to get started."
	textGreetingOperator = "👋 Hello, Dr. %s! Send a case description, a voice message or an ECG photo."

	textCancelled       = "❌ Cancelled."
	textNothingToCancel = "Nothing to cancel."
	textLoggedOut       = "👋 You have been logged out."
	textNotLoggedIn     = "You are not logged in."
	textAlreadyLoggedIn = "You are already logged in as Dr. %s. Use /logout first."
	textLoginRequired   = "🔐 You need to log in first. Use /login."
	textLoginToLink     = "🔐 Log in to attach analyses to patient records, or save without a record."
	textFlowActive      = "⚠️ Finish the current step or send /cancel first."
	textDiscarded       = "🗑️ Analysis discarded."
	textUnknownCommand  = "Unknown command. Use /help to see what I can do."
	textRecordNotFound  = "No patient record with that CPF was found."
	textUnknownPipeline = "Unknown analysis type %q. Available: %s."
	textCaseUsage       = "Send the case id after the command, e.g. /case 3f2a9c1e."
)

// Prompt returns the reply that asks for the input state expects.
func (m *Machine) Prompt(state session.State) Reply {
	p, ok := prompts[state]
	if !ok {
		return Reply{}
	}
	switch state {
	case AwaitingRegisterPassword:
		p.Text = fmt.Sprintf(p.Text, m.cfg.MinPasswordLength)
	case AwaitingCaseText:
		p.Text = fmt.Sprintf(p.Text, m.cfg.Admission.MinLength)
	case AwaitingSuggestionText:
		p.Text = fmt.Sprintf(p.Text, m.cfg.MinSuggestionLength)
	}
	return p
}

func joinReplies(first string, r Reply) Reply {
	if r.Text == "" {
		return Reply{Text: first}
	}
	return Reply{Text: first + "\n\n" + r.Text, Buttons: r.Buttons}
}

func greeting(p *session.Principal) Reply {
	if p == nil {
		return Reply{
			Text: textGreetingGuest,
			Buttons: []Button{
				{Label: "🔐 Log in", Data: DataLogin},
				{Label: "📝 Register", Data: DataRegister},
			},
		}
	}
	return Reply{Text: fmt.Sprintf(textGreetingOperator, p.Name)}
}
