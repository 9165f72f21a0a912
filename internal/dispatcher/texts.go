package dispatcher

const (
	textLoggedIn       = "✅ Welcome, Dr. %s! Send a case description, a voice note or an ECG photo."
	textRegistered     = "✅ Account created. Welcome, Dr. %s! You are now logged in."
	textRecordCreated  = "🗂️ Patient record created: %s (CPF %s)."
	textAnalysisSaved  = "💾 Analysis %s saved without a patient record."
	textAnalysisLinked = "🔗 Analysis %s saved and linked to the patient record."
	textPatientLine    = "Patient: %s"
	textStaleButton    = "⌛ This option has expired. Use /help to see what you can do."
	textCaseBlocked    = "🛡️ This message reads like instructions for the assistant rather than a clinical case, " +
		"so it was not analysed. Please describe the patient's case."

	textVoiceReceived    = "🎙️ Audio received (%s). Transcribing..."
	textTranscript       = "📝 Transcript:\n\n%s"
	textVoiceUnavailable = "🎙️ Voice messages are not available right now. Please type the case."

	textImageReceived    = "📸 %s received (%s). Analysing the image..."
	textImageUnavailable = "📸 Image analysis is not available right now. Please describe the findings in text."
	textImageIntegrate   = "🤖 Want a full specialist analysis? Send the patient's symptoms, vital signs and history; " +
		"the image analysis above will be integrated automatically."
	textNoHistory     = "🗂️ You have no saved analyses yet."
	textHistoryHeader = "🗂️ Your latest analyses:\n"
	textHistoryFooter = "Send /case <id> to see a full report."
	textCaseNotFound  = "No saved analysis with case id %s was found."

	textImageKept = "🖼️ The image analysis will be included in your next case description."
)
