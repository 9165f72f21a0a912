package dialogue

import "github.com/clinicapro/cardiobot/pkg/session"

// Dialogue states. A session is in exactly one of them, or session.Idle.
const (
	AwaitingLoginEmail    session.State = "awaiting_login_email"
	AwaitingLoginPassword session.State = "awaiting_login_password"

	AwaitingRegisterName     session.State = "awaiting_register_name"
	AwaitingRegisterID       session.State = "awaiting_register_id"
	AwaitingRegisterEmail    session.State = "awaiting_register_email"
	AwaitingRegisterPassword session.State = "awaiting_register_password"

	AwaitingNewRecordName       session.State = "awaiting_new_record_name"
	AwaitingNewRecordID         session.State = "awaiting_new_record_id"
	AwaitingNewRecordPhone      session.State = "awaiting_new_record_phone"
	AwaitingNewRecordBirthOrAge session.State = "awaiting_new_record_birth_or_age"

	AwaitingCaseText       session.State = "awaiting_case_text"
	AwaitingSuggestionText session.State = "awaiting_suggestion_text"

	AwaitingSaveDecision   session.State = "awaiting_save_decision"
	AwaitingLinkChoice     session.State = "awaiting_link_choice"
	AwaitingLinkIdentifier session.State = "awaiting_link_identifier"
)

// States lists every non-idle state.
var States = []session.State{
	AwaitingLoginEmail, AwaitingLoginPassword,
	AwaitingRegisterName, AwaitingRegisterID, AwaitingRegisterEmail, AwaitingRegisterPassword,
	AwaitingNewRecordName, AwaitingNewRecordID, AwaitingNewRecordPhone, AwaitingNewRecordBirthOrAge,
	AwaitingCaseText, AwaitingSuggestionText,
	AwaitingSaveDecision, AwaitingLinkChoice, AwaitingLinkIdentifier,
}

// Captured field keys.
const (
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldName      = "name"
	FieldCRM       = "crm"
	FieldCPF       = "cpf"
	FieldPhone     = "phone"
	FieldBirth     = "birth_or_age"
	FieldCaseText  = "case_text"
	FieldPipeline  = "pipeline"
	FieldRecordRef = "record_identifier"

	fieldAnalysisCaseID   = "analysis.case_id"
	fieldAnalysisPipeline = "analysis.pipeline"
	fieldAnalysisCaseText = "analysis.case_text"
	fieldAnalysisReport   = "analysis.report"
)
