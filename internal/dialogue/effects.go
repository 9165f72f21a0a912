package dialogue

import "time"

// Effect is the side effect fired by the terminal step of a flow. The
// dispatcher executes it; the flow's captured fields have already been
// cleared from the session.
type Effect interface {
	// Kind identifies the effect in logs.
	Kind() string
	effect()
}

// Login authenticates an operator.
type Login struct {
	Email    string
	Password string
}

// Register creates an operator account.
type Register struct {
	Name     string
	CRM      string
	Email    string
	Password string
}

// NewRecord describes a patient record captured by the new-record flow.
type NewRecord struct {
	Name      string
	CPF       string
	Phone     string
	BirthDate *time.Time
	Age       *int
}

// CreateRecord persists a new record. When Analysis is set the analysis is
// saved and linked to the new record.
type CreateRecord struct {
	Record   NewRecord
	Analysis *PendingAnalysis
}

// RunPipeline submits case text to the analysis pipeline.
type RunPipeline struct {
	Pipeline string
	CaseText string
}

// Suggest requests short clinical suggestions.
type Suggest struct {
	Text string
}

// SaveAnalysis persists a finished analysis, linked to the record with the
// given identifier, or unlinked when Identifier is empty.
type SaveAnalysis struct {
	Analysis   PendingAnalysis
	Identifier string
}

// History lists the operator's most recent saved analyses.
type History struct {
	OperatorID string
}

// ShowCase re-delivers a saved analysis owned by the operator.
type ShowCase struct {
	OperatorID string
	CaseID     string
}

// PendingAnalysis is a successful pipeline result awaiting a save decision.
type PendingAnalysis struct {
	CaseID   string
	Pipeline string
	CaseText string
	Report   string
}

func (Login) Kind() string        { return "login" }
func (Register) Kind() string     { return "register" }
func (CreateRecord) Kind() string { return "create_record" }
func (RunPipeline) Kind() string  { return "run_pipeline" }
func (Suggest) Kind() string      { return "suggest" }
func (SaveAnalysis) Kind() string { return "save_analysis" }
func (History) Kind() string      { return "history" }
func (ShowCase) Kind() string     { return "show_case" }

func (Login) effect()        {}
func (Register) effect()     {}
func (CreateRecord) effect() {}
func (RunPipeline) effect()  {}
func (Suggest) effect()      {}
func (SaveAnalysis) effect() {}
func (History) effect()      {}
func (ShowCase) effect()     {}
