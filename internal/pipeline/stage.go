package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// StageID names a stage within a pipeline.
type StageID string

// Stage is an immutable, role-bound unit of work.
type Stage struct {
	ID        StageID
	Role      Role
	DependsOn []StageID
	tmpl      *template.Template
}

// PromptData is what a stage template can reference.
type PromptData struct {
	CaseText     string
	OperatorName string
	CaseID       string
	Timestamp    time.Time
}

// Date formats the run timestamp as dd/mm/yyyy.
func (d PromptData) Date() string {
	return d.Timestamp.Format("02/01/2006")
}

// StageResult is the output of one completed stage.
type StageResult struct {
	Stage      StageID
	Role       string
	Output     string
	Iterations int
	Duration   time.Duration
}

// NewStage parses promptTemplate and builds a stage.
func NewStage(id StageID, role Role, promptTemplate string, dependsOn ...StageID) (Stage, error) {
	if id == "" {
		return Stage{}, errors.New("stage id is required")
	}
	if role == nil {
		return Stage{}, fmt.Errorf("stage %s: role is required", id)
	}
	tmpl, err := template.New(string(id)).Option("missingkey=error").Parse(promptTemplate)
	if err != nil {
		return Stage{}, fmt.Errorf("stage %s: parse template: %w", id, err)
	}
	return Stage{ID: id, Role: role, DependsOn: dependsOn, tmpl: tmpl}, nil
}

// MustStage is NewStage that panics on error. It is meant for built-in catalogs.
func MustStage(id StageID, role Role, promptTemplate string, dependsOn ...StageID) Stage {
	s, err := NewStage(id, role, promptTemplate, dependsOn...)
	if err != nil {
		panic(err)
	}
	return s
}

// Prompt renders the stage prompt. Every prior result is appended in full,
// in execution order.
func (s Stage) Prompt(data PromptData, prior []StageResult) (string, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("stage %s: render prompt: %w", s.ID, err)
	}

	if len(prior) > 0 {
		b.WriteString("\n\nOUTPUT OF PREVIOUS STAGES:\n")
		for _, r := range prior {
			fmt.Fprintf(&b, "\n### %s (%s)\n%s\n", r.Stage, r.Role, r.Output)
		}
	}
	return b.String(), nil
}

// Pipeline is an ordered, acyclic list of stages.
type Pipeline struct {
	Name   string
	Stages []Stage

	// MinCaseLength overrides the runner's admission threshold when positive.
	MinCaseLength int
}

// NewPipeline validates the stage list: ids are unique and every dependency
// names an earlier stage.
func NewPipeline(name string, stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline %s: no stages", name)
	}

	seen := make(map[StageID]bool, len(stages))
	for _, s := range stages {
		if seen[s.ID] {
			return nil, fmt.Errorf("pipeline %s: duplicate stage %s", name, s.ID)
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("pipeline %s: stage %s depends on %s, which does not run before it", name, s.ID, dep)
			}
		}
		seen[s.ID] = true
	}

	return &Pipeline{Name: name, Stages: stages}, nil
}

// Roles returns the titles of the roles involved, in stage order, without
// duplicates.
func (p *Pipeline) Roles() []string {
	var titles []string
	seen := make(map[string]bool)
	for _, s := range p.Stages {
		t := ProfileOf(s.Role).Title
		if !seen[t] {
			seen[t] = true
			titles = append(titles, t)
		}
	}
	return titles
}
