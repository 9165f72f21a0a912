// Package pipeline runs a case through an ordered chain of role-bound
// reasoning stages. Each stage sees the full output of every stage before it;
// any stage failure aborts the run without surfacing partial output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/completion"
	"github.com/clinicapro/cardiobot/internal/observability"
	metrics "github.com/clinicapro/cardiobot/pkg/observability"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DefaultCallTimeout bounds one backend call.
const DefaultCallTimeout = 120 * time.Second

// ErrIterationCap is wrapped by a StageFailure when a role keeps asking to
// continue past its iteration ceiling.
var ErrIterationCap = errors.New("iteration ceiling exceeded")

// ErrEmptyOutput is wrapped by a StageFailure when a stage produced no text.
var ErrEmptyOutput = errors.New("stage produced no output")

// ErrContentFiltered is wrapped by a StageFailure when the backend withheld output.
var ErrContentFiltered = errors.New("output withheld by content filter")

const continuePrompt = "Continue exactly where you stopped. Do not repeat earlier text."

// StageFailure reports the stage that aborted a run.
type StageFailure struct {
	Stage StageID
	Index int
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Index+1, e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the stage failed because a deadline was breached.
func (e *StageFailure) Timeout() bool {
	return completion.IsTimeout(e.Err)
}

// Input is one case submitted for analysis.
type Input struct {
	// Pipeline names the catalog entry; empty selects the runner default.
	Pipeline     string
	CaseText     string
	OperatorName string
	// CaseID is generated when empty.
	CaseID string
}

// Result is the outcome of a run. FinalText is set only on success.
type Result struct {
	Status       string    `json:"status"`
	FinalText    string    `json:"final_text,omitempty"`
	CaseID       string    `json:"case_id"`
	OperatorName string    `json:"operator_name"`
	Timestamp    time.Time `json:"timestamp"`
	Pipeline     string    `json:"pipeline"`
	FailedStage  StageID   `json:"failed_stage,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// run is the transient state of one invocation.
type run struct {
	data    PromptData
	results []StageResult
}

// Config configures a Runner.
type Config struct {
	Catalog         Catalog
	DefaultPipeline string
	Admission       Admission
	Budget          *Budget
	CallTimeout     time.Duration
}

// Runner executes pipelines against a completion gateway. It is safe for
// concurrent use; the budget is shared by all runs.
type Runner struct {
	gateway completion.Gateway
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunner creates a runner, filling unset config with defaults.
func NewRunner(gateway completion.Gateway, config Config, logger *zap.Logger) *Runner {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	if config.DefaultPipeline == "" {
		config.DefaultPipeline = CardioPipeline
	}
	if config.Admission == (Admission{}) {
		config.Admission = DefaultAdmission()
	}
	if config.Budget == nil {
		config.Budget = NewBudget(30, time.Minute, 1)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		gateway: gateway,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Admission returns the runner's admission thresholds.
func (r *Runner) Admission() Admission {
	return r.config.Admission
}

// Pipeline resolves a pipeline name, empty meaning the default.
func (r *Runner) Pipeline(name string) (*Pipeline, error) {
	if name == "" {
		name = r.config.DefaultPipeline
	}
	return r.config.Catalog.Lookup(name)
}

// Run executes every stage of the selected pipeline in order.
//
// The returned error is ErrCaseTooShort (wrapped), an unknown pipeline error,
// or a *StageFailure. On failure the Result carries no stage output.
func (r *Runner) Run(ctx context.Context, in Input) (Result, error) {
	p, err := r.Pipeline(in.Pipeline)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}, err
	}

	threshold := r.config.Admission.Threshold(in.CaseText)
	if p.MinCaseLength > 0 {
		threshold = p.MinCaseLength
	}
	if err := r.config.Admission.admit(in.CaseText, threshold); err != nil {
		return Result{Status: StatusError, Pipeline: p.Name, Error: err.Error()}, err
	}

	if in.CaseID == "" {
		in.CaseID = uuid.NewString()
	}
	rn := &run{data: PromptData{
		CaseText:     in.CaseText,
		OperatorName: in.OperatorName,
		CaseID:       in.CaseID,
		Timestamp:    r.now(),
	}}

	res := Result{
		CaseID:       in.CaseID,
		OperatorName: in.OperatorName,
		Timestamp:    rn.data.Timestamp,
		Pipeline:     p.Name,
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	span.SetAttributes(
		attribute.String("pipeline", p.Name),
		attribute.String("case_id", in.CaseID),
		attribute.Int("stages", len(p.Stages)),
	)
	defer span.End()

	log := r.logger.With(zap.String("pipeline", p.Name), zap.String("case_id", in.CaseID))
	log.Info("pipeline run started", zap.Int("stages", len(p.Stages)))
	start := time.Now()

	for i, stage := range p.Stages {
		sr, err := r.runStage(ctx, stage, rn)
		if err != nil {
			failure := &StageFailure{Stage: stage.ID, Index: i, Err: err}
			span.RecordError(failure)
			span.SetStatus(codes.Error, failure.Error())
			log.Error("pipeline run failed", zap.String("stage", string(stage.ID)), zap.Error(err))
			metrics.RecordPipelineRun(StatusError)

			res.Status = StatusError
			res.FailedStage = stage.ID
			res.Error = failure.Error()
			return res, failure
		}
		rn.results = append(rn.results, sr)
	}

	res.Status = StatusSuccess
	res.FinalText = rn.results[len(rn.results)-1].Output
	metrics.RecordPipelineRun(StatusSuccess)
	log.Info("pipeline run finished", zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, rn *run) (StageResult, error) {
	profile := ProfileOf(stage.Role)

	ctx, span := observability.StartSpan(ctx, "pipeline.stage")
	span.SetAttributes(
		attribute.String("stage", string(stage.ID)),
		attribute.String("role", stage.Role.Name()),
	)
	defer span.End()

	prompt, err := stage.Prompt(rn.data, rn.results)
	if err != nil {
		return StageResult{}, err
	}

	start := time.Now()
	defer func() { metrics.RecordStage(string(stage.ID), time.Since(start)) }()

	req := completion.UserPrompt(profile.Persona, prompt, profile.Temperature)
	var out strings.Builder

	for iter := 1; ; iter++ {
		if iter > profile.IterationCap {
			return StageResult{}, fmt.Errorf("%w (%d)", ErrIterationCap, profile.IterationCap)
		}

		resp, err := r.call(ctx, req)
		if err != nil {
			return StageResult{}, err
		}
		out.WriteString(resp.Content)

		switch resp.FinishReason {
		case completion.FinishFiltered:
			return StageResult{}, ErrContentFiltered
		case completion.FinishLength:
			req.Messages = append(req.Messages,
				completion.Message{Role: completion.RoleAssistant, Content: resp.Content},
				completion.Message{Role: completion.RoleUser, Content: continuePrompt},
			)
			continue
		}

		if strings.TrimSpace(out.String()) == "" {
			return StageResult{}, ErrEmptyOutput
		}

		span.SetAttributes(attribute.Int("iterations", iter))
		return StageResult{
			Stage:      stage.ID,
			Role:       profile.Title,
			Output:     out.String(),
			Iterations: iter,
			Duration:   time.Since(start),
		}, nil
	}
}

// call waits for budget and performs one bounded backend call.
func (r *Runner) call(ctx context.Context, req completion.Request) (*completion.Response, error) {
	if err := r.config.Budget.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	return r.gateway.Complete(callCtx, req)
}
