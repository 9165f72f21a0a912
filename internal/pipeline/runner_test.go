package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/completion"
)

const chestPain = "Patient, 58, chest pain 2h, BP 160/100, diabetic"

func newTestRunner(gw completion.Gateway, cfg Config) *Runner {
	if cfg.Budget == nil {
		cfg.Budget = NewBudget(0, 0, 0)
	}
	r := NewRunner(gw, cfg, zap.NewNop())
	r.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return r
}

func TestRunner_ThreadsPriorOutput(t *testing.T) {
	stage1 := "DIFFERENTIALS: 1. NSTEMI 2. Hypertensive emergency 3. Aortic dissection"
	gw := completion.NewScripted().
		AddResponse(stage1).
		AddResponse("# 📋 CARDIOLOGY CASE REPORT\nSOAP body")

	r := newTestRunner(gw, Config{})
	res, err := r.Run(context.Background(), Input{CaseText: chestPain, OperatorName: "Silva", CaseID: "case-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "# 📋 CARDIOLOGY CASE REPORT\nSOAP body", res.FinalText)
	assert.Equal(t, "case-1", res.CaseID)
	assert.Equal(t, "Silva", res.OperatorName)
	assert.Equal(t, CardioPipeline, res.Pipeline)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Messages[0].Content, chestPain)
	assert.NotContains(t, calls[0].Messages[0].Content, "OUTPUT OF PREVIOUS STAGES")
	assert.Contains(t, calls[1].Messages[0].Content, stage1)
	assert.Contains(t, calls[1].Messages[0].Content, "Dr. Silva")
	assert.Contains(t, calls[1].Messages[0].Content, "14/03/2025")

	assert.Equal(t, ProfileOf(Specialist{Kind: Coronary}).Persona, calls[0].System)
	assert.Equal(t, ProfileOf(Coordinator{}).Persona, calls[1].System)
}

func TestRunner_AccumulatesEveryPriorStage(t *testing.T) {
	gw := completion.NewScripted().
		AddResponse("coronary view").
		AddResponse("heart failure view").
		AddResponse("arrhythmia view").
		AddResponse("final")

	r := newTestRunner(gw, Config{})
	res, err := r.Run(context.Background(), Input{Pipeline: PanelPipeline, CaseText: chestPain, OperatorName: "Silva"})
	require.NoError(t, err)
	assert.Equal(t, "final", res.FinalText)
	assert.NotEmpty(t, res.CaseID)

	calls := gw.Calls()
	require.Len(t, calls, 4)
	last := calls[3].Messages[0].Content
	for _, prior := range []string{"coronary view", "heart failure view", "arrhythmia view"} {
		assert.Contains(t, last, prior)
	}
	assert.Less(t, strings.Index(last, "coronary view"), strings.Index(last, "arrhythmia view"))
	assert.Contains(t, calls[1].Messages[0].Content, "coronary view")
	assert.NotContains(t, calls[1].Messages[0].Content, "arrhythmia view")
}

func TestRunner_StageTimeoutDropsPartialOutput(t *testing.T) {
	stage1 := "stage one analysis that must not leak"
	gw := completion.NewScripted().
		AddResponse(stage1).
		AddFunc(completion.Stall())

	r := newTestRunner(gw, Config{CallTimeout: 20 * time.Millisecond})
	res, err := r.Run(context.Background(), Input{CaseText: chestPain, OperatorName: "Silva"})
	require.Error(t, err)

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageID("soap_synthesis"), failure.Stage)
	assert.Equal(t, 1, failure.Index)
	assert.True(t, failure.Timeout())

	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, res.FinalText)
	assert.Equal(t, StageID("soap_synthesis"), res.FailedStage)
	assert.NotContains(t, res.FinalText, stage1)
	assert.NotContains(t, res.Error, stage1)
}

func TestRunner_ContinuesTruncatedOutput(t *testing.T) {
	gw := completion.NewScripted().
		AddReply("part one, ", completion.FinishLength).
		AddResponse("part two").
		AddResponse("final")

	r := newTestRunner(gw, Config{})
	_, err := r.Run(context.Background(), Input{CaseText: chestPain})
	require.NoError(t, err)

	calls := gw.Calls()
	require.Len(t, calls, 3)
	require.Len(t, calls[1].Messages, 3)
	assert.Equal(t, completion.RoleAssistant, calls[1].Messages[1].Role)
	assert.Equal(t, continuePrompt, calls[1].Messages[2].Content)
	assert.Contains(t, calls[2].Messages[0].Content, "part one, part two")
}

func TestRunner_IterationCap(t *testing.T) {
	gw := completion.NewScripted()
	for range DefaultIterationCap {
		gw.AddReply("more", completion.FinishLength)
	}

	r := newTestRunner(gw, Config{})
	res, err := r.Run(context.Background(), Input{CaseText: chestPain})
	require.ErrorIs(t, err, ErrIterationCap)
	assert.Equal(t, StageID("specialist_analysis"), res.FailedStage)
	assert.Len(t, gw.Calls(), DefaultIterationCap)
}

func TestRunner_StageErrors(t *testing.T) {
	tests := []struct {
		name    string
		reply   func(*completion.Scripted)
		wantErr error
	}{
		{
			name:    "backend failure",
			reply:   func(s *completion.Scripted) { s.AddError(completion.NewError("scripted", completion.ErrorCodeServerError, "boom", nil)) },
			wantErr: nil,
		},
		{
			name:    "empty output",
			reply:   func(s *completion.Scripted) { s.AddResponse("   ") },
			wantErr: ErrEmptyOutput,
		},
		{
			name:    "filtered",
			reply:   func(s *completion.Scripted) { s.AddReply("", completion.FinishFiltered) },
			wantErr: ErrContentFiltered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := completion.NewScripted()
			tt.reply(gw)

			_, err := newTestRunner(gw, Config{}).Run(context.Background(), Input{CaseText: chestPain})
			var failure *StageFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, 0, failure.Index)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Len(t, gw.Calls(), 1)
		})
	}
}

func TestRunner_Admission(t *testing.T) {
	gw := completion.NewScripted()
	r := newTestRunner(gw, Config{})

	_, err := r.Run(context.Background(), Input{CaseText: "chest pain"})
	assert.ErrorIs(t, err, ErrCaseTooShort)

	_, err = r.Run(context.Background(), Input{Pipeline: "nope", CaseText: chestPain})
	assert.Error(t, err)
	assert.Empty(t, gw.Calls())

	gw.AddResponse("a").AddResponse("b")
	_, err = r.Run(context.Background(), Input{CaseText: WithPreamble("sinus rhythm, ST depression V4-V6", "pain for 2 hours at rest")})
	require.NoError(t, err)

	gw.AddResponse("hypotheses")
	res, err := r.Run(context.Background(), Input{Pipeline: SuggestPipeline, CaseText: "dyspnoea and oedema, 70y"})
	require.NoError(t, err)
	assert.Equal(t, "hypotheses", res.FinalText)
}

func TestRunner_SharedBudgetBlocksInsteadOfFailing(t *testing.T) {
	gw := completion.NewScripted()
	gw.SetFallback(func(context.Context, completion.Request) (*completion.Response, error) {
		return &completion.Response{Content: "ok", FinishReason: completion.FinishStop}, nil
	})

	// 4 runs x 2 stages against 1 op every 5ms.
	r := newTestRunner(gw, Config{Budget: NewBudget(1, 5*time.Millisecond, 1)})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	start := time.Now()
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Run(context.Background(), Input{CaseText: chestPain})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, gw.Calls(), 8)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBudget_DeadlineIsTimeout(t *testing.T) {
	b := NewBudget(1, time.Hour, 1)
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
