package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeConverse struct {
	out   *bedrockruntime.ConverseOutput
	err   error
	input *bedrockruntime.ConverseInput
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrock_Complete(t *testing.T) {
	client := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "A: "},
				&brtypes.ContentBlockMemberText{Value: "stable angina"},
			},
		}},
		StopReason: brtypes.StopReasonMaxTokens,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(8)},
	}}
	g := NewBedrockWithClient(client, "")

	resp, err := g.Complete(context.Background(), UserPrompt("persona", "case", 0.4))
	require.NoError(t, err)
	assert.Equal(t, "A: stable angina", resp.Content)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, 8, resp.Usage.TotalTokens)

	require.NotNil(t, client.input)
	assert.Equal(t, defaultBedrockModel, aws.ToString(client.input.ModelId))
	require.Len(t, client.input.System, 1)
	require.Len(t, client.input.Messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, client.input.Messages[0].Role)
}

func TestBedrock_Complete_Errors(t *testing.T) {
	g := NewBedrockWithClient(&fakeConverse{err: errors.New("ThrottlingException: too many requests")}, "m")
	_, err := g.Complete(context.Background(), UserPrompt("", "x", 0))
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorCodeRateLimit, ce.Code)

	g = NewBedrockWithClient(&fakeConverse{out: &bedrockruntime.ConverseOutput{}}, "m")
	_, err = g.Complete(context.Background(), UserPrompt("", "x", 0))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorCodeEmptyResponse, ce.Code)
}

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func TestGemini_Complete(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "P: "}, {Text: "stress test"}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 12},
	}}
	g := NewGeminiWithModels(gen, "")

	req := UserPrompt("persona", "case", 0.1)
	req.Messages = append(req.Messages, Message{Role: RoleAssistant, Content: "earlier"})
	resp, err := g.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "P: stress test", resp.Content)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	assert.Equal(t, defaultGeminiModel, gen.model)
	require.Len(t, gen.contents, 2)
	assert.Equal(t, "model", gen.contents[1].Role)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "persona", gen.config.SystemInstruction.Parts[0].Text)
}

func TestParseGenAIResponse(t *testing.T) {
	_, err := ParseGenAIResponse("gemini", &genai.GenerateContentResponse{})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorCodeEmptyResponse, ce.Code)

	resp, err := ParseGenAIResponse("gemini", &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMaxTokens}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
}

func TestScripted(t *testing.T) {
	s := NewScripted().
		AddResponse("first").
		AddReply("cut", FinishLength).
		AddError(NewError("scripted", ErrorCodeServerError, "boom", nil))

	ctx := context.Background()
	r, err := s.Complete(ctx, UserPrompt("", "1", 0))
	require.NoError(t, err)
	assert.Equal(t, "first", r.Content)

	r, err = s.Complete(ctx, UserPrompt("", "2", 0))
	require.NoError(t, err)
	assert.True(t, r.Truncated())

	_, err = s.Complete(ctx, UserPrompt("", "3", 0))
	require.Error(t, err)

	r, err = s.Complete(ctx, UserPrompt("", "4", 0))
	require.NoError(t, err)
	assert.Empty(t, r.Content)

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "3", calls[2].Messages[0].Content)
}

func TestScripted_Stall(t *testing.T) {
	s := NewScripted().AddFunc(Stall())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Complete(ctx, UserPrompt("", "x", 0))
	assert.True(t, IsTimeout(err))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	g, err := New(ctx, Options{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", g.Name())

	g, err = New(ctx, Options{Provider: "scripted"})
	require.NoError(t, err)
	assert.Equal(t, "scripted", g.Name())

	_, err = New(ctx, Options{Provider: "openai"})
	assert.Error(t, err)

	_, err = New(ctx, Options{Provider: "cohere"})
	assert.Error(t, err)
}
