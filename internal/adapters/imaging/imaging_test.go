package imaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/clinicapro/cardiobot/internal/completion"
)

// Smallest valid PNG header, enough for content sniffing.
var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	return f.resp, f.err
}

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func chatReply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}, FinishReason: openai.FinishReasonStop}},
		Usage:   openai.Usage{TotalTokens: 812},
	}
}

func TestSubjectFromCaption(t *testing.T) {
	tests := map[string]Subject{
		"":                      SubjectECG,
		"ECG de repouso":        SubjectECG,
		"Raio-X de tórax":       SubjectXRay,
		"RX PA":                 SubjectXRay,
		"chest x-ray, dyspnoea": SubjectXRay,
		"Ecocardiograma":        SubjectEcho,
		"echo 4-chamber view":   SubjectEcho,
	}
	for caption, want := range tests {
		assert.Equal(t, want, SubjectFromCaption(caption), caption)
	}
}

func TestOpenAIVision(t *testing.T) {
	fake := &fakeChat{resp: chatReply("  Sinus rhythm, 78 bpm. ST elevation in V1-V4.  ")}
	v := NewOpenAIVisionWithClient(fake, "")

	res, err := v.Analyze(context.Background(), Request{Image: pngImage, Subject: SubjectECG, Context: "chest pain 2h"})
	require.NoError(t, err)
	assert.Equal(t, "Sinus rhythm, 78 bpm. ST elevation in V1-V4.", res.Text)
	assert.Equal(t, 812, res.TokensUsed)
	assert.Equal(t, SubjectECG, res.Subject)

	assert.Equal(t, defaultOpenAIModel, fake.got.Model)
	require.Len(t, fake.got.Messages, 2)
	parts := fake.got.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "12-lead ECG")
	assert.Contains(t, parts[0].Text, "chest pain 2h")
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, openai.ImageURLDetailHigh, parts[1].ImageURL.Detail)
}

func TestOpenAIVisionErrors(t *testing.T) {
	v := NewOpenAIVisionWithClient(&fakeChat{resp: chatReply("x")}, "")
	_, err := v.Analyze(context.Background(), Request{Image: []byte("plain text, not an image")})
	var cerr *completion.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, completion.ErrorCodeInvalidRequest, cerr.Code)

	v = NewOpenAIVisionWithClient(&fakeChat{resp: chatReply("   ")}, "")
	_, err = v.Analyze(context.Background(), Request{Image: pngImage})
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, completion.ErrorCodeEmptyResponse, cerr.Code)

	v = NewOpenAIVisionWithClient(&fakeChat{err: context.DeadlineExceeded}, "")
	_, err = v.Analyze(context.Background(), Request{Image: pngImage})
	assert.True(t, completion.IsTimeout(err))
}

func TestGeminiVision(t *testing.T) {
	fake := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "Cardiomegaly, CTR 0.6."}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 300},
	}}
	g := NewGeminiWithModels(fake, "")

	res, err := g.Analyze(context.Background(), Request{Image: pngImage, MIMEType: "image/jpeg", Subject: SubjectXRay})
	require.NoError(t, err)
	assert.Equal(t, "Cardiomegaly, CTR 0.6.", res.Text)
	assert.Equal(t, 300, res.TokensUsed)

	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "chest X-ray")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, pngImage, parts[1].InlineData.Data)
	require.NotNil(t, fake.config.SystemInstruction)
}

func TestGeminiVisionFiltered(t *testing.T) {
	fake := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	}}
	_, err := NewGeminiWithModels(fake, "").Analyze(context.Background(), Request{Image: pngImage})
	var cerr *completion.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, completion.ErrorCodeContentFiltered, cerr.Code)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, Options{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai-vision", a.Name())

	_, err = New(ctx, Options{})
	assert.Error(t, err)
	_, err = New(ctx, Options{Provider: "gemini"})
	assert.Error(t, err)
	_, err = New(ctx, Options{Provider: "claude", APIKey: "x"})
	assert.Error(t, err)
}
