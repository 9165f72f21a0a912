package completion

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// ContentGenerator is the subset of the genai client used by the gateway.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini is a Gateway backed by the Gemini API.
type Gemini struct {
	models ContentGenerator
	model  string
}

// NewGemini creates a Gemini gateway using an API key.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiWithModels(client.Models, model), nil
}

// NewGeminiWithModels creates a Gemini gateway over a custom generator (useful for testing).
func NewGeminiWithModels(models ContentGenerator, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

// Name returns the backend name.
func (g *Gemini) Name() string {
	return "gemini"
}

// Complete runs one GenerateContent call.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewError(g.Name(), ErrorCodeInvalidRequest, "no messages", nil)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	resp, err := g.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, WrapGenAIError(g.Name(), err)
	}

	return ParseGenAIResponse(g.Name(), resp)
}

// WrapGenAIError converts an error returned by the genai client into *Error.
func WrapGenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if ce := wrapContextError(provider, err); ce != nil {
		return ce
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		e := NewError(provider, codeForStatus(apiErr.Code), apiErr.Message, err)
		e.StatusCode = apiErr.Code
		return e
	}
	return NewError(provider, classifyMessage(err.Error()), err.Error(), err)
}

// ParseGenAIResponse converts a genai response into a Response.
func ParseGenAIResponse(provider string, resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewError(provider, ErrorCodeEmptyResponse, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	var content string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			content += part.Text
		}
	}

	out := &Response{Content: content}
	switch candidate.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified, "":
		out.FinishReason = FinishStop
	case genai.FinishReasonMaxTokens:
		out.FinishReason = FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		out.FinishReason = FinishFiltered
	default:
		out.FinishReason = FinishOther
	}

	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
