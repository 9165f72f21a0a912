package imaging

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/clinicapro/cardiobot/internal/completion"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini analyses images with a Gemini multimodal model, sending the image as
// inline data.
type Gemini struct {
	models completion.ContentGenerator
	model  string
}

// NewGemini creates an analyzer for the given API key.
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

// NewGeminiWithModels creates an analyzer over an existing generator.
func NewGeminiWithModels(models completion.ContentGenerator, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

func (g *Gemini) Name() string { return "gemini-vision" }

func (g *Gemini) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, completion.NewError(g.Name(), completion.ErrorCodeInvalidRequest, err.Error(), err)
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(temperature)),
		MaxOutputTokens:   maxTokens,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: promptFor(req)},
			{InlineData: &genai.Blob{MIMEType: mimeType(req), Data: req.Image}},
		},
	}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, completion.WrapGenAIError(g.Name(), err)
	}
	out, err := completion.ParseGenAIResponse(g.Name(), resp)
	if err != nil {
		return nil, err
	}
	if out.FinishReason == completion.FinishFiltered {
		return nil, completion.NewError(g.Name(), completion.ErrorCodeContentFiltered, "analysis blocked by safety filter", nil)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, completion.NewError(g.Name(), completion.ErrorCodeEmptyResponse, "no analysis in response", nil)
	}

	return &Result{
		Subject:    req.Subject,
		Text:       strings.TrimSpace(out.Content),
		TokensUsed: out.Usage.TotalTokens,
	}, nil
}
