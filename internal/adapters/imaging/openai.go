package imaging

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/clinicapro/cardiobot/internal/completion"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIVision analyses images with an OpenAI vision model. Images are sent
// inline as base64 data URLs with high detail.
type OpenAIVision struct {
	client completion.ChatClient
	model  string
}

// NewOpenAIVision creates an analyzer for the given API key.
func NewOpenAIVision(apiKey, baseURL, model string) *OpenAIVision {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIVisionWithClient(openai.NewClientWithConfig(cfg), model)
}

// NewOpenAIVisionWithClient creates an analyzer over an existing client.
func NewOpenAIVisionWithClient(client completion.ChatClient, model string) *OpenAIVision {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIVision{client: client, model: model}
}

func (v *OpenAIVision) Name() string { return "openai-vision" }

func (v *OpenAIVision) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, completion.NewError(v.Name(), completion.ErrorCodeInvalidRequest, err.Error(), err)
	}

	dataURL := "data:" + mimeType(req) + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: promptFor(req)},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	})
	if err != nil {
		return nil, completion.WrapOpenAIError(v.Name(), err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, completion.NewError(v.Name(), completion.ErrorCodeEmptyResponse, "no analysis in response", nil)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return nil, completion.NewError(v.Name(), completion.ErrorCodeContentFiltered, "analysis blocked by content filter", nil)
	}

	return &Result{
		Subject:    req.Subject,
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
