package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// ChatClient is the subset of the go-openai client used by the gateway.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI is a Gateway backed by the OpenAI chat completions API.
type OpenAI struct {
	client ChatClient
	model  string
}

// NewOpenAI creates an OpenAI gateway. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIWithClient(openai.NewClientWithConfig(cfg), model)
}

// NewOpenAIWithClient creates an OpenAI gateway over a custom client (useful for testing).
func NewOpenAIWithClient(client ChatClient, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: client, model: model}
}

// Name returns the backend name.
func (g *OpenAI) Name() string {
	return "openai"
}

// Complete runs one chat completion.
func (g *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewError(g.Name(), ErrorCodeInvalidRequest, "no messages", nil)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	oreq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := g.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, WrapOpenAIError(g.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(g.Name(), ErrorCodeEmptyResponse, "no choices in response", nil)
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		FinishReason: fromOpenAIFinish(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

func fromOpenAIFinish(r openai.FinishReason) FinishReason {
	switch r {
	case openai.FinishReasonStop, "":
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter:
		return FinishFiltered
	default:
		return FinishOther
	}
}

// WrapOpenAIError converts an error returned by the go-openai client into
// *Error. The transcription and vision adapters share it.
func WrapOpenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if ce := wrapContextError(provider, err); ce != nil {
		return ce
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := NewError(provider, codeForStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
		e.StatusCode = apiErr.HTTPStatusCode
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := NewError(provider, codeForStatus(reqErr.HTTPStatusCode), fmt.Sprintf("request failed: %v", reqErr.Err), err)
		e.StatusCode = reqErr.HTTPStatusCode
		return e
	}

	return NewError(provider, classifyMessage(err.Error()), err.Error(), err)
}
