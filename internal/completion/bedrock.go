package completion

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// ConverseAPI is the subset of the Bedrock runtime client used by the gateway.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock is a Gateway backed by the AWS Bedrock Converse API.
type Bedrock struct {
	client ConverseAPI
	model  string
}

// NewBedrock creates a Bedrock gateway using the default AWS credential chain.
func NewBedrock(ctx context.Context, region, model string) (*Bedrock, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockWithClient(bedrockruntime.NewFromConfig(cfg), model), nil
}

// NewBedrockWithClient creates a Bedrock gateway over a custom client (useful for testing).
func NewBedrockWithClient(client ConverseAPI, model string) *Bedrock {
	if model == "" {
		model = defaultBedrockModel
	}
	return &Bedrock{client: client, model: model}
}

// Name returns the backend name.
func (g *Bedrock) Name() string {
	return "bedrock"
}

// Complete runs one Converse call.
func (g *Bedrock) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewError(g.Name(), ErrorCodeInvalidRequest, "no messages", nil)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: toBedrockMessages(req.Messages),
		InferenceConfig: &brtypes.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		in.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.System != "" {
		in.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	out, err := g.client.Converse(ctx, in)
	if err != nil {
		if ce := wrapContextError(g.Name(), err); ce != nil {
			return nil, ce
		}
		return nil, NewError(g.Name(), classifyMessage(err.Error()), err.Error(), err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewError(g.Name(), ErrorCodeEmptyResponse, "no message in converse output", nil)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	resp := &Response{
		Content:      sb.String(),
		FinishReason: fromBedrockStop(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

func toBedrockMessages(messages []Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func fromBedrockStop(r brtypes.StopReason) FinishReason {
	switch r {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence, "":
		return FinishStop
	case brtypes.StopReasonMaxTokens:
		return FinishLength
	case brtypes.StopReasonContentFiltered, brtypes.StopReasonGuardrailIntervened:
		return FinishFiltered
	default:
		return FinishOther
	}
}
