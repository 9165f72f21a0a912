package completion

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Region   string
}

// New creates the Gateway named by opts.Provider.
func New(ctx context.Context, opts Options) (Gateway, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai: api key is required")
		}
		return NewOpenAI(opts.APIKey, opts.BaseURL, opts.Model), nil
	case "bedrock":
		return NewBedrock(ctx, opts.Region, opts.Model)
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini: api key is required")
		}
		return NewGemini(ctx, opts.APIKey, opts.Model)
	case "scripted":
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", opts.Provider)
	}
}
