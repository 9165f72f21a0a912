package imaging

import (
	"context"
	"fmt"
)

// Options selects an analyzer backend.
type Options struct {
	Provider string `yaml:"provider"` // openai (default) or gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"-"`
	BaseURL  string `yaml:"base_url"`
}

// New creates the configured Analyzer.
func New(ctx context.Context, opts Options) (Analyzer, error) {
	switch opts.Provider {
	case "", "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("imaging: openai requires an API key")
		}
		return NewOpenAIVision(opts.APIKey, opts.BaseURL, opts.Model), nil
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("imaging: gemini requires an API key")
		}
		return NewGemini(ctx, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("imaging: unknown provider %q", opts.Provider)
	}
}
