package provider

import (
	"fmt"
	"os"
)

const perplexityBaseURL = "https://api.perplexity.ai"

func init() {
	RegisterFactory("perplexity", func(config map[string]any) (Provider, error) {
		apiKey := ""
		if key, ok := config["api_key"].(string); ok {
			apiKey = key
		}
		if apiKey == "" {
			apiKey = os.Getenv("PERPLEXITY_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("PERPLEXITY_API_KEY not set")
		}

		baseURL := perplexityBaseURL
		if url, ok := config["base_url"].(string); ok && url != "" {
			baseURL = url
		}

		// Perplexity's sonar models speak the OpenAI Chat Completions
		// wire format under a different base URL and bearer token.
		return NewOpenAICompatibleProvider("perplexity", apiKey, baseURL), nil
	})
}
