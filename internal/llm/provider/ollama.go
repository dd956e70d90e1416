package provider

import "os"

const ollamaDefaultBaseURL = "http://localhost:11434/v1"

func init() {
	RegisterFactory("ollama", func(config map[string]any) (Provider, error) {
		baseURL := ollamaDefaultBaseURL
		if url, ok := config["base_url"].(string); ok && url != "" {
			baseURL = url
		} else if envURL := os.Getenv("OLLAMA_BASE_URL"); envURL != "" {
			baseURL = envURL
		}

		// Ollama exposes an OpenAI-compatible /v1/chat/completions route
		// and requires no API key for local models.
		return NewOpenAICompatibleProvider("ollama", "ollama", baseURL), nil
	})
}
