package gemini

import (
	"log/slog"
	"os"

	"gptbridge/pkg/config"
	"gptbridge/pkg/llm"
)

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	// Determine thinking mode from unified options
	useThought := cfg.UseThoughtSignature
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	keys := cfg.APIKeys
	if len(keys) == 0 {
		if env := os.Getenv("GEMINI_API_KEY"); env != "" {
			keys = []string{env}
		}
	}

	var clients []llm.LLMClient
	// Cartesian Product: Models x Keys (prioritize models)
	for _, model := range cfg.Models {
		for _, key := range keys {
			client, err := NewGeminiClient(key, model, cfg.BaseURL, useThought, cfg.Options)
			if err != nil {
				slog.Error("Failed to create Gemini client", "model", model, "error", err)
				continue
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
