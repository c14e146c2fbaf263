package cmd

import (
	"fmt"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/config"
	"gptbridge/pkg/llm"
	_ "gptbridge/pkg/llm/autoload" // registers the LLM providers
	"gptbridge/pkg/search"
	"gptbridge/pkg/session"
	"gptbridge/pkg/tools"
)

// newRegistry builds the tool registry offered to the agent.
func newRegistry(cfg config.SearchConfig) *tools.Registry {
	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewWebSearch(search.NewGoogle(cfg.APIKey, cfg.EngineID, cfg.BaseURL)))
	return registry
}

// newEngine wires the LLM chain, tools and conversation store into an agent.
func newEngine(cfg *config.Config, sys *config.SystemConfig) (*agent.Engine, llm.LLMClient, error) {
	client, err := llm.NewFromConfig(cfg.LLM, sys)
	if err != nil {
		return nil, nil, fmt.Errorf("init llm client: %w", err)
	}
	store := session.NewStore(session.Options{})
	engine := agent.NewEngine(client, newRegistry(cfg.Search), store, sys, cfg.SystemPrompt)
	return engine, client, nil
}
