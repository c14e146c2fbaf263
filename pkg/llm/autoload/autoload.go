// Package autoload registers every built-in LLM provider factory.
package autoload

import (
	_ "gptbridge/pkg/llm/gemini"
	_ "gptbridge/pkg/llm/ollama"
	_ "gptbridge/pkg/llm/openailm"
)
