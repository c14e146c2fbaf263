package agent

import (
	"fmt"
	"strings"
)

// DefaultRole is the instruction text used when no system prompt is configured.
const DefaultRole = `You are an expert software development assistant.
Your role is to help developers with their technical queries,
providing clean code, best practices, and clear explanations.

If you don't have enough information to respond, search the web.`

// FallbackReply is returned when the model produces no text.
const FallbackReply = "No se recibió una respuesta válida."

// instructions builds the per-request system text. It is never stored.
func instructions(role, conversationID, prompt string) string {
	if strings.TrimSpace(role) == "" {
		role = DefaultRole
	}
	return fmt.Sprintf("%s\n\nConversation context: %s\n\nAdditional instructions: %s",
		strings.TrimSpace(role), conversationID, prompt)
}
