package api

import (
	"context"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/session"
)

// AgentEngine is the reasoning core the chat gateway forwards messages to.
// *agent.Engine implements it.
type AgentEngine interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
	// History returns the stored turns of a conversation.
	History(conversationID string) []session.Turn
	// ToolNames lists the tools the engine can offer.
	ToolNames() []string
	// InvokeTool runs one tool directly, outside any conversation.
	InvokeTool(ctx context.Context, name, arguments string) (string, error)
}

// HistorySource gives channels read access to stored conversations.
type HistorySource interface {
	History(conversationID string) []session.Turn
}
