// Package handler routes gateway chat messages to the developer agent.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/api"
	"gptbridge/pkg/llm"
	"gptbridge/pkg/monitor"
	"gptbridge/pkg/session"
	"gptbridge/pkg/utils"
)

// SignalThinking is sent to channels that can show a typing indicator.
const SignalThinking = "thinking"

const helpText = "Comandos disponibles:\n" +
	"/notools <texto> - pregunta sin herramientas\n" +
	"/history - muestra la conversación guardada\n" +
	"/tools - lista las herramientas\n" +
	"/tool <nombre> <JSON> - ejecuta una herramienta manualmente"

// ChatHandler forwards chat messages to the agent engine and sends the reply
// back through the gateway. Each chat maps to the conversation
// "<channel>_<chatID>".
type ChatHandler struct {
	engine    api.AgentEngine
	responder api.MessageResponder
	timeout   time.Duration
}

// NewChatHandler creates a handler. timeout bounds a whole request; zero
// leaves the deadlines to the engine.
func NewChatHandler(engine api.AgentEngine, timeout time.Duration) *ChatHandler {
	return &ChatHandler{engine: engine, timeout: timeout}
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage implements api.MessageProcessor.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.DebugID == "" {
		msg.DebugID = utils.GenerateID()
	}
	ctx := monitor.WithRequestID(context.Background(), msg.DebugID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	content := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(content, "/") {
		if h.handleSlashCommand(ctx, msg, content) {
			return
		}
	}

	req := agent.Request{
		Prompt:         msg.Content,
		ConversationID: msg.Session.ConversationID(),
	}
	if msg.NoTools {
		req.Tools = []string{}
	}
	h.ask(ctx, msg.Session, req)
	slog.InfoContext(ctx, "Chat message handled", "conversation", req.ConversationID, "duration", time.Since(start).String())
}

func (h *ChatHandler) ask(ctx context.Context, s api.SessionContext, req agent.Request) {
	if err := h.responder.SendSignal(s, SignalThinking); err != nil {
		slog.DebugContext(ctx, "Signal failed", "error", err)
	}

	resp, err := h.engine.Run(ctx, req)
	if err != nil {
		h.replyError(ctx, s, err)
		return
	}
	h.stream(ctx, s, resp.Output)
}

// stream sends text as a single-block stream so channels render it the same
// way as a live model stream.
func (h *ChatHandler) stream(ctx context.Context, s api.SessionContext, text string) {
	blocks := make(chan llm.ContentBlock, 1)
	blocks <- llm.NewTextBlock(text)
	close(blocks)
	if err := h.responder.StreamReply(s, blocks); err != nil {
		slog.ErrorContext(ctx, "Failed to stream reply", "channel", s.ChannelID, "error", err)
	}
}

func (h *ChatHandler) reply(ctx context.Context, s api.SessionContext, text string) {
	if err := h.responder.SendReply(s, text); err != nil {
		slog.ErrorContext(ctx, "Failed to send reply", "channel", s.ChannelID, "error", err)
	}
}

func (h *ChatHandler) replyError(ctx context.Context, s api.SessionContext, err error) {
	h.reply(ctx, s, fmt.Sprintf("❌ %s: %v", agent.Kind(err), err))
}

// handleSlashCommand runs a chat command. It returns false when the message
// should go to the agent as a normal prompt.
func (h *ChatHandler) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, content string) bool {
	name, rest, _ := strings.Cut(strings.TrimPrefix(content, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "notools":
		if rest == "" {
			h.reply(ctx, msg.Session, "❌ Uso: /notools <texto>")
			return true
		}
		msg.Content = rest
		msg.NoTools = true
		return false
	case "history":
		h.reply(ctx, msg.Session, FormatHistory(h.engine.History(msg.Session.ConversationID())))
	case "tools":
		names := h.engine.ToolNames()
		if len(names) == 0 {
			h.reply(ctx, msg.Session, "No hay herramientas registradas.")
		} else {
			h.reply(ctx, msg.Session, "Herramientas: "+strings.Join(names, ", "))
		}
	case "tool":
		tool, args, _ := strings.Cut(rest, " ")
		if tool == "" {
			h.reply(ctx, msg.Session, "❌ Uso: /tool <nombre> <JSON>")
			return true
		}
		args = strings.TrimSpace(args)
		if args == "" {
			args = "{}"
		}
		h.reply(ctx, msg.Session, fmt.Sprintf("🛠️ Ejecutando %s...", tool))
		out, err := h.engine.InvokeTool(ctx, tool, args)
		if err != nil {
			h.replyError(ctx, msg.Session, err)
			return true
		}
		h.stream(ctx, msg.Session, out)
	default:
		h.reply(ctx, msg.Session, helpText)
	}
	return true
}

// FormatHistory renders stored turns one per line, oldest first.
func FormatHistory(turns []session.Turn) string {
	if len(turns) == 0 {
		return "No hay mensajes en esta conversación."
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", t.Role, t.Content)
	}
	return b.String()
}
