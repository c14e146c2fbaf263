// Package agent runs the developer assistant: it builds a context from the
// conversation history, lets the model call registered tools a bounded
// number of times and commits the finished exchange to the session store.
package agent

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"gptbridge/pkg/config"
	"gptbridge/pkg/llm"
	"gptbridge/pkg/session"
	"gptbridge/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

// Request is one user message addressed to the agent. A nil Tools offers
// the whole registry and an empty slice offers none.
type Request struct {
	Prompt         string   `json:"prompt"`
	ConversationID string   `json:"conversationId"`
	Model          string   `json:"model,omitempty"`
	Tools          []string `json:"tools,omitempty"`
}

// ToolInvocation records one tool round trip of a request. It is not stored.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
}

// Response is the agent's answer plus minimal metadata.
type Response struct {
	Output         string           `json:"output"`
	ConversationID string           `json:"conversationId"`
	MessageCount   int              `json:"messageCount"`
	Timestamp      time.Time        `json:"timestamp"`
	ToolCalls      []ToolInvocation `json:"toolCalls,omitempty"`
	Hops           int              `json:"hops"`
}

// State is a step of the per-request state machine.
type State string

const (
	StateIdle           State = "idle"
	StateContextBuilt   State = "context_built"
	StateReasoning      State = "reasoning"
	StateToolRequested  State = "tool_requested"
	StateToolExecuting  State = "tool_executing"
	StateAnswered       State = "answered"
	StateHistoryUpdated State = "history_updated"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Engine manages the reasoning loop. It is safe for concurrent use.
type Engine struct {
	client   llm.LLMClient
	registry *tools.Registry
	store    *session.Store
	role     string
	sysCfg   atomic.Pointer[config.SystemConfig]
}

// NewEngine wires an Engine. role overrides DefaultRole when non-empty.
func NewEngine(client llm.LLMClient, registry *tools.Registry, store *session.Store, sysCfg *config.SystemConfig, role string) *Engine {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}
	e := &Engine{
		client:   client,
		registry: registry,
		store:    store,
		role:     role,
	}
	e.sysCfg.Store(sysCfg)
	return e
}

// SetSystemConfig swaps the technical parameters used by later requests.
func (e *Engine) SetSystemConfig(cfg *config.SystemConfig) {
	if cfg != nil {
		e.sysCfg.Store(cfg)
	}
}

// SystemConfig returns the parameters currently in use.
func (e *Engine) SystemConfig() *config.SystemConfig {
	return e.sysCfg.Load()
}

// Store exposes the conversation store for history replay.
func (e *Engine) Store() *session.Store {
	return e.store
}

// Registry exposes the tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// History returns a copy of the stored turns of a conversation.
func (e *Engine) History(conversationID string) []session.Turn {
	if e.store == nil {
		return nil
	}
	return e.store.History(conversationID)
}

// ToolNames lists the registered tools in registration order.
func (e *Engine) ToolNames() []string {
	return e.registry.Names()
}

// run holds the mutable state of one request.
type run struct {
	req      Request
	sys      *config.SystemConfig
	offered  []string
	specs    []llm.ToolSpec
	messages []llm.Message
	hops     int
	calls    []ToolInvocation
	pending  []llm.ToolCall
	answer   string
	count    int
	state    State
}

func (r *run) to(ctx context.Context, s State) {
	slog.DebugContext(ctx, "Agent state", "conversation", r.req.ConversationID, "from", r.state, "to", s, "hops", r.hops)
	r.state = s
}

// Run produces one assistant reply for req. The store is only written after
// a terminal answer; any error leaves it untouched.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	r := &run{req: req, sys: e.SystemConfig(), state: StateIdle}

	if err := e.prepare(r); err != nil {
		r.to(ctx, StateFailed)
		return nil, err
	}
	r.to(ctx, StateContextBuilt)

	ctx = context.WithValue(ctx, llm.DebugDirContextKey, debugDir(req.ConversationID))
	if req.Model != "" {
		ctx = llm.WithCallOptions(ctx, llm.CallOptions{Model: req.Model})
	}

	for r.state != StateAnswered {
		var err error
		switch r.state {
		case StateContextBuilt, StateReasoning:
			r.to(ctx, StateReasoning)
			err = e.reason(ctx, r)
		case StateToolRequested:
			err = e.checkToolCalls(r)
			if err == nil {
				r.to(ctx, StateToolExecuting)
			}
		case StateToolExecuting:
			err = e.executeTools(ctx, r)
		}
		if err != nil {
			r.to(ctx, StateFailed)
			err = normalize(err)
			slog.WarnContext(ctx, "Agent request failed", "conversation", req.ConversationID, "kind", Kind(err), "error", err)
			return nil, err
		}
	}

	r.count = e.store.AppendAndTrim(req.ConversationID, []session.Turn{
		session.NewTurn(session.RoleUser, req.Prompt),
		session.NewTurn(session.RoleAssistant, r.answer),
	}, r.sys.HistoryWindow)
	r.to(ctx, StateHistoryUpdated)

	resp := &Response{
		Output:         r.answer,
		ConversationID: req.ConversationID,
		MessageCount:   r.count,
		Timestamp:      time.Now(),
		ToolCalls:      r.calls,
		Hops:           r.hops,
	}
	r.to(ctx, StateDone)

	slog.InfoContext(ctx, "Agent replied", "conversation", req.ConversationID, "hops", r.hops, "messages", r.count)
	return resp, nil
}

// prepare validates the request locally and builds the model context.
func (e *Engine) prepare(r *run) error {
	if strings.TrimSpace(r.req.Prompt) == "" {
		return invalidArgument("the prompt cannot be empty")
	}
	if strings.TrimSpace(r.req.ConversationID) == "" {
		return invalidArgument("the conversation id cannot be empty")
	}

	offered, err := e.offeredTools(r.req.Tools, r.sys.EnableTools)
	if err != nil {
		return err
	}
	r.offered = offered
	if len(offered) > 0 {
		if r.specs, err = e.registry.Specs(offered...); err != nil {
			return err
		}
	}

	r.messages = e.buildContext(r.req, e.store.History(r.req.ConversationID))
	return nil
}

// offeredTools resolves the tool names offered this turn.
func (e *Engine) offeredTools(requested []string, enabled bool) ([]string, error) {
	for _, name := range requested {
		if _, ok := e.registry.Get(name); !ok {
			return nil, unknownTool(name)
		}
	}
	if !enabled {
		return nil, nil
	}
	if requested == nil {
		return e.registry.Names(), nil
	}
	offered := make([]string, 0, len(requested))
	for _, name := range e.registry.Names() {
		if slices.Contains(requested, name) {
			offered = append(offered, name)
		}
	}
	return offered, nil
}

// buildContext lays out instruction, prior turns and the new user turn.
func (e *Engine) buildContext(req Request, history []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.NewSystemMessage(instructions(e.role, req.ConversationID, req.Prompt)))
	for _, t := range history {
		msgs = append(msgs, turnMessage(t))
	}
	return append(msgs, llm.NewUserMessage(req.Prompt))
}

func turnMessage(t session.Turn) llm.Message {
	var msg llm.Message
	switch t.Role {
	case session.RoleAssistant:
		msg = llm.NewAssistantMessage(t.Content)
	case session.RoleSystem:
		msg = llm.NewSystemMessage(t.Content)
	default:
		msg = llm.NewUserMessage(t.Content)
	}
	msg.Timestamp = t.Timestamp.Unix()
	return msg
}

// reason calls the model once under its own deadline.
func (e *Engine) reason(ctx context.Context, r *run) error {
	var specs []llm.ToolSpec
	if r.hops < r.sys.MaxToolHops {
		specs = r.specs
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(r.sys.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	completion, err := llm.Complete(callCtx, e.client, r.messages, specs)
	if err != nil {
		return err
	}

	// once the hop budget is spent, tool requests are ignored and the text
	// stands as the answer
	if len(completion.ToolCalls) == 0 || r.hops >= r.sys.MaxToolHops {
		if len(completion.ToolCalls) > 0 {
			slog.InfoContext(ctx, "Tool request past hop limit ignored", "conversation", r.req.ConversationID, "calls", len(completion.ToolCalls))
		}
		r.answer = strings.TrimSpace(completion.Text)
		if r.answer == "" {
			r.answer = FallbackReply
		}
		r.to(ctx, StateAnswered)
		return nil
	}

	r.messages = append(r.messages, completion.Message())
	r.pending = completion.ToolCalls
	r.to(ctx, StateToolRequested)
	return nil
}

// checkToolCalls rejects requested tools that were not offered or whose
// arguments do not match the schema, before anything runs.
func (e *Engine) checkToolCalls(r *run) error {
	for i, call := range r.pending {
		name := strings.TrimPrefix(call.Name, "functions.")
		if !slices.Contains(r.offered, name) {
			return unknownTool(call.Name)
		}
		r.pending[i].Name = name
		r.pending[i].Function.Name = name
		if err := e.registry.Validate(name, jsoniter.RawMessage(call.Function.Arguments)); err != nil {
			return err
		}
	}
	return nil
}

// executeTools runs the pending calls of one hop and feeds the results back.
func (e *Engine) executeTools(ctx context.Context, r *run) error {
	for _, call := range r.pending {
		result, err := e.invoke(ctx, r.sys, call)
		if err != nil {
			return err
		}
		r.calls = append(r.calls, ToolInvocation{Name: call.Name, Arguments: call.Function.Arguments, Result: result})
		r.messages = append(r.messages, llm.NewToolResultMessage(call, result))
	}
	r.pending = nil
	r.hops++
	r.to(ctx, StateReasoning)
	return nil
}

func (e *Engine) invoke(ctx context.Context, sys *config.SystemConfig, call llm.ToolCall) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(sys.ToolTimeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := e.registry.Invoke(callCtx, call.Name, jsoniter.RawMessage(call.Function.Arguments))
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	slog.InfoContext(ctx, "Tool executed", "tool", call.Name, "duration", time.Since(start), "error", err)
	return result, err
}

// InvokeTool runs one registered tool outside the reasoning loop, under the
// same validation and deadline as a model-requested call.
func (e *Engine) InvokeTool(ctx context.Context, name, arguments string) (string, error) {
	if _, ok := e.registry.Get(name); !ok {
		return "", unknownTool(name)
	}
	if err := e.registry.Validate(name, jsoniter.RawMessage(arguments)); err != nil {
		return "", normalize(err)
	}
	call := llm.ToolCall{Name: name, Function: llm.FunctionCall{Name: name, Arguments: arguments}}
	result, err := e.invoke(ctx, e.SystemConfig(), call)
	return result, normalize(err)
}

// debugDir groups raw chunk dumps by conversation.
func debugDir(conversationID string) string {
	var b strings.Builder
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
