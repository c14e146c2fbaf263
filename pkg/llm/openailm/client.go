package openailm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"gptbridge/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps the official OpenAI Go SDK Responses API.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	return isTransient(err)
}

// isTransient reports whether a request error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "429 too many requests") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

// buildParams merges the per-call options from ctx with the group options.
func (c *Client) buildParams(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) responses.ResponseNewParams {
	call := llm.CallOptionsFrom(ctx)

	model := c.model
	if call.Model != "" {
		model = call.Model
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}

	if call.Temperature != nil {
		params.Temperature = param.NewOpt(*call.Temperature)
	} else if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = param.NewOpt(t)
	}

	if p, ok := c.options["top_p"].(float64); ok {
		params.TopP = param.NewOpt(p)
	}

	if call.MaxTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(call.MaxTokens))
	} else if maxTok, ok := c.options["max_tokens"].(float64); ok && maxTok > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(maxTok))
	}

	if converted := convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	return params
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, 100)
	params := c.buildParams(ctx, messages, tools)

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params)
		defer stream.Close()

		// StreamDebugger handles file creation and lifecycle
		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var (
			lastFinishReason string
			lastUsage        *llm.LLMUsage
			failed           bool
			thinkingLog      strings.Builder
		)

		// 依出現順序保存 function call，key 為 output item ID
		var callOrder []string
		calls := make(map[string]*llm.ToolCall)
		callFor := func(itemID string) *llm.ToolCall {
			tc, ok := calls[itemID]
			if !ok {
				tc = &llm.ToolCall{}
				calls[itemID] = tc
				callOrder = append(callOrder, itemID)
			}
			return tc
		}

		for stream.Next() {
			event := stream.Current()
			if raw := event.RawJSON(); raw != "" {
				debugger.WriteString(raw)
			}

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				chunkCh <- llm.NewTextChunk(variant.Delta)

			case responses.ResponseReasoningTextDeltaEvent:
				thinkingLog.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinkingLog.WriteString(variant.Delta)
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseOutputItemAddedEvent:
				if variant.Item.Type == "function_call" {
					tc := callFor(variant.Item.ID)
					tc.ID = variant.Item.CallID
					tc.Name = variant.Item.Name
					tc.Function.Name = variant.Item.Name
				}

			case responses.ResponseFunctionCallArgumentsDeltaEvent:
				tc := callFor(variant.ItemID)
				tc.Function.Arguments += variant.Delta

			case responses.ResponseFunctionCallArgumentsDoneEvent:
				tc := callFor(variant.ItemID)
				tc.Function.Arguments = variant.Arguments
				if variant.Name != "" {
					tc.Name = variant.Name
					tc.Function.Name = variant.Name
				}

			case responses.ResponseOutputItemDoneEvent:
				// Ensure the call id and name are captured even if late
				if variant.Item.Type == "function_call" {
					tc := callFor(variant.Item.ID)
					if variant.Item.CallID != "" {
						tc.ID = variant.Item.CallID
					}
					if variant.Item.Name != "" {
						tc.Name = variant.Item.Name
						tc.Function.Name = variant.Item.Name
					}
					if variant.Item.Arguments != "" {
						tc.Function.Arguments = variant.Item.Arguments
					}
				}

			case responses.ResponseCompletedEvent:
				lastFinishReason = "stop"
				lastUsage = convertUsage(variant.Response.Usage)

			case responses.ResponseFailedEvent:
				failed = true
				msg := variant.Response.Error.Message
				if msg == "" {
					msg = "response failed"
				}
				chunkCh <- llm.NewErrorChunk("API Response Failed: "+msg, fmt.Errorf("openai: %s", msg), true)

			case responses.ResponseIncompleteEvent:
				lastFinishReason = "length"
				lastUsage = convertUsage(variant.Response.Usage)

			case responses.ResponseErrorEvent:
				failed = true
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("API Error: %s", variant.Message), fmt.Errorf("openai %s: %s", variant.Code, variant.Message), true)
			}
		}

		if thinkingLog.Len() > 0 {
			slog.DebugContext(ctx, "Captured full thinking process", "provider", c.provider, "content", thinkingLog.String())
		}

		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true)
			return
		}
		if failed {
			return
		}

		if len(callOrder) > 0 {
			found := make([]llm.ToolCall, 0, len(callOrder))
			for _, id := range callOrder {
				tc := calls[id]
				if tc.ID == "" {
					tc.ID = id
				}
				found = append(found, *tc)
			}
			chunkCh <- llm.StreamChunk{ToolCalls: found}
			lastFinishReason = llm.StopReasonTool
		}

		llm.LogUsage(ctx, string(params.Model), lastUsage)
		chunkCh <- llm.NewFinalChunk(normalizeStopReason(lastFinishReason), lastUsage)
	}()

	return chunkCh, nil
}

func convertUsage(u responses.ResponseUsage) *llm.LLMUsage {
	if u.TotalTokens == 0 {
		return nil
	}
	return &llm.LLMUsage{
		PromptTokens:     int(u.InputTokens),
		CompletionTokens: int(u.OutputTokens),
		TotalTokens:      int(u.TotalTokens),
		CachedTokens:     int(u.InputTokensDetails.CachedTokens),
		ThoughtsTokens:   int(u.OutputTokensDetails.ReasoningTokens),
	}
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			if !m.HasImages() {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.GetTextContent(),
					responses.EasyInputMessageRoleUser,
				))
				continue
			}
			var contentParts responses.ResponseInputMessageContentListParam
			for _, block := range m.Content {
				switch block.Type {
				case llm.BlockTypeText:
					contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
						OfInputText: &responses.ResponseInputTextParam{Text: block.Text},
					})
				case llm.BlockTypeImage:
					if block.Source == nil {
						continue
					}
					imgURL := block.Source.URL
					if block.Source.Type == "base64" {
						imgURL = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, base64.StdEncoding.EncodeToString(block.Source.Data))
					}
					contentParts = append(contentParts, responses.ResponseInputContentUnionParam{
						OfInputImage: &responses.ResponseInputImageParam{
							Detail:   responses.ResponseInputImageDetailAuto,
							ImageURL: param.NewOpt(imgURL),
						},
					})
				}
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(
				contentParts,
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Function.Arguments,
					tc.ID,
					tc.Name,
				))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.GetTextContent(),
			))
		}
	}

	return items
}

func convertTools(tools []llm.ToolSpec) []responses.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// normalizeStopReason converts OpenAI-specific finish reasons to
// the lowercase constants shared by every provider.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop", "completed":
		return llm.StopReasonStop
	case "length", "max_output_tokens":
		return llm.StopReasonLength
	default:
		return reason
	}
}
