package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gptbridge/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaFunctionCall 為 ToolCall.Meta 中保存原始 FunctionCall 的 key
const metaFunctionCall = "gemini_function_call"

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
	options      map[string]any
}

// SetDebug implements llm.DebugSetter
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key.
// baseURL 為空時使用官方端點
func NewGeminiClient(apiKey, model, baseURL string, useThought bool, options map[string]any) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		options:    options,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// formatModality formats ModalityTokenCount array for logging
func formatModality(details []*genai.ModalityTokenCount) string {
	if len(details) == 0 {
		return "0"
	}
	var res []string
	for _, d := range details {
		res = append(res, fmt.Sprintf("%v: %d", d.Modality, d.TokenCount))
	}
	return strings.Join(res, " | ")
}

// buildConfig 將 system instruction、工具與呼叫參數轉為 GenerateContentConfig
func (g *GeminiClient) buildConfig(call llm.CallOptions, system *genai.Content, tools []llm.ToolSpec) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             convertTools(tools),
	}

	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	if call.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*call.Temperature))
	} else if t, ok := g.options["temperature"].(float64); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}

	if p, ok := g.options["top_p"].(float64); ok {
		cfg.TopP = genai.Ptr(float32(p))
	}

	if call.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(call.MaxTokens)
	} else if maxTok, ok := g.options["max_tokens"].(float64); ok && maxTok > 0 {
		cfg.MaxOutputTokens = int32(maxTok)
	}

	return cfg
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	call := llm.CallOptionsFrom(ctx)
	model := g.model
	if call.Model != "" {
		model = call.Model
	}

	apiMessages, systemInstruction := convertMessages(messages)
	genCfg := g.buildConfig(call, systemInstruction, tools)

	chunkCh := make(chan llm.StreamChunk, 100)
	// 第一個 chunk 或錯誤回報給呼叫端，讓 FallbackClient 可以改用下一個 Provider
	startResultCh := make(chan error, 1)

	slog.DebugContext(ctx, "Gemini streaming", "model", model)

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, g.Provider(), g.debugEnabled)
		defer debugger.Close()

		started := false
		var lastUsage *llm.LLMUsage
		finishReason := ""
		callSeq := 0

		iter := g.client.Models.GenerateContentStream(ctx, model, apiMessages, genCfg)
		for resp, err := range iter {
			if resp != nil {
				debugger.WriteJSON(resp)
			}
			if err != nil {
				if resp == nil {
					if !started {
						startResultCh <- err
						return
					}
					// Stream interrupted, notify user
					chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
					return
				}
				// SDK 可能同時回傳資料與錯誤，先處理資料
				slog.WarnContext(ctx, "Gemini stream error with data", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			// Capture Usage Metadata (usually in the last chunk)
			if u := resp.UsageMetadata; u != nil {
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					PromptDetail:     formatModality(u.PromptTokensDetails),
					CompletionTokens: int(u.CandidatesTokenCount),
					CompletionDetail: formatModality(u.CandidatesTokensDetails),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" {
					finishReason = normalizeStopReason(candidate.FinishReason)
				}

				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				var toolCalls []llm.ToolCall

				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if part.Thought {
							blocks = append(blocks, llm.NewThinkingBlock(part.Text))
						} else {
							blocks = append(blocks, llm.NewTextBlock(part.Text))
						}
					}

					if fc := part.FunctionCall; fc != nil {
						callSeq++
						argsB, _ := json.Marshal(fc.Args)
						id := fc.ID
						if id == "" {
							// Gemini stream IDs are sometimes missing here
							id = fmt.Sprintf("gemini_call_%d", callSeq)
						}
						toolCalls = append(toolCalls, llm.ToolCall{
							ID:   id,
							Name: fc.Name,
							Function: llm.FunctionCall{
								Name:      fc.Name,
								Arguments: string(argsB),
							},
							// Save original FunctionCall for reconstruction (includes thought_signature, etc.)
							Meta: map[string]any{metaFunctionCall: fc},
						})
						slog.DebugContext(ctx, "Gemini tool call", "name", fc.Name, "args", string(argsB))
					}
				}

				if len(blocks) > 0 || len(toolCalls) > 0 {
					chunkCh <- llm.StreamChunk{
						ContentBlocks: blocks,
						ToolCalls:     toolCalls,
					}
				}
			}
		}

		if !started {
			startResultCh <- nil
		}

		if callSeq > 0 {
			finishReason = llm.StopReasonTool
		}
		if lastUsage != nil {
			lastUsage.StopReason = finishReason
			llm.LogUsage(ctx, model, lastUsage)
		}
		chunkCh <- llm.NewFinalChunk(finishReason, lastUsage)
	}()

	// Wait for initialization result (first chunk or immediate error)
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func normalizeStopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.StopReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.StopReasonLength
	default:
		return strings.ToLower(string(reason))
	}
}

// convertTools 將 ToolSpec 轉為 FunctionDeclaration（schema 以 JSON 轉換）
func convertTools(tools []llm.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.Parameters != nil {
			fd.ParametersJsonSchema = t.Parameters
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// convertMessages converts message list to GenAI format
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if text := msg.GetTextContent(); text != "" {
				if systemInstruction == nil {
					systemInstruction = &genai.Content{}
				}
				systemInstruction.Parts = append(systemInstruction.Parts, &genai.Part{Text: text})
			}
			continue

		case llm.RoleTool:
			// Tool results are part of user role in Gemini
			genaiContents = append(genaiContents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: map[string]any{"result": msg.GetTextContent()},
					},
				}},
			})
			continue
		}

		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, tc := range msg.ToolCalls {
			// Use original FunctionCall if available (includes thought_signature)
			if originalFC, ok := tc.Meta[metaFunctionCall].(*genai.FunctionCall); ok {
				parts = append(parts, &genai.Part{FunctionCall: originalFC})
				continue
			}

			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			case llm.BlockTypeThinking:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text, Thought: true})
				}
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: block.Source.MediaType,
							Data:     block.Source.Data,
						},
					})
				}
			}
		}

		if len(parts) > 0 {
			genaiContents = append(genaiContents, &genai.Content{Role: string(role), Parts: parts})
		}
	}

	return genaiContents, systemInstruction
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 1. Google API common 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}

	// 2. 429 Too Many Requests (Rate Limit)
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}

	// 3. 500 Internal Error (Occasional Google Gemini crashes)
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}

	return false
}
