package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Completion 為一次串流呼叫彙整後的結果
type Completion struct {
	Text         string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *LLMUsage
}

// Message 將 Completion 轉為可放回對話脈絡的 assistant 訊息
func (c *Completion) Message() Message {
	msg := Message{Role: RoleAssistant}
	if c.Thinking != "" {
		msg.AddContentBlock(NewThinkingBlock(c.Thinking))
	}
	if c.Text != "" {
		msg.AddContentBlock(NewTextBlock(c.Text))
	}
	msg.ToolCalls = c.ToolCalls
	return msg
}

// Complete 呼叫 client 並等待整個串流結束
func Complete(ctx context.Context, client LLMClient, messages []Message, tools []ToolSpec) (*Completion, error) {
	return Stream(ctx, client, messages, tools, nil)
}

// Stream 呼叫 client，每收到一段文字就交給 onText，最後回傳彙整結果。
// onText 回傳錯誤時會中止並回傳該錯誤。
func Stream(ctx context.Context, client LLMClient, messages []Message, tools []ToolSpec, onText func(string) error) (*Completion, error) {
	chunkCh, err := client.StreamChat(ctx, messages, tools)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}

	// 提前返回時仍需排空 channel，避免 Provider 的 goroutine 卡住
	drained := false
	defer func() {
		if !drained {
			go func() {
				for range chunkCh {
				}
			}()
		}
	}()

	var text, thinking strings.Builder
	result := &Completion{}

	for chunk := range chunkCh {
		if chunk.RawError != nil {
			return nil, withContextErr(ctx, chunk.RawError)
		}
		if chunk.Error != "" && chunk.Fatal {
			return nil, withContextErr(ctx, errors.New(chunk.Error))
		}

		for _, block := range chunk.ContentBlocks {
			switch block.Type {
			case BlockTypeText:
				text.WriteString(block.Text)
				if onText != nil && block.Text != "" {
					if err := onText(block.Text); err != nil {
						return nil, err
					}
				}
			case BlockTypeThinking:
				thinking.WriteString(block.Text)
			}
		}

		result.ToolCalls = append(result.ToolCalls, chunk.ToolCalls...)

		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		if chunk.IsFinal {
			result.FinishReason = chunk.FinishReason
		}
	}
	drained = true

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Text = text.String()
	result.Thinking = thinking.String()
	if len(result.ToolCalls) > 0 && result.FinishReason == "" {
		result.FinishReason = StopReasonTool
	}
	return result, nil
}

// withContextErr 讓逾時與取消可以透過 errors.Is 判斷
func withContextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
