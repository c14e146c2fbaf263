package gemini

import (
	"errors"
	"testing"

	"gptbridge/pkg/llm"

	"google.golang.org/genai"
)

func TestConvertMessages(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "web_search", Function: llm.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`}}
	contents, system := convertMessages([]llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hola"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.NewToolResultMessage(call, "1. Go\n lang\n https://go.dev"),
	})

	if system == nil || len(system.Parts) != 1 || system.Parts[0].Text != "be brief" {
		t.Fatalf("system = %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d", len(contents))
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall.Args["query"] != "go" {
		t.Errorf("model turn = %+v", contents[1].Parts[0].FunctionCall)
	}
	resp := contents[2].Parts[0].FunctionResponse
	if resp == nil || resp.Name != "web_search" || resp.Response["result"] == "" {
		t.Errorf("function response = %+v", resp)
	}
}

func TestConvertTools(t *testing.T) {
	if convertTools(nil) != nil {
		t.Error("nil tools should stay nil")
	}
	tools := convertTools([]llm.ToolSpec{{Name: "web_search", Description: "d", Parameters: map[string]any{"type": "object"}}})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 || tools[0].FunctionDeclarations[0].Name != "web_search" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestIsTransientError(t *testing.T) {
	g := &GeminiClient{}
	for _, msg := range []string{"Error 503, Model is overloaded", "429 RESOURCE_EXHAUSTED"} {
		if !g.IsTransientError(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}
	if g.IsTransientError(errors.New("400 invalid argument")) {
		t.Error("400 should not be transient")
	}
}
