package gpt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gptbridge/pkg/llm"
	"gptbridge/pkg/session"
)

// OrthographyResult is the spelling review of a text.
type OrthographyResult struct {
	UserScore float64  `json:"userScore"`
	Errors    []string `json:"errors"`
	Message   string   `json:"message"`
}

// ProsConsResult is the markdown pros/cons answer.
type ProsConsResult struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranslateResult wraps a translation.
type TranslateResult struct {
	Message string `json:"message"`
}

// Orthography asks the model to correct prompt and score the writer.
func (s *Service) Orthography(ctx context.Context, prompt string) (*OrthographyResult, error) {
	if err := required("prompt", prompt); err != nil {
		return nil, err
	}

	text, err := s.complete(ctx, shortAnswerTokens,
		llm.NewSystemMessage(orthographyPrompt),
		llm.NewUserMessage(prompt),
	)
	if err != nil {
		return nil, err
	}

	var result OrthographyResult
	if err := json.Unmarshal([]byte(extractJSON(text)), &result); err != nil {
		return nil, fmt.Errorf("orthography: model returned invalid json: %w", err)
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	return &result, nil
}

// extractJSON strips markdown fences and any text around the outer object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		text, _, _ = strings.Cut(rest, "```")
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// BasicPrompt forwards prompt as a single user message.
func (s *Service) BasicPrompt(ctx context.Context, prompt string) (string, error) {
	if err := required("prompt", prompt); err != nil {
		return "", err
	}
	return s.complete(ctx, shortAnswerTokens, llm.NewUserMessage(prompt))
}

func prosConsMessages(prompt string) []llm.Message {
	return []llm.Message{
		llm.NewSystemMessage(prosConsPrompt),
		llm.NewUserMessage(prompt),
	}
}

// ProsCons returns a markdown list of pros and cons for prompt.
func (s *Service) ProsCons(ctx context.Context, prompt string) (*ProsConsResult, error) {
	if err := required("prompt", prompt); err != nil {
		return nil, err
	}
	text, err := s.complete(ctx, prosConsTokens, prosConsMessages(prompt)...)
	if err != nil {
		return nil, err
	}
	return &ProsConsResult{Role: llm.RoleAssistant, Content: text}, nil
}

// ProsConsStream writes the pros/cons answer to w as text deltas arrive.
// Nothing is written when validation or the initial call fails.
func (s *Service) ProsConsStream(ctx context.Context, prompt string, w io.Writer) error {
	if err := required("prompt", prompt); err != nil {
		return err
	}
	_, err := llm.Stream(s.textCall(ctx, prosConsTokens), s.client, prosConsMessages(prompt), nil, func(delta string) error {
		_, err := io.WriteString(w, delta)
		return err
	})
	return err
}

// Translate translates prompt into lang.
func (s *Service) Translate(ctx context.Context, prompt, lang string) (*TranslateResult, error) {
	if err := required("prompt", prompt); err != nil {
		return nil, err
	}
	if err := required("lang", lang); err != nil {
		return nil, err
	}
	text, err := s.complete(ctx, 0, llm.NewSystemMessage(translatePrompt(lang, prompt)))
	if err != nil {
		return nil, err
	}
	return &TranslateResult{Message: text}, nil
}

// JavascriptDeveloper continues a seeded developer chat. The exchange is
// stored only when the model answers.
func (s *Service) JavascriptDeveloper(ctx context.Context, prompt, conversationID string) (string, error) {
	if err := required("prompt", prompt); err != nil {
		return "", err
	}
	if err := required("conversationId", conversationID); err != nil {
		return "", err
	}

	history := s.chats.History(conversationID)
	if len(history) == 0 {
		history = []session.Turn{session.NewTurn(session.RoleSystem, JavascriptDeveloperSeed)}
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.NewTextMessage(t.Role, t.Content))
	}
	messages = append(messages, llm.NewUserMessage(prompt))

	answer, err := s.complete(ctx, 0, messages...)
	if err != nil {
		return "", err
	}

	s.chats.AppendAndTrim(conversationID, []session.Turn{
		session.NewTurn(session.RoleUser, prompt),
		session.NewTurn(session.RoleAssistant, answer),
	}, JavascriptWindow)
	return answer, nil
}
