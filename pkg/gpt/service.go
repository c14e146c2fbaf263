// Package gpt implements the pass-through assistant use cases: text
// completions over the LLM chain and OpenAI speech, transcription and
// image endpoints.
package gpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gptbridge/pkg/llm"
	"gptbridge/pkg/llm/openailm"
	"gptbridge/pkg/media"
	"gptbridge/pkg/session"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidInput is returned when a request fails local validation.
var ErrInvalidInput = errors.New("invalid input")

// Models used by the use cases.
const (
	DefaultTextModel = "gpt-4.1-nano"
	ResumeModel      = "gpt-4o-mini"
)

// Limits applied to the text use cases.
const (
	shortAnswerTokens = 150
	prosConsTokens    = 600
	resumeTokens      = 3000
	resumeTemperature = 0.3

	maxCVLength   = 15000
	maxFormLength = 10000
	maxGoalLength = 500

	// JavascriptWindow bounds each javascript developer chat, seed included.
	JavascriptWindow = 10
)

// MediaProvider is the OpenAI surface used for audio, images and single
// Responses calls. *openailm.MediaClient implements it.
type MediaProvider interface {
	Speech(ctx context.Context, text, voice string) (io.ReadCloser, error)
	Transcribe(ctx context.Context, file io.Reader, prompt, language string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (*openailm.ImageResult, error)
	EditImage(ctx context.Context, prompt string, image, mask []byte) (*openailm.ImageResult, error)
	Variation(ctx context.Context, image []byte) (*openailm.ImageResult, error)
	Respond(ctx context.Context, instructions, input, model string, maxTokens int, temperature float64) (string, int, error)
}

// Options configures a Service.
type Options struct {
	// TextModel overrides DefaultTextModel for the text use cases.
	TextModel string
	// MaxUploadBytes caps transcription uploads.
	MaxUploadBytes int64
}

// Service runs the use cases. It is safe for concurrent use.
type Service struct {
	client llm.LLMClient
	media  MediaProvider
	files  *media.Store
	chats  *session.Store
	opts   Options
}

// NewService wires a Service. The javascript developer chats get their own
// seeded store.
func NewService(client llm.LLMClient, provider MediaProvider, files *media.Store, opts Options) *Service {
	if opts.TextModel == "" {
		opts.TextModel = DefaultTextModel
	}
	return &Service{
		client: client,
		media:  provider,
		files:  files,
		chats: session.NewStore(session.Options{
			SystemSeed:           JavascriptDeveloperSeed,
			WindowIncludesSystem: true,
		}),
		opts: opts,
	}
}

// Files returns the media store.
func (s *Service) Files() *media.Store {
	return s.files
}

// Chats returns the javascript developer conversation store.
func (s *Service) Chats() *session.Store {
	return s.chats
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func maxLength(field, value string, limit int) error {
	if n := len([]rune(value)); n > limit {
		return invalid("%s cannot exceed %d characters", field, limit)
	}
	return nil
}

// textCall prepares the per-call options of a text use case.
func (s *Service) textCall(ctx context.Context, maxTokens int) context.Context {
	return llm.WithCallOptions(ctx, llm.CallOptions{
		Model:     s.opts.TextModel,
		MaxTokens: maxTokens,
	})
}

func (s *Service) complete(ctx context.Context, maxTokens int, messages ...llm.Message) (string, error) {
	start := time.Now()
	completion, err := llm.Complete(s.textCall(ctx, maxTokens), s.client, messages, nil)
	if err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "Completion finished", "model", s.opts.TextModel, "duration", time.Since(start), "finish", completion.FinishReason)
	return strings.TrimSpace(completion.Text), nil
}
