package server_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"gptbridge/pkg/llm"
	"gptbridge/pkg/llm/openailm"
	"gptbridge/pkg/search"
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP API Suite")
}

// scriptedLLM answers with respond, which sees the whole context.
type scriptedLLM struct {
	mu      sync.Mutex
	respond func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (string, error)
	calls   int
}

func (f *scriptedLLM) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.calls++
	respond := f.respond
	f.mu.Unlock()

	text, err := respond(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(text, " ")
	ch := make(chan llm.StreamChunk, len(words)+1)
	for _, w := range words {
		ch <- llm.NewTextChunk(w)
	}
	ch <- llm.NewFinalChunk(llm.StopReasonStop, nil)
	close(ch)
	return ch, nil
}

func (f *scriptedLLM) IsTransientError(error) bool { return false }

func lastUser(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].GetTextContent()
		}
	}
	return ""
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string) ([]search.Result, error) {
	return []search.Result{{Title: "Go", Snippet: "lang", Link: "https://go.dev"}}, nil
}

type stubMedia struct {
	imageURL string
}

func (m *stubMedia) Speech(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("ID3 fake audio")), nil
}

func (m *stubMedia) Transcribe(_ context.Context, file io.Reader, _, _ string) (string, error) {
	data, _ := io.ReadAll(file)
	return "heard " + string(data), nil
}

func (m *stubMedia) GenerateImage(context.Context, string) (*openailm.ImageResult, error) {
	return &openailm.ImageResult{URL: m.imageURL, RevisedPrompt: "revised"}, nil
}

func (m *stubMedia) EditImage(context.Context, string, []byte, []byte) (*openailm.ImageResult, error) {
	return &openailm.ImageResult{URL: m.imageURL}, nil
}

func (m *stubMedia) Variation(context.Context, []byte) (*openailm.ImageResult, error) {
	return &openailm.ImageResult{URL: m.imageURL}, nil
}

func (m *stubMedia) Respond(context.Context, string, string, string, int, float64) (string, int, error) {
	return "better cv", 42, nil
}

func newImageServer() *httptest.Server {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3)))).To(Succeed())
	data := buf.Bytes()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
}
