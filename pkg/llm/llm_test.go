package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gptbridge/pkg/config"
	"gptbridge/pkg/llm"
)

// scriptedClient returns startErrs in order before streaming chunks.
type scriptedClient struct {
	startErrs []error
	chunks    []llm.StreamChunk
	transient bool
	calls     int
	debug     bool
}

func (s *scriptedClient) StreamChat(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	s.calls++
	if len(s.startErrs) > 0 {
		err := s.startErrs[0]
		s.startErrs = s.startErrs[1:]
		return nil, err
	}
	ch := make(chan llm.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedClient) IsTransientError(error) bool { return s.transient }

func (s *scriptedClient) SetDebug(enabled bool) { s.debug = enabled }

func textStream(parts ...string) []llm.StreamChunk {
	var out []llm.StreamChunk
	for _, p := range parts {
		out = append(out, llm.NewTextChunk(p))
	}
	return append(out, llm.NewFinalChunk(llm.StopReasonStop, &llm.LLMUsage{TotalTokens: 3}))
}

func TestCompleteAggregates(t *testing.T) {
	c := &scriptedClient{chunks: append([]llm.StreamChunk{llm.NewThinkingChunk("hmm")}, textStream("Hola", " mundo")...)}

	got, err := llm.Complete(context.Background(), c, nil, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "Hola mundo" || got.Thinking != "hmm" {
		t.Errorf("got %+v", got)
	}
	if got.FinishReason != llm.StopReasonStop || got.Usage.TotalTokens != 3 {
		t.Errorf("finish/usage = %q %+v", got.FinishReason, got.Usage)
	}

	msg := got.Message()
	if msg.Role != llm.RoleAssistant || msg.GetTextContent() != "Hola mundo" {
		t.Errorf("message = %+v", msg)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "web_search", Function: llm.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`}}
	c := &scriptedClient{chunks: []llm.StreamChunk{{ToolCalls: []llm.ToolCall{call}}, {IsFinal: true}}}

	got, err := llm.Complete(context.Background(), c, nil, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(got.ToolCalls) != 1 || got.FinishReason != llm.StopReasonTool {
		t.Errorf("got %+v", got)
	}
}

func TestCompleteFatalChunk(t *testing.T) {
	c := &scriptedClient{chunks: []llm.StreamChunk{llm.NewTextChunk("a"), llm.NewErrorChunk("Stream error: boom", nil, true)}}
	if _, err := llm.Complete(context.Background(), c, nil, nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}

	// non fatal errors are ignored
	c = &scriptedClient{chunks: append([]llm.StreamChunk{llm.NewErrorChunk("truncated", nil, false)}, textStream("ok")...)}
	if got, err := llm.Complete(context.Background(), c, nil, nil); err != nil || got.Text != "ok" {
		t.Fatalf("got %+v, err %v", got, err)
	}
}

func TestStreamCallbackAbort(t *testing.T) {
	c := &scriptedClient{chunks: textStream("a", "b", "c")}
	stop := errors.New("client gone")

	var seen []string
	_, err := llm.Stream(context.Background(), c, nil, nil, func(s string) error {
		seen = append(seen, s)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || len(seen) != 2 {
		t.Fatalf("err = %v, seen = %v", err, seen)
	}
}

func TestCompleteDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	c := &scriptedClient{startErrs: []error{errors.New("dial tcp: i/o timeout")}}
	_, err := llm.Complete(ctx, c, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestFallbackClient(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		first := &scriptedClient{startErrs: []error{errors.New("503")}, transient: true, chunks: textStream("ok")}
		f := &llm.FallbackClient{Clients: []llm.LLMClient{first}, MaxRetries: 2, RetryDelay: time.Millisecond}

		got, err := llm.Complete(context.Background(), f, nil, nil)
		if err != nil || got.Text != "ok" || first.calls != 2 {
			t.Fatalf("got %+v, err %v, calls %d", got, err, first.calls)
		}
	})

	t.Run("falls back on permanent errors", func(t *testing.T) {
		first := &scriptedClient{startErrs: []error{errors.New("401"), errors.New("401")}}
		second := &scriptedClient{chunks: textStream("second")}
		f := &llm.FallbackClient{Clients: []llm.LLMClient{first, second}, MaxRetries: 3}

		got, err := llm.Complete(context.Background(), f, nil, nil)
		if err != nil || got.Text != "second" || first.calls != 1 {
			t.Fatalf("got %+v, err %v, calls %d", got, err, first.calls)
		}
	})

	t.Run("wraps the last error", func(t *testing.T) {
		last := errors.New("quota exceeded")
		f := &llm.FallbackClient{Clients: []llm.LLMClient{&scriptedClient{startErrs: []error{last}}}}

		_, err := f.StreamChat(context.Background(), nil, nil)
		if !errors.Is(err, last) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if _, err := (&llm.FallbackClient{}).StreamChat(context.Background(), nil, nil); !errors.Is(err, llm.ErrNoProvider) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("propagates debug", func(t *testing.T) {
		c := &scriptedClient{}
		(&llm.FallbackClient{Clients: []llm.LLMClient{c}}).SetDebug(true)
		if !c.debug {
			t.Fatal("debug not propagated")
		}
	})
}

type fakeFactory struct {
	clients []llm.LLMClient
	err     error
}

func (f *fakeFactory) Create(llm.ProviderGroupConfig, *config.SystemConfig) ([]llm.LLMClient, error) {
	return f.clients, f.err
}

func TestNewFromConfig(t *testing.T) {
	a, b := &scriptedClient{}, &scriptedClient{}
	llm.RegisterProvider("fake-one", &fakeFactory{clients: []llm.LLMClient{a}})
	llm.RegisterProvider("fake-two", &fakeFactory{clients: []llm.LLMClient{a, b}})
	llm.RegisterProvider("fake-broken", &fakeFactory{err: errors.New("bad key")})

	sys := config.DefaultSystemConfig()
	sys.DebugChunks = true

	single, err := llm.NewFromConfig([]byte(`[{"type":"fake-one","models":["m"]},{"type":"unknown"}]`), sys)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if single != a || !a.debug {
		t.Errorf("single = %T, debug = %v", single, a.debug)
	}

	chain, err := llm.NewFromConfig([]byte(`[{"type":"fake-broken"},{"type":"fake-two","models":["m"]}]`), sys)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	fb, ok := chain.(*llm.FallbackClient)
	if !ok || len(fb.Clients) != 2 || fb.MaxRetries != sys.MaxRetries {
		t.Errorf("chain = %+v", chain)
	}

	if _, err := llm.NewFromConfig([]byte(`[{"type":"fake-broken"}]`), sys); !errors.Is(err, llm.ErrNoProvider) {
		t.Errorf("err = %v", err)
	}
	if _, err := llm.NewFromConfig(nil, sys); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestCallOptions(t *testing.T) {
	ctx := llm.WithCallOptions(context.Background(), llm.CallOptions{Model: "gpt-4.1-nano", MaxTokens: 150, Temperature: llm.Temperature(0.3)})
	got := llm.CallOptionsFrom(ctx)
	if got.Model != "gpt-4.1-nano" || got.MaxTokens != 150 || *got.Temperature != 0.3 {
		t.Errorf("got %+v", got)
	}
	if zero := llm.CallOptionsFrom(context.Background()); zero.Model != "" || zero.Temperature != nil {
		t.Errorf("zero = %+v", zero)
	}
}
