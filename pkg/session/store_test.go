package session_test

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"gptbridge/pkg/session"
)

func contents(turns []session.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}

func exchange(n int) []session.Turn {
	return []session.Turn{
		session.NewTurn(session.RoleUser, fmt.Sprintf("q%d", n)),
		session.NewTurn(session.RoleAssistant, fmt.Sprintf("a%d", n)),
	}
}

func TestHistoryUnknown(t *testing.T) {
	s := session.NewStore(session.Options{})
	if got := s.History("nope"); len(got) != 0 {
		t.Errorf("History = %v", got)
	}
	if len(s.IDs()) != 0 {
		t.Error("reading history created a conversation")
	}
}

func TestAppendAndTrim(t *testing.T) {
	tests := []struct {
		name      string
		opts      session.Options
		exchanges int
		window    int
		want      []string
	}{
		{
			name:      "under window",
			exchanges: 2, window: 10,
			want: []string{"q0", "a0", "q1", "a1"},
		},
		{
			name:      "drops oldest",
			exchanges: 6, window: 10,
			want: []string{"q1", "a1", "q2", "a2", "q3", "a3", "q4", "a4", "q5", "a5"},
		},
		{
			name:      "seed outside window",
			opts:      session.Options{SystemSeed: "seed"},
			exchanges: 3, window: 4,
			want: []string{"seed", "q1", "a1", "q2", "a2"},
		},
		{
			name:      "seed counts against window",
			opts:      session.Options{SystemSeed: "seed", WindowIncludesSystem: true},
			exchanges: 3, window: 4,
			want: []string{"seed", "a1", "q2", "a2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.NewStore(tt.opts)
			var n int
			for i := range tt.exchanges {
				n = s.AppendAndTrim("c", exchange(i), tt.window)
			}
			got := contents(s.History("c"))
			if !slices.Equal(got, tt.want) {
				t.Errorf("History = %v, want %v", got, tt.want)
			}
			if n != len(tt.want) || s.Len("c") != n {
				t.Errorf("count = %d, Len = %d, want %d", n, s.Len("c"), len(tt.want))
			}
		})
	}
}

func TestHistoryIsACopy(t *testing.T) {
	s := session.NewStore(session.Options{})
	s.AppendAndTrim("c", exchange(0), 10)

	h := s.History("c")
	h[0].Content = "changed"
	if s.History("c")[0].Content != "q0" {
		t.Error("caller mutated the stored history")
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	s := session.NewStore(session.Options{})
	s.AppendAndTrim("b", exchange(0), 10)
	s.AppendAndTrim("a", exchange(1), 10)

	if got := contents(s.History("a")); !slices.Equal(got, []string{"q1", "a1"}) {
		t.Errorf("a = %v", got)
	}
	if ids := s.IDs(); !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("IDs = %v", ids)
	}
}

func TestConcurrentAppendKeepsPairs(t *testing.T) {
	s := session.NewStore(session.Options{})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AppendAndTrim("c", exchange(i), 10)
		}()
	}
	wg.Wait()

	h := s.History("c")
	if len(h) != 10 {
		t.Fatalf("len = %d", len(h))
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != session.RoleUser || h[i+1].Role != session.RoleAssistant ||
			h[i].Content[1:] != h[i+1].Content[1:] {
			t.Errorf("interleaved turns at %d: %v %v", i, h[i], h[i+1])
		}
	}
}

func TestZeroWindowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic")
		}
	}()
	session.NewStore(session.Options{}).AppendAndTrim("c", exchange(0), 0)
}
