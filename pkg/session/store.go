// Package session keeps per-conversation turn logs in memory and bounds
// each log with a sliding window.
package session

import (
	"sort"
	"sync"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one immutable message of a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with the current time.
func NewTurn(role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now()}
}

// Options configures how a Store seeds and trims conversations.
type Options struct {
	// SystemSeed, when set, is added once as the first turn of every new
	// conversation and is never trimmed.
	SystemSeed string
	// WindowIncludesSystem makes the pinned system turn count against the
	// window. When false the system turn is kept outside the count.
	WindowIncludesSystem bool
}

type conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// Store maps conversation ids to their turn logs. It is safe for
// concurrent use; writes to one conversation never block another.
type Store struct {
	opts          Options
	conversations map[string]*conversation
	mu            sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	return &Store{
		opts:          opts,
		conversations: make(map[string]*conversation),
	}
}

// Options returns the seeding and trimming policy of s.
func (s *Store) Options() Options {
	return s.opts
}

func (s *Store) lookup(id string) (*conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// getOrCreate returns the conversation for id, creating and seeding it on
// first use.
func (s *Store) getOrCreate(id string) *conversation {
	if c, ok := s.lookup(id); ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double check under lock
	if c, ok := s.conversations[id]; ok {
		return c
	}

	c := &conversation{}
	if s.opts.SystemSeed != "" {
		c.turns = append(c.turns, NewTurn(RoleSystem, s.opts.SystemSeed))
	}
	s.conversations[id] = c
	return c
}

// History returns a copy of the turns stored for id, oldest first. An
// unseen id yields an empty history and is not created.
func (s *Store) History(id string) []Turn {
	c, ok := s.lookup(id)
	if !ok {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make([]Turn, len(c.turns))
	copy(cp, c.turns)
	return cp
}

// AppendAndTrim appends turns to the log of id in order, then drops the
// oldest non-system turns until the window bound holds. It returns the
// resulting number of stored turns. window must be positive.
func (s *Store) AppendAndTrim(id string, turns []Turn, window int) int {
	if window <= 0 {
		panic("session: window must be positive")
	}

	c := s.getOrCreate(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turns...)
	c.turns = trim(c.turns, window, s.opts.WindowIncludesSystem)
	return len(c.turns)
}

// trim keeps a leading system turn pinned and the most recent turns after it.
func trim(turns []Turn, window int, includesSystem bool) []Turn {
	pinned := 0
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		pinned = 1
	}

	keep := window
	if includesSystem {
		keep -= pinned
	}
	if keep < 0 {
		keep = 0
	}

	rest := len(turns) - pinned
	if rest <= keep {
		return turns
	}

	out := make([]Turn, 0, pinned+keep)
	out = append(out, turns[:pinned]...)
	return append(out, turns[len(turns)-keep:]...)
}

// Len returns the number of turns stored for id.
func (s *Store) Len(id string) int {
	c, ok := s.lookup(id)
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// IDs returns the known conversation ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
