package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays a fixed sequence of replies. Tests use it to
// drive agents without a live provider; after the script is exhausted
// the last reply repeats.
type ScriptedClient struct {
	Replies   []string
	Err       error
	Transient bool

	mu    sync.Mutex
	next  int
	calls [][]Message
}

func (s *ScriptedClient) Generate(_ context.Context, messages []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]Message(nil), messages...)
	s.calls = append(s.calls, copied)

	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) == 0 {
		return "", nil
	}
	reply := s.Replies[min(s.next, len(s.Replies)-1)]
	s.next++
	return reply, nil
}

func (s *ScriptedClient) IsTransientError(err error) bool {
	return s.Transient && err != nil
}

// Calls returns every message sequence Generate received.
func (s *ScriptedClient) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.calls...)
}
