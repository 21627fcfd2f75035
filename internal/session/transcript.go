package session

import (
	"encoding/json"
	"sync"
	"time"
)

// Role identifies who produced a chat message.
type Role string

const (
	RoleDriver Role = "driver"
	RoleCoach  Role = "coach"
)

// Message is one chat turn.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transcript is the chat history of a session. Append returns a new
// Transcript and leaves the receiver untouched.
type Transcript struct {
	SessionID string          `json:"session_id"`
	Driver    string          `json:"driver,omitempty"`
	Track     string          `json:"track,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Messages  []Message       `json:"messages"`
}

// Append returns a copy of t with m added.
func (t Transcript) Append(m Message) Transcript {
	msgs := make([]Message, len(t.Messages), len(t.Messages)+1)
	copy(msgs, t.Messages)
	t.Messages = append(msgs, m)
	return t
}

// Store keeps the most recent transcripts by session id, evicting the
// oldest once the capacity is reached.
type Store struct {
	capacity int

	mu    sync.Mutex
	order []string
	byID  map[string]Transcript
}

// NewStore returns a Store holding at most capacity transcripts (minimum 1).
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]Transcript),
	}
}

// Get returns the transcript for id.
func (s *Store) Get(id string) (Transcript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}

// Put stores t under t.SessionID.
func (s *Store) Put(t Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.SessionID]; !ok {
		s.order = append(s.order, t.SessionID)
		for len(s.order) > s.capacity {
			delete(s.byID, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.byID[t.SessionID] = t
}

// Len reports how many transcripts are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
