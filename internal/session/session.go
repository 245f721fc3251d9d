// Package session provides bounded multi-turn conversation memory.
package session

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// estimatedTokensPerMessage is the flat per-message token estimate used for
// the budget bound. No tokenizer runs here; the bound only has to keep
// prompts from growing without limit.
const estimatedTokensPerMessage = 150

// Defaults applied by Config.withDefaults.
const (
	DefaultMaxMessages = 20
	DefaultMaxTokens   = 4000
)

// Config bounds a session.
type Config struct {
	MaxMessages int
	MaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Message is one conversation turn. Metadata carries per-turn annotations
// such as the documents an assistant answer drew on and its confidence.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is a bounded conversation. It is not safe for concurrent use;
// callers serialize access per session (the Redis store's per-session lock,
// or the in-memory store's mutex).
type Session struct {
	ID            string    `json:"id"`
	Messages      []Message `json:"messages"`
	DocumentsUsed []string  `json:"documents_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New creates an empty session.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Append adds a message and evicts oldest-first until both bounds hold.
// Eviction runs after every append, so a session loaded from an older
// configuration shrinks on its next turn.
func (s *Session) Append(role, content string, cfg Config) {
	s.AppendWithMetadata(role, content, nil, cfg)
}

// AppendWithMetadata adds an annotated message and evicts oldest-first
// until both bounds hold. The just-appended message always survives, even
// when the token budget is smaller than a single message estimate.
func (s *Session) AppendWithMetadata(role, content string, metadata map[string]any, cfg Config) {
	cfg = cfg.withDefaults()

	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Metadata: metadata, Timestamp: now})
	s.UpdatedAt = now

	for len(s.Messages) > 1 &&
		(len(s.Messages) > cfg.MaxMessages || len(s.Messages)*estimatedTokensPerMessage > cfg.MaxTokens) {
		s.Messages = s.Messages[1:]
	}
}

// AddDocuments unions document names into DocumentsUsed, preserving first
// occurrence order.
func (s *Session) AddDocuments(documents ...string) {
	for _, doc := range documents {
		if doc != "" && !slices.Contains(s.DocumentsUsed, doc) {
			s.DocumentsUsed = append(s.DocumentsUsed, doc)
		}
	}
}

// Transcript renders the last n messages as a prompt fragment. A
// non-positive n renders everything.
func (s *Session) Transcript(n int) string {
	messages := s.Messages
	if n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	lines := make([]string, len(messages))
	for i, m := range messages {
		speaker := "User"
		if m.Role == RoleAssistant {
			speaker = "Assistant"
		}
		lines[i] = fmt.Sprintf("%s: %s", speaker, m.Content)
	}
	return strings.Join(lines, "\n\n")
}

// EstimatedTokens is the token budget consumed by the session.
func (s *Session) EstimatedTokens() int {
	return len(s.Messages) * estimatedTokensPerMessage
}

// Stats summarizes a session for listings.
type Stats struct {
	ID            string        `json:"id"`
	MessageCount  int           `json:"message_count"`
	UserMessages  int           `json:"user_messages"`
	DocumentsUsed []string      `json:"documents_used,omitempty"`
	Duration      time.Duration `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Stats computes summary statistics.
func (s *Session) Stats() Stats {
	users := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			users++
		}
	}
	return Stats{
		ID:            s.ID,
		MessageCount:  len(s.Messages),
		UserMessages:  users,
		DocumentsUsed: s.DocumentsUsed,
		Duration:      s.UpdatedAt.Sub(s.CreatedAt),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
