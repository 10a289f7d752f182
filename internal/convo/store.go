// Package convo maintains bounded per-conversation dialogue state.
//
// A [Store] owns one [Context] per conversation identifier (a resolved
// user or group key). Contexts live for the process lifetime; a reset
// replaces the message sequence rather than destroying the context.
package convo

import (
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation. Attachments are opaque
// references (file IDs, paths) carried alongside the text.
type Message struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// Context is the ordered message sequence for one conversation.
// Element 0 is always the system message and is never pruned.
//
// A Context is not internally synchronized. Callers must hold the lock
// via [Context.Lock] for the full read-modify-write cycle of a turn so
// two turns for the same conversation never interleave. Different
// conversations proceed concurrently.
type Context struct {
	mu       sync.Mutex
	messages []Message
}

// Lock acquires the per-conversation critical section.
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the per-conversation critical section.
func (c *Context) Unlock() { c.mu.Unlock() }

// Len returns the number of messages.
func (c *Context) Len() int { return len(c.messages) }

// Messages returns a copy of the message sequence.
func (c *Context) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds a message to the end of the sequence.
func (c *Context) Append(m Message) {
	c.messages = append(c.messages, m)
}

// Insert places a message at index i, shifting later messages down.
func (c *Context) Insert(i int, m Message) {
	if i < 0 || i > len(c.messages) {
		i = len(c.messages)
	}
	c.messages = append(c.messages[:i], append([]Message{m}, c.messages[i:]...)...)
}

// Remove deletes the message at index i. Out-of-range indices are
// ignored.
func (c *Context) Remove(i int) {
	if i < 0 || i >= len(c.messages) {
		return
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
}

// TrimTailWhile removes messages from the tail, newest first, while
// keep returns true. The system message at index 0 is never removed.
// Used at finalize to strip tool-call scaffolding that should not
// survive the turn.
func (c *Context) TrimTailWhile(keep func(Message) bool) {
	for len(c.messages) > 1 && keep(c.messages[len(c.messages)-1]) {
		c.messages = c.messages[:len(c.messages)-1]
	}
}

// Snapshot returns a copy of the current message sequence for later
// Restore. The orchestrator snapshots at turn start so a failed model
// call does not commit partial state.
func (c *Context) Snapshot() []Message {
	return c.Messages()
}

// Restore replaces the message sequence with a previous snapshot.
func (c *Context) Restore(snap []Message) {
	c.messages = make([]Message, len(snap))
	copy(c.messages, snap)
}

// Prune drops old messages until the sequence fits the byte budget.
//
// The budget is expressed in UTF-8 bytes of message content, a
// documented approximation of the model's token window, not an exact
// token count. The system message (index 0) is always retained and its
// size seeds the running total. Remaining messages are walked newest to
// oldest, each kept only while the running total stays at or below the
// budget; the walk stops at the first message that would exceed it, so
// everything older is dropped too. Relative order of kept messages is
// preserved.
//
// Pruning twice with the same budget is idempotent. Pruning again with
// a smaller budget can drop more messages; that is intended.
func (c *Context) Prune(budget int) {
	if len(c.messages) == 0 {
		return
	}

	total := len(c.messages[0].Content)
	keepFrom := len(c.messages)
	for i := len(c.messages) - 1; i > 0; i-- {
		size := len(c.messages[i].Content)
		if total+size > budget {
			break
		}
		total += size
		keepFrom = i
	}

	if keepFrom == 1 {
		return
	}
	pruned := make([]Message, 0, 1+len(c.messages)-keepFrom)
	pruned = append(pruned, c.messages[0])
	pruned = append(pruned, c.messages[keepFrom:]...)
	c.messages = pruned
}

// SystemPromptFunc supplies the current system message content. It is
// a function rather than a string because the capability list embedded
// in the prompt can change while the process runs.
type SystemPromptFunc func() string

// Store maps conversation identifiers to their contexts.
type Store struct {
	mu           sync.Mutex
	contexts     map[string]*Context
	systemPrompt SystemPromptFunc
}

// NewStore creates a conversation store. systemPrompt seeds new and
// reset contexts.
func NewStore(systemPrompt SystemPromptFunc) *Store {
	return &Store{
		contexts:     make(map[string]*Context),
		systemPrompt: systemPrompt,
	}
}

// Get returns the context for id, creating a fresh one seeded with the
// current system message if absent.
func (s *Store) Get(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	if !ok {
		c = &Context{messages: []Message{{Role: RoleSystem, Content: s.systemPrompt()}}}
		s.contexts[id] = c
	}
	return c
}

// Reset replaces the conversation's message sequence with a fresh one
// seeded with the current system message.
func (s *Store) Reset(id string) {
	c := s.Get(id)
	c.Lock()
	defer c.Unlock()
	c.messages = []Message{{Role: RoleSystem, Content: s.systemPrompt()}}
}

// Len returns the number of live contexts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}
