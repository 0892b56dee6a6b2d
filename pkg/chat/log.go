package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only record of a conversation. Rendering, copy and
// export are projections of it.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
}

// NewLog creates a log seeded with existing messages
func NewLog(initial ...Message) *Log {
	l := &Log{index: make(map[string]int)}
	for _, msg := range initial {
		l.Append(msg)
	}
	return l
}

// Append adds msg, filling in a missing id or timestamp, and returns the
// stored copy
func (l *Log) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	return msg
}

// Messages returns a copy of every entry
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Since returns the entries at position n and later
func (l *Log) Since(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(l.messages) {
		return nil
	}
	out := make([]Message, len(l.messages)-n)
	copy(out, l.messages[n:])
	return out
}

// Get looks up an entry by id
func (l *Log) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[i], true
}

// LastUserMessage returns the most recent user entry
func (l *Log) LastUserMessage() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == RoleUser {
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
