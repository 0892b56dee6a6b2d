package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/killallgit/threadline/pkg/config"
)

// Sink receives the messages of every finalized turn
type Sink interface {
	Record(ctx context.Context, messages []Message) error
}

// History persists finalized messages to a JSON file
type History struct {
	Messages []Message `json:"messages"`
	mu       sync.RWMutex
	filePath string
}

// NewHistory opens the history file at filePath, loading existing messages
// when preserve is set and starting an empty file otherwise
func NewHistory(filePath string, preserve bool) (*History, error) {
	h := &History{
		Messages: make([]Message, 0),
		filePath: filePath,
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	if _, err := os.Stat(filePath); err == nil && preserve {
		if err := h.Load(); err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		return h, nil
	}

	if err := h.Save(); err != nil {
		return nil, err
	}
	return h, nil
}

// Record appends the messages of a finalized turn and saves the file
func (h *History) Record(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = append(h.Messages, messages...)
	return h.save(ctx)
}

// GetMessages returns all messages in the history
func (h *History) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := make([]Message, len(h.Messages))
	copy(msgs, h.Messages)
	return msgs
}

// GetLastN returns the last N messages from history
func (h *History) GetLastN(n int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || len(h.Messages) == 0 {
		return []Message{}
	}
	if n > len(h.Messages) {
		n = len(h.Messages)
	}

	result := make([]Message, n)
	copy(result, h.Messages[len(h.Messages)-n:])
	return result
}

// Clear clears the history
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = make([]Message, 0)
	return h.save(context.Background())
}

// Path returns the history file location
func (h *History) Path() string {
	return h.filePath
}

// Save saves the history to disk
func (h *History) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.save(context.Background())
}

// save replaces the file while holding its lock
func (h *History) save(ctx context.Context) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := config.AtomicWrite(ctx, h.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// Load loads the history from disk
func (h *History) Load() error {
	data, err := os.ReadFile(h.filePath)
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := json.Unmarshal(data, h); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return nil
}
