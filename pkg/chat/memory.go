package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// ConversationMemory mirrors finalized turns into a LangChain Go conversation
// buffer, so the conversation can be handed to LangChain chains or counted
type ConversationMemory struct {
	mu     sync.Mutex
	buffer *memory.ConversationBuffer
}

// NewConversationMemory creates an empty buffer-backed memory
func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{
		buffer: memory.NewConversationBuffer(),
	}
}

// NewConversationMemoryFrom creates a memory seeded with existing messages
func NewConversationMemoryFrom(ctx context.Context, messages []Message) (*ConversationMemory, error) {
	m := NewConversationMemory()
	if err := m.Record(ctx, messages); err != nil {
		return nil, err
	}
	return m, nil
}

// Record adds the messages of a finalized turn
func (m *ConversationMemory) Record(ctx context.Context, messages []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range messages {
		if err := m.addMessageToBuffer(ctx, msg); err != nil {
			return fmt.Errorf("failed to convert message to LangChain format: %w", err)
		}
	}
	return nil
}

func (m *ConversationMemory) addMessageToBuffer(ctx context.Context, msg Message) error {
	switch msg.Role {
	case RoleUser:
		return m.buffer.ChatHistory.AddUserMessage(ctx, msg.Content)
	case RoleAssistant:
		return m.buffer.ChatHistory.AddAIMessage(ctx, msg.Content)
	case RoleSystem:
		return m.buffer.ChatHistory.AddMessage(ctx, llms.SystemChatMessage{
			Content: msg.Content,
		})
	case RoleError:
		return m.buffer.ChatHistory.AddMessage(ctx, llms.GenericChatMessage{
			Role:    "error",
			Content: msg.Content,
		})
	default:
		return fmt.Errorf("unknown message role: %s", msg.Role)
	}
}

// Messages returns the buffered LangChain messages
func (m *ConversationMemory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer.ChatHistory.Messages(ctx)
}

// Variables returns the memory variables for LangChain chains
func (m *ConversationMemory) Variables(ctx context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer.LoadMemoryVariables(ctx, map[string]any{})
}

// Clear empties the buffer
func (m *ConversationMemory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer.Clear(ctx)
}
