package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleError     = "error"
)

// AttachmentRef describes an attachment without its bytes
type AttachmentRef struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// Message is one entry of the turn log
type Message struct {
	ID             string         `json:"id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	RecursionDepth int            `json:"recursion_depth,omitempty"`
	Interrupted    bool           `json:"interrupted,omitempty"`
	Retry          bool           `json:"retry,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

func newMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func NewUserMessage(content string) Message {
	return newMessage(RoleUser, strings.TrimSpace(content))
}

func NewAssistantMessage(content string) Message {
	return newMessage(RoleAssistant, content)
}

func NewSystemMessage(content string) Message {
	return newMessage(RoleSystem, content)
}

func NewErrorMessage(content string) Message {
	return newMessage(RoleError, content)
}

// IsEmpty reports whether the message carries neither text nor an attachment
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.Attachment == nil
}

func (m Message) IsUser() bool      { return m.Role == RoleUser }
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }
func (m Message) IsError() bool     { return m.Role == RoleError }
