package tokens

import (
	"strings"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in text. Without an encoder it estimates.
type Counter struct {
	encoder  *tiktoken.Tiktoken
	encoding string
	mu       sync.Mutex
}

// Usage is the token summary of one turn
type Usage struct {
	Prompt     int
	Completion int
}

// Total returns prompt plus completion tokens
func (u Usage) Total() int {
	return u.Prompt + u.Completion
}

// NewCounter creates a counter for modelName. When no BPE encoding can be
// loaded, for example offline, the counter falls back to estimation.
func NewCounter(modelName string) *Counter {
	encodingName := encodingForModel(modelName)

	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.WithComponent("tokens").Warn("Token encoding unavailable, estimating", "encoding", encodingName, "error", err)
		return &Counter{}
	}
	return &Counter{encoder: encoder, encoding: encodingName}
}

// NewEstimator creates a counter that only estimates
func NewEstimator() *Counter {
	return &Counter{}
}

// Exact reports whether counts come from a real encoder
func (c *Counter) Exact() bool {
	return c.encoder != nil
}

// Encoding returns the name of the loaded encoding, empty when estimating
func (c *Counter) Encoding() string {
	return c.encoding
}

// Count counts the tokens in text
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		return estimateTokens(text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages counts a conversation including per-message overhead
func (c *Counter) CountMessages(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.countMessage(msg)
	}
	if len(messages) > 0 {
		// every reply is primed with the assistant role
		total += 3
	}
	return total
}

func (c *Counter) countMessage(msg chat.Message) int {
	// <|start|>role<|end|> markers
	return c.Count(msg.Role) + c.Count(msg.Content) + 4
}

// TurnUsage splits a finished turn into prompt tokens (user messages) and
// completion tokens (assistant messages). Error and system entries are not
// counted.
func (c *Counter) TurnUsage(turn []chat.Message) Usage {
	var u Usage
	for _, msg := range turn {
		switch msg.Role {
		case chat.RoleUser:
			u.Prompt += c.countMessage(msg)
		case chat.RoleAssistant:
			u.Completion += c.Count(msg.Content)
		}
	}
	return u
}

func encodingForModel(modelName string) string {
	modelLower := strings.ToLower(modelName)

	if strings.Contains(modelLower, "gpt-4") || strings.Contains(modelLower, "gpt-3.5") {
		return "cl100k_base"
	}
	if strings.Contains(modelLower, "davinci") || strings.Contains(modelLower, "curie") {
		return "p50k_base"
	}
	if strings.Contains(modelLower, "code") {
		return "p50k_base"
	}

	// works reasonably for most other models, local ones included
	return "cl100k_base"
}

// estimateTokens uses the larger of the word count and a quarter of the
// byte count
func estimateTokens(text string) int {
	wordEstimate := len(strings.Fields(text))
	charEstimate := len(text) / 4

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}
