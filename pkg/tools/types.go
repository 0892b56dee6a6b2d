package tools

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a tool invocation
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ParseStatus maps a wire status onto a Status. Common synonyms from other
// backends are accepted.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "running", "in_progress", "started":
		return StatusPending, true
	case "completed", "complete", "success", "succeeded", "done":
		return StatusCompleted, true
	case "error", "failed", "failure":
		return StatusError, true
	default:
		return "", false
	}
}

// Invocation is one server-initiated tool call as seen by the client
type Invocation struct {
	// ID is the server-assigned identifier, unique within a conversation
	ID string `json:"id"`

	// Name is the tool name, possibly empty when only updates were seen
	Name string `json:"name"`

	// ArgsJSON holds the raw arguments; they are parsed only for display
	ArgsJSON string `json:"args,omitempty"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// Result is the tool output, nil until the server sends one
	Result *string `json:"result,omitempty"`

	// Order is the creation position within the lifecycle's history
	Order int `json:"order"`

	// CreatedAt and UpdatedAt track the first and latest event for this id
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Expanded is computed when the invocation is read and says whether
	// front-ends should show its details
	Expanded bool `json:"-"`
}

// Args parses the raw arguments. It returns nil when they are empty or not a
// JSON object.
func (i Invocation) Args() map[string]any {
	if strings.TrimSpace(i.ArgsJSON) == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(i.ArgsJSON), &args); err != nil {
		return nil
	}
	return args
}

// HasResult reports whether a result was received
func (i Invocation) HasResult() bool {
	return i.Result != nil
}

// FormattedArgs returns indented JSON for valid arguments, otherwise the raw text
func (i Invocation) FormattedArgs() string {
	return prettyJSON(i.ArgsJSON)
}

// FormattedResult returns indented JSON when the result is valid JSON,
// otherwise the raw text
func (i Invocation) FormattedResult() string {
	if i.Result == nil {
		return ""
	}
	return prettyJSON(*i.Result)
}

// Duration is the time between the first and the latest event
func (i Invocation) Duration() time.Duration {
	return i.UpdatedAt.Sub(i.CreatedAt)
}

func prettyJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return raw
	}

	var out bytes.Buffer
	if err := json.Indent(&out, []byte(trimmed), "", "  "); err != nil {
		return raw
	}
	return out.String()
}
