package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variants of Event
type Kind int

const (
	KindToken Kind = iota
	KindToolCall
	KindToolUpdate
	KindRecursionDepth
	KindInfo
	KindFinal
	KindError
	KindDone
)

// String returns the wire name of the event kind
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindToolCall:
		return "tool_call"
	case KindToolUpdate:
		return "tool_update"
	case KindRecursionDepth:
		return "recursion_depth"
	case KindInfo:
		return "info"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// ToolCall announces a server-side tool invocation
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// ToolUpdate reports progress of a tool invocation. Empty Status and nil
// Result mean the field was absent from the event.
type ToolUpdate struct {
	ID     string
	Status string
	Result *string
}

// Event is one decoded stream event. Only the fields belonging to Kind are
// populated.
type Event struct {
	Kind       Kind
	Text       string // token, final, info and error text
	Temporary  bool   // info only
	Depth      int    // recursion_depth only
	ToolCall   ToolCall
	ToolUpdate ToolUpdate
}

// Handlers receives decoded events. Any nil callback is a no-op.
type Handlers struct {
	OnToken          func(text string)
	OnToolCall       func(call ToolCall)
	OnToolUpdate     func(update ToolUpdate)
	OnRecursionDepth func(depth int)
	OnInfo           func(text string, temporary bool)
	OnFinal          func(text string)
	OnError          func(message string)
	OnDone           func()
}

// Dispatch routes ev to the matching callback
func (h Handlers) Dispatch(ev Event) {
	switch ev.Kind {
	case KindToken:
		if h.OnToken != nil {
			h.OnToken(ev.Text)
		}
	case KindToolCall:
		if h.OnToolCall != nil {
			h.OnToolCall(ev.ToolCall)
		}
	case KindToolUpdate:
		if h.OnToolUpdate != nil {
			h.OnToolUpdate(ev.ToolUpdate)
		}
	case KindRecursionDepth:
		if h.OnRecursionDepth != nil {
			h.OnRecursionDepth(ev.Depth)
		}
	case KindInfo:
		if h.OnInfo != nil {
			h.OnInfo(ev.Text, ev.Temporary)
		}
	case KindFinal:
		if h.OnFinal != nil {
			h.OnFinal(ev.Text)
		}
	case KindError:
		if h.OnError != nil {
			h.OnError(ev.Text)
		}
	case KindDone:
		if h.OnDone != nil {
			h.OnDone()
		}
	}
}

// Request is the JSON body posted to the chat endpoint
type Request struct {
	Message  string `json:"message"`
	Image    any    `json:"image,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes one {event, data} document
func ParseEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("invalid event envelope: %w", err)
	}

	switch env.Event {
	case "token":
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return Event{}, fmt.Errorf("invalid token data: %w", err)
		}
		return Event{Kind: KindToken, Text: text}, nil

	case "tool_call":
		var data struct {
			ID   string          `json:"id"`
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("invalid tool_call data: %w", err)
		}
		if data.ID == "" {
			return Event{}, fmt.Errorf("tool_call without id")
		}
		args, _ := rawText(data.Args)
		return Event{Kind: KindToolCall, ToolCall: ToolCall{ID: data.ID, Name: data.Name, ArgsJSON: args}}, nil

	case "tool_update":
		var data struct {
			ID     string          `json:"id"`
			Status string          `json:"status"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("invalid tool_update data: %w", err)
		}
		if data.ID == "" {
			return Event{}, fmt.Errorf("tool_update without id")
		}
		update := ToolUpdate{ID: data.ID, Status: data.Status}
		if result, ok := rawText(data.Result); ok {
			update.Result = &result
		}
		return Event{Kind: KindToolUpdate, ToolUpdate: update}, nil

	case "final":
		text, _ := rawText(env.Data)
		return Event{Kind: KindFinal, Text: text}, nil

	case "error":
		return Event{Kind: KindError, Text: errorText(env.Data)}, nil

	case "done":
		return Event{Kind: KindDone}, nil

	case "recursion_depth":
		depth, err := parseDepth(env.Data)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindRecursionDepth, Depth: depth}, nil

	case "info":
		var data struct {
			Text      string `json:"text"`
			Temporary bool   `json:"temporary"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			text, ok := rawText(env.Data)
			if !ok {
				return Event{}, fmt.Errorf("invalid info data: %w", err)
			}
			data.Text = text
		}
		return Event{Kind: KindInfo, Text: data.Text, Temporary: data.Temporary}, nil

	case "":
		return Event{}, fmt.Errorf("event name missing")

	default:
		return Event{}, fmt.Errorf("unknown event %q", env.Event)
	}
}

// rawText returns a JSON string's value, or the raw JSON text for any other
// value. Absent and null values report false.
func rawText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	return string(trimmed), true
}

func errorText(raw json.RawMessage) string {
	var obj struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if _, ok := rawText(obj.Error); ok {
			return errorText(obj.Error)
		}
		return "unknown server error"
	}
	if text, ok := rawText(raw); ok {
		return text
	}
	return "unknown server error"
}

func parseDepth(raw json.RawMessage) (int, error) {
	var obj struct {
		Depth *int `json:"depth"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Depth != nil {
		return *obj.Depth, nil
	}
	if text, ok := rawText(raw); ok {
		if depth, err := strconv.Atoi(text); err == nil {
			return depth, nil
		}
	}
	return 0, fmt.Errorf("invalid recursion_depth data: %s", string(raw))
}
