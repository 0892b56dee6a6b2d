package tools

import (
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/stream"
	"github.com/scylladb/go-set/strset"
)

// Lifecycle tracks the tool invocations of a conversation and decides which
// one is shown expanded.
//
// Invocations move pending -> completed or pending -> error and never leave a
// terminal state. The most recently created invocation stays expanded until
// the final response begins; errors stay expanded always; everything else
// collapses once superseded.
type Lifecycle struct {
	mu           sync.Mutex
	invocations  map[string]*Invocation
	order        []string
	turn         *strset.Set
	latestID     string
	finalStarted bool
	onChange     func()
	now          func() time.Time
	log          *logger.ComponentLogger
}

// NewLifecycle creates an empty lifecycle
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		invocations: make(map[string]*Invocation),
		turn:        strset.New(),
		now:         time.Now,
		log:         logger.WithComponent("tool_lifecycle"),
	}
}

// SetOnChange registers a callback fired after every mutation. It runs
// without the lifecycle lock held.
func (l *Lifecycle) SetOnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

func (l *Lifecycle) notify(changed bool) {
	if !changed {
		return
	}
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnToolCall records a tool_call event
func (l *Lifecycle) OnToolCall(call stream.ToolCall) {
	l.mu.Lock()
	changed := l.applyCall(call)
	l.mu.Unlock()

	l.notify(changed)
}

func (l *Lifecycle) applyCall(call stream.ToolCall) bool {
	if inv, ok := l.invocations[call.ID]; ok {
		changed := false
		if inv.Name == "" && call.Name != "" {
			inv.Name = call.Name
			changed = true
		}
		if inv.ArgsJSON == "" && call.ArgsJSON != "" {
			inv.ArgsJSON = call.ArgsJSON
			changed = true
		}
		if changed {
			inv.UpdatedAt = l.now()
		}
		l.turn.Add(call.ID)
		return changed
	}

	now := l.now()
	l.invocations[call.ID] = &Invocation{
		ID:        call.ID,
		Name:      call.Name,
		ArgsJSON:  call.ArgsJSON,
		Status:    StatusPending,
		Order:     len(l.order),
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.order = append(l.order, call.ID)
	l.turn.Add(call.ID)

	if l.latestID != "" {
		l.log.Debug("Collapsing superseded invocation", "id", l.latestID, "next", call.ID)
	}
	l.latestID = call.ID
	return true
}

// OnToolUpdate records a tool_update event. An update for an unknown id
// creates the invocation first. Only fields present in the update are merged.
func (l *Lifecycle) OnToolUpdate(update stream.ToolUpdate) {
	l.mu.Lock()
	changed := false
	inv, ok := l.invocations[update.ID]
	if !ok {
		l.log.Debug("Update for unknown invocation", "id", update.ID)
		changed = l.applyCall(stream.ToolCall{ID: update.ID})
		inv = l.invocations[update.ID]
	}

	if l.applyUpdate(inv, update) {
		changed = true
	}
	l.mu.Unlock()

	l.notify(changed)
}

func (l *Lifecycle) applyUpdate(inv *Invocation, update stream.ToolUpdate) bool {
	if update.Status != "" {
		status, ok := ParseStatus(update.Status)
		switch {
		case !ok:
			l.log.Warn("Ignoring unknown tool status", "id", inv.ID, "status", update.Status)
		case inv.Status.IsTerminal() && status != inv.Status:
			l.log.Warn("Ignoring transition out of terminal state", "id", inv.ID, "from", inv.Status, "to", status)
			return false
		default:
			if status != inv.Status {
				l.log.Debug("Tool status changed", "id", inv.ID, "from", inv.Status, "to", status)
			}
			inv.Status = status
		}
	}

	if update.Result != nil {
		result := *update.Result
		inv.Result = &result
	}

	inv.UpdatedAt = l.now()
	return true
}

// BeginFinalResponse marks the start of the final answer. The latest
// invocation collapses unless it is still pending or failed.
func (l *Lifecycle) BeginFinalResponse() {
	l.mu.Lock()
	changed := !l.finalStarted
	l.finalStarted = true
	l.mu.Unlock()

	l.notify(changed)
}

// FinalResponseStarted reports whether BeginFinalResponse was called this turn
func (l *Lifecycle) FinalResponseStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalStarted
}

// AreAllComplete reports whether every invocation of the current turn has
// reached a terminal state. A turn without invocations is complete.
func (l *Lifecycle) AreAllComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	complete := true
	l.turn.Each(func(id string) bool {
		if inv, ok := l.invocations[id]; ok && !inv.Status.IsTerminal() {
			complete = false
		}
		return complete
	})
	return complete
}

// PendingIDs returns the ids of the current turn still pending, in creation order
func (l *Lifecycle) PendingIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for _, id := range l.order {
		if l.turn.Has(id) && l.invocations[id].Status == StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveID returns the id of the expanded pending invocation, if any
func (l *Lifecycle) ActiveID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if inv, ok := l.invocations[l.latestID]; ok && inv.Status == StatusPending {
		return inv.ID
	}
	return ""
}

// ResetForNewTurn clears the turn-scoped pointers and keeps the history
func (l *Lifecycle) ResetForNewTurn() {
	l.mu.Lock()
	changed := l.latestID != "" || l.finalStarted
	l.latestID = ""
	l.finalStarted = false
	l.turn.Clear()
	l.mu.Unlock()

	l.notify(changed)
}

// Clear deletes all invocations
func (l *Lifecycle) Clear() {
	l.mu.Lock()
	changed := len(l.order) > 0
	l.invocations = make(map[string]*Invocation)
	l.order = nil
	l.latestID = ""
	l.finalStarted = false
	l.turn.Clear()
	l.mu.Unlock()

	l.notify(changed)
}

// Len returns the number of invocations in the history
func (l *Lifecycle) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Get returns a copy of one invocation
func (l *Lifecycle) Get(id string) (Invocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invocations[id]
	if !ok {
		return Invocation{}, false
	}
	return l.project(inv), true
}

// Invocations returns copies of all invocations in creation order
func (l *Lifecycle) Invocations() []Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Invocation, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.project(l.invocations[id]))
	}
	return out
}

func (l *Lifecycle) project(inv *Invocation) Invocation {
	cp := *inv
	if inv.Result != nil {
		result := *inv.Result
		cp.Result = &result
	}
	cp.Expanded = l.isExpanded(inv)
	return cp
}

func (l *Lifecycle) isExpanded(inv *Invocation) bool {
	if inv.Status == StatusError {
		return true
	}
	if inv.ID != l.latestID {
		return false
	}
	return inv.Status == StatusPending || !l.finalStarted
}
