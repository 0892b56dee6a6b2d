package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/threadline/pkg/dedup"
	"github.com/killallgit/threadline/pkg/logger"
)

// Snapshot is the full rendering input for the message being assembled
type Snapshot struct {
	MessageID string
	Content   string
	Depth     int
	IsFinal   bool
}

type partial struct {
	id      string
	content strings.Builder
	depth   int
}

// Assembler builds assistant messages from streamed tokens. A change of
// recursion depth starts a new message with the next token. Closed messages
// go to the close callback, every accepted token produces a snapshot.
//
// An Assembler is not safe for concurrent use; the owner serializes calls.
type Assembler struct {
	current           *partial
	depth             int
	newMessagePending bool
	lastToken         string
	done              bool

	onSnapshot func(Snapshot)
	onClose    func(Message)
	log        *logger.ComponentLogger
}

// NewAssembler creates an assembler. Either callback may be nil.
func NewAssembler(onSnapshot func(Snapshot), onClose func(Message)) *Assembler {
	return &Assembler{
		onSnapshot: onSnapshot,
		onClose:    onClose,
		log:        logger.WithComponent("assembler"),
	}
}

// OnRecursionDepth records the server's recursion depth. A change makes the
// next accepted token open a new message.
func (a *Assembler) OnRecursionDepth(depth int) {
	if depth == a.depth {
		return
	}
	a.log.Debug("Recursion depth changed", "from", a.depth, "to", depth)
	a.depth = depth
	a.newMessagePending = true
}

// OnToken appends a streamed token and reports whether it was accepted
func (a *Assembler) OnToken(token string) bool {
	if a.done {
		a.log.Warn("Token received after done", "token", token)
		return false
	}
	if token == "" {
		return false
	}

	if strings.TrimSpace(token) == "" {
		// whitespace never opens a message and is never deduplicated
		if a.current == nil || a.newMessagePending || a.current.content.Len() == 0 {
			return false
		}
		a.current.content.WriteString(token)
		a.publish(false)
		return true
	}

	if dedup.IsRepeatedToken(a.lastToken, token) {
		a.log.Debug("Dropped repeated token", "token", token)
		return false
	}
	a.lastToken = token

	if a.newMessagePending || a.current == nil {
		a.closeCurrent(false)
		a.open()
	}

	if dedup.ContentEndsWithToken(a.current.content.String(), token) {
		a.log.Debug("Dropped token repeating the tail", "token", token)
		return false
	}

	a.current.content.WriteString(token)
	a.publish(false)
	return true
}

// OnDone publishes the final snapshot and closes the message. Later tokens
// are ignored.
func (a *Assembler) OnDone() {
	if a.done {
		return
	}
	if a.current != nil {
		a.publish(true)
	}
	a.closeCurrent(false)
	a.done = true
}

// Interrupt appends marker to the partial message, opening one if nothing
// was streamed, and closes it as interrupted. A pending depth change does
// not open a new message for the marker.
func (a *Assembler) Interrupt(marker string) {
	if a.done {
		return
	}
	if a.current == nil || a.current.content.Len() == 0 {
		a.current = nil
		a.open()
	}
	a.newMessagePending = false

	if a.current.content.Len() > 0 {
		a.current.content.WriteString("\n\n")
	}
	a.current.content.WriteString(marker)
	a.publish(true)
	a.closeCurrent(true)
	a.done = true
}

// Abort closes the partial message without a marker
func (a *Assembler) Abort() {
	if a.done {
		return
	}
	if a.current != nil {
		a.publish(true)
	}
	a.closeCurrent(false)
	a.done = true
}

// Reset prepares for a new turn. An unclosed message is discarded.
func (a *Assembler) Reset() {
	a.current = nil
	a.depth = 0
	a.newMessagePending = false
	a.lastToken = ""
	a.done = false
}

// Current returns a snapshot of the message being assembled
func (a *Assembler) Current() (Snapshot, bool) {
	if a.current == nil {
		return Snapshot{}, false
	}
	return a.snapshot(false), true
}

// Done reports whether the turn was finished by OnDone, Interrupt or Abort
func (a *Assembler) Done() bool {
	return a.done
}

// Depth returns the last recursion depth seen
func (a *Assembler) Depth() int {
	return a.depth
}

func (a *Assembler) open() {
	a.current = &partial{id: uuid.NewString(), depth: a.depth}
	a.newMessagePending = false
}

func (a *Assembler) closeCurrent(interrupted bool) {
	if a.current == nil {
		return
	}
	cur := a.current
	a.current = nil

	if cur.content.Len() == 0 {
		return
	}
	msg := Message{
		ID:             cur.id,
		Role:           RoleAssistant,
		Content:        cur.content.String(),
		RecursionDepth: cur.depth,
		Interrupted:    interrupted,
		Timestamp:      time.Now(),
	}
	if a.onClose != nil {
		a.onClose(msg)
	}
}

func (a *Assembler) snapshot(final bool) Snapshot {
	return Snapshot{
		MessageID: a.current.id,
		Content:   a.current.content.String(),
		Depth:     a.current.depth,
		IsFinal:   final,
	}
}

func (a *Assembler) publish(final bool) {
	if a.onSnapshot != nil {
		a.onSnapshot(a.snapshot(final))
	}
}
