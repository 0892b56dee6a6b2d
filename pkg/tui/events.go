package tui

import (
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
)

// wakeEvent asks the loop to drain the mailbox
type wakeEvent struct{}

// quitEvent stops the loop
type quitEvent struct{}

type infoNote struct {
	text      string
	temporary bool
}

// update is everything the controller reported since the last drain
type update struct {
	snapshot     *chat.Snapshot
	appended     []chat.Message
	toolsChanged bool
	state        *controllers.State
	info         *infoNote
	turnDone     bool
}

// mailbox collects controller notifications from any goroutine and posts at
// most one wake event until the loop drains it. Snapshots carry the whole
// message, so only the latest is kept.
type mailbox struct {
	mu      sync.Mutex
	pending update
	posted  bool
	screen  tcell.Screen
}

func newMailbox(screen tcell.Screen) *mailbox {
	return &mailbox{screen: screen}
}

func (m *mailbox) callbacks() controllers.Callbacks {
	return controllers.Callbacks{
		OnRenderSnapshot: func(s chat.Snapshot) {
			m.put(func(u *update) { u.snapshot = &s })
		},
		OnToolListChanged: func() {
			m.put(func(u *update) { u.toolsChanged = true })
		},
		OnSessionStateChanged: func(s controllers.State) {
			m.put(func(u *update) { u.state = &s })
		},
		OnInfo: func(text string, temporary bool) {
			m.put(func(u *update) { u.info = &infoNote{text: text, temporary: temporary} })
		},
		OnMessageAppended: func(msg chat.Message) {
			m.put(func(u *update) { u.appended = append(u.appended, msg) })
		},
		OnTurnComplete: func([]chat.Message) {
			m.put(func(u *update) { u.turnDone = true })
		},
	}
}

func (m *mailbox) put(apply func(*update)) {
	m.mu.Lock()
	apply(&m.pending)
	post := !m.posted
	m.posted = true
	m.mu.Unlock()

	if post {
		if err := m.screen.PostEvent(tcell.NewEventInterrupt(wakeEvent{})); err != nil {
			// queue full; the next loop iteration drains anyway
			m.mu.Lock()
			m.posted = false
			m.mu.Unlock()
		}
	}
}

// drain must be called from the loop goroutine
func (m *mailbox) drain() update {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.pending
	m.pending = update{}
	m.posted = false
	return u
}
