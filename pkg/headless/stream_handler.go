package headless

import (
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/tools"
)

// streamPrinter turns controller notifications into incremental console
// output. Snapshots carry the whole message, so only the unseen suffix is
// printed.
type streamPrinter struct {
	mu        sync.Mutex
	output    *Output
	lister    func() []tools.Invocation
	messageID string
	printed   int
	statuses  map[string]tools.Status
	turn      []chat.Message
	failure   string
}

func newStreamPrinter(output *Output, lister func() []tools.Invocation) *streamPrinter {
	return &streamPrinter{
		output:   output,
		lister:   lister,
		statuses: make(map[string]tools.Status),
	}
}

func (p *streamPrinter) callbacks() controllers.Callbacks {
	return controllers.Callbacks{
		OnRenderSnapshot:  p.onSnapshot,
		OnToolListChanged: p.onToolListChanged,
		OnInfo:            p.onInfo,
		OnMessageAppended: p.onMessageAppended,
		OnTurnComplete:    p.onTurnComplete,
	}
}

func (p *streamPrinter) onSnapshot(s chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.MessageID != p.messageID {
		if p.messageID != "" {
			p.output.Break()
		}
		p.messageID = s.MessageID
		p.printed = 0
	}
	if len(s.Content) > p.printed {
		p.output.Content(s.Content[p.printed:])
		p.printed = len(s.Content)
	}
}

func (p *streamPrinter) onToolListChanged() {
	invs := p.lister()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inv := range invs {
		if prev, ok := p.statuses[inv.ID]; ok && prev == inv.Status {
			continue
		}
		p.statuses[inv.ID] = inv.Status
		p.output.Tool(inv)
	}
}

func (p *streamPrinter) onInfo(text string, temporary bool) {
	if temporary {
		return
	}
	p.output.Info(text)
}

func (p *streamPrinter) onMessageAppended(msg chat.Message) {
	if !msg.IsError() {
		return
	}
	p.mu.Lock()
	p.failure = msg.Content
	p.mu.Unlock()

	p.output.Error(msg.Content)
}

func (p *streamPrinter) onTurnComplete(turn []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turn = turn
	if p.printed > 0 {
		p.output.Content("\n")
	}
}

// result returns the last finished turn and its error text, if any
func (p *streamPrinter) result() ([]chat.Message, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn, p.failure
}
