// Package tui is the interactive tcell front-end. Controller notifications
// are posted to the tcell event loop, so all state changes and drawing
// happen on the loop goroutine.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/render"
	"github.com/killallgit/threadline/pkg/stream"
	"github.com/killallgit/threadline/pkg/tools"
)

const imageCommand = "/image"

// App is the chat screen
type App struct {
	screen     tcell.Screen
	setup      *controllers.Setup
	controller *controllers.GenerationController
	renderer   *render.Renderer
	mailbox    *mailbox
	maxImage   int64
	model      string

	ctx context.Context

	input      InputField
	messages   []chat.Message
	live       *chat.Snapshot
	tools      []tools.Invocation
	state      controllers.State
	info       *infoNote
	status     string
	attachment *chat.Attachment
	contextLen int
	scroll     int
	cache      map[string]renderedMessage

	log *logger.ComponentLogger
}

// NewApp creates the chat screen for an already initialized screen
func NewApp(screen tcell.Screen, setup *controllers.Setup, renderer *render.Renderer, cfg *config.Config) *App {
	a := &App{
		screen:     screen,
		setup:      setup,
		controller: setup.Controller,
		renderer:   renderer,
		mailbox:    newMailbox(screen),
		maxImage:   cfg.Attachments.MaxBytes,
		model:      cfg.Model,
		ctx:        context.Background(),
		input:      NewInputField(0),
		messages:   setup.Controller.Messages(),
		tools:      setup.Controller.Invocations(),
		cache:      make(map[string]renderedMessage),
		log:        logger.WithComponent("tui"),
	}
	a.controller.SetCallbacks(a.mailbox.callbacks())
	a.refreshContext()
	return a
}

// StartApp runs the interactive screen until the user quits
func StartApp(cfg *config.Config, continueHistory bool) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("failed to initialize screen: %w", err)
	}
	defer screen.Fini()

	ctx := context.Background()
	setup, err := controllers.NewFromConfig(ctx, cfg, controllers.FromClient(stream.NewClientFromConfig(cfg)), continueHistory)
	if err != nil {
		return err
	}

	renderer, err := render.FromConfig(cfg.Render, render.StripANSI, render.TrimTrailingSpace)
	if err != nil {
		return err
	}

	return NewApp(screen, setup, renderer, cfg).Run(ctx)
}

// Run processes events until Ctrl-C or until ctx is cancelled. The active
// generation is cancelled on exit.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx

	go func() {
		<-ctx.Done()
		_ = a.screen.PostEvent(tcell.NewEventInterrupt(quitEvent{}))
	}()

	a.draw()
	for {
		ev := a.screen.PollEvent()
		if ev == nil {
			return nil
		}

		switch ev := ev.(type) {
		case *tcell.EventKey:
			if a.handleKey(ev) {
				a.controller.Cancel()
				return nil
			}
		case *tcell.EventResize:
			a.screen.Sync()
		case *tcell.EventInterrupt:
			if _, ok := ev.Data().(quitEvent); ok {
				a.controller.Cancel()
				return nil
			}
		}

		a.apply(a.mailbox.drain())
		a.draw()
	}
}

// handleKey applies one key press and reports whether the app should quit
func (a *App) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlC:
		return true
	case tcell.KeyEnter:
		a.submit()
	case tcell.KeyEscape:
		if a.controller.IsGenerating() {
			a.controller.Cancel()
			a.status = "stopped"
		}
	case tcell.KeyCtrlR:
		if err := a.controller.Retry(a.ctx); err != nil {
			a.status = err.Error()
		}
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		a.input = a.input.DeleteBackward()
	case tcell.KeyDelete:
		a.input = a.input.DeleteForward()
	case tcell.KeyLeft:
		a.input = a.input.MoveLeft()
	case tcell.KeyRight:
		a.input = a.input.MoveRight()
	case tcell.KeyHome, tcell.KeyCtrlA:
		a.input = a.input.Home()
	case tcell.KeyEnd, tcell.KeyCtrlE:
		a.input = a.input.End()
	case tcell.KeyCtrlU:
		a.input = a.input.Clear()
	case tcell.KeyPgUp:
		a.scroll += a.pageSize()
	case tcell.KeyPgDn:
		a.scroll -= a.pageSize()
		if a.scroll < 0 {
			a.scroll = 0
		}
	case tcell.KeyRune:
		a.input = a.input.InsertRune(ev.Rune())
	}
	return false
}

func (a *App) submit() {
	text := strings.TrimSpace(a.input.Value())

	if text == imageCommand || strings.HasPrefix(text, imageCommand+" ") {
		a.input = a.input.Clear()
		a.attachImage(strings.TrimSpace(strings.TrimPrefix(text, imageCommand)))
		return
	}

	err := a.controller.Start(a.ctx, text, a.attachment, controllers.StartOptions{})
	if errors.Is(err, controllers.ErrEmptyMessage) {
		return
	}
	a.input = a.input.Clear()
	a.attachment = nil
	a.scroll = 0
	a.info = nil
	if err != nil {
		a.status = err.Error()
		return
	}
	a.status = ""
}

func (a *App) attachImage(path string) {
	if path == "" {
		a.attachment = nil
		a.status = "image cleared"
		return
	}
	att, err := chat.LoadAttachment(path, a.maxImage)
	if err != nil {
		a.log.Warn("Failed to attach image", "path", path, "error", err)
		a.status = err.Error()
		return
	}
	a.attachment = att
	a.status = "attached " + att.Name
}

// apply folds drained notifications into the screen state
func (a *App) apply(u update) {
	if u.snapshot != nil {
		snap := *u.snapshot
		a.live = &snap
	}
	for _, msg := range u.appended {
		a.messages = append(a.messages, msg)
		if a.live != nil && a.live.MessageID == msg.ID {
			a.live = nil
		}
	}
	if u.toolsChanged {
		a.tools = a.controller.Invocations()
	}
	if u.state != nil {
		a.state = *u.state
		if a.state == controllers.StateIdle {
			a.live = nil
		}
	}
	if u.info != nil {
		a.info = u.info
	}
	if u.turnDone {
		if a.info != nil && a.info.temporary {
			a.info = nil
		}
		a.refreshContext()
	}
}

func (a *App) refreshContext() {
	if a.setup.Memory == nil {
		return
	}
	msgs, err := a.setup.Memory.Messages(context.Background())
	if err != nil {
		a.log.Warn("Failed to read conversation memory", "error", err)
		return
	}
	a.contextLen = len(msgs)
}

func (a *App) pageSize() int {
	_, h := a.screen.Size()
	if h <= 6 {
		return 1
	}
	return h / 2
}
