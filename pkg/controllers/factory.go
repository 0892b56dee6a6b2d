package controllers

import (
	"context"
	"fmt"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
)

// Setup is a controller wired from config together with its history sinks
type Setup struct {
	Controller *GenerationController
	History    *chat.History // nil when history is disabled
	Memory     *chat.ConversationMemory
}

// NewFromConfig builds a controller for cfg. With continueHistory the saved
// conversation seeds both the turn log and the conversation buffer;
// otherwise the history file starts empty unless history.preserve is set.
func NewFromConfig(ctx context.Context, cfg *config.Config, streamer Streamer, continueHistory bool) (*Setup, error) {
	setup := &Setup{}
	var prior []chat.Message

	if cfg.History.Enabled {
		history, err := chat.NewHistory(cfg.History.Path, cfg.History.Preserve || continueHistory)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		setup.History = history
		if continueHistory {
			prior = history.GetMessages()
		}
	}

	memory, err := chat.NewConversationMemoryFrom(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to seed conversation memory: %w", err)
	}
	setup.Memory = memory

	sinks := []chat.Sink{memory}
	if setup.History != nil {
		sinks = append(sinks, setup.History)
	}

	setup.Controller = NewGenerationController(streamer, Options{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		StopMarker: cfg.StopMarker,
		Sinks:      sinks,
		History:    prior,
	})
	return setup, nil
}
