// Package headless runs a single prompt without the interactive screen and
// prints the streamed answer to the console.
package headless

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/stream"
)

// Run executes opts.Prompt against the configured endpoint. SIGINT and
// SIGTERM stop the generation.
func Run(cfg *config.Config, opts Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := stream.NewClientFromConfig(cfg)
	return RunContext(ctx, cfg, controllers.FromClient(client), opts)
}

// RunContext executes opts.Prompt with the given streamer until the turn ends
// or ctx is cancelled
func RunContext(ctx context.Context, cfg *config.Config, streamer controllers.Streamer, opts Options) error {
	r, err := newRunner(ctx, cfg, streamer, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize headless mode: %w", err)
	}
	return r.run(ctx, opts.Prompt, opts.ImagePath)
}
