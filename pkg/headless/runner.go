package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/tokens"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty in headless mode")
	ErrGenerationFailed = errors.New("generation failed")
	ErrInterrupted      = errors.New("generation interrupted")
)

// Options configure a headless run
type Options struct {
	Prompt    string
	ImagePath string
	Continue  bool

	// Out and ErrOut default to stdout and stderr
	Out    io.Writer
	ErrOut io.Writer

	// Counter defaults to a tiktoken counter for the configured model
	Counter *tokens.Counter
}

// runner runs one prompt against the event stream
type runner struct {
	cfg     *config.Config
	setup   *controllers.Setup
	output  *Output
	printer *streamPrinter
	counter *tokens.Counter
	log     *logger.ComponentLogger

	tokensSent int
	tokensRecv int
}

func newRunner(ctx context.Context, cfg *config.Config, streamer controllers.Streamer, opts Options) (*runner, error) {
	out, errOut := opts.Out, opts.ErrOut
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	setup, err := controllers.NewFromConfig(ctx, cfg, streamer, opts.Continue)
	if err != nil {
		return nil, err
	}

	counter := opts.Counter
	if counter == nil {
		counter = tokens.NewCounter(cfg.Model)
	}

	output := NewOutput(out, errOut)
	printer := newStreamPrinter(output, setup.Controller.Invocations)
	setup.Controller.SetCallbacks(printer.callbacks())

	return &runner{
		cfg:     cfg,
		setup:   setup,
		output:  output,
		printer: printer,
		counter: counter,
		log:     logger.WithComponent("headless"),
	}, nil
}

// run executes a single prompt and blocks until the turn ends
func (r *runner) run(ctx context.Context, prompt, imagePath string) error {
	var attachment *chat.Attachment
	if imagePath != "" {
		att, err := chat.LoadAttachment(imagePath, r.cfg.Attachments.MaxBytes)
		if err != nil {
			r.output.Error(err.Error())
			return fmt.Errorf("failed to load image: %w", err)
		}
		attachment = att
	}

	if strings.TrimSpace(prompt) == "" && attachment == nil {
		return ErrEmptyPrompt
	}

	r.log.Debug("Running prompt", "length", len(prompt), "image", imagePath != "")

	controller := r.setup.Controller
	if err := controller.Start(ctx, prompt, attachment, controllers.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start generation: %w", err)
	}

	// the controller ends the session itself when ctx is cancelled
	if err := controller.Wait(context.Background()); err != nil {
		return err
	}

	turn, failure := r.printer.result()
	usage := r.counter.TurnUsage(turn)
	r.tokensSent += usage.Prompt
	r.tokensRecv += usage.Completion
	r.output.Summary(r.tokensSent, r.tokensRecv, r.counter.Exact())

	r.log.Debug("Turn complete", "sent", r.tokensSent, "received", r.tokensRecv, "messages", len(turn))

	switch {
	case failure != "":
		return fmt.Errorf("%w: %s", ErrGenerationFailed, failure)
	case ctx.Err() != nil:
		return ErrInterrupted
	}
	return nil
}
