package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/render"
	"github.com/killallgit/threadline/pkg/testutil"
	"github.com/stretchr/testify/require"
)

// testScreen wraps SimulationScreen with capture helpers
type testScreen struct {
	tcell.SimulationScreen
}

func newTestScreen(t *testing.T, width, height int) *testScreen {
	t.Helper()
	sim := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, sim.Init())
	sim.SetSize(width, height)
	return &testScreen{SimulationScreen: sim}
}

// captureContent returns the screen as text, one line per row
func (ts *testScreen) captureContent() string {
	width, height := ts.Size()
	var content strings.Builder
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ch, _, _, _ := ts.GetContent(x, y)
			if ch == 0 {
				ch = ' '
			}
			content.WriteRune(ch)
		}
		content.WriteRune('\n')
	}
	return content.String()
}

func (ts *testScreen) typeText(text string) {
	for _, r := range text {
		ts.InjectKey(tcell.KeyRune, r, tcell.ModNone)
	}
}

type harness struct {
	t        *testing.T
	screen   *testScreen
	app      *App
	streamer *testutil.FakeStreamer
	done     chan error
	exited   bool
	err      error
}

func startHarness(t *testing.T, streamer *testutil.FakeStreamer) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Model = "test-model"

	controller := controllers.NewGenerationController(streamer, controllers.Options{Model: cfg.Model})
	renderer, err := render.New(render.WithMarkdown(false), render.WithHooks(render.StripANSI))
	require.NoError(t, err)

	screen := newTestScreen(t, 80, 24)
	h := &harness{
		t:        t,
		screen:   screen,
		app:      NewApp(screen, &controllers.Setup{Controller: controller}, renderer, cfg),
		streamer: streamer,
		done:     make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.app.Run(ctx) }()

	t.Cleanup(func() {
		h.quit()
		cancel()
		screen.Fini()
	})
	return h
}

func (h *harness) waitFor(substr string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return strings.Contains(h.screen.captureContent(), substr)
	}, 2*time.Second, 10*time.Millisecond, "screen never showed %q", substr)
}

// quit presses Ctrl-C and waits for Run to return
func (h *harness) quit() error {
	if h.exited {
		return h.err
	}
	h.screen.InjectKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)
	select {
	case h.err = <-h.done:
		h.exited = true
	case <-time.After(2 * time.Second):
		h.t.Error("app did not exit")
	}
	return h.err
}
