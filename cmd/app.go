package cmd

import (
	"errors"
	"fmt"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/headless"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/tui"
)

// ErrHeadlessNeedsPrompt is returned for --headless without --prompt
var ErrHeadlessNeedsPrompt = errors.New("headless mode requires --prompt")

// AppConfig contains everything needed to run the application
type AppConfig struct {
	ConfigFile      string
	Prompt          string
	ImagePath       string
	Headless        bool
	ContinueHistory bool
}

// RunHeadless reports whether the TUI should be skipped. A prompt alone
// implies headless mode.
func (c *AppConfig) RunHeadless() bool {
	return c.Headless || c.Prompt != ""
}

// RunApplication is the main entry point for the application logic
func RunApplication(appCfg *AppConfig) error {
	if appCfg.Headless && appCfg.Prompt == "" {
		return ErrHeadlessNeedsPrompt
	}

	cfg, err := config.Load(appCfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(); err != nil {
		return err
	}
	defer logger.Close()

	log := logger.WithComponent("app")
	log.Info("Application starting",
		"endpoint", cfg.Endpoint,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"headless", appCfg.RunHeadless())

	if appCfg.RunHeadless() {
		return headless.Run(cfg, headless.Options{
			Prompt:    appCfg.Prompt,
			ImagePath: appCfg.ImagePath,
			Continue:  appCfg.ContinueHistory,
		})
	}

	if appCfg.ImagePath != "" {
		log.Warn("Ignoring --image outside headless mode, use /image in the chat", "path", appCfg.ImagePath)
	}
	return tui.StartApp(cfg, appCfg.ContinueHistory)
}
