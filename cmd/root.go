package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "Streaming chat client",
	Long: `Terminal client for a streaming chat backend. Renders assistant output as it
arrives, tracks tool invocations and lets you stop or retry a generation.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunApplication(appConfigFromFlags())
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.threadline/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("endpoint", "", "chat stream endpoint URL")
	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))

	rootCmd.PersistentFlags().String("model", "", "model name sent with each request")
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().String("provider", "", "provider selecting the image payload shape (openai, anthropic, ollama, gemini)")
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.PersistentFlags().Bool("continue", false, "continue from previous chat history instead of starting fresh")
	viper.BindPFlag("continue", rootCmd.PersistentFlags().Lookup("continue"))

	rootCmd.PersistentFlags().StringP("prompt", "p", "", "execute a prompt directly without entering TUI")
	viper.BindPFlag("prompt", rootCmd.PersistentFlags().Lookup("prompt"))

	rootCmd.PersistentFlags().BoolP("headless", "H", false, "run without TUI (requires --prompt)")
	viper.BindPFlag("headless", rootCmd.PersistentFlags().Lookup("headless"))

	rootCmd.PersistentFlags().StringP("image", "i", "", "attach an image to the prompt")
	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
}

func appConfigFromFlags() *AppConfig {
	return &AppConfig{
		ConfigFile:      cfgFile,
		Prompt:          viper.GetString("prompt"),
		ImagePath:       viper.GetString("image"),
		Headless:        viper.GetBool("headless"),
		ContinueHistory: viper.GetBool("continue"),
	}
}
