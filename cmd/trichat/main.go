package main

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var logLevel = "info"

var rootCmd = &cobra.Command{
	Use:   "trichat",
	Short: "Ask ChatGPT, Gemini and Grok at once",
	Long: `trichat sends every user message to ChatGPT, Gemini and Grok concurrently,
shows the reply of the selected primary model and optionally the others
for comparison. It can run as a Telegram bot, an HTTP API or an MCP server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(".env"); err != nil {
			log.WithError(err).Debug(".env file not loaded")
		}
		if !cmd.Flags().Changed("log-level") {
			if v := os.Getenv("LOG_LEVEL"); v != "" {
				logLevel = v
			}
		}
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.WithError(err).Fatal("cannot parse log-level")
		}
		log.SetLevel(level)
		log.Debug("debug logging enabled")
	},
}

func main() {
	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)

	rootCmd.AddCommand(
		NewServeCommand(),
		NewTelegramCommand(),
		NewMCPCommand(),
		NewAskCommand(),
		NewStatsCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace,debug,info,warn,error) (default info, or LOG_LEVEL)")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("could not execute root command")
	}
}
