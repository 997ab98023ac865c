package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trichat/internal/telegram"
)

func NewTelegramCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.TelegramBotToken == "" {
				return errors.New("TELEGRAM_BOT_TOKEN is required")
			}

			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			bot, err := telegram.New(a.cfg.TelegramBotToken, a.coord, a.settings, a.cfg.MessageParseMode)
			if err != nil {
				return err
			}
			log.Info("telegram bot started")
			bot.Start(ctx)
			log.Info("telegram bot stopped")
			return nil
		},
	}
}
