package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"trichat/internal/analytics"
	"trichat/internal/config"
	"trichat/internal/conversation"
	"trichat/internal/dispatch"
	"trichat/internal/llm"
	"trichat/internal/scheduler"
	"trichat/internal/settings"
	"trichat/internal/storage"
)

// app holds the wired core shared by every front-end.
type app struct {
	cfg      *config.Config
	store    *conversation.Store
	coord    *dispatch.Coordinator
	settings *settings.Manager
	recorder storage.Recorder
	closers  []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	a := &app{cfg: cfg}

	providers, err := llm.NewFactory(cfg).Providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create providers: %w", err)
	}
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}

	rec, err := newRecorder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rec != nil {
		a.recorder = rec
		if c, ok := rec.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}

	a.store = conversation.NewStore(
		conversation.WithTTL(cfg.ConversationTTL),
		conversation.WithMaxConversations(cfg.MaxConversations),
	)
	opts := []dispatch.Option{
		dispatch.WithSystemPrompt(readSystemPrompt(cfg.SystemPromptPath)),
		dispatch.WithTimeout(cfg.ProviderTimeout),
	}
	if a.recorder != nil {
		opts = append(opts, dispatch.WithRecorder(a.recorder))
	}
	a.coord = dispatch.New(a.store, providers, opts...)
	a.settings = settings.NewManager(a.store)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("failed to close resource")
		}
	}
}

func newRecorder(cfg *config.Config) (storage.Recorder, error) {
	switch cfg.RecorderDriver {
	case config.RecorderNone, "":
		return nil, nil
	case config.RecorderFile:
		return storage.NewFileRecorder(cfg.LogFilePath)
	case config.RecorderSQLite:
		return storage.NewSQLiteRecorder(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown RECORDER_DRIVER %q", cfg.RecorderDriver)
	}
}

// newScheduler registers the eviction sweep and, when recording is enabled,
// the daily stats report.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New()
	if err := s.AddJob(a.cfg.EvictionSchedule, "evict-conversations", a.coord.Sweep); err != nil {
		return nil, err
	}
	if a.recorder != nil {
		if err := s.AddJob(a.cfg.StatsSchedule, "daily-stats", a.reportDailyStats); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (a *app) reportDailyStats(_ context.Context) error {
	stats, err := analytics.ForDay(a.recorder, time.Now().UTC())
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"date":          stats.Date,
		"turns":         stats.TotalTurns,
		"conversations": stats.UniqueConversations,
	}).Info("daily stats\n" + stats.GenerateReportSummary())
	return nil
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("system prompt file unreadable, using built-in prompt")
		return ""
	}
	return string(data)
}
