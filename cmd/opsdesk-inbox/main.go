package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/config"
	"github.com/platinummonkey/opsdesk/pkg/mail"
	"github.com/platinummonkey/opsdesk/pkg/storage/postgres"
)

var (
	envFile  = flag.String("env-file", ".env", "Optional .env file to load before reading the environment")
	schedule = flag.String("schedule", "", "Cron schedule for inbox polls (defaults to OPSDESK_INBOX_POLL_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Poll every mailbox once and exit")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// Inbox poller copies new provider messages into the shared inbox on a schedule
func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	if err := config.LoadEnvFiles(*envFile); err != nil {
		logger.Fatalf("Failed to load environment: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Mail.InboxEnabled() {
		logger.Fatal("Inbox polling is not configured: set OPSDESK_MAIL_PROVIDER_URL and OPSDESK_MAILBOXES")
	}

	db, err := postgres.Open(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    5,
		MinConns:    1,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := postgres.NewStore(db, nil)
	// Events reach running servers through pg_notify when a listener DSN is set
	relay := broadcast.NewPGRelay(db, cfg.Database.ListenURL, broadcast.NewHub(nil))
	fetcher := mail.NewHTTPFetcher(cfg.Mail.ProviderURL, cfg.Mail.ProviderToken)
	poller := mail.NewPoller(fetcher, store.Emails, relay, cfg.Mail.Mailboxes, nil)

	cronSchedule := *schedule
	if cronSchedule == "" {
		cronSchedule = cfg.Mail.PollSchedule
	}
	scheduler, err := mail.NewScheduler(poller, cronSchedule, cron.PrintfLogger(logger))
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.OnResult = func(res *mail.PollResult, err error) {
		logResult(logger, res, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runOnce {
		res, err := scheduler.RunOnce(ctx)
		logResult(logger, res, err)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping inbox poller...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"schedule":  cronSchedule,
		"mailboxes": cfg.Mail.Mailboxes,
	}).Info("Starting opsdesk inbox poller")

	if err := scheduler.Run(ctx); err != nil {
		logger.Fatalf("Inbox poller failed: %v", err)
	}
	logger.Info("Inbox poller stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func logResult(logger *logrus.Logger, res *mail.PollResult, err error) {
	if res != nil {
		for _, mb := range res.Mailboxes {
			entry := logger.WithFields(logrus.Fields{
				"mailbox": mb.Mailbox,
				"fetched": mb.Fetched,
				"stored":  mb.Stored,
			})
			if mb.Error != "" {
				entry.WithField("error", mb.Error).Warn("Mailbox poll failed")
				continue
			}
			entry.Info("Mailbox polled")
		}
	}
	if err != nil {
		logger.Errorf("Inbox poll failed: %v", err)
	}
}
