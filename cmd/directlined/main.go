package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/directline-io/directline/internal/api"
	"github.com/directline-io/directline/internal/assignment"
	"github.com/directline-io/directline/internal/classify"
	"github.com/directline-io/directline/internal/config"
	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/dedupe"
	"github.com/directline-io/directline/internal/desk"
	"github.com/directline-io/directline/internal/events"
	"github.com/directline-io/directline/internal/identity"
	"github.com/directline-io/directline/internal/intake"
	"github.com/directline-io/directline/internal/logbuf"
	"github.com/directline-io/directline/internal/notify"
	slacknotify "github.com/directline-io/directline/internal/notify/slack"
	"github.com/directline-io/directline/internal/notify/telegram"
	"github.com/directline-io/directline/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
	configURL := flag.String("config-url", os.Getenv("DIRECTLINE_CONFIG_URL"), "URL of a remote config document")
	configToken := flag.String("config-token", os.Getenv("DIRECTLINE_CONFIG_TOKEN"), "Bearer token for -config-url")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// A missing .env file is normal outside development.
	envErr := godotenv.Load(*envFile)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	if envErr == nil {
		logger.Debug("env file loaded", "path", *envFile)
	}

	// Load config (3 modes: file, remote, env)
	var cfg *config.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
	case *configURL != "":
		logger.Info("loading remote config", "url", *configURL)
		cfg, err = config.LoadRemote(context.Background(), config.RemoteOptions{URL: *configURL, Token: *configToken})
	default:
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logger.With("service", cfg.Service.ID)
	logger.Info("directlined starting", "classifier", cfg.Classifier.Type, "max_concurrent", cfg.Service.MaxConcurrent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger, logBuf); err != nil {
		logger.Error("directlined failed", "error", err)
		os.Exit(1)
	}
	logger.Info("directlined stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	// 1. Storage
	if cfg.Service.Database != "" {
		os.MkdirAll(filepath.Dir(cfg.Service.Database), 0o755)
	}
	store, err := consultation.NewSQLiteStore(cfg.Service.Database)
	if err != nil {
		return fmt.Errorf("open consultation store: %w", err)
	}
	defer store.Close()

	// 2. Identity
	dir, err := identity.NewDirectory(identity.Seed(), logger.With("component", "identity"))
	if err != nil {
		return err
	}
	tokens, err := identity.NewIssuer(cfg.API.TokenSecret, cfg.TokenTTL())
	if err != nil {
		return err
	}

	// 3. Collaborators
	classifier := newClassifier(cfg)
	guard, closeGuard, err := newGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	publisher, err := newPublisher(cfg, logger.With("component", "events"))
	if err != nil {
		return err
	}
	defer publisher.Close()

	notifier, err := newNotifier(cfg, logger.With("component", "notify"))
	if err != nil {
		return err
	}

	sched := scheduler.New(logger.With("component", "scheduler"))
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 4. Desk
	d, err := desk.New(desk.Options{
		Store:      store,
		Tracker:    assignment.New(cfg.Service.MaxConcurrent, logger.With("component", "assignment")),
		Classifier: classifier,
		Guard:      guard,
		Scheduler:  sched,
		Events:     publisher,
		Notifier:   notifier,
		Logger:     logger.With("component", "desk"),
	}, desk.Config{
		DedupeWindow:     cfg.DedupeWindow(),
		ClassifyTimeout:  cfg.ClassifyTimeout(),
		SimulateReplies:  cfg.Replies.Enabled,
		AgentReplyDelay:  cfg.AgentReplyDelay(),
		ClientReplyDelay: cfg.ClientReplyDelay(),
		Producer:         cfg.Service.ID,
	})
	if err != nil {
		return err
	}
	defer d.Shutdown()
	logger.Info("desk ready", "classifier", classifier.Name())

	if cfg.Service.DemoData {
		n, err := d.LoadDemo(dir.Get)
		if err != nil {
			return fmt.Errorf("load demo data: %w", err)
		}
		logger.Info("demo data loaded", "consultations", n)
	}

	// 5. Queue digest
	if cfg.Notify.DigestSchedule != "" {
		threshold := cfg.DigestThreshold()
		err := sched.AddJob("desk", cfg.Notify.DigestSchedule, "queue-digest", func() {
			n, err := d.NotifyStale(ctx, threshold)
			if err != nil {
				logger.Warn("queue digest failed", "error", err)
				return
			}
			logger.Debug("queue digest", "stale", n)
		})
		if err != nil {
			return err
		}
		logger.Info("queue digest scheduled",
			"schedule", cfg.Notify.DigestSchedule,
			"entries", sched.ListJobs("desk"),
			"cron_jobs", sched.JobCount(),
		)
	}

	// 6. API server
	apiCfg := api.Config{Host: cfg.API.Host, Port: cfg.API.Port}
	if len(cfg.Intake.Sources) > 0 {
		h := intake.New(cfg.Intake.Sources, api.IntakeOpener(d, dir), logger.With("component", "intake"))
		apiCfg.Intake = h
		logger.Info("webhook intake enabled", "sources", h.Sources())
	}
	apiSrv := api.NewServer(d, dir, tokens, apiCfg, logger.With("component", "api"), logBuf)

	errCh := make(chan error, 1)
	go safeGo(logger, "api-server", func() {
		if err := apiSrv.Start(ctx); err != nil {
			errCh <- err
		}
	})
	logger.Info("api server started", "port", cfg.API.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		cancel()
		return err
	}
	cancel()
	return nil
}

func newClassifier(cfg *config.Config) classify.Classifier {
	var opts []classify.Option
	if cfg.Classifier.BaseURL != "" {
		opts = append(opts, classify.WithBaseURL(cfg.Classifier.BaseURL))
	}
	if cfg.Classifier.Model != "" {
		opts = append(opts, classify.WithModel(cfg.Classifier.Model))
	}
	switch cfg.Classifier.Type {
	case "openai":
		return classify.NewOpenAI(cfg.Classifier.APIKey, opts...)
	case "anthropic":
		return classify.NewAnthropic(cfg.Classifier.APIKey, opts...)
	default:
		return classify.NewRules(nil)
	}
}

func newGuard(ctx context.Context, cfg *config.Config) (dedupe.Guard, func(), error) {
	if cfg.Redis.Addr == "" {
		return dedupe.NewMemory(), func() {}, nil
	}
	r, err := dedupe.NewRedis(ctx, dedupe.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return r, func() { r.Close() }, nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Events.AMQPURL == "" {
		return events.NewLog(logger), nil
	}
	p, err := events.NewAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	return p, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	multi := notify.Multi{notify.Log{Logger: logger}}
	if cfg.Notify.Slack.BotToken != "" {
		s, err := slacknotify.New(slacknotify.Config{
			BotToken: cfg.Notify.Slack.BotToken,
			Channel:  cfg.Notify.Slack.Channel,
			APIURL:   cfg.Notify.Slack.APIURL,
		}, logger.With("channel", "slack"))
		if err != nil {
			return nil, err
		}
		multi = append(multi, s)
	}
	if cfg.Notify.Telegram.Token != "" {
		tg, err := telegram.New(telegram.Config{
			Token:    cfg.Notify.Telegram.Token,
			ChatIDs:  cfg.Notify.Telegram.ChatIDs,
			Endpoint: cfg.Notify.Telegram.Endpoint,
		}, logger.With("channel", "telegram"))
		if err != nil {
			return nil, err
		}
		multi = append(multi, tg)
	}
	return multi, nil
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
