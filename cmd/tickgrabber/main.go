// Command tickgrabber runs the ticket acquisition engine for one or all
// configured targets. It is built to work as a child process too: a
// caller hands it a config path, a target id and a headless flag, reads
// progress from stdout, and maps the exit code back to the outcome
// (0 succeeded, 1 failed, 2 stopped).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tickgrabber/internal/browser"
	"tickgrabber/internal/captcha"
	"tickgrabber/internal/config"
	"tickgrabber/internal/engine"
	"tickgrabber/internal/model"
	"tickgrabber/internal/notify"
	"tickgrabber/internal/site"
	"tickgrabber/internal/store"
)

const (
	exitSucceeded = 0
	exitFailed    = 1
	exitStopped   = 2
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	targetID := flag.String("target", "", "run only the target with this id (default: all configured targets)")
	headless := flag.Bool("headless", false, "run the browser headless")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}
	if *headless {
		cfg.Browser.Headless = true
	}

	targets := cfg.Targets
	if *targetID != "" {
		target, ok := cfg.TargetByID(*targetID)
		if !ok {
			logger.Fatal("unknown target id", zap.String("target", *targetID))
		}
		targets = []model.Target{target}
	}

	orch := buildOrchestrator(cfg, logger)
	orch.Start(targets)

	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping workers")
		close(interrupted)
		orch.StopAll()
	}()

	orch.Wait()
	os.Exit(exitCode(orch, targets, interrupted))
}

func newLogger(debug bool) *zap.Logger {
	// Progress lines go to stdout for the parent process to display.
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(exitFailed)
	}
	return logger
}

func buildOrchestrator(cfg *config.Config, logger *zap.Logger) *engine.Orchestrator {
	notifier := buildNotifier(cfg, logger)

	driverFactory := func() (browser.Driver, error) {
		return browser.NewChrome(browser.Options{
			Headless:  cfg.Browser.Headless,
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.Browser.OpTimeout(),
		})
	}

	solverFactory := func(d browser.Driver) engine.Solver {
		opts := []captcha.Option{
			captcha.WithThreshold(cfg.Captcha.Threshold),
			captcha.WithWait(cfg.Captcha.SolveTimeout()),
		}
		if cfg.Captcha.APIURL != "" && cfg.Captcha.APIKey != "" {
			opts = append(opts,
				captcha.WithFallback(captcha.NewAPIRecognizer(cfg.Captcha.APIURL, cfg.Captcha.APIKey)))
		}
		return captcha.NewSolver(d, captcha.NewTesseract(), logger, opts...)
	}

	return engine.NewOrchestrator(engine.OrchestratorDeps{
		NewClient: site.NewFactory(cfg.Browser.OpTimeout(), logger),
		NewDriver: driverFactory,
		NewSolver: solverFactory,
		Notifier:  notifier,
		Bookings:  store.NewBookings("bookings.json"),
		Logger:    logger,
	}, engine.Settings{
		RefreshInterval: cfg.Ticketing.RefreshEvery(),
		MaxRetries:      cfg.Ticketing.MaxRetries,
		RetryDelay:      cfg.Ticketing.RetryAfter(),
		StopGrace:       cfg.Ticketing.GracePeriod(),
		Credentials:     cfg.User,
		AutoSolve:       cfg.Captcha.AutoSolve,
	})
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	notifiers := []notify.Notifier{&notify.LogNotifier{Logger: logger}}
	if t := cfg.Notification.Telegram; t.Enabled {
		notifiers = append(notifiers, notify.NewTelegram(t.BotToken, t.ChatID))
	}
	if e := cfg.Notification.Email; e.Enabled {
		notifiers = append(notifiers,
			notify.NewEmail(e.SMTPServer, e.SMTPPort, e.Sender, e.Password, e.Recipient))
	}
	return &notify.Multi{Notifiers: notifiers, Logger: logger}
}

// exitCode folds the workers' terminal states into one process status:
// any failure wins, then any stop (or an interrupt), then success.
func exitCode(orch *engine.Orchestrator, targets []model.Target, interrupted chan struct{}) int {
	anyStopped := false
	select {
	case <-interrupted:
		anyStopped = true
	default:
	}

	for _, t := range targets {
		status, ok := orch.StatusOf(t.ID)
		if !ok {
			// Never registered: the worker could not even be constructed.
			return exitFailed
		}
		switch status {
		case model.StatusFailed:
			return exitFailed
		case model.StatusStopped:
			anyStopped = true
		}
	}
	if anyStopped {
		return exitStopped
	}
	return exitSucceeded
}
