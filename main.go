package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngtrust/internal/api"
	"github.com/iamwavecut/ngtrust/internal/appeal"
	"github.com/iamwavecut/ngtrust/internal/classifier"
	"github.com/iamwavecut/ngtrust/internal/config"
	"github.com/iamwavecut/ngtrust/internal/db/sqlite"
	"github.com/iamwavecut/ngtrust/internal/enforcement"
	"github.com/iamwavecut/ngtrust/internal/gate"
	"github.com/iamwavecut/ngtrust/internal/i18n"
	"github.com/iamwavecut/ngtrust/internal/infra"
	"github.com/iamwavecut/ngtrust/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngtrust/internal/lifecycle"
	"github.com/iamwavecut/ngtrust/internal/notify"
	"github.com/iamwavecut/ngtrust/internal/observability"
	"github.com/iamwavecut/ngtrust/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	log.SetFormatter(&config.NtFormatter{NoColor: cfg.LogNoColor})
	log.SetOutput(os.Stdout)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithField("error", err.Error()).Fatal("exiting")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownObservability, err := observability.Init(ctx)
	if err != nil {
		return err
	}

	if !i18n.IsSupported(cfg.DefaultLanguage) {
		log.WithField("language", cfg.DefaultLanguage).
			WithField("supported", strings.Join(i18n.GetLanguagesList(), ",")).
			Warn("unsupported default language, notices fall back to english")
	}

	dbDir, err := infra.WorkDir(cfg.DotPath)
	if err != nil {
		return err
	}
	store, err := sqlite.NewSQLiteClient(ctx, dbDir, cfg.DBName)
	if err != nil {
		return err
	}

	patterns, err := classifier.LoadPatterns(cfg.Classifier.PatternsPath)
	if err != nil {
		return err
	}
	extra, err := classifier.CompilePatterns(patterns)
	if err != nil {
		return err
	}
	patternClassifier := classifier.New(extra...)

	var transport notify.Transport = notify.LogTransport{}
	if cfg.Telegram.Token != "" {
		tg, err := telegram.NewTransportFromToken(cfg.Telegram.Token, cfg.Telegram.Debug)
		if err != nil {
			return err
		}
		transport = tg
	}
	dispatcher := notify.NewDispatcher(
		notify.WithLanguage(cfg.DefaultLanguage),
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithTTL(cfg.Notify.TTL),
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
	)

	engine := enforcement.NewEngine(store, cfg.Policy.EnforcementConfig(),
		enforcement.WithNotifier(dispatcher),
		enforcement.WithReconcile(cfg.Policy.ReconcileGrace, cfg.Policy.ReconcileInterval),
	)
	sweep := sweeper.New(store, patternClassifier,
		sweeper.WithConcurrency(cfg.Sweeper.Concurrency),
		sweeper.WithInterval(cfg.Sweeper.Interval, cfg.Sweeper.Window),
	)
	server := api.NewServer(api.Deps{
		Enforcement: engine,
		Gate:        gate.New(store, patternClassifier, engine),
		Appeals:     appeal.New(store, appeal.WithNotifier(dispatcher)),
		Sweeps:      sweep,
	},
		api.WithAddr(cfg.HTTP.Addr),
		api.WithAdminToken(cfg.HTTP.AdminToken),
		api.WithLogger(observability.Logger),
		api.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
	)

	runtime := lifecycle.NewRuntime()
	runtime.Register("observability", lifecycle.Func{StopFn: shutdownObservability})
	runtime.Register("store", lifecycle.Func{StopFn: func(context.Context) error { return store.Close() }})
	runtime.Register("notifications", dispatcher.Component(transport))
	runtime.Register("enforcement", engine)
	runtime.Register("sweeper", sweep)
	runtime.Register("http", server)

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	log.WithField("addr", cfg.HTTP.Addr).Info("ngtrust is running")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-infra.MonitorExecutable(ctx, cfg.RestartOnUpdate):
		log.Warn("executable was modified, restarting")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return runtime.Stop(stopCtx)
}
