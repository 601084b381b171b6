package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngtrust/internal/enforcement"
)

type (
	Config struct {
		LogLevel        int    `env:"LOG_LEVEL,default=4"`
		LogNoColor      bool   `env:"LOG_NO_COLOR,default=false"`
		DotPath         string `env:"DOT_PATH,default=~/.ngtrust"`
		DBName          string `env:"DB_NAME,default=ngtrust.db"`
		DefaultLanguage string `env:"LANG,default=en"`
		// RestartOnUpdate exits when the binary changes on disk; zero disables it.
		RestartOnUpdate time.Duration `env:"RESTART_ON_UPDATE,default=0s"`

		HTTP       HTTP
		Telegram   Telegram
		Policy     Policy
		Sweeper    Sweeper
		Classifier Classifier
		Notify     Notify
	}

	HTTP struct {
		Addr            string        `env:"HTTP_ADDR,default=:8080"`
		AdminToken      string        `env:"ADMIN_TOKEN"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	}

	// Telegram notices are sent only when a token is configured, the log transport is used otherwise.
	Telegram struct {
		Token string `env:"TELEGRAM_TOKEN"`
		Debug bool   `env:"TELEGRAM_DEBUG,default=false"`
	}

	Policy struct {
		Window          time.Duration `env:"POLICY_WINDOW,default=2160h"`
		RestrictFor     time.Duration `env:"POLICY_RESTRICT_FOR,default=168h"`
		ShortSuspension time.Duration `env:"POLICY_SHORT_SUSPENSION,default=168h"`
		LongSuspension  time.Duration `env:"POLICY_LONG_SUSPENSION,default=720h"`
		// ReconcileGrace is how long a violation may stay pending before it is actioned.
		ReconcileGrace    time.Duration `env:"RECONCILE_GRACE,default=5m"`
		ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=1m"`
	}

	Sweeper struct {
		Interval    time.Duration `env:"SWEEP_INTERVAL,default=1h"`
		Window      time.Duration `env:"SWEEP_WINDOW,default=24h"`
		Concurrency int           `env:"SWEEP_CONCURRENCY,default=4"`
	}

	Classifier struct {
		PatternsPath string `env:"CLASSIFIER_PATTERNS"`
	}

	Notify struct {
		QueueSize   int           `env:"NOTIFY_QUEUE_SIZE,default=1024"`
		TTL         time.Duration `env:"NOTIFY_TTL,default=10m"`
		MaxAttempts int           `env:"NOTIFY_MAX_ATTEMPTS,default=3"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads NT_ prefixed variables from the environment once.
func Load() (Config, error) {
	once.Do(func() {
		cfg, err := Process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// Process reads the configuration from lookuper, which is prefixed with NT_.
func Process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("NT_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Policy.Window <= 0:
		return fmt.Errorf("policy window must be positive")
	case c.Policy.RestrictFor <= 0 || c.Policy.ShortSuspension <= 0 || c.Policy.LongSuspension <= 0:
		return fmt.Errorf("policy durations must be positive")
	case c.Sweeper.Concurrency <= 0:
		return fmt.Errorf("sweeper concurrency must be positive")
	}
	return nil
}

// EnforcementConfig maps the policy settings onto the engine configuration.
func (p Policy) EnforcementConfig() enforcement.Config {
	return enforcement.Config{
		Window:          p.Window,
		RestrictFor:     p.RestrictFor,
		ShortSuspension: p.ShortSuspension,
		LongSuspension:  p.LongSuspension,
	}
}
