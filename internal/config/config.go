package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tickgrabber/internal/model"
)

// Config is the full application configuration, loaded from a JSON file.
// Intervals are expressed in seconds (fractions allowed) to match the
// config files the desktop app ships with.
type Config struct {
	Browser      BrowserConfig      `mapstructure:"browser"`
	Ticketing    TicketingConfig    `mapstructure:"ticketing"`
	User         model.Credentials  `mapstructure:"user"`
	Captcha      CaptchaConfig      `mapstructure:"captcha"`
	Notification NotificationConfig `mapstructure:"notification"`
	Targets      []model.Target     `mapstructure:"targets"`
}

type BrowserConfig struct {
	Headless  bool    `mapstructure:"headless"`
	UserAgent string  `mapstructure:"user_agent"`
	Timeout   float64 `mapstructure:"timeout"` // seconds, per browser operation
}

type TicketingConfig struct {
	DefaultSite     string  `mapstructure:"default_site"`
	RefreshInterval float64 `mapstructure:"refresh_interval"` // seconds between poll cycles
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryDelay      float64 `mapstructure:"retry_delay"` // seconds between transient-error retries
	StopGrace       float64 `mapstructure:"stop_grace"`  // seconds to wait for cooperative shutdown
}

type CaptchaConfig struct {
	AutoSolve bool    `mapstructure:"auto_solve"`
	APIURL    string  `mapstructure:"api_url"` // external recognition fallback, optional
	APIKey    string  `mapstructure:"api_key"`
	Timeout   float64 `mapstructure:"timeout"`   // seconds, bounded wait for solve feedback
	Threshold uint8   `mapstructure:"threshold"` // binarization cutoff, 0 keeps the default
}

type NotificationConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type EmailConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SMTPServer string `mapstructure:"smtp_server"`
	SMTPPort   int    `mapstructure:"smtp_port"`
	Sender     string `mapstructure:"sender"`
	Password   string `mapstructure:"password"`
	Recipient  string `mapstructure:"recipient"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (t TicketingConfig) RefreshEvery() time.Duration { return seconds(t.RefreshInterval) }
func (t TicketingConfig) RetryAfter() time.Duration   { return seconds(t.RetryDelay) }
func (t TicketingConfig) GracePeriod() time.Duration  { return seconds(t.StopGrace) }
func (b BrowserConfig) OpTimeout() time.Duration      { return seconds(b.Timeout) }
func (c CaptchaConfig) SolveTimeout() time.Duration   { return seconds(c.Timeout) }

// Load reads the JSON config at path and applies environment overrides
// for secrets. A .env file next to the binary is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("browser.timeout", 30.0)
	v.SetDefault("ticketing.default_site", "interpark")
	v.SetDefault("ticketing.refresh_interval", 0.5)
	v.SetDefault("ticketing.max_retries", 3)
	v.SetDefault("ticketing.retry_delay", 1.0)
	v.SetDefault("ticketing.stop_grace", 5.0)
	v.SetDefault("captcha.auto_solve", true)
	v.SetDefault("captcha.timeout", 10.0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Secrets come from the environment when set, so config files can be
	// shared without them.
	if key := os.Getenv("CAPTCHA_API_KEY"); key != "" {
		cfg.Captcha.APIKey = key
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Notification.Telegram.BotToken = tok
	}
	if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
		cfg.Notification.Email.Password = pw
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("config has no targets")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.ID == "" {
			return fmt.Errorf("target %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Site == "" {
			t.Site = c.Ticketing.DefaultSite
		}
	}
	if c.Ticketing.MaxRetries < 1 {
		return fmt.Errorf("ticketing.max_retries must be at least 1")
	}
	return nil
}

// TargetByID returns the configured target with the given id.
func (c *Config) TargetByID(id string) (model.Target, bool) {
	for _, t := range c.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return model.Target{}, false
}
