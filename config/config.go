package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"quotesync/internal/indicator"
	"quotesync/internal/markethours"
)

// Config holds all application configuration. Values come from struct
// defaults, then the optional YAML file, then environment variables.
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" default:"text" validate:"oneof=text json"`
	Market    string `yaml:"market" default:"US" validate:"oneof=US NSE"`

	DB struct {
		Path string `yaml:"path" default:"data/quotes.db" validate:"required"`
	} `yaml:"db"`

	Session    SessionConfig    `yaml:"session"`
	Sync       SyncConfig       `yaml:"sync"`
	Indicators IndicatorsConfig `yaml:"indicators"`

	Recompute struct {
		Workers int `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	} `yaml:"recompute"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the /metrics server
	} `yaml:"metrics"`

	Notify struct {
		Log            bool   `yaml:"log" default:"true"`
		WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
	} `yaml:"notify"`

	Schedule struct {
		// Six-field cron spec (with seconds), evaluated in the market's zone.
		Cron string `yaml:"cron" default:"0 45 16 * * 1-5" validate:"required"`
	} `yaml:"schedule"`
}

// SessionConfig selects and configures the market-data session.
type SessionConfig struct {
	Kind string `yaml:"kind" default:"gateway" validate:"oneof=gateway smartapi"`

	GatewayURL   string `yaml:"gateway_url" default:"ws://127.0.0.1:4002/ws" validate:"required_if=Kind gateway"`
	GatewayToken string `yaml:"gateway_token"`

	// Angel One SmartAPI
	APIKey          string `yaml:"api_key" validate:"required_if=Kind smartapi"`
	ClientCode      string `yaml:"client_code" validate:"required_if=Kind smartapi"`
	Password        string `yaml:"password" validate:"required_if=Kind smartapi"`
	TOTPSecret      string `yaml:"totp_secret" validate:"required_if=Kind smartapi"`
	RootURL         string `yaml:"root_url"`
	DefaultExchange string `yaml:"default_exchange" default:"NSE"`
	Workers         int    `yaml:"workers" default:"3" validate:"gte=1"`
}

// SyncConfig bounds a sync run.
type SyncConfig struct {
	ConcurrencyLimit        int           `yaml:"concurrency_limit" default:"40" validate:"gte=1"`
	ConcurrencyBuffer       int           `yaml:"concurrency_buffer" default:"10" validate:"gte=0"`
	PollInterval            time.Duration `yaml:"poll_interval" default:"2s" validate:"gt=0"`
	FullSpan                string        `yaml:"full_span" default:"2 Y" validate:"required"`
	ResyncOnMissingBoundary bool          `yaml:"resync_on_missing_boundary"`
}

// IndicatorsConfig lists the stored indicator series.
type IndicatorsConfig struct {
	EMAWindows      []int `yaml:"ema_windows" default:"[8,21,34,89]" validate:"dive,gte=1"`
	SMAWindows      []int `yaml:"sma_windows" default:"[20,50,200]" validate:"dive,gte=1"`
	RSIPeriod       int   `yaml:"rsi_period" default:"14" validate:"gte=0"`
	DILen           int   `yaml:"di_len" default:"14" validate:"gte=0"`
	ADXLen          int   `yaml:"adx_len" default:"14" validate:"gte=0"`
	ADXRLen         int   `yaml:"adxr_len" default:"14" validate:"gte=0"`
	StochKLen       int   `yaml:"stoch_k_len" default:"8" validate:"gte=0"`
	StochKSmoothing int   `yaml:"stoch_k_smoothing" default:"3" validate:"gte=1"`
	StochDSmoothing int   `yaml:"stoch_d_smoothing" default:"3" validate:"gte=1"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnv overrides file values with environment variables. The Angel One,
// Redis and metrics names are shared with the other services on the host.
func (c *Config) applyEnv() {
	c.LogLevel = getEnv("QUOTESYNC_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("QUOTESYNC_LOG_FORMAT", c.LogFormat)
	c.Market = getEnv("QUOTESYNC_MARKET", c.Market)
	c.DB.Path = getEnv("QUOTESYNC_DB", c.DB.Path)

	c.Session.Kind = getEnv("QUOTESYNC_SESSION", c.Session.Kind)
	c.Session.GatewayURL = getEnv("QUOTESYNC_GATEWAY_URL", c.Session.GatewayURL)
	c.Session.GatewayToken = getEnv("QUOTESYNC_GATEWAY_TOKEN", c.Session.GatewayToken)
	c.Session.APIKey = getEnv("ANGEL_API_KEY", c.Session.APIKey)
	c.Session.ClientCode = getEnv("ANGEL_CLIENT_CODE", c.Session.ClientCode)
	c.Session.Password = getEnv("ANGEL_PASSWORD", c.Session.Password)
	c.Session.TOTPSecret = getEnv("ANGEL_TOTP_SECRET", c.Session.TOTPSecret)

	c.Sync.ConcurrencyLimit = getEnvInt("QUOTESYNC_REQ_LIMIT", c.Sync.ConcurrencyLimit)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	c.Notify.WebhookURL = getEnv("QUOTESYNC_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
}

// Validate checks field constraints and the history span syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := ParseSpan(c.Sync.FullSpan); err != nil {
		return err
	}
	// SmartAPI dates candles in IST; another calendar would restamp them.
	if c.Session.Kind == "smartapi" && c.Market != "NSE" {
		return fmt.Errorf("session kind smartapi requires market NSE, got %q", c.Market)
	}
	return nil
}

// FullSpanDays returns Sync.FullSpan in days.
func (c *Config) FullSpanDays() int {
	d, _ := ParseSpan(c.Sync.FullSpan)
	return d
}

// MarketSession returns the configured exchange calendar.
func (c *Config) MarketSession() *markethours.Session {
	s, err := markethours.ByName(c.Market)
	if err != nil {
		return markethours.US
	}
	return s
}

// IndicatorConfig converts the indicators section for the engine.
func (c *Config) IndicatorConfig() indicator.Config {
	ic := c.Indicators
	return indicator.Config{
		EMAWindows:      ic.EMAWindows,
		SMAWindows:      ic.SMAWindows,
		RSIPeriod:       ic.RSIPeriod,
		DILen:           ic.DILen,
		ADXLen:          ic.ADXLen,
		ADXRLen:         ic.ADXRLen,
		StochKLen:       ic.StochKLen,
		StochKSmoothing: ic.StochKSmoothing,
		StochDSmoothing: ic.StochDSmoothing,
	}
}

// ParseSpan parses a broker-style duration such as "2 Y", "6 M", "3 W" or
// "30 D" into days. Months count 30 days, years 365.
func ParseSpan(s string) (int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("span %q: want \"<n> <D|W|M|Y>\"", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("span %q: bad count", s)
	}
	switch strings.ToUpper(fields[1]) {
	case "D":
		return n, nil
	case "W":
		return 7 * n, nil
	case "M":
		return 30 * n, nil
	case "Y":
		return 365 * n, nil
	}
	return 0, fmt.Errorf("span %q: unknown unit %q", s, fields[1])
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
