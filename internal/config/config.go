// Package config loads the livefeed YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/livefeed/internal/model"
)

// Config is the top-level livefeed configuration.
type Config struct {
	Instance       InstanceConfig       `yaml:"instance"`
	Logging        LoggingConfig        `yaml:"logging"`
	API            APIConfig            `yaml:"api"`
	Auth           AuthConfig           `yaml:"auth"`
	Feed           FeedConfig           `yaml:"feed"`
	TickSource     TickSourceConfig     `yaml:"tick_source"`
	CustomSource   CustomSourceConfig   `yaml:"custom_source"`
	UniverseSource UniverseSourceConfig `yaml:"universe_source"`
	Subscriptions  []SubscriptionSpec   `yaml:"subscriptions"`
	Universes      []UniverseSpec       `yaml:"universes"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// APIConfig configures the vendor REST client.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// AuthConfig holds request-signing credentials. Signing is off when
// KeyID is empty.
type AuthConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Enabled reports whether signing credentials are configured.
func (a AuthConfig) Enabled() bool {
	return a.KeyID != ""
}

// FeedConfig configures the runner loop.
type FeedConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SliceBuffer       int           `yaml:"slice_buffer"`
}

// TickSourceConfig configures the websocket tick stream.
type TickSourceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	WSURL              string        `yaml:"ws_url"`
	BufferSize         int           `yaml:"buffer_size"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// Custom data backends.
const (
	BackendREST     = "rest"
	BackendDatabase = "database"
)

// CustomSourceConfig configures custom data polling.
type CustomSourceConfig struct {
	Backend         string        `yaml:"backend"` // rest or database
	MinPollInterval time.Duration `yaml:"min_poll_interval"`
	Concurrency     int           `yaml:"concurrency"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	Database        DBConfig      `yaml:"database"`
	Table           string        `yaml:"table"`
}

// UniverseSourceConfig configures universe selection polling over REST.
type UniverseSourceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MinPollInterval time.Duration `yaml:"min_poll_interval"`
	Concurrency     int           `yaml:"concurrency"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SubscriptionSpec is a user subscription as written in YAML.
type SubscriptionSpec struct {
	Symbol           string `yaml:"symbol"` // TICKER.market.type
	Type             string `yaml:"type"`   // tick, tradebar or custom
	Resolution       string `yaml:"resolution"`
	TickType         string `yaml:"tick_type"`
	Source           string `yaml:"source"`
	DataTimeZone     string `yaml:"data_time_zone"`
	ExchangeTimeZone string `yaml:"exchange_time_zone"`
	FillForward      bool   `yaml:"fill_forward"`
	ExtendedHours    bool   `yaml:"extended_hours"`
}

// ToConfig converts s to a subscription config.
func (s SubscriptionSpec) ToConfig() (model.SubscriptionConfig, error) {
	sym, err := model.ParseSymbol(s.Symbol)
	if err != nil {
		return model.SubscriptionConfig{}, err
	}

	dt := model.DataType(strings.ToLower(s.Type))
	if dt == "" {
		dt = model.DataTick
	}
	switch dt {
	case model.DataTick, model.DataTradeBar, model.DataCustom:
	default:
		return model.SubscriptionConfig{}, fmt.Errorf("%s: unsupported type %q", s.Symbol, s.Type)
	}

	res := model.ResolutionTick
	if s.Resolution != "" {
		if res, err = model.ParseResolution(s.Resolution); err != nil {
			return model.SubscriptionConfig{}, fmt.Errorf("%s: %w", s.Symbol, err)
		}
	}
	if dt == model.DataTradeBar && res == model.ResolutionTick {
		return model.SubscriptionConfig{}, fmt.Errorf("%s: tradebar needs a bar resolution", s.Symbol)
	}

	var tt model.TickType
	if dt == model.DataTick {
		tt = model.TickType(strings.ToLower(s.TickType))
		switch tt {
		case "":
			tt = model.TickTrade
		case model.TickTrade, model.TickQuote:
		default:
			return model.SubscriptionConfig{}, fmt.Errorf("%s: unsupported tick_type %q", s.Symbol, s.TickType)
		}
	}

	return model.SubscriptionConfig{
		Symbol:           sym,
		DataType:         dt,
		Resolution:       res,
		DataTimeZone:     s.DataTimeZone,
		ExchangeTimeZone: s.ExchangeTimeZone,
		TickType:         tt,
		FillForward:      s.FillForward,
		ExtendedHours:    s.ExtendedHours,
		Source:           s.Source,
	}, nil
}

// UniverseSpec is a universe as written in YAML. Member is the template
// applied to every selected symbol; its Symbol field is ignored.
type UniverseSpec struct {
	Symbol     string           `yaml:"symbol"`
	Resolution string           `yaml:"resolution"`
	Member     SubscriptionSpec `yaml:"member"`
}

// MetricsConfig configures the HTTP endpoint for metrics and health.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Load reads a YAML file and expands ${VAR} references from the
// environment. Defaults are not applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the file and fills unset fields with defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, applies defaults and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
