package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-feed
api:
  rest_url: https://demo.example.com/v1
feed:
  tick_interval: 50ms
  grace_period: 2s
subscriptions:
  - symbol: SPY.usa.equity
  - symbol: WEATHER.usa.base
    type: custom
    resolution: minute
    source: /v2/weather/nyc
universes:
  - symbol: SP500.usa.base
    resolution: daily
    member:
      type: tradebar
      resolution: minute
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-feed" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-feed")
	}
	if cfg.API.RestURL != "https://demo.example.com/v1" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://demo.example.com/v1")
	}
	if cfg.Feed.TickInterval != 50*time.Millisecond {
		t.Errorf("Feed.TickInterval = %v, want 50ms", cfg.Feed.TickInterval)
	}
	if cfg.Feed.GracePeriod != 2*time.Second {
		t.Errorf("Feed.GracePeriod = %v, want 2s", cfg.Feed.GracePeriod)
	}
	if len(cfg.Subscriptions) != 2 {
		t.Fatalf("len(Subscriptions) = %d, want 2", len(cfg.Subscriptions))
	}
	if cfg.Subscriptions[1].Source != "/v2/weather/nyc" {
		t.Errorf("Subscriptions[1].Source = %q, want /v2/weather/nyc", cfg.Subscriptions[1].Source)
	}
	if len(cfg.Universes) != 1 || cfg.Universes[0].Member.Type != "tradebar" {
		t.Errorf("Universes = %+v, want one tradebar universe", cfg.Universes)
	}

	// Load alone applies no defaults.
	if cfg.Metrics.Port != 0 {
		t.Errorf("Metrics.Port = %d, want 0 before defaults", cfg.Metrics.Port)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_API_KEY", "key-abc")

	yaml := `
instance:
  id: test-feed
api:
  api_key: ${TEST_API_KEY}
custom_source:
  backend: database
  database:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CustomSource.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.CustomSource.Database.Password, "secret123")
	}
	if cfg.API.APIKey != "key-abc" {
		t.Errorf("API.APIKey = %q, want %q", cfg.API.APIKey, "key-abc")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}

	path := writeTempFile(t, "feed: [unterminated")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Load error = %v, want parse config error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-feed
custom_source:
  backend: database
  database:
    host: localhost
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Feed.TickInterval != DefaultTickInterval {
		t.Errorf("Feed.TickInterval = %v, want default %v", cfg.Feed.TickInterval, DefaultTickInterval)
	}
	if cfg.TickSource.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("TickSource.ReconnectMaxDelay = %v, want default %v", cfg.TickSource.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.CustomSource.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.CustomSource.Database.Port, DefaultDBPort)
	}
	if cfg.CustomSource.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.CustomSource.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config should validate: %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "logging:\n  level: info\n")
	_, err := LoadAndValidate(path)
	if err == nil || !strings.Contains(err.Error(), "instance.id is required") {
		t.Errorf("LoadAndValidate error = %v, want instance.id error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{Instance: InstanceConfig{ID: "test"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: `logging.level must be one of debug, info, warn, error, got "loud"`,
		},
		{
			name:    "auth without key",
			mutate:  func(c *Config) { c.Auth.KeyID = "abc" },
			wantErr: "auth.private_key_path is required when auth.key_id is set",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Feed.TickInterval = 0 },
			wantErr: "feed.tick_interval must be > 0",
		},
		{
			name:    "max buffer below buffer",
			mutate:  func(c *Config) { c.TickSource.MaxBufferSize = 10 },
			wantErr: "tick_source.max_buffer_size (10) cannot be less than buffer_size (10000)",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.CustomSource.Backend = "s3" },
			wantErr: `custom_source.backend must be rest or database, got "s3"`,
		},
		{
			name:    "database backend without host",
			mutate:  func(c *Config) { c.CustomSource.Backend = BackendDatabase },
			wantErr: "custom_source.database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.CustomSource.Backend = BackendDatabase
				c.CustomSource.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "custom_source.database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad subscription symbol",
			mutate:  func(c *Config) { c.Subscriptions = []SubscriptionSpec{{Symbol: "SPY"}} },
			wantErr: `subscriptions[0]: invalid symbol "SPY": want TICKER.market.type`,
		},
		{
			name: "universe without source",
			mutate: func(c *Config) {
				c.Universes = []UniverseSpec{{Symbol: "SP500.usa.base"}}
			},
			wantErr: "universes require universe_source.enabled",
		},
		{
			name: "bad metrics port",
			mutate: func(c *Config) {
				c.Metrics.Port = 70000
			},
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name: "valid config",
			mutate: func(c *Config) {
				c.UniverseSource.Enabled = true
				c.Subscriptions = []SubscriptionSpec{{Symbol: "SPY.usa.equity", TickType: "quote"}}
				c.Universes = []UniverseSpec{{Symbol: "SP500.usa.base", Resolution: "daily"}}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestSubscriptionSpec_ToConfig(t *testing.T) {
	spy := model.NewSymbol("SPY", "usa", model.SecurityEquity)

	tests := []struct {
		name    string
		spec    SubscriptionSpec
		want    model.SubscriptionConfig
		wantErr bool
	}{
		{
			name: "defaults to trade ticks",
			spec: SubscriptionSpec{Symbol: "SPY.usa.equity"},
			want: model.SubscriptionConfig{Symbol: spy, DataType: model.DataTick, Resolution: model.ResolutionTick, TickType: model.TickTrade},
		},
		{
			name: "quote ticks",
			spec: SubscriptionSpec{Symbol: "SPY.usa.equity", Type: "tick", TickType: "Quote"},
			want: model.SubscriptionConfig{Symbol: spy, DataType: model.DataTick, Resolution: model.ResolutionTick, TickType: model.TickQuote},
		},
		{
			name: "minute bars",
			spec: SubscriptionSpec{Symbol: "SPY.usa.equity", Type: "tradebar", Resolution: "minute", FillForward: true},
			want: model.SubscriptionConfig{Symbol: spy, DataType: model.DataTradeBar, Resolution: model.ResolutionMinute, FillForward: true},
		},
		{name: "bars need a resolution", spec: SubscriptionSpec{Symbol: "SPY.usa.equity", Type: "tradebar"}, wantErr: true},
		{name: "universe type rejected", spec: SubscriptionSpec{Symbol: "SPY.usa.equity", Type: "universe"}, wantErr: true},
		{name: "bad tick type", spec: SubscriptionSpec{Symbol: "SPY.usa.equity", TickType: "depth"}, wantErr: true},
		{name: "bad resolution", spec: SubscriptionSpec{Symbol: "SPY.usa.equity", Resolution: "weekly"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.ToConfig()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToConfig() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ToConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
