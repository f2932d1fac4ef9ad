package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultRestURL              = "https://api.livefeed.example.com/v1"
	DefaultWSURL                = "wss://stream.livefeed.example.com/v1/ticks"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryBackoff         = 1 * time.Second
	DefaultTickInterval         = 100 * time.Millisecond
	DefaultSliceBuffer          = 64
	DefaultTickBufferSize       = 10_000
	DefaultTickMaxBufferSize    = 1_000_000
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultCustomBackend        = BackendREST
	DefaultCustomPollInterval   = 1 * time.Second
	DefaultCustomConcurrency    = 10
	DefaultFetchTimeout         = 30 * time.Second
	DefaultCustomTable          = "custom_data"
	DefaultUniversePollInterval = 1 * time.Minute
	DefaultUniverseConcurrency  = 4
	DefaultUniverseFetchTimeout = 1 * time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *Config) applyDefaults() {
	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Feed defaults
	if c.Feed.TickInterval == 0 {
		c.Feed.TickInterval = DefaultTickInterval
	}
	if c.Feed.SliceBuffer == 0 {
		c.Feed.SliceBuffer = DefaultSliceBuffer
	}

	// Tick source defaults
	if c.TickSource.WSURL == "" {
		c.TickSource.WSURL = DefaultWSURL
	}
	if c.TickSource.BufferSize == 0 {
		c.TickSource.BufferSize = DefaultTickBufferSize
	}
	if c.TickSource.MaxBufferSize == 0 {
		c.TickSource.MaxBufferSize = DefaultTickMaxBufferSize
	}
	if c.TickSource.PingInterval == 0 {
		c.TickSource.PingInterval = DefaultPingInterval
	}
	if c.TickSource.PingTimeout == 0 {
		c.TickSource.PingTimeout = DefaultPingTimeout
	}
	if c.TickSource.ReconnectBaseDelay == 0 {
		c.TickSource.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.TickSource.ReconnectMaxDelay == 0 {
		c.TickSource.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Custom source defaults
	if c.CustomSource.Backend == "" {
		c.CustomSource.Backend = DefaultCustomBackend
	}
	if c.CustomSource.MinPollInterval == 0 {
		c.CustomSource.MinPollInterval = DefaultCustomPollInterval
	}
	if c.CustomSource.Concurrency == 0 {
		c.CustomSource.Concurrency = DefaultCustomConcurrency
	}
	if c.CustomSource.FetchTimeout == 0 {
		c.CustomSource.FetchTimeout = DefaultFetchTimeout
	}
	if c.CustomSource.Table == "" {
		c.CustomSource.Table = DefaultCustomTable
	}
	if c.CustomSource.Backend == BackendDatabase {
		applyDBDefaults(&c.CustomSource.Database)
	}

	// Universe source defaults
	if c.UniverseSource.MinPollInterval == 0 {
		c.UniverseSource.MinPollInterval = DefaultUniversePollInterval
	}
	if c.UniverseSource.Concurrency == 0 {
		c.UniverseSource.Concurrency = DefaultUniverseConcurrency
	}
	if c.UniverseSource.FetchTimeout == 0 {
		c.UniverseSource.FetchTimeout = DefaultUniverseFetchTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
