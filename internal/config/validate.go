package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/livefeed/internal/model"
)

// Validate checks that all required fields are set and values are valid.
// It expects defaults to have been applied.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Auth.Enabled() && c.Auth.PrivateKeyPath == "" {
		return errors.New("auth.private_key_path is required when auth.key_id is set")
	}

	if c.Feed.TickInterval <= 0 {
		return errors.New("feed.tick_interval must be > 0")
	}
	if c.Feed.GracePeriod < 0 {
		return errors.New("feed.grace_period must be >= 0")
	}
	if c.Feed.HeartbeatInterval < 0 {
		return errors.New("feed.heartbeat_interval must be >= 0")
	}
	if c.Feed.SliceBuffer < 1 {
		return errors.New("feed.slice_buffer must be >= 1")
	}

	if c.TickSource.BufferSize < 1 {
		return errors.New("tick_source.buffer_size must be >= 1")
	}
	if c.TickSource.MaxBufferSize < c.TickSource.BufferSize {
		return fmt.Errorf("tick_source.max_buffer_size (%d) cannot be less than buffer_size (%d)",
			c.TickSource.MaxBufferSize, c.TickSource.BufferSize)
	}

	switch c.CustomSource.Backend {
	case BackendREST:
	case BackendDatabase:
		if err := c.CustomSource.Database.validate("custom_source.database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("custom_source.backend must be rest or database, got %q", c.CustomSource.Backend)
	}
	if c.CustomSource.Concurrency < 1 {
		return errors.New("custom_source.concurrency must be >= 1")
	}
	if c.UniverseSource.Concurrency < 1 {
		return errors.New("universe_source.concurrency must be >= 1")
	}

	for i, s := range c.Subscriptions {
		if _, err := s.ToConfig(); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
	}
	for i, u := range c.Universes {
		if err := u.validate(); err != nil {
			return fmt.Errorf("universes[%d]: %w", i, err)
		}
	}
	if len(c.Universes) > 0 && !c.UniverseSource.Enabled {
		return errors.New("universes require universe_source.enabled")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (u UniverseSpec) validate() error {
	if _, err := model.ParseSymbol(u.Symbol); err != nil {
		return err
	}
	if u.Resolution != "" {
		if _, err := model.ParseResolution(u.Resolution); err != nil {
			return fmt.Errorf("%s: %w", u.Symbol, err)
		}
	}
	member := u.Member
	member.Symbol = u.Symbol
	if _, err := member.ToConfig(); err != nil {
		return fmt.Errorf("member: %w", err)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
