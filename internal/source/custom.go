package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// Fetcher retrieves custom data for one subscription.
type Fetcher interface {
	// Fetch returns points for cfg whose EndTime is after since. A zero since
	// asks for everything currently available.
	Fetch(ctx context.Context, cfg model.SubscriptionConfig, since time.Time) ([]model.DataPoint, error)
}

// FetcherFunc is a function adapter for Fetcher.
type FetcherFunc func(ctx context.Context, cfg model.SubscriptionConfig, since time.Time) ([]model.DataPoint, error)

func (f FetcherFunc) Fetch(ctx context.Context, cfg model.SubscriptionConfig, since time.Time) ([]model.DataPoint, error) {
	return f(ctx, cfg, since)
}

// CustomSourceConfig holds CustomSource configuration.
type CustomSourceConfig struct {
	Name            string
	MinPollInterval time.Duration // Floor for per-subscription poll interval
	Concurrency     int           // Max fetches in flight
	Timeout         time.Duration // Per-fetch timeout
}

// DefaultCustomSourceConfig returns sensible defaults.
func DefaultCustomSourceConfig() CustomSourceConfig {
	return CustomSourceConfig{
		Name:            "custom",
		MinPollInterval: time.Second,
		Concurrency:     10,
		Timeout:         30 * time.Second,
	}
}

// CustomSource polls a Fetcher. Each subscription decides from its own
// resolution when it is due, and each fetch runs independently.
type CustomSource struct {
	cfg   CustomSourceConfig
	group *pollGroup
}

// NewCustomSource creates a CustomSource.
func NewCustomSource(cfg CustomSourceConfig, fetcher Fetcher, logger *slog.Logger) *CustomSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "custom"
	}

	fetch := func(ctx context.Context, sub model.SubscriptionConfig, since, _ time.Time) ([]model.DataPoint, error) {
		return fetcher.Fetch(ctx, sub, since)
	}

	return &CustomSource{
		cfg:   cfg,
		group: newPollGroup(cfg.Name, cfg.MinPollInterval, cfg.Timeout, cfg.Concurrency, fetch, logger.With("adapter", cfg.Name)),
	}
}

// Name returns the adapter name.
func (s *CustomSource) Name() string {
	return s.cfg.Name
}

// Accepts serves custom data subscriptions.
func (s *CustomSource) Accepts(cfg model.SubscriptionConfig) bool {
	return cfg.DataType == model.DataCustom && !cfg.IsUniverse
}

// Subscribe registers configs; each is fetched on the next poll.
func (s *CustomSource) Subscribe(cfgs []model.SubscriptionConfig) error {
	s.group.add(cfgs)
	return nil
}

// Unsubscribe drops configs; results still in flight are discarded.
func (s *CustomSource) Unsubscribe(cfgs []model.SubscriptionConfig) error {
	s.group.remove(cfgs)
	return nil
}

// GetNextData returns completed fetch results and starts due fetches.
func (s *CustomSource) GetNextData(_ context.Context, now time.Time) ([]model.DataPoint, error) {
	return s.group.collect(now), nil
}

// IsSubscribed reports whether cfg is being polled.
func (s *CustomSource) IsSubscribed(cfg model.SubscriptionConfig) bool {
	return s.group.has(cfg)
}

// Close cancels fetches in flight and waits for them.
func (s *CustomSource) Close() error {
	s.group.close()
	return nil
}
