package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// UniverseFetcher retrieves the current members of a universe.
type UniverseFetcher interface {
	FetchUniverse(ctx context.Context, cfg model.SubscriptionConfig, now time.Time) ([]model.Symbol, error)
}

// UniverseFetcherFunc is a function adapter for UniverseFetcher.
type UniverseFetcherFunc func(ctx context.Context, cfg model.SubscriptionConfig, now time.Time) ([]model.Symbol, error)

func (f UniverseFetcherFunc) FetchUniverse(ctx context.Context, cfg model.SubscriptionConfig, now time.Time) ([]model.Symbol, error) {
	return f(ctx, cfg, now)
}

// UniverseSourceConfig holds UniverseSource configuration.
type UniverseSourceConfig struct {
	Name            string
	MinPollInterval time.Duration
	Concurrency     int
	Timeout         time.Duration
}

// DefaultUniverseSourceConfig returns sensible defaults.
func DefaultUniverseSourceConfig() UniverseSourceConfig {
	return UniverseSourceConfig{
		Name:            "universe",
		MinPollInterval: time.Minute,
		Concurrency:     4,
		Timeout:         time.Minute,
	}
}

// UniverseSource delivers full-collection selection payloads keyed to a
// universe Symbol. Payloads come from Publish, from a polled
// UniverseFetcher, or both. Every payload is delivered, including one equal
// to the previous selection, so a member that failed to apply is retried.
type UniverseSource struct {
	cfg   UniverseSourceConfig
	group *pollGroup
}

// NewUniverseSource creates a UniverseSource. fetcher may be nil, in which
// case payloads only arrive through Publish.
func NewUniverseSource(cfg UniverseSourceConfig, fetcher UniverseFetcher, logger *slog.Logger) *UniverseSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "universe"
	}

	s := &UniverseSource{cfg: cfg}

	var fetch fetchFunc
	if fetcher != nil {
		fetch = func(ctx context.Context, sub model.SubscriptionConfig, _ time.Time, now time.Time) ([]model.DataPoint, error) {
			members, err := fetcher.FetchUniverse(ctx, sub, now)
			if err != nil {
				return nil, err
			}
			return []model.DataPoint{model.NewUniverseData(sub.Symbol, now, members)}, nil
		}
	}

	s.group = newPollGroup(cfg.Name, cfg.MinPollInterval, cfg.Timeout, cfg.Concurrency, fetch, logger.With("adapter", cfg.Name))
	return s
}

// Name returns the adapter name.
func (s *UniverseSource) Name() string {
	return s.cfg.Name
}

// Accepts serves universe-selection subscriptions.
func (s *UniverseSource) Accepts(cfg model.SubscriptionConfig) bool {
	return cfg.IsUniverse || cfg.DataType == model.DataUniverse
}

// Subscribe registers universe configs.
func (s *UniverseSource) Subscribe(cfgs []model.SubscriptionConfig) error {
	s.group.add(cfgs)
	return nil
}

// Unsubscribe drops universe configs.
func (s *UniverseSource) Unsubscribe(cfgs []model.SubscriptionConfig) error {
	s.group.remove(cfgs)
	return nil
}

// Publish delivers a selection payload for a subscribed universe.
func (s *UniverseSource) Publish(universe model.Symbol, members []model.Symbol, at time.Time) error {
	for _, cfg := range s.group.configs() {
		if cfg.Symbol != universe {
			continue
		}
		s.group.push(cfg, []model.DataPoint{model.NewUniverseData(universe, at, members)})
		return nil
	}
	return fmt.Errorf("publish %s: %w", universe, ErrNotSubscribed)
}

// GetNextData returns pending payloads and starts due polls.
func (s *UniverseSource) GetNextData(_ context.Context, now time.Time) ([]model.DataPoint, error) {
	return s.group.collect(now), nil
}

// Close cancels polls in flight and waits for them.
func (s *UniverseSource) Close() error {
	s.group.close()
	return nil
}
