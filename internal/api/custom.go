package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// Fetch returns custom data for cfg newer than since.
func (c *Client) Fetch(ctx context.Context, cfg model.SubscriptionConfig, since time.Time) ([]model.DataPoint, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if cfg.Resolution != model.ResolutionTick {
		query.Set("resolution", cfg.Resolution.String())
	}

	var resp CustomResponse
	if err := c.get(ctx, pathFor(cfg, "/custom/"), query, &resp); err != nil {
		return nil, fmt.Errorf("get custom %s: %w", cfg.Symbol, err)
	}

	points, err := resp.ToDataPoints(cfg.Symbol, since)
	if err != nil {
		return nil, fmt.Errorf("custom %s: %w", cfg.Symbol, err)
	}
	return points, nil
}

// FetchUniverse returns the members selected by the universe in cfg at now.
func (c *Client) FetchUniverse(ctx context.Context, cfg model.SubscriptionConfig, now time.Time) ([]model.Symbol, error) {
	query := url.Values{}
	query.Set("at", now.UTC().Format(time.RFC3339Nano))

	var resp UniverseResponse
	if err := c.get(ctx, pathFor(cfg, "/universes/"), query, &resp); err != nil {
		return nil, fmt.Errorf("get universe %s: %w", cfg.Symbol, err)
	}

	members, err := resp.ToSymbols()
	if err != nil {
		return nil, fmt.Errorf("universe %s: %w", cfg.Symbol, err)
	}
	return members, nil
}

func pathFor(cfg model.SubscriptionConfig, prefix string) string {
	if cfg.Source != "" {
		return cfg.Source
	}
	return prefix + url.PathEscape(cfg.Symbol.Ticker)
}
