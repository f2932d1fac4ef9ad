package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/livefeed/internal/api"
	"github.com/rickgao/livefeed/internal/auth"
	"github.com/rickgao/livefeed/internal/config"
	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/database"
	"github.com/rickgao/livefeed/internal/feed"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
	"github.com/rickgao/livefeed/internal/universe"
)

// service holds the wired components of one livefeed process.
type service struct {
	runner    *feed.Runner
	ticks     *source.TickSource
	custom    *source.CustomSource
	universes *source.UniverseSource
	stream    *connection.Stream // nil when tick_source is disabled
	pool      *pgxpool.Pool      // nil unless custom_source.backend is database
	logger    *slog.Logger
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{logger: logger}

	var creds *auth.Credentials
	if cfg.Auth.Enabled() {
		var err error
		creds, err = auth.LoadCredentials(cfg.Auth.KeyID, cfg.Auth.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
	}

	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	}
	if creds != nil {
		opts = append(opts, api.WithCredentials(creds))
	}
	apiClient := api.NewClient(cfg.API.RestURL, cfg.API.APIKey, opts...)

	// Ticks over websocket
	tickCfg := source.DefaultTickSourceConfig()
	tickCfg.BufferSize = cfg.TickSource.BufferSize
	tickCfg.MaxBufferSize = cfg.TickSource.MaxBufferSize
	svc.ticks = source.NewTickSource(tickCfg, logger)

	if cfg.TickSource.Enabled {
		streamCfg := connection.DefaultStreamConfig()
		streamCfg.URL = cfg.TickSource.WSURL
		streamCfg.PingInterval = cfg.TickSource.PingInterval
		streamCfg.PingTimeout = cfg.TickSource.PingTimeout
		streamCfg.ReconnectBaseWait = cfg.TickSource.ReconnectBaseDelay
		streamCfg.ReconnectMaxWait = cfg.TickSource.ReconnectMaxDelay

		svc.stream = connection.NewStream(streamCfg, creds, svc.ticks, logger)
		if err := svc.ticks.SetTransport(svc.stream); err != nil {
			return nil, fmt.Errorf("set tick transport: %w", err)
		}
	}

	// Custom data from REST or PostgreSQL
	var fetcher source.Fetcher = apiClient
	if cfg.CustomSource.Backend == config.BackendDatabase {
		db := cfg.CustomSource.Database
		logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)

		pool, err := database.Connect(ctx, db, cfg.Instance.ID)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		svc.pool = pool

		store := database.NewCustomStore(pool, cfg.CustomSource.Table, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		fetcher = store
	}

	customCfg := source.DefaultCustomSourceConfig()
	customCfg.MinPollInterval = cfg.CustomSource.MinPollInterval
	customCfg.Concurrency = cfg.CustomSource.Concurrency
	customCfg.Timeout = cfg.CustomSource.FetchTimeout
	svc.custom = source.NewCustomSource(customCfg, fetcher, logger)

	// Universe selection
	universeCfg := source.DefaultUniverseSourceConfig()
	universeCfg.MinPollInterval = cfg.UniverseSource.MinPollInterval
	universeCfg.Concurrency = cfg.UniverseSource.Concurrency
	universeCfg.Timeout = cfg.UniverseSource.FetchTimeout
	var universeFetcher source.UniverseFetcher
	if cfg.UniverseSource.Enabled {
		universeFetcher = apiClient
	}
	svc.universes = source.NewUniverseSource(universeCfg, universeFetcher, logger)

	svc.runner = feed.New(feed.Config{
		TickInterval:      cfg.Feed.TickInterval,
		GracePeriod:       cfg.Feed.GracePeriod,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		SliceBuffer:       cfg.Feed.SliceBuffer,
	}, nil, logger)

	if err := svc.runner.Initialize(svc.ticks, svc.custom, svc.universes); err != nil {
		svc.close()
		return nil, err
	}

	return svc, nil
}

// subscribe adds the configured subscriptions and universes.
func (s *service) subscribe(cfg *config.Config) error {
	for i, spec := range cfg.Subscriptions {
		sub, err := spec.ToConfig()
		if err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if err := s.runner.AddSubscription(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub, err)
		}
	}

	for i, spec := range cfg.Universes {
		u, err := toUniverse(spec)
		if err != nil {
			return fmt.Errorf("universes[%d]: %w", i, err)
		}
		if err := s.runner.AddUniverse(u); err != nil {
			return fmt.Errorf("add universe %s: %w", u.Symbol, err)
		}
	}

	s.logger.Info("subscriptions added",
		"subscriptions", len(cfg.Subscriptions),
		"universes", len(cfg.Universes),
	)
	return nil
}

// toUniverse converts a universe spec. Selection comes from the universe
// source, so Select is left nil.
func toUniverse(spec config.UniverseSpec) (universe.Universe, error) {
	sym, err := model.ParseSymbol(spec.Symbol)
	if err != nil {
		return universe.Universe{}, err
	}

	res := model.ResolutionDaily
	if spec.Resolution != "" {
		if res, err = model.ParseResolution(spec.Resolution); err != nil {
			return universe.Universe{}, err
		}
	}

	member := spec.Member
	member.Symbol = spec.Symbol
	tmpl, err := member.ToConfig()
	if err != nil {
		return universe.Universe{}, fmt.Errorf("member: %w", err)
	}

	return universe.Universe{
		Symbol:     sym,
		Resolution: res,
		Settings: universe.Settings{
			DataType:         tmpl.DataType,
			Resolution:       tmpl.Resolution,
			TickType:         tmpl.TickType,
			DataTimeZone:     tmpl.DataTimeZone,
			ExchangeTimeZone: tmpl.ExchangeTimeZone,
			FillForward:      tmpl.FillForward,
			ExtendedHours:    tmpl.ExtendedHours,
		},
	}, nil
}

func (s *service) close() {
	s.runner.Exit()
	s.ticks.Close()
	s.custom.Close()
	s.universes.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}
