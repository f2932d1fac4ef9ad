// Package synchronizer merges adapter output into time slices.
//
// Step is called once per tick by the feed loop. It pulls from every adapter
// that serves an active subscription, routes points to their subscriptions,
// releases what is due and attaches pending security changes. Slice times
// strictly increase.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/livefeed/internal/clock"
	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
	"github.com/rickgao/livefeed/internal/subscription"
)

// Config holds Synchronizer configuration.
type Config struct {
	GracePeriod       time.Duration // Delay before the first pull
	HeartbeatInterval time.Duration // Emit empty slices at least this often (0 disables)
}

// SelectionHandler consumes universe selection payloads.
type SelectionHandler interface {
	OnSelection(p model.DataPoint) (model.SecurityChanges, error)
}

// Synchronizer produces time slices from a Collection and its adapters.
type Synchronizer struct {
	cfg      Config
	subs     *subscription.Collection
	adapters *source.Set
	clock    clock.Clock
	handler  SelectionHandler
	logger   *slog.Logger

	// Loop-owned state.
	start    time.Time
	lastEmit time.Time
}

// New creates a Synchronizer. The grace period starts now.
func New(cfg Config, subs *subscription.Collection, adapters *source.Set, clk clock.Clock, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Synchronizer{
		cfg:      cfg,
		subs:     subs,
		adapters: adapters,
		clock:    clk,
		logger:   logger,
		start:    clk.Now().UTC(),
	}
}

// SetSelectionHandler sets the consumer of universe payloads. Must be called
// before the first Step.
func (s *Synchronizer) SetSelectionHandler(h SelectionHandler) {
	s.handler = h
}

// LastEmitted returns the time of the last emitted slice.
func (s *Synchronizer) LastEmitted() time.Time {
	return s.lastEmit
}

// Step builds the slice for the current clock time. The bool result is false
// when nothing is emitted this tick. The only error returned is ctx's.
func (s *Synchronizer) Step(ctx context.Context) (model.TimeSlice, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.TimeSlice{}, false, err
	}

	now := s.clock.Now().UTC()
	if now.Sub(s.start) < s.cfg.GracePeriod {
		return model.TimeSlice{}, false, nil
	}
	if !s.lastEmit.IsZero() && !now.After(s.lastEmit) {
		return model.TimeSlice{}, false, nil
	}

	began := time.Now()
	defer func() { metrics.StepDuration.Observe(time.Since(began).Seconds()) }()

	snap := s.subs.Snapshot()
	bySymbol := make(map[model.Symbol][]*subscription.Subscription, len(snap))
	for _, sub := range snap {
		bySymbol[sub.Config.Symbol] = append(bySymbol[sub.Config.Symbol], sub)
	}

	for _, a := range s.activeAdapters(snap) {
		points := s.pull(ctx, a, now)
		s.route(bySymbol, points)
	}

	slice := model.NewTimeSlice(now)
	var selections []model.DataPoint
	for _, sub := range snap {
		out, dropped := sub.Release(now)
		metrics.Dropped("duplicate", dropped)
		for _, p := range out {
			slice.Add(p)
			if p.Kind == model.DataUniverse {
				selections = append(selections, p)
			}
		}
	}

	// Selection-driven changes land in this slice.
	for _, p := range selections {
		if s.handler == nil {
			break
		}
		if _, err := s.handler.OnSelection(p); err != nil {
			s.logger.Warn("universe selection failed", "universe", p.Symbol.String(), "err", err)
		}
	}

	slice.Changes = s.subs.DrainChanges(now)

	if !slice.HasData() && len(slice.Changes) == 0 && !s.heartbeatDue(now) {
		return model.TimeSlice{}, false, nil
	}

	s.lastEmit = now
	ticks := 0
	for _, t := range slice.Ticks {
		ticks += len(t)
	}
	custom := 0
	for _, c := range slice.Custom {
		custom += len(c)
	}
	metrics.ObserveSlice(ticks, len(slice.Bars), custom, len(slice.Universe))
	return slice, true, nil
}

func (s *Synchronizer) heartbeatDue(now time.Time) bool {
	if s.cfg.HeartbeatInterval <= 0 {
		return false
	}
	last := s.lastEmit
	if last.IsZero() {
		last = s.start
	}
	return now.Sub(last) >= s.cfg.HeartbeatInterval
}

// activeAdapters returns, in routing order, the adapters serving at least one
// subscription in snap.
func (s *Synchronizer) activeAdapters(snap []*subscription.Subscription) []source.Adapter {
	if s.adapters == nil {
		return nil
	}
	seen := make(map[source.Adapter]struct{})
	for _, sub := range snap {
		a, err := s.adapters.For(sub.Config)
		if err != nil {
			continue
		}
		seen[a] = struct{}{}
	}

	var out []source.Adapter
	for _, a := range s.adapters.Adapters() {
		if _, ok := seen[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// pull calls the adapter and turns errors and panics into an empty result.
func (s *Synchronizer) pull(ctx context.Context, a source.Adapter, now time.Time) (points []model.DataPoint) {
	defer func() {
		if r := recover(); r != nil {
			s.adapterFailed(&source.AdapterFetchError{Adapter: a.Name(), Err: fmt.Errorf("panic: %v", r)})
			points = nil
		}
	}()

	points, err := a.GetNextData(ctx, now)
	if err != nil {
		var ferr *source.AdapterFetchError
		if !errors.As(err, &ferr) {
			ferr = &source.AdapterFetchError{Adapter: a.Name(), Err: err}
		}
		s.adapterFailed(ferr)
		return nil
	}
	return points
}

func (s *Synchronizer) adapterFailed(err *source.AdapterFetchError) {
	metrics.AdapterErrors.WithLabelValues(err.Adapter).Inc()
	s.logger.Warn("adapter failed, treating as empty", "adapter", err.Adapter, "err", err)
}

// route queues each point on the first subscription of its symbol whose
// config it matches. Points nobody subscribes to are dropped.
func (s *Synchronizer) route(bySymbol map[model.Symbol][]*subscription.Subscription, points []model.DataPoint) {
	dropped := 0
	for _, p := range points {
		matched := false
		for _, sub := range bySymbol[p.Symbol] {
			if p.Matches(sub.Config) {
				sub.Enqueue(p)
				matched = true
				break
			}
		}
		if !matched {
			dropped++
		}
	}
	metrics.Dropped("unsubscribed", dropped)
}
