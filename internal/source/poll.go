package source

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
)

// fetchFunc fetches points for one subscription newer than since.
type fetchFunc func(ctx context.Context, cfg model.SubscriptionConfig, since, now time.Time) ([]model.DataPoint, error)

// pollEntry is the polling state of one subscription.
type pollEntry struct {
	cfg       model.SubscriptionConfig
	nextDue   time.Time
	inFlight  bool
	highWater time.Time // EndTime of the newest accepted point
	ready     []model.DataPoint
}

// pollGroup schedules independent, asynchronous fetches per subscription.
// A slow fetch only delays its own subscription: due entries launch a
// goroutine and collect never waits on it.
type pollGroup struct {
	name     string
	minEvery time.Duration
	timeout  time.Duration
	fetch    fetchFunc
	sem      *semaphore.Weighted
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[model.SubscriptionConfig]*pollEntry
}

func newPollGroup(name string, minEvery, timeout time.Duration, concurrency int, fetch fetchFunc, logger *slog.Logger) *pollGroup {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &pollGroup{
		name:     name,
		minEvery: minEvery,
		timeout:  timeout,
		fetch:    fetch,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[model.SubscriptionConfig]*pollEntry),
	}
}

// add registers configs. New entries are due immediately.
func (g *pollGroup) add(cfgs []model.SubscriptionConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cfg := range cfgs {
		if _, ok := g.entries[cfg]; !ok {
			g.entries[cfg] = &pollEntry{cfg: cfg}
		}
	}
}

// remove drops configs. Results of fetches still in flight are discarded.
func (g *pollGroup) remove(cfgs []model.SubscriptionConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cfg := range cfgs {
		delete(g.entries, cfg)
	}
}

func (g *pollGroup) has(cfg model.SubscriptionConfig) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[cfg]
	return ok
}

func (g *pollGroup) configs() []model.SubscriptionConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.SubscriptionConfig, 0, len(g.entries))
	for cfg := range g.entries {
		out = append(out, cfg)
	}
	return out
}

// push offers points to the entry for cfg as if a fetch returned them.
func (g *pollGroup) push(cfg model.SubscriptionConfig, points []model.DataPoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[cfg]
	if !ok {
		return false
	}
	g.acceptLocked(e, points)
	return true
}

// interval returns how often cfg is re-fetched.
func (g *pollGroup) interval(cfg model.SubscriptionConfig) time.Duration {
	d := cfg.Resolution.Duration()
	if d < g.minEvery {
		d = g.minEvery
	}
	return d
}

// collect returns every point that completed since the previous call and
// launches fetches for due entries that are not already in flight.
func (g *pollGroup) collect(now time.Time) []model.DataPoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []model.DataPoint
	for _, e := range g.entries {
		if len(e.ready) > 0 {
			out = append(out, e.ready...)
			e.ready = nil
		}

		if g.fetch == nil || e.inFlight || now.Before(e.nextDue) {
			continue
		}
		if g.ctx.Err() != nil {
			continue
		}

		e.inFlight = true
		e.nextDue = now.Add(g.interval(e.cfg))
		g.wg.Add(1)
		go g.run(e, e.highWater, now)
	}
	return out
}

// run performs one fetch for e.
func (g *pollGroup) run(e *pollEntry, since, now time.Time) {
	defer g.wg.Done()

	if err := g.sem.Acquire(g.ctx, 1); err != nil {
		g.finish(e, nil, nil)
		return
	}
	defer g.sem.Release(1)

	ctx := g.ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(g.ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	points, err := g.fetch(ctx, e.cfg, since, now)
	metrics.ObserveFetch(g.name, time.Since(start), err)

	if err != nil {
		if g.ctx.Err() == nil {
			ferr := &AdapterFetchError{Adapter: g.name, Symbol: e.cfg.Symbol, Err: err}
			g.logger.Warn("fetch failed, treating as empty", "symbol", e.cfg.Symbol.String(), "err", ferr)
		}
		g.finish(e, nil, err)
		return
	}
	g.finish(e, points, nil)
}

// finish stores fetch results unless the entry was removed meanwhile.
func (g *pollGroup) finish(e *pollEntry, points []model.DataPoint, _ error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e.inFlight = false
	if g.entries[e.cfg] != e {
		return
	}
	g.acceptLocked(e, points)
}

// acceptLocked appends points newer than the entry's high-water mark.
// Caller must hold the lock.
func (g *pollGroup) acceptLocked(e *pollEntry, points []model.DataPoint) {
	if len(points) == 0 {
		return
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].EndTime.Before(points[j].EndTime) })

	dup, foreign := 0, 0
	for _, p := range points {
		if p.Symbol != e.cfg.Symbol {
			foreign++
			continue
		}
		if !e.highWater.IsZero() && !p.EndTime.After(e.highWater) {
			dup++
			continue
		}
		e.highWater = p.EndTime
		e.ready = append(e.ready, p)
	}
	metrics.Dropped("duplicate", dup)
	metrics.Dropped("unsubscribed", foreign)
}

// close cancels fetches in flight and waits for them to return.
func (g *pollGroup) close() {
	// Cancel under the lock so collect cannot launch after Wait starts.
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
	g.wg.Wait()
}
