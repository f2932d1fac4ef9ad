package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livefeed/internal/clock"
	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
)

// ErrDuplicateSubscription matches *DuplicateSubscriptionError via errors.Is.
var ErrDuplicateSubscription = errors.New("duplicate subscription")

// DuplicateSubscriptionError is returned when an equal config is already
// active.
type DuplicateSubscriptionError struct {
	Config model.SubscriptionConfig
}

func (e *DuplicateSubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s already exists", e.Config)
}

func (e *DuplicateSubscriptionError) Is(target error) bool {
	return target == ErrDuplicateSubscription
}

// Notifier is told about configs entering and leaving the collection.
// *source.Set satisfies it.
type Notifier interface {
	Subscribe(cfg model.SubscriptionConfig) error
	Unsubscribe(cfg model.SubscriptionConfig) error
}

// Collection is the concurrent set of active subscriptions.
type Collection struct {
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex // Guards byConfig and inflight
	byConfig map[model.SubscriptionConfig]*Subscription
	inflight map[model.SubscriptionConfig]chan struct{}
	snapshot atomic.Pointer[[]*Subscription]

	changesMu sync.Mutex
	changes   []model.SecurityChanges
}

// NewCollection creates an empty Collection. notifier may be nil.
func NewCollection(notifier Notifier, clk clock.Clock, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	c := &Collection{
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		byConfig: make(map[model.SubscriptionConfig]*Subscription),
		inflight: make(map[model.SubscriptionConfig]chan struct{}),
	}
	empty := []*Subscription{}
	c.snapshot.Store(&empty)
	return c
}

// Add registers cfg and notifies the adapter serving it. If the adapter
// rejects the config nothing is registered and its error is returned.
func (c *Collection) Add(cfg model.SubscriptionConfig) (*Subscription, error) {
	return c.AddAt(cfg, time.Time{})
}

// AddAt is Add with the mutation stamped at at. A zero at uses the
// collection clock.
func (c *Collection) AddAt(cfg model.SubscriptionConfig, at time.Time) (*Subscription, error) {
	done := c.reserve(cfg)
	defer done()

	if c.Contains(cfg) {
		return nil, &DuplicateSubscriptionError{Config: cfg}
	}

	// The adapter may talk to the vendor; mu is not held here.
	if c.notifier != nil {
		if err := c.notifier.Subscribe(cfg); err != nil {
			return nil, fmt.Errorf("add %s: %w", cfg.Symbol, err)
		}
	}

	if at.IsZero() {
		at = c.clock.Now()
	}
	sub := newSubscription(cfg, at)

	c.mu.Lock()
	c.byConfig[cfg] = sub
	c.publishLocked()
	c.mu.Unlock()

	if cfg.IsSecurity() {
		c.enqueue(model.SecurityChanges{Time: at, Added: []model.Symbol{cfg.Symbol}})
		metrics.SecurityChanges.WithLabelValues("added").Inc()
	}

	c.logger.Debug("subscription added", "symbol", cfg.Symbol.String(), "type", cfg.DataType, "id", sub.ID)
	return sub, nil
}

// Remove drops cfg. It returns false if cfg was not active. Points already
// pulled by the running step are still emitted.
func (c *Collection) Remove(cfg model.SubscriptionConfig) bool {
	return c.RemoveAt(cfg, time.Time{})
}

// RemoveAt is Remove with the mutation stamped at at. A zero at uses the
// collection clock.
func (c *Collection) RemoveAt(cfg model.SubscriptionConfig, at time.Time) bool {
	done := c.reserve(cfg)
	defer done()

	c.mu.Lock()
	sub, ok := c.byConfig[cfg]
	if !ok {
		c.mu.Unlock()
		return false
	}
	sub.removed.Store(true)
	delete(c.byConfig, cfg)
	c.publishLocked()
	c.mu.Unlock()

	if c.notifier != nil {
		if err := c.notifier.Unsubscribe(cfg); err != nil {
			c.logger.Warn("adapter unsubscribe failed", "symbol", cfg.Symbol.String(), "err", err)
		}
	}

	if cfg.IsSecurity() {
		if at.IsZero() {
			at = c.clock.Now()
		}
		c.enqueue(model.SecurityChanges{Time: at, Removed: []model.Symbol{cfg.Symbol}})
		metrics.SecurityChanges.WithLabelValues("removed").Inc()
	}

	c.logger.Debug("subscription removed", "symbol", cfg.Symbol.String(), "type", cfg.DataType, "id", sub.ID)
	return true
}

// reserve waits until no other Add or Remove of cfg is in flight and marks
// cfg busy. The returned func clears the mark.
func (c *Collection) reserve(cfg model.SubscriptionConfig) func() {
	for {
		c.mu.Lock()
		busy, ok := c.inflight[cfg]
		if !ok {
			ch := make(chan struct{})
			c.inflight[cfg] = ch
			c.mu.Unlock()
			return func() {
				c.mu.Lock()
				delete(c.inflight, cfg)
				c.mu.Unlock()
				close(ch)
			}
		}
		c.mu.Unlock()
		<-busy
	}
}

// publishLocked swaps in a fresh snapshot. Caller must hold mu.
func (c *Collection) publishLocked() {
	subs := make([]*Subscription, 0, len(c.byConfig))
	for _, s := range c.byConfig {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].AddedAt.Equal(subs[j].AddedAt) {
			return subs[i].AddedAt.Before(subs[j].AddedAt)
		}
		return subs[i].Config.String() < subs[j].Config.String()
	})
	c.snapshot.Store(&subs)
	metrics.ActiveSubscriptions.Set(float64(len(subs)))
}

func (c *Collection) enqueue(rec model.SecurityChanges) {
	c.changesMu.Lock()
	c.changes = append(c.changes, rec)
	c.changesMu.Unlock()
}

// Snapshot returns the active subscriptions. The slice must not be modified.
func (c *Collection) Snapshot() []*Subscription {
	return *c.snapshot.Load()
}

// DrainChanges removes and returns, in order, every pending record stamped at
// or before upTo.
func (c *Collection) DrainChanges(upTo time.Time) []model.SecurityChanges {
	c.changesMu.Lock()
	defer c.changesMu.Unlock()

	if len(c.changes) == 0 {
		return nil
	}

	var out []model.SecurityChanges
	keep := c.changes[:0]
	for _, rec := range c.changes {
		if rec.Time.After(upTo) {
			keep = append(keep, rec)
		} else {
			out = append(out, rec)
		}
	}
	c.changes = keep
	return out
}

// PendingChanges returns the number of records not yet drained.
func (c *Collection) PendingChanges() int {
	c.changesMu.Lock()
	defer c.changesMu.Unlock()
	return len(c.changes)
}

// Contains reports whether cfg is active.
func (c *Collection) Contains(cfg model.SubscriptionConfig) bool {
	_, ok := c.Get(cfg)
	return ok
}

// Get returns the active subscription for cfg.
func (c *Collection) Get(cfg model.SubscriptionConfig) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.byConfig[cfg]
	return sub, ok
}

// Len returns the number of active subscriptions.
func (c *Collection) Len() int {
	return len(c.Snapshot())
}

// Symbols returns the distinct symbols of active security subscriptions.
func (c *Collection) Symbols() []model.Symbol {
	seen := make(map[model.Symbol]struct{})
	var out []model.Symbol
	for _, s := range c.Snapshot() {
		if !s.Config.IsSecurity() {
			continue
		}
		if _, ok := seen[s.Config.Symbol]; ok {
			continue
		}
		seen[s.Config.Symbol] = struct{}{}
		out = append(out, s.Config.Symbol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Close removes every subscription without queuing security changes.
func (c *Collection) Close() {
	c.mu.Lock()
	closed := make([]model.SubscriptionConfig, 0, len(c.byConfig))
	for cfg, sub := range c.byConfig {
		sub.removed.Store(true)
		closed = append(closed, cfg)
		delete(c.byConfig, cfg)
	}
	c.publishLocked()
	c.mu.Unlock()

	if c.notifier == nil {
		return
	}
	for _, cfg := range closed {
		if err := c.notifier.Unsubscribe(cfg); err != nil {
			c.logger.Warn("adapter unsubscribe failed", "symbol", cfg.Symbol.String(), "err", err)
		}
	}
}
