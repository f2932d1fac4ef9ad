package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// Errors
var (
	ErrNoAdapter     = errors.New("no adapter accepts subscription")
	ErrNotSubscribed = errors.New("not subscribed")
)

// Adapter is the uniform pull contract over a data producer.
type Adapter interface {
	// Name identifies the adapter in logs and metrics.
	Name() string

	// Accepts reports whether this adapter serves subscriptions with cfg.
	Accepts(cfg model.SubscriptionConfig) bool

	// Subscribe registers interest in cfgs.
	Subscribe(cfgs []model.SubscriptionConfig) error

	// Unsubscribe withdraws interest in cfgs. Unknown configs are ignored.
	Unsubscribe(cfgs []model.SubscriptionConfig) error

	// GetNextData returns the points that became available since the last
	// call. It must not block on slow producers and may return nothing.
	GetNextData(ctx context.Context, now time.Time) ([]model.DataPoint, error)
}

// AdapterFetchError reports a failed fetch. The engine treats it as "no data
// this interval".
type AdapterFetchError struct {
	Adapter string
	Symbol  model.Symbol // Zero when the whole adapter call failed
	Err     error
}

func (e *AdapterFetchError) Error() string {
	if e.Symbol.IsZero() {
		return fmt.Sprintf("adapter %s: fetch failed: %v", e.Adapter, e.Err)
	}
	return fmt.Sprintf("adapter %s: fetch %s failed: %v", e.Adapter, e.Symbol, e.Err)
}

func (e *AdapterFetchError) Unwrap() error {
	return e.Err
}

// Set routes subscriptions to adapters. The first adapter that accepts a
// config serves it.
type Set struct {
	adapters []Adapter
}

// NewSet creates a Set. Order matters: earlier adapters win.
func NewSet(adapters ...Adapter) *Set {
	return &Set{adapters: adapters}
}

// Adapters returns the adapters in routing order.
func (s *Set) Adapters() []Adapter {
	out := make([]Adapter, len(s.adapters))
	copy(out, s.adapters)
	return out
}

// For returns the adapter serving cfg.
func (s *Set) For(cfg model.SubscriptionConfig) (Adapter, error) {
	for _, a := range s.adapters {
		if a.Accepts(cfg) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAdapter, cfg)
}

// Subscribe notifies the adapter serving cfg.
func (s *Set) Subscribe(cfg model.SubscriptionConfig) error {
	a, err := s.For(cfg)
	if err != nil {
		return err
	}
	if err := a.Subscribe([]model.SubscriptionConfig{cfg}); err != nil {
		return fmt.Errorf("%s subscribe %s: %w", a.Name(), cfg.Symbol, err)
	}
	return nil
}

// Unsubscribe notifies the adapter serving cfg.
func (s *Set) Unsubscribe(cfg model.SubscriptionConfig) error {
	a, err := s.For(cfg)
	if err != nil {
		return err
	}
	if err := a.Unsubscribe([]model.SubscriptionConfig{cfg}); err != nil {
		return fmt.Errorf("%s unsubscribe %s: %w", a.Name(), cfg.Symbol, err)
	}
	return nil
}
