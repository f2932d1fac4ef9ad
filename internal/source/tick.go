package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
)

// Transport is the vendor side of a push-style source. It is told when a
// Symbol gains its first subscriber and loses its last.
type Transport interface {
	Subscribe(symbols []model.Symbol) error
	Unsubscribe(symbols []model.Symbol) error
}

// TickSourceConfig holds TickSource configuration.
type TickSourceConfig struct {
	Name          string
	BufferSize    int // Initial buffer capacity
	MaxBufferSize int // Oldest points are overwritten beyond this
}

// DefaultTickSourceConfig returns sensible defaults.
func DefaultTickSourceConfig() TickSourceConfig {
	return TickSourceConfig{
		Name:          "ticks",
		BufferSize:    10_000,
		MaxBufferSize: 1_000_000,
	}
}

// TickSource is a push-style adapter: producers call Push, the synchronizer
// drains everything pushed since its previous poll.
type TickSource struct {
	cfg    TickSourceConfig
	logger *slog.Logger
	buf    *Buffer[model.DataPoint]

	mu        sync.RWMutex
	refs      map[model.Symbol]int
	configs   map[model.SubscriptionConfig]struct{}
	transport Transport

	lastOverwritten int64 // Touched only by GetNextData
}

// NewTickSource creates a TickSource.
func NewTickSource(cfg TickSourceConfig, logger *slog.Logger) *TickSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "ticks"
	}
	return &TickSource{
		cfg:     cfg,
		logger:  logger.With("adapter", cfg.Name),
		buf:     NewBuffer[model.DataPoint](cfg.BufferSize, cfg.MaxBufferSize),
		refs:    make(map[model.Symbol]int),
		configs: make(map[model.SubscriptionConfig]struct{}),
	}
}

// SetTransport attaches the vendor transport. Symbols already subscribed are
// forwarded immediately.
func (s *TickSource) SetTransport(t Transport) error {
	s.mu.Lock()
	s.transport = t
	symbols := s.symbolsLocked()
	s.mu.Unlock()

	if t == nil || len(symbols) == 0 {
		return nil
	}
	return t.Subscribe(symbols)
}

// Name returns the adapter name.
func (s *TickSource) Name() string {
	return s.cfg.Name
}

// Accepts serves tick and bar subscriptions.
func (s *TickSource) Accepts(cfg model.SubscriptionConfig) bool {
	if cfg.IsUniverse {
		return false
	}
	return cfg.DataType == model.DataTick || cfg.DataType == model.DataTradeBar
}

// Subscribe reference-counts symbols and forwards newly subscribed ones to the
// transport. On transport failure the whole call is rolled back.
func (s *TickSource) Subscribe(cfgs []model.SubscriptionConfig) error {
	s.mu.Lock()
	var added []model.SubscriptionConfig
	var newSymbols []model.Symbol
	for _, cfg := range cfgs {
		if _, ok := s.configs[cfg]; ok {
			continue
		}
		s.configs[cfg] = struct{}{}
		added = append(added, cfg)
		s.refs[cfg.Symbol]++
		if s.refs[cfg.Symbol] == 1 {
			newSymbols = append(newSymbols, cfg.Symbol)
		}
	}
	t := s.transport
	s.mu.Unlock()

	if t == nil || len(newSymbols) == 0 {
		return nil
	}

	if err := t.Subscribe(newSymbols); err != nil {
		s.mu.Lock()
		for _, cfg := range added {
			s.releaseLocked(cfg)
		}
		s.mu.Unlock()
		return fmt.Errorf("transport subscribe: %w", err)
	}

	s.logger.Debug("symbols subscribed", "count", len(newSymbols))
	return nil
}

// Unsubscribe releases configs and tells the transport about symbols that lost
// their last subscriber. Local state is released even if the transport fails.
func (s *TickSource) Unsubscribe(cfgs []model.SubscriptionConfig) error {
	s.mu.Lock()
	var gone []model.Symbol
	for _, cfg := range cfgs {
		if _, ok := s.configs[cfg]; !ok {
			continue
		}
		if s.releaseLocked(cfg) {
			gone = append(gone, cfg.Symbol)
		}
	}
	t := s.transport
	s.mu.Unlock()

	if t == nil || len(gone) == 0 {
		return nil
	}
	if err := t.Unsubscribe(gone); err != nil {
		return fmt.Errorf("transport unsubscribe: %w", err)
	}

	s.logger.Debug("symbols unsubscribed", "count", len(gone))
	return nil
}

// releaseLocked drops cfg and reports whether its Symbol lost its last
// subscriber. Caller must hold the write lock.
func (s *TickSource) releaseLocked(cfg model.SubscriptionConfig) bool {
	delete(s.configs, cfg)
	s.refs[cfg.Symbol]--
	if s.refs[cfg.Symbol] <= 0 {
		delete(s.refs, cfg.Symbol)
		return true
	}
	return false
}

// Push enqueues a point from a producer. Points for symbols nobody subscribes
// to are dropped and false is returned.
func (s *TickSource) Push(d model.DataPoint) bool {
	if !s.IsSubscribed(d.Symbol) {
		metrics.Dropped("unsubscribed", 1)
		return false
	}
	return s.buf.Send(d)
}

// GetNextData drains everything pushed since the previous call. Points whose
// symbol was unsubscribed after being pushed are filtered out.
func (s *TickSource) GetNextData(_ context.Context, _ time.Time) ([]model.DataPoint, error) {
	if stats := s.buf.Stats(); stats.Overwritten > s.lastOverwritten {
		lost := stats.Overwritten - s.lastOverwritten
		s.lastOverwritten = stats.Overwritten
		metrics.Dropped("overflow", int(lost))
		s.logger.Warn("tick buffer overflowed, oldest points dropped", "dropped", lost)
	}

	points := s.buf.DrainTo(0)
	if len(points) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := points[:0]
	dropped := 0
	for _, p := range points {
		if _, ok := s.refs[p.Symbol]; ok {
			out = append(out, p)
		} else {
			dropped++
		}
	}
	metrics.Dropped("unsubscribed", dropped)
	return out, nil
}

// IsSubscribed reports whether any config for sym is subscribed.
func (s *TickSource) IsSubscribed(sym model.Symbol) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refs[sym]
	return ok
}

// SubscribedSymbols returns the subscribed symbols sorted by String.
func (s *TickSource) SubscribedSymbols() []model.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbolsLocked()
}

func (s *TickSource) symbolsLocked() []model.Symbol {
	out := make([]model.Symbol, 0, len(s.refs))
	for sym := range s.refs {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Stats returns buffer statistics.
func (s *TickSource) Stats() BufferStats {
	return s.buf.Stats()
}

// Close stops accepting pushes.
func (s *TickSource) Close() error {
	s.buf.Close()
	return nil
}
