package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livefeed/internal/auth"
	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
)

// Sink receives parsed data points. *source.TickSource satisfies it.
type Sink interface {
	Push(d model.DataPoint) bool
}

// Stream is the vendor tick transport. It implements source.Transport.
type Stream struct {
	cfg    StreamConfig
	creds  *auth.Credentials
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	client  Client
	symbols map[model.Symbol]struct{}
	started bool
	closed  bool

	nextID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received   atomic.Int64
	pushed     atomic.Int64
	rejected   atomic.Int64
	badFrames  atomic.Int64
	reconnects atomic.Int64
}

// NewStream creates a Stream. creds may be nil for unauthenticated feeds.
func NewStream(cfg StreamConfig, creds *auth.Credentials, sink Sink, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:     cfg,
		creds:   creds,
		sink:    sink,
		logger:  logger,
		symbols: make(map[model.Symbol]struct{}),
	}
}

// Start connects and begins reading. A failed first connect is retried in
// the background like any later disconnect.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	err := s.connect()
	if err != nil {
		s.logger.Warn("initial connect failed, will retry", "url", s.cfg.URL, "err", err)
	}

	s.wg.Add(1)
	go s.run(err != nil)

	return nil
}

// Stop closes the connection and waits for the read loop.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	c := s.client
	s.mu.Unlock()

	if c != nil {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("tick stream stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds symbols and sends a subscribe command if connected.
// Symbols subscribed while disconnected are sent on reconnect.
func (s *Stream) Subscribe(symbols []model.Symbol) error {
	return s.update(ActionSubscribe, symbols)
}

// Unsubscribe drops symbols and sends an unsubscribe command if connected.
func (s *Stream) Unsubscribe(symbols []model.Symbol) error {
	return s.update(ActionUnsubscribe, symbols)
}

func (s *Stream) update(action string, symbols []model.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	for _, sym := range symbols {
		if action == ActionSubscribe {
			s.symbols[sym] = struct{}{}
		} else {
			delete(s.symbols, sym)
		}
	}
	c := s.client
	s.mu.Unlock()

	if c == nil || !c.IsConnected() {
		return nil
	}
	if err := s.send(c, action, symbols); err != nil {
		// The read loop sees the broken connection and resubscribes.
		s.logger.Warn("send command failed", "action", action, "count", len(symbols), "err", err)
	}
	return nil
}

func (s *Stream) send(c Client, action string, symbols []model.Symbol) error {
	cmd := Command{
		ID:      s.nextID.Add(1),
		Action:  action,
		Symbols: make([]string, len(symbols)),
	}
	for i, sym := range symbols {
		cmd.Symbols[i] = sym.String()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.Send(data)
}

// Symbols returns the symbols the stream is subscribed to.
func (s *Stream) Symbols() []model.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbolsLocked()
}

func (s *Stream) symbolsLocked() []model.Symbol {
	out := make([]model.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsConnected reports whether the current connection is up.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	return c != nil && c.IsConnected()
}

// Stats returns stream counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	n := len(s.symbols)
	s.mu.Unlock()
	return StreamStats{
		Connected:  s.IsConnected(),
		Symbols:    n,
		Received:   s.received.Load(),
		Pushed:     s.pushed.Load(),
		Rejected:   s.rejected.Load(),
		BadFrames:  s.badFrames.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// connect dials a fresh client and resubscribes every live symbol.
func (s *Stream) connect() error {
	cfg := ClientConfig{
		URL:          s.cfg.URL,
		PingInterval: s.cfg.PingInterval,
		PingTimeout:  s.cfg.PingTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BufferSize:   s.cfg.BufferSize,
	}
	if s.creds != nil {
		u, err := url.Parse(s.cfg.URL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		h, err := s.creds.SignRequest("GET", u.Path)
		if err != nil {
			return fmt.Errorf("sign handshake: %w", err)
		}
		cfg.Header = h
	}

	c := NewClient(cfg, s.logger)
	if err := c.Connect(s.ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return ErrAlreadyClosed
	}
	s.client = c
	symbols := s.symbolsLocked()
	s.mu.Unlock()

	if len(symbols) > 0 {
		if err := s.send(c, ActionSubscribe, symbols); err != nil {
			c.Close()
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	s.logger.Info("tick stream connected", "url", s.cfg.URL, "symbols", len(symbols))
	return nil
}

// run reads the current connection and reconnects when it fails.
func (s *Stream) run(needReconnect bool) {
	defer s.wg.Done()

	for {
		if needReconnect && !s.reconnect() {
			return
		}

		s.mu.Lock()
		c := s.client
		s.mu.Unlock()

		if !s.readLoop(c) {
			return
		}
		needReconnect = true
	}
}

// readLoop consumes c until it fails. It returns false on shutdown.
func (s *Stream) readLoop(c Client) bool {
	for {
		select {
		case <-s.ctx.Done():
			return false

		case err := <-c.Errors():
			s.logger.Warn("tick stream connection error", "err", err)
			c.Close()
			return true

		case msg := <-c.Messages():
			s.handle(msg)
		}
	}
}

func (s *Stream) handle(msg TimestampedMessage) {
	s.received.Add(1)

	dp, ok, err := ParseMessage(msg.Data)
	if err != nil {
		s.badFrames.Add(1)
		s.logger.Debug("bad frame", "err", err)
		return
	}
	if !ok {
		return
	}

	if s.sink.Push(dp) {
		s.pushed.Add(1)
	} else {
		s.rejected.Add(1)
	}
}

// reconnect retries connect with exponential backoff and jitter. It returns
// false if the stream was stopped first.
func (s *Stream) reconnect() bool {
	wait := s.cfg.ReconnectBaseWait
	if wait <= 0 {
		wait = time.Second
	}
	maxWait := s.cfg.ReconnectMaxWait
	if maxWait < wait {
		maxWait = wait
	}

	for attempt := 1; ; attempt++ {
		// Jitter: wait * (0.5 to 1.5)
		jitter := wait/2 + time.Duration(rand.Int63n(int64(wait)))

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(jitter):
		}

		s.reconnects.Add(1)
		metrics.StreamReconnects.Inc()
		s.logger.Info("attempting reconnection", "attempt", attempt)

		err := s.connect()
		if err == nil {
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}

		s.logger.Warn("reconnection failed", "attempt", attempt, "err", err)

		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}
