package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/livefeed/internal/model"
)

var (
	spy = model.NewSymbol("SPY", "usa", model.SecurityEquity)
	qqq = model.NewSymbol("QQQ", "usa", model.SecurityEquity)
	t0  = time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
)

func tickConfig(sym model.Symbol, tt model.TickType) model.SubscriptionConfig {
	return model.SubscriptionConfig{Symbol: sym, DataType: model.DataTick, Resolution: model.ResolutionTick, TickType: tt}
}

func trade(sym model.Symbol, at time.Time) model.DataPoint {
	return model.NewTradeTick(sym, at, decimal.NewFromInt(100), decimal.NewFromInt(1))
}

// mockTransport records subscribe/unsubscribe calls.
type mockTransport struct {
	mu           sync.Mutex
	subscribed   []model.Symbol
	unsubscribed []model.Symbol
	failNext     error
}

func (m *mockTransport) Subscribe(symbols []model.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.subscribed = append(m.subscribed, symbols...)
	return nil
}

func (m *mockTransport) Unsubscribe(symbols []model.Symbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, symbols...)
	return nil
}

func TestTickSource_Accepts(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)

	tests := []struct {
		name string
		cfg  model.SubscriptionConfig
		want bool
	}{
		{"tick", model.SubscriptionConfig{Symbol: spy, DataType: model.DataTick}, true},
		{"bar", model.SubscriptionConfig{Symbol: spy, DataType: model.DataTradeBar}, true},
		{"custom", model.SubscriptionConfig{Symbol: spy, DataType: model.DataCustom}, false},
		{"universe", model.SubscriptionConfig{Symbol: spy, DataType: model.DataTick, IsUniverse: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Accepts(tt.cfg); got != tt.want {
				t.Errorf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickSource_PushRequiresSubscription(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)

	if s.Push(trade(spy, t0)) {
		t.Error("Push for unsubscribed symbol should return false")
	}

	if err := s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade)}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !s.Push(trade(spy, t0)) {
		t.Error("Push for subscribed symbol should return true")
	}

	points, err := s.GetNextData(context.Background(), t0)
	if err != nil {
		t.Fatalf("GetNextData failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}

	points, _ = s.GetNextData(context.Background(), t0)
	if len(points) != 0 {
		t.Errorf("second GetNextData returned %d points, want 0", len(points))
	}
}

func TestTickSource_ReferenceCountsSymbols(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)
	transport := &mockTransport{}
	if err := s.SetTransport(transport); err != nil {
		t.Fatalf("SetTransport failed: %v", err)
	}

	tradeCfg := tickConfig(spy, model.TickTrade)
	quoteCfg := tickConfig(spy, model.TickQuote)

	s.Subscribe([]model.SubscriptionConfig{tradeCfg})
	s.Subscribe([]model.SubscriptionConfig{quoteCfg})

	if len(transport.subscribed) != 1 {
		t.Errorf("transport subscribed %d times, want 1", len(transport.subscribed))
	}

	s.Unsubscribe([]model.SubscriptionConfig{tradeCfg})
	if !s.IsSubscribed(spy) {
		t.Error("SPY should stay subscribed while the quote config remains")
	}
	if len(transport.unsubscribed) != 0 {
		t.Errorf("transport unsubscribed %d times, want 0", len(transport.unsubscribed))
	}

	s.Unsubscribe([]model.SubscriptionConfig{quoteCfg})
	if s.IsSubscribed(spy) {
		t.Error("SPY should be unsubscribed after its last config")
	}
	if len(transport.unsubscribed) != 1 || transport.unsubscribed[0] != spy {
		t.Errorf("transport unsubscribed = %v, want [SPY]", transport.unsubscribed)
	}
}

func TestTickSource_TransportFailureRollsBack(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)
	transport := &mockTransport{failNext: errors.New("socket closed")}
	s.SetTransport(transport)

	err := s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade)})
	if err == nil {
		t.Fatal("expected Subscribe to fail")
	}
	if s.IsSubscribed(spy) {
		t.Error("failed Subscribe should not leave SPY subscribed")
	}

	// A retry succeeds and reaches the transport.
	if err := s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade)}); err != nil {
		t.Fatalf("retry Subscribe failed: %v", err)
	}
	if len(transport.subscribed) != 1 {
		t.Errorf("transport subscribed %d symbols, want 1", len(transport.subscribed))
	}
}

func TestTickSource_SetTransportForwardsExisting(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)
	s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade), tickConfig(qqq, model.TickTrade)})

	transport := &mockTransport{}
	if err := s.SetTransport(transport); err != nil {
		t.Fatalf("SetTransport failed: %v", err)
	}

	if len(transport.subscribed) != 2 {
		t.Errorf("transport subscribed %d symbols, want 2", len(transport.subscribed))
	}
}

func TestTickSource_FiltersUnsubscribedAfterPush(t *testing.T) {
	s := NewTickSource(DefaultTickSourceConfig(), nil)
	s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade), tickConfig(qqq, model.TickTrade)})

	s.Push(trade(spy, t0))
	s.Push(trade(qqq, t0))
	s.Unsubscribe([]model.SubscriptionConfig{tickConfig(qqq, model.TickTrade)})

	points, _ := s.GetNextData(context.Background(), t0)
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	if points[0].Symbol != spy {
		t.Errorf("points[0].Symbol = %v, want SPY", points[0].Symbol)
	}

	got := s.SubscribedSymbols()
	if len(got) != 1 || got[0] != spy {
		t.Errorf("SubscribedSymbols() = %v, want [SPY]", got)
	}
}

func TestTickSource_OverflowDropsOldest(t *testing.T) {
	s := NewTickSource(TickSourceConfig{Name: "small", BufferSize: 4, MaxBufferSize: 8}, nil)
	s.Subscribe([]model.SubscriptionConfig{tickConfig(spy, model.TickTrade)})

	for i := 0; i < 20; i++ {
		s.Push(trade(spy, t0.Add(time.Duration(i)*time.Millisecond)))
	}

	points, _ := s.GetNextData(context.Background(), t0)
	if len(points) != 8 {
		t.Fatalf("len(points) = %d, want 8", len(points))
	}
	if want := t0.Add(12 * time.Millisecond); !points[0].Time.Equal(want) {
		t.Errorf("oldest surviving point at %v, want %v", points[0].Time, want)
	}
}
