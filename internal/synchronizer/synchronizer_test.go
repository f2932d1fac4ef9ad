package synchronizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/livefeed/internal/clock"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
	"github.com/rickgao/livefeed/internal/subscription"
	"github.com/rickgao/livefeed/internal/universe"
)

var (
	spy  = model.NewSymbol("SPY", "usa", model.SecurityEquity)
	aapl = model.NewSymbol("AAPL", "usa", model.SecurityEquity)
	top  = model.NewSymbol("TOP", "usa", model.SecurityBase)
	t0   = time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
)

func tradeConfig(sym model.Symbol) model.SubscriptionConfig {
	return model.SubscriptionConfig{Symbol: sym, DataType: model.DataTick, TickType: model.TickTrade}
}

func trade(sym model.Symbol, at time.Time) model.DataPoint {
	return model.NewTradeTick(sym, at, decimal.NewFromInt(100), decimal.NewFromInt(1))
}

type fixture struct {
	clock *clock.Manual
	ticks *source.TickSource
	subs  *subscription.Collection
	sync  *Synchronizer
}

func newFixture(cfg Config, extra ...source.Adapter) *fixture {
	clk := clock.NewManual(t0)
	ticks := source.NewTickSource(source.DefaultTickSourceConfig(), nil)
	set := source.NewSet(append([]source.Adapter{ticks}, extra...)...)
	subs := subscription.NewCollection(set, clk, nil)
	return &fixture{
		clock: clk,
		ticks: ticks,
		subs:  subs,
		sync:  New(cfg, subs, set, clk, nil),
	}
}

func (f *fixture) step(t *testing.T) (model.TimeSlice, bool) {
	t.Helper()
	slice, ok, err := f.sync.Step(context.Background())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return slice, ok
}

func TestStep_EmitsTicksAndChanges(t *testing.T) {
	f := newFixture(Config{})
	f.subs.Add(tradeConfig(spy))
	f.ticks.Push(trade(spy, t0))
	f.ticks.Push(trade(spy, t0))

	slice, ok := f.step(t)
	if !ok {
		t.Fatal("expected a slice")
	}
	if !slice.Time.Equal(t0) {
		t.Errorf("Time = %v, want %v", slice.Time, t0)
	}
	if got := len(slice.Ticks[spy]); got != 2 {
		t.Errorf("len(Ticks[SPY]) = %d, want 2", got)
	}
	if len(slice.Changes) != 1 || slice.Changes[0].Added[0] != spy {
		t.Errorf("Changes = %+v, want SPY added", slice.Changes)
	}
}

func TestStep_NeverRepeatsTime(t *testing.T) {
	f := newFixture(Config{})
	f.subs.Add(tradeConfig(spy))

	if _, ok := f.step(t); !ok {
		t.Fatal("first step should emit the change")
	}

	// Clock has not moved: data waits for the next tick.
	f.ticks.Push(trade(spy, t0))
	if _, ok := f.step(t); ok {
		t.Fatal("step at an already emitted time should not emit")
	}

	f.clock.Advance(time.Second)
	slice, ok := f.step(t)
	if !ok {
		t.Fatal("expected a slice after the clock moved")
	}
	if !slice.Time.After(t0) {
		t.Errorf("Time = %v, want after %v", slice.Time, t0)
	}
}

func TestStep_GracePeriod(t *testing.T) {
	f := newFixture(Config{GracePeriod: 2 * time.Second})
	f.subs.Add(tradeConfig(spy))
	f.ticks.Push(trade(spy, t0))

	if _, ok := f.step(t); ok {
		t.Fatal("step inside the grace period should not emit")
	}
	f.clock.Advance(time.Second)
	if _, ok := f.step(t); ok {
		t.Fatal("step inside the grace period should not emit")
	}
	f.clock.Advance(time.Second)
	slice, ok := f.step(t)
	if !ok || len(slice.Ticks[spy]) != 1 {
		t.Fatalf("step after the grace period = %+v, %v; want one SPY tick", slice, ok)
	}
}

func TestStep_HoldsFuturePoints(t *testing.T) {
	f := newFixture(Config{})
	f.subs.Add(tradeConfig(spy))
	f.step(t)

	f.clock.Advance(time.Second)
	f.ticks.Push(trade(spy, t0.Add(5*time.Second)))
	if slice, ok := f.step(t); ok && len(slice.Ticks[spy]) > 0 {
		t.Fatal("future tick should not be released early")
	}

	f.clock.Set(t0.Add(5 * time.Second))
	slice, ok := f.step(t)
	if !ok || len(slice.Ticks[spy]) != 1 {
		t.Fatalf("tick at its end time = %+v, %v; want one SPY tick", slice, ok)
	}
}

func TestStep_RemovedSymbolNotEmitted(t *testing.T) {
	f := newFixture(Config{})
	f.subs.Add(tradeConfig(spy))
	f.subs.Add(tradeConfig(aapl))
	f.step(t)

	f.ticks.Push(trade(spy, t0))
	f.ticks.Push(trade(aapl, t0))
	f.subs.Remove(tradeConfig(aapl))

	f.clock.Advance(time.Second)
	slice, ok := f.step(t)
	if !ok {
		t.Fatal("expected a slice")
	}
	if slice.Contains(aapl) {
		t.Error("removed symbol should not be in the slice")
	}
	if !slice.Contains(spy) {
		t.Error("SPY should be in the slice")
	}
	net := slice.NetChanges()
	if len(net.Removed) != 1 || net.Removed[0] != aapl {
		t.Errorf("NetChanges = %+v, want AAPL removed", net)
	}
	if f.ticks.IsSubscribed(aapl) {
		t.Error("adapter should no longer hold AAPL")
	}
}

func TestStep_TickTypeRouting(t *testing.T) {
	f := newFixture(Config{})
	f.subs.Add(tradeConfig(spy))

	f.ticks.Push(trade(spy, t0))
	f.ticks.Push(model.NewQuoteTick(spy, t0, decimal.NewFromInt(99), decimal.NewFromInt(101), decimal.NewFromInt(1), decimal.NewFromInt(1)))

	slice, _ := f.step(t)
	if got := len(slice.Ticks[spy]); got != 1 {
		t.Fatalf("len(Ticks[SPY]) = %d, want 1", got)
	}
	if slice.Ticks[spy][0].TickType != model.TickTrade {
		t.Errorf("TickType = %s, want trade", slice.Ticks[spy][0].TickType)
	}
}

func TestStep_Heartbeat(t *testing.T) {
	f := newFixture(Config{HeartbeatInterval: 10 * time.Second})
	f.subs.Add(tradeConfig(spy))
	f.step(t)

	f.clock.Advance(5 * time.Second)
	if _, ok := f.step(t); ok {
		t.Fatal("empty step before the heartbeat should not emit")
	}
	f.clock.Advance(5 * time.Second)
	slice, ok := f.step(t)
	if !ok {
		t.Fatal("heartbeat slice expected")
	}
	if slice.HasData() {
		t.Error("heartbeat slice should be empty")
	}
}

// panicAdapter accepts custom data and panics when polled.
type panicAdapter struct{ calls atomic.Int32 }

func (a *panicAdapter) Name() string { return "panicky" }
func (a *panicAdapter) Accepts(cfg model.SubscriptionConfig) bool {
	return cfg.DataType == model.DataCustom
}
func (a *panicAdapter) Subscribe([]model.SubscriptionConfig) error   { return nil }
func (a *panicAdapter) Unsubscribe([]model.SubscriptionConfig) error { return nil }
func (a *panicAdapter) GetNextData(context.Context, time.Time) ([]model.DataPoint, error) {
	a.calls.Add(1)
	panic("vendor exploded")
}

// errAdapter accepts bars and always fails.
type errAdapter struct{}

func (errAdapter) Name() string { return "broken" }
func (errAdapter) Accepts(cfg model.SubscriptionConfig) bool {
	return cfg.DataType == model.DataTradeBar
}
func (errAdapter) Subscribe([]model.SubscriptionConfig) error   { return nil }
func (errAdapter) Unsubscribe([]model.SubscriptionConfig) error { return nil }
func (errAdapter) GetNextData(context.Context, time.Time) ([]model.DataPoint, error) {
	return nil, errors.New("connection refused")
}

func TestStep_AdapterFailureIsolated(t *testing.T) {
	bad := &panicAdapter{}
	clk := clock.NewManual(t0)
	ticks := source.NewTickSource(source.DefaultTickSourceConfig(), nil)
	set := source.NewSet(bad, errAdapter{}, ticks)
	subs := subscription.NewCollection(set, clk, nil)
	s := New(Config{}, subs, set, clk, nil)

	subs.Add(model.SubscriptionConfig{Symbol: aapl, DataType: model.DataCustom})
	subs.Add(model.SubscriptionConfig{Symbol: aapl, DataType: model.DataTradeBar, Resolution: model.ResolutionMinute})
	subs.Add(tradeConfig(spy))
	ticks.Push(trade(spy, t0))

	slice, ok, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !ok || len(slice.Ticks[spy]) != 1 {
		t.Fatalf("slice = %+v, want SPY tick despite failing adapters", slice)
	}
	if bad.calls.Load() != 1 {
		t.Errorf("panicking adapter calls = %d, want 1", bad.calls.Load())
	}
}

func TestStep_SkipsIdleAdapters(t *testing.T) {
	bad := &panicAdapter{}
	f := newFixture(Config{}, bad)
	f.subs.Add(tradeConfig(spy))
	f.step(t)

	if bad.calls.Load() != 0 {
		t.Errorf("adapter without subscriptions polled %d times", bad.calls.Load())
	}
}

func TestStep_DeduplicatesBars(t *testing.T) {
	f := newFixture(Config{})
	cfg := model.SubscriptionConfig{Symbol: spy, DataType: model.DataTradeBar, Resolution: model.ResolutionSecond}
	f.subs.Add(cfg)
	f.step(t)

	one := decimal.NewFromInt(1)
	bar := model.NewTradeBar(spy, t0, time.Second, one, one, one, one, one)

	f.clock.Advance(time.Second)
	f.ticks.Push(bar)
	slice, ok := f.step(t)
	if !ok {
		t.Fatal("expected a slice")
	}
	if _, has := slice.Bars[spy]; !has {
		t.Fatal("bar should be emitted")
	}

	f.clock.Advance(time.Second)
	f.ticks.Push(bar)
	if slice, ok := f.step(t); ok && slice.Contains(spy) {
		t.Error("replayed bar should be dropped")
	}
}

func TestStep_QueuesSecondDueBar(t *testing.T) {
	f := newFixture(Config{})
	cfg := model.SubscriptionConfig{Symbol: spy, DataType: model.DataTradeBar, Resolution: model.ResolutionSecond}
	f.subs.Add(cfg)
	f.step(t)

	one := decimal.NewFromInt(1)
	f.ticks.Push(model.NewTradeBar(spy, t0, time.Second, one, one, one, one, one))
	f.ticks.Push(model.NewTradeBar(spy, t0.Add(time.Second), time.Second, one, one, one, one, one))
	f.clock.Advance(3 * time.Second)

	var ends []time.Time
	for i := 0; i < 5; i++ {
		if slice, ok := f.step(t); ok {
			if bar, has := slice.Bars[spy]; has {
				ends = append(ends, bar.EndTime)
			}
		}
		f.clock.Advance(time.Second)
	}

	if len(ends) != 2 {
		t.Fatalf("bars emitted = %d, want 2", len(ends))
	}
	if !ends[0].Equal(t0.Add(time.Second)) || !ends[1].Equal(t0.Add(2*time.Second)) {
		t.Errorf("bar end times = %v, want %v then %v", ends, t0.Add(time.Second), t0.Add(2*time.Second))
	}
}

// creepingClock moves forward a millisecond every time it is read.
type creepingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *creepingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(time.Millisecond)
	return now
}

func TestStep_ChangesNeverLaterThanSlice(t *testing.T) {
	clk := &creepingClock{now: t0}
	universes := source.NewUniverseSource(source.DefaultUniverseSourceConfig(), nil, nil)
	defer universes.Close()
	ticks := source.NewTickSource(source.DefaultTickSourceConfig(), nil)
	set := source.NewSet(ticks, universes)
	subs := subscription.NewCollection(set, clk, nil)
	synch := New(Config{}, subs, set, clk, nil)
	applier := universe.NewApplier(subs, nil)
	synch.SetSelectionHandler(applier)

	if err := applier.AddUniverse(universe.Universe{Symbol: top, Resolution: model.ResolutionDaily}); err != nil {
		t.Fatalf("AddUniverse failed: %v", err)
	}
	if err := universes.Publish(top, []model.Symbol{spy}, t0); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	slice, ok, err := synch.Step(context.Background())
	if err != nil || !ok {
		t.Fatalf("Step() = %v, %v; want a slice", ok, err)
	}
	added := 0
	for _, c := range slice.Changes {
		if c.Time.After(slice.Time) {
			t.Errorf("change at %v attached to earlier slice %v", c.Time, slice.Time)
		}
		added += len(c.Added)
	}
	if added != 1 {
		t.Errorf("added = %d, want SPY in the selection slice", added)
	}
}

// recordingHandler adds each selected member to the collection.
type recordingHandler struct {
	subs  *subscription.Collection
	calls int
}

func (h *recordingHandler) OnSelection(p model.DataPoint) (model.SecurityChanges, error) {
	h.calls++
	var out model.SecurityChanges
	for _, m := range p.Members {
		if _, err := h.subs.Add(tradeConfig(m)); err == nil {
			out.Added = append(out.Added, m)
		}
	}
	return out, nil
}

func TestStep_SelectionChangesLandInSameSlice(t *testing.T) {
	universes := source.NewUniverseSource(source.DefaultUniverseSourceConfig(), nil, nil)
	defer universes.Close()
	f := newFixture(Config{}, universes)
	h := &recordingHandler{subs: f.subs}
	f.sync.SetSelectionHandler(h)

	f.subs.Add(model.SubscriptionConfig{Symbol: top, DataType: model.DataUniverse, Resolution: model.ResolutionDaily, IsUniverse: true})
	if err := universes.Publish(top, []model.Symbol{spy, aapl}, t0); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	slice, ok := f.step(t)
	if !ok {
		t.Fatal("expected a slice")
	}
	if h.calls != 1 {
		t.Errorf("handler calls = %d, want 1", h.calls)
	}
	if _, has := slice.Universe[top]; !has {
		t.Error("slice should carry the selection payload")
	}
	net := slice.NetChanges()
	if len(net.Added) != 2 {
		t.Errorf("NetChanges().Added = %v, want SPY and AAPL", net.Added)
	}
}

func TestStep_CancelledContext(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := f.sync.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Step error = %v, want context.Canceled", err)
	}
}
