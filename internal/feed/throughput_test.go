package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
)

const (
	benchSymbols       = 600
	minTicksPerSecond  = 70_000
	ticksPerSymbolTest = 200
)

func benchSymbolSet(n int) []model.Symbol {
	out := make([]model.Symbol, n)
	for i := range out {
		out[i] = model.NewSymbol(fmt.Sprintf("SYN%04d", i), "usa", model.SecurityEquity)
	}
	return out
}

// runSynthetic pushes perSymbol ticks for every symbol from one producer per
// 100 symbols and returns how long the loop took to emit all of them.
func runSynthetic(tb testing.TB, symbols []model.Symbol, perSymbol int) time.Duration {
	tb.Helper()

	ticks := source.NewTickSource(source.TickSourceConfig{
		Name:          "synthetic",
		BufferSize:    len(symbols) * perSymbol,
		MaxBufferSize: len(symbols) * perSymbol * 2,
	}, nil)
	r := New(Config{TickInterval: time.Millisecond, SliceBuffer: 4096}, nil, nil)
	if err := r.Initialize(ticks); err != nil {
		tb.Fatalf("Initialize failed: %v", err)
	}
	for _, sym := range symbols {
		if err := r.AddSubscription(tradeConfig(sym)); err != nil {
			tb.Fatalf("AddSubscription failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	total := len(symbols) * perSymbol
	received := make(chan time.Time, 1)
	go func() {
		n := 0
		for s := range r.Slices() {
			for _, tt := range s.Ticks {
				n += len(tt)
			}
			if n >= total {
				received <- time.Now()
				break
			}
		}
		for range r.Slices() {
		}
	}()

	price := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	start := time.Now()

	var wg sync.WaitGroup
	for lo := 0; lo < len(symbols); lo += 100 {
		hi := min(lo+100, len(symbols))
		wg.Add(1)
		go func(batch []model.Symbol) {
			defer wg.Done()
			for i := 0; i < perSymbol; i++ {
				now := time.Now()
				for _, sym := range batch {
					ticks.Push(model.NewTradeTick(sym, now, price, qty))
				}
			}
		}(symbols[lo:hi])
	}
	wg.Wait()

	var end time.Time
	select {
	case end = <-received:
	case <-time.After(30 * time.Second):
		tb.Fatalf("timed out waiting for %d ticks", total)
	}

	r.Exit()
	<-done
	return end.Sub(start)
}

func TestRunner_SyntheticThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput test skipped in short mode")
	}

	symbols := benchSymbolSet(benchSymbols)
	elapsed := runSynthetic(t, symbols, ticksPerSymbolTest)

	total := benchSymbols * ticksPerSymbolTest
	rate := float64(total) / elapsed.Seconds()
	t.Logf("%d ticks across %d symbols in %v (%.0f ticks/s)", total, benchSymbols, elapsed, rate)
	if rate < minTicksPerSecond {
		t.Errorf("throughput = %.0f ticks/s, want >= %d", rate, minTicksPerSecond)
	}
}

func BenchmarkRunner_600Symbols(b *testing.B) {
	symbols := benchSymbolSet(benchSymbols)
	for i := 0; i < b.N; i++ {
		elapsed := runSynthetic(b, symbols, 50)
		b.ReportMetric(float64(benchSymbols*50)/elapsed.Seconds(), "ticks/s")
	}
}
